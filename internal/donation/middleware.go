package donation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// SessionCookieName is the name of the dashboard session cookie.
	SessionCookieName = "dashboard_session"
	// CheckoutCookieName identifies the donor's checkout.
	CheckoutCookieName = "checkout_id"
	// SessionContextKey is the key used to store the session in gin.Context.
	SessionContextKey = "dashboard_session"
)

// CampaignOverMessage is shown once the drive has closed.
const CampaignOverMessage = "This year's Sahara Donation Drive has successfully concluded. A huge thank you to everyone who contributed and supported our cause."

// AuthMiddleware creates a middleware that validates dashboard session tokens.
// If valid, the session is stored in the context for downstream handlers.
func AuthMiddleware(sessionStore *SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(SessionCookieName)
		if err != nil || sessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "session not found",
			})
			return
		}

		session := sessionStore.Get(sessionID)
		if session == nil {
			ClearSessionCookie(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid or expired session",
			})
			return
		}

		c.Set(SessionContextKey, session)
		c.Next()
	}
}

// CampaignGuard answers 410 Gone on checkout endpoints once the campaign is over.
func CampaignGuard(over func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if over() {
			c.AbortWithStatusJSON(http.StatusGone, gin.H{
				"error":   "campaign_over",
				"message": CampaignOverMessage,
			})
			return
		}
		c.Next()
	}
}

// GetSessionFromContext retrieves the session from the gin context.
// Returns nil if no session is found.
func GetSessionFromContext(c *gin.Context) *Session {
	value, exists := c.Get(SessionContextKey)
	if !exists {
		return nil
	}
	session, ok := value.(*Session)
	if !ok {
		return nil
	}
	return session
}

// SetSessionCookie sets the session cookie in the response.
func SetSessionCookie(c *gin.Context, sessionID string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookieName, sessionID, maxAge, "/", "", secureRequest(c), true)
}

// ClearSessionCookie clears the session cookie.
func ClearSessionCookie(c *gin.Context) {
	c.SetCookie(SessionCookieName, "", -1, "/", "", secureRequest(c), true)
}

func setCheckoutCookie(c *gin.Context, id string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CheckoutCookieName, id, maxAge, "/", "", secureRequest(c), true)
}

func secureRequest(c *gin.Context) bool {
	return c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
}
