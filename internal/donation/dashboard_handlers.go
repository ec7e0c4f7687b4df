package donation

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sahara-drive/donation-portal/internal/backend"
	"github.com/sahara-drive/donation-portal/internal/config"
	"github.com/sahara-drive/donation-portal/internal/display"
	"github.com/sahara-drive/donation-portal/internal/notify"
	"github.com/sahara-drive/donation-portal/internal/transactions"
	sdkaccess "github.com/sahara-drive/donation-portal/sdk/access"
	log "github.com/sirupsen/logrus"
)

const (
	msgInvalidAccessKey = "Invalid access key. Please try again."
	msgKeyNotConfigured = "Dashboard access key not configured. Contact administrator."
)

// DashboardHandler serves the access-key gated transactions dashboard.
type DashboardHandler struct {
	current  func() *config.Config
	sessions *SessionStore
	access   *sdkaccess.Manager
	svc      *transactions.Service
	hub      *notify.Hub
	logger   *DonationLogger
}

// NewDashboardHandler creates a dashboard handler. hub may be nil, which disables /dashboard/ws.
func NewDashboardHandler(
	current func() *config.Config,
	sessions *SessionStore,
	access *sdkaccess.Manager,
	svc *transactions.Service,
	hub *notify.Hub,
	logger *DonationLogger,
) *DashboardHandler {
	return &DashboardHandler{
		current:  current,
		sessions: sessions,
		access:   access,
		svc:      svc,
		hub:      hub,
		logger:   logger,
	}
}

// HandleLogin handles POST /dashboard/login - exchanges an access key for a session.
func (h *DashboardHandler) HandleLogin(c *gin.Context) {
	var req struct {
		AccessKey string `json:"access_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "access_key is required")
		return
	}

	result, err := h.access.Authenticate(c.Request.Context(), sdkaccess.Credential{Key: req.AccessKey, Source: "login"})
	if err != nil {
		h.logger.LogLogin(c.ClientIP(), "", err)
		switch {
		case errors.Is(err, sdkaccess.ErrNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "not_configured",
				"message": msgKeyNotConfigured,
			})
		case errors.Is(err, sdkaccess.ErrNoCredentials), errors.Is(err, sdkaccess.ErrInvalidCredential):
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_access_key",
				"message": msgInvalidAccessKey,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "failed to check access key",
			})
		}
		return
	}

	session, err := h.sessions.Create(result.Provider)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard session")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "session_failed",
			"message": "failed to create session",
		})
		return
	}
	SetSessionCookie(c, session.ID, int(h.sessions.TTL().Seconds()))
	h.logger.LogLogin(c.ClientIP(), result.Provider, nil)

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"authenticated": true,
		"expires_at":    session.ExpiresAt,
	})
}

// HandleLogout handles POST /dashboard/logout - destroys the session and clears the cookie.
func (h *DashboardHandler) HandleLogout(c *gin.Context) {
	if sessionID, err := c.Cookie(SessionCookieName); err == nil && sessionID != "" {
		h.sessions.Delete(sessionID)
		h.logger.LogLogout(c.ClientIP())
	}
	ClearSessionCookie(c)

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "logged out successfully",
	})
}

// HandleStatus handles GET /dashboard/status (public).
func (h *DashboardHandler) HandleStatus(c *gin.Context) {
	authenticated := false
	if sessionID, err := c.Cookie(SessionCookieName); err == nil && sessionID != "" {
		authenticated = h.sessions.Get(sessionID) != nil
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": authenticated,
		"configured":    h.access.Configured(),
	})
}

func fetchFailed(c *gin.Context, err error, extra gin.H) {
	body := gin.H{
		"error":   "fetch_failed",
		"message": err.Error(),
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusBadGateway, body)
}

// HandleTransactions handles GET /dashboard/transactions?page=&status=&sort=&q=.
func (h *DashboardHandler) HandleTransactions(c *gin.Context) {
	session := GetSessionFromContext(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	status, err := transactions.ParseStatusFilter(c.Query("status"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	sort, err := transactions.ParseAmountSort(c.Query("sort"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	page := 1
	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil {
			badRequest(c, "page must be a number")
			return
		}
	}

	filters := transactions.Filters{Status: status, Sort: sort, Query: c.Query("q")}
	view, err := session.Dashboard.Load(c.Request.Context(), filters, page)
	result := newTransactionsPage(view, h.current().Location())
	if err != nil {
		fetchFailed(c, err, gin.H{"transactions": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleStats handles GET /dashboard/stats.
func (h *DashboardHandler) HandleStats(c *gin.Context) {
	stats, err := h.svc.FetchStatistics(c.Request.Context())
	if err != nil {
		fetchFailed(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, StatsView{
		Statistics:         *stats,
		TotalCapturedLabel: display.FormatAmount(stats.TotalCapturedAmountPaise, h.current().Gateway.Currency),
	})
}

// HandleTopPayments handles GET /dashboard/top.
func (h *DashboardHandler) HandleTopPayments(c *gin.Context) {
	rows, err := h.svc.FetchTopPayments(c.Request.Context())
	h.respondRows(c, rows, err)
}

// HandleRecentPayments handles GET /dashboard/recent.
func (h *DashboardHandler) HandleRecentPayments(c *gin.Context) {
	rows, err := h.svc.FetchRecentPayments(c.Request.Context())
	h.respondRows(c, rows, err)
}

func (h *DashboardHandler) respondRows(c *gin.Context, records []backend.TransactionRecord, err error) {
	if err != nil {
		fetchFailed(c, err, nil)
		return
	}
	loc := h.current().Location()
	rows := make([]TransactionRow, 0, len(records))
	for i, rec := range records {
		rows = append(rows, newTransactionRow(rec, i+1, loc))
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

// HandleRefresh handles POST /dashboard/transactions/:orderId/refresh.
func (h *DashboardHandler) HandleRefresh(c *gin.Context) {
	session := GetSessionFromContext(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	orderID := strings.TrimSpace(c.Param("orderId"))
	if orderID == "" {
		badRequest(c, "order id is required")
		return
	}

	row, notification, err := session.Dashboard.Refresh(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, transactions.ErrRowNotLoaded) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "row_not_loaded",
				"message": err.Error(),
			})
			return
		}
		fetchFailed(c, err, nil)
		return
	}
	h.logger.LogRefresh(notification)

	view := session.Dashboard.Current()
	serial := view.StartIndex + 1
	for i, rec := range view.Rows {
		if rec.OrderID == orderID {
			serial = view.StartIndex + i + 1
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"row":          newTransactionRow(row, serial, h.current().Location()),
		"notification": notification,
	})
}

// HandleWebSocket handles GET /dashboard/ws - streams refresh notifications.
func (h *DashboardHandler) HandleWebSocket(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "live notifications are disabled",
		})
		return
	}
	if err := h.hub.ServeWS(c.Writer, c.Request); err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
	}
}
