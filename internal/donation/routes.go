package donation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sahara-drive/donation-portal/internal/checkout"
	"github.com/sahara-drive/donation-portal/internal/config"
	"github.com/sahara-drive/donation-portal/internal/notify"
	"github.com/sahara-drive/donation-portal/internal/transactions"
	sdkaccess "github.com/sahara-drive/donation-portal/sdk/access"
	log "github.com/sirupsen/logrus"
)

// Dependencies are the services the module is built on.
type Dependencies struct {
	Orders       checkout.OrderBackend
	Transactions *transactions.Service
	Access       *sdkaccess.Manager
	// Hub streams refresh notifications; nil disables the websocket route.
	Hub *notify.Hub
	// Hooks observe checkout transitions in addition to the module's own logger.
	Hooks []checkout.TransitionHook
}

// DonationModule holds all donation-related services and handlers.
type DonationModule struct {
	cfg atomic.Pointer[config.Config]

	handler          *DonationHandler
	dashboardHandler *DashboardHandler
	sessionStore     *SessionStore
	checkoutStore    *CheckoutStore
	gateway          *WebGateway
	scripts          *checkout.ScriptRegistry
	logger           *DonationLogger
	deps             Dependencies
}

// NewDonationModule creates a new donation module with all dependencies.
func NewDonationModule(cfg *config.Config, deps Dependencies) *DonationModule {
	m := &DonationModule{
		gateway: NewWebGateway(),
		scripts: checkout.NewScriptRegistry(),
		logger:  NewDonationLogger(),
		deps:    deps,
	}
	m.cfg.Store(cfg)

	m.sessionStore = NewSessionStore(deps.Transactions, cfg.Dashboard.SessionTTL)
	m.checkoutStore = NewCheckoutStore(config.DefaultCheckoutTTL, m.newController)
	m.handler = NewDonationHandler(m.Config, m.checkoutStore, m.gateway, m.scripts, m.logger)
	m.dashboardHandler = NewDashboardHandler(m.Config, m.sessionStore, deps.Access, deps.Transactions, deps.Hub, m.logger)
	return m
}

// Config returns the configuration currently in effect.
func (m *DonationModule) Config() *config.Config {
	return m.cfg.Load()
}

// UpdateConfig swaps the configuration. Checkouts already in progress keep
// the settings they started with.
func (m *DonationModule) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	m.cfg.Store(cfg)
}

// Sessions returns the dashboard session store.
func (m *DonationModule) Sessions() *SessionStore {
	return m.sessionStore
}

func (m *DonationModule) newController(id string) *checkout.Controller {
	cfg := m.Config()
	hooks := append([]checkout.TransitionHook{m.logger.TransitionHook()}, m.deps.Hooks...)
	return checkout.NewController(id, checkout.Options{
		Backend:      m.deps.Orders,
		Gateway:      m.gateway,
		Scripts:      m.scripts,
		GatewayKey:   cfg.Gateway.KeyID,
		ScriptURL:    cfg.Gateway.ScriptURL,
		Currency:     cfg.Gateway.Currency,
		MerchantName: cfg.Gateway.MerchantName,
		Description:  cfg.Gateway.Description,
		ThemeColor:   cfg.Gateway.ThemeColor,
		OnTransition: func(ctx context.Context, t checkout.Transition) {
			for _, hook := range hooks {
				hook(ctx, t)
			}
		},
	})
}

func (m *DonationModule) campaignOver() bool {
	return m.Config().CampaignOver
}

// RegisterRoutes registers all donation-related routes on the given engine.
func (m *DonationModule) RegisterRoutes(engine *gin.Engine) {
	// Public routes
	engine.GET("/", m.handler.HandleIndexPage)
	engine.GET("/healthz", m.handler.HandleHealth)
	engine.GET("/api/config", m.handler.HandleConfig)

	// Checkout routes, closed once the campaign is over
	api := engine.Group("/api/checkout")
	api.Use(CampaignGuard(m.campaignOver))
	{
		api.GET("", m.handler.HandleGetCheckout)
		api.POST("/amount", m.handler.HandleSelectAmount)
		api.POST("/amount/confirm", m.handler.HandleConfirmAmount)
		api.POST("/details", m.handler.HandleDetails)
		api.POST("/captcha", m.handler.HandleCaptcha)
		api.POST("/start", m.handler.HandleStartPayment)
		api.POST("/gateway/success", m.handler.HandleGatewaySuccess)
		api.POST("/gateway/failure", m.handler.HandleGatewayFailure)
		api.POST("/gateway/dismiss", m.handler.HandleGatewayDismiss)
		api.POST("/try-again", m.handler.HandleTryAgain)
		api.POST("/donate-again", m.handler.HandleDonateAgain)
		api.POST("/change-amount", m.handler.HandleChangeAmount)
	}

	// Dashboard routes
	dashboard := engine.Group("/dashboard")
	{
		dashboard.POST("/login", m.dashboardHandler.HandleLogin)
		dashboard.POST("/logout", m.dashboardHandler.HandleLogout)
		dashboard.GET("/status", m.dashboardHandler.HandleStatus)
	}

	protected := dashboard.Group("")
	protected.Use(AuthMiddleware(m.sessionStore))
	{
		protected.GET("/transactions", m.dashboardHandler.HandleTransactions)
		protected.POST("/transactions/:orderId/refresh", m.dashboardHandler.HandleRefresh)
		protected.GET("/stats", m.dashboardHandler.HandleStats)
		protected.GET("/top", m.dashboardHandler.HandleTopPayments)
		protected.GET("/recent", m.dashboardHandler.HandleRecentPayments)
		protected.GET("/ws", m.dashboardHandler.HandleWebSocket)
	}

	log.Info("Donation routes registered")
}

// RunJanitor drops expired dashboard sessions, idle checkouts and abandoned
// gateway sessions every interval until ctx is done.
func (m *DonationModule) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sessions, checkouts, pending := m.sweep(now)
			if sessions+checkouts+pending > 0 {
				log.WithFields(log.Fields{
					"sessions":  sessions,
					"checkouts": checkouts,
					"gateway":   pending,
					"live":      m.checkoutStore.Len(),
				}).Debug("expired donation state removed")
			}
		}
	}
}

// sweep removes expired state as of now. A checkout waiting on the hosted
// checkout is never expired, and neither is its gateway session.
func (m *DonationModule) sweep(now time.Time) (sessions, checkouts, pending int) {
	awaited := make(map[string]bool)
	sessions = m.sessionStore.Cleanup()
	checkouts = m.checkoutStore.Cleanup(now, func(ctrl *checkout.Controller) bool {
		snap := ctrl.Snapshot()
		if !snap.AwaitingGateway || snap.Order == nil || !m.gateway.Open(snap.Order.ID) {
			return false
		}
		awaited[snap.Order.ID] = true
		return true
	})
	pending = m.gateway.Cleanup(now.Add(-config.DefaultCheckoutTTL), func(orderID string) bool {
		return awaited[orderID]
	})
	return sessions, checkouts, pending
}
