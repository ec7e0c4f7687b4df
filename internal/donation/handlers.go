package donation

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sahara-drive/donation-portal/internal/checkout"
	"github.com/sahara-drive/donation-portal/internal/config"
	log "github.com/sirupsen/logrus"
)

// DonationHandler serves the landing page and the donor checkout API.
type DonationHandler struct {
	current   func() *config.Config
	checkouts *CheckoutStore
	gateway   *WebGateway
	scripts   *checkout.ScriptRegistry
	logger    *DonationLogger
}

// NewDonationHandler creates a new donation handler with all dependencies.
func NewDonationHandler(
	current func() *config.Config,
	checkouts *CheckoutStore,
	gateway *WebGateway,
	scripts *checkout.ScriptRegistry,
	logger *DonationLogger,
) *DonationHandler {
	return &DonationHandler{
		current:   current,
		checkouts: checkouts,
		gateway:   gateway,
		scripts:   scripts,
		logger:    logger,
	}
}

func (h *DonationHandler) publicConfig() PublicConfig {
	cfg := h.current()
	return PublicConfig{
		GatewayKey:       cfg.Gateway.KeyID,
		TurnstileSiteKey: cfg.Turnstile.SiteKey,
		ButtonID:         cfg.Gateway.ButtonID,
		Currency:         cfg.Gateway.Currency,
		PresetAmounts:    append([]int64(nil), cfg.Gateway.PresetAmounts...),
		CampaignOver:     cfg.CampaignOver,
	}
}

// HandleIndexPage handles GET / - serves the landing page.
func (h *DonationHandler) HandleIndexPage(c *gin.Context) {
	cfg := h.current()
	data := indexPageData{
		Title:        cfg.Gateway.MerchantName,
		Config:       h.publicConfig(),
		CampaignOver: cfg.CampaignOver,
		Closing:      CampaignOverMessage,
	}
	if !cfg.CampaignOver {
		ctx := c.Request.Context()
		_ = h.scripts.Load(ctx, cfg.Turnstile.ScriptURL)
		_ = h.scripts.Load(ctx, cfg.Gateway.ScriptURL)
		data.Scripts = h.scripts.Sources()
	}

	var buf bytes.Buffer
	if err := renderIndexPage(&buf, data); err != nil {
		log.WithError(err).Error("failed to render index page")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to render page",
		})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// HandleConfig handles GET /api/config.
func (h *DonationHandler) HandleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.publicConfig())
}

// HandleHealth handles GET /healthz.
func (h *DonationHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// controller returns the caller's checkout, creating one on first use.
func (h *DonationHandler) controller(c *gin.Context) *checkout.Controller {
	id, _ := c.Cookie(CheckoutCookieName)
	ctrl, created := h.checkouts.GetOrCreate(id)
	if created {
		setCheckoutCookie(c, ctrl.ID(), int(config.DefaultCheckoutTTL.Seconds()))
	}
	return ctrl
}

func (h *DonationHandler) view(ctrl *checkout.Controller) CheckoutView {
	cfg := h.current()
	return newCheckoutView(ctrl.Snapshot(), cfg.Gateway.Currency, cfg.Location())
}

func (h *DonationHandler) respond(c *gin.Context, ctrl *checkout.Controller, err error) {
	if err == nil {
		c.JSON(http.StatusOK, h.view(ctrl))
		return
	}

	var validation *checkout.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "validation_failed",
			"field":    validation.Field,
			"message":  validation.Message,
			"checkout": h.view(ctrl),
		})
	case errors.Is(err, checkout.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":    "invalid_transition",
			"message":  err.Error(),
			"checkout": h.view(ctrl),
		})
	case errors.Is(err, checkout.ErrInProgress):
		c.JSON(http.StatusConflict, gin.H{
			"error":    "in_progress",
			"message":  err.Error(),
			"checkout": h.view(ctrl),
		})
	case errors.Is(err, checkout.ErrOrderFailed):
		view := h.view(ctrl)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "order_failed",
			"message":  view.Message,
			"checkout": view,
		})
	case errors.Is(err, ErrUnknownSession):
		c.JSON(http.StatusConflict, gin.H{
			"error":    "no_open_session",
			"message":  err.Error(),
			"checkout": h.view(ctrl),
		})
	default:
		h.logger.LogError("checkout", err, map[string]interface{}{"checkout_id": ctrl.ID()})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "unexpected checkout error",
		})
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": message,
	})
}

// HandleGetCheckout handles GET /api/checkout.
func (h *DonationHandler) HandleGetCheckout(c *gin.Context) {
	h.respond(c, h.controller(c), nil)
}

// HandleSelectAmount handles POST /api/checkout/amount with {amount} or {custom}.
func (h *DonationHandler) HandleSelectAmount(c *gin.Context) {
	var req struct {
		Amount *int64  `json:"amount"`
		Custom *string `json:"custom"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || (req.Amount == nil && req.Custom == nil) {
		badRequest(c, "amount or custom is required")
		return
	}
	ctrl := h.controller(c)
	var err error
	if req.Custom != nil {
		err = ctrl.SetCustomAmount(*req.Custom)
	} else {
		err = ctrl.SelectAmount(*req.Amount)
	}
	h.respond(c, ctrl, err)
}

// HandleConfirmAmount handles POST /api/checkout/amount/confirm.
func (h *DonationHandler) HandleConfirmAmount(c *gin.Context) {
	ctrl := h.controller(c)
	h.respond(c, ctrl, ctrl.ConfirmAmount(c.Request.Context()))
}

// HandleDetails handles POST /api/checkout/details.
func (h *DonationHandler) HandleDetails(c *gin.Context) {
	var req struct {
		Name   string `json:"name"`
		Email  string `json:"email"`
		Mobile string `json:"mobile"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name, email and mobile must be strings")
		return
	}
	ctrl := h.controller(c)
	h.respond(c, ctrl, ctrl.SetDetails(req.Name, req.Email, req.Mobile))
}

// HandleCaptcha handles POST /api/checkout/captcha with {token}, {expired} or {error}.
func (h *DonationHandler) HandleCaptcha(c *gin.Context) {
	var req struct {
		Token   string `json:"token"`
		Expired bool   `json:"expired"`
		Error   bool   `json:"error"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid captcha payload")
		return
	}
	ctrl := h.controller(c)
	var err error
	switch {
	case req.Expired:
		err = ctrl.ExpireCaptcha()
	case req.Error:
		err = ctrl.CaptchaError()
	default:
		err = ctrl.VerifyCaptcha(req.Token)
	}
	h.respond(c, ctrl, err)
}

// HandleStartPayment handles POST /api/checkout/start. On success the body
// carries the options the browser passes to the hosted checkout.
func (h *DonationHandler) HandleStartPayment(c *gin.Context) {
	ctrl := h.controller(c)
	opts, err := ctrl.StartPayment(c.Request.Context())
	if err != nil {
		h.respond(c, ctrl, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"options":  opts,
		"checkout": h.view(ctrl),
	})
}

// checkoutOrderID resolves the order a gateway callback refers to. The browser may
// omit it; it must otherwise match the checkout's own order.
func checkoutOrderID(ctrl *checkout.Controller, reported string) (string, bool) {
	snap := ctrl.Snapshot()
	if snap.Order == nil {
		return "", false
	}
	if reported != "" && reported != snap.Order.ID {
		return "", false
	}
	return snap.Order.ID, true
}

// HandleGatewaySuccess handles POST /api/checkout/gateway/success.
func (h *DonationHandler) HandleGatewaySuccess(c *gin.Context) {
	var req struct {
		OrderID   string `json:"razorpay_order_id"`
		PaymentID string `json:"razorpay_payment_id"`
		Signature string `json:"razorpay_signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.PaymentID == "" {
		badRequest(c, "razorpay_payment_id is required")
		return
	}
	ctrl := h.controller(c)
	orderID, ok := checkoutOrderID(ctrl, req.OrderID)
	if !ok {
		h.respond(c, ctrl, ErrUnknownSession)
		return
	}
	err := h.gateway.Complete(c.Request.Context(), orderID, checkout.GatewaySuccess{
		OrderID:   orderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	h.respond(c, ctrl, err)
}

// HandleGatewayFailure handles POST /api/checkout/gateway/failure.
func (h *DonationHandler) HandleGatewayFailure(c *gin.Context) {
	var req struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		PaymentID   string `json:"payment_id"`
		OrderID     string `json:"order_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid failure payload")
		return
	}
	ctrl := h.controller(c)
	orderID, ok := checkoutOrderID(ctrl, req.OrderID)
	if !ok {
		h.respond(c, ctrl, ErrUnknownSession)
		return
	}
	err := h.gateway.Fail(c.Request.Context(), orderID, checkout.GatewayFailure{
		Code:        req.Code,
		Description: req.Description,
		PaymentID:   req.PaymentID,
		OrderID:     orderID,
	})
	h.respond(c, ctrl, err)
}

// HandleGatewayDismiss handles POST /api/checkout/gateway/dismiss.
func (h *DonationHandler) HandleGatewayDismiss(c *gin.Context) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	_ = c.ShouldBindJSON(&req)
	ctrl := h.controller(c)
	orderID, ok := checkoutOrderID(ctrl, req.OrderID)
	if !ok {
		h.respond(c, ctrl, ErrUnknownSession)
		return
	}
	h.respond(c, ctrl, h.gateway.Dismiss(c.Request.Context(), orderID))
}

// HandleTryAgain handles POST /api/checkout/try-again.
func (h *DonationHandler) HandleTryAgain(c *gin.Context) {
	ctrl := h.controller(c)
	h.respond(c, ctrl, ctrl.TryAgain(c.Request.Context()))
}

// HandleDonateAgain handles POST /api/checkout/donate-again.
func (h *DonationHandler) HandleDonateAgain(c *gin.Context) {
	ctrl := h.controller(c)
	h.respond(c, ctrl, ctrl.DonateAgain(c.Request.Context()))
}

// HandleChangeAmount handles POST /api/checkout/change-amount.
func (h *DonationHandler) HandleChangeAmount(c *gin.Context) {
	ctrl := h.controller(c)
	h.respond(c, ctrl, ctrl.ChangeAmount(c.Request.Context()))
}
