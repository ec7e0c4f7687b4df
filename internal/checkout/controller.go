// Package checkout drives one donor through amount selection, detail entry,
// the hosted gateway checkout and server-side verification.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sahara-drive/donation-portal/internal/backend"
	log "github.com/sirupsen/logrus"
)

// OrderBackend creates orders and verifies captured payments.
type OrderBackend interface {
	CreateOrder(ctx context.Context, req backend.CreateOrderRequest) (*backend.Order, error)
	VerifyPayment(ctx context.Context, req backend.VerifyPaymentRequest) (*backend.VerifyPaymentResponse, error)
}

// Transition describes one recorded checkout event. From equals To for events
// that do not change the stage, such as order creation.
type Transition struct {
	CheckoutID string
	From       StageKind
	To         StageKind
	Event      string
	OrderID    string
	PaymentID  string
	Amount     int64
	Currency   string
	DonorName  string
	DonorEmail string
	Message    string
	At         time.Time
}

// TransitionHook observes transitions. It runs after the controller lock is released.
type TransitionHook func(ctx context.Context, t Transition)

// Options wires a Controller to its collaborators.
type Options struct {
	Backend OrderBackend
	Gateway Gateway
	Scripts ScriptLoader

	GatewayKey   string
	ScriptURL    string
	Currency     string
	MerchantName string
	Description  string
	ThemeColor   string

	Now          func() time.Time
	NewReceiptID func() string
	OnTransition TransitionHook
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	ID              string
	Stage           Stage
	Intent          Intent
	CaptchaVerified bool
	Message         string
	Order           *backend.Order
	Busy            bool
	AwaitingGateway bool
	SessionID       string
	UpdatedAt       time.Time
}

var errScriptLoad = errors.New("checkout script unavailable")

// Controller is the checkout state machine for one donor session.
type Controller struct {
	id   string
	opts Options

	mu          sync.Mutex
	stage       Stage
	intent      Intent
	message     string
	order       *backend.Order
	busy        bool
	sessionOpen bool
	session     SessionHandle
	pending     []Transition
	updatedAt   time.Time
}

// NewController returns a controller at the amount stage.
func NewController(id string, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewReceiptID == nil {
		opts.NewReceiptID = defaultReceiptID
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &Controller{id: id, opts: opts, stage: AmountStage{}, updatedAt: opts.Now()}
}

func defaultReceiptID() string {
	return "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// ID returns the checkout session id.
func (c *Controller) ID() string { return c.id }

// Stage returns the current stage.
func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Snapshot returns a copy of the current state. The captcha token itself is not exposed.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		ID:              c.id,
		Stage:           c.stage,
		Intent:          c.intent,
		CaptchaVerified: c.intent.CaptchaToken != "",
		Message:         c.message,
		Busy:            c.busy,
		AwaitingGateway: c.sessionOpen,
		SessionID:       c.session.ID,
		UpdatedAt:       c.updatedAt,
	}
	snap.Intent.CaptchaToken = ""
	if c.order != nil {
		order := *c.order
		snap.Order = &order
	}
	return snap
}

// UpdatedAt reports the time of the last state change.
func (c *Controller) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

// SelectAmount picks a preset amount in whole currency units. Negative or
// oversized amounts count as no selection.
func (c *Controller) SelectAmount(amount int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(StageAmount); err != nil {
		return err
	}
	if amount < 0 || amount > maxAmount {
		amount = 0
	}
	c.intent.Amount = amount
	c.message = ""
	c.touch()
	return nil
}

// SetCustomAmount parses a free-form amount, dropping anything but digits.
func (c *Controller) SetCustomAmount(raw string) error {
	return c.SelectAmount(ParseAmount(raw))
}

// ConfirmAmount moves to the details stage when an amount is chosen.
func (c *Controller) ConfirmAmount(ctx context.Context) error {
	c.mu.Lock()
	defer c.finish(ctx)
	if err := c.ready(StageAmount); err != nil {
		return err
	}
	if c.intent.Amount <= 0 {
		c.message = ErrAmountRequired.Message
		return ErrAmountRequired
	}
	c.message = ""
	c.moveTo(DetailsStage{}, "amount_confirmed")
	return nil
}

// SetDetails stores the donor details. The mobile number is reduced to digits.
func (c *Controller) SetDetails(name, email, mobile string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(StageDetails); err != nil {
		return err
	}
	c.intent.DonorName = strings.TrimSpace(name)
	c.intent.DonorEmail = strings.TrimSpace(email)
	c.intent.DonorMobile = DigitsOnly(mobile)
	c.message = ""
	c.touch()
	return nil
}

// VerifyCaptcha stores a token issued by the bot-verification widget.
func (c *Controller) VerifyCaptcha(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(StageDetails); err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrCaptchaRequired
	}
	c.intent.CaptchaToken = token
	c.message = ""
	c.touch()
	return nil
}

// ExpireCaptcha drops the token after the widget reports expiry.
func (c *Controller) ExpireCaptcha() error {
	return c.dropCaptcha(msgCaptchaExpired)
}

// CaptchaError drops the token after the widget reports an error.
func (c *Controller) CaptchaError() error {
	return c.dropCaptcha(msgCaptchaError)
}

func (c *Controller) dropCaptcha(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(StageDetails); err != nil {
		return err
	}
	c.intent.CaptchaToken = ""
	c.message = message
	c.touch()
	return nil
}

// StartPayment validates the intent, creates the order and opens a gateway
// session. Validation and order creation failures keep the details stage and
// set Message. The captcha token is single use and is cleared on every call.
func (c *Controller) StartPayment(ctx context.Context) (*SessionOptions, error) {
	c.mu.Lock()
	if err := c.ready(StageDetails); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.sessionOpen {
		c.mu.Unlock()
		return nil, ErrInProgress
	}
	intent := c.intent
	c.intent.CaptchaToken = ""
	c.touch()
	if err := intent.validate(c.opts.GatewayKey); err != nil {
		c.message = err.Error()
		c.mu.Unlock()
		return nil, err
	}
	c.message = ""
	c.busy = true
	c.mu.Unlock()

	order, err := c.createOrder(ctx, intent)

	c.mu.Lock()
	c.busy = false
	if err != nil {
		c.message = orderErrorMessage(err)
		c.record("order_failed", c.message)
		c.finish(ctx)
		return nil, fmt.Errorf("%w: %w", ErrOrderFailed, err)
	}
	if order.Amount <= 0 {
		order.Amount = intent.Subunits()
	}
	if order.Currency == "" {
		order.Currency = c.opts.Currency
	}
	c.order = order
	c.sessionOpen = true
	opts := c.sessionOptions(order, intent)
	c.record("order_created", "")
	c.finish(ctx)

	orderID := order.ID
	handle, err := c.opts.Gateway.CreateSession(ctx, opts, SessionCallbacks{
		OnSuccess: func(ctx context.Context, result GatewaySuccess) { c.handleSuccess(ctx, orderID, result) },
		OnFailure: func(ctx context.Context, failure GatewayFailure) { c.handleFailure(ctx, orderID, failure) },
		OnDismiss: func(ctx context.Context) { c.handleDismiss(ctx, orderID) },
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.awaiting(orderID) {
			c.sessionOpen = false
			c.message = msgSessionFailed
		}
		return nil, fmt.Errorf("%w: %w", ErrOrderFailed, err)
	}
	if c.awaiting(orderID) {
		c.session = handle
	}
	return &opts, nil
}

func (c *Controller) createOrder(ctx context.Context, intent Intent) (*backend.Order, error) {
	if c.opts.Scripts != nil {
		if err := c.opts.Scripts.Load(ctx, c.opts.ScriptURL); err != nil {
			return nil, fmt.Errorf("%w: %w", errScriptLoad, err)
		}
	}
	return c.opts.Backend.CreateOrder(ctx, backend.CreateOrderRequest{
		Amount:   intent.Subunits(),
		Currency: c.opts.Currency,
		Receipt:  c.opts.NewReceiptID(),
		Donor: backend.DonorContact{
			Name:    intent.DonorName,
			Email:   intent.DonorEmail,
			Contact: intent.DonorMobile,
		},
		TurnstileToken: intent.CaptchaToken,
	})
}

func orderErrorMessage(err error) string {
	if errors.Is(err, errScriptLoad) {
		return msgScriptFailed
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return msgOrderFallback
}

func (c *Controller) sessionOptions(order *backend.Order, intent Intent) SessionOptions {
	prefill := map[string]string{"name": intent.DonorName, "contact": intent.DonorMobile}
	if intent.DonorEmail != "" {
		prefill["email"] = intent.DonorEmail
	}
	opts := SessionOptions{
		Key:         c.opts.GatewayKey,
		Amount:      order.Amount,
		Currency:    order.Currency,
		OrderID:     order.ID,
		Name:        c.opts.MerchantName,
		Description: c.opts.Description,
		Prefill:     prefill,
	}
	if c.opts.ThemeColor != "" {
		opts.Theme = map[string]string{"color": c.opts.ThemeColor}
	}
	return opts
}

func (c *Controller) handleSuccess(ctx context.Context, orderID string, result GatewaySuccess) {
	c.mu.Lock()
	if !c.awaiting(orderID) {
		c.mu.Unlock()
		log.WithFields(log.Fields{"checkout_id": c.id, "order_id": orderID}).Warn("ignoring gateway success for a closed session")
		return
	}
	c.sessionOpen = false
	c.busy = true
	order := *c.order
	c.mu.Unlock()

	if result.OrderID == "" {
		result.OrderID = orderID
	}
	resp, err := c.opts.Backend.VerifyPayment(ctx, backend.VerifyPaymentRequest{
		OrderID:   result.OrderID,
		PaymentID: result.PaymentID,
		Signature: result.Signature,
	})

	c.mu.Lock()
	defer c.finish(ctx)
	c.busy = false
	if err != nil || resp == nil || !resp.Success {
		fields := log.Fields{"checkout_id": c.id, "order_id": result.OrderID, "payment_id": result.PaymentID}
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("payment verification failed")
		} else {
			log.WithFields(fields).Warn("payment verification was not confirmed")
		}
		c.moveTo(ErrorStage{Info: FailureInfo{
			Title:     "Payment verification failed",
			Message:   msgNotConfirmed,
			Code:      "VERIFICATION_FAILED",
			PaymentID: result.PaymentID,
			OrderID:   result.OrderID,
		}}, "verification_failed")
		return
	}

	payment := resp.Payment
	info := SuccessInfo{
		Title:       "Payment Successful",
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		PaymentID:   firstNonEmpty(payment.ID, result.PaymentID),
		OrderID:     firstNonEmpty(payment.OrderID, result.OrderID),
		Status:      payment.Status,
		Method:      payment.Method,
		CompletedAt: c.opts.Now(),
	}
	if info.Amount <= 0 {
		info.Amount = order.Amount
	}
	if info.Currency == "" {
		info.Currency = order.Currency
	}
	c.moveTo(SuccessStage{Info: info}, "payment_verified")
	c.intent = Intent{}
	c.order = nil
}

func (c *Controller) handleFailure(ctx context.Context, orderID string, failure GatewayFailure) {
	c.mu.Lock()
	defer c.finish(ctx)
	if !c.awaiting(orderID) {
		return
	}
	c.sessionOpen = false
	c.moveTo(ErrorStage{Info: FailureInfo{
		Title:     "Payment failed",
		Message:   firstNonEmpty(failure.Description, msgPaymentFailed),
		Code:      failure.Code,
		PaymentID: failure.PaymentID,
		OrderID:   firstNonEmpty(failure.OrderID, orderID),
	}}, "payment_failed")
}

func (c *Controller) handleDismiss(ctx context.Context, orderID string) {
	c.mu.Lock()
	defer c.finish(ctx)
	if !c.awaiting(orderID) {
		return
	}
	c.sessionOpen = false
	c.moveTo(ErrorStage{Info: FailureInfo{
		Title:   "Payment cancelled",
		Message: msgPaymentCanceled,
		OrderID: orderID,
	}}, "payment_dismissed")
}

// TryAgain returns from the error stage to details, keeping the donor's fields.
func (c *Controller) TryAgain(ctx context.Context) error {
	c.mu.Lock()
	defer c.finish(ctx)
	if err := c.ready(StageError); err != nil {
		return err
	}
	c.intent.CaptchaToken = ""
	c.order = nil
	c.message = ""
	c.moveTo(DetailsStage{}, "try_again")
	return nil
}

// DonateAgain starts over from the amount stage with everything cleared.
func (c *Controller) DonateAgain(ctx context.Context) error {
	c.mu.Lock()
	defer c.finish(ctx)
	if err := c.ready(StageSuccess, StageError); err != nil {
		return err
	}
	c.intent = Intent{}
	c.order = nil
	c.message = ""
	c.moveTo(AmountStage{}, "donate_again")
	return nil
}

// ChangeAmount goes back to the amount stage keeping the donor's fields. An open
// gateway session is abandoned and its late callbacks are ignored.
func (c *Controller) ChangeAmount(ctx context.Context) error {
	c.mu.Lock()
	defer c.finish(ctx)
	if err := c.ready(StageDetails, StageError); err != nil {
		return err
	}
	c.intent.CaptchaToken = ""
	c.order = nil
	c.sessionOpen = false
	c.session = SessionHandle{}
	c.message = ""
	c.moveTo(AmountStage{}, "change_amount")
	return nil
}

// ready must be called with mu held.
func (c *Controller) ready(kinds ...StageKind) error {
	if c.busy {
		return ErrInProgress
	}
	current := c.stage.Kind()
	for _, kind := range kinds {
		if kind == current {
			return nil
		}
	}
	return ErrInvalidTransition
}

func (c *Controller) awaiting(orderID string) bool {
	return c.sessionOpen && c.order != nil && c.order.ID == orderID && c.stage.Kind() == StageDetails
}

func (c *Controller) touch() {
	c.updatedAt = c.opts.Now()
}

func (c *Controller) moveTo(next Stage, event string) {
	from := c.stage.Kind()
	c.stage = next
	c.touch()

	t := c.transition(event)
	t.From = from
	switch s := next.(type) {
	case SuccessStage:
		t.OrderID = s.Info.OrderID
		t.PaymentID = s.Info.PaymentID
		t.Amount = s.Info.Amount
		t.Currency = s.Info.Currency
	case ErrorStage:
		t.OrderID = firstNonEmpty(s.Info.OrderID, t.OrderID)
		t.PaymentID = s.Info.PaymentID
		t.Message = s.Info.Message
	}
	c.pending = append(c.pending, t)
}

func (c *Controller) record(event, message string) {
	t := c.transition(event)
	t.Message = message
	c.pending = append(c.pending, t)
}

func (c *Controller) transition(event string) Transition {
	t := Transition{
		CheckoutID: c.id,
		From:       c.stage.Kind(),
		To:         c.stage.Kind(),
		Event:      event,
		Amount:     c.intent.Subunits(),
		Currency:   c.opts.Currency,
		DonorName:  c.intent.DonorName,
		DonorEmail: c.intent.DonorEmail,
		At:         c.updatedAt,
	}
	if c.order != nil {
		t.OrderID = c.order.ID
	}
	return t
}

// finish releases mu and delivers recorded transitions to the hook.
func (c *Controller) finish(ctx context.Context) {
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if c.opts.OnTransition == nil {
		return
	}
	for _, t := range pending {
		c.opts.OnTransition(ctx, t)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
