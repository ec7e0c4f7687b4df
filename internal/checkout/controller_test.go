package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sahara-drive/donation-portal/internal/backend"
)

type fakeBackend struct {
	mu          sync.Mutex
	createCalls int
	verifyCalls int
	lastCreate  backend.CreateOrderRequest
	lastVerify  backend.VerifyPaymentRequest
	createErr   error
	order       *backend.Order
	verifyResp  *backend.VerifyPaymentResponse
	verifyErr   error
}

func (f *fakeBackend) CreateOrder(_ context.Context, req backend.CreateOrderRequest) (*backend.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastCreate = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.order != nil {
		order := *f.order
		return &order, nil
	}
	return &backend.Order{ID: "order_1", Amount: req.Amount, Currency: req.Currency}, nil
}

func (f *fakeBackend) VerifyPayment(_ context.Context, req backend.VerifyPaymentRequest) (*backend.VerifyPaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	f.lastVerify = req
	return f.verifyResp, f.verifyErr
}

func (f *fakeBackend) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.verifyCalls
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeSuccess
	outcomeFailure
	outcomeDismiss
)

// fakeGateway fires the chosen callback synchronously inside CreateSession.
type fakeGateway struct {
	outcome  outcome
	success  GatewaySuccess
	failure  GatewayFailure
	err      error
	sessions int
	lastOpts SessionOptions
	saved    SessionCallbacks
}

func (g *fakeGateway) CreateSession(ctx context.Context, opts SessionOptions, cb SessionCallbacks) (SessionHandle, error) {
	g.sessions++
	g.lastOpts = opts
	g.saved = cb
	if g.err != nil {
		return SessionHandle{}, g.err
	}
	switch g.outcome {
	case outcomeSuccess:
		cb.OnSuccess(ctx, g.success)
	case outcomeFailure:
		cb.OnFailure(ctx, g.failure)
	case outcomeDismiss:
		cb.OnDismiss(ctx)
	}
	return SessionHandle{ID: "sess_1", OrderID: opts.OrderID}, nil
}

type failingScripts struct{}

func (failingScripts) Load(context.Context, string) error { return errors.New("network down") }

func newTestController(t *testing.T, be *fakeBackend, gw *fakeGateway) (*Controller, *[]Transition) {
	t.Helper()
	var transitions []Transition
	c := NewController("chk_1", Options{
		Backend:      be,
		Gateway:      gw,
		Scripts:      NewScriptRegistry(),
		GatewayKey:   "rzp_test_key",
		ScriptURL:    "https://checkout.example/v1/checkout.js",
		Currency:     "INR",
		MerchantName: "Drive",
		Now:          func() time.Time { return time.Date(2025, 10, 2, 9, 30, 0, 0, time.UTC) },
		NewReceiptID: func() string { return "rcpt_test" },
		OnTransition: func(_ context.Context, tr Transition) { transitions = append(transitions, tr) },
	})
	return c, &transitions
}

// readyForPayment walks the controller to a valid details stage.
func readyForPayment(t *testing.T, c *Controller) {
	t.Helper()
	ctx := context.Background()
	if err := c.SelectAmount(500); err != nil {
		t.Fatalf("select amount: %v", err)
	}
	if err := c.ConfirmAmount(ctx); err != nil {
		t.Fatalf("confirm amount: %v", err)
	}
	if err := c.SetDetails("Asha", "asha@example.org", "+91 98765-43210"); err != nil {
		t.Fatalf("set details: %v", err)
	}
	if err := c.VerifyCaptcha("captcha-token"); err != nil {
		t.Fatalf("verify captcha: %v", err)
	}
}

func TestConfirmAmountRejectsNonPositive(t *testing.T) {
	for _, raw := range []string{"", "0", "abc", "-", "₹0"} {
		c, _ := newTestController(t, &fakeBackend{}, &fakeGateway{})
		if err := c.SetCustomAmount(raw); err != nil {
			t.Fatalf("set custom amount %q: %v", raw, err)
		}
		if err := c.ConfirmAmount(context.Background()); !errors.Is(err, ErrAmountRequired) {
			t.Fatalf("amount %q: expected ErrAmountRequired, got %v", raw, err)
		}
		snap := c.Snapshot()
		if snap.Stage.Kind() != StageAmount {
			t.Fatalf("amount %q: expected amount stage, got %s", raw, snap.Stage.Kind())
		}
		if snap.Message != "Please select or enter an amount." {
			t.Fatalf("unexpected message %q", snap.Message)
		}
	}
}

func TestSetCustomAmountStripsNonDigits(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{}, &fakeGateway{})
	if err := c.SetCustomAmount("₹1,500"); err != nil {
		t.Fatalf("set custom amount: %v", err)
	}
	if got := c.Snapshot().Intent.Amount; got != 1500 {
		t.Fatalf("expected 1500, got %d", got)
	}
}

func TestOversizedPresetAmountIsRejected(t *testing.T) {
	be := &fakeBackend{}
	c, _ := newTestController(t, be, &fakeGateway{})
	ctx := context.Background()
	if err := c.SelectAmount(100_000_000_000_000_000); err != nil {
		t.Fatalf("select amount: %v", err)
	}
	if got := c.Snapshot().Intent.Amount; got != 0 {
		t.Fatalf("expected oversized amount to clear the selection, got %d", got)
	}
	if err := c.ConfirmAmount(ctx); !errors.Is(err, ErrAmountRequired) {
		t.Fatalf("expected ErrAmountRequired, got %v", err)
	}
	if creates, _ := be.calls(); creates != 0 {
		t.Fatalf("expected no create-order call, got %d", creates)
	}

	intent := Intent{Amount: maxAmount + 1, DonorName: "A", DonorMobile: "9876543210", CaptchaToken: "tok"}
	if err := intent.validate("k"); !errors.Is(err, ErrAmountRequired) {
		t.Fatalf("expected ErrAmountRequired for amount above the cap, got %v", err)
	}
	intent.Amount = maxAmount
	if err := intent.validate("k"); err != nil {
		t.Fatalf("amount at the cap should pass, got %v", err)
	}
	if intent.Subunits() <= 0 {
		t.Fatalf("subunits must stay positive, got %d", intent.Subunits())
	}
}

func TestStartPaymentGuardsIssueNoNetworkCall(t *testing.T) {
	cases := []struct {
		name    string
		amount  int64
		donor   [3]string
		captcha string
		key     string
		want    *ValidationError
	}{
		{"missing name", 500, [3]string{"", "", "9876543210"}, "tok", "k", ErrNameRequired},
		{"short mobile", 500, [3]string{"A", "", "98765432"}, "tok", "k", ErrInvalidMobile},
		{"bad email", 500, [3]string{"A", "not-an-email", "9876543210"}, "tok", "k", ErrInvalidEmail},
		{"missing captcha", 500, [3]string{"A", "", "9876543210"}, "", "k", ErrCaptchaRequired},
		{"missing key", 500, [3]string{"A", "", "9876543210"}, "tok", "", ErrGatewayKeyMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			be := &fakeBackend{}
			gw := &fakeGateway{}
			c, _ := newTestController(t, be, gw)
			c.opts.GatewayKey = tc.key
			ctx := context.Background()
			_ = c.SelectAmount(tc.amount)
			if err := c.ConfirmAmount(ctx); err != nil {
				t.Fatalf("confirm amount: %v", err)
			}
			_ = c.SetDetails(tc.donor[0], tc.donor[1], tc.donor[2])
			if tc.captcha != "" {
				_ = c.VerifyCaptcha(tc.captcha)
			}

			_, err := c.StartPayment(ctx)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if creates, verifies := be.calls(); creates != 0 || verifies != 0 {
				t.Fatalf("expected no network calls, got create=%d verify=%d", creates, verifies)
			}
			snap := c.Snapshot()
			if snap.Stage.Kind() != StageDetails || snap.Message != tc.want.Message {
				t.Fatalf("expected details stage with %q, got %s %q", tc.want.Message, snap.Stage.Kind(), snap.Message)
			}
			if snap.CaptchaVerified {
				t.Fatalf("captcha token must be cleared after every attempt")
			}
		})
	}
}

func TestShortMobileScenario(t *testing.T) {
	be := &fakeBackend{}
	c, _ := newTestController(t, be, &fakeGateway{})
	ctx := context.Background()
	_ = c.SelectAmount(500)
	_ = c.ConfirmAmount(ctx)
	_ = c.SetDetails("A", "", "98765432")
	_ = c.VerifyCaptcha("tok")

	if _, err := c.StartPayment(ctx); !errors.Is(err, ErrInvalidMobile) {
		t.Fatalf("expected ErrInvalidMobile, got %v", err)
	}
	snap := c.Snapshot()
	if snap.Message != "Please enter a valid 10-digit mobile number." || snap.Stage.Kind() != StageDetails {
		t.Fatalf("unexpected state %s %q", snap.Stage.Kind(), snap.Message)
	}
}

func TestSuccessfulPaymentScenario(t *testing.T) {
	be := &fakeBackend{
		verifyResp: &backend.VerifyPaymentResponse{
			Success: true,
			Payment: backend.VerifiedPayment{ID: "pay_1", OrderID: "order_1", Amount: 50000, Currency: "INR", Status: "captured"},
		},
	}
	gw := &fakeGateway{outcome: outcomeSuccess, success: GatewaySuccess{OrderID: "order_1", PaymentID: "pay_1", Signature: "sig"}}
	c, transitions := newTestController(t, be, gw)
	readyForPayment(t, c)

	opts, err := c.StartPayment(context.Background())
	if err != nil {
		t.Fatalf("start payment: %v", err)
	}
	if opts.Amount != 50000 || opts.OrderID != "order_1" || opts.Key != "rzp_test_key" {
		t.Fatalf("unexpected session options %+v", opts)
	}
	if opts.Prefill["contact"] != "919876543210" {
		t.Fatalf("expected digits-only contact, got %q", opts.Prefill["contact"])
	}
	if be.lastCreate.Amount != 50000 || be.lastCreate.TurnstileToken != "captcha-token" || be.lastCreate.Receipt != "rcpt_test" {
		t.Fatalf("unexpected create-order request %+v", be.lastCreate)
	}
	if be.lastVerify.Signature != "sig" || be.lastVerify.PaymentID != "pay_1" {
		t.Fatalf("unexpected verify request %+v", be.lastVerify)
	}

	success, ok := c.Stage().(SuccessStage)
	if !ok {
		t.Fatalf("expected success stage, got %s", c.Stage().Kind())
	}
	if success.Info.Amount != 50000 || success.Info.Currency != "INR" || success.Info.PaymentID != "pay_1" {
		t.Fatalf("unexpected success info %+v", success.Info)
	}
	if creates, verifies := be.calls(); creates != 1 || verifies != 1 {
		t.Fatalf("expected one call each, got create=%d verify=%d", creates, verifies)
	}
	if snap := c.Snapshot(); snap.Intent.DonorName != "" || snap.Order != nil {
		t.Fatalf("intent must be discarded on success: %+v", snap)
	}

	last := (*transitions)[len(*transitions)-1]
	if last.Event != "payment_verified" || last.To != StageSuccess || last.DonorEmail != "asha@example.org" {
		t.Fatalf("unexpected final transition %+v", last)
	}
}

func TestVerificationFallsBackToOrderAmount(t *testing.T) {
	be := &fakeBackend{
		order:      &backend.Order{ID: "order_7", Amount: 70000, Currency: "INR"},
		verifyResp: &backend.VerifyPaymentResponse{Success: true, Payment: backend.VerifiedPayment{Status: "captured"}},
	}
	gw := &fakeGateway{outcome: outcomeSuccess, success: GatewaySuccess{PaymentID: "pay_7", Signature: "sig"}}
	c, _ := newTestController(t, be, gw)
	readyForPayment(t, c)

	if _, err := c.StartPayment(context.Background()); err != nil {
		t.Fatalf("start payment: %v", err)
	}
	success, ok := c.Stage().(SuccessStage)
	if !ok {
		t.Fatalf("expected success stage, got %s", c.Stage().Kind())
	}
	if success.Info.Amount != 70000 || success.Info.OrderID != "order_7" || success.Info.PaymentID != "pay_7" {
		t.Fatalf("expected fallbacks from order and gateway, got %+v", success.Info)
	}
	if be.lastVerify.OrderID != "order_7" {
		t.Fatalf("expected verify to use the order id, got %q", be.lastVerify.OrderID)
	}
}

func TestVerificationNotConfirmed(t *testing.T) {
	cases := map[string]*fakeBackend{
		"success false": {verifyResp: &backend.VerifyPaymentResponse{Success: false, Message: "bad signature"}},
		"http error":    {verifyErr: &backend.APIError{Endpoint: "/verify-payment", StatusCode: 500}},
	}
	for name, be := range cases {
		t.Run(name, func(t *testing.T) {
			gw := &fakeGateway{outcome: outcomeSuccess, success: GatewaySuccess{OrderID: "order_1", PaymentID: "pay_1", Signature: "sig"}}
			c, _ := newTestController(t, be, gw)
			readyForPayment(t, c)
			if _, err := c.StartPayment(context.Background()); err != nil {
				t.Fatalf("start payment: %v", err)
			}
			failed, ok := c.Stage().(ErrorStage)
			if !ok {
				t.Fatalf("expected error stage, got %s", c.Stage().Kind())
			}
			if !strings.Contains(failed.Info.Message, "server did not confirm") {
				t.Fatalf("unexpected message %q", failed.Info.Message)
			}
			if failed.Info.PaymentID != "pay_1" || failed.Info.OrderID != "order_1" {
				t.Fatalf("identifiers missing: %+v", failed.Info)
			}
		})
	}
}

func TestGatewayFailureCarriesDetails(t *testing.T) {
	gw := &fakeGateway{outcome: outcomeFailure, failure: GatewayFailure{Code: "BAD_REQUEST_ERROR", Description: "Card declined", PaymentID: "pay_2"}}
	be := &fakeBackend{}
	c, _ := newTestController(t, be, gw)
	readyForPayment(t, c)

	if _, err := c.StartPayment(context.Background()); err != nil {
		t.Fatalf("start payment: %v", err)
	}
	failed, ok := c.Stage().(ErrorStage)
	if !ok {
		t.Fatalf("expected error stage, got %s", c.Stage().Kind())
	}
	if failed.Info.Code != "BAD_REQUEST_ERROR" || failed.Info.Message != "Card declined" || failed.Info.OrderID != "order_1" {
		t.Fatalf("unexpected failure info %+v", failed.Info)
	}
	if _, verifies := be.calls(); verifies != 0 {
		t.Fatalf("failure must not verify")
	}
}

func TestDismissScenario(t *testing.T) {
	gw := &fakeGateway{outcome: outcomeDismiss}
	c, _ := newTestController(t, &fakeBackend{}, gw)
	readyForPayment(t, c)

	if _, err := c.StartPayment(context.Background()); err != nil {
		t.Fatalf("start payment: %v", err)
	}
	failed, ok := c.Stage().(ErrorStage)
	if !ok {
		t.Fatalf("expected error stage, got %s", c.Stage().Kind())
	}
	if !strings.Contains(failed.Info.Message, "cancelled") {
		t.Fatalf("expected cancelled message, got %q", failed.Info.Message)
	}
	if failed.Info.OrderID != "order_1" || failed.Info.PaymentID != "" {
		t.Fatalf("unexpected identifiers %+v", failed.Info)
	}
}

func TestOrderCreationFailureKeepsDetails(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"body message", &backend.APIError{Endpoint: "/create-order", StatusCode: 400, Message: "Captcha verification failed"}, "Captcha verification failed"},
		{"no message", &backend.APIError{Endpoint: "/create-order", StatusCode: 502}, msgOrderFallback},
		{"malformed", backend.ErrInvalidResponse, msgOrderFallback},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			be := &fakeBackend{createErr: tc.err}
			gw := &fakeGateway{}
			c, _ := newTestController(t, be, gw)
			readyForPayment(t, c)

			_, err := c.StartPayment(context.Background())
			if !errors.Is(err, ErrOrderFailed) {
				t.Fatalf("expected ErrOrderFailed, got %v", err)
			}
			snap := c.Snapshot()
			if snap.Stage.Kind() != StageDetails || snap.Message != tc.want {
				t.Fatalf("unexpected state %s %q", snap.Stage.Kind(), snap.Message)
			}
			if snap.CaptchaVerified {
				t.Fatalf("captcha token must be cleared after order creation")
			}
			if gw.sessions != 0 {
				t.Fatalf("gateway must not open after failed order creation")
			}
			if snap.Intent.DonorName != "Asha" {
				t.Fatalf("donor fields must survive a recoverable error")
			}
		})
	}
}

func TestScriptLoadFailureKeepsDetails(t *testing.T) {
	be := &fakeBackend{}
	c, _ := newTestController(t, be, &fakeGateway{})
	c.opts.Scripts = failingScripts{}
	readyForPayment(t, c)

	if _, err := c.StartPayment(context.Background()); !errors.Is(err, ErrOrderFailed) {
		t.Fatalf("expected ErrOrderFailed, got %v", err)
	}
	if creates, _ := be.calls(); creates != 0 {
		t.Fatalf("order must not be created without the checkout script")
	}
	if msg := c.Snapshot().Message; msg != msgScriptFailed {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestCaptchaClearedAfterSuccessfulStart(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestController(t, &fakeBackend{}, gw)
	readyForPayment(t, c)

	if _, err := c.StartPayment(context.Background()); err != nil {
		t.Fatalf("start payment: %v", err)
	}
	snap := c.Snapshot()
	if snap.CaptchaVerified {
		t.Fatalf("captcha token must be cleared")
	}
	if !snap.AwaitingGateway || snap.SessionID != "sess_1" {
		t.Fatalf("expected an open gateway session, got %+v", snap)
	}
	if _, err := c.StartPayment(context.Background()); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress while the session is open, got %v", err)
	}
}

func TestLateCallbackAfterChangeAmountIgnored(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestController(t, &fakeBackend{}, gw)
	readyForPayment(t, c)
	ctx := context.Background()

	if _, err := c.StartPayment(ctx); err != nil {
		t.Fatalf("start payment: %v", err)
	}
	if err := c.ChangeAmount(ctx); err != nil {
		t.Fatalf("change amount: %v", err)
	}
	gw.saved.OnDismiss(ctx)
	if kind := c.Stage().Kind(); kind != StageAmount {
		t.Fatalf("late dismiss must be ignored, stage is %s", kind)
	}
}

func TestRecoveryActions(t *testing.T) {
	ctx := context.Background()

	t.Run("try again keeps donor fields", func(t *testing.T) {
		c, _ := newTestController(t, &fakeBackend{}, &fakeGateway{outcome: outcomeDismiss})
		readyForPayment(t, c)
		_, _ = c.StartPayment(ctx)
		if err := c.TryAgain(ctx); err != nil {
			t.Fatalf("try again: %v", err)
		}
		snap := c.Snapshot()
		if snap.Stage.Kind() != StageDetails || snap.Intent.DonorName != "Asha" || snap.Intent.Amount != 500 {
			t.Fatalf("unexpected state after try again %+v", snap)
		}
		if snap.CaptchaVerified {
			t.Fatalf("captcha must be re-verified after try again")
		}
	})

	t.Run("donate again clears everything", func(t *testing.T) {
		c, _ := newTestController(t, &fakeBackend{}, &fakeGateway{outcome: outcomeDismiss})
		readyForPayment(t, c)
		_, _ = c.StartPayment(ctx)
		if err := c.DonateAgain(ctx); err != nil {
			t.Fatalf("donate again: %v", err)
		}
		snap := c.Snapshot()
		if snap.Stage.Kind() != StageAmount || snap.Intent != (Intent{}) {
			t.Fatalf("expected cleared amount stage, got %+v", snap)
		}
	})

	t.Run("change amount keeps fields", func(t *testing.T) {
		c, _ := newTestController(t, &fakeBackend{}, &fakeGateway{outcome: outcomeDismiss})
		readyForPayment(t, c)
		_, _ = c.StartPayment(ctx)
		if err := c.ChangeAmount(ctx); err != nil {
			t.Fatalf("change amount: %v", err)
		}
		snap := c.Snapshot()
		if snap.Stage.Kind() != StageAmount || snap.Intent.DonorMobile != "919876543210" {
			t.Fatalf("unexpected state after change amount %+v", snap)
		}
	})

	t.Run("invalid transitions", func(t *testing.T) {
		c, _ := newTestController(t, &fakeBackend{}, &fakeGateway{})
		if err := c.TryAgain(ctx); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("try again from amount: %v", err)
		}
		if err := c.DonateAgain(ctx); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("donate again from amount: %v", err)
		}
		if err := c.SetDetails("A", "", "9876543210"); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("details from amount: %v", err)
		}
	})
}

func TestScriptRegistryIsIdempotent(t *testing.T) {
	r := NewScriptRegistry()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := r.Load(ctx, "https://checkout.example/v1/checkout.js"); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	_ = r.Load(ctx, "https://challenges.example/api.js")
	if got := r.Sources(); len(got) != 2 {
		t.Fatalf("expected 2 unique sources, got %v", got)
	}
	if !r.Loaded(" https://checkout.example/v1/checkout.js ") {
		t.Fatalf("expected source to be reported as loaded")
	}
}
