package donation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sahara-drive/donation-portal/internal/access"
	"github.com/sahara-drive/donation-portal/internal/backend"
	"github.com/sahara-drive/donation-portal/internal/checkout"
	"github.com/sahara-drive/donation-portal/internal/config"
	"github.com/sahara-drive/donation-portal/internal/transactions"
	sdkaccess "github.com/sahara-drive/donation-portal/sdk/access"
	"github.com/tidwall/gjson"
)

// fakeAPI mimics the payments backend.
type fakeAPI struct {
	mu          sync.Mutex
	calls       map[string]int
	orderStatus int
	verifyOK    bool
	syncStatus  string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls[r.URL.Path]++
	f.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/create-order":
		if f.orderStatus != 0 {
			w.WriteHeader(f.orderStatus)
			_, _ = w.Write([]byte(`{"message":"Captcha verification failed"}`))
			return
		}
		amount := gjson.GetBytes(body, "amount").Int()
		fmt.Fprintf(w, `{"id":"order_1","amount":%d,"currency":"INR","status":"created"}`, amount)
	case "/verify-payment":
		if !f.verifyOK {
			_, _ = w.Write([]byte(`{"success":false,"message":"signature mismatch"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"payment":{"id":"pay_1","order_id":"order_1","amount":50000,"currency":"INR","status":"captured","method":"upi"}}`))
	case "/all-payments":
		pageSize := int(gjson.GetBytes(body, "pageSize").Int())
		rows := make([]string, 0, pageSize)
		for i := 0; i < pageSize; i++ {
			rows = append(rows, fmt.Sprintf(`{"order_id":"order_%d","status":"created","amount_paise":%d,"amount_rupees":"%d.00","currency":"INR","order_created_at":"2025-03-01T10:00:00Z","donor":{"name":"Donor %d"}}`, i+1, (i+1)*100, i+1, i+1))
		}
		fmt.Fprintf(w, `{"success":true,"data":[%s]}`, strings.Join(rows, ","))
	case "/payments-stats":
		_, _ = w.Write([]byte(`{"success":true,"data":{"total_transactions":3,"successful_transactions":2,"pending_transactions":1,"failed_transactions":0,"total_captured_amount_paise":150000}}`))
	case "/top-payments", "/recent-payments":
		_, _ = w.Write([]byte(`{"success":true,"data":[{"order_id":"order_9","status":"captured","amount_paise":90000,"amount_rupees":900,"currency":"INR","order_created_at":"2025-03-01T10:00:00Z"}]}`))
	case "/sync-order":
		fmt.Fprintf(w, `{"success":true,"order":{"status":%q},"payments":{"successful_payment":{"id":"pay_9","method":"card","captured":true}}}`, f.syncStatus)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeAPI) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

type testPortal struct {
	engine *gin.Engine
	module *DonationModule
	api    *fakeAPI
	events []string
	mu     sync.Mutex
}

func newTestPortal(t *testing.T, mutate func(cfg *config.Config)) *testPortal {
	t.Helper()
	gin.SetMode(gin.TestMode)

	api := &fakeAPI{calls: make(map[string]int), verifyOK: true, syncStatus: "captured"}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Backend.BaseURL = server.URL
	cfg.Gateway.KeyID = "rzp_test_key"
	cfg.Dashboard.AccessKeys = []string{"letmein"}
	if mutate != nil {
		mutate(cfg)
	}

	client := backend.NewClientWithBaseURL(server.URL)
	manager := sdkaccess.NewManager()
	if _, err := access.ApplyAccessProviders(manager, nil, cfg); err != nil {
		t.Fatalf("access providers: %v", err)
	}

	p := &testPortal{api: api}
	p.module = NewDonationModule(cfg, Dependencies{
		Orders:       client,
		Transactions: transactions.NewService(client, transactions.Options{PageSize: 2}),
		Access:       manager,
		Hooks: []checkout.TransitionHook{func(_ context.Context, tr checkout.Transition) {
			p.mu.Lock()
			p.events = append(p.events, tr.Event)
			p.mu.Unlock()
		}},
	})
	p.engine = gin.New()
	p.module.RegisterRoutes(p.engine)
	return p
}

// client keeps cookies between requests like a browser would.
type client struct {
	t       *testing.T
	portal  *testPortal
	cookies map[string]*http.Cookie
}

func (p *testPortal) client(t *testing.T) *client {
	return &client{t: t, portal: p, cookies: make(map[string]*http.Cookie)}
}

func (c *client) do(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	c.portal.engine.ServeHTTP(w, req)
	for _, cookie := range w.Result().Cookies() {
		if cookie.MaxAge < 0 {
			delete(c.cookies, cookie.Name)
			continue
		}
		c.cookies[cookie.Name] = cookie
	}
	return w
}

func (c *client) expect(method, path, body string, status int) gjson.Result {
	c.t.Helper()
	w := c.do(method, path, body)
	if w.Code != status {
		c.t.Fatalf("%s %s: status = %d, want %d, body: %s", method, path, w.Code, status, w.Body.String())
	}
	return gjson.ParseBytes(w.Body.Bytes())
}

func (c *client) readyToPay() {
	c.t.Helper()
	c.expect(http.MethodPost, "/api/checkout/amount", `{"amount":500}`, http.StatusOK)
	c.expect(http.MethodPost, "/api/checkout/amount/confirm", `{}`, http.StatusOK)
	c.expect(http.MethodPost, "/api/checkout/details", `{"name":"Asha","email":"asha@example.com","mobile":"+91 98765-43210"}`, http.StatusOK)
	c.expect(http.MethodPost, "/api/checkout/captcha", `{"token":"captcha-token"}`, http.StatusOK)
}

func TestCheckoutSuccessFlow(t *testing.T) {
	p := newTestPortal(t, nil)
	c := p.client(t)

	view := c.expect(http.MethodGet, "/api/checkout", "", http.StatusOK)
	if view.Get("stage").String() != "amount" {
		t.Fatalf("initial stage = %s", view.Get("stage"))
	}
	if c.cookies[CheckoutCookieName] == nil {
		t.Fatalf("expected the checkout cookie to be set")
	}

	c.readyToPay()
	started := c.expect(http.MethodPost, "/api/checkout/start", `{}`, http.StatusOK)
	if got := started.Get("options.order_id").String(); got != "order_1" {
		t.Fatalf("order_id = %q", got)
	}
	if got := started.Get("options.amount").Int(); got != 50000 {
		t.Fatalf("amount = %d", got)
	}
	if got := started.Get("options.key").String(); got != "rzp_test_key" {
		t.Fatalf("key = %q", got)
	}
	if got := started.Get("options.prefill.contact").String(); got != "919876543210" {
		t.Fatalf("prefill.contact = %q", got)
	}
	if started.Get("checkout.captcha_verified").Bool() {
		t.Fatalf("captcha token must be cleared once payment starts")
	}

	done := c.expect(http.MethodPost, "/api/checkout/gateway/success",
		`{"razorpay_order_id":"order_1","razorpay_payment_id":"pay_1","razorpay_signature":"sig"}`, http.StatusOK)
	if done.Get("stage").String() != "success" {
		t.Fatalf("stage = %s, body %s", done.Get("stage"), done.Raw)
	}
	if got := done.Get("success.amount").String(); got != "500.00 INR" {
		t.Fatalf("success.amount = %q", got)
	}
	if got := done.Get("success.reference").String(); got != "pay_1" {
		t.Fatalf("success.reference = %q", got)
	}
	if got := done.Get("success.status").String(); got != "Success" {
		t.Fatalf("success.status = %q", got)
	}
	if p.api.count("/create-order") != 1 || p.api.count("/verify-payment") != 1 {
		t.Fatalf("expected one create-order and one verify-payment call")
	}

	p.mu.Lock()
	events := strings.Join(p.events, ",")
	p.mu.Unlock()
	if events != "amount_confirmed,order_created,payment_verified" {
		t.Fatalf("events = %s", events)
	}

	again := c.expect(http.MethodPost, "/api/checkout/donate-again", `{}`, http.StatusOK)
	if again.Get("stage").String() != "amount" || again.Get("amount").Int() != 0 {
		t.Fatalf("donate again should reset the checkout: %s", again.Raw)
	}
}

func TestStartPaymentValidation(t *testing.T) {
	p := newTestPortal(t, nil)
	c := p.client(t)

	c.expect(http.MethodPost, "/api/checkout/amount", `{"custom":"₹1,000"}`, http.StatusOK)
	c.expect(http.MethodPost, "/api/checkout/amount/confirm", `{}`, http.StatusOK)
	c.expect(http.MethodPost, "/api/checkout/details", `{"name":"Asha","mobile":"98765"}`, http.StatusOK)

	resp := c.expect(http.MethodPost, "/api/checkout/start", `{}`, http.StatusUnprocessableEntity)
	if resp.Get("field").String() != "mobile" {
		t.Fatalf("field = %s", resp.Get("field"))
	}
	if resp.Get("message").String() != "Please enter a valid 10-digit mobile number." {
		t.Fatalf("message = %s", resp.Get("message"))
	}
	if resp.Get("checkout.stage").String() != "details" || resp.Get("checkout.amount").Int() != 1000 {
		t.Fatalf("checkout = %s", resp.Get("checkout").Raw)
	}

	c.expect(http.MethodPost, "/api/checkout/details", `{"name":"Asha","mobile":"9876543210"}`, http.StatusOK)
	resp = c.expect(http.MethodPost, "/api/checkout/start", `{}`, http.StatusUnprocessableEntity)
	if resp.Get("field").String() != "captcha" {
		t.Fatalf("field = %s", resp.Get("field"))
	}
	if p.api.count("/create-order") != 0 {
		t.Fatalf("validation failures must not reach the backend")
	}
}

func TestConfirmWithoutAmount(t *testing.T) {
	p := newTestPortal(t, nil)
	c := p.client(t)
	resp := c.expect(http.MethodPost, "/api/checkout/amount/confirm", `{}`, http.StatusUnprocessableEntity)
	if resp.Get("message").String() != "Please select or enter an amount." {
		t.Fatalf("message = %s", resp.Get("message"))
	}
	if resp.Get("checkout.stage").String() != "amount" {
		t.Fatalf("stage = %s", resp.Get("checkout.stage"))
	}
}

func TestOrderCreationFailureKeepsDetails(t *testing.T) {
	p := newTestPortal(t, nil)
	p.api.orderStatus = http.StatusBadRequest
	c := p.client(t)
	c.readyToPay()

	resp := c.expect(http.MethodPost, "/api/checkout/start", `{}`, http.StatusBadGateway)
	if resp.Get("message").String() != "Captcha verification failed" {
		t.Fatalf("message = %s", resp.Get("message"))
	}
	if resp.Get("checkout.stage").String() != "details" || resp.Get("checkout.captcha_verified").Bool() {
		t.Fatalf("checkout = %s", resp.Get("checkout").Raw)
	}
}

func TestGatewayDismissAndRecovery(t *testing.T) {
	p := newTestPortal(t, nil)
	c := p.client(t)
	c.readyToPay()
	c.expect(http.MethodPost, "/api/checkout/start", `{}`, http.StatusOK)

	c.expect(http.MethodPost, "/api/checkout/gateway/dismiss", `{"order_id":"order_other"}`, http.StatusConflict)

	resp := c.expect(http.MethodPost, "/api/checkout/gateway/dismiss", `{"order_id":"order_1"}`, http.StatusOK)
	if resp.Get("stage").String() != "error" {
		t.Fatalf("stage = %s", resp.Get("stage"))
	}
	if !strings.Contains(resp.Get("error.message").String(), "cancelled") {
		t.Fatalf("message = %s", resp.Get("error.message"))
	}
	if resp.Get("error.order_id").String() != "order_1" || resp.Get("error.payment_id").Exists() {
		t.Fatalf("error card = %s", resp.Get("error").Raw)
	}
	if resp.Get("error.secondary_action.label").String() != "Change amount" {
		t.Fatalf("secondary action = %s", resp.Get("error.secondary_action").Raw)
	}

	c.expect(http.MethodPost, "/api/checkout/gateway/dismiss", `{"order_id":"order_1"}`, http.StatusConflict)

	retry := c.expect(http.MethodPost, "/api/checkout/try-again", `{}`, http.StatusOK)
	if retry.Get("stage").String() != "details" || retry.Get("donor_name").String() != "Asha" {
		t.Fatalf("try again = %s", retry.Raw)
	}
}

func TestGatewayFailure(t *testing.T) {
	p := newTestPortal(t, nil)
	c := p.client(t)
	c.readyToPay()
	c.expect(http.MethodPost, "/api/checkout/start", `{}`, http.StatusOK)

	resp := c.expect(http.MethodPost, "/api/checkout/gateway/failure",
		`{"code":"BAD_REQUEST_ERROR","description":"Card declined","payment_id":"pay_2"}`, http.StatusOK)
	if resp.Get("error.code").String() != "BAD_REQUEST_ERROR" || resp.Get("error.message").String() != "Card declined" {
		t.Fatalf("error card = %s", resp.Get("error").Raw)
	}
	if resp.Get("error.payment_id").String() != "pay_2" {
		t.Fatalf("payment id = %s", resp.Get("error.payment_id"))
	}
}

func TestVerificationNotConfirmed(t *testing.T) {
	p := newTestPortal(t, nil)
	p.api.verifyOK = false
	c := p.client(t)
	c.readyToPay()
	c.expect(http.MethodPost, "/api/checkout/start", `{}`, http.StatusOK)

	resp := c.expect(http.MethodPost, "/api/checkout/gateway/success",
		`{"razorpay_payment_id":"pay_1","razorpay_signature":"sig"}`, http.StatusOK)
	if resp.Get("stage").String() != "error" {
		t.Fatalf("stage = %s", resp.Get("stage"))
	}
	if !strings.Contains(resp.Get("error.message").String(), "server did not confirm") {
		t.Fatalf("message = %s", resp.Get("error.message"))
	}
}

func TestCampaignOver(t *testing.T) {
	p := newTestPortal(t, func(cfg *config.Config) { cfg.CampaignOver = true })
	c := p.client(t)

	resp := c.expect(http.MethodGet, "/api/checkout", "", http.StatusGone)
	if resp.Get("error").String() != "campaign_over" {
		t.Fatalf("error = %s", resp.Get("error"))
	}

	w := c.do(http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "successfully concluded") {
		t.Fatalf("landing page should show the closing notice, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "checkout.razorpay.com") {
		t.Fatalf("closed campaign must not load the checkout script")
	}
}

func TestIndexPageRendersScriptsOnce(t *testing.T) {
	p := newTestPortal(t, nil)
	c := p.client(t)
	c.do(http.MethodGet, "/", "")
	w := c.do(http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if n := strings.Count(w.Body.String(), config.DefaultScriptURL); n != 1 {
		t.Fatalf("checkout script tag rendered %d times", n)
	}

	cfg := c.expect(http.MethodGet, "/api/config", "", http.StatusOK)
	if cfg.Get("gateway_key").String() != "rzp_test_key" || len(cfg.Get("preset_amounts").Array()) != 6 {
		t.Fatalf("config = %s", cfg.Raw)
	}
}

func TestDashboardLogin(t *testing.T) {
	p := newTestPortal(t, nil)
	c := p.client(t)

	c.expect(http.MethodGet, "/dashboard/transactions", "", http.StatusUnauthorized)

	resp := c.expect(http.MethodPost, "/dashboard/login", `{"access_key":"nope"}`, http.StatusUnauthorized)
	if resp.Get("message").String() != "Invalid access key. Please try again." {
		t.Fatalf("message = %s", resp.Get("message"))
	}

	c.expect(http.MethodPost, "/dashboard/login", `{"access_key":"letmein"}`, http.StatusOK)
	if c.cookies[SessionCookieName] == nil {
		t.Fatalf("expected a dashboard session cookie")
	}
	status := c.expect(http.MethodGet, "/dashboard/status", "", http.StatusOK)
	if !status.Get("authenticated").Bool() {
		t.Fatalf("status = %s", status.Raw)
	}

	c.expect(http.MethodPost, "/dashboard/logout", `{}`, http.StatusOK)
	c.expect(http.MethodGet, "/dashboard/transactions", "", http.StatusUnauthorized)
}

func TestDashboardLoginNotConfigured(t *testing.T) {
	p := newTestPortal(t, func(cfg *config.Config) { cfg.Dashboard.AccessKeys = nil })
	c := p.client(t)
	resp := c.expect(http.MethodPost, "/dashboard/login", `{"access_key":"anything"}`, http.StatusServiceUnavailable)
	if resp.Get("message").String() != "Dashboard access key not configured. Contact administrator." {
		t.Fatalf("message = %s", resp.Get("message"))
	}
}

func TestDashboardTransactionsAndRefresh(t *testing.T) {
	p := newTestPortal(t, nil)
	c := p.client(t)
	c.expect(http.MethodPost, "/dashboard/login", `{"access_key":"letmein"}`, http.StatusOK)

	c.expect(http.MethodGet, "/dashboard/transactions?status=bogus", "", http.StatusBadRequest)

	page := c.expect(http.MethodGet, "/dashboard/transactions?status=CREATED", "", http.StatusOK)
	rows := page.Get("rows").Array()
	if len(rows) != 2 || !page.Get("has_next_page").Bool() {
		t.Fatalf("page = %s", page.Raw)
	}
	if page.Get("mode").String() != "list" || page.Get("status").String() != "created" {
		t.Fatalf("mode/status = %s/%s", page.Get("mode"), page.Get("status"))
	}
	if rows[0].Get("serial").Int() != 1 || rows[0].Get("status_label").String() != "Pending" {
		t.Fatalf("row = %s", rows[0].Raw)
	}
	if rows[0].Get("amount_label").String() != "1.00 INR" || rows[0].Get("method_label").String() != "N/A" {
		t.Fatalf("row = %s", rows[0].Raw)
	}

	second := c.expect(http.MethodGet, "/dashboard/transactions?status=created&page=2", "", http.StatusOK)
	if second.Get("page").Int() != 2 || second.Get("rows.0.serial").Int() != 3 {
		t.Fatalf("second page = %s", second.Raw)
	}

	c.expect(http.MethodPost, "/dashboard/transactions/order_404/refresh", `{}`, http.StatusNotFound)

	refreshed := c.expect(http.MethodPost, "/dashboard/transactions/order_1/refresh", `{}`, http.StatusOK)
	if refreshed.Get("row.status").String() != "captured" || refreshed.Get("row.payment_id").String() != "pay_9" {
		t.Fatalf("row = %s", refreshed.Get("row").Raw)
	}
	if refreshed.Get("row.donor_label").String() != "Donor 1" {
		t.Fatalf("known donor name must be kept: %s", refreshed.Get("row.donor_label"))
	}
	if !refreshed.Get("notification.changed").Bool() ||
		refreshed.Get("notification.message").String() != "Transaction order_1 updated to Success." {
		t.Fatalf("notification = %s", refreshed.Get("notification").Raw)
	}
}

func TestDashboardStatsAndCachedLists(t *testing.T) {
	p := newTestPortal(t, nil)
	c := p.client(t)
	c.expect(http.MethodPost, "/dashboard/login", `{"access_key":"letmein"}`, http.StatusOK)

	stats := c.expect(http.MethodGet, "/dashboard/stats", "", http.StatusOK)
	if stats.Get("total_transactions").Int() != 3 || stats.Get("total_captured_label").String() != "1500.00 INR" {
		t.Fatalf("stats = %s", stats.Raw)
	}

	c.expect(http.MethodGet, "/dashboard/top", "", http.StatusOK)
	top := c.expect(http.MethodGet, "/dashboard/top", "", http.StatusOK)
	if top.Get("rows.0.donor_label").String() != "Anonymous" || top.Get("rows.0.amount_label").String() != "900.00 INR" {
		t.Fatalf("top = %s", top.Raw)
	}
	if p.api.count("/top-payments") != 1 {
		t.Fatalf("top payments should be served from cache, backend hit %d times", p.api.count("/top-payments"))
	}
	c.expect(http.MethodGet, "/dashboard/recent", "", http.StatusOK)
	if p.api.count("/recent-payments") != 1 {
		t.Fatalf("recent payments fetched %d times", p.api.count("/recent-payments"))
	}
}

func TestSweepKeepsCheckoutAwaitingGateway(t *testing.T) {
	p := newTestPortal(t, nil)
	paying := p.client(t)
	paying.readyToPay()
	paying.expect(http.MethodPost, "/api/checkout/start", `{}`, http.StatusOK)

	idle := p.client(t)
	idle.expect(http.MethodGet, "/api/checkout", "", http.StatusOK)
	if got := p.module.checkoutStore.Len(); got != 2 {
		t.Fatalf("live checkouts = %d", got)
	}

	later := time.Now().Add(config.DefaultCheckoutTTL + time.Hour)
	_, checkouts, pending := p.module.sweep(later)
	if checkouts != 1 || pending != 0 {
		t.Fatalf("sweep removed checkouts=%d gateway=%d", checkouts, pending)
	}
	if got := p.module.checkoutStore.Len(); got != 1 {
		t.Fatalf("live checkouts after sweep = %d", got)
	}
	if !p.module.gateway.Open("order_1") {
		t.Fatalf("gateway session of the waiting checkout was dropped")
	}

	done := paying.expect(http.MethodPost, "/api/checkout/gateway/success",
		`{"razorpay_order_id":"order_1","razorpay_payment_id":"pay_1","razorpay_signature":"sig"}`, http.StatusOK)
	if done.Get("stage").String() != "success" {
		t.Fatalf("late capture not verified: %s", done.Raw)
	}
}

func TestSweepDropsAbandonedGatewaySession(t *testing.T) {
	p := newTestPortal(t, nil)
	c := p.client(t)
	c.readyToPay()
	c.expect(http.MethodPost, "/api/checkout/start", `{}`, http.StatusOK)
	c.expect(http.MethodPost, "/api/checkout/change-amount", `{}`, http.StatusOK)

	later := time.Now().Add(config.DefaultCheckoutTTL + time.Hour)
	if _, _, pending := p.module.sweep(later); pending != 1 {
		t.Fatalf("abandoned gateway sessions removed = %d", pending)
	}
	if p.module.gateway.Open("order_1") {
		t.Fatalf("abandoned gateway session still open")
	}
}
