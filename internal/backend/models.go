package backend

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// MajorAmount is an amount in major currency units. The backend sends it either
// as a JSON string ("500.00") or as a number (500).
type MajorAmount string

// UnmarshalJSON accepts strings, numbers and null.
func (a *MajorAmount) UnmarshalJSON(data []byte) error {
	result := gjson.ParseBytes(data)
	switch result.Type {
	case gjson.String:
		*a = MajorAmount(result.Str)
	case gjson.Number:
		*a = MajorAmount(result.Raw)
	default:
		*a = ""
	}
	return nil
}

// MarshalJSON always emits a string.
func (a MajorAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// MajorAmountFromSubunits keeps the major-unit representation consistent with subunits.
func MajorAmountFromSubunits(subunits int64) MajorAmount {
	return MajorAmount(strconv.FormatFloat(float64(subunits)/100, 'f', 2, 64))
}

// Donor is the donor block nested in transaction records.
type Donor struct {
	Name  string  `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

// TransactionRecord is one row of the backend transaction listing.
type TransactionRecord struct {
	OrderID          string      `json:"order_id"`
	PaymentID        *string     `json:"payment_id"`
	Status           string      `json:"status"`
	AmountPaise      int64       `json:"amount_paise"`
	AmountRupees     MajorAmount `json:"amount_rupees"`
	Currency         string      `json:"currency"`
	Method           *string     `json:"method"`
	Email            *string     `json:"email"`
	Contact          *string     `json:"contact"`
	Captured         *bool       `json:"captured"`
	OrderCreatedAt   string      `json:"order_created_at"`
	PaymentCreatedAt *string     `json:"payment_created_at"`
	Donor            *Donor      `json:"donor,omitempty"`
	Receipt          *string     `json:"receipt"`
}

// NormalizedStatus returns the lower-cased status.
func (r TransactionRecord) NormalizedStatus() string {
	return strings.ToLower(strings.TrimSpace(r.Status))
}

// LatestTimestamp returns the payment creation time when known, else the order creation time.
func (r TransactionRecord) LatestTimestamp() string {
	if r.PaymentCreatedAt != nil && *r.PaymentCreatedAt != "" {
		return *r.PaymentCreatedAt
	}
	return r.OrderCreatedAt
}

// DonorName returns the donor name or an empty string.
func (r TransactionRecord) DonorName() string {
	if r.Donor == nil {
		return ""
	}
	return r.Donor.Name
}

// DonorContact is the donor block sent with order creation.
type DonorContact struct {
	Name    string
	Email   string
	Contact string
}

// CreateOrderRequest is the payload for POST /create-order. Amount is in subunits.
type CreateOrderRequest struct {
	Amount         int64
	Currency       string
	Receipt        string
	Donor          DonorContact
	TurnstileToken string
}

// Order is a backend-issued order.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
	Status   string `json:"status,omitempty"`
}

// VerifyPaymentRequest carries the three identifiers the gateway hands back on success.
type VerifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// VerifiedPayment is the payment block of a verification response. Zero values mean absent.
type VerifiedPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
}

// VerifyPaymentResponse is the body of POST /verify-payment.
type VerifyPaymentResponse struct {
	Success bool            `json:"success"`
	Payment VerifiedPayment `json:"payment"`
	Message string          `json:"message,omitempty"`
}

// ListRequest is the payload for POST /all-payments.
type ListRequest struct {
	Page         int    `json:"page"`
	PageSize     int    `json:"pageSize"`
	StatusFilter string `json:"statusFilter"`
	AmountSort   string `json:"amountSort"`
}

// ListResponse is the body of the listing endpoints.
type ListResponse struct {
	Success    bool                `json:"success"`
	Data       []TransactionRecord `json:"data"`
	TotalCount int                 `json:"total_count,omitempty"`
	Count      int                 `json:"count,omitempty"`
}

// Statistics are the aggregate counters from POST /payments-stats.
type Statistics struct {
	TotalTransactions        int64 `json:"total_transactions"`
	SuccessfulTransactions   int64 `json:"successful_transactions"`
	PendingTransactions      int64 `json:"pending_transactions"`
	FailedTransactions       int64 `json:"failed_transactions"`
	TotalCapturedAmountPaise int64 `json:"total_captured_amount_paise"`
}

// SyncedPayment is the successful payment reported by /sync-order. Nil fields were absent.
type SyncedPayment struct {
	PaymentID   *string
	Method      *string
	Email       *string
	Contact     *string
	Captured    *bool
	CreatedAt   *string
	AmountPaise *int64
	Currency    *string
}

// SyncOrderResult is the authoritative state of one order.
type SyncOrderResult struct {
	Status  string
	Donor   *Donor
	Payment *SyncedPayment
}

func optionalString(result gjson.Result) *string {
	if !result.Exists() || result.Type == gjson.Null {
		return nil
	}
	value := result.String()
	if value == "" {
		return nil
	}
	return &value
}

func firstExisting(root gjson.Result, paths ...string) gjson.Result {
	for _, path := range paths {
		if r := root.Get(path); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

// parseSyncOrder reads the optional nested blocks of a /sync-order response.
func parseSyncOrder(body []byte) *SyncOrderResult {
	root := gjson.ParseBytes(body)
	result := &SyncOrderResult{Status: root.Get("order.status").String()}

	if donor := root.Get("order.donor"); donor.IsObject() {
		result.Donor = &Donor{
			Name:  donor.Get("name").String(),
			Email: optionalString(donor.Get("email")),
			Phone: optionalString(donor.Get("phone")),
		}
	}

	payment := root.Get("payments.successful_payment")
	if !payment.IsObject() {
		return result
	}
	synced := &SyncedPayment{
		PaymentID: optionalString(firstExisting(payment, "id", "payment_id")),
		Method:    optionalString(payment.Get("method")),
		Email:     optionalString(payment.Get("email")),
		Contact:   optionalString(payment.Get("contact")),
		CreatedAt: optionalString(firstExisting(payment, "created_at", "payment_created_at")),
		Currency:  optionalString(payment.Get("currency")),
	}
	if captured := payment.Get("captured"); captured.IsBool() {
		value := captured.Bool()
		synced.Captured = &value
	}
	if amount := firstExisting(payment, "amount", "amount_paise"); amount.Type == gjson.Number {
		value := amount.Int()
		synced.AmountPaise = &value
	}
	result.Payment = synced
	return result
}
