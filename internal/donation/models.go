// Package donation provides the donation portal HTTP surface: the public
// checkout flow, the access-key gated transactions dashboard and the landing page.
package donation

import (
	"time"

	"github.com/sahara-drive/donation-portal/internal/backend"
	"github.com/sahara-drive/donation-portal/internal/checkout"
	"github.com/sahara-drive/donation-portal/internal/display"
	"github.com/sahara-drive/donation-portal/internal/transactions"
)

// Session is a dashboard session opened with a valid access key.
type Session struct {
	// ID is the unique session identifier (token).
	ID string `json:"id"`
	// Provider names the access provider that accepted the key.
	Provider string `json:"provider"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is when the session expires.
	ExpiresAt time.Time `json:"expires_at"`

	// Dashboard holds this session's list state (filters, page, rows).
	Dashboard *transactions.Dashboard `json:"-"`
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// PublicConfig is the browser-facing configuration.
type PublicConfig struct {
	GatewayKey       string  `json:"gateway_key"`
	TurnstileSiteKey string  `json:"turnstile_site_key"`
	ButtonID         string  `json:"button_id"`
	Currency         string  `json:"currency"`
	PresetAmounts    []int64 `json:"preset_amounts"`
	CampaignOver     bool    `json:"campaign_over"`
}

// Action is a button on a result card.
type Action struct {
	Label    string `json:"label"`
	Endpoint string `json:"endpoint"`
}

// SuccessCard is the donor-facing confirmation.
type SuccessCard struct {
	Title     string `json:"title"`
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
	OrderID   string `json:"order_id"`
	Date      string `json:"date"`
	Status    string `json:"status"`
	Method    string `json:"method"`
	Primary   Action `json:"primary_action"`
}

// ErrorCard is the donor-facing failure notice.
type ErrorCard struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	Primary   Action `json:"primary_action"`
	Secondary Action `json:"secondary_action"`
}

// CheckoutView is the JSON shape of one checkout session.
type CheckoutView struct {
	ID              string       `json:"id"`
	Stage           string       `json:"stage"`
	Amount          int64        `json:"amount"`
	AmountLabel     string       `json:"amount_label"`
	DonorName       string       `json:"donor_name"`
	DonorEmail      string       `json:"donor_email"`
	DonorMobile     string       `json:"donor_mobile"`
	CaptchaVerified bool         `json:"captcha_verified"`
	Message         string       `json:"message,omitempty"`
	OrderID         string       `json:"order_id,omitempty"`
	Busy            bool         `json:"busy"`
	AwaitingGateway bool         `json:"awaiting_gateway"`
	Success         *SuccessCard `json:"success,omitempty"`
	Error           *ErrorCard   `json:"error,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func newCheckoutView(snap checkout.Snapshot, currency string, loc *time.Location) CheckoutView {
	view := CheckoutView{
		ID:              snap.ID,
		Stage:           snap.Stage.Kind().String(),
		Amount:          snap.Intent.Amount,
		AmountLabel:     display.FormatAmount(snap.Intent.Subunits(), currency),
		DonorName:       snap.Intent.DonorName,
		DonorEmail:      snap.Intent.DonorEmail,
		DonorMobile:     snap.Intent.DonorMobile,
		CaptchaVerified: snap.CaptchaVerified,
		Message:         snap.Message,
		Busy:            snap.Busy,
		AwaitingGateway: snap.AwaitingGateway,
		UpdatedAt:       snap.UpdatedAt,
	}
	if snap.Order != nil {
		view.OrderID = snap.Order.ID
	}

	switch stage := snap.Stage.(type) {
	case checkout.SuccessStage:
		info := stage.Info
		view.Success = &SuccessCard{
			Title:     info.Title,
			Amount:    display.FormatAmount(info.Amount, info.Currency),
			Reference: orNA(info.PaymentID),
			OrderID:   orNA(info.OrderID),
			Date:      display.FormatDate(info.CompletedAt.Format(time.RFC3339), loc),
			Status:    display.StatusLabel(orNA(info.Status)),
			Method:    orNA(info.Method),
			Primary:   Action{Label: "Continue", Endpoint: "/api/checkout/donate-again"},
		}
	case checkout.ErrorStage:
		info := stage.Info
		view.Error = &ErrorCard{
			Title:     info.Title,
			Message:   info.Message,
			Code:      info.Code,
			PaymentID: info.PaymentID,
			OrderID:   info.OrderID,
			Primary:   Action{Label: "Try again", Endpoint: "/api/checkout/try-again"},
			Secondary: Action{Label: "Change amount", Endpoint: "/api/checkout/change-amount"},
		}
	}
	return view
}

// TransactionRow is one dashboard row with its display fields.
type TransactionRow struct {
	backend.TransactionRecord
	Serial      int    `json:"serial"`
	DonorLabel  string `json:"donor_label"`
	StatusLabel string `json:"status_label"`
	StatusBadge string `json:"status_badge"`
	DateLabel   string `json:"date_label"`
	AmountLabel string `json:"amount_label"`
	MethodLabel string `json:"method_label"`
	Refreshing  bool   `json:"refreshing"`
}

func newTransactionRow(rec backend.TransactionRecord, serial int, loc *time.Location) TransactionRow {
	donor := rec.DonorName()
	if donor == "" {
		donor = display.Anonymous
	}
	return TransactionRow{
		TransactionRecord: rec,
		Serial:            serial,
		DonorLabel:        donor,
		StatusLabel:       display.StatusLabel(rec.Status),
		StatusBadge:       display.StatusBadge(rec.Status),
		DateLabel:         display.FormatDate(rec.LatestTimestamp(), loc),
		AmountLabel:       display.FormatAmount(rec.AmountPaise, rec.Currency),
		MethodLabel:       display.OrNotAvailable(rec.Method),
	}
}

// TransactionsPage is the JSON shape of GET /dashboard/transactions.
type TransactionsPage struct {
	Rows        []TransactionRow `json:"rows"`
	Page        int              `json:"page"`
	PageSize    int              `json:"page_size"`
	HasNextPage bool             `json:"has_next_page"`
	Mode        string           `json:"mode"`
	StartIndex  int              `json:"start_index"`
	Total       int              `json:"total,omitempty"`
	Status      string           `json:"status"`
	Sort        string           `json:"sort"`
	Query       string           `json:"query"`
	Error       string           `json:"error,omitempty"`
}

func newTransactionsPage(view transactions.View, loc *time.Location) TransactionsPage {
	refreshing := make(map[string]bool, len(view.Refreshing))
	for _, id := range view.Refreshing {
		refreshing[id] = true
	}
	rows := make([]TransactionRow, 0, len(view.Rows))
	for i, rec := range view.Rows {
		row := newTransactionRow(rec, view.StartIndex+i+1, loc)
		row.Refreshing = refreshing[rec.OrderID]
		rows = append(rows, row)
	}
	return TransactionsPage{
		Rows:        rows,
		Page:        view.Page,
		PageSize:    view.PageSize,
		HasNextPage: view.HasNextPage,
		Mode:        string(view.Mode),
		StartIndex:  view.StartIndex,
		Total:       view.Total,
		Status:      string(view.Filters.Status),
		Sort:        string(view.Filters.Sort),
		Query:       view.Filters.Query,
		Error:       view.Error,
	}
}

// StatsView is the statistics panel.
type StatsView struct {
	backend.Statistics
	TotalCapturedLabel string `json:"total_captured_label"`
}

func orNA(value string) string {
	if value == "" {
		return display.NotAvailable
	}
	return value
}
