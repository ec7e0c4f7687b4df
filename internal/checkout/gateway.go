package checkout

import "context"

// SessionOptions is what the hosted checkout needs to open. Amount is in subunits.
type SessionOptions struct {
	Key         string            `json:"key"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	OrderID     string            `json:"order_id"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Prefill     map[string]string `json:"prefill,omitempty"`
	Theme       map[string]string `json:"theme,omitempty"`
}

// GatewaySuccess carries the identifiers the gateway hands back after capture.
type GatewaySuccess struct {
	OrderID   string
	PaymentID string
	Signature string
}

// GatewayFailure carries whatever the gateway reported about a failed payment.
type GatewayFailure struct {
	Code        string
	Description string
	PaymentID   string
	OrderID     string
}

// SessionCallbacks receive the outcome of a gateway session. Exactly one fires per session.
type SessionCallbacks struct {
	OnSuccess func(ctx context.Context, result GatewaySuccess)
	OnFailure func(ctx context.Context, failure GatewayFailure)
	OnDismiss func(ctx context.Context)
}

// SessionHandle identifies an open gateway session.
type SessionHandle struct {
	ID      string
	OrderID string
}

// Gateway opens hosted checkout sessions.
type Gateway interface {
	CreateSession(ctx context.Context, opts SessionOptions, callbacks SessionCallbacks) (SessionHandle, error)
}
