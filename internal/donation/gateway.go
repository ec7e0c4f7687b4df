package donation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sahara-drive/donation-portal/internal/checkout"
)

// ErrUnknownSession is returned when the browser reports an outcome for an
// order with no open gateway session.
var ErrUnknownSession = errors.New("no open gateway session for this order")

type pendingSession struct {
	handle    checkout.SessionHandle
	callbacks checkout.SessionCallbacks
	openedAt  time.Time
}

// WebGateway is the server half of the hosted checkout. Opening a session only
// records its callbacks; the browser runs the hosted checkout and reports the
// outcome, which is delivered through Complete, Fail or Dismiss.
type WebGateway struct {
	mu      sync.Mutex
	pending map[string]pendingSession
}

// NewWebGateway returns a gateway with no open sessions.
func NewWebGateway() *WebGateway {
	return &WebGateway{pending: make(map[string]pendingSession)}
}

// CreateSession implements checkout.Gateway.
func (g *WebGateway) CreateSession(_ context.Context, opts checkout.SessionOptions, callbacks checkout.SessionCallbacks) (checkout.SessionHandle, error) {
	if opts.OrderID == "" {
		return checkout.SessionHandle{}, errors.New("gateway session needs an order id")
	}
	handle := checkout.SessionHandle{ID: uuid.NewString(), OrderID: opts.OrderID}
	g.mu.Lock()
	g.pending[opts.OrderID] = pendingSession{handle: handle, callbacks: callbacks, openedAt: time.Now()}
	g.mu.Unlock()
	return handle, nil
}

// Complete delivers a successful payment.
func (g *WebGateway) Complete(ctx context.Context, orderID string, result checkout.GatewaySuccess) error {
	session, err := g.take(orderID)
	if err != nil {
		return err
	}
	session.callbacks.OnSuccess(ctx, result)
	return nil
}

// Fail delivers a failed payment.
func (g *WebGateway) Fail(ctx context.Context, orderID string, failure checkout.GatewayFailure) error {
	session, err := g.take(orderID)
	if err != nil {
		return err
	}
	session.callbacks.OnFailure(ctx, failure)
	return nil
}

// Dismiss delivers a closed checkout.
func (g *WebGateway) Dismiss(ctx context.Context, orderID string) error {
	session, err := g.take(orderID)
	if err != nil {
		return err
	}
	session.callbacks.OnDismiss(ctx)
	return nil
}

// Open reports whether orderID has an open session.
func (g *WebGateway) Open(orderID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[orderID]
	return ok
}

// Cleanup forgets sessions opened before cutoff unless a checkout still
// awaits their outcome.
func (g *WebGateway) Cleanup(cutoff time.Time, awaited func(orderID string) bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for id, session := range g.pending {
		if awaited != nil && awaited(id) {
			continue
		}
		if session.openedAt.Before(cutoff) {
			delete(g.pending, id)
			removed++
		}
	}
	return removed
}

// take removes the session so each one gets exactly one outcome.
func (g *WebGateway) take(orderID string) (pendingSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.pending[orderID]
	if !ok {
		return pendingSession{}, ErrUnknownSession
	}
	delete(g.pending, orderID)
	return session, nil
}
