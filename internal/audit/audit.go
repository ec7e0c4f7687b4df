// Package audit journals checkout transitions.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sahara-drive/donation-portal/internal/checkout"
	log "github.com/sirupsen/logrus"
)

// Sink stores checkout transitions.
type Sink interface {
	Record(ctx context.Context, t checkout.Transition) error
	Close()
}

// Hook adapts a sink to a checkout transition hook. Journal failures are logged
// and never affect the checkout.
func Hook(sink Sink) checkout.TransitionHook {
	return func(ctx context.Context, t checkout.Transition) {
		if err := sink.Record(context.WithoutCancel(ctx), t); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"checkout_id": t.CheckoutID,
				"event":       t.Event,
			}).Warn("failed to journal checkout transition")
		}
	}
}

// LogSink writes transitions to the process log.
type LogSink struct {
	entry *log.Entry
}

// NewLogSink returns a sink logging under component=audit.
func NewLogSink() *LogSink {
	return &LogSink{entry: log.WithField("component", "audit")}
}

func (s *LogSink) Record(_ context.Context, t checkout.Transition) error {
	s.entry.WithFields(log.Fields{
		"checkout_id": t.CheckoutID,
		"event":       t.Event,
		"from":        t.From.String(),
		"to":          t.To.String(),
		"order_id":    t.OrderID,
		"payment_id":  t.PaymentID,
		"amount":      t.Amount,
		"currency":    t.Currency,
	}).Debug("checkout transition")
	return nil
}

func (s *LogSink) Close() {}

const createTable = `
CREATE TABLE IF NOT EXISTS checkout_transitions (
    id          BIGSERIAL PRIMARY KEY,
    checkout_id TEXT        NOT NULL,
    event       TEXT        NOT NULL,
    from_stage  TEXT        NOT NULL,
    to_stage    TEXT        NOT NULL,
    order_id    TEXT,
    payment_id  TEXT,
    amount      BIGINT      NOT NULL DEFAULT 0,
    currency    TEXT,
    message     TEXT,
    occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS checkout_transitions_order_idx ON checkout_transitions (order_id);
`

const insertTransition = `
INSERT INTO checkout_transitions
    (checkout_id, event, from_stage, to_stage, order_id, payment_id, amount, currency, message, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`

// PostgresSink stores transitions in the checkout_transitions table. Donor
// name and email are not journaled.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn and creates the journal table when missing.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := pool.Exec(ctx, createTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: create table: %w", err)
	}
	log.Info("checkout audit journal ready")
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Record(ctx context.Context, t checkout.Transition) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.pool.Exec(ctx, insertTransition,
		t.CheckoutID, t.Event, t.From.String(), t.To.String(),
		nullable(t.OrderID), nullable(t.PaymentID), t.Amount, nullable(t.Currency), nullable(t.Message), t.At,
	); err != nil {
		return fmt.Errorf("failed to insert checkout transition: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() {
	s.pool.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
