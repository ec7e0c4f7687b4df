package receipt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sahara-drive/donation-portal/internal/checkout"
	"github.com/sahara-drive/donation-portal/internal/display"
	log "github.com/sirupsen/logrus"
)

const subject = "Thank you for your donation"

var (
	ErrNoRecipient    = errors.New("receipt: donor gave no email")
	ErrInvalidAddress = errors.New("receipt: invalid email address")
	ErrMissingPayment = errors.New("receipt: payment id is empty")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Receipt is what the donor is told about a verified payment.
type Receipt struct {
	DonorName string
	Email     string
	Amount    int64
	Currency  string
	PaymentID string
	OrderID   string
	At        time.Time
}

// Validate checks the receipt can be delivered.
func (r Receipt) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return ErrNoRecipient
	}
	if !emailRegex.MatchString(r.Email) {
		return ErrInvalidAddress
	}
	if strings.TrimSpace(r.PaymentID) == "" {
		return ErrMissingPayment
	}
	return nil
}

// Body renders the plain-text email body.
func (r Receipt) Body(loc *time.Location) string {
	name := strings.TrimSpace(r.DonorName)
	if name == "" {
		name = "there"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	fmt.Fprintf(&b, "We received your donation of %s.\n\n", display.FormatAmount(r.Amount, r.Currency))
	fmt.Fprintf(&b, "Payment reference: %s\n", r.PaymentID)
	if r.OrderID != "" {
		fmt.Fprintf(&b, "Order: %s\n", r.OrderID)
	}
	fmt.Fprintf(&b, "Date: %s\n\n", display.FormatDate(r.At.UTC().Format(time.RFC3339), loc))
	b.WriteString("Your generosity makes a real difference. Thank you for supporting the drive.\n")
	return b.String()
}

// Service sends receipts, retrying transient SMTP failures with backoff.
type Service struct {
	sender       EmailSender
	loc          *time.Location
	maxAttempts  int
	initialDelay time.Duration
}

// NewService returns a receipt service. loc controls how dates are printed.
func NewService(sender EmailSender, loc *time.Location) *Service {
	return &Service{sender: sender, loc: loc, maxAttempts: 3, initialDelay: time.Second}
}

// Send validates and delivers r.
func (s *Service) Send(ctx context.Context, r Receipt) error {
	if err := r.Validate(); err != nil {
		return err
	}
	body := r.Body(s.loc)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	delay := s.initialDelay
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err = s.sender.SendEmail(ctx, r.Email, subject, body); err == nil {
			log.WithFields(log.Fields{"payment_id": r.PaymentID, "attempt": attempt}).Info("donation receipt sent")
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}
		log.WithFields(log.Fields{
			"attempt":      attempt,
			"max_attempts": s.maxAttempts,
			"payment_id":   r.PaymentID,
			"error":        err,
		}).Warn("failed to send receipt, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("sending receipt for %s: %w", r.PaymentID, err)
}

// Hook returns a checkout transition hook that mails a receipt after each
// verified payment. Delivery runs in the background so checkout never waits on SMTP.
func (s *Service) Hook() checkout.TransitionHook {
	return func(ctx context.Context, t checkout.Transition) {
		if t.Event != "payment_verified" || t.DonorEmail == "" {
			return
		}
		r := Receipt{
			DonorName: t.DonorName,
			Email:     t.DonorEmail,
			Amount:    t.Amount,
			Currency:  t.Currency,
			PaymentID: t.PaymentID,
			OrderID:   t.OrderID,
			At:        t.At,
		}
		go func() {
			if err := s.Send(context.WithoutCancel(ctx), r); err != nil {
				log.WithError(err).WithField("payment_id", r.PaymentID).Error("donation receipt not delivered")
			}
		}()
	}
}
