// Package receipt emails donors a confirmation once their payment is verified.
package receipt

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"github.com/sahara-drive/donation-portal/internal/config"
)

// EmailSender delivers a plain-text email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMTPEmailSender sends through an SMTP relay with PLAIN auth.
type SMTPEmailSender struct {
	host string
	port string
	user string
	pass string
	from string
}

// NewSMTPEmailSender builds a sender from the SMTP config block.
func NewSMTPEmailSender(cfg config.SMTPConfig) *SMTPEmailSender {
	return &SMTPEmailSender{host: cfg.Host, port: cfg.Port, user: cfg.User, pass: cfg.Password, from: cfg.From}
}

func (s *SMTPEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.pass, s.host)
	}

	e := email.NewEmail()
	e.From = s.from
	e.To = []string{to}
	e.Subject = subject
	e.Text = []byte(body)

	return e.Send(addr, auth)
}
