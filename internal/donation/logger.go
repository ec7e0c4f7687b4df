package donation

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/sahara-drive/donation-portal/internal/checkout"
	"github.com/sahara-drive/donation-portal/internal/transactions"
	log "github.com/sirupsen/logrus"
)

// sensitivePatterns defines patterns for sensitive information that should be filtered.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(access_key|accesskey)["\s:=]+["\s]*([^"\s,}&]+)`),
	regexp.MustCompile(`(?i)(razorpay_signature|signature)["\s:=]+["\s]*([^"\s,}&]+)`),
	regexp.MustCompile(`(?i)(turnstile_token|captcha_token|cf-turnstile-response)["\s:=]+["\s]*([^"\s,}&]+)`),
	regexp.MustCompile(`(?i)(key_secret|keysecret)["\s:=]+["\s]*([^"\s,}&]+)`),
	regexp.MustCompile(`(?i)(password)["\s:=]+["\s]*([^"\s,}&]+)`),
	regexp.MustCompile(`(?i)(bearer\s+)([^\s"]+)`),
}

// sensitiveKeys defines keys that should be redacted in log fields.
var sensitiveKeys = map[string]bool{
	"access_key":         true,
	"signature":          true,
	"razorpay_signature": true,
	"captcha_token":      true,
	"turnstile_token":    true,
	"token":              true,
	"key_secret":         true,
	"password":           true,
}

// DonationLogger provides structured logging for checkout and dashboard events.
type DonationLogger struct {
	logger *log.Entry
}

// NewDonationLogger creates a new donation logger.
func NewDonationLogger() *DonationLogger {
	return &DonationLogger{
		logger: log.WithField("component", "donation"),
	}
}

// TransitionHook returns a checkout hook that logs every recorded transition.
func (l *DonationLogger) TransitionHook() checkout.TransitionHook {
	return func(_ context.Context, t checkout.Transition) {
		l.LogTransition(t)
	}
}

// LogTransition logs one checkout transition under an event name matching its kind.
func (l *DonationLogger) LogTransition(t checkout.Transition) {
	fields := log.Fields{
		"event":       "checkout_stage",
		"checkout_id": t.CheckoutID,
		"transition":  t.Event,
		"from":        t.From.String(),
		"to":          t.To.String(),
		"timestamp":   t.At.UTC().Format(time.RFC3339),
	}
	if t.OrderID != "" {
		fields["order_id"] = t.OrderID
	}
	if t.PaymentID != "" {
		fields["payment_id"] = t.PaymentID
	}

	switch t.Event {
	case "order_created":
		fields["event"] = "order_created"
		fields["amount"] = t.Amount
		fields["currency"] = t.Currency
		l.logger.WithFields(fields).Info("order created")
	case "payment_verified":
		fields["event"] = "payment_verified"
		fields["amount"] = t.Amount
		fields["currency"] = t.Currency
		l.logger.WithFields(fields).Info("payment verified")
	case "order_failed", "verification_failed", "payment_failed":
		fields["message"] = filterSensitive(t.Message)
		l.logger.WithFields(fields).Warn("checkout attempt failed")
	default:
		l.logger.WithFields(fields).Debug("checkout stage changed")
	}
}

// LogRefresh logs a dashboard single-record refresh.
func (l *DonationLogger) LogRefresh(n transactions.Notification) {
	l.logger.WithFields(log.Fields{
		"event":           "transaction_refreshed",
		"order_id":        n.OrderID,
		"previous_status": n.PreviousStatus,
		"status":          n.Status,
		"changed":         n.Changed,
		"timestamp":       n.At.UTC().Format(time.RFC3339),
	}).Info("transaction refreshed")
}

// LogLogin logs a dashboard login attempt.
func (l *DonationLogger) LogLogin(clientIP, provider string, err error) {
	fields := log.Fields{
		"event":     "dashboard_login",
		"client_ip": clientIP,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		fields["error"] = filterSensitive(err.Error())
		l.logger.WithFields(fields).Warn("dashboard login rejected")
		return
	}
	fields["provider"] = provider
	l.logger.WithFields(fields).Info("dashboard login")
}

// LogLogout logs a dashboard logout.
func (l *DonationLogger) LogLogout(clientIP string) {
	l.logger.WithFields(log.Fields{
		"event":     "dashboard_logout",
		"client_ip": clientIP,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}).Info("dashboard logout")
}

// LogError logs an error with context.
func (l *DonationLogger) LogError(operation string, err error, context map[string]interface{}) {
	fields := log.Fields{
		"event":     "error",
		"operation": operation,
		"error":     filterSensitive(err.Error()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range FilterSensitiveFields(context) {
		fields[k] = v
	}
	l.logger.WithFields(fields).Error("operation failed")
}

// filterSensitive removes sensitive information from a string.
func filterSensitive(s string) string {
	result := s
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			// Keep the key name but redact the value
			parts := pattern.FindStringSubmatch(match)
			if len(parts) >= 2 {
				return strings.Replace(match, parts[len(parts)-1], "[REDACTED]", 1)
			}
			return "[REDACTED]"
		})
	}
	return result
}

// FilterSensitiveFields filters sensitive fields from a map.
func FilterSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			result[k] = "[REDACTED]"
		} else if str, ok := v.(string); ok {
			result[k] = filterSensitive(str)
		} else {
			result[k] = v
		}
	}
	return result
}
