package checkout

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ValidationError is a recoverable input problem. Message is shown to the donor as is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var (
	ErrAmountRequired    = &ValidationError{Field: "amount", Message: "Please select or enter an amount."}
	ErrNameRequired      = &ValidationError{Field: "name", Message: "Please enter your name."}
	ErrInvalidMobile     = &ValidationError{Field: "mobile", Message: "Please enter a valid 10-digit mobile number."}
	ErrInvalidEmail      = &ValidationError{Field: "email", Message: "Please enter a valid email address."}
	ErrCaptchaRequired   = &ValidationError{Field: "captcha", Message: "Please complete the verification before continuing."}
	ErrGatewayKeyMissing = &ValidationError{Field: "gateway", Message: "Payment gateway is not configured. Please try again later."}
)

var (
	// ErrInvalidTransition is returned for actions the current stage does not offer.
	ErrInvalidTransition = errors.New("checkout: action not available in the current stage")
	// ErrInProgress is returned while an order is being created or a payment verified.
	ErrInProgress = errors.New("checkout: a payment is already in progress")
	// ErrOrderFailed wraps order creation and script load failures.
	ErrOrderFailed = errors.New("checkout: could not start payment")
)

const (
	msgCaptchaExpired  = "Verification expired. Please verify again."
	msgCaptchaError    = "Verification failed. Please refresh the challenge and try again."
	msgOrderFallback   = "Unable to create your donation order. Please try again."
	msgScriptFailed    = "Unable to load the payment gateway. Please check your connection and try again."
	msgSessionFailed   = "Unable to open the payment window. Please try again."
	msgNotConfirmed    = "Your payment was received by the gateway but the server did not confirm it. If money was deducted, contact us with the payment ID."
	msgPaymentFailed   = "The payment could not be completed."
	msgPaymentCanceled = "Payment was cancelled before completion. You can try again or change the amount."
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// Intent is the donor-entered data for one checkout attempt. Amount is in whole
// currency units until it is submitted.
type Intent struct {
	Amount       int64
	DonorName    string
	DonorEmail   string
	DonorMobile  string
	CaptchaToken string
}

// Subunits converts the amount for submission.
func (i Intent) Subunits() int64 {
	return i.Amount * 100
}

// ParseAmount keeps only the digits of raw. An empty or oversized result is 0.
func ParseAmount(raw string) int64 {
	digits := DigitsOnly(raw)
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n > maxAmount {
		return 0
	}
	return n
}

// maxAmount keeps Subunits well inside int64.
const maxAmount = 1_000_000_000

// DigitsOnly strips every non-digit rune.
func DigitsOnly(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// validate applies the details-stage guards in order.
func (i Intent) validate(gatewayKey string) error {
	switch {
	case strings.TrimSpace(i.DonorName) == "":
		return ErrNameRequired
	case i.Amount <= 0 || i.Amount > maxAmount:
		return ErrAmountRequired
	case len(DigitsOnly(i.DonorMobile)) < 10:
		return ErrInvalidMobile
	case i.DonorEmail != "" && !emailPattern.MatchString(i.DonorEmail):
		return ErrInvalidEmail
	case i.CaptchaToken == "":
		return ErrCaptchaRequired
	case strings.TrimSpace(gatewayKey) == "":
		return ErrGatewayKeyMissing
	}
	return nil
}
