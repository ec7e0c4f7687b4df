package checkout

import "time"

// StageKind names the four checkout stages.
type StageKind int

const (
	StageAmount StageKind = iota
	StageDetails
	StageSuccess
	StageError
)

func (k StageKind) String() string {
	switch k {
	case StageAmount:
		return "amount"
	case StageDetails:
		return "details"
	case StageSuccess:
		return "success"
	case StageError:
		return "error"
	default:
		return "unknown"
	}
}

// Stage is exactly one of AmountStage, DetailsStage, SuccessStage or ErrorStage.
type Stage interface {
	Kind() StageKind
	isStage()
}

// AmountStage is the initial stage where the donor picks an amount.
type AmountStage struct{}

// DetailsStage collects donor details and the captcha token.
type DetailsStage struct{}

// SuccessStage is reached once the backend confirms the payment.
type SuccessStage struct {
	Info SuccessInfo
}

// ErrorStage is reached when the attempt fails after the gateway session opened.
type ErrorStage struct {
	Info FailureInfo
}

func (AmountStage) Kind() StageKind  { return StageAmount }
func (DetailsStage) Kind() StageKind { return StageDetails }
func (SuccessStage) Kind() StageKind { return StageSuccess }
func (ErrorStage) Kind() StageKind   { return StageError }

func (AmountStage) isStage()  {}
func (DetailsStage) isStage() {}
func (SuccessStage) isStage() {}
func (ErrorStage) isStage()   {}

// SuccessInfo is what the success card shows. Amount is in subunits.
type SuccessInfo struct {
	Title       string
	Amount      int64
	Currency    string
	PaymentID   string
	OrderID     string
	Status      string
	Method      string
	CompletedAt time.Time
}

// FailureInfo is what the error card shows. Identifiers are empty when unknown.
type FailureInfo struct {
	Title     string
	Message   string
	Code      string
	PaymentID string
	OrderID   string
}
