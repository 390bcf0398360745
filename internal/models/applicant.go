package models

import "time"

// Intent is the applicant's stated borrowing horizon. It is recorded and
// forwarded to offer sourcing but never changes the flow.
type Intent string

const (
	IntentExploring Intent = "exploring"
	IntentFuture    Intent = "future"
	IntentNow       Intent = "now"
)

// Intents lists every accepted intent in display order.
var Intents = []Intent{IntentExploring, IntentFuture, IntentNow}

func (i Intent) Valid() bool {
	for _, known := range Intents {
		if i == known {
			return true
		}
	}
	return false
}

// ApplicantProfile is what offer sourcing learns about the applicant.
type ApplicantProfile struct {
	MobileNumber string `json:"mobileNumber"`
	PANNumber    string `json:"panNumber"`
	Intent       Intent `json:"intent"`
}

// SanctionRequest hands a chosen offer to the credit sanction desk.
type SanctionRequest struct {
	Reference    string           `json:"reference"`
	Applicant    ApplicantProfile `json:"applicant"`
	Offer        OfferQuote       `json:"offer"`
	FallbackUsed bool             `json:"fallbackUsed"`
	RequestedAt  time.Time        `json:"requestedAt"`
}
