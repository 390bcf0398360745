package flow

import (
	"fmt"

	"mf-loan-eligibility/internal/models"
)

// Step identifies a wizard screen.
type Step int

const (
	StepMobile   Step = 1
	StepOTP      Step = 2
	StepIntent   Step = 3
	StepPAN      Step = 4
	StepHoldings Step = 5
	StepOffers   Step = 6
)

func (s Step) String() string {
	switch s {
	case StepMobile:
		return "mobile"
	case StepOTP:
		return "otp"
	case StepIntent:
		return "intent"
	case StepPAN:
		return "pan"
	case StepHoldings:
		return "holdings"
	case StepOffers:
		return "offers"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// OffersStatus tracks the once-per-entry offer sourcing on step 5.
type OffersStatus string

const (
	OffersNotRequested OffersStatus = "not_requested"
	OffersPending      OffersStatus = "pending"
	OffersFailed       OffersStatus = "failed"
	OffersReady        OffersStatus = "ready"
)

// Session is the whole state of one applicant journey.
type Session struct {
	Step                 Step
	MobileNumber         string
	OTPSent              bool
	OTPCode              string
	OTPVerified          bool
	AccountExists        bool
	UserIntent           models.Intent
	PANNumber            string
	PANVerified          bool
	PANPhoneMismatch     bool
	HasInvestments       bool
	OffersStatus         OffersStatus
	Offers               []models.OfferQuote
	BestOffer            *models.OfferQuote
	OtherOffers          []models.OfferQuote
	OfferDetailsExpanded bool
	SanctionReference    string
	Generation           uint64
}

func newSession(generation uint64) Session {
	return Session{
		Step:         StepMobile,
		OffersStatus: OffersNotRequested,
		Generation:   generation,
	}
}

func (s Session) clone() Session {
	out := s
	out.Offers = models.CloneQuotes(s.Offers)
	out.OtherOffers = models.CloneQuotes(s.OtherOffers)
	if s.BestOffer != nil {
		best := s.BestOffer.Clone()
		out.BestOffer = &best
	}
	return out
}

func (s Session) profile() models.ApplicantProfile {
	return models.ApplicantProfile{
		MobileNumber: s.MobileNumber,
		PANNumber:    s.PANNumber,
		Intent:       s.UserIntent,
	}
}
