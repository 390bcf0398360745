package flow

import (
	"strings"

	"mf-loan-eligibility/internal/eligibility/offers"
	"mf-loan-eligibility/internal/models"
)

// View is the read-only projection handed to the presentation layer. It
// never carries the OTP code.
type View struct {
	Step                 Step                `json:"step"`
	StepName             string              `json:"stepName"`
	MobileNumber         string              `json:"mobileNumber,omitempty"`
	MaskedMobile         string              `json:"maskedMobile,omitempty"`
	OTPSent              bool                `json:"otpSent"`
	OTPVerified          bool                `json:"otpVerified"`
	AccountExists        bool                `json:"accountExists"`
	UserIntent           models.Intent       `json:"userIntent,omitempty"`
	PANNumber            string              `json:"panNumber,omitempty"`
	PANVerified          bool                `json:"panVerified"`
	PANPhoneMismatch     bool                `json:"panPhoneMismatch"`
	HasInvestments       bool                `json:"hasInvestments"`
	OffersStatus         OffersStatus        `json:"offersStatus"`
	Offers               []models.OfferQuote `json:"offers"`
	BestOffer            *models.OfferQuote  `json:"bestOffer,omitempty"`
	OtherOffers          []models.OfferQuote `json:"otherOffers,omitempty"`
	DisplayOffer         *models.OfferQuote  `json:"displayOffer,omitempty"`
	FallbackOffer        bool                `json:"fallbackOffer"`
	OfferDetailsExpanded bool                `json:"offerDetailsExpanded"`
	SanctionReference    string              `json:"sanctionReference,omitempty"`
	Busy                 bool                `json:"busy"`
}

// MaskMobile hides all but the last four digits: "******3210".
func MaskMobile(mobile string) string {
	if len(mobile) <= 4 {
		return mobile
	}
	return strings.Repeat("*", len(mobile)-4) + mobile[len(mobile)-4:]
}

func buildView(s Session, busy bool) View {
	v := View{
		Step:                 s.Step,
		StepName:             s.Step.String(),
		MobileNumber:         s.MobileNumber,
		MaskedMobile:         MaskMobile(s.MobileNumber),
		OTPSent:              s.OTPSent,
		OTPVerified:          s.OTPVerified,
		AccountExists:        s.AccountExists,
		UserIntent:           s.UserIntent,
		PANNumber:            s.PANNumber,
		PANVerified:          s.PANVerified,
		PANPhoneMismatch:     s.PANPhoneMismatch,
		HasInvestments:       s.HasInvestments,
		OffersStatus:         s.OffersStatus,
		Offers:               s.Offers,
		BestOffer:            s.BestOffer,
		OtherOffers:          s.OtherOffers,
		OfferDetailsExpanded: s.OfferDetailsExpanded,
		SanctionReference:    s.SanctionReference,
		Busy:                 busy,
	}
	if v.Offers == nil {
		v.Offers = []models.OfferQuote{}
	}

	if s.Step == StepOffers && s.BestOffer == nil {
		offer, fallback := soleOrFallback(s.Offers)
		v.DisplayOffer = &offer
		v.FallbackOffer = fallback
	}
	return v
}

// soleOrFallback picks what step 6 shows when no best offer exists: the lone
// quote, or the default partner quote when none was sourced.
func soleOrFallback(quotes []models.OfferQuote) (models.OfferQuote, bool) {
	if len(quotes) > 0 {
		return quotes[0].Clone(), false
	}
	return offers.DefaultPartnerOffer(), true
}
