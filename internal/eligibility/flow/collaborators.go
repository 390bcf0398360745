package flow

import (
	"context"

	"mf-loan-eligibility/internal/models"
)

// MobileCheck is the verdict of the mobile-existence check.
type MobileCheck struct {
	Exists bool
}

// OTPVerdict is the verdict of an OTP verification. Reason explains a
// rejection ("mismatch", "expired", "attempts_exceeded").
type OTPVerdict struct {
	Verified bool
	Reason   string
}

// PANVerdict reports whether the PAN is linked to a different phone number.
type PANVerdict struct {
	Mismatch bool
}

// HoldingsVerdict reports whether pledgeable holdings exist for the PAN.
type HoldingsVerdict struct {
	HasHoldings bool
}

type MobileRegistry interface {
	CheckMobileExists(ctx context.Context, mobileNumber string) (MobileCheck, error)
}

type OTPGateway interface {
	SendOTP(ctx context.Context, mobileNumber string) error
	VerifyOTP(ctx context.Context, mobileNumber, code string) (OTPVerdict, error)
}

type PANVerifier interface {
	VerifyPAN(ctx context.Context, pan, mobileNumber string) (PANVerdict, error)
}

type HoldingsLookup interface {
	LookupHoldings(ctx context.Context, pan string) (HoldingsVerdict, error)
}

type OfferSource interface {
	SourceOffers(ctx context.Context, profile models.ApplicantProfile) ([]models.OfferQuote, error)
}

// SanctionDesk accepts a chosen offer for credit sanction and returns the
// desk's reference for it.
type SanctionDesk interface {
	RequestSanction(ctx context.Context, req models.SanctionRequest) (string, error)
}

// Collaborators groups every external capability the controller consumes.
// Sanction may be nil when credit sanction is handled elsewhere.
type Collaborators struct {
	Mobile   MobileRegistry
	OTP      OTPGateway
	PAN      PANVerifier
	Holdings HoldingsLookup
	Offers   OfferSource
	Sanction SanctionDesk
}
