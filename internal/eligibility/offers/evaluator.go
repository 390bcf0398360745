// Package offers ranks lender quotes for the eligibility wizard.
package offers

import "mf-loan-eligibility/internal/models"

// Evaluation is the outcome of ranking a set of quotes.
//
// Best is set only when two or more quotes were offered; a lone quote is
// shown as-is and never labelled best. Others holds the remaining quotes in
// input order and is empty for zero quotes and nil for one.
type Evaluation struct {
	Best   *models.OfferQuote  `json:"bestOffer,omitempty"`
	Others []models.OfferQuote `json:"otherOffers"`
}

// Evaluate selects the quote with the lowest annual rate. Ties go to the
// earliest quote. The best quote is excluded from Others by lender name.
func Evaluate(quotes []models.OfferQuote) Evaluation {
	switch len(quotes) {
	case 0:
		return Evaluation{Others: []models.OfferQuote{}}
	case 1:
		return Evaluation{}
	}

	bestIdx := 0
	for i := 1; i < len(quotes); i++ {
		if quotes[i].AnnualRate < quotes[bestIdx].AnnualRate {
			bestIdx = i
		}
	}

	best := quotes[bestIdx].Clone()
	others := make([]models.OfferQuote, 0, len(quotes)-1)
	for _, q := range quotes {
		if q.LenderName == best.LenderName {
			continue
		}
		others = append(others, q.Clone())
	}

	return Evaluation{Best: &best, Others: others}
}

// DefaultPartnerOffer is the fixed single-partner quote shown when no lender
// returned terms. It is never produced by Evaluate.
func DefaultPartnerOffer() models.OfferQuote {
	return models.OfferQuote{
		LenderName:        "DEF Finance",
		LoanAmount:        300000,
		AnnualRate:        11.5,
		ProcessingFeeRate: 1.8,
		TenureMonths:      24,
	}
}
