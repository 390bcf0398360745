package models

// OfferQuote is one lender's proposed loan terms against pledged holdings.
type OfferQuote struct {
	LenderName         string   `json:"lenderName"`
	LoanAmount         int64    `json:"loanAmount"`        // whole rupees
	AnnualRate         float64  `json:"annualRate"`        // percent
	ProcessingFeeRate  float64  `json:"processingFeeRate"` // percent
	TenureMonths       int      `json:"tenureMonths"`
	EligibleHoldings   []string `json:"eligibleHoldings"`
	IneligibleHoldings []string `json:"ineligibleHoldings"`
}

// HoldingsOverlap returns the first holding listed as both eligible and
// ineligible, and whether one exists.
func (q OfferQuote) HoldingsOverlap() (string, bool) {
	eligible := make(map[string]struct{}, len(q.EligibleHoldings))
	for _, h := range q.EligibleHoldings {
		eligible[h] = struct{}{}
	}
	for _, h := range q.IneligibleHoldings {
		if _, ok := eligible[h]; ok {
			return h, true
		}
	}
	return "", false
}

// Clone returns a deep copy so callers cannot alias session state.
func (q OfferQuote) Clone() OfferQuote {
	out := q
	out.EligibleHoldings = append([]string(nil), q.EligibleHoldings...)
	out.IneligibleHoldings = append([]string(nil), q.IneligibleHoldings...)
	return out
}

// CloneQuotes deep-copies a slice of quotes, preserving nil.
func CloneQuotes(quotes []OfferQuote) []OfferQuote {
	if quotes == nil {
		return nil
	}
	out := make([]OfferQuote, len(quotes))
	for i, q := range quotes {
		out[i] = q.Clone()
	}
	return out
}
