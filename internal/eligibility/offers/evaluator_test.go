package offers

import (
	"testing"

	"mf-loan-eligibility/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quote(lender string, rate float64) models.OfferQuote {
	return models.OfferQuote{LenderName: lender, AnnualRate: rate, LoanAmount: 100000, TenureMonths: 12}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		quotes     []models.OfferQuote
		wantBest   string
		wantOthers []string
	}{
		{
			name:       "empty",
			quotes:     nil,
			wantOthers: []string{},
		},
		{
			name:       "lowest rate wins",
			quotes:     []models.OfferQuote{quote("ABC Bank", 10.5), quote("XYZ Finance", 11.2)},
			wantBest:   "ABC Bank",
			wantOthers: []string{"XYZ Finance"},
		},
		{
			name:       "lowest rate later in input",
			quotes:     []models.OfferQuote{quote("XYZ Finance", 11.2), quote("PQR Capital", 12.0), quote("ABC Bank", 10.5)},
			wantBest:   "ABC Bank",
			wantOthers: []string{"XYZ Finance", "PQR Capital"},
		},
		{
			name:       "tie keeps first seen",
			quotes:     []models.OfferQuote{quote("ABC Bank", 10.5), quote("XYZ Finance", 10.5)},
			wantBest:   "ABC Bank",
			wantOthers: []string{"XYZ Finance"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Evaluate(tt.quotes)

			if tt.wantBest == "" {
				assert.Nil(t, result.Best)
			} else {
				require.NotNil(t, result.Best)
				assert.Equal(t, tt.wantBest, result.Best.LenderName)
			}

			names := make([]string, 0, len(result.Others))
			for _, o := range result.Others {
				names = append(names, o.LenderName)
			}
			assert.Equal(t, tt.wantOthers, names)
		})
	}
}

func TestEvaluate_SingleQuoteIsNotBest(t *testing.T) {
	result := Evaluate([]models.OfferQuote{quote("ABC Bank", 10.5)})
	assert.Nil(t, result.Best)
	assert.Nil(t, result.Others)
}

func TestEvaluate_BestIsMemberOfInput(t *testing.T) {
	quotes := []models.OfferQuote{quote("XYZ Finance", 11.2), quote("ABC Bank", 10.5), quote("PQR Capital", 13)}
	result := Evaluate(quotes)

	require.NotNil(t, result.Best)
	assert.Contains(t, quotes, *result.Best)
	assert.Len(t, result.Others, len(quotes)-1)
}

func TestEvaluate_DoesNotAliasInput(t *testing.T) {
	quotes := []models.OfferQuote{
		{LenderName: "ABC Bank", AnnualRate: 10.5, EligibleHoldings: []string{"Axis Bluechip Fund"}},
		quote("XYZ Finance", 11.2),
	}
	result := Evaluate(quotes)
	result.Best.EligibleHoldings[0] = "mutated"

	assert.Equal(t, "Axis Bluechip Fund", quotes[0].EligibleHoldings[0])
}

func TestDefaultPartnerOffer(t *testing.T) {
	fallback := DefaultPartnerOffer()
	assert.Equal(t, "DEF Finance", fallback.LenderName)
	assert.Equal(t, int64(300000), fallback.LoanAmount)
	assert.Equal(t, 11.5, fallback.AnnualRate)
	assert.Equal(t, 1.8, fallback.ProcessingFeeRate)
	assert.Equal(t, 24, fallback.TenureMonths)
}
