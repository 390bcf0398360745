package evaluatelenderoffers

import "mf-loan-eligibility/internal/models"

type Input struct {
	Offers []models.OfferQuote `json:"offers"`
}

type Output struct {
	BestOffer    *models.OfferQuote  `json:"bestOffer"`
	OtherOffers  []models.OfferQuote `json:"otherOffers"`
	OfferCount   int                 `json:"offerCount"`
	HasBestOffer bool                `json:"hasBestOffer"`
	DroppedCount int                 `json:"droppedCount"`
}

const inputSchema = `{
  "type": "object",
  "required": ["offers"],
  "properties": {
    "offers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["lenderName", "annualRate"],
        "properties": {
          "lenderName": {"type": "string", "minLength": 1},
          "loanAmount": {"type": "integer", "minimum": 0},
          "annualRate": {"type": "number", "minimum": 0},
          "processingFeeRate": {"type": "number", "minimum": 0},
          "tenureMonths": {"type": "integer", "minimum": 0},
          "eligibleHoldings": {"type": ["array", "null"], "items": {"type": "string"}},
          "ineligibleHoldings": {"type": ["array", "null"], "items": {"type": "string"}}
        }
      }
    }
  }
}`
