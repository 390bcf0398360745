package collaborators

import (
	"context"

	"mf-loan-eligibility/internal/common/database"
	"mf-loan-eligibility/internal/common/errors"
	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/models"

	"github.com/lib/pq"
)

const lenderOffersQuery = `
	SELECT lender_name, loan_amount, annual_rate, processing_fee_rate, tenure_months,
	       eligible_holdings, ineligible_holdings
	FROM lender_offers
	WHERE active = TRUE
	  AND (intents IS NULL OR $1 = ANY(intents))
	ORDER BY display_order, lender_name`

// LenderCatalog sources quotes from the partner lender offer table.
type LenderCatalog struct {
	db  *database.PostgresClient
	log logger.Logger
}

func NewLenderCatalog(db *database.PostgresClient, log logger.Logger) *LenderCatalog {
	return &LenderCatalog{db: db, log: log.Named("lender-catalog")}
}

// SourceOffers returns the active quotes open to the applicant's intent, in
// catalog display order.
func (l *LenderCatalog) SourceOffers(ctx context.Context, profile models.ApplicantProfile) ([]models.OfferQuote, error) {
	rows, err := l.db.DB.QueryContext(ctx, lenderOffersQuery, string(profile.Intent))
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("lender_offers", err)
	}
	defer rows.Close()

	quotes := make([]models.OfferQuote, 0)
	for rows.Next() {
		var q models.OfferQuote
		if err := rows.Scan(
			&q.LenderName,
			&q.LoanAmount,
			&q.AnnualRate,
			&q.ProcessingFeeRate,
			&q.TenureMonths,
			pq.Array(&q.EligibleHoldings),
			pq.Array(&q.IneligibleHoldings),
		); err != nil {
			return nil, errors.NewQueryExecutionFailedError("lender_offers", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("lender_offers", err)
	}

	l.log.Info("lender offers sourced", map[string]interface{}{
		"count":  len(quotes),
		"intent": string(profile.Intent),
	})
	return quotes, nil
}
