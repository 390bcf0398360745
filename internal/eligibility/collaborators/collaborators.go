// Package collaborators holds the production adapters behind the flow
// collaborator interfaces: Postgres account and lender lookups, the Redis/SNS
// OTP gateway, the KYC PAN registry, Elasticsearch holdings search and the
// Zeebe/SES credit sanction desk.
package collaborators

import (
	"time"

	"mf-loan-eligibility/internal/common/database"
	httpclient "mf-loan-eligibility/internal/common/http"
	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/eligibility/flow"
)

// Deps carries the shared infrastructure handles the adapters are built on.
type Deps struct {
	Postgres      *database.PostgresClient
	Redis         *database.RedisClient
	Elasticsearch *database.ElasticsearchClient
	PANClient     *httpclient.Client
	SMS           SMSSender
	Processes     ProcessStarter
	Email         EmailSender

	MobileCacheTTL    time.Duration
	OTPExpiry         time.Duration
	OTPMaxAttempts    int
	OTPSecret         []byte
	SanctionProcessID string
	SanctionDeskEmail string

	Logger logger.Logger
}

// New wires every adapter into a flow.Collaborators set.
func New(d Deps) flow.Collaborators {
	log := d.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	otp := NewOTPGateway(d.Redis, d.SMS, d.OTPSecret, d.OTPExpiry, d.OTPMaxAttempts, log)
	return flow.Collaborators{
		Mobile:   NewMobileRegistry(d.Postgres, d.Redis, d.MobileCacheTTL, log),
		OTP:      otp,
		PAN:      NewPANRegistry(d.PANClient, log),
		Holdings: NewHoldingsIndex(d.Elasticsearch, log),
		Offers:   NewLenderCatalog(d.Postgres, log),
		Sanction: NewSanctionDesk(d.Processes, d.SanctionProcessID, d.Email, d.SanctionDeskEmail, log),
	}
}
