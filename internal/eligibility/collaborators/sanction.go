package collaborators

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mf-loan-eligibility/internal/common/errors"
	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/eligibility/flow"
	"mf-loan-eligibility/internal/models"
)

// ProcessStarter starts a BPMN process instance; satisfied by camunda.Client.
type ProcessStarter interface {
	StartProcess(ctx context.Context, processID string, variables map[string]interface{}) (int64, error)
}

// EmailSender delivers a plain-text email; satisfied by aws.EmailSender.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// SanctionDesk hands a chosen offer to the credit sanction process and
// notifies the sanction desk by email.
type SanctionDesk struct {
	processes ProcessStarter
	processID string
	email     EmailSender
	deskEmail string
	log       logger.Logger
}

func NewSanctionDesk(processes ProcessStarter, processID string, email EmailSender, deskEmail string, log logger.Logger) *SanctionDesk {
	return &SanctionDesk{
		processes: processes,
		processID: processID,
		email:     email,
		deskEmail: deskEmail,
		log:       log.Named("sanction-desk"),
	}
}

// SanctionVariables is the process variable set for a sanction request.
func SanctionVariables(req models.SanctionRequest) map[string]interface{} {
	return map[string]interface{}{
		"reference":         req.Reference,
		"mobileNumber":      req.Applicant.MobileNumber,
		"panNumber":         req.Applicant.PANNumber,
		"intent":            string(req.Applicant.Intent),
		"lenderName":        req.Offer.LenderName,
		"loanAmount":        req.Offer.LoanAmount,
		"annualRate":        req.Offer.AnnualRate,
		"processingFeeRate": req.Offer.ProcessingFeeRate,
		"tenureMonths":      req.Offer.TenureMonths,
		"fallbackUsed":      req.FallbackUsed,
		"requestedAt":       req.RequestedAt.Format(time.RFC3339),
	}
}

// RequestSanction starts the process and returns its instance key. A failed
// desk email is logged but does not fail the request.
func (d *SanctionDesk) RequestSanction(ctx context.Context, req models.SanctionRequest) (string, error) {
	key, err := d.processes.StartProcess(ctx, d.processID, SanctionVariables(req))
	if err != nil {
		return "", errors.NewSanctionFailedError(err)
	}
	instance := strconv.FormatInt(key, 10)

	d.log.Info("sanction process started", map[string]interface{}{
		"reference":          req.Reference,
		"processInstanceKey": key,
		"lender":             req.Offer.LenderName,
	})

	if d.email != nil && d.deskEmail != "" {
		subject := fmt.Sprintf("Credit sanction requested: %s", req.Reference)
		if _, err := d.email.SendEmail(ctx, d.deskEmail, subject, sanctionEmailBody(req, instance)); err != nil {
			d.log.Warn("sanction desk email failed", map[string]interface{}{
				"reference": req.Reference,
				"error":     err.Error(),
			})
		}
	}
	return instance, nil
}

func sanctionEmailBody(req models.SanctionRequest, instance string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reference: %s\n", req.Reference)
	fmt.Fprintf(&b, "Process instance: %s\n", instance)
	fmt.Fprintf(&b, "Applicant mobile: %s\n", flow.MaskMobile(req.Applicant.MobileNumber))
	fmt.Fprintf(&b, "Intent: %s\n", req.Applicant.Intent)
	fmt.Fprintf(&b, "Lender: %s\n", req.Offer.LenderName)
	fmt.Fprintf(&b, "Loan amount: %d\n", req.Offer.LoanAmount)
	fmt.Fprintf(&b, "Interest rate: %.2f%% p.a.\n", req.Offer.AnnualRate)
	fmt.Fprintf(&b, "Processing fee: %.2f%%\n", req.Offer.ProcessingFeeRate)
	fmt.Fprintf(&b, "Tenure: %d months\n", req.Offer.TenureMonths)
	if req.FallbackUsed {
		b.WriteString("Default partner offer used: no lender quote was available.\n")
	}
	return b.String()
}
