package collaborators

import (
	"context"
	stderrors "errors"
	"net/http"

	"mf-loan-eligibility/internal/common/errors"
	httpclient "mf-loan-eligibility/internal/common/http"
	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/eligibility/flow"
)

const panVerifyPath = "/v1/pan/verify"

type panVerifyRequest struct {
	PAN          string `json:"pan"`
	MobileNumber string `json:"mobileNumber"`
}

type panVerifyResponse struct {
	PANValid     bool `json:"panValid"`
	MobileLinked bool `json:"mobileLinked"`
}

// PANRegistry asks the KYC registry whether a PAN is linked to a mobile
// number.
type PANRegistry struct {
	client *httpclient.Client
	log    logger.Logger
}

func NewPANRegistry(client *httpclient.Client, log logger.Logger) *PANRegistry {
	return &PANRegistry{client: client, log: log.Named("pan-registry")}
}

// VerifyPAN reports a mismatch when the registry does not know the PAN or
// does not link it to mobile.
func (r *PANRegistry) VerifyPAN(ctx context.Context, pan, mobile string) (flow.PANVerdict, error) {
	var resp panVerifyResponse
	err := r.client.PostJSON(ctx, panVerifyPath, panVerifyRequest{PAN: pan, MobileNumber: mobile}, &resp)

	var statusErr *httpclient.StatusError
	if stderrors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return flow.PANVerdict{Mismatch: true}, nil
	}
	if err != nil {
		return flow.PANVerdict{}, errors.NewExternalServiceError("pan-registry", err)
	}

	mismatch := !resp.PANValid || !resp.MobileLinked
	r.log.Debug("pan verified", map[string]interface{}{
		"panValid":     resp.PANValid,
		"mobileLinked": resp.MobileLinked,
	})
	return flow.PANVerdict{Mismatch: mismatch}, nil
}
