package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_Retryability(t *testing.T) {
	cause := stderrors.New("connection refused")

	tests := []struct {
		name      string
		err       *StandardError
		code      ErrorCode
		retryable bool
	}{
		{"invalid input", NewInvalidInputError("mobileNumber", "must be 10 digits"), ErrCodeInvalidInput, false},
		{"mismatch", NewPANPhoneMismatchError("******3210"), ErrCodePANPhoneMismatch, false},
		{"otp rejected", NewOTPRejectedError(""), ErrCodeOTPRejected, false},
		{"collaborator", NewCollaboratorUnavailableError("verifyPan", cause), ErrCodeCollaboratorUnavailable, true},
		{"step", NewStepNotApplicableError("submitOtp", 1), ErrCodeStepNotApplicable, false},
		{"in flight", NewOperationInFlightError("submitPan"), ErrCodeOperationInFlight, true},
		{"stale", NewStaleResultError("submitPan"), ErrCodeStaleResult, false},
		{"query", NewQueryExecutionFailedError("lender_offers", cause), ErrCodeQueryExecutionFailed, true},
		{"connection", NewDatabaseConnectionFailedError(cause), ErrCodeDatabaseConnectionFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.False(t, tt.err.Timestamp.IsZero())
		})
	}
}

func TestPANPhoneMismatchMessage(t *testing.T) {
	err := NewPANPhoneMismatchError("******3210")
	assert.Equal(t, "Your phone number ******3210 is not associated with your PAN", err.Message)
}

func TestHasCode_WrappedChain(t *testing.T) {
	cause := context.DeadlineExceeded
	stdErr := NewCollaboratorUnavailableError("lookupHoldings", cause)
	wrapped := fmt.Errorf("submit pan: %w", stdErr)

	assert.True(t, HasCode(wrapped, ErrCodeCollaboratorUnavailable))
	assert.False(t, HasCode(wrapped, ErrCodeInvalidInput))
	assert.True(t, stderrors.Is(wrapped, context.DeadlineExceeded))
	assert.False(t, HasCode(stderrors.New("plain"), ErrCodeInternal))
}

func TestConvertToBPMNError(t *testing.T) {
	stdErr := NewQueryExecutionFailedError("lender_offers", stderrors.New("timeout"))
	bpmnErr := ConvertToBPMNError(stdErr)

	assert.Equal(t, "QUERY_EXECUTION_FAILED", bpmnErr.Code)
	assert.Equal(t, 3, bpmnErr.Retries)
	assert.True(t, bpmnErr.Retryable)

	vars := bpmnErr.ToErrorVariables()
	assert.Equal(t, "QUERY_EXECUTION_FAILED", vars["originalErrorCode"])
	assert.Equal(t, "Database query execution error", vars["errorMessage"])
}

func TestConvertToBPMNError_NonRetryableHasNoRetries(t *testing.T) {
	bpmnErr := ConvertToBPMNError(NewInvalidInputError("offers", "missing"))
	assert.Equal(t, "INVALID_INPUT", bpmnErr.Code)
	assert.Equal(t, 0, bpmnErr.Retries)
}

func TestNormalize(t *testing.T) {
	plain := stderrors.New("boom")
	stdErr := Normalize(plain)
	require.NotNil(t, stdErr)
	assert.Equal(t, ErrCodeInternal, stdErr.Code)
	assert.Equal(t, "boom", stdErr.Details)
	assert.ErrorIs(t, stdErr, plain)

	original := NewStaleResultError("x")
	assert.Same(t, original, Normalize(original))
}

func TestIsRetryableErrorCode(t *testing.T) {
	assert.True(t, IsRetryableErrorCode(ErrCodeDatabaseConnectionFailed))
	assert.True(t, IsRetryableErrorCode(ErrCodeCollaboratorUnavailable))
	assert.False(t, IsRetryableErrorCode(ErrCodeInvalidInput))
	assert.False(t, IsRetryableErrorCode(ErrCodeStaleResult))
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "VERIFICATION", GetErrorCategory(ErrCodeOTPRejected))
	assert.Equal(t, "VERIFICATION", GetErrorCategory(ErrCodePANPhoneMismatch))
	assert.Equal(t, "FLOW", GetErrorCategory(ErrCodeStaleResult))
	assert.Equal(t, "DATABASE", GetErrorCategory(ErrCodeQueryExecutionFailed))
	assert.Equal(t, "INTEGRATION", GetErrorCategory(ErrCodeCollaboratorUnavailable))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeInvalidInput))
}
