// Package errors provides the structured error type shared by the eligibility
// flow, its collaborators, the HTTP API and the Zeebe workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Flow errors.
const (
	ErrCodeInvalidInput            ErrorCode = "INVALID_INPUT"
	ErrCodePANPhoneMismatch        ErrorCode = "PAN_PHONE_MISMATCH"
	ErrCodeOTPRejected             ErrorCode = "OTP_REJECTED"
	ErrCodeCollaboratorUnavailable ErrorCode = "COLLABORATOR_UNAVAILABLE"
	ErrCodeStepNotApplicable       ErrorCode = "STEP_NOT_APPLICABLE"
	ErrCodeOperationInFlight       ErrorCode = "OPERATION_IN_FLIGHT"
	ErrCodeStaleResult             ErrorCode = "STALE_RESULT"
)

// Collaborator and infrastructure errors.
const (
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeSearchQueryFailed        ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeCacheFailed              ErrorCode = "CACHE_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeExternalService          ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout                  ErrorCode = "TIMEOUT_ERROR"
	ErrCodeSessionNotFound          ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSanctionFailed           ErrorCode = "SANCTION_REQUEST_FAILED"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata returns the error with key set in Metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewInvalidInputError reports a malformed mobile number, OTP, PAN or intent.
func NewInvalidInputError(field, details string) *StandardError {
	return newError(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s", field), details, false, nil).
		WithMetadata("field", field)
}

// NewPANPhoneMismatchError reports that the PAN is not linked to the mobile number.
func NewPANPhoneMismatchError(maskedMobile string) *StandardError {
	return newError(ErrCodePANPhoneMismatch,
		fmt.Sprintf("Your phone number %s is not associated with your PAN", maskedMobile),
		"", false, nil)
}

// NewOTPRejectedError reports a well-formed OTP that the gateway did not accept.
func NewOTPRejectedError(details string) *StandardError {
	return newError(ErrCodeOTPRejected, "The OTP entered is incorrect", details, false, nil)
}

// NewCollaboratorUnavailableError wraps a failed or timed out collaborator call.
func NewCollaboratorUnavailableError(collaborator string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return newError(ErrCodeCollaboratorUnavailable,
		fmt.Sprintf("Collaborator '%s' unavailable", collaborator),
		details, true, err).
		WithMetadata("collaborator", collaborator)
}

// NewStepNotApplicableError reports an operation invoked outside its guard.
func NewStepNotApplicableError(operation string, step int) *StandardError {
	return newError(ErrCodeStepNotApplicable,
		fmt.Sprintf("Operation '%s' is not applicable at step %d", operation, step),
		"", false, nil).
		WithMetadata("operation", operation).
		WithMetadata("step", step)
}

// NewOperationInFlightError reports a second mutating call while one is outstanding.
func NewOperationInFlightError(operation string) *StandardError {
	return newError(ErrCodeOperationInFlight,
		"Another operation is already in progress",
		fmt.Sprintf("operation: %s", operation), true, nil)
}

// NewStaleResultError reports a collaborator result discarded after a reset.
func NewStaleResultError(operation string) *StandardError {
	return newError(ErrCodeStaleResult,
		"Session was reset while the operation was in progress",
		fmt.Sprintf("operation: %s", operation), false, nil)
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", err.Error(), true, err)
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, "Database query execution error",
		fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()), true, err)
}

// NewSearchQueryFailedError creates a retryable search query error.
func NewSearchQueryFailedError(index string, err error) *StandardError {
	return newError(ErrCodeSearchQueryFailed, "Elasticsearch query error",
		fmt.Sprintf("index: %s, error: %s", index, err.Error()), true, err)
}

// NewCacheFailedError creates a retryable Redis error.
func NewCacheFailedError(op string, err error) *StandardError {
	return newError(ErrCodeCacheFailed, "Cache operation failed",
		fmt.Sprintf("op: %s, error: %s", op, err.Error()), true, err)
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Notification delivery failed",
		fmt.Sprintf("type: %s, error: %s", notificationType, err.Error()), true, err)
}

// NewSessionNotFoundError reports an unknown or expired session id.
func NewSessionNotFoundError(sessionID string) *StandardError {
	return newError(ErrCodeSessionNotFound, "Session not found",
		fmt.Sprintf("sessionId: %s", sessionID), false, nil)
}

// NewSanctionFailedError creates a retryable credit sanction error.
func NewSanctionFailedError(err error) *StandardError {
	return newError(ErrCodeSanctionFailed, "Credit sanction request failed", err.Error(), true, err)
}

func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("External service '%s' error", service), err.Error(), true, err)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Service '%s' timeout", service), err.Error(), true, err)
}

func NewInternalError(details string) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", details, false, nil)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInvalidInput:             "INVALID_INPUT",
	ErrCodeCollaboratorUnavailable:  "COLLABORATOR_UNAVAILABLE",
	ErrCodeDatabaseConnectionFailed: "DATABASE_CONNECTION_FAILED",
	ErrCodeQueryExecutionFailed:     "QUERY_EXECUTION_FAILED",
	ErrCodeSearchQueryFailed:        "SEARCH_QUERY_FAILED",
	ErrCodeNotificationSendFailed:   "NOTIFICATION_SEND_FAILED",
	ErrCodeSanctionFailed:           "SANCTION_REQUEST_FAILED",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeCacheFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeExternalService,
		ErrCodeSanctionFailed:
		return 3

	case ErrCodeTimeout,
		ErrCodeCollaboratorUnavailable:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandard extracts a *StandardError from err's chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandard(err)
	return ok && stdErr.Code == code
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "OTP") || strings.Contains(codeStr, "PAN"):
		return "VERIFICATION"
	case strings.Contains(codeStr, "STEP") || strings.Contains(codeStr, "FLIGHT") || strings.Contains(codeStr, "STALE"):
		return "FLOW"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "COLLABORATOR") || strings.Contains(codeStr, "EXTERNAL") || strings.Contains(codeStr, "TIMEOUT"):
		return "INTEGRATION"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
