package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrBusy            = "BUSY"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Workflow and grant error codes.
const (
	ErrUnauthorizedStage = "UNAUTHORIZED_STAGE"
	ErrNotActionable     = "NOT_ACTIONABLE"
	ErrDuplicateGrant    = "DUPLICATE_GRANT"
	ErrAlreadyRevoked    = "ALREADY_REVOKED"
	ErrAlreadyExpired    = "ALREADY_EXPIRED"
)

// ErrorEnvelope is the standard error response envelope returned by the
// service. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode returns the envelope code of err, or empty if err is not an
// *ErrorEnvelope.
func ErrorCode(err error) string {
	if ee, ok := err.(*ErrorEnvelope); ok {
		return ee.Code
	}
	return ""
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error. The caller should retry the
// action against fresh state.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewBusyError returns a retryable BUSY error for lock-timeout conditions.
func NewBusyError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBusy, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewUnauthorizedStageError returns an UNAUTHORIZED_STAGE error: the actor's
// role or department does not match the current stage definition.
func NewUnauthorizedStageError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorizedStage, Message: msg}
}

// NewNotActionableError returns a NOT_ACTIONABLE error: the request is
// already in a terminal state.
func NewNotActionableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotActionable, Message: msg}
}

// NewDuplicateGrantError returns a DUPLICATE_GRANT error: a grant already
// exists for the originating request.
func NewDuplicateGrantError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrDuplicateGrant, Message: msg}
}

// NewAlreadyRevokedError returns an ALREADY_REVOKED error. Callers treat it
// as an idempotent no-op carrying the existing terminal grant.
func NewAlreadyRevokedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrAlreadyRevoked, Message: msg}
}

// NewAlreadyExpiredError returns an ALREADY_EXPIRED error. Callers treat it
// as an idempotent no-op carrying the existing terminal grant.
func NewAlreadyExpiredError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrAlreadyExpired, Message: msg}
}
