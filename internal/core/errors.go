package core

import "errors"

// Error codes for domain errors reported back to a connection.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeUnknownType   = "unknown_type"
	ErrCodeInvalidFrame  = "invalid_frame"
	ErrCodeUnknownUser   = "unknown_user"
	ErrCodeForbidden     = "forbidden"
	ErrCodeStoreFailure  = "store_failure"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeInternalError = "internal_error"
)

var (
	ErrBadRequest  = errors.New("bad request")
	ErrUnknownType = errors.New("unknown frame type")
	ErrUnknownUser = errors.New("unknown user")
	ErrForbidden   = errors.New("identity mismatch")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewError builds a CoreError with the given code.
func NewError(code, msg string, err error) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}

// Code extracts the error code, defaulting to internal_error.
func Code(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternalError
}
