package core

import "github.com/pkg/errors"

// FieldError describes a validation failure on a single payload field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError carries per-field failures behind a single error value.
// The API error handler flattens Fields into the 400 response body.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// shutdown marks an error the service cannot recover from. The API error
// handler triggers a graceful stop when it catches one.
type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

// IsShutdown checks whether a shutdown error is contained in `err`.
func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
