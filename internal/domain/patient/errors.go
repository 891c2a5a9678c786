package patient

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("patient not found")
	ErrPaymentNotFound = errors.New("payment not found")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
