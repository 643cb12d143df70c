package apperrors

import (
	"fmt"

	"github.com/pkg/errors"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// WithStack annotates err with the caller's stack unless it already carries one.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(stackTracer); ok {
		return err
	}
	return errors.WithStack(err)
}

// StackTrace renders err with its recorded stack. Errors without one get a
// stack captured at this call.
func StackTrace(err error) string {
	if err == nil {
		return ""
	}
	if _, ok := err.(stackTracer); !ok {
		err = errors.WithStack(err)
	}
	return fmt.Sprintf("%+v", err)
}
