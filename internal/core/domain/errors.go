package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrStorage           = errors.New("storage error")
	ErrExtraction        = errors.New("extraction error")
	ErrUnsupported       = errors.New("unsupported format")
	ErrCompletionService = errors.New("completion service error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTemporary         = errors.New("temporary failure")

	ErrTenantBusy       = errors.New("tenant is already being processed")
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
