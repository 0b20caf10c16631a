package services

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied      = errors.New("permission denied")
	ErrConsentWithdrawn      = fmt.Errorf("%w: location consent withdrawn", ErrPermissionDenied)
	ErrValidation            = errors.New("validation failed")
	ErrTransientStorage      = errors.New("storage temporarily unavailable")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrAuditWrite            = errors.New("audit write failed")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storageError marks err as transient unless the caller gave up on the request.
func storageError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStorage, err)
}
