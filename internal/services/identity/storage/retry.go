package storage

import (
	"context"
	"errors"

	apperrors "github.com/addline/identity/internal/platform/errors"
)

// RetryOnce runs op, retrying exactly once on a transient storage failure.
// Terminal outcomes (conflicts, not-found, cancellation, domain errors) are
// never retried; rollback guarantees a failed attempt left no partial rows.
// A second transient failure surfaces as STORAGE_UNAVAILABLE.
func RetryOnce(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || terminal(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	retryErr := op()
	if retryErr == nil || terminal(retryErr) {
		return retryErr
	}
	return apperrors.Wrap(apperrors.CodeStorageUnavailable, "storage unavailable", retryErr)
}

func terminal(err error) bool {
	if errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrEmailTaken) ||
		errors.Is(err, ErrProviderLinkTaken) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var appErr *apperrors.Error
	return errors.As(err, &appErr)
}
