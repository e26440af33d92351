package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned by writes that target an unknown conversation.
	ErrNotFound = errors.New("conversation not found")

	// ErrStorageUnavailable marks persistence I/O failures. Callers may retry once.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// IsRetryable reports whether err is a storage failure worth one retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// classify wraps a driver error for op. Constraint violations and context
// cancellation keep their own identity; everything else is StorageUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	return fmt.Errorf("failed to %s: %w: %w", op, ErrStorageUnavailable, err)
}
