package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotReady marks operations invoked before required setup completed,
	// such as recording a download into an unloaded ledger. Always a caller
	// bug; never retried.
	ErrNotReady = errors.New("not ready")
	// ErrAuthentication marks credential failures from a provider. Retrying
	// a doomed batch only burns rate limit, so these are never retried.
	ErrAuthentication = errors.New("authentication error")
	// ErrEmptyPayload marks a materialization that produced no files and no
	// recognized duplicates. Almost always an upstream parsing bug.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrCorruptState marks an unreadable persisted file (ledger, hash cache).
	ErrCorruptState = errors.New("corrupt state")
	// ErrValidation marks invalid caller input.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks unusable configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a missing file or record.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks failures worth retrying (network errors, bad
	// payloads, upstream hiccups).
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retriable reports whether the downloader should retry after err.
// Cancellation, precondition and authentication failures propagate instead.
func Retriable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrAuthentication):
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration):
		return false
	default:
		return true
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
