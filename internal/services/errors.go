package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks failures worth retrying: I/O hiccups, model
	// timeouts, resource exhaustion.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks failures that no retry can fix: malformed input,
	// unrecoverable decode failures.
	ErrPermanent = errors.New("permanent failure")
	// ErrIntegrity marks detected artifact tampering or corruption.
	ErrIntegrity = errors.New("integrity failure")
	// ErrStateConflict marks an optimistic-concurrency race on an
	// appointment record.
	ErrStateConflict = errors.New("state conflict")
	// ErrNotFound marks lookups of unknown appointments or artifacts.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID marks an attempt to create an appointment that exists.
	ErrDuplicateID = errors.New("duplicate appointment")
	// ErrDuplicateKey marks a second key creation for the same appointment.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Kind is the coarse classification the scheduler bases retry policy on.
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
	KindIntegrity Kind = "integrity"
	KindConflict  Kind = "conflict"
	KindNotFound  Kind = "not_found"
	KindDuplicate Kind = "duplicate"
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

// Classify maps an error to its retry-policy kind. Context deadline
// expiry counts as transient; anything unmarked defaults to transient so
// an unexpected failure never silently becomes unrecoverable.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrStateConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateID), errors.Is(err, ErrDuplicateKey):
		return KindDuplicate
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindTransient
	}
}

// Retriable reports whether the scheduler may attempt the stage again.
func Retriable(err error) bool {
	return Classify(err) == KindTransient
}

// Message extracts a human-readable failure reason with the sentinel
// prefix stripped, suitable for persisting on a failed appointment.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, marker := range []error{ErrTransient, ErrPermanent, ErrIntegrity, ErrStateConflict, ErrNotFound, ErrDuplicateID, ErrDuplicateKey} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
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
