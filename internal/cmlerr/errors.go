// Package cmlerr defines the sentinel error taxonomy shared by every
// storage and worker component, modeled on the teacher's
// internal/storage/sqlite error-wrapping conventions.
package cmlerr

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates bad input: unknown event type, empty
	// session, oversize content, and similar caller mistakes. Surfaced
	// directly to the caller.
	ErrValidation = errors.New("validation error")

	// ErrDuplicate is not a failure; it signals that an append matched an
	// existing dedupe_key and no new row was written.
	ErrDuplicate = errors.New("duplicate event")

	// ErrConflict indicates a unique-constraint violation outside the
	// dedupe path (e.g. a graph edge that already exists under a
	// different meta payload when Create, not Upsert, was used).
	ErrConflict = errors.New("conflict")

	// ErrTransient indicates database-busy or filesystem contention that
	// is retried with backoff inside the writer and only surfaced if
	// persistent.
	ErrTransient = errors.New("transient I/O error")

	// ErrEmbedder indicates the embedder was unavailable or returned a
	// vector of the wrong dimension. Outbox items are marked failed;
	// recovery is operator-driven.
	ErrEmbedder = errors.New("embedder error")

	// ErrVectorStore indicates a vector-store write failure. Never
	// poisons the event store: the event row already committed.
	ErrVectorStore = errors.New("vector store error")

	// ErrFatal indicates corruption (checksum mismatch, schema drift).
	// Callers should abort rather than attempt auto-repair.
	ErrFatal = errors.New("fatal storage error")
)

// Wrap annotates err with an operation label and converts sql.ErrNoRows to
// ErrNotFound so callers can errors.Is against the sentinel regardless of
// which backend raised it.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Wrapf is Wrap with a formatted operation label.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(fmt.Sprintf(format, args...), err)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicate reports whether err is or wraps ErrDuplicate.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }

// IsValidation reports whether err is or wraps ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsTransient reports whether err is or wraps ErrTransient.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
