// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the referenced entity does not exist, or the
	// caller has no access to it. The two cases are deliberately not
	// distinguished so existence is never leaked to non-participants.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the backend rejected a write because its
	// version moved since the content was read.
	ErrConflict = errors.New("version conflict")

	// ErrForbidden indicates a state-machine or participation guard
	// rejected the operation for a known, accessible entity.
	ErrForbidden = errors.New("forbidden")

	// ErrUnavailable indicates the backend could not be reached and no
	// cached state was available to serve instead. Retryable.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrDisabled indicates a global flag currently blocks the operation.
	ErrDisabled = errors.New("operation disabled")

	// ErrAlreadyExists indicates a uniqueness violation (e.g. username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalid indicates malformed input: empty username, unknown call
	// or signal kind.
	ErrInvalid = errors.New("invalid input")
)
