package domain

import "errors"

// Error kinds from spec.md §7. Components wrap these with errors.Join or
// fmt.Errorf("...: %w", ...) so callers can branch with errors.Is.
var (
	// ErrValidation covers malformed requests, unknown enum values, and
	// bounds violations. Callers translate this to a 4xx response.
	ErrValidation = errors.New("validation error")

	// ErrNotFound covers an unknown session, lobby, or participant
	// referenced by a game event. Handlers drop silently on this; it is
	// exported so tests can assert on it.
	ErrNotFound = errors.New("not found")

	// ErrStateConflict covers a join after a lobby closes, a countdown
	// request with none pending, a duplicate participant, and similar.
	ErrStateConflict = errors.New("state conflict")

	// ErrStale marks a race/idempotency drop: a late timer firing, a
	// duplicate answer, or a stale job after termination.
	ErrStale = errors.New("stale or duplicate")

	// ErrResourceExhausted marks an empty question pool at session start.
	ErrResourceExhausted = errors.New("resource exhausted")
)
