package domain

import (
	"errors"
	"fmt"
)

// Policy errors returned synchronously from RequestStart. They are terminal,
// never retried by the core, and intended to be shown to the end user.
// Callers should use [errors.Is] to match these.
var (
	// ErrDoorNotFound means the requested door id does not exist.
	ErrDoorNotFound = errors.New("door not found")

	// ErrDoorInactive means the door exists but is administratively disabled.
	ErrDoorInactive = errors.New("door inactive")

	// ErrScheduleClosed means the current time falls outside the door's
	// schedule window.
	ErrScheduleClosed = errors.New("door schedule closed")

	// ErrAccessDenied covers both an explicit non-expired deny grant and a
	// security level outside the door's [minimum, maximum] range.
	ErrAccessDenied = errors.New("access denied")

	// ErrDailyLimitReached means the user has exhausted the door's
	// per-user daily session limit.
	ErrDailyLimitReached = errors.New("daily session limit reached")

	// ErrCapacityExceeded means the door's node capacity is fully occupied.
	ErrCapacityExceeded = errors.New("door capacity exceeded")

	// ErrAlreadyActive means the user already has an active session on this
	// door and the door does not support multiple nodes per user.
	ErrAlreadyActive = errors.New("session already active for user")
)

// Configuration errors surfaced by Launch and the standalone door validation
// query.
var (
	ErrExecutableNotFound  = errors.New("door executable not found")
	ErrWorkingDirNotFound  = errors.New("door working directory not found")
	ErrEmulatorUnavailable = errors.New("emulator runtime unavailable")
)

// Runtime and usage errors.
var (
	// ErrSessionNotFound means the session id is unknown to the owning
	// component.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionTerminal means an operation was attempted against a session
	// already in a terminal state.
	ErrSessionTerminal = errors.New("session already terminal")

	// ErrDuplicateSession means a FOSSIL session already exists for the id.
	ErrDuplicateSession = errors.New("duplicate fossil session")

	// ErrDropFileInvalid means the hand-off file failed validation: an
	// unresolved template variable or a malformed field.
	ErrDropFileInvalid = errors.New("drop file invalid")
)

// PolicyError reports whether err belongs to the policy taxonomy, i.e. the
// start request was well-formed but refused.
func PolicyError(err error) bool {
	for _, e := range []error{
		ErrDoorInactive, ErrScheduleClosed, ErrAccessDenied,
		ErrDailyLimitReached, ErrCapacityExceeded, ErrAlreadyActive,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// SessionError wraps an underlying error with session context.
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
