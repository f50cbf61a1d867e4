package domain

import "errors"

var (
	// ErrSessionNotFound is returned when the session document does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionFull is returned when joining a session at capacity.
	ErrSessionFull = errors.New("session is full")
	// ErrMemberNotFound is returned when a user is not part of the session.
	ErrMemberNotFound = errors.New("member not found in session")
	// ErrNotLeader is returned when a leader-only operation is attempted by a
	// regular member.
	ErrNotLeader = errors.New("operation requires session leader")
	// ErrQuestionsExist guards against a second client racing question
	// generation for the same session.
	ErrQuestionsExist = errors.New("question set already generated")
	// ErrQuestionPoolTooSmall indicates the global pool cannot cover a session.
	ErrQuestionPoolTooSmall = errors.New("question pool too small")
	// ErrQuestNotFound is returned when completing a quest the profile does not hold.
	ErrQuestNotFound = errors.New("quest not assigned to profile")
	// ErrBackendUnavailable wraps transient document store failures. Callers
	// decide whether to prompt a retry; nothing retries automatically.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// BackendError tags a store failure as ErrBackendUnavailable while keeping
// the cause inspectable. Sentinel conditions are never passed through here;
// services filter those first.
func BackendError(err error) error {
	return errors.Join(ErrBackendUnavailable, err)
}
