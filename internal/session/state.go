// Package session implements the session bootstrap guard: a single probe of
// the session-identity endpoint, classification of its outcome, and a
// resilience loop that retries transient failures with capped exponential
// backoff until a stable answer is obtained.
//
// The guard distinguishes "no active session" (stable, never retried) from
// "backend temporarily broken" (transient, retried indefinitely). Raw
// transport errors never escape this package; they are absorbed into a
// closed set of probe results.
package session

// State is the externally observable condition of a guard.
type State int

const (
	// StateChecking is the initial state before the first probe resolves.
	StateChecking State = iota
	// StateDegraded means the last probe hit a transient failure and a
	// retry is scheduled.
	StateDegraded
	// StateUnauthenticated means the identity endpoint explicitly reported
	// no active session. Stable; no retry is scheduled.
	StateUnauthenticated
	// StateAuthenticated means the identity endpoint returned a user
	// identity. Stable; no retry is scheduled.
	StateAuthenticated
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateDegraded:
		return "degraded"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Stable reports whether the state is a terminal outcome of the probe loop.
// A stable state stops the retry schedule until the guard is refreshed.
func (s State) Stable() bool {
	return s == StateUnauthenticated || s == StateAuthenticated
}
