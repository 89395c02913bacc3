// Package gate maps guard state to exactly one of four mutually exclusive
// views and renders the non-content ones. It is the only surface the rest
// of the application sees: either "serve the protected content now" or one
// of three terminal JSON answers. The gate never redirects — automatic
// navigation toward the login page is the redirect-loop failure mode this
// subsystem exists to prevent — and it never fails, because every error was
// already absorbed into a state upstream.
package gate

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leok974/ApplyLens-sub016/internal/session"
)

// View identifies one of the four renderable outcomes.
type View int

const (
	// ViewChecking is a neutral "hold on" answer with no actions offered.
	ViewChecking View = iota
	// ViewDegraded tells the client the backend is temporarily unavailable
	// and the gateway is retrying automatically. It offers no login action:
	// it is not known whether the visitor is logged out.
	ViewDegraded
	// ViewUnauthenticated offers a login call-to-action. Never a redirect,
	// never an automatic retry.
	ViewUnauthenticated
	// ViewContent passes the request through to the protected content.
	ViewContent
)

// ViewFor is the pure mapping from guard state to view.
func ViewFor(state session.State) View {
	switch state {
	case session.StateAuthenticated:
		return ViewContent
	case session.StateUnauthenticated:
		return ViewUnauthenticated
	case session.StateDegraded:
		return ViewDegraded
	default:
		return ViewChecking
	}
}

// SnapshotFunc supplies the current guard snapshot. The gate only reads
// state; it never writes it.
type SnapshotFunc func() session.Snapshot

// LoginURLFunc supplies the login entry point surfaced to unauthenticated
// visitors. Resolved per request so config reloads take effect.
type LoginURLFunc func() string

// Middleware renders the current view. Protected handlers downstream run
// only for ViewContent; identity data is never injected into them.
func Middleware(snapshot SnapshotFunc, loginURL LoginURLFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := snapshot()
		switch ViewFor(snap.State) {
		case ViewContent:
			c.Next()
		case ViewChecking:
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"status":  "checking",
				"message": "session check in progress",
			})
		case ViewDegraded:
			c.Header("Retry-After", retryAfterSeconds(snap.RetryIn))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"status":  "degraded",
				"message": "service temporarily unavailable, retrying automatically",
			})
		case ViewUnauthenticated:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":    "unauthenticated",
				"message":   "please sign in",
				"login_url": loginURL(),
			})
		}
	}
}

// retryAfterSeconds renders a scheduled retry delay as a Retry-After value,
// rounding up so clients never poll ahead of the gateway's own retry.
func retryAfterSeconds(delay time.Duration) string {
	secs := int((delay + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
