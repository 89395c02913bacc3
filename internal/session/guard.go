package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Snapshot is a read-only copy of a guard's externally observable condition.
type Snapshot struct {
	// State is the current guard state.
	State State
	// Identity is populated while State is StateAuthenticated.
	Identity *Identity
	// Reason holds the last transient failure description while State is
	// StateDegraded.
	Reason string
	// RetryIn is the delay of the currently scheduled retry. Zero outside
	// StateDegraded.
	RetryIn time.Duration
}

// Options configures a Guard.
type Options struct {
	// Prober performs the identity checks. Required.
	Prober Prober

	// RetryBaseDelay is the delay before retry #1 after a transient
	// failure. Defaults to 1s.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the exponentially growing delay. Defaults to 60s.
	RetryMaxDelay time.Duration

	// OnChange is invoked whenever the observable state changes. It runs
	// with the guard's lock held and must not call back into the guard.
	OnChange func(Snapshot)
}

// Guard drives repeated probing until a stable result is obtained, honoring
// an exponential backoff schedule, and exposes the current state to readers.
//
// Every mutable piece of the loop (attempt counter, retry timer, probe
// cancel token) is scoped to one Guard instance and torn down atomically by
// Close; nothing is shared across guards.
type Guard struct {
	mountID   string
	prober    Prober
	baseDelay time.Duration
	maxDelay  time.Duration
	onChange  func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	identity    *Identity
	reason      string
	attempt     int
	nextDelay   time.Duration
	probeCancel context.CancelFunc
	retryTimer  *time.Timer
	started     bool
	closed      bool
}

// NewGuard creates a guard in StateChecking. Probing begins on Start.
func NewGuard(opts Options) *Guard {
	base := opts.RetryBaseDelay
	if base <= 0 {
		base = time.Second
	}
	max := opts.RetryMaxDelay
	if max <= 0 {
		max = 60 * time.Second
	}
	if max < base {
		max = base
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Guard{
		mountID:   strings.ToLower(uuid.NewString())[:8],
		prober:    opts.Prober,
		baseDelay: base,
		maxDelay:  max,
		onChange:  opts.OnChange,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateChecking,
	}
}

// MountID identifies this guard instance in log output.
func (g *Guard) MountID() string {
	return g.mountID
}

// Start issues the first probe. Calling Start more than once is a no-op.
func (g *Guard) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started || g.closed {
		return
	}
	g.started = true
	g.startProbeLocked()
}

// State returns the current guard state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Snapshot returns a copy of the current observable condition.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// Refresh cancels any pending retry and issues a fresh probe immediately.
// Useful after the visitor completes the external login flow, or when an
// operator asks for a manual re-check. Because the attempt counter resets
// on every stable result, a transient blip after a refresh starts its own
// fresh backoff.
func (g *Guard) Refresh() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.started = true
	g.stopRetryTimerLocked()
	g.startProbeLocked()
}

// Close halts the loop: the in-flight probe and any scheduled retry are
// cancelled, and no state transition is ever applied afterwards. Close
// blocks until the in-flight probe goroutine has drained.
func (g *Guard) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.stopRetryTimerLocked()
	if g.probeCancel != nil {
		g.probeCancel()
		g.probeCancel = nil
	}
	g.cancel()
	g.mu.Unlock()

	g.wg.Wait()
}

// retryDelay computes the backoff delay before retry attempt n (n >= 1):
// base, 2*base, 4*base, ... capped at max.
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// startProbeLocked cancels any in-flight probe and launches a new one.
// At most one probe is ever trusted: the superseded probe's context is
// cancelled before the new one starts, and its eventual resolution is
// discarded. Must be called with g.mu held.
func (g *Guard) startProbeLocked() {
	if g.closed {
		return
	}
	if g.probeCancel != nil {
		g.probeCancel()
	}
	probeCtx, cancel := context.WithCancel(g.ctx)
	g.probeCancel = cancel

	g.wg.Add(1)
	go g.runProbe(probeCtx)
}

// runProbe executes one probe and applies its outcome, unless the probe was
// superseded or the guard closed while it was in flight.
func (g *Guard) runProbe(ctx context.Context) {
	defer g.wg.Done()

	result, err := g.prober.Probe(ctx)
	if err != nil {
		// Caller-initiated cancellation: not a signal, no transition.
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || ctx.Err() != nil {
		// A newer probe superseded this one, or the guard unmounted.
		return
	}
	g.applyLocked(result)
}

// applyLocked folds one probe result into the state machine.
// Must be called with g.mu held.
func (g *Guard) applyLocked(result Result) {
	switch result.Kind {
	case ResultAbsent:
		g.attempt = 0
		g.nextDelay = 0
		g.setStateLocked(StateUnauthenticated, nil, "")
	case ResultIdentity:
		g.attempt = 0
		g.nextDelay = 0
		identity := result.Identity
		g.setStateLocked(StateAuthenticated, &identity, "")
	case ResultDegraded:
		g.attempt++
		delay := retryDelay(g.baseDelay, g.maxDelay, g.attempt)
		g.nextDelay = delay
		log.WithFields(log.Fields{
			"mount":    g.mountID,
			"attempt":  g.attempt,
			"retry_in": delay,
		}).Warnf("session probe failed: %s", result.Reason)
		g.setStateLocked(StateDegraded, nil, result.Reason)
		g.scheduleRetryLocked(delay)
	}
}

// scheduleRetryLocked arms the retry timer. Must be called with g.mu held.
func (g *Guard) scheduleRetryLocked(delay time.Duration) {
	g.stopRetryTimerLocked()
	g.retryTimer = time.AfterFunc(delay, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.closed {
			return
		}
		g.startProbeLocked()
	})
}

func (g *Guard) stopRetryTimerLocked() {
	if g.retryTimer != nil {
		g.retryTimer.Stop()
		g.retryTimer = nil
	}
}

// setStateLocked updates the observable condition and notifies the OnChange
// callback. Repeated identical conditions are not re-announced.
// Must be called with g.mu held.
func (g *Guard) setStateLocked(state State, identity *Identity, reason string) {
	if g.state == state && g.reason == reason {
		g.identity = identity
		return
	}
	g.state = state
	g.identity = identity
	g.reason = reason
	log.WithFields(log.Fields{
		"mount": g.mountID,
		"state": state,
	}).Debug("session guard state changed")
	if g.onChange != nil {
		g.onChange(g.snapshotLocked())
	}
}

func (g *Guard) snapshotLocked() Snapshot {
	snap := Snapshot{State: g.state, Reason: g.reason}
	if g.state == StateDegraded {
		snap.RetryIn = g.nextDelay
	}
	if g.identity != nil {
		identity := *g.identity
		snap.Identity = &identity
	}
	return snap
}
