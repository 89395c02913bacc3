package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

// funcProber replays one scripted behavior per probe call. Calls beyond the
// script repeat the last behavior.
type funcProber struct {
	mu    sync.Mutex
	steps []func(ctx context.Context) (Result, error)
	calls int
}

func (p *funcProber) Probe(ctx context.Context) (Result, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	if idx >= len(p.steps) {
		idx = len(p.steps) - 1
	}
	step := p.steps[idx]
	p.mu.Unlock()
	return step(ctx)
}

func (p *funcProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func returns(result Result) func(ctx context.Context) (Result, error) {
	return func(context.Context) (Result, error) { return result, nil }
}

func waitForState(t *testing.T, g *Guard, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if g.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("guard never reached state %v, stuck at %v", want, g.State())
}

func TestGuard_AbsentIsStable_NoRetry(t *testing.T) {
	prober := &funcProber{steps: []func(context.Context) (Result, error){
		returns(Result{Kind: ResultAbsent}),
	}}
	g := NewGuard(Options{Prober: prober, RetryBaseDelay: 5 * time.Millisecond, RetryMaxDelay: 50 * time.Millisecond})
	defer g.Close()

	g.Start()
	waitForState(t, g, StateUnauthenticated)

	// Long enough for several base delays to elapse if a retry had been
	// scheduled by mistake.
	time.Sleep(60 * time.Millisecond)
	if got := prober.callCount(); got != 1 {
		t.Fatalf("a 401 must never trigger a retry: expected 1 probe, got %d", got)
	}
	if snap := g.Snapshot(); snap.RetryIn != 0 {
		t.Fatalf("expected no scheduled retry, got RetryIn=%v", snap.RetryIn)
	}
}

func TestGuard_DegradedThenIdentity(t *testing.T) {
	prober := &funcProber{steps: []func(context.Context) (Result, error){
		returns(Result{Kind: ResultDegraded, Reason: "connection refused"}),
		returns(Result{Kind: ResultIdentity, Identity: Identity{ID: "u1", Email: "u1@example.com"}}),
	}}
	g := NewGuard(Options{Prober: prober, RetryBaseDelay: 5 * time.Millisecond, RetryMaxDelay: 50 * time.Millisecond})
	defer g.Close()

	g.Start()
	waitForState(t, g, StateDegraded)
	waitForState(t, g, StateAuthenticated)

	time.Sleep(60 * time.Millisecond)
	if got := prober.callCount(); got != 2 {
		t.Fatalf("expected exactly 2 probes, got %d", got)
	}
	snap := g.Snapshot()
	if snap.Identity == nil || snap.Identity.ID != "u1" || snap.Identity.Email != "u1@example.com" {
		t.Fatalf("unexpected identity in snapshot: %+v", snap.Identity)
	}
}

func TestGuard_DegradedTwiceThenAbsent(t *testing.T) {
	var transitions []State
	var transitionsMu sync.Mutex
	prober := &funcProber{steps: []func(context.Context) (Result, error){
		returns(Result{Kind: ResultDegraded, Reason: "identity endpoint returned status 500"}),
		returns(Result{Kind: ResultDegraded, Reason: "identity endpoint returned status 502"}),
		returns(Result{Kind: ResultAbsent}),
	}}
	g := NewGuard(Options{
		Prober:         prober,
		RetryBaseDelay: 5 * time.Millisecond,
		RetryMaxDelay:  50 * time.Millisecond,
		OnChange: func(snap Snapshot) {
			transitionsMu.Lock()
			transitions = append(transitions, snap.State)
			transitionsMu.Unlock()
		},
	})
	defer g.Close()

	g.Start()
	waitForState(t, g, StateUnauthenticated)

	time.Sleep(60 * time.Millisecond)
	if got := prober.callCount(); got != 3 {
		t.Fatalf("expected exactly 3 probes, got %d", got)
	}

	transitionsMu.Lock()
	defer transitionsMu.Unlock()
	want := []State{StateDegraded, StateDegraded, StateUnauthenticated}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d: expected %v, got %v", i, want[i], transitions[i])
		}
	}
}

func TestGuard_CloseCancelsScheduledRetry(t *testing.T) {
	prober := &funcProber{steps: []func(context.Context) (Result, error){
		returns(Result{Kind: ResultDegraded, Reason: "network error"}),
	}}
	g := NewGuard(Options{Prober: prober, RetryBaseDelay: 100 * time.Millisecond, RetryMaxDelay: time.Second})

	g.Start()
	waitForState(t, g, StateDegraded)
	g.Close()

	// The 100ms retry deadline elapses well within this window; the timer
	// must have been torn down with the guard.
	time.Sleep(300 * time.Millisecond)
	if got := prober.callCount(); got != 1 {
		t.Fatalf("retry fired after Close: expected 1 probe, got %d", got)
	}
	if got := g.State(); got != StateDegraded {
		t.Fatalf("state changed after Close: %v", got)
	}
}

func TestGuard_CloseDuringChecking(t *testing.T) {
	started := make(chan struct{})
	var changes int
	var changesMu sync.Mutex
	prober := &funcProber{steps: []func(context.Context) (Result, error){
		func(ctx context.Context) (Result, error) {
			close(started)
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	}}
	g := NewGuard(Options{
		Prober:         prober,
		RetryBaseDelay: 5 * time.Millisecond,
		OnChange: func(Snapshot) {
			changesMu.Lock()
			changes++
			changesMu.Unlock()
		},
	})

	g.Start()
	<-started
	g.Close()

	if got := g.State(); got != StateChecking {
		t.Fatalf("expected guard to stay in checking, got %v", got)
	}
	changesMu.Lock()
	defer changesMu.Unlock()
	if changes != 0 {
		t.Fatalf("expected zero transitions after close, observed %d", changes)
	}
}

func TestGuard_SupersededProbeIsDiscarded(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	prober := &funcProber{steps: []func(context.Context) (Result, error){
		// Misbehaving first probe: ignores cancellation and eventually
		// reports an identity.
		func(context.Context) (Result, error) {
			close(firstStarted)
			<-releaseFirst
			return Result{Kind: ResultIdentity, Identity: Identity{ID: "stale"}}, nil
		},
		returns(Result{Kind: ResultAbsent}),
	}}
	g := NewGuard(Options{Prober: prober, RetryBaseDelay: 5 * time.Millisecond})

	g.Start()
	<-firstStarted

	// A newer probe supersedes the first and resolves to a stable answer.
	g.Refresh()
	waitForState(t, g, StateUnauthenticated)

	// The stale probe now resolves; its result must not overwrite the
	// newer state.
	close(releaseFirst)
	time.Sleep(30 * time.Millisecond)
	if got := g.State(); got != StateUnauthenticated {
		t.Fatalf("stale probe overwrote guard state: %v", got)
	}
	g.Close()
}

func TestGuard_RefreshAfterStableProbesAgain(t *testing.T) {
	prober := &funcProber{steps: []func(context.Context) (Result, error){
		returns(Result{Kind: ResultAbsent}),
		returns(Result{Kind: ResultIdentity, Identity: Identity{ID: "u2", Email: "u2@example.com"}}),
	}}
	g := NewGuard(Options{Prober: prober, RetryBaseDelay: 5 * time.Millisecond})
	defer g.Close()

	g.Start()
	waitForState(t, g, StateUnauthenticated)

	g.Refresh()
	waitForState(t, g, StateAuthenticated)
	if got := prober.callCount(); got != 2 {
		t.Fatalf("expected 2 probes after refresh, got %d", got)
	}
}

func TestGuard_AttemptCounterResetsOnStable(t *testing.T) {
	base := 8 * time.Millisecond
	prober := &funcProber{steps: []func(context.Context) (Result, error){
		returns(Result{Kind: ResultDegraded, Reason: "network error"}),
		returns(Result{Kind: ResultIdentity, Identity: Identity{ID: "u3"}}),
		returns(Result{Kind: ResultDegraded, Reason: "network error"}),
		// Park the follow-up retry so the scheduled delay stays observable.
		func(ctx context.Context) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	}}
	g := NewGuard(Options{Prober: prober, RetryBaseDelay: base, RetryMaxDelay: 64 * base})
	defer g.Close()

	g.Start()
	waitForState(t, g, StateAuthenticated)

	// A later transient blip starts a fresh backoff at the base delay.
	g.Refresh()
	waitForState(t, g, StateDegraded)
	if snap := g.Snapshot(); snap.RetryIn != base {
		t.Fatalf("expected fresh backoff at base delay %v, got %v", base, snap.RetryIn)
	}
}

func TestRetryDelay_Schedule(t *testing.T) {
	base := time.Second
	ceiling := 60 * time.Second
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
	}
	for i, expected := range want {
		attempt := i + 1
		if got := retryDelay(base, ceiling, attempt); got != expected {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, expected, got)
		}
	}
	// The schedule stays at the cap for all subsequent attempts.
	for _, attempt := range []int{8, 12, 100} {
		if got := retryDelay(base, ceiling, attempt); got != ceiling {
			t.Fatalf("attempt %d: expected ceiling %v, got %v", attempt, ceiling, got)
		}
	}
}

func TestGuard_StartIsIdempotent(t *testing.T) {
	prober := &funcProber{steps: []func(context.Context) (Result, error){
		returns(Result{Kind: ResultIdentity, Identity: Identity{ID: "u4"}}),
	}}
	g := NewGuard(Options{Prober: prober, RetryBaseDelay: 5 * time.Millisecond})
	defer g.Close()

	g.Start()
	g.Start()
	waitForState(t, g, StateAuthenticated)
	time.Sleep(20 * time.Millisecond)
	if got := prober.callCount(); got != 1 {
		t.Fatalf("expected a single probe from double Start, got %d", got)
	}
}
