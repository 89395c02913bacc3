package session

import (
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/leok974/ApplyLens-sub016/internal/config"
)

func newTestProber(t *testing.T, endpoint string, timeout time.Duration) *HTTPProber {
	t.Helper()
	return NewHTTPProber(&config.Config{
		IdentityURL:  endpoint,
		ProbeTimeout: timeout,
	})
}

func probeOnce(t *testing.T, endpoint string) Result {
	t.Helper()
	prober := newTestProber(t, endpoint, 5*time.Second)
	result, err := prober.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe returned unexpected error: %v", err)
	}
	return result
}

func TestProbe_401IsAbsentRegardlessOfBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"garbage body that must be ignored"}`))
	}))
	defer srv.Close()

	result := probeOnce(t, srv.URL)
	if result.Kind != ResultAbsent {
		t.Fatalf("expected ResultAbsent for 401, got %v (%s)", result.Kind, result.Reason)
	}
}

func TestProbe_IdentitySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"user-42","email":"meg@example.com","plan":"pro"}`))
	}))
	defer srv.Close()

	result := probeOnce(t, srv.URL)
	if result.Kind != ResultIdentity {
		t.Fatalf("expected ResultIdentity, got %v (%s)", result.Kind, result.Reason)
	}
	if result.Identity.ID != "user-42" || result.Identity.Email != "meg@example.com" {
		t.Fatalf("unexpected identity: %+v", result.Identity)
	}
}

func TestProbe_GzipEncodedIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "application/json")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`{"id":"user-7","email":"zip@example.com"}`))
		_ = gz.Close()
	}))
	defer srv.Close()

	result := probeOnce(t, srv.URL)
	if result.Kind != ResultIdentity || result.Identity.ID != "user-7" {
		t.Fatalf("expected gzip identity user-7, got %v (%+v, %s)", result.Kind, result.Identity, result.Reason)
	}
}

func TestProbe_BrotliEncodedIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		w.Header().Set("Content-Type", "application/json")
		br := brotli.NewWriter(w)
		_, _ = br.Write([]byte(`{"id":"user-8","email":"br@example.com"}`))
		_ = br.Close()
	}))
	defer srv.Close()

	result := probeOnce(t, srv.URL)
	if result.Kind != ResultIdentity || result.Identity.ID != "user-8" {
		t.Fatalf("expected brotli identity user-8, got %v (%+v, %s)", result.Kind, result.Identity, result.Reason)
	}
}

func TestProbe_NonJSONSuccessBodyIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>login please</html>"))
	}))
	defer srv.Close()

	result := probeOnce(t, srv.URL)
	if result.Kind != ResultDegraded {
		t.Fatalf("expected ResultDegraded for an unparseable body, got %v", result.Kind)
	}
}

func TestProbe_MissingIDIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"email":"noid@example.com"}`))
	}))
	defer srv.Close()

	result := probeOnce(t, srv.URL)
	if result.Kind != ResultDegraded {
		t.Fatalf("expected ResultDegraded without an id, got %v", result.Kind)
	}
}

func TestProbe_ServerErrorsAreDegraded(t *testing.T) {
	// Client errors like 403/404 are deliberately grouped with 5xx as
	// retriable infra failures; only 401 is a stable signal.
	for _, status := range []int{http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		result := probeOnce(t, srv.URL)
		srv.Close()
		if result.Kind != ResultDegraded {
			t.Fatalf("status %d: expected ResultDegraded, got %v", status, result.Kind)
		}
		if !strings.Contains(result.Reason, "status") {
			t.Fatalf("status %d: expected a status reason, got %q", status, result.Reason)
		}
	}
}

func TestProbe_NetworkErrorIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	result := probeOnce(t, endpoint)
	if result.Kind != ResultDegraded {
		t.Fatalf("expected ResultDegraded for a connection failure, got %v", result.Kind)
	}
}

func TestProbe_TimeoutIsDegradedNotCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	prober := newTestProber(t, srv.URL, 50*time.Millisecond)
	result, err := prober.Probe(context.Background())
	if err != nil {
		t.Fatalf("a probe timeout must not surface as cancellation: %v", err)
	}
	if result.Kind != ResultDegraded {
		t.Fatalf("expected ResultDegraded for timeout, got %v", result.Kind)
	}
}

func TestProbe_CallerCancellationIsNotASignal(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	prober := newTestProber(t, srv.URL, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := prober.Probe(ctx)
	if err == nil {
		t.Fatal("expected a cancellation error for a caller-initiated abort")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
