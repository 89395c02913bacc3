package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leok974/ApplyLens-sub016/internal/config"
	"github.com/leok974/ApplyLens-sub016/internal/util"
	"github.com/tidwall/gjson"
)

// maxIdentityBodySize bounds how much of an identity response is read.
// Identity payloads are small JSON documents; anything larger is suspect.
const maxIdentityBodySize = 1 << 20 // 1 MiB

// Identity is the authenticated principal reported by the identity endpoint.
// The payload is opaque to the guard beyond these two fields; downstream
// consumers that need more must fetch it themselves.
type Identity struct {
	// ID is the stable user identifier.
	ID string `json:"id"`
	// Email is the email-like field accompanying the identifier.
	Email string `json:"email"`
}

// ResultKind tags the outcome of one identity probe.
type ResultKind int

const (
	// ResultDegraded marks a transient failure: non-2xx/non-401 status,
	// network error, timeout, or an abort the caller did not request.
	// Eligible for retry.
	ResultDegraded ResultKind = iota
	// ResultAbsent marks an explicit "no active session" answer (HTTP 401).
	// Stable; must never be retried.
	ResultAbsent
	// ResultIdentity marks a successful probe carrying a user identity.
	// Stable.
	ResultIdentity
)

// String returns a short name for the result kind.
func (k ResultKind) String() string {
	switch k {
	case ResultAbsent:
		return "absent"
	case ResultIdentity:
		return "identity"
	case ResultDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of a single probe attempt. Exactly one
// kind is produced per attempt; a cancelled attempt produces no Result at
// all (see Prober).
type Result struct {
	// Kind tags the variant.
	Kind ResultKind
	// Identity is populated when Kind is ResultIdentity.
	Identity Identity
	// Reason holds a short diagnostic for ResultDegraded outcomes.
	Reason string
}

// Prober issues one call to the session-identity endpoint and classifies
// the outcome. Implementations never retry internally and never panic past
// their boundary.
//
// The returned error is non-nil only when the caller cancelled ctx while
// the probe was in flight. In that case the attempt is not a signal: the
// caller must discard it without applying any state transition. Every other
// failure mode is absorbed into a ResultDegraded.
type Prober interface {
	Probe(ctx context.Context) (Result, error)
}

// HTTPProber probes the identity endpoint over HTTP.
type HTTPProber struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

// NewHTTPProber builds a prober for the configured identity endpoint,
// honoring the gateway's outbound proxy settings.
func NewHTTPProber(cfg *config.Config) *HTTPProber {
	return &HTTPProber{
		endpoint:   cfg.IdentityURL,
		timeout:    cfg.ProbeTimeout,
		httpClient: util.SetProxy(cfg, &http.Client{}),
	}
}

// Probe performs one GET against the identity endpoint and classifies the
// response per the taxonomy on ResultKind. A probe that exceeds the
// configured timeout is a transient failure, not a cancellation.
func (p *HTTPProber) Probe(ctx context.Context) (Result, error) {
	probeCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return Result{Kind: ResultDegraded, Reason: fmt.Sprintf("failed to build probe request: %v", err)}, nil
	}
	req.Header.Set("Accept", "application/json")
	// Negotiate encodings explicitly so the body decoder owns decompression
	// even when a custom transport is configured.
	req.Header.Set("Accept-Encoding", "gzip, deflate, br, zstd")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if cancelErr := callerCancelled(ctx); cancelErr != nil {
			return Result{}, cancelErr
		}
		return Result{Kind: ResultDegraded, Reason: fmt.Sprintf("identity endpoint unreachable: %v", err)}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	// A 401 is the dedicated "no active session" answer. It is stable
	// regardless of body content, so the body is not even read.
	if resp.StatusCode == http.StatusUnauthorized {
		return Result{Kind: ResultAbsent}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Kind: ResultDegraded, Reason: fmt.Sprintf("identity endpoint returned status %d", resp.StatusCode)}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityBodySize))
	if err != nil {
		if cancelErr := callerCancelled(ctx); cancelErr != nil {
			return Result{}, cancelErr
		}
		return Result{Kind: ResultDegraded, Reason: fmt.Sprintf("failed to read identity body: %v", err)}, nil
	}

	decoded, err := decodeBody(resp.Header, body)
	if err != nil {
		return Result{Kind: ResultDegraded, Reason: fmt.Sprintf("failed to decode identity body: %v", err)}, nil
	}

	return classifyIdentityBody(decoded), nil
}

// classifyIdentityBody parses a successful response body into an identity.
// An unusable body counts as a transient failure: the endpoint said yes but
// the answer cannot be trusted.
func classifyIdentityBody(body []byte) Result {
	if !gjson.ValidBytes(body) {
		return Result{Kind: ResultDegraded, Reason: "identity body is not valid JSON"}
	}
	id := gjson.GetBytes(body, "id")
	if !id.Exists() || id.String() == "" {
		return Result{Kind: ResultDegraded, Reason: "identity body is missing an id"}
	}
	return Result{
		Kind: ResultIdentity,
		Identity: Identity{
			ID:    id.String(),
			Email: gjson.GetBytes(body, "email").String(),
		},
	}
}

// callerCancelled returns the caller's cancellation error when the outer
// context was cancelled, and nil otherwise. The per-probe deadline lives on
// a derived context, so a transport timeout never reports as cancellation.
func callerCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil && errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
