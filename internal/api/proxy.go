package api

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	log "github.com/sirupsen/logrus"
)

// upstreamProxy forwards gated requests to the protected application.
type upstreamProxy struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
}

// newUpstreamProxy creates a reverse proxy for the application upstream. The
// gateway forwards requests as-is: cookies and headers pass through untouched
// so the upstream performs its own session validation, and no identity
// headers are injected on its behalf.
func newUpstreamProxy(upstreamURL string) (*upstreamProxy, error) {
	parsed, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid app upstream url: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(parsed)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = parsed.Host
	}

	proxy.ErrorHandler = func(rw http.ResponseWriter, req *http.Request, errProxy error) {
		log.Errorf("app upstream proxy error for %s %s: %v", req.Method, req.URL.Path, errProxy)
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusBadGateway)
		_, _ = rw.Write([]byte(`{"error":"app_upstream_proxy_error","message":"Failed to reach application upstream"}`))
	}

	return &upstreamProxy{target: parsed, proxy: proxy}, nil
}

func (p *upstreamProxy) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	p.proxy.ServeHTTP(rw, req)
}
