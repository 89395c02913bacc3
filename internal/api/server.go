// Package api exposes the session gateway's HTTP surface: the session state
// endpoints, the websocket state stream, and the gated reverse proxy to the
// upstream application.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/leok974/ApplyLens-sub016/internal/config"
	"github.com/leok974/ApplyLens-sub016/internal/logging"
	"github.com/leok974/ApplyLens-sub016/internal/session"
	"github.com/leok974/ApplyLens-sub016/internal/statestream"
	"github.com/leok974/ApplyLens-sub016/internal/util"
)

// Server ties the session guard, the state stream hub, and the reverse proxy
// together behind one Gin engine. The guard and proxy are replaced on config
// reload; the engine, hub, and listener live for the process lifetime.
type Server struct {
	engine *gin.Engine
	hub    *statestream.Hub

	mu    sync.Mutex
	cfg   *config.Config
	guard *session.Guard
	proxy *upstreamProxy
}

// NewServer builds the gateway server for the given configuration. The
// returned server owns a running guard; call Run to serve and Close to tear
// it down.
func NewServer(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	s.hub = statestream.NewHub(statestream.Options{
		Snapshot: s.snapshot,
		LoginURL: s.loginURL,
	})

	proxy, errProxy := newUpstreamProxy(cfg.AppUpstream)
	if errProxy != nil {
		return nil, errProxy
	}
	s.proxy = proxy

	s.guard = s.mountGuard(cfg)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.GinLogrusRecovery(), logging.GinLogrusLogger())
	s.registerRoutes(engine)
	s.engine = engine

	return s, nil
}

// mountGuard builds and starts a fresh guard for cfg. The hub outlives
// individual guards, so every mount broadcasts through the same stream.
func (s *Server) mountGuard(cfg *config.Config) *session.Guard {
	guard := session.NewGuard(session.Options{
		Prober:         session.NewHTTPProber(cfg),
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		OnChange:       s.hub.Broadcast,
	})
	guard.Start()
	return guard
}

// snapshot returns the current guard's observable state.
func (s *Server) snapshot() session.Snapshot {
	s.mu.Lock()
	guard := s.guard
	s.mu.Unlock()
	return guard.Snapshot()
}

func (s *Server) loginURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.LoginURL
}

// Handler exposes the Gin engine, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ReloadConfig swaps in a new configuration: the old guard is torn down and a
// fresh one mounted so probing restarts from a clean checking state, and the
// proxy is rebuilt if the upstream changed.
func (s *Server) ReloadConfig(cfg *config.Config) {
	util.SetLogLevel(cfg)
	if err := logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to reconfigure log output: %v", err)
	}

	s.mu.Lock()
	oldGuard := s.guard
	oldUpstream := s.cfg.AppUpstream
	s.cfg = cfg
	if cfg.AppUpstream != oldUpstream {
		if proxy, errProxy := newUpstreamProxy(cfg.AppUpstream); errProxy == nil {
			s.proxy = proxy
		} else {
			log.Errorf("keeping previous upstream proxy, new upstream invalid: %v", errProxy)
		}
	}
	s.guard = s.mountGuard(cfg)
	mountID := s.guard.MountID()
	s.mu.Unlock()

	oldGuard.Close()
	log.Infof("configuration reloaded, session guard remounted (mount %s)", mountID)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.mu.Unlock()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("session gateway listening on %s", addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errStop := httpServer.Shutdown(stopCtx); errStop != nil {
		log.Errorf("gateway shutdown failed: %v", errStop)
	}
	s.Close()
	return nil
}

// Close stops the state stream and the current guard.
func (s *Server) Close() {
	s.hub.Stop()
	s.mu.Lock()
	guard := s.guard
	s.mu.Unlock()
	guard.Close()
}
