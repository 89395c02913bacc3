package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leok974/ApplyLens-sub016/internal/buildinfo"
	"github.com/leok974/ApplyLens-sub016/internal/gate"
	"github.com/leok974/ApplyLens-sub016/internal/session"
)

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/healthz", s.handleHealthz)

	sess := engine.Group("/session")
	sess.GET("/state", s.handleSessionState)
	sess.POST("/refresh", s.handleSessionRefresh)
	sess.GET("/state/ws", gin.WrapH(s.hub.Handler()))

	// Everything else is the upstream application, served only once the
	// session guard has settled on an authenticated identity.
	engine.NoRoute(gate.Middleware(s.snapshot, s.loginURL), s.handleProxy)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

func (s *Server) handleSessionState(c *gin.Context) {
	c.JSON(http.StatusOK, s.statePayload())
}

// handleSessionRefresh triggers an immediate re-probe. The response carries
// the snapshot taken right after the trigger, which is normally "checking".
func (s *Server) handleSessionRefresh(c *gin.Context) {
	s.mu.Lock()
	guard := s.guard
	s.mu.Unlock()
	guard.Refresh()

	c.JSON(http.StatusAccepted, s.statePayload())
}

func (s *Server) statePayload() gin.H {
	snap := s.snapshot()

	payload := gin.H{
		"state":  snap.State.String(),
		"stable": snap.State.Stable(),
	}
	if snap.Reason != "" {
		payload["reason"] = snap.Reason
	}
	if snap.RetryIn > 0 {
		payload["retry_in_ms"] = snap.RetryIn.Milliseconds()
	}
	if snap.Identity != nil {
		payload["identity"] = gin.H{
			"id":    snap.Identity.ID,
			"email": snap.Identity.Email,
		}
	}
	if snap.State == session.StateUnauthenticated {
		payload["login_url"] = s.loginURL()
	}
	return payload
}

func (s *Server) handleProxy(c *gin.Context) {
	s.mu.Lock()
	proxy := s.proxy
	s.mu.Unlock()
	proxy.ServeHTTP(c.Writer, c.Request)
}
