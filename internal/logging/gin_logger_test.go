package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func TestGinLogrusRecoveryRepanicsErrAbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/abort", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	req := httptest.NewRequest(http.MethodGet, "/abort", nil)
	recorder := httptest.NewRecorder()

	defer func() {
		recovered := recover()
		if recovered == nil {
			t.Fatalf("expected panic, got nil")
		}
		err, ok := recovered.(error)
		if !ok {
			t.Fatalf("expected error panic, got %T", recovered)
		}
		if !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected ErrAbortHandler, got %v", err)
		}
	}()

	engine.ServeHTTP(recorder, req)
}

func TestGinLogrusRecoveryHandlesRegularPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	recorder := httptest.NewRecorder()

	engine.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestGinLogrusLoggerAttachesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seen string
	engine := gin.New()
	engine.Use(GinLogrusLogger())
	engine.GET("/state", func(c *gin.Context) {
		seen = GetRequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	engine.ServeHTTP(httptest.NewRecorder(), req)

	if len(seen) != 8 {
		t.Fatalf("expected 8-char request ID on request context, got %q", seen)
	}
}

func TestLogFormatterOrdersKnownFields(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "session probe degraded",
		Data: log.Fields{
			"retry_in": "4s",
			"mount":    "4f1c9a2b",
			"attempt":  3,
		},
	}

	out, err := (&LogFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	line := string(out)

	if !strings.Contains(line, "[warn ]") {
		t.Fatalf("expected padded warn level in %q", line)
	}
	if !strings.Contains(line, "[--------]") {
		t.Fatalf("expected placeholder request ID in %q", line)
	}
	if !strings.Contains(line, "mount=4f1c9a2b attempt=3 retry_in=4s") {
		t.Fatalf("expected ordered fields in %q", line)
	}
}
