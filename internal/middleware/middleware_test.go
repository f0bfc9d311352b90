package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	r := gin.New()
	r.Use(Logging(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/missing", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)

	fields := entries[1].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/missing", fields["path"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])
	assert.NotContains(t, fields, "trace_id", "no span without tracing middleware")
}

func TestRateLimiter(t *testing.T) {
	t.Run("limits per client", func(t *testing.T) {
		l := NewRateLimiter(1, 2)
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		l.now = func() time.Time { return now }

		assert.True(t, l.Allow("a"))
		assert.True(t, l.Allow("a"))
		assert.False(t, l.Allow("a"), "burst exhausted")
		assert.True(t, l.Allow("b"), "other clients unaffected")

		now = now.Add(time.Second)
		assert.True(t, l.Allow("a"), "token refilled")
	})

	t.Run("sweeps idle clients", func(t *testing.T) {
		l := NewRateLimiter(1, 1)
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		l.now = func() time.Time { return now }

		l.Allow("old")
		now = now.Add(idleLimiterTTL + time.Second)
		l.Allow("new")

		assert.Equal(t, 1, l.Sweep())
		assert.Len(t, l.clients, 1)
		assert.Contains(t, l.clients, "new")
	})

	t.Run("middleware rejects with 429", func(t *testing.T) {
		l := NewRateLimiter(0.001, 1, "/health")

		r := gin.New()
		r.Use(l.Middleware())
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

		do := func(path string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.RemoteAddr = "203.0.113.9:1234"
			r.ServeHTTP(w, req)
			return w
		}

		assert.Equal(t, http.StatusOK, do("/x").Code)
		w := do("/x")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), "Too Many Requests")

		for i := 0; i < 3; i++ {
			assert.Equal(t, http.StatusOK, do("/health").Code, "skipped path")
		}
	})
}
