package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhejian/url-shortener/shortener/internal/config"
	"github.com/zhejian/url-shortener/shortener/internal/events"
	"github.com/zhejian/url-shortener/shortener/internal/locator"
	"github.com/zhejian/url-shortener/shortener/internal/model"
	"github.com/zhejian/url-shortener/shortener/internal/repository"
	"github.com/zhejian/url-shortener/shortener/internal/service"
	"go.uber.org/zap"
)

type nopPublisher struct{}

func (nopPublisher) Notify(events.Event) {}

func newTestRouter(t *testing.T, trustedProxies []string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Server.TrustedProxies = trustedProxies
	shortener := service.NewShortenerService(
		repository.NewRegistry(),
		repository.NewAnalyticsStore(),
		service.NewShortCodeGenerator(cfg.App.ShortCodeLen, cfg.App.ShortCodeRetries, cfg.App.MinAliasLen, cfg.App.MaxAliasLen),
		locator.NewRandomLocator("Mumbai, IN"),
		service.Settings{
			DefaultValidityMinutes: cfg.App.DefaultValidityMinutes,
			CreatorQuota:           cfg.App.CreatorQuota,
		},
	)
	return NewRouter(cfg, Deps{
		Shortener: shortener,
		Events:    nopPublisher{},
		Logger:    zap.NewNop(),
	})
}

func shortenVia(r *gin.Engine, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/shorten",
		bytes.NewBufferString(`{"originalUrl":"https://example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_ClientIP(t *testing.T) {
	t.Run("forwarded header from untrusted peer is ignored", func(t *testing.T) {
		r := newTestRouter(t, nil)

		succeeded := 0
		for i := 0; i < 10; i++ {
			w := shortenVia(r, "198.51.100.7:4000", fmt.Sprintf("203.0.113.%d", i+1))
			if w.Code == http.StatusCreated {
				succeeded++
				var resp model.CreateURLResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, "198.51.100.7", resp.CreatedBy)
				continue
			}
			assert.Equal(t, http.StatusTooManyRequests, w.Code)
		}
		assert.Equal(t, 5, succeeded, "quota applies to the peer address")
	})

	t.Run("forwarded header from trusted proxy names the client", func(t *testing.T) {
		r := newTestRouter(t, []string{"10.0.0.0/8"})

		w := shortenVia(r, "10.1.2.3:4000", "203.0.113.9")
		require.Equal(t, http.StatusCreated, w.Code)

		var resp model.CreateURLResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "203.0.113.9", resp.CreatedBy)
	})
}
