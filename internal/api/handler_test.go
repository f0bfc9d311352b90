package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zhejian/url-shortener/shortener/internal/api"
	"github.com/zhejian/url-shortener/shortener/internal/events"
	"github.com/zhejian/url-shortener/shortener/internal/model"
	"github.com/zhejian/url-shortener/shortener/internal/service"
	"go.uber.org/zap"
)

// MockShortenerService mocks the service layer
type MockShortenerService struct {
	mock.Mock
}

func (m *MockShortenerService) CreateShortURL(ctx context.Context, req service.CreateRequest) (*model.URLRecord, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.URLRecord), args.Error(1)
}

func (m *MockShortenerService) ListWithStats(ctx context.Context) []model.ListItem {
	args := m.Called(ctx)
	return args.Get(0).([]model.ListItem)
}

func (m *MockShortenerService) GetAnalytics(ctx context.Context, code string) (*model.Analytics, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Analytics), args.Error(1)
}

func (m *MockShortenerService) ResolveAndRecordClick(ctx context.Context, req service.ClickRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockShortenerService) HealthSnapshot(ctx context.Context) model.HealthSnapshot {
	args := m.Called(ctx)
	return args.Get(0).(model.HealthSnapshot)
}

// recordingPublisher captures emitted events
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Notify(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

const testBaseURL = "http://sho.rt"

func setupRouter(svc service.ShortenerServiceInterface, pub events.Publisher, deps map[string]api.Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api.NewHandler(svc, pub, deps, testBaseURL+"/", zap.NewNop()).RegisterRoutes(r)
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_HealthCheck(t *testing.T) {
	t.Run("returns registry counts", func(t *testing.T) {
		mockService := new(MockShortenerService)
		mockService.On("HealthSnapshot", mock.Anything).Return(model.HealthSnapshot{TotalURLs: 4, ActiveURLs: 3})
		router := setupRouter(mockService, &recordingPublisher{}, nil)

		w := doJSON(router, http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "ok", response["status"])
		assert.EqualValues(t, 4, response["totalUrls"])
		assert.EqualValues(t, 3, response["activeUrls"])
		assert.NotContains(t, response, "dependencies")
	})

	t.Run("reports degraded when an optional dependency is down", func(t *testing.T) {
		mockService := new(MockShortenerService)
		mockService.On("HealthSnapshot", mock.Anything).Return(model.HealthSnapshot{})
		deps := map[string]api.Pinger{
			"cache":    api.PingFunc(func(context.Context) error { return assert.AnError }),
			"database": api.PingFunc(func(context.Context) error { return nil }),
		}
		router := setupRouter(mockService, &recordingPublisher{}, deps)

		w := doJSON(router, http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "degraded", response["status"])
		d := response["dependencies"].(map[string]interface{})
		assert.Equal(t, "down", d["cache"])
		assert.Equal(t, "up", d["database"])
	})
}

func TestHandler_CreateShortURL(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("creates short URL successfully", func(t *testing.T) {
		mockService := new(MockShortenerService)
		pub := &recordingPublisher{}
		router := setupRouter(mockService, pub, nil)

		rec := &model.URLRecord{
			ID:                    "id-1",
			OriginalURL:           "https://example.com/long",
			ShortCode:             "aB3xYz",
			CreatedAt:             created,
			ExpiryDate:            created.Add(5 * time.Minute),
			CreatedBy:             "198.51.100.7",
			ValidityPeriodMinutes: 5,
			IsActive:              true,
		}
		mockService.On("CreateShortURL", mock.Anything, service.CreateRequest{
			OriginalURL:     "https://example.com/long",
			CustomCode:      "",
			ValidityMinutes: 5,
			CreatorID:       "198.51.100.7",
		}).Return(rec, nil)

		w := doJSON(router, http.MethodPost, "/api/shorten", map[string]any{
			"originalUrl":    "https://example.com/long",
			"validityPeriod": 5,
		})

		require.Equal(t, http.StatusCreated, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "aB3xYz", resp["shortCode"])
		assert.Equal(t, testBaseURL+"/aB3xYz", resp["shortUrl"])
		assert.Equal(t, "https://example.com/long", resp["originalUrl"])
		assert.EqualValues(t, 5, resp["validityPeriod"])
		assert.Equal(t, true, resp["isActive"])
		assert.Equal(t, []events.Type{events.URLCreated}, pub.Types())
		mockService.AssertExpectations(t)
	})

	t.Run("passes trimmed custom code", func(t *testing.T) {
		mockService := new(MockShortenerService)
		router := setupRouter(mockService, &recordingPublisher{}, nil)

		mockService.On("CreateShortURL", mock.Anything, mock.MatchedBy(func(req service.CreateRequest) bool {
			return req.CustomCode == "promo"
		})).Return(&model.URLRecord{ShortCode: "promo"}, nil)

		w := doJSON(router, http.MethodPost, "/api/shorten", map[string]any{
			"originalUrl":     "https://example.com",
			"customShortcode": "  promo ",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		mockService := new(MockShortenerService)
		pub := &recordingPublisher{}
		router := setupRouter(mockService, pub, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/shorten", bytes.NewBufferString("{not json"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, []events.Type{events.ValidationFailure}, pub.Types())
		mockService.AssertNotCalled(t, "CreateShortURL", mock.Anything, mock.Anything)
	})

	errorCases := []struct {
		name   string
		err    error
		status int
		event  events.Type // empty when no event is expected
	}{
		{"missing url", service.ErrMissingURL, http.StatusBadRequest, events.ValidationFailure},
		{"invalid url", service.ErrInvalidURL, http.StatusBadRequest, events.ValidationFailure},
		{"bad code format", service.ErrInvalidShortcodeFormat, http.StatusBadRequest, events.ValidationFailure},
		{"bad code length", service.ErrInvalidShortcodeLength, http.StatusBadRequest, events.ValidationFailure},
		{"out of range validity", service.ErrInvalidValidityPeriod, http.StatusBadRequest, events.ValidationFailure},
		{"collision", service.ErrShortcodeCollision, http.StatusConflict, events.ValidationFailure},
		{"quota", service.ErrQuotaExceeded, http.StatusTooManyRequests, events.QuotaExceeded},
		{"code space exhausted", service.ErrCodeSpaceExhausted, http.StatusServiceUnavailable, events.CodeSpaceExhausted},
		{"unexpected", errors.New("kaboom"), http.StatusInternalServerError, ""},
	}

	for _, tc := range errorCases {
		t.Run("maps "+tc.name, func(t *testing.T) {
			mockService := new(MockShortenerService)
			pub := &recordingPublisher{}
			router := setupRouter(mockService, pub, nil)
			mockService.On("CreateShortURL", mock.Anything, mock.Anything).Return(nil, tc.err)

			w := doJSON(router, http.MethodPost, "/api/shorten", map[string]any{"originalUrl": "x"})

			assert.Equal(t, tc.status, w.Code)
			var resp model.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, http.StatusText(tc.status), resp.Error)
			if tc.event != "" {
				assert.Equal(t, []events.Type{tc.event}, pub.Types())
			} else {
				assert.Empty(t, pub.Types())
				assert.Equal(t, "Internal server error", resp.Message)
			}
		})
	}
}

func TestHandler_ListURLs(t *testing.T) {
	mockService := new(MockShortenerService)
	router := setupRouter(mockService, &recordingPublisher{}, nil)

	mockService.On("ListWithStats", mock.Anything).Return([]model.ListItem{
		{URLRecord: model.URLRecord{ShortCode: "one"}, TotalClicks: 2, RecentClicks: []model.ClickRecord{}},
		{URLRecord: model.URLRecord{ShortCode: "two"}, IsExpired: true, RecentClicks: []model.ClickRecord{}},
	})

	w := doJSON(router, http.MethodGet, "/api/urls", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var items []map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&items))
	require.Len(t, items, 2)
	assert.Equal(t, "one", items[0]["shortCode"])
	assert.EqualValues(t, 2, items[0]["totalClicks"])
	assert.Equal(t, true, items[1]["isExpired"])
}

func TestHandler_GetAnalytics(t *testing.T) {
	t.Run("returns analytics", func(t *testing.T) {
		mockService := new(MockShortenerService)
		router := setupRouter(mockService, &recordingPublisher{}, nil)

		mockService.On("GetAnalytics", mock.Anything, "abc").Return(&model.Analytics{
			URLRecord:        model.URLRecord{ShortCode: "abc"},
			TotalClicks:      1,
			UniqueVisitors:   1,
			ClicksByLocation: map[string]int64{"Pune, IN": 1},
			Clicks:           []model.ClickRecord{{ClientAddress: "1.1.1.1", Location: "Pune, IN"}},
		}, nil)

		w := doJSON(router, http.MethodGet, "/api/analytics/abc", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.EqualValues(t, 1, resp["totalClicks"])
		assert.Len(t, resp["clicks"], 1)
	})

	t.Run("unknown code", func(t *testing.T) {
		mockService := new(MockShortenerService)
		router := setupRouter(mockService, &recordingPublisher{}, nil)
		mockService.On("GetAnalytics", mock.Anything, "nope").Return(nil, service.ErrShortCodeNotFound)

		w := doJSON(router, http.MethodGet, "/api/analytics/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_Redirect(t *testing.T) {
	t.Run("redirects and records the click", func(t *testing.T) {
		mockService := new(MockShortenerService)
		pub := &recordingPublisher{}
		router := setupRouter(mockService, pub, nil)

		mockService.On("ResolveAndRecordClick", mock.Anything, service.ClickRequest{
			ShortCode:     "abc",
			ClientAddress: "198.51.100.7",
			UserAgent:     "test-agent",
		}).Return("https://example.com/target", nil)

		req := httptest.NewRequest(http.MethodGet, "/abc", nil)
		req.RemoteAddr = "198.51.100.7:5555"
		req.Header.Set("User-Agent", "test-agent")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://example.com/target", w.Header().Get("Location"))
		assert.Equal(t, []events.Type{events.URLAccessed}, pub.Types())
		mockService.AssertExpectations(t)
	})

	t.Run("unknown code", func(t *testing.T) {
		mockService := new(MockShortenerService)
		pub := &recordingPublisher{}
		router := setupRouter(mockService, pub, nil)
		mockService.On("ResolveAndRecordClick", mock.Anything, mock.Anything).Return("", service.ErrShortCodeNotFound)

		w := doJSON(router, http.MethodGet, "/missing", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, []events.Type{events.InvalidCodeAccess}, pub.Types())
	})

	t.Run("expired code returns 410 with expiry", func(t *testing.T) {
		mockService := new(MockShortenerService)
		pub := &recordingPublisher{}
		router := setupRouter(mockService, pub, nil)
		expiredAt := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
		mockService.On("ResolveAndRecordClick", mock.Anything, mock.Anything).
			Return("", &service.ExpiredError{ShortCode: "old", ExpiredAt: expiredAt})

		w := doJSON(router, http.MethodGet, "/old", nil)

		assert.Equal(t, http.StatusGone, w.Code)
		var resp model.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.NotNil(t, resp.ExpiredAt)
		assert.True(t, expiredAt.Equal(*resp.ExpiredAt))
		assert.Equal(t, []events.Type{events.URLExpiredAccess}, pub.Types())
	})

	t.Run("unexpected error", func(t *testing.T) {
		mockService := new(MockShortenerService)
		router := setupRouter(mockService, &recordingPublisher{}, nil)
		mockService.On("ResolveAndRecordClick", mock.Anything, mock.Anything).Return("", errors.New("boom"))

		w := doJSON(router, http.MethodGet, "/abc", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
