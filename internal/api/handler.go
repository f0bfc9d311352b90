package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zhejian/url-shortener/shortener/internal/events"
	"github.com/zhejian/url-shortener/shortener/internal/model"
	"github.com/zhejian/url-shortener/shortener/internal/service"
	"go.uber.org/zap"
)

// Handler holds HTTP handlers and dependencies.
// It follows the dependency injection pattern, receiving
// interfaces rather than concrete implementations for testability.
type Handler struct {
	shortener service.ShortenerServiceInterface // URL shortening business logic
	events    events.Publisher                  // Domain event hook
	deps      map[string]Pinger                 // Optional backing services reported by /health
	baseURL   string
	logger    *zap.Logger
}

// Pinger is an optional backing service whose reachability /health reports.
// The shortener keeps serving when one is down.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// NewHandler creates a new handler instance with the provided dependencies.
// deps may be nil.
func NewHandler(shortener service.ShortenerServiceInterface, publisher events.Publisher, deps map[string]Pinger, baseURL string, logger *zap.Logger) *Handler {
	return &Handler{
		shortener: shortener,
		events:    publisher,
		deps:      deps,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
	}
}

// RegisterRoutes registers all route definitions on the given Gin engine.
// The caller is responsible for creating the engine and adding middleware
// before calling this method, so middleware runs in the correct order.
// Routes are organized into:
//   - Health check endpoint for monitoring
//   - API endpoints for creating and inspecting short URLs (grouped under /api)
//   - Public redirect endpoint for short URL resolution
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// Health check endpoint
	r.GET("/health", h.healthCheck)

	group := r.Group("/api")
	{
		group.POST("/shorten", h.createShortURL)           // Create short URL
		group.GET("/urls", h.listURLs)                     // List URLs with click summary
		group.GET("/analytics/:shortCode", h.getAnalytics) // Full click history
	}

	// Redirect route (public) - must be last to avoid conflicts
	r.GET("/:shortCode", h.redirect)
}

// healthCheck handles GET /health
// Returns registry counts and the reachability of optional dependencies.
// Response codes:
//   - 200 OK: always; status is "degraded" when an optional dependency is down
func (h *Handler) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	snap := h.shortener.HealthSnapshot(ctx)

	status := "ok"
	resp := gin.H{
		"totalUrls":  snap.TotalURLs,
		"activeUrls": snap.ActiveURLs,
	}

	if len(h.deps) > 0 {
		deps := gin.H{}
		for name, p := range h.deps {
			if err := p.Ping(ctx); err != nil {
				status = "degraded"
				deps[name] = "down"
				h.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
				continue
			}
			deps[name] = "up"
		}
		resp["dependencies"] = deps
	}

	resp["status"] = status
	c.JSON(http.StatusOK, resp)
}

// createShortURL handles POST /api/shorten
// Creates a new short URL owned by the calling client address.
// Request body: CreateURLRequest (JSON)
// Response codes:
//   - 201 Created: Short URL successfully created
//   - 400 Bad Request: Invalid body, URL, short code or validity period
//   - 409 Conflict: Custom short code already exists
//   - 429 Too Many Requests: Client already owns the maximum number of active URLs
//   - 503 Service Unavailable: No free random short code could be found
//   - 500 Internal Server Error: Unexpected error
func (h *Handler) createShortURL(c *gin.Context) {
	ctx := c.Request.Context()
	clientIP := c.ClientIP()
	var req model.CreateURLRequest

	// Bind JSON request body
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid request body",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path))
		h.events.Notify(events.New(events.ValidationFailure, "", clientIP, "invalid request body"))
		h.errorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := h.shortener.CreateShortURL(ctx, service.CreateRequest{
		OriginalURL:     req.OriginalURL,
		CustomCode:      strings.TrimSpace(req.CustomShortcode),
		ValidityMinutes: req.ValidityPeriod,
		CreatorID:       clientIP,
	})
	if err != nil {
		// Map service errors to appropriate HTTP status codes
		status := http.StatusInternalServerError
		event := events.ValidationFailure
		switch {
		case errors.Is(err, service.ErrMissingURL),
			errors.Is(err, service.ErrInvalidURL),
			errors.Is(err, service.ErrInvalidShortcodeFormat),
			errors.Is(err, service.ErrInvalidShortcodeLength),
			errors.Is(err, service.ErrInvalidValidityPeriod):
			status = http.StatusBadRequest
		case errors.Is(err, service.ErrShortcodeCollision):
			status = http.StatusConflict
		case errors.Is(err, service.ErrQuotaExceeded):
			status = http.StatusTooManyRequests
			event = events.QuotaExceeded
		case errors.Is(err, service.ErrCodeSpaceExhausted):
			status = http.StatusServiceUnavailable
			event = events.CodeSpaceExhausted
		}

		if status == http.StatusInternalServerError {
			h.logger.Error("unexpected error creating short URL", zap.Error(err))
			h.errorResponse(c, status, "Internal server error")
			return
		}
		h.events.Notify(events.New(event, req.CustomShortcode, clientIP, err.Error()))
		h.errorResponse(c, status, err.Error())
		return
	}

	h.events.Notify(events.New(events.URLCreated, rec.ShortCode, clientIP, rec.OriginalURL))

	// Return created short URL
	c.JSON(http.StatusCreated, model.CreateURLResponse{
		URLRecord: *rec,
		ShortURL:  h.baseURL + "/" + rec.ShortCode,
	})
}

// listURLs handles GET /api/urls
// Lists every short URL, live or expired, with its click summary.
// Response codes:
//   - 200 OK
func (h *Handler) listURLs(c *gin.Context) {
	c.JSON(http.StatusOK, h.shortener.ListWithStats(c.Request.Context()))
}

// getAnalytics handles GET /api/analytics/:shortCode
// Returns the record and full click history of a short code, expired or not.
// Response codes:
//   - 200 OK: Analytics returned
//   - 404 Not Found: Short code does not exist
//   - 500 Internal Server Error: Unexpected error
func (h *Handler) getAnalytics(c *gin.Context) {
	code := c.Param("shortCode")

	analytics, err := h.shortener.GetAnalytics(c.Request.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrShortCodeNotFound):
			h.errorResponse(c, http.StatusNotFound, "Short code not found")
		default:
			h.logger.Error("unexpected error fetching analytics",
				zap.Error(err),
				zap.String("short_code", code))
			h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	c.JSON(http.StatusOK, analytics)
}

// redirect handles GET /:shortCode
// Redirects the client to the original URL and records the click.
// Path parameter: shortCode - the short code to resolve
// Response codes:
//   - 302 Found: Redirects to original URL
//   - 404 Not Found: Short code does not exist
//   - 410 Gone: URL has expired; body carries expiredAt
//   - 500 Internal Server Error: Unexpected error
func (h *Handler) redirect(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("shortCode")
	clientIP := c.ClientIP()

	target, err := h.shortener.ResolveAndRecordClick(ctx, service.ClickRequest{
		ShortCode:     code,
		ClientAddress: clientIP,
		UserAgent:     c.Request.UserAgent(),
	})
	if err != nil {
		var expired *service.ExpiredError
		switch {
		case errors.Is(err, service.ErrShortCodeNotFound):
			h.events.Notify(events.New(events.InvalidCodeAccess, code, clientIP, ""))
			h.errorResponse(c, http.StatusNotFound, "Short code not found")
		case errors.As(err, &expired):
			h.events.Notify(events.New(events.URLExpiredAccess, code, clientIP, ""))
			c.JSON(http.StatusGone, model.ErrorResponse{
				Error:     http.StatusText(http.StatusGone),
				Message:   "Short URL has expired",
				ExpiredAt: &expired.ExpiredAt,
			})
		default:
			h.logger.Error("unexpected error during redirect",
				zap.Error(err),
				zap.String("short_code", code))
			h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.events.Notify(events.New(events.URLAccessed, code, clientIP, target))

	// 302: browsers must not cache the redirect
	c.Redirect(http.StatusFound, target)
}

// errorResponse sends a standardized JSON error response.
// It uses the HTTP status code to determine the error type
// and includes a custom message for additional context.
func (h *Handler) errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, model.ErrorResponse{
		Error:   http.StatusText(status), // e.g., "Bad Request", "Not Found"
		Message: message,                 // Custom error message
	})
}
