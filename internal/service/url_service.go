package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zhejian/url-shortener/shortener/internal/locator"
	"github.com/zhejian/url-shortener/shortener/internal/model"
	"github.com/zhejian/url-shortener/shortener/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/zhejian/url-shortener/shortener/internal/service")

// recentClickLimit caps the click summary returned by ListWithStats.
const recentClickLimit = 5

// MaxValidityMinutes is the longest validity period whose expiry still fits
// in a time.Duration.
const MaxValidityMinutes = int(math.MaxInt64 / int64(time.Minute))

// CreateRequest carries the inputs of CreateShortURL
type CreateRequest struct {
	OriginalURL     string
	CustomCode      string
	ValidityMinutes int
	CreatorID       string
}

// ClickRequest carries the inputs of ResolveAndRecordClick
type ClickRequest struct {
	ShortCode     string
	ClientAddress string
	UserAgent     string
}

// Settings are the tunables of ShortenerService
type Settings struct {
	DefaultValidityMinutes int
	CreatorQuota           int
}

// ShortenerService orchestrates the registry, the analytics store and the
// code generator. It is the only caller of those components.
type ShortenerService struct {
	registry  *repository.Registry
	analytics *repository.AnalyticsStore
	generator *ShortCodeGenerator
	locator   locator.Locator
	settings  Settings
	logger    *zap.Logger
	now       func() time.Time
}

// ShortenerServiceInterface defines the contract the HTTP layer depends on
type ShortenerServiceInterface interface {
	CreateShortURL(ctx context.Context, req CreateRequest) (*model.URLRecord, error)
	ListWithStats(ctx context.Context) []model.ListItem
	GetAnalytics(ctx context.Context, code string) (*model.Analytics, error)
	ResolveAndRecordClick(ctx context.Context, req ClickRequest) (string, error)
	HealthSnapshot(ctx context.Context) model.HealthSnapshot
}

// Option configures a ShortenerService
type Option func(*ShortenerService)

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(s *ShortenerService) {
		s.now = now
	}
}

// WithLogger sets the logger used for internal defects.
func WithLogger(logger *zap.Logger) Option {
	return func(s *ShortenerService) {
		s.logger = logger
	}
}

// NewShortenerService creates a new shortener service
func NewShortenerService(
	registry *repository.Registry,
	analytics *repository.AnalyticsStore,
	generator *ShortCodeGenerator,
	loc locator.Locator,
	settings Settings,
	opts ...Option,
) *ShortenerService {
	s := &ShortenerService{
		registry:  registry,
		analytics: analytics,
		generator: generator,
		locator:   loc,
		settings:  settings,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateShortURL validates the request and registers a new record.
//
// The quota check, code allocation, insert and analytics initialisation run
// as one critical section under the registry lock. If the analytics entry
// cannot be created the record is removed again before the lock is released.
func (s *ShortenerService) CreateShortURL(ctx context.Context, req CreateRequest) (*model.URLRecord, error) {
	_, span := tracer.Start(ctx, "shortener.create",
		trace.WithAttributes(
			attribute.String("creator_id", req.CreatorID),
			attribute.Bool("custom_code", req.CustomCode != ""),
		),
	)
	defer span.End()

	originalURL, err := validateURL(req.OriginalURL)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	validity := req.ValidityMinutes
	if validity < 0 || validity > MaxValidityMinutes {
		span.SetStatus(codes.Error, ErrInvalidValidityPeriod.Error())
		return nil, ErrInvalidValidityPeriod
	}
	if validity == 0 {
		validity = s.settings.DefaultValidityMinutes
	}

	var created model.URLRecord
	err = s.registry.Update(func(tx *repository.Tx) error {
		now := s.now()
		if tx.CountActiveForCreator(req.CreatorID, now) >= s.settings.CreatorQuota {
			return ErrQuotaExceeded
		}

		code, err := s.generator.Allocate(req.CustomCode, tx.Exists)
		if err != nil {
			return err
		}

		rec := model.URLRecord{
			ID:                    uuid.NewString(),
			OriginalURL:           originalURL,
			ShortCode:             code,
			CreatedAt:             now,
			ExpiryDate:            now.Add(time.Duration(validity) * time.Minute),
			CreatedBy:             req.CreatorID,
			ValidityPeriodMinutes: validity,
			IsActive:              true,
		}
		if err := tx.Insert(&rec); err != nil {
			return fmt.Errorf("insert %q: %w", code, err)
		}
		if err := s.analytics.InitFor(code); err != nil {
			tx.Remove(code)
			return fmt.Errorf("init analytics for %q: %w", code, err)
		}
		created = rec
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateShortCode) {
			s.logger.Error("registry invariant violated during create",
				zap.String("creator_id", req.CreatorID),
				zap.Error(err),
			)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("short_code", created.ShortCode))
	return &created, nil
}

// ListWithStats returns every record joined with its click summary, in
// creation order. A record without analytics is reported with zero clicks.
func (s *ShortenerService) ListWithStats(ctx context.Context) []model.ListItem {
	_, span := tracer.Start(ctx, "shortener.list")
	defer span.End()

	now := s.now()
	records := s.registry.ListAll()
	items := make([]model.ListItem, 0, len(records))
	for _, rec := range records {
		item := model.ListItem{
			URLRecord:    rec,
			IsExpired:    repository.IsExpired(&rec, now),
			RecentClicks: []model.ClickRecord{},
		}
		if entry, err := s.analytics.Get(rec.ShortCode); err == nil {
			item.TotalClicks = entry.TotalClicks
			item.RecentClicks = recentClicks(entry.Clicks, recentClickLimit)
			if n := len(entry.Clicks); n > 0 {
				last := entry.Clicks[n-1].Timestamp
				item.LastClickAt = &last
			}
		}
		items = append(items, item)
	}

	span.SetAttributes(attribute.Int("url_count", len(items)))
	return items
}

// GetAnalytics returns the record behind code with its full click history.
func (s *ShortenerService) GetAnalytics(ctx context.Context, code string) (*model.Analytics, error) {
	_, span := tracer.Start(ctx, "shortener.analytics",
		trace.WithAttributes(attribute.String("short_code", code)),
	)
	defer span.End()

	rec, err := s.registry.Get(code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrShortCodeNotFound
		}
		return nil, err
	}

	out := &model.Analytics{
		URLRecord:        *rec,
		IsExpired:        repository.IsExpired(rec, s.now()),
		ClicksByLocation: map[string]int64{},
		Clicks:           []model.ClickRecord{},
	}

	entry, err := s.analytics.Get(code)
	if err != nil {
		// Creation and purge keep both sides in step, so this is a defect.
		s.logger.Error("analytics entry missing for registered code",
			zap.String("short_code", code),
			zap.Error(err),
		)
		return out, nil
	}

	out.TotalClicks = entry.TotalClicks
	out.Clicks = entry.Clicks
	visitors := make(map[string]struct{})
	for _, click := range entry.Clicks {
		visitors[click.ClientAddress] = struct{}{}
		out.ClicksByLocation[click.Location]++
	}
	out.UniqueVisitors = len(visitors)
	return out, nil
}

// ResolveAndRecordClick returns the original URL behind a live code and
// records the click. Expired codes fail with *ExpiredError and no click is
// recorded.
func (s *ShortenerService) ResolveAndRecordClick(ctx context.Context, req ClickRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "shortener.resolve",
		trace.WithAttributes(attribute.String("short_code", req.ShortCode)),
	)
	defer span.End()

	rec, err := s.registry.Get(req.ShortCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			span.SetStatus(codes.Error, ErrShortCodeNotFound.Error())
			return "", ErrShortCodeNotFound
		}
		return "", err
	}

	now := s.now()
	if repository.IsExpired(rec, now) {
		span.SetStatus(codes.Error, ErrShortCodeExpired.Error())
		return "", &ExpiredError{ShortCode: rec.ShortCode, ExpiredAt: rec.ExpiryDate}
	}

	click := model.ClickRecord{
		Timestamp:     now,
		ClientAddress: req.ClientAddress,
		UserAgent:     req.UserAgent,
		Location:      s.locator.Locate(ctx, req.ClientAddress),
	}
	if err := s.analytics.RecordClick(rec.ShortCode, click); err != nil {
		// The record may have been purged between lookup and record; the
		// redirect still goes through.
		s.logger.Error("failed to record click",
			zap.String("short_code", rec.ShortCode),
			zap.Error(err),
		)
		span.RecordError(err)
	}

	return rec.OriginalURL, nil
}

// HealthSnapshot counts total and active records.
func (s *ShortenerService) HealthSnapshot(ctx context.Context) model.HealthSnapshot {
	total, active := s.registry.Stats(s.now())
	return model.HealthSnapshot{TotalURLs: total, ActiveURLs: active}
}

// PurgeExpired drops records, with their analytics, that expired more than
// retention ago. It returns the number of records removed.
func (s *ShortenerService) PurgeExpired(ctx context.Context, retention time.Duration) int {
	_, span := tracer.Start(ctx, "shortener.purge")
	defer span.End()

	removed := s.registry.PurgeExpired(s.now(), retention, s.analytics.Remove)
	span.SetAttributes(attribute.Int("removed", len(removed)))
	return len(removed)
}

// validateURL trims the input and checks that it is an absolute http(s) URL
// with a host.
func validateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrMissingURL
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", ErrInvalidURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidURL
	}
	return trimmed, nil
}

// recentClicks returns up to limit clicks, newest first.
func recentClicks(clicks []model.ClickRecord, limit int) []model.ClickRecord {
	n := len(clicks)
	if n > limit {
		n = limit
	}
	out := make([]model.ClickRecord, 0, n)
	for i := len(clicks) - 1; i >= len(clicks)-n; i-- {
		out = append(out, clicks[i])
	}
	return out
}

// Ensure ShortenerService implements ShortenerServiceInterface at compile time
var _ ShortenerServiceInterface = (*ShortenerService)(nil)
