package locator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// LocalNetwork is returned for loopback and private addresses.
const LocalNetwork = "Local network"

var tracer = otel.Tracer("github.com/zhejian/url-shortener/shortener/internal/locator")

var errLookupFailed = errors.New("location lookup failed")

// ipAPIResponse is the subset of the ip-api.com JSON payload we read.
type ipAPIResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	City        string `json:"city"`
	CountryCode string `json:"countryCode"`
}

// HTTPLocator queries an ip-api compatible endpoint. Lookups run behind a
// circuit breaker so a failing provider is skipped instead of slowing every
// redirect down.
type HTTPLocator struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewHTTPLocator creates a locator for endpoint, e.g. "http://ip-api.com/json".
func NewHTTPLocator(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPLocator {
	l := &HTTPLocator{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "locator",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return l
}

// Locate returns "City, CC" for public addresses. Private and loopback
// addresses never leave the process.
func (l *HTTPLocator) Locate(ctx context.Context, clientAddress string) string {
	ip := net.ParseIP(clientAddress)
	if ip == nil {
		return Unknown
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return LocalNetwork
	}

	ctx, span := tracer.Start(ctx, "locator.lookup",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("client.address", clientAddress)),
	)
	defer span.End()

	res, err := l.breaker.Execute(func() (interface{}, error) {
		return l.lookup(ctx, ip.String())
	})
	if err != nil {
		span.RecordError(err)
		l.logger.Debug("location lookup failed",
			zap.String("client_address", clientAddress),
			zap.Error(err),
		)
		return Unknown
	}
	return res.(string)
}

func (l *HTTPLocator) lookup(ctx context.Context, ip string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint+"/"+ip, nil)
	if err != nil {
		return "", err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", errLookupFailed, resp.StatusCode)
	}

	var data ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	if data.Status != "" && data.Status != "success" {
		return "", fmt.Errorf("%w: %s", errLookupFailed, data.Message)
	}

	switch {
	case data.City != "" && data.CountryCode != "":
		return data.City + ", " + data.CountryCode, nil
	case data.CountryCode != "":
		return data.CountryCode, nil
	default:
		return Unknown, nil
	}
}

var _ Locator = (*HTTPLocator)(nil)
