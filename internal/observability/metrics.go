package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/zhejian/url-shortener/shortener"

// NewMeterProvider creates a MeterProvider backed by a Prometheus exporter
// on a private registry, and the HTTP handler that serves that registry.
func NewMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, http.Handler, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	return mp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// Metrics holds the shortener's instruments.
type Metrics struct {
	events        metric.Int64Counter
	eventsDropped metric.Int64Counter
	meter         metric.Meter
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	events, err := meter.Int64Counter("shortener.events",
		metric.WithDescription("Domain events by type"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("shortener.events.dropped",
		metric.WithDescription("Events discarded because the notifier buffer was full"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{events: events, eventsDropped: dropped, meter: meter}, nil
}

// EventRecorded counts one delivered event.
func (m *Metrics) EventRecorded(ctx context.Context, eventType string) {
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// EventDropped counts one discarded event.
func (m *Metrics) EventDropped(eventType string) {
	m.eventsDropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// ObserveURLs registers gauges for the total and active record counts.
// snapshot is called on every collection.
func (m *Metrics) ObserveURLs(snapshot func(ctx context.Context) (total, active int)) error {
	total, err := m.meter.Int64ObservableGauge("shortener.urls",
		metric.WithDescription("Records held by the registry"),
	)
	if err != nil {
		return err
	}
	active, err := m.meter.Int64ObservableGauge("shortener.urls.active",
		metric.WithDescription("Records that have not expired"),
	)
	if err != nil {
		return err
	}

	_, err = m.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		t, a := snapshot(ctx)
		o.ObserveInt64(total, int64(t))
		o.ObserveInt64(active, int64(a))
		return nil
	}, total, active)
	return err
}
