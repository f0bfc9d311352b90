package observability

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type Config struct {
	ServiceName  string
	Environment  string // "development", "staging", "production"
	OTLPEndpoint string // e.g. "localhost:4317"; empty means no export
	LogFile      string // empty means stdout only
}

// Observability holds all telemetry providers
type Observability struct {
	Logger         *zap.Logger
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Metrics        *Metrics
	MetricsHandler http.Handler
}

// Setup initializes all observability components
func Setup(ctx context.Context, cfg Config) (*Observability, error) {
	// Initialize logger
	logger := NewLogger(cfg.Environment, cfg.LogFile)

	res, err := NewResource(ctx, cfg.ServiceName, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tp, err := NewTracerProvider(ctx, res, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	mp, handler, err := NewMeterProvider(res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	otel.SetMeterProvider(mp)

	metrics, err := NewMetrics(mp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, err
	}

	logger.Info("observability initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
		zap.Bool("trace_export", cfg.OTLPEndpoint != ""),
	)

	return &Observability{
		Logger:         logger,
		TracerProvider: tp,
		MeterProvider:  mp,
		Metrics:        metrics,
		MetricsHandler: handler,
	}, nil
}

// Shutdown gracefully shuts down all telemetry providers
func (o *Observability) Shutdown(ctx context.Context) {
	o.Logger.Info("shutting down observability")

	if o.TracerProvider != nil {
		if err := o.TracerProvider.Shutdown(ctx); err != nil {
			o.Logger.Error("failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if o.MeterProvider != nil {
		if err := o.MeterProvider.Shutdown(ctx); err != nil {
			o.Logger.Error("failed to shutdown meter provider", zap.Error(err))
		}
	}

	_ = o.Logger.Sync()
}
