package events

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes every event to the structured log. Failures are logged at
// warn level, everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.Type)),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.ShortCode != "" {
		fields = append(fields, zap.String("short_code", e.ShortCode))
	}
	if e.ClientAddress != "" {
		fields = append(fields, zap.String("client_address", e.ClientAddress))
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}

	if e.Type.IsFailure() {
		s.logger.Warn("shortener event", fields...)
	} else {
		s.logger.Info("shortener event", fields...)
	}
	return nil
}

// EventCounter is implemented by the metrics layer.
type EventCounter interface {
	EventRecorded(ctx context.Context, eventType string)
}

// MetricsSink counts events by type.
type MetricsSink struct {
	counter EventCounter
}

// NewMetricsSink creates a metrics sink
func NewMetricsSink(counter EventCounter) *MetricsSink {
	return &MetricsSink{counter: counter}
}

func (s *MetricsSink) Name() string { return "metrics" }

func (s *MetricsSink) Handle(ctx context.Context, e Event) error {
	s.counter.EventRecorded(ctx, string(e.Type))
	return nil
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*MetricsSink)(nil)
)
