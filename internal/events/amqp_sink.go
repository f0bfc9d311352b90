package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// routingKeyPrefix prefixes the event type to form the AMQP routing key,
// e.g. "shortener.url-created".
const routingKeyPrefix = "shortener."

// AMQPSink publishes events as JSON to a topic exchange. Publishing goes
// through a circuit breaker so an unavailable broker costs one fast failure
// per event instead of a timeout.
type AMQPSink struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	breaker  *gobreaker.CircuitBreaker
}

// NewAMQPSink opens a channel on conn for publishing to exchange. The
// exchange must already exist.
func NewAMQPSink(conn *amqp.Connection, exchange string, logger *zap.Logger) (*AMQPSink, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &AMQPSink{
		ch:       ch,
		exchange: exchange,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "amqp-publisher",
			MaxRequests: 1,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Handle(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return nil, s.ch.PublishWithContext(ctx,
			s.exchange,
			routingKeyPrefix+string(e.Type),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    e.ID,
				Timestamp:    e.OccurredAt,
				Type:         string(e.Type),
				Body:         body,
			},
		)
	})
	return err
}

// Close closes the publishing channel.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.Close()
}

var _ Sink = (*AMQPSink)(nil)
