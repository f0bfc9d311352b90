package testutil

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// TestBroker holds a throwaway RabbitMQ instance
type TestBroker struct {
	URL       string
	container *rabbitmq.RabbitMQContainer
}

// SetupTestBroker starts a RabbitMQ container
func SetupTestBroker(ctx context.Context) (*TestBroker, error) {
	container, err := rabbitmq.Run(ctx, "rabbitmq:3.13-alpine")
	if err != nil {
		return nil, err
	}

	url, err := container.AmqpURL(ctx)
	if err != nil {
		if terr := container.Terminate(ctx); terr != nil {
			err = terr
		}
		return nil, err
	}

	return &TestBroker{URL: url, container: container}, nil
}

// RequireTestBroker starts RabbitMQ for t, skipping the test when no
// container runtime is available.
func RequireTestBroker(t *testing.T) *TestBroker {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	broker, err := SetupTestBroker(ctx)
	if err != nil {
		t.Fatalf("failed to setup test broker: %v", err)
	}
	t.Cleanup(func() { broker.Teardown(ctx) })
	return broker
}

// Teardown terminates the container
func (t *TestBroker) Teardown(ctx context.Context) {
	if t.container != nil {
		_ = t.container.Terminate(ctx)
	}
}
