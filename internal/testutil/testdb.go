package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/zhejian/url-shortener/shortener/internal/infra"
)

// TestDB holds test database resources
type TestDB struct {
	Pool       *pgxpool.Pool
	ConnString string
	container  *postgres.PostgresContainer
}

// SetupTestDB creates a new test database with migrations applied
func SetupTestDB(ctx context.Context) (*TestDB, error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		if terr := container.Terminate(ctx); terr != nil {
			err = terr
		}
		return nil, err
	}

	if err := infra.RunMigrations(connString); err != nil {
		if terr := container.Terminate(ctx); terr != nil {
			err = terr
		}
		return nil, err
	}

	pool, err := infra.NewPostgresPool(ctx, connString)
	if err != nil {
		if terr := container.Terminate(ctx); terr != nil {
			err = terr
		}
		return nil, err
	}

	return &TestDB{Pool: pool, ConnString: connString, container: container}, nil
}

// RequireTestDB starts a database for t, skipping the test when no container
// runtime is available. The container is torn down when t finishes.
func RequireTestDB(t *testing.T) *TestDB {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	db, err := SetupTestDB(ctx)
	if err != nil {
		t.Fatalf("failed to setup test database: %v", err)
	}
	t.Cleanup(func() { db.Teardown(ctx) })
	return db
}

// Cleanup truncates all tables
func (t *TestDB) Cleanup(ctx context.Context) {
	if t == nil || t.Pool == nil {
		return
	}
	if _, err := t.Pool.Exec(ctx, "TRUNCATE TABLE shortener_events"); err != nil {
		return
	}
}

// Container returns the underlying postgres container for direct access.
func (t *TestDB) Container() *postgres.PostgresContainer {
	return t.container
}

// Teardown closes connections and terminates container
func (t *TestDB) Teardown(ctx context.Context) {
	if t.Pool != nil {
		t.Pool.Close()
	}
	if t.container != nil {
		if err := t.container.Terminate(ctx); err != nil {
			return
		}
	}
}
