package events

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/zhejian/url-shortener/shortener/internal/events")

// PostgresSink appends events to the shortener_events audit table.
type PostgresSink struct {
	db *pgxpool.Pool
}

// NewPostgresSink creates a new audit sink
func NewPostgresSink(db *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Name() string { return "postgres" }

// Handle inserts e. Re-delivering an event with the same ID is a no-op.
func (s *PostgresSink) Handle(ctx context.Context, e Event) error {
	ctx, span := tracer.Start(ctx, "db.insert",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "INSERT"),
			attribute.String("db.sql.table", "shortener_events"),
			attribute.String("event_type", string(e.Type)),
		),
	)
	defer span.End()

	query := `
		INSERT INTO shortener_events (id, event_type, short_code, client_addr, detail, occurred_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6)
	`
	_, err := s.db.Exec(ctx, query,
		e.ID,
		string(e.Type),
		e.ShortCode,
		e.ClientAddress,
		e.Detail,
		e.OccurredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil
		}
		span.RecordError(err)
		return err
	}
	return nil
}

// CountByType returns how many events of each type were recorded for
// shortCode.
func (s *PostgresSink) CountByType(ctx context.Context, shortCode string) (map[Type]int64, error) {
	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "shortener_events"),
			attribute.String("short_code", shortCode),
		),
	)
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT event_type, COUNT(*)
		FROM shortener_events
		WHERE short_code = $1
		GROUP BY event_type
	`, shortCode)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	out := make(map[Type]int64)
	for rows.Next() {
		var (
			t string
			n int64
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		out[Type(t)] = n
	}
	return out, rows.Err()
}

var _ Sink = (*PostgresSink)(nil)
