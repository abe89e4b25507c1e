package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a connected pool. The store takes ownership: Close
// closes the pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the readings table and its lookup index if absent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresDDL()); err != nil {
		return fmt.Errorf("creating readings table: %w", err)
	}
	if _, err := p.pool.Exec(ctx,
		"CREATE INDEX IF NOT EXISTS idx_readings_machine_ts ON "+DefaultTable+
			" (machine_name, date DESC, time DESC)",
	); err != nil {
		return fmt.Errorf("creating readings index: %w", err)
	}
	return nil
}

// postgresDDL renders CREATE TABLE from the column whitelist.
func postgresDDL() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(DefaultTable)
	b.WriteString(" (\n    id BIGSERIAL PRIMARY KEY")
	for _, c := range Columns {
		b.WriteString(",\n    ")
		b.WriteString(c.Name)
		switch c.Kind {
		case KindInteger:
			b.WriteString(" INTEGER")
		case KindReal:
			b.WriteString(" DOUBLE PRECISION")
		default:
			b.WriteString(" TEXT")
		}
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(",\n    created_at TIMESTAMPTZ NOT NULL DEFAULT now()\n)")
	return b.String()
}

// InsertRow writes one row.
func (p *Postgres) InsertRow(ctx context.Context, table string, fields map[string]any) (int64, error) {
	query, args, err := buildInsert(table, fields, dollar)
	if err != nil {
		return 0, err
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting row: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QueryMaxTimestamp returns the newest (date, time) for a device.
func (p *Postgres) QueryMaxTimestamp(ctx context.Context, deviceID int) (MaxTimestamp, bool, error) {
	if err := checkDevice(deviceID); err != nil {
		return MaxTimestamp{}, false, err
	}

	var m MaxTimestamp
	err := p.pool.QueryRow(ctx,
		"SELECT date, time FROM "+DefaultTable+
			" WHERE machine_name = $1 ORDER BY date DESC, time DESC LIMIT 1",
		telemetry.MachineName(deviceID),
	).Scan(&m.Date, &m.Time)
	if errors.Is(err, pgx.ErrNoRows) {
		return MaxTimestamp{}, false, nil
	}
	if err != nil {
		return MaxTimestamp{}, false, fmt.Errorf("querying max timestamp: %w", err)
	}
	return m, true, nil
}

// QuerySnapshot returns up to limit rows for a device, newest first.
func (p *Postgres) QuerySnapshot(ctx context.Context, deviceID int, limit int) ([]map[string]any, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}

	rows, err := p.pool.Query(ctx,
		"SELECT "+selectColumns()+" FROM "+DefaultTable+
			" WHERE machine_name = $1 ORDER BY date DESC, time DESC, id DESC LIMIT $2",
		telemetry.MachineName(deviceID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}

	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collecting snapshot: %w", err)
	}
	return out, nil
}

// HealthCheck pings the pool.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
