package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/database"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
	"github.com/nerrad567/electrolyser-core/migrations"
)

// SQLite implements Store on a database.DB.
type SQLite struct {
	db *database.DB
}

// OpenSQLite opens the database file and applies the embedded schema.
//
// Parameters:
//   - ctx: Context for the migration run
//   - cfg: Database configuration
//
// Returns:
//   - *SQLite: Ready store owning the connection
//   - error: If open or migration fails
func OpenSQLite(ctx context.Context, cfg database.Config) (*SQLite, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("migrating readings schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// NewSQLite wraps an already migrated database.
func NewSQLite(db *database.DB) *SQLite {
	return &SQLite{db: db}
}

// InsertRow writes one row.
func (s *SQLite) InsertRow(ctx context.Context, table string, fields map[string]any) (int64, error) {
	query, args, err := buildInsert(table, fields, questionMark)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

// QueryMaxTimestamp returns the newest (date, time) for a device.
func (s *SQLite) QueryMaxTimestamp(ctx context.Context, deviceID int) (MaxTimestamp, bool, error) {
	if err := checkDevice(deviceID); err != nil {
		return MaxTimestamp{}, false, err
	}

	var m MaxTimestamp
	err := s.db.QueryRowContext(ctx,
		"SELECT date, time FROM "+DefaultTable+
			" WHERE machine_name = ? ORDER BY date DESC, time DESC LIMIT 1",
		telemetry.MachineName(deviceID),
	).Scan(&m.Date, &m.Time)
	if errors.Is(err, sql.ErrNoRows) {
		return MaxTimestamp{}, false, nil
	}
	if err != nil {
		return MaxTimestamp{}, false, fmt.Errorf("querying max timestamp: %w", err)
	}
	return m, true, nil
}

// QuerySnapshot returns up to limit rows for a device, newest first.
func (s *SQLite) QuerySnapshot(ctx context.Context, deviceID int, limit int) ([]map[string]any, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns()+" FROM "+DefaultTable+
			" WHERE machine_name = ? ORDER BY date DESC, time DESC, id DESC LIMIT ?",
		telemetry.MachineName(deviceID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		row := make(map[string]any, len(names))
		for i, name := range names {
			if b, ok := values[i].([]byte); ok {
				row[name] = string(b)
				continue
			}
			row[name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot: %w", err)
	}
	return out, nil
}

// Path returns the database file backing the store.
func (s *SQLite) Path() string {
	return s.db.Path()
}

// HealthCheck pings the database. Failures name the file so an operator
// can tell which handle broke.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	if err := s.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("sqlite %s: %w", s.db.Path(), err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
