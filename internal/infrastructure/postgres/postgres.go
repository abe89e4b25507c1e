package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoURL indicates the connection URL is empty.
var ErrNoURL = errors.New("postgres: connection url is required")

// maxElapsed bounds the whole startup retry loop.
const maxElapsed = 2 * time.Minute

// Config contains pool settings.
type Config struct {
	URL            string
	MaxConns       int32
	ConnectRetries int
}

// Connect creates a pool and pings it with exponential backoff, so the
// service tolerates a database that starts after it.
//
// Parameters:
//   - ctx: Cancels the retry loop
//   - cfg: Pool settings
//
// Returns:
//   - *pgxpool.Pool: Verified pool
//   - error: ErrNoURL, a parse error, or the last ping error
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	var policy backoff.BackOff = bo
	if cfg.ConnectRetries > 0 {
		policy = backoff.WithMaxRetries(bo, uint64(cfg.ConnectRetries))
	}

	err = backoff.Retry(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres not reachable: %w", err)
	}

	return pool, nil
}
