// Package postgres opens the optional PostgreSQL backend for the readings
// store.
//
// Connect parses the URL, builds a pgx pool and retries the initial ping
// with exponential backoff. The store package wraps the returned pool.
//
// Usage:
//
//	pool, err := postgres.Connect(ctx, postgres.Config{URL: cfg.Storage.Postgres.URL})
//	if err != nil {
//	    return err
//	}
//	readings := store.NewPostgres(pool)
package postgres
