// Package store is the relational write/read surface shared by both
// ingest paths.
//
// The push-path flusher writes one row per assembled device record with
// InsertRow. The reconciliation poller reads the newest stored
// (date, time) per device with QueryMaxTimestamp and writes strictly
// newer rows through the same InsertRow primitive.
//
// Two backends implement Store:
//   - SQLite (default), on the infrastructure/database package with the
//     schema from the embedded migrations
//   - PostgreSQL, on a pgx connection pool with DDL generated from Columns
//
// Table and column identifiers are never interpolated unchecked: every
// name must appear in the closed Columns whitelist.
package store
