// Package cache holds the latest flushed record per device in Redis.
//
// The relational store is the source of truth; this is the hot path for
// the "latest reading" status endpoint. Each flush overwrites
// "<prefix>:latest:<device>" with the record's JSON snapshot and a TTL.
// A cache write failure is reported to the caller but never affects the
// stored row.
package cache
