// Package reconcile backfills storage from the WinCC web API.
//
// The push path drops data whenever the MQTT link or the gateway hiccups.
// On a fixed cadence the Poller pulls the source's latest snapshot page,
// cleans it into storage rows and, per device, inserts only rows strictly
// newer than the newest row already stored. Rows that lose a race with
// the push path can appear twice; duplicates are tolerated.
//
// Source access is layered:
//
//	Poller.RunOnce ──► HTTPSource.Fetch
//	                      │ gobreaker (opens after consecutive failed fetches)
//	                      ▼
//	                   backoff.Retry (exponential, bounded, 5xx/429/network only)
//	                      ▼
//	                   POST {page:1, pageSize}
//
// Cleaning rules applied by Transform:
//   - Strings are trimmed; empty strings store as NULL
//   - Numeric columns that do not parse store as NULL
//   - alkali_replenish "是" becomes 1, anything else 0
//   - Dates use "-" separators
//   - Items without a valid machine name ("N#") are dropped
//
// The poller writes through its own store.Store handle, separate from
// the push-path flusher, and never touches the assembler.
package reconcile
