// Package clock provides an injectable time source.
//
// The ingestion pipeline depends on two timing behaviours: the idle
// flush timer that restarts on every merged reading, and the periodic
// reconciliation cadence. Both take a Clock so tests can advance time
// explicitly instead of sleeping.
//
// Usage:
//
//	clk := clock.Real()
//	timer := clk.AfterFunc(20*time.Second, flush)
//	defer timer.Stop()
//
//	// In tests
//	fake := clock.Fake(time.Date(2025, 10, 27, 8, 0, 0, 0, time.UTC))
//	fake.Advance(20 * time.Second) // runs flush synchronously
package clock
