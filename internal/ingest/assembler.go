package ingest

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/clock"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

// Batch is the set of composite records captured when the idle trigger
// fired. It is never mutated after capture.
type Batch struct {
	ID         string
	CapturedAt time.Time
	Records    []*telemetry.Record // ordered by device
}

// Assembler keeps one in-progress composite record per device.
//
// A single mutex guards the record map and is also held while the idle
// trigger is re-armed and while the map is swapped out for flushing, so
// a reading can never land in a generation that is already being
// written. The lock is held only for map and field assignment; storage
// I/O happens after the swap, outside it.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Assembler struct {
	mu      sync.Mutex
	records map[int]*telemetry.Record

	trigger *IdleTrigger
	clock   clock.Clock
	onBatch func(Batch)
}

// NewAssembler creates an assembler whose idle trigger hands each
// captured batch to onBatch. onBatch runs on the timer goroutine with
// no lock held.
func NewAssembler(clk clock.Clock, idle time.Duration, onBatch func(Batch)) *Assembler {
	if clk == nil {
		clk = clock.Real()
	}
	a := &Assembler{
		records: make(map[int]*telemetry.Record),
		clock:   clk,
		onBatch: onBatch,
	}
	a.trigger = NewIdleTrigger(clk, idle, a.onIdle)
	return a
}

// Merge folds a reading into its device's record and restarts the idle
// countdown.
//
// Returns:
//   - bool: true if the field value was replaced, false if the record
//     already held a strictly newer observation for that field
func (a *Assembler) Merge(rd telemetry.Reading) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[rd.DeviceID]
	if !ok {
		rec = telemetry.NewRecord(rd.DeviceID)
		a.records[rd.DeviceID] = rec
	}
	replaced := rec.Merge(rd)

	a.trigger.Arm()
	return replaced
}

// Pending returns the number of devices with an unflushed record.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Armed reports whether the idle countdown is running.
func (a *Assembler) Armed() bool {
	return a.trigger.Armed()
}

// onIdle is the trigger's fire callback.
func (a *Assembler) onIdle(gen uint64) {
	batch, ok := a.take(gen)
	if !ok || len(batch.Records) == 0 || a.onBatch == nil {
		return
	}
	a.onBatch(batch)
}

// take swaps the record map for a fresh one if gen is still current.
func (a *Assembler) take(gen uint64) (Batch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.trigger.Disarm(gen) {
		return Batch{}, false
	}
	return a.swapLocked(), true
}

// swapLocked captures every non-empty record. Caller holds a.mu.
func (a *Assembler) swapLocked() Batch {
	captured := a.records
	a.records = make(map[int]*telemetry.Record)

	records := make([]*telemetry.Record, 0, len(captured))
	for _, rec := range captured {
		if !rec.Empty() {
			records = append(records, rec)
		}
	}
	slices.SortFunc(records, func(x, y *telemetry.Record) int {
		return x.DeviceID - y.DeviceID
	})

	return Batch{
		ID:         uuid.NewString(),
		CapturedAt: a.clock.Now(),
		Records:    records,
	}
}

// Stop cancels the idle countdown and waits for an in-progress flush.
//
// Returns:
//   - int: Number of pending device records discarded
func (a *Assembler) Stop() int {
	a.trigger.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.records)
	a.records = make(map[int]*telemetry.Record)
	return n
}
