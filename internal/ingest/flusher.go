package ingest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/clock"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
	"github.com/nerrad567/electrolyser-core/internal/store"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

// DefaultWriteTimeout bounds a single row insert.
const DefaultWriteTimeout = 5 * time.Second

// Sink receives a copy of every record the flusher stored successfully.
//
// Sinks are secondary: a sink error is logged and counted but never
// affects the flush result.
type Sink interface {
	Name() string
	RecordFlushed(ctx context.Context, snap telemetry.Snapshot) error
}

// FlushResult summarises one batch write.
type FlushResult struct {
	BatchID   string        `json:"batch_id"`
	StartedAt time.Time     `json:"started_at"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Flusher writes captured batches through the storage insert primitive.
//
// Every record in a batch is attempted even if earlier ones fail. There
// is no retry: a failed record is lost unless the reconciliation poller
// later supplies the same instant.
//
// Thread Safety:
//   - Flush calls are serialised; all other methods are safe for
//     concurrent use.
type Flusher struct {
	store        store.Store
	table        string
	writeTimeout time.Duration
	sinks        []Sink

	events  *EventLog
	logger  *logging.Logger
	metrics *metrics
	clock   clock.Clock

	flushMu sync.Mutex

	lastMu sync.RWMutex
	last   *FlushResult

	subMu sync.RWMutex
	subs  []func(FlushResult)
}

// FlusherConfig carries the Flusher's collaborators.
type FlusherConfig struct {
	Store        store.Store
	Table        string
	WriteTimeout time.Duration
	Sinks        []Sink
	Events       *EventLog
	Logger       *logging.Logger
	Clock        clock.Clock
}

func newFlusher(cfg FlusherConfig, m *metrics) *Flusher {
	if cfg.Table == "" {
		cfg.Table = store.DefaultTable
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Events == nil {
		cfg.Events = NewEventLog(MinEventLogSize, cfg.Clock, nil)
	}
	return &Flusher{
		store:        cfg.Store,
		table:        cfg.Table,
		writeTimeout: cfg.WriteTimeout,
		sinks:        cfg.Sinks,
		events:       cfg.Events,
		logger:       cfg.Logger,
		metrics:      m,
		clock:        cfg.Clock,
	}
}

// Flush writes every non-empty record in batch, one row each.
func (f *Flusher) Flush(ctx context.Context, batch Batch) FlushResult {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	start := f.clock.Now()
	result := FlushResult{BatchID: batch.ID, StartedAt: start}
	stored := make([]telemetry.Snapshot, 0, len(batch.Records))

	for _, rec := range batch.Records {
		if rec.Empty() {
			continue
		}
		result.Attempted++

		if err := f.write(ctx, rec); err != nil {
			result.Failed++
			f.logger.Error("flush write failed",
				"batch_id", batch.ID,
				"device_id", rec.DeviceID,
				"error", err,
			)
			f.events.Errorf("Write failed for %s: %v", telemetry.MachineName(rec.DeviceID), err)
			continue
		}
		result.Succeeded++
		stored = append(stored, rec.Snapshot())
	}

	result.Duration = f.clock.Now().Sub(start)
	f.record(result)
	f.deliver(ctx, stored)
	f.notify(result)
	return result
}

func (f *Flusher) write(ctx context.Context, rec *telemetry.Record) error {
	wctx, cancel := context.WithTimeout(ctx, f.writeTimeout)
	defer cancel()

	_, err := f.store.InsertRow(wctx, f.table, store.RecordRow(rec, store.SourceMQTT))
	return err
}

func (f *Flusher) record(result FlushResult) {
	f.lastMu.Lock()
	f.last = &result
	f.lastMu.Unlock()

	if f.metrics != nil {
		f.metrics.flushes.Inc()
		f.metrics.rows.WithLabelValues("success").Add(float64(result.Succeeded))
		f.metrics.rows.WithLabelValues("failure").Add(float64(result.Failed))
		f.metrics.flushTiming.Observe(result.Duration.Seconds())
	}

	f.logger.Info("batch flushed",
		"batch_id", result.BatchID,
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	if result.Failed > 0 {
		f.events.Warningf("Flushed %d/%d records (%d failed)", result.Succeeded, result.Attempted, result.Failed)
		return
	}
	f.events.Successf("Flushed %d records", result.Succeeded)
}

// deliver fans stored records out to every sink.
func (f *Flusher) deliver(ctx context.Context, stored []telemetry.Snapshot) {
	for _, sink := range f.sinks {
		for _, snap := range stored {
			if err := sink.RecordFlushed(ctx, snap); err != nil {
				f.logger.Warn("flush sink failed",
					"sink", sink.Name(),
					"device_id", snap.DeviceID,
					"error", err,
				)
				if f.metrics != nil {
					f.metrics.sinkErrors.WithLabelValues(sink.Name()).Inc()
				}
			}
		}
	}
}

func (f *Flusher) notify(result FlushResult) {
	f.subMu.RLock()
	subs := slices.Clone(f.subs)
	f.subMu.RUnlock()

	for _, fn := range subs {
		fn(result)
	}
}

// LastFlush returns the most recent result, if any batch has been flushed.
func (f *Flusher) LastFlush() (FlushResult, bool) {
	f.lastMu.RLock()
	defer f.lastMu.RUnlock()
	if f.last == nil {
		return FlushResult{}, false
	}
	return *f.last, true
}

// OnFlush registers fn to be called after every flush.
func (f *Flusher) OnFlush(fn func(FlushResult)) {
	f.subMu.Lock()
	f.subs = append(f.subs, fn)
	f.subMu.Unlock()
}
