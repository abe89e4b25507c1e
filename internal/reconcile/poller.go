package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/clock"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
	"github.com/nerrad567/electrolyser-core/internal/store"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

// DefaultInterval is the reconciliation cadence when none is configured.
const DefaultInterval = 10 * time.Minute

const defaultWriteTimeout = 5 * time.Second

// Reporter receives operator-facing messages. *ingest.EventLog
// satisfies it.
type Reporter interface {
	Infof(format string, args ...any)
	Successf(format string, args ...any)
	Warningf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Result summarises one reconciliation pass.
type Result struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Inserted  int           `json:"inserted"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Error     string        `json:"error,omitempty"`
}

// Options configures a Poller.
type Options struct {
	Source Source
	Store  store.Store

	Interval     time.Duration
	RunOnStart   bool
	WriteTimeout time.Duration

	// Zone is the storage wall-clock zone rows are compared in.
	Zone *time.Location

	// MaxDevices bounds accepted machine numbers. Zero selects the
	// reference fleet size.
	MaxDevices int

	Clock      clock.Clock
	Logger     *logging.Logger
	Reporter   Reporter
	Registerer prometheus.Registerer
}

// Poller periodically copies rows from the snapshot source that are
// strictly newer than what storage already holds for each device.
//
// It never touches the push-path assembler. Its store handle must not
// be shared with the flusher so a slow pass cannot starve ingestion.
//
// Thread Safety:
//   - All methods are safe for concurrent use. At most one pass runs
//     at a time; a concurrent RunOnce returns ErrAlreadyRunning.
type Poller struct {
	source       Source
	store        store.Store
	interval     time.Duration
	runOnStart   bool
	writeTimeout time.Duration
	zone         *time.Location
	maxDevices   int

	clock    clock.Clock
	logger   *logging.Logger
	reporter Reporter
	metrics  *metrics

	runMu sync.Mutex

	lastMu sync.RWMutex
	last   *Result

	subMu sync.RWMutex
	subs  []func(Result)
}

// New builds a poller.
//
// Returns:
//   - *Poller: Ready to Run
//   - error: ErrNoSource or ErrNoStore
func New(opts Options) (*Poller, error) {
	if opts.Source == nil {
		return nil, ErrNoSource
	}
	if opts.Store == nil {
		return nil, ErrNoStore
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Zone == nil {
		opts.Zone = telemetry.FixedZone(telemetry.DefaultUTCOffset)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}

	return &Poller{
		source:       opts.Source,
		store:        opts.Store,
		interval:     opts.Interval,
		runOnStart:   opts.RunOnStart,
		writeTimeout: opts.WriteTimeout,
		zone:         opts.Zone,
		maxDevices:   opts.MaxDevices,
		clock:        opts.Clock,
		logger:       opts.Logger.With("component", "reconcile"),
		reporter:     opts.Reporter,
		metrics:      newMetrics(opts.Registerer),
	}, nil
}

// Run executes a pass every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("reconciliation poller started", "interval", p.interval)
	if p.runOnStart {
		p.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reconciliation poller stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if _, err := p.RunOnce(ctx); errors.Is(err, ErrAlreadyRunning) {
		p.logger.Debug("reconciliation pass skipped, previous still running")
	}
}

// RunOnce executes one reconciliation pass.
//
// Returns:
//   - Result: Counts for the pass, also kept as LastResult
//   - error: ErrAlreadyRunning, or the source fetch error
func (p *Poller) RunOnce(ctx context.Context) (Result, error) {
	if !p.runMu.TryLock() {
		return Result{}, ErrAlreadyRunning
	}
	defer p.runMu.Unlock()

	result := Result{StartedAt: p.clock.Now()}
	p.report(func(r Reporter) { r.Infof("Reconciliation started") })

	items, err := p.source.Fetch(ctx)
	if err != nil {
		result.Error = err.Error()
		result.Duration = p.clock.Now().Sub(result.StartedAt)
		p.logger.Error("reconciliation fetch failed", "error", err)
		p.report(func(r Reporter) { r.Errorf("Reconciliation fetch failed: %v", err) })
		p.finish(result)
		return result, err
	}

	groups, dropped := Transform(items, p.maxDevices)
	result.Total = dropped
	result.Skipped = dropped

	devices := make([]int, 0, len(groups))
	for id := range groups {
		devices = append(devices, id)
	}
	slices.Sort(devices)

	for _, id := range devices {
		p.reconcileDevice(ctx, id, groups[id], &result)
	}

	result.Duration = p.clock.Now().Sub(result.StartedAt)
	p.logger.Info("reconciliation pass complete",
		"total", result.Total,
		"inserted", result.Inserted,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"duration", result.Duration,
	)
	p.report(func(r Reporter) {
		msg := fmt.Sprintf("Reconciliation complete: total %d, inserted %d, failed %d, skipped %d",
			result.Total, result.Inserted, result.Failed, result.Skipped)
		if result.Failed > 0 {
			r.Warningf("%s", msg)
			return
		}
		r.Successf("%s", msg)
	})
	p.finish(result)
	return result, nil
}

// reconcileDevice inserts the rows of one device that are strictly newer
// than its stored maximum. rows are sorted ascending.
func (p *Poller) reconcileDevice(ctx context.Context, deviceID int, rows []Row, result *Result) {
	result.Total += len(rows)

	stored, ok, err := p.store.QueryMaxTimestamp(ctx, deviceID)
	if err != nil {
		result.Failed += len(rows)
		p.logger.Error("querying stored maximum failed", "device_id", deviceID, "error", err)
		p.report(func(r Reporter) {
			r.Errorf("Reconciliation skipped %s: %v", telemetry.MachineName(deviceID), err)
		})
		return
	}

	var threshold time.Time
	if ok {
		// An unparsable stored maximum compares as the zero time, so
		// every candidate counts as newer.
		threshold, _ = stored.At(p.zone)
	}

	for _, row := range rows {
		ts, err := row.Timestamp(p.zone)
		if err != nil {
			result.Skipped++
			continue
		}
		if ok && !ts.After(threshold) {
			result.Skipped++
			continue
		}

		if err := p.insert(ctx, row); err != nil {
			result.Failed++
			p.logger.Warn("reconciliation insert failed",
				"device_id", deviceID,
				"date", row.Date,
				"time", row.Time,
				"error", err,
			)
			continue
		}
		result.Inserted++
	}
}

func (p *Poller) insert(ctx context.Context, row Row) error {
	wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	_, err := p.store.InsertRow(wctx, store.DefaultTable, row.Insert())
	return err
}

func (p *Poller) report(fn func(Reporter)) {
	if p.reporter != nil {
		fn(p.reporter)
	}
}

func (p *Poller) finish(result Result) {
	p.metrics.observe(result)

	p.lastMu.Lock()
	p.last = &result
	p.lastMu.Unlock()

	p.subMu.RLock()
	subs := slices.Clone(p.subs)
	p.subMu.RUnlock()
	for _, fn := range subs {
		fn(result)
	}
}

// LastResult returns the most recent pass result, if any.
func (p *Poller) LastResult() (Result, bool) {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	if p.last == nil {
		return Result{}, false
	}
	return *p.last, true
}

// OnResult registers fn to be called after every pass.
func (p *Poller) OnResult(fn func(Result)) {
	p.subMu.Lock()
	p.subs = append(p.subs, fn)
	p.subMu.Unlock()
}

// BreakerState reports the source circuit breaker ("closed", "half-open",
// "open"), or "" when the source has no breaker.
func (p *Poller) BreakerState() string {
	if b, ok := p.source.(interface{ BreakerState() string }); ok {
		return b.BreakerState()
	}
	return ""
}

// Interval returns the configured cadence.
func (p *Poller) Interval() time.Duration {
	return p.interval
}
