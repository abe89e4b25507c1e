package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/clock"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
	"github.com/nerrad567/electrolyser-core/internal/store"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

// logPayloadLimit caps how much of a bad payload is echoed into the event log.
const logPayloadLimit = 100

// Options configures a Pipeline.
type Options struct {
	Config config.IngestConfig
	Store  store.Store

	// Optional collaborators.
	Logger     *logging.Logger
	Clock      clock.Clock
	Registerer prometheus.Registerer
	Sinks      []Sink
	Catalog    *telemetry.Catalog
}

// Stats is a point-in-time view of the pipeline for the status surface.
type Stats struct {
	Connected      bool   `json:"connected"`
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	Dropped        uint64 `json:"dropped"`
	PendingDevices int    `json:"pending_devices"`
	Armed          bool   `json:"armed"`
	Received       uint64 `json:"received"`
	Merged         uint64 `json:"merged"`
	Rejected       uint64 `json:"rejected"`
	Workers        int    `json:"workers"`
}

// Pipeline is the push-path ingestion pipeline:
//
//	subscription -> Queue -> Pool -> Normalizer -> Assembler
//	  -> (idle) -> Flusher -> Store, Sinks
//
// It owns the operator event log and the connection flag that the
// status surface reads.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Pipeline struct {
	normalizer *telemetry.Normalizer
	queue      *Queue
	pool       *Pool
	assembler  *Assembler
	flusher    *Flusher
	events     *EventLog
	metrics    *metrics
	logger     *logging.Logger
	clock      clock.Clock

	connected atomic.Bool
	received  atomic.Uint64
	merged    atomic.Uint64
	rejected  atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool

	timerOnce sync.Once
	stopped   atomic.Bool
}

// New wires a pipeline. Nothing runs until Start.
//
// Parameters:
//   - opts: Store is required; other collaborators default to real
//     clock, discard logger, and a private metrics registry
//
// Returns:
//   - *Pipeline: Ready to Start
//   - error: ErrNoStore if opts.Store is nil
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, ErrNoStore
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
	if opts.Catalog == nil {
		opts.Catalog = telemetry.NewCatalog(opts.Config.MaxDevices)
	}

	cfg := opts.Config
	logger := opts.Logger.With("component", "ingest")
	normalizer := telemetry.NewNormalizer(opts.Catalog, cfg.Offset())

	p := &Pipeline{
		normalizer: normalizer,
		queue:      NewQueue(cfg.QueueSize),
		events:     NewEventLog(cfg.EventLogSize, opts.Clock, normalizer.Zone()),
		logger:     logger,
		clock:      opts.Clock,
	}

	p.assembler = NewAssembler(opts.Clock, cfg.IdleDuration(), p.flushBatch)
	p.metrics = newMetrics(opts.Registerer,
		func() float64 { return float64(p.queue.Len()) },
		func() float64 { return float64(p.assembler.Pending()) },
	)
	p.flusher = newFlusher(FlusherConfig{
		Store:        opts.Store,
		WriteTimeout: cfg.WriteTimeoutDuration(),
		Sinks:        opts.Sinks,
		Events:       p.events,
		Logger:       logger,
		Clock:        opts.Clock,
	}, p.metrics)
	p.pool = NewPool(cfg.Workers, p.queue, p.process, logger)

	return p, nil
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.pool.Start(runCtx)

	p.logger.Info("ingest pipeline started",
		"workers", p.pool.Size(),
		"queue_capacity", p.queue.Cap(),
		"idle_threshold", p.assembler.trigger.Threshold(),
	)
	return nil
}

// StopTimer cancels the idle countdown, waits for a flush already in
// progress, and discards every unflushed composite record. It is the
// first step of shutdown; the caller then disconnects the subscription
// and calls Stop. Safe to call more than once.
func (p *Pipeline) StopTimer() {
	p.timerOnce.Do(func() {
		n := p.assembler.Stop()
		if n > 0 {
			p.events.Warningf("Stopped with %d unflushed device records", n)
		}
		p.logger.Info("idle trigger stopped", "discarded_records", n)
	})
}

// Stop finishes shutdown: workers complete the message they are on and
// exit, and anything still queued is discarded. Records not yet flushed
// are dropped and left for the next reconciliation pass.
func (p *Pipeline) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	p.StopTimer()

	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.pool.Wait()

	p.logger.Info("ingest pipeline stopped", "discarded_messages", p.queue.Discard())
}

// HandleMessage is the subscription callback. It only enqueues and
// never blocks.
//
// Returns:
//   - error: ErrQueueFull if the message was dropped, ErrStopped after Stop
func (p *Pipeline) HandleMessage(topic string, payload []byte) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	p.received.Add(1)
	p.metrics.received.Inc()

	if p.queue.Enqueue(RawMessage{Topic: topic, Payload: payload, ReceivedAt: p.clock.Now()}) {
		return nil
	}

	p.rejected.Add(1)
	p.metrics.rejected.WithLabelValues(reasonQueueFull).Inc()
	p.events.Warningf("Queue full (%d), dropped message on %s", p.queue.Cap(), topic)
	return ErrQueueFull
}

// process runs on a pool worker.
func (p *Pipeline) process(msg RawMessage) {
	rd, err := p.normalizer.Normalize(msg.Topic, msg.Payload)
	if err != nil {
		p.reject(msg, err)
		return
	}

	p.assembler.Merge(rd)
	p.merged.Add(1)
	p.metrics.merged.Inc()
}

// reject classifies a normalisation failure. Unmapped tags are expected
// for unused channels and stay out of the operator log.
func (p *Pipeline) reject(msg RawMessage, err error) {
	p.rejected.Add(1)

	switch {
	case errors.Is(err, telemetry.ErrUnmappedTag):
		p.metrics.rejected.WithLabelValues(reasonUnmapped).Inc()
		p.logger.Debug("unmapped tag dropped", "topic", msg.Topic, "error", err)
	case errors.Is(err, telemetry.ErrDeviceOutOfRange):
		p.metrics.rejected.WithLabelValues(reasonOutOfRange).Inc()
		p.events.Warningf("Dropped reading on %s: %v", msg.Topic, err)
	default:
		p.metrics.rejected.WithLabelValues(reasonMalformed).Inc()
		p.logger.Warn("malformed message dropped", "topic", msg.Topic, "error", err)
		p.events.Errorf("Malformed message on %s: %v (payload: %s)", msg.Topic, err, truncate(msg.Payload))
	}
}

// flushBatch is the assembler's batch callback. Flushes are not tied to
// the run context so a batch captured just before shutdown is still
// written; each row is bounded by the write timeout instead.
func (p *Pipeline) flushBatch(batch Batch) {
	p.flusher.Flush(context.Background(), batch)
}

// Events returns the operator event log.
func (p *Pipeline) Events() *EventLog {
	return p.events
}

// LastFlush returns the most recent flush result, if any.
func (p *Pipeline) LastFlush() (FlushResult, bool) {
	return p.flusher.LastFlush()
}

// OnFlush registers fn to run after every flush.
func (p *Pipeline) OnFlush(fn func(FlushResult)) {
	p.flusher.OnFlush(fn)
}

// SetConnected records the subscription link state.
func (p *Pipeline) SetConnected(connected bool) {
	p.connected.Store(connected)
}

// Connected reports the last recorded subscription link state.
func (p *Pipeline) Connected() bool {
	return p.connected.Load()
}

// Zone returns the storage zone readings are expressed in.
func (p *Pipeline) Zone() *time.Location {
	return p.normalizer.Zone()
}

// Stats returns a snapshot of queue, assembler and counter state.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Connected:      p.Connected(),
		QueueDepth:     p.queue.Len(),
		QueueCapacity:  p.queue.Cap(),
		Dropped:        p.queue.Dropped(),
		PendingDevices: p.assembler.Pending(),
		Armed:          p.assembler.Armed(),
		Received:       p.received.Load(),
		Merged:         p.merged.Load(),
		Rejected:       p.rejected.Load(),
		Workers:        p.pool.Size(),
	}
}

// truncate cuts payload to logPayloadLimit bytes, backing up to a rune
// boundary so a multibyte tag name is never split.
func truncate(payload []byte) string {
	if len(payload) <= logPayloadLimit {
		return string(payload)
	}
	cut := logPayloadLimit
	for cut > 0 && !utf8.RuneStart(payload[cut]) {
		cut--
	}
	return string(payload[:cut]) + "..."
}
