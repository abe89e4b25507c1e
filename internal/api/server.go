package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
	"github.com/nerrad567/electrolyser-core/internal/ingest"
	"github.com/nerrad567/electrolyser-core/internal/reconcile"
	"github.com/nerrad567/electrolyser-core/internal/store"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Reconciler runs reconciliation passes on demand. *reconcile.Poller
// satisfies it.
type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Result, error)
	LastResult() (reconcile.Result, bool)
	OnResult(fn func(reconcile.Result))
	BreakerState() string
}

// LatestReader returns the most recently flushed record for a device.
// *cache.Client satisfies it.
type LatestReader interface {
	Latest(ctx context.Context, deviceID int) (telemetry.Snapshot, bool, error)
}

// HealthChecker is any dependency that can report its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	MQTT   config.MQTTConfig
	Logger *logging.Logger

	// Pipeline is required.
	Pipeline *ingest.Pipeline

	// ClientID is the MQTT client id actually used on the broker.
	ClientID string

	// Link reports the broker connection and telemetry subscription.
	// Optional; it is shown by GET /health but never degrades it.
	Link HealthChecker

	// Reconciler is optional; POST /reconcile answers 503 without it.
	Reconciler Reconciler

	// Latest is optional; Store is the fallback for latest-record reads.
	Latest LatestReader
	Store  store.Store

	// MaxDevices bounds device ids accepted on the URL. Zero disables
	// the check.
	MaxDevices int

	// MirrorStats reports InfluxDB points queued and asynchronous write
	// errors. Nil when the mirror is not running.
	MirrorStats func() (queued, writeErrors uint64)

	// Checks are run by GET /health, keyed by component name.
	Checks map[string]HealthChecker

	// Gatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	Version string
}

// Server is the HTTP status API and WebSocket event stream.
//
// It is created with New() and started with Start().
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	mqttCfg    config.MQTTConfig
	logger     *logging.Logger
	pipeline   *ingest.Pipeline
	clientID   string
	link       HealthChecker
	reconciler Reconciler
	latest     LatestReader
	store      store.Store
	maxDevices int
	mirror     func() (queued, writeErrors uint64)
	checks     map[string]HealthChecker
	gatherer   prometheus.Gatherer
	version    string
	startTime  time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc

	routerOnce sync.Once
	router     http.Handler
	unsubLog   func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger and Pipeline are required; everything else is optional
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("ingest pipeline is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		mqttCfg:    deps.MQTT,
		logger:     deps.Logger.With("component", "api"),
		pipeline:   deps.Pipeline,
		clientID:   deps.ClientID,
		link:       deps.Link,
		reconciler: deps.Reconciler,
		latest:     deps.Latest,
		store:      deps.Store,
		maxDevices: deps.MaxDevices,
		mirror:     deps.MirrorStats,
		checks:     deps.Checks,
		gatherer:   deps.Gatherer,
		version:    deps.Version,
		startTime:  time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.Replay(ChannelLog, s.logBacklog)
	return s, nil
}

// Start wires pipeline events into the WebSocket hub and begins
// listening for HTTP connections in a background goroutine.
//
// Parameters:
//   - ctx: Parent context for the hub and event relays
//
// Returns:
//   - error: Always nil; listener errors are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.relayEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// relayEvents forwards event log entries, flush results and
// reconciliation results to WebSocket subscribers.
func (s *Server) relayEvents() {
	s.unsubLog = s.pipeline.Events().Subscribe(func(ev ingest.Event) {
		s.hub.Broadcast(ChannelLog, ev)
	})
	s.pipeline.OnFlush(func(res ingest.FlushResult) {
		s.hub.Broadcast(ChannelFlush, res)
	})
	if s.reconciler != nil {
		s.reconciler.OnResult(func(res reconcile.Result) {
			s.hub.Broadcast(ChannelReconcile, res)
		})
	}
}

// logBacklog replays the event log to a client that just subscribed.
func (s *Server) logBacklog() []any {
	events := s.pipeline.Events().Snapshot()
	out := make([]any, len(events))
	for i, ev := range events {
		out[i] = ev
	}
	return out
}

// Handler returns the routed HTTP handler. It is built once.
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() {
		s.router = s.buildRouter()
	})
	return s.router
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.unsubLog != nil {
		s.unsubLog()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
