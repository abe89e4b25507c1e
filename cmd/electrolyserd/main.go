// Electrolyser Core - telemetry ingestion daemon
//
// electrolyserd subscribes to the WinCC gateway's MQTT feed, reassembles
// the per-tag stream into one row per electrolyser, and writes those rows
// to SQLite or PostgreSQL. A reconciliation poller backfills gaps from the
// WinCC web API, and a small HTTP surface reports pipeline status.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/nerrad567/electrolyser-core/internal/api"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/database"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/postgres"
	"github.com/nerrad567/electrolyser-core/internal/ingest"
	"github.com/nerrad567/electrolyser-core/internal/reconcile"
	"github.com/nerrad567/electrolyser-core/internal/store"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the parsed command line flags.
type options struct {
	configPath  string
	showVersion bool
}

// parseFlags reads the command line. --config wins over
// ELECTROLYSER_CONFIG, which wins over the default path.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("electrolyserd", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (env ELECTROLYSER_CONFIG)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// getConfigPath returns ELECTROLYSER_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("ELECTROLYSER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - args: Command line arguments without the program name
//   - stdout: Destination for --version output
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error { //nolint:gocognit,gocyclo // linear startup sequence
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "electrolyserd %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()
	log.Info("starting electrolyser core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.configPath,
		"site", cfg.Site.ID,
		"storage", cfg.Storage.Driver,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Storage: the flusher and the reconciler each get their own handle.
	flushStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer closeWithLog(log, "storage", flushStore)

	// Optional sinks. An unreachable mirror is skipped, never fatal.
	mirrors := connectSinks(ctx, cfg, log)
	defer mirrors.close(log)

	checks := map[string]api.HealthChecker{"store": flushStore}
	for name, c := range mirrors.checks {
		checks[name] = c
	}

	pipeline, err := ingest.New(ingest.Options{
		Config:     cfg.Ingest,
		Store:      flushStore,
		Logger:     log,
		Registerer: reg,
		Sinks:      mirrors.sinks,
	})
	if err != nil {
		return fmt.Errorf("creating ingest pipeline: %w", err)
	}
	mirrors.report(pipeline.Events())
	if err := pipeline.Start(ctx); err != nil {
		return fmt.Errorf("starting ingest pipeline: %w", err)
	}

	// Reconciliation.
	var poller *reconcile.Poller
	if cfg.Reconcile.Enabled {
		reconcileStore, storeErr := openStore(ctx, cfg, log)
		if storeErr != nil {
			return fmt.Errorf("opening reconciliation storage: %w", storeErr)
		}
		defer closeWithLog(log, "reconciliation storage", reconcileStore)

		poller, err = newPoller(cfg, reconcileStore, pipeline, reg, log)
		if err != nil {
			return fmt.Errorf("creating reconciliation poller: %w", err)
		}
		go poller.Run(ctx)
	} else {
		log.Info("reconciliation disabled")
	}

	// MQTT connects in the background so a missing broker never blocks
	// startup or the status surface.
	clientID := mqtt.ClientID(cfg.MQTT)
	link := newBrokerLink(cfg.MQTT, clientID, pipeline, log)
	go link.run(ctx)

	apiDeps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		MQTT:        cfg.MQTT,
		Logger:      log,
		Pipeline:    pipeline,
		ClientID:    clientID,
		Link:        link,
		Latest:      mirrors.latest,
		Store:       flushStore,
		MaxDevices:  cfg.Ingest.MaxDevices,
		MirrorStats: mirrors.influxStats(),
		Checks:      checks,
		Gatherer:    reg,
		Version:     version,
	}
	if poller != nil {
		apiDeps.Reconciler = poller
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Cancel the idle timer first so no flush races the disconnect, then
	// drop the broker link, then let the workers drain.
	pipeline.StopTimer()
	link.Close()
	pipeline.Stop()

	log.Info("electrolyser core stopped")
	return nil
}

// openStore opens the configured relational backend.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, postgres.Config{
			URL:            cfg.Storage.Postgres.URL,
			MaxConns:       int32(cfg.Storage.Postgres.MaxConns), //nolint:gosec // validated small positive
			ConnectRetries: cfg.Storage.Postgres.ConnectRetries,
		})
		if err != nil {
			return nil, err
		}
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, err
		}
		log.Info("postgres storage connected")
		return pg, nil
	default:
		st, err := store.OpenSQLite(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		log.Info("sqlite storage opened", "path", st.Path())
		return st, nil
	}
}

// newPoller builds the reconciliation poller. It reports into the
// ingestion event log so operators see both paths in one place.
func newPoller(cfg *config.Config, st store.Store, pipeline *ingest.Pipeline, reg prometheus.Registerer, log *logging.Logger) (*reconcile.Poller, error) {
	source, err := reconcile.NewHTTPSource(cfg.Reconcile.Source, cfg.Reconcile.Breaker)
	if err != nil {
		return nil, err
	}
	return reconcile.New(reconcile.Options{
		Source:       source,
		Store:        st,
		Interval:     cfg.Reconcile.IntervalDuration(),
		RunOnStart:   cfg.Reconcile.RunOnStart,
		WriteTimeout: cfg.Ingest.WriteTimeoutDuration(),
		Zone:         pipeline.Zone(),
		MaxDevices:   cfg.Ingest.MaxDevices,
		Logger:       log,
		Reporter:     pipeline.Events(),
		Registerer:   reg,
	})
}

func closeWithLog(log *logging.Logger, name string, c io.Closer) {
	log.Info("closing " + name)
	if err := c.Close(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("error closing "+name, "error", err)
	}
}
