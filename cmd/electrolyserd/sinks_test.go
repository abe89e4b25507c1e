package main

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
	"github.com/nerrad567/electrolyser-core/internal/ingest"
)

func TestConnectSinks_Disabled(t *testing.T) {
	s := connectSinks(context.Background(), &config.Config{}, logging.Discard())
	defer s.close(logging.Discard())

	if len(s.sinks) != 0 || len(s.checks) != 0 || len(s.warnings) != 0 {
		t.Errorf("connectSinks() = %+v, want nothing", s)
	}
	if s.latest != nil {
		t.Error("latest reader set with cache disabled")
	}
	if s.influxStats() != nil {
		t.Error("influxStats() should be nil with InfluxDB disabled")
	}
}

// Port 1 on loopback refuses connections, so both mirrors fail fast.
func TestConnectSinks_UnreachableMirrorsSkipped(t *testing.T) {
	cfg := &config.Config{
		Cache: config.CacheConfig{
			Enabled: true,
			Addr:    "127.0.0.1:1",
		},
		InfluxDB: config.InfluxDBConfig{
			Enabled: true,
			URL:     "http://127.0.0.1:1",
			Org:     "electrolyser",
			Bucket:  "telemetry",
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s := connectSinks(ctx, cfg, logging.Discard())
	defer s.close(logging.Discard())

	if len(s.sinks) != 0 {
		t.Errorf("sinks = %d, want 0", len(s.sinks))
	}
	if len(s.checks) != 0 {
		t.Errorf("checks = %v, want none", s.checks)
	}
	if s.latest != nil || s.influxStats() != nil {
		t.Error("unreachable mirror left a reader behind")
	}
	if len(s.warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", s.warnings)
	}

	p := testPipeline(t)
	s.report(p.Events())
	events := p.Events().Snapshot()
	for _, want := range []string{"Redis cache at 127.0.0.1:1 unavailable", "InfluxDB at http://127.0.0.1:1 unavailable"} {
		if !hasEvent(events, ingest.LevelWarning, want) {
			t.Errorf("no warning event containing %q in %+v", want, events)
		}
	}
}
