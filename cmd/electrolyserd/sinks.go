package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nerrad567/electrolyser-core/internal/api"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/cache"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
	"github.com/nerrad567/electrolyser-core/internal/ingest"
)

// optionalSinks holds whichever flush mirrors connected at startup.
//
// An enabled mirror that cannot be reached is skipped with a warning; the
// daemon keeps ingesting into storage without it.
type optionalSinks struct {
	sinks    []ingest.Sink
	latest   api.LatestReader
	influx   *influxdb.Client
	checks   map[string]api.HealthChecker
	closers  map[string]io.Closer
	warnings []string
}

// connectSinks dials the enabled Redis cache and InfluxDB mirror.
func connectSinks(ctx context.Context, cfg *config.Config, log *logging.Logger) *optionalSinks {
	s := &optionalSinks{
		checks:  make(map[string]api.HealthChecker),
		closers: make(map[string]io.Closer),
	}

	if cfg.Cache.Enabled {
		redisClient, err := cache.Connect(ctx, cfg.Cache)
		if err != nil {
			s.warn(log, fmt.Sprintf("Redis cache at %s unavailable, running without it: %v", cfg.Cache.Addr, err))
		} else {
			s.sinks = append(s.sinks, redisClient)
			s.latest = redisClient
			s.checks["redis"] = redisClient
			s.closers["redis"] = redisClient
			log.Info("redis latest-record cache connected", "addr", cfg.Cache.Addr)
		}
	} else {
		log.Info("redis cache disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			s.warn(log, fmt.Sprintf("InfluxDB at %s unavailable, running without it: %v", cfg.InfluxDB.URL, err))
		} else {
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			s.sinks = append(s.sinks, influxClient)
			s.influx = influxClient
			s.checks["influxdb"] = influxClient
			s.closers["influxdb"] = influxClient
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	return s
}

func (s *optionalSinks) warn(log *logging.Logger, msg string) {
	log.Warn(msg)
	s.warnings = append(s.warnings, msg)
}

// report copies startup warnings into the pipeline event log once it exists.
func (s *optionalSinks) report(events *ingest.EventLog) {
	for _, w := range s.warnings {
		events.Warningf("%s", w)
	}
}

// influxStats exposes mirror counters to the status surface, or nil when
// the mirror is not running.
func (s *optionalSinks) influxStats() func() (queued, writeErrors uint64) {
	if s.influx == nil {
		return nil
	}
	return s.influx.Stats
}

func (s *optionalSinks) close(log *logging.Logger) {
	for name, c := range s.closers {
		closeWithLog(log, name, c)
	}
}
