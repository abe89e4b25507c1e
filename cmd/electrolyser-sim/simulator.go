package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/clock"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
)

// publisher is the part of the MQTT client the simulator needs.
type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// simulator publishes generator rounds on a fixed cadence.
type simulator struct {
	pub   publisher
	gen   *generator
	qos   byte
	clock clock.Clock
	log   *logging.Logger

	published uint64
	failed    uint64
}

// loop publishes one round immediately and then one per interval until
// ctx ends or rounds have been sent. rounds <= 0 means no limit.
func (s *simulator) loop(ctx context.Context, interval time.Duration, rounds int) error {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		if err := s.round(); err != nil {
			return err
		}
		if rounds > 0 && n >= rounds {
			s.log.Info("simulator finished", "rounds", n, "published", s.published, "failed", s.failed)
			return nil
		}

		select {
		case <-ctx.Done():
			s.log.Info("simulator stopped", "rounds", n, "published", s.published, "failed", s.failed)
			return nil
		case <-ticker.C:
		}
	}
}

// round publishes every tag once. A failed publish is logged and
// counted; the gateway it imitates is lossy too.
func (s *simulator) round() error {
	msgs, err := s.gen.Round(s.clock.Now())
	if err != nil {
		return fmt.Errorf("generating round: %w", err)
	}

	failed := 0
	for _, m := range msgs {
		if err := s.pub.Publish(m.Topic, m.Payload, s.qos, false); err != nil {
			failed++
			s.log.Warn("publish failed", "topic", m.Topic, "error", err)
			continue
		}
		s.published++
	}
	s.failed += uint64(failed) //nolint:gosec // non-negative count

	s.log.Debug("round published", "messages", len(msgs), "failed", failed)
	return nil
}
