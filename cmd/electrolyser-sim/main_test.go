package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/clock"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

var t0 = time.Date(2025, 10, 27, 0, 30, 0, 0, time.UTC)

// ============================================================================
// Flags
// ============================================================================

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, o options)
		wantErr string
	}{
		{
			name: "defaults",
			check: func(t *testing.T, o options) {
				if o.host != "localhost" || o.port != 1883 {
					t.Errorf("broker = %s:%d, want localhost:1883", o.host, o.port)
				}
				if o.devices != telemetry.DefaultMaxDevices {
					t.Errorf("devices = %d, want %d", o.devices, telemetry.DefaultMaxDevices)
				}
				if o.interval != 5*time.Second {
					t.Errorf("interval = %v, want 5s", o.interval)
				}
			},
		},
		{
			name: "overrides",
			args: []string{"--broker", "gw.local", "--port", "11883", "-n", "3", "-i", "2s", "--rounds", "4", "--seed", "7"},
			check: func(t *testing.T, o options) {
				if o.host != "gw.local" || o.port != 11883 || o.devices != 3 || o.interval != 2*time.Second || o.rounds != 4 || o.seed != 7 {
					t.Errorf("options = %+v", o)
				}
				cfg := o.mqttConfig()
				if cfg.Broker.Host != "gw.local" || !cfg.Broker.RandomSuffix {
					t.Errorf("mqttConfig() = %+v", cfg.Broker)
				}
			},
		},
		{name: "zero interval", args: []string{"--interval", "0s"}, wantErr: "--interval"},
		{name: "bad qos", args: []string{"--qos", "3"}, wantErr: "--qos"},
		{name: "negative rounds", args: []string{"--rounds", "-1"}, wantErr: "--rounds"},
		{name: "unknown flag", args: []string{"--nope"}, wantErr: "unknown flag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parseFlags() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags() error = %v", err)
			}
			tt.check(t, opts)
		})
	}
}

// ============================================================================
// Generator
// ============================================================================

func TestNewGenerator_DeviceRange(t *testing.T) {
	catalog := telemetry.NewCatalog(telemetry.DefaultMaxDevices)
	for _, n := range []int{0, -1, telemetry.DefaultMaxDevices + 1} {
		if _, err := newGenerator(catalog, n, 1); err == nil {
			t.Errorf("newGenerator(%d) should fail", n)
		}
	}
}

func TestGenerator_RoundNormalizes(t *testing.T) {
	catalog := telemetry.NewCatalog(telemetry.DefaultMaxDevices)
	gen, err := newGenerator(catalog, 3, 42)
	if err != nil {
		t.Fatalf("newGenerator() error = %v", err)
	}

	msgs, err := gen.Round(t0)
	if err != nil {
		t.Fatalf("Round() error = %v", err)
	}
	fields := catalog.Fields()
	if len(msgs) != 3*len(fields) {
		t.Fatalf("Round() = %d messages, want %d", len(msgs), 3*len(fields))
	}

	n := telemetry.NewNormalizer(catalog, telemetry.DefaultUTCOffset)
	seen := make(map[int]map[telemetry.Field]any)
	for _, m := range msgs {
		if !strings.HasPrefix(m.Topic, "WinCC/AEM_SYS/") {
			t.Errorf("topic = %q, want WinCC/AEM_SYS/ prefix", m.Topic)
		}
		rd, err := n.Normalize(m.Topic, m.Payload)
		if err != nil {
			t.Fatalf("Normalize(%s) error = %v", m.Payload, err)
		}
		if !rd.ObservedAt.Equal(t0) {
			t.Errorf("%s observed at %v, want %v", m.Topic, rd.ObservedAt, t0)
		}
		if rd.QualityCode == nil || *rd.QualityCode != goodQuality {
			t.Errorf("%s quality = %v, want %d", m.Topic, rd.QualityCode, goodQuality)
		}
		if seen[rd.DeviceID] == nil {
			seen[rd.DeviceID] = make(map[telemetry.Field]any)
		}
		seen[rd.DeviceID][rd.Field] = rd.Value
	}

	for device := 1; device <= 3; device++ {
		got := seen[device]
		if len(got) != len(fields) {
			t.Errorf("device %d has %d fields, want %d", device, len(got), len(fields))
			continue
		}
		lo := got[telemetry.FieldMinVoltage].(float64)
		avg := got[telemetry.FieldAvgVoltage].(float64)
		hi := got[telemetry.FieldMaxVoltage].(float64)
		if lo > avg+0.001 || avg > hi+0.001 {
			t.Errorf("device %d min/avg/max = %v/%v/%v", device, lo, avg, hi)
		}
		if _, ok := got[telemetry.FieldMachineModel].(string); !ok {
			t.Errorf("device %d machine model = %#v, want string", device, got[telemetry.FieldMachineModel])
		}
	}
}

func TestGenerator_HoursAdvance(t *testing.T) {
	gen, err := newGenerator(telemetry.NewCatalog(0), 1, 9)
	if err != nil {
		t.Fatalf("newGenerator() error = %v", err)
	}
	first := gen.values(1)[telemetry.FieldHours].(float64)
	second := gen.values(1)[telemetry.FieldHours].(float64)
	if second <= first {
		t.Errorf("hours did not advance: %v then %v", first, second)
	}
}

// ============================================================================
// Simulator loop
// ============================================================================

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	failOn string
}

func (p *recordingPublisher) Publish(topic string, _ []byte, _ byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn != "" && strings.HasSuffix(topic, "/"+p.failOn) {
		return errors.New("not connected")
	}
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

func newTestSimulator(t *testing.T, pub publisher, clk clock.Clock) *simulator {
	t.Helper()
	gen, err := newGenerator(telemetry.NewCatalog(0), 2, 1)
	if err != nil {
		t.Fatalf("newGenerator() error = %v", err)
	}
	return &simulator{pub: pub, gen: gen, clock: clk, log: logging.Discard()}
}

func TestSimulator_RoundsLimit(t *testing.T) {
	pub := &recordingPublisher{}
	clk := clock.Fake(t0)
	sim := newTestSimulator(t, pub, clk)
	perRound := 2 * len(telemetry.NewCatalog(0).Fields())

	done := make(chan error, 1)
	go func() { done <- sim.loop(context.Background(), 5*time.Second, 3) }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("loop() error = %v", err)
			}
			if got := pub.count(); got != 3*perRound {
				t.Errorf("published = %d, want %d", got, 3*perRound)
			}
			return
		case <-deadline:
			t.Fatal("loop() did not finish")
		default:
			clk.Advance(5 * time.Second)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestSimulator_StopsOnCancel(t *testing.T) {
	pub := &recordingPublisher{}
	sim := newTestSimulator(t, pub, clock.Fake(t0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.loop(ctx, time.Minute, 0) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("loop() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop() did not stop on cancel")
	}
	if pub.count() == 0 {
		t.Error("first round should publish before waiting")
	}
}

func TestSimulator_PublishFailuresCounted(t *testing.T) {
	pub := &recordingPublisher{failOn: "ELE_I"}
	sim := newTestSimulator(t, pub, clock.Fake(t0))

	if err := sim.round(); err != nil {
		t.Fatalf("round() error = %v", err)
	}
	// Device 1 publishes ELE_I, device 2 publishes ELE_I_1.
	if sim.failed != 1 {
		t.Errorf("failed = %d, want 1", sim.failed)
	}
	if sim.published != uint64(pub.count()) {
		t.Errorf("published = %d, recorded %d", sim.published, pub.count())
	}
}
