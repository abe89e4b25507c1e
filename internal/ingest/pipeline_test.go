package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/clock"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
	"github.com/nerrad567/electrolyser-core/internal/store"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

// memStore records inserted rows and can fail chosen devices.
type memStore struct {
	mu   sync.Mutex
	rows []map[string]any
	fail map[int]bool
}

func (s *memStore) InsertRow(_ context.Context, _ string, fields map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, _ := fields[store.ColumnDeviceID].(int); s.fail[id] {
		return 0, errors.New("database is locked")
	}
	s.rows = append(s.rows, fields)
	return 1, nil
}

func (s *memStore) QueryMaxTimestamp(context.Context, int) (store.MaxTimestamp, bool, error) {
	return store.MaxTimestamp{}, false, nil
}

func (s *memStore) QuerySnapshot(context.Context, int, int) ([]map[string]any, error) {
	return nil, nil
}

func (s *memStore) HealthCheck(context.Context) error { return nil }
func (s *memStore) Close() error                      { return nil }

func (s *memStore) byDevice() map[int]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]map[string]any, len(s.rows))
	for _, r := range s.rows {
		out[r[store.ColumnDeviceID].(int)] = r
	}
	return out
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// memSink records delivered snapshots.
type memSink struct {
	mu    sync.Mutex
	snaps []telemetry.Snapshot
	err   error
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) RecordFlushed(_ context.Context, snap telemetry.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return s.err
}

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		QueueSize:      100,
		Workers:        3,
		IdleThreshold:  20,
		UTCOffsetHours: 8,
		MaxDevices:     15,
		EventLogSize:   1000,
		WriteTimeout:   5,
	}
}

type harness struct {
	p     *Pipeline
	clk   *clock.FakeClock
	store *memStore
	sink  *memSink
	reg   *prometheus.Registry
}

func newHarness(t *testing.T, cfg config.IngestConfig) *harness {
	t.Helper()
	h := &harness{
		clk:   clock.Fake(t0),
		store: &memStore{fail: map[int]bool{}},
		sink:  &memSink{},
		reg:   prometheus.NewRegistry(),
	}
	p, err := New(Options{
		Config:     cfg,
		Store:      h.store,
		Clock:      h.clk,
		Registerer: h.reg,
		Sinks:      []Sink{h.sink},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.p = p
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(h.p.Stop)
}

func (h *harness) send(t *testing.T, tag string, value string, at time.Time) {
	t.Helper()
	payload := fmt.Sprintf(`{"name":%q,"value":%s,"qualityCode":128,"time":%q}`,
		tag, value, at.UTC().Format(time.RFC3339Nano))
	if err := h.p.HandleMessage("WinCC/AEM_SYS/"+tag, []byte(payload)); err != nil {
		t.Fatalf("HandleMessage(%s) error = %v", tag, err)
	}
}

// settle waits until every received message has been merged or rejected.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s := h.p.Stats()
		if s.QueueDepth == 0 && s.Merged+s.Rejected == s.Received {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pipeline did not settle: %+v", h.p.Stats())
}

// ============================================================================
// End to end
// ============================================================================

func TestPipeline_EndToEndBurst(t *testing.T) {
	h := newHarness(t, testIngestConfig())
	h.start(t)

	h.send(t, "ELE_I", `"950.0"`, t0)
	h.send(t, "CELL1", `"2000"`, t0.Add(time.Second))
	h.send(t, "CELL1_1", `"1995"`, t0.Add(2*time.Second))
	h.settle(t)

	if h.store.count() != 0 {
		t.Fatal("rows written before the idle threshold")
	}
	h.clk.Advance(20 * time.Second)

	rows := h.store.byDevice()
	if len(rows) != 2 {
		t.Fatalf("wrote %d devices, want 2: %v", len(rows), rows)
	}

	d1 := rows[1]
	if d1["total_current"] != 950.0 || d1["cell_1"] != 2000.0 {
		t.Errorf("device 1 fields = %v", d1)
	}
	if d1["date"] != "2025-10-27" || d1["time"] != "16:00:01" {
		t.Errorf("device 1 timestamp = %v %v, want 2025-10-27 16:00:01", d1["date"], d1["time"])
	}
	if d1["machine_name"] != "1#" || d1["source"] != store.SourceMQTT {
		t.Errorf("device 1 identity = %v / %v", d1["machine_name"], d1["source"])
	}

	d2 := rows[2]
	if d2["cell_1"] != 1995.0 || d2["time"] != "16:00:02" {
		t.Errorf("device 2 row = %v", d2)
	}
	if _, ok := d2["total_current"]; ok {
		t.Error("device 2 should not carry device 1's total_current")
	}

	last, ok := h.p.LastFlush()
	if !ok {
		t.Fatal("LastFlush() ok = false")
	}
	if last.Attempted != 2 || last.Succeeded != 2 || last.Failed != 0 {
		t.Errorf("LastFlush() = %+v", last)
	}
	if len(h.sink.snaps) != 2 {
		t.Errorf("sink received %d snapshots, want 2", len(h.sink.snaps))
	}
}

func TestPipeline_FlushFailuresCounted(t *testing.T) {
	h := newHarness(t, testIngestConfig())
	h.store.fail[2] = true
	h.start(t)

	var notified []FlushResult
	h.p.OnFlush(func(r FlushResult) { notified = append(notified, r) })

	for d := 1; d <= 3; d++ {
		tag := "ELE_I"
		if d > 1 {
			tag = fmt.Sprintf("ELE_I_%d", d-1)
		}
		h.send(t, tag, "100", t0)
	}
	h.settle(t)
	h.clk.Advance(20 * time.Second)

	if len(notified) != 1 {
		t.Fatalf("OnFlush called %d times, want 1", len(notified))
	}
	r := notified[0]
	if r.Attempted != 3 || r.Succeeded != 2 || r.Failed != 1 {
		t.Errorf("FlushResult = %+v, want 3/2/1", r)
	}
	if h.store.count() != 2 {
		t.Errorf("stored %d rows, want 2", h.store.count())
	}
	if len(h.sink.snaps) != 2 {
		t.Errorf("sink received %d snapshots, want only the stored 2", len(h.sink.snaps))
	}
	if got := testutil.ToFloat64(h.p.metrics.rows.WithLabelValues("failure")); got != 1 {
		t.Errorf("rows_written_total{result=failure} = %v, want 1", got)
	}

	var sawError, sawWarning bool
	for _, ev := range h.p.Events().Snapshot() {
		switch ev.Level {
		case LevelError:
			sawError = true
		case LevelWarning:
			sawWarning = true
		}
	}
	if !sawError || !sawWarning {
		t.Errorf("event log missing write error or flush warning: %+v", h.p.Events().Snapshot())
	}
}

func TestPipeline_SinkErrorDoesNotFailFlush(t *testing.T) {
	h := newHarness(t, testIngestConfig())
	h.sink.err = errors.New("redis down")
	h.start(t)

	h.send(t, "ELE_V", "48.5", t0)
	h.settle(t)
	h.clk.Advance(20 * time.Second)

	last, ok := h.p.LastFlush()
	if !ok || last.Succeeded != 1 || last.Failed != 0 {
		t.Errorf("LastFlush() = %+v, %v", last, ok)
	}
	if got := testutil.ToFloat64(h.p.metrics.sinkErrors.WithLabelValues("mem")); got != 1 {
		t.Errorf("sink_errors_total = %v, want 1", got)
	}
}

// ============================================================================
// Rejections
// ============================================================================

func TestPipeline_RejectionClassification(t *testing.T) {
	h := newHarness(t, testIngestConfig())
	h.start(t)

	inputs := []string{
		`not json`,
		`{"name":"ELE_I","time":"2025-10-27T08:00:00Z"}`,
		`{"name":"UNUSED_TAG","value":1,"time":"2025-10-27T08:00:00Z"}`,
		`{"name":"ELE_I_20","value":1,"time":"2025-10-27T08:00:00Z"}`,
	}
	for _, in := range inputs {
		if err := h.p.HandleMessage("WinCC/AEM_SYS/x", []byte(in)); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
	}
	h.settle(t)

	if s := h.p.Stats(); s.Rejected != 4 || s.Merged != 0 {
		t.Errorf("Stats() = %+v, want 4 rejected", s)
	}

	levels := map[Level]int{}
	for _, ev := range h.p.Events().Snapshot() {
		levels[ev.Level]++
	}
	if levels[LevelError] != 2 {
		t.Errorf("error events = %d, want 2 (malformed, missing value)", levels[LevelError])
	}
	if levels[LevelWarning] != 1 {
		t.Errorf("warning events = %d, want 1 (device out of range)", levels[LevelWarning])
	}

	for reason, want := range map[string]float64{
		reasonMalformed:  2,
		reasonUnmapped:   1,
		reasonOutOfRange: 1,
	} {
		if got := testutil.ToFloat64(h.p.metrics.rejected.WithLabelValues(reason)); got != want {
			t.Errorf("messages_rejected_total{reason=%q} = %v, want %v", reason, got, want)
		}
	}

	h.clk.Advance(time.Minute)
	if h.store.count() != 0 {
		t.Error("rejected messages produced a flush")
	}
}

func TestPipeline_QueueOverflowDrops(t *testing.T) {
	cfg := testIngestConfig()
	cfg.QueueSize = 2
	h := newHarness(t, cfg)
	// Not started: nothing drains the queue.

	for i := 0; i < 2; i++ {
		if err := h.p.HandleMessage("t", []byte("{}")); err != nil {
			t.Fatalf("HandleMessage() #%d error = %v", i, err)
		}
	}
	if err := h.p.HandleMessage("t", []byte("{}")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("HandleMessage() on full queue error = %v, want %v", err, ErrQueueFull)
	}

	s := h.p.Stats()
	if s.Dropped != 1 || s.QueueDepth != 2 || s.QueueCapacity != 2 {
		t.Errorf("Stats() = %+v", s)
	}
	snap := h.p.Events().Snapshot()
	if len(snap) != 1 || snap[0].Level != LevelWarning {
		t.Errorf("events = %+v, want one warning", snap)
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(Options{Config: testIngestConfig()}); !errors.Is(err, ErrNoStore) {
		t.Errorf("New() error = %v, want %v", err, ErrNoStore)
	}
}

func TestPipeline_StartTwice(t *testing.T) {
	h := newHarness(t, testIngestConfig())
	h.start(t)
	if err := h.p.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyStarted)
	}
}

func TestPipeline_StopDropsPending(t *testing.T) {
	h := newHarness(t, testIngestConfig())
	h.start(t)

	h.send(t, "ELE_I", "1", t0)
	h.settle(t)

	h.p.StopTimer()
	h.p.Stop()
	h.p.Stop()

	h.clk.Advance(time.Minute)
	if h.store.count() != 0 {
		t.Error("pending record was flushed after Stop")
	}
	if err := h.p.HandleMessage("t", []byte("{}")); !errors.Is(err, ErrStopped) {
		t.Errorf("HandleMessage() after Stop error = %v, want %v", err, ErrStopped)
	}
	if h.clk.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after Stop, want 0", h.clk.PendingCount())
	}
}

func TestPipeline_ConnectedFlag(t *testing.T) {
	h := newHarness(t, testIngestConfig())
	if h.p.Connected() {
		t.Error("Connected() = true before SetConnected")
	}
	h.p.SetConnected(true)
	if !h.p.Stats().Connected {
		t.Error("Stats().Connected = false after SetConnected(true)")
	}
}

func TestTruncate(t *testing.T) {
	ascii := strings.Repeat("a", logPayloadLimit+10)
	// 99 ASCII bytes then a 3-byte rune straddling the limit.
	straddle := strings.Repeat("a", logPayloadLimit-1) + "电流" + "tail"

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "short", payload: `{"name":"ELE_I"}`, want: `{"name":"ELE_I"}`},
		{name: "exact limit", payload: ascii[:logPayloadLimit], want: ascii[:logPayloadLimit]},
		{name: "ascii over limit", payload: ascii, want: ascii[:logPayloadLimit] + "..."},
		{name: "rune at boundary", payload: straddle, want: strings.Repeat("a", logPayloadLimit-1) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate([]byte(tt.payload))
			if got != tt.want {
				t.Errorf("truncate() = %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate() = %q is not valid UTF-8", got)
			}
		})
	}
}
