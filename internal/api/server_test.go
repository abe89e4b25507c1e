package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
	"github.com/nerrad567/electrolyser-core/internal/ingest"
	"github.com/nerrad567/electrolyser-core/internal/reconcile"
	"github.com/nerrad567/electrolyser-core/internal/store"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

// ─── Test doubles ──────────────────────────────────────────────────

type stubStore struct {
	rows map[int][]map[string]any
	err  error
}

func (s *stubStore) InsertRow(context.Context, string, map[string]any) (int64, error) {
	return 1, nil
}

func (s *stubStore) QueryMaxTimestamp(context.Context, int) (store.MaxTimestamp, bool, error) {
	return store.MaxTimestamp{}, false, nil
}

func (s *stubStore) QuerySnapshot(_ context.Context, id, limit int) ([]map[string]any, error) {
	if s.err != nil {
		return nil, s.err
	}
	rows := s.rows[id]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *stubStore) HealthCheck(context.Context) error { return s.err }
func (s *stubStore) Close() error                      { return nil }

type stubLatest struct {
	snaps map[int]telemetry.Snapshot
	err   error
}

func (l *stubLatest) Latest(_ context.Context, id int) (telemetry.Snapshot, bool, error) {
	if l.err != nil {
		return telemetry.Snapshot{}, false, l.err
	}
	snap, ok := l.snaps[id]
	return snap, ok, nil
}

type stubReconciler struct {
	mu      sync.Mutex
	result  reconcile.Result
	err     error
	last    *reconcile.Result
	subs    []func(reconcile.Result)
	breaker string
}

func (r *stubReconciler) RunOnce(context.Context) (reconcile.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil || !errors.Is(r.err, reconcile.ErrAlreadyRunning) {
		res := r.result
		r.last = &res
		for _, fn := range r.subs {
			fn(res)
		}
	}
	return r.result, r.err
}

func (r *stubReconciler) LastResult() (reconcile.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return reconcile.Result{}, false
	}
	return *r.last, true
}

func (r *stubReconciler) OnResult(fn func(reconcile.Result)) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

func (r *stubReconciler) BreakerState() string { return r.breaker }

type checkFunc func(context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ─── Helpers ───────────────────────────────────────────────────────

func testPipeline(t *testing.T) *ingest.Pipeline {
	t.Helper()
	p, err := ingest.New(ingest.Options{
		Config: config.IngestConfig{
			QueueSize:      10,
			Workers:        1,
			IdleThreshold:  20,
			UTCOffsetHours: 8,
			MaxDevices:     15,
			EventLogSize:   1000,
		},
		Store:      &stubStore{},
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("ingest.New() error = %v", err)
	}
	return p
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:     config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		MQTT: config.MQTTConfig{
			Broker: config.MQTTBrokerConfig{Host: "gateway.local", Port: 1883},
			Topic:  "WinCC/#",
		},
		Logger:     logging.Discard(),
		Pipeline:   testPipeline(t),
		ClientID:   "electrolyser_0a1b2c3d",
		MaxDevices: 15,
		Gatherer:   prometheus.NewRegistry(),
		Version:    "test",
	}
}

func testServer(t *testing.T, mutate func(*Deps)) *Server {
	t.Helper()
	deps := testDeps(t)
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return v
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Pipeline: testPipeline(t)}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without pipeline should fail")
	}
}

// ─── Health ────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantCode   int
		wantStatus string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{
			"all healthy",
			map[string]HealthChecker{"store": checkFunc(func(context.Context) error { return nil })},
			http.StatusOK, "ok",
		},
		{
			"store down",
			map[string]HealthChecker{
				"store": checkFunc(func(context.Context) error { return errors.New("database is locked") }),
				"redis": checkFunc(func(context.Context) error { return nil }),
			},
			http.StatusServiceUnavailable, "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, func(d *Deps) { d.Checks = tt.checks })
			w := do(t, srv, http.MethodGet, "/api/v1/health")

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			resp := decode[HealthResponse](t, w)
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Version != "test" {
				t.Errorf("version = %q, want test", resp.Version)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Errorf("checks = %v, want %d entries", resp.Checks, len(tt.checks))
			}
		})
	}
}

func TestHealth_LinkNeverDegrades(t *testing.T) {
	tests := []struct {
		name     string
		link     HealthChecker
		wantMQTT string
	}{
		{"no link", nil, ""},
		{"subscribed", checkFunc(func(context.Context) error { return nil }), "ok"},
		{"not subscribed", checkFunc(func(context.Context) error { return errors.New("mqtt: not subscribed: WinCC/#") }), "mqtt: not subscribed: WinCC/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, func(d *Deps) { d.Link = tt.link })
			w := do(t, srv, http.MethodGet, "/api/v1/health")
			if w.Code != http.StatusOK {
				t.Errorf("status code = %d, want 200", w.Code)
			}
			if resp := decode[HealthResponse](t, w); resp.MQTT != tt.wantMQTT {
				t.Errorf("mqtt = %q, want %q", resp.MQTT, tt.wantMQTT)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	srv := testServer(t, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/health")
	if got := w.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://ops.local"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ingest/status", nil)
	req.Header.Set("Origin", "http://ops.local")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://ops.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

// ─── Ingest status and logs ────────────────────────────────────────

func TestIngestStatus(t *testing.T) {
	rec := &stubReconciler{result: reconcile.Result{Total: 4, Inserted: 2, Skipped: 2}, breaker: "closed"}
	srv := testServer(t, func(d *Deps) { d.Reconciler = rec })

	w := do(t, srv, http.MethodGet, "/api/v1/ingest/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[IngestStatus](t, w)

	if resp.Broker != "gateway.local" || resp.Port != 1883 || resp.Topic != "WinCC/#" {
		t.Errorf("broker fields = %s:%d %s", resp.Broker, resp.Port, resp.Topic)
	}
	if resp.ClientID != "electrolyser_0a1b2c3d" {
		t.Errorf("client_id = %q", resp.ClientID)
	}
	if resp.Connected {
		t.Error("connected should be false before the broker connects")
	}
	if resp.Queue.Capacity != 10 {
		t.Errorf("queue.capacity = %d, want 10", resp.Queue.Capacity)
	}
	if resp.LastFlush != nil || resp.LastReconcile != nil {
		t.Error("last_flush and last_reconcile should be null before any run")
	}
	if resp.SourceBreaker != "closed" {
		t.Errorf("source_breaker = %q, want closed", resp.SourceBreaker)
	}
	if resp.InfluxDB != nil {
		t.Errorf("influxdb = %+v, want omitted without a mirror", resp.InfluxDB)
	}

	if _, err := rec.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	srv.pipeline.SetConnected(true)

	resp = decode[IngestStatus](t, do(t, srv, http.MethodGet, "/api/v1/ingest/status"))
	if !resp.Connected {
		t.Error("connected should be true")
	}
	if resp.LastReconcile == nil || resp.LastReconcile.Inserted != 2 {
		t.Errorf("last_reconcile = %+v, want inserted 2", resp.LastReconcile)
	}
}

func TestIngestStatus_Mirror(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.MirrorStats = func() (uint64, uint64) { return 42, 3 }
	})

	w := do(t, srv, http.MethodGet, "/api/v1/ingest/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[IngestStatus](t, w)
	if resp.InfluxDB == nil || resp.InfluxDB.Queued != 42 || resp.InfluxDB.WriteErrors != 3 {
		t.Errorf("influxdb = %+v, want queued 42, write_errors 3", resp.InfluxDB)
	}
	if resp.SourceBreaker != "" {
		t.Errorf("source_breaker = %q, want empty without reconciliation", resp.SourceBreaker)
	}
}

func TestIngestLogs(t *testing.T) {
	srv := testServer(t, nil)
	events := srv.pipeline.Events()
	events.Infof("Connecting to MQTT broker")
	events.Successf("Connected")
	events.Warningf("Disconnected")

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLogs  int
		wantFirst string
	}{
		{"all", "", http.StatusOK, 3, "Connecting to MQTT broker"},
		{"limit", "?limit=2", http.StatusOK, 2, "Connected"},
		{"limit above size", "?limit=50", http.StatusOK, 3, "Connecting to MQTT broker"},
		{"bad limit", "?limit=x", http.StatusBadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodGet, "/api/v1/ingest/logs"+tt.query)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			resp := decode[LogsResponse](t, w)
			if resp.Total != 3 {
				t.Errorf("total = %d, want 3", resp.Total)
			}
			if len(resp.Logs) != tt.wantLogs {
				t.Fatalf("len(logs) = %d, want %d", len(resp.Logs), tt.wantLogs)
			}
			if resp.Logs[0].Message != tt.wantFirst {
				t.Errorf("logs[0] = %q, want %q", resp.Logs[0].Message, tt.wantFirst)
			}
		})
	}
}

// ─── Reconcile ─────────────────────────────────────────────────────

func TestReconcile(t *testing.T) {
	tests := []struct {
		name     string
		rec      *stubReconciler
		wantCode int
	}{
		{"disabled", nil, http.StatusServiceUnavailable},
		{"success", &stubReconciler{result: reconcile.Result{Inserted: 5}}, http.StatusOK},
		{"already running", &stubReconciler{err: reconcile.ErrAlreadyRunning}, http.StatusConflict},
		{
			"source down",
			&stubReconciler{err: reconcile.ErrSourceUnavailable, result: reconcile.Result{Error: "source unavailable"}},
			http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, func(d *Deps) {
				if tt.rec != nil {
					d.Reconciler = tt.rec
				}
			})
			w := do(t, srv, http.MethodPost, "/api/v1/reconcile")
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

// ─── Latest record ─────────────────────────────────────────────────

func TestDeviceLatest(t *testing.T) {
	ts := time.Date(2025, 10, 27, 8, 0, 1, 0, time.UTC)
	latest := &stubLatest{snaps: map[int]telemetry.Snapshot{
		1: {DeviceID: 1, MachineName: "1#", Timestamp: ts, Fields: map[string]any{"total_current": 950.0}},
	}}
	st := &stubStore{rows: map[int][]map[string]any{
		2: {{"machine_name": "2#", "cell_1": 1995.0}},
	}}

	tests := []struct {
		name       string
		path       string
		latest     LatestReader
		store      store.Store
		wantCode   int
		wantSource string
	}{
		{"cache hit", "/api/v1/devices/1/latest", latest, st, http.StatusOK, latestFromCache},
		{"store fallback", "/api/v1/devices/2/latest", latest, st, http.StatusOK, latestFromStore},
		{"cache error falls back", "/api/v1/devices/2/latest", &stubLatest{err: errors.New("redis down")}, st, http.StatusOK, latestFromStore},
		{"absent", "/api/v1/devices/3/latest", latest, st, http.StatusNotFound, ""},
		{"no backends", "/api/v1/devices/1/latest", nil, nil, http.StatusNotFound, ""},
		{"store error", "/api/v1/devices/2/latest", nil, &stubStore{err: errors.New("io")}, http.StatusInternalServerError, ""},
		{"not a number", "/api/v1/devices/abc/latest", latest, st, http.StatusBadRequest, ""},
		{"out of range", "/api/v1/devices/16/latest", latest, st, http.StatusBadRequest, ""},
		{"zero", "/api/v1/devices/0/latest", latest, st, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, func(d *Deps) {
				d.Latest = tt.latest
				d.Store = tt.store
			})
			w := do(t, srv, http.MethodGet, tt.path)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantSource == "" {
				return
			}
			resp := decode[LatestResponse](t, w)
			if resp.Source != tt.wantSource {
				t.Errorf("source = %q, want %q", resp.Source, tt.wantSource)
			}
		})
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "electrolyser_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	srv := testServer(t, func(d *Deps) { d.Gatherer = reg })
	w := do(t, srv, http.MethodGet, "/metrics")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "electrolyser_test_total 3") {
		t.Errorf("metrics body missing counter:\n%s", w.Body.String())
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv := testServer(t, nil)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())

	subscribed := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize), subscriptions: map[string]struct{}{ChannelFlush: {}}}
	other := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize), subscriptions: map[string]struct{}{ChannelLog: {}}}
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast(ChannelFlush, ingest.FlushResult{Attempted: 2, Succeeded: 2})

	select {
	case msg := <-subscribed.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != ChannelFlush {
			t.Errorf("message = %+v, want ingest.flush event", wsMsg)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive message")
	default:
	}

	hub.Unregister(subscribed)
	hub.Unregister(subscribed)
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}
}

func TestWebSocket_LogStream(t *testing.T) {
	srv := testServer(t, nil)
	srv.pipeline.Events().Infof("backlog entry")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)
	srv.relayEvents()
	defer srv.unsubLog()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	read := func() WSMessage {
		t.Helper()
		//nolint:errcheck // test deadline
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "bad", Payload: WSSubscribePayload{Channels: []string{"device.state"}}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := read(); msg.Type != WSTypeError || msg.ID != "bad" {
		t.Errorf("unknown channel reply = %+v, want error", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "sub-1", Payload: WSSubscribePayload{Channels: []string{ChannelLog}}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := read(); msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("subscribe reply = %+v, want response sub-1", msg)
	}

	backlog := read()
	if backlog.EventType != ChannelLog {
		t.Fatalf("backlog = %+v, want ingest.log event", backlog)
	}
	if p, _ := backlog.Payload.(map[string]any); p["message"] != "backlog entry" {
		t.Errorf("backlog payload = %v", backlog.Payload)
	}

	srv.pipeline.Events().Warningf("live entry")
	live := read()
	if p, _ := live.Payload.(map[string]any); p["message"] != "live entry" || p["level"] != "warning" {
		t.Errorf("live payload = %v", live.Payload)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := read(); msg.Type != WSTypePong {
		t.Errorf("ping reply = %+v, want pong", msg)
	}
}
