package mqtt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration for a local broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:         "127.0.0.1",
			Port:         1883,
			ClientID:     "electrolyser-test",
			RandomSuffix: true,
		},
		QoS:            1,
		Topic:          "WinCC/#",
		KeepAlive:      30,
		ConnectTimeout: 2,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// skipIfNoBroker connects or skips the test.
func skipIfNoBroker(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(testConfig())
	if err != nil {
		t.Skip("MQTT broker not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// =============================================================================
// Options
// =============================================================================

func TestClientID_RandomSuffix(t *testing.T) {
	cfg := testConfig()
	pattern := regexp.MustCompile(`^electrolyser-test_[0-9a-f]{8}$`)

	a, b := ClientID(cfg), ClientID(cfg)
	if !pattern.MatchString(a) {
		t.Errorf("ClientID() = %q, want match %s", a, pattern)
	}
	if a == b {
		t.Errorf("ClientID() returned %q twice, want distinct suffixes", a)
	}

	cfg.Broker.RandomSuffix = false
	if got := ClientID(cfg); got != "electrolyser-test" {
		t.Errorf("ClientID() without suffix = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "ingest"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg, "id-1")
	configureLWT(opts, "id-1")

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "id-1" {
		t.Errorf("ClientID = %q, want id-1", opts.ClientID)
	}
	if opts.Username != "ingest" {
		t.Errorf("Username = %q, want ingest", opts.Username)
	}
	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
	if opts.ConnectTimeout != 2*time.Second {
		t.Errorf("ConnectTimeout = %v, want 2s", opts.ConnectTimeout)
	}
	if !opts.AutoReconnect || opts.ConnectRetry {
		t.Errorf("AutoReconnect = %v, ConnectRetry = %v; want true, false", opts.AutoReconnect, opts.ConnectRetry)
	}
	if !opts.WillEnabled || opts.WillTopic != "electrolyser/system/status" || !opts.WillRetained {
		t.Errorf("LWT = (%v, %q, retained %v)", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

func TestBuildClientOptions_Defaults(t *testing.T) {
	cfg := testConfig()
	cfg.KeepAlive = 0
	cfg.ConnectTimeout = 0
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg, "x")
	if opts.KeepAlive != int64(defaultKeepAlive/time.Second) {
		t.Errorf("KeepAlive = %d, want %d", opts.KeepAlive, int64(defaultKeepAlive/time.Second))
	}
	if opts.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", opts.ConnectTimeout, defaultConnectTimeout)
	}
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil with TLS enabled")
	}
}

// =============================================================================
// Topics
// =============================================================================

func TestTopics(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		got, want string
	}{
		{topics.AllTelemetry(), "WinCC/#"},
		{topics.Telemetry("CELL3_2"), "WinCC/AEM_SYS/CELL3_2"},
		{topics.SystemStatus(), "electrolyser/system/status"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

// =============================================================================
// Handler wrapping
// =============================================================================

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	c := &Client{}
	logger := &recordingLogger{}
	c.SetLogger(logger)

	h := c.wrapHandler(func(string, []byte) error { panic("boom") })
	h(nil, fakeMessage{topic: "WinCC/x"})

	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1", len(logger.errors))
	}
}

func TestWrapHandler_LogsError(t *testing.T) {
	c := &Client{}
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var gotTopic string
	var gotPayload []byte
	h := c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, payload
		return errors.New("queue full")
	})
	h(nil, fakeMessage{topic: "WinCC/AEM_SYS/ELE_I", payload: []byte("{}")})

	if gotTopic != "WinCC/AEM_SYS/ELE_I" || string(gotPayload) != "{}" {
		t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
}

var _ pahomqtt.Message = fakeMessage{}

// =============================================================================
// Connection
// =============================================================================

func TestConnect_Refused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here
	cfg.ConnectTimeout = 1

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
}

func TestConnect_Integration(t *testing.T) {
	client := skipIfNoBroker(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context = nil, want error")
	}
}

func TestSubscribe_Validation(t *testing.T) {
	client := skipIfNoBroker(t)
	noop := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 0, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v", err)
	}
	if err := client.Subscribe("WinCC/#", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v", err)
	}
	if err := client.Subscribe("WinCC/#", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes", client.SubscriptionCount())
	}
}

func TestPublishSubscribeRoundtrip_Integration(t *testing.T) {
	sub := skipIfNoBroker(t)
	pub := skipIfNoBroker(t)

	filter := fmt.Sprintf("WinCC/test-%d/#", time.Now().UnixNano())
	topic := filter[:len(filter)-1] + "CELL1_1"
	received := make(chan string, 1)

	if err := sub.Subscribe(filter, 1, func(topic string, payload []byte) error {
		received <- topic[strings.LastIndexByte(topic, '/')+1:] + "=" + string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription(filter) {
		t.Error("HasSubscription() = false after Subscribe()")
	}

	if err := pub.Publish(topic, []byte(`{"value":1}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `CELL1_1={"value":1}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for message")
	}
}

func TestPublish_Validation(t *testing.T) {
	client := skipIfNoBroker(t)

	if err := client.Publish("", nil, 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty topic) error = %v", err)
	}
	if err := client.Publish("WinCC/x", nil, 5, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 5) error = %v", err)
	}
	if err := client.Publish("WinCC/x", make([]byte, maxPayloadSize+1), 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(oversize) error = %v", err)
	}
}
