package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/electrolyser-core/internal/ingest"
)

// Reconnect defaults when config leaves them at zero.
const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 60 * time.Second
)

// connector opens a broker connection. Replaced in tests.
type connector func(cfg config.MQTTConfig, clientID string) (*mqtt.Client, error)

// brokerLink owns the MQTT client for the daemon.
//
// The first connection is retried with exponential backoff until it
// succeeds or the context ends. After that paho reconnects on its own and
// restores the subscription; brokerLink only mirrors link state into the
// pipeline and the operator event log.
type brokerLink struct {
	cfg      config.MQTTConfig
	clientID string
	pipeline *ingest.Pipeline
	log      *logging.Logger
	connect  connector

	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	client *mqtt.Client
	closed bool
	done   chan struct{}
}

func newBrokerLink(cfg config.MQTTConfig, clientID string, pipeline *ingest.Pipeline, log *logging.Logger) *brokerLink {
	initial := time.Duration(cfg.Reconnect.InitialDelay) * time.Second
	if initial <= 0 {
		initial = defaultInitialDelay
	}
	maxDelay := time.Duration(cfg.Reconnect.MaxDelay) * time.Second
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	return &brokerLink{
		cfg:      cfg,
		clientID: clientID,
		pipeline: pipeline,
		log:      log.With("component", "mqtt"),
		connect:  mqtt.ConnectWithID,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxDelay
			b.MaxElapsedTime = 0
			return b
		},
		done: make(chan struct{}),
	}
}

// run connects and subscribes, retrying until success or ctx ends.
func (l *brokerLink) run(ctx context.Context) {
	defer close(l.done)

	events := l.pipeline.Events()
	notify := func(err error, wait time.Duration) {
		l.log.Warn("MQTT connect failed, retrying", "error", err, "retry_in", wait)
	}
	err := backoff.RetryNotify(func() error { return l.attempt(ctx) }, backoff.WithContext(l.newBackOff(), ctx), notify)
	if err != nil && !errors.Is(err, context.Canceled) {
		events.Errorf("MQTT connection abandoned: %v", err)
	}
}

// attempt makes one connect and subscribe.
func (l *brokerLink) attempt(ctx context.Context) error {
	events := l.pipeline.Events()
	events.Infof("Connecting to MQTT broker %s", l.cfg.Address())

	client, err := l.connect(l.cfg, l.clientID)
	if err != nil {
		events.Errorf("MQTT connection failed: %v", err)
		return err
	}
	client.SetLogger(l.log)
	client.SetOnConnect(l.onConnect)
	client.SetOnDisconnect(l.onDisconnect)

	if err := client.Subscribe(l.cfg.Topic, byte(l.cfg.QoS), l.handle); err != nil {
		client.Close() //nolint:errcheck // retrying with a fresh client
		events.Errorf("Subscribe to %s failed: %v", l.cfg.Topic, err)
		return err
	}

	l.mu.Lock()
	if l.closed || ctx.Err() != nil {
		l.mu.Unlock()
		client.Close() //nolint:errcheck // shutting down
		return backoff.Permanent(context.Canceled)
	}
	l.client = client
	l.mu.Unlock()

	l.pipeline.SetConnected(true)
	events.Successf("Connected to MQTT broker %s as %s", l.cfg.Address(), l.clientID)
	events.Successf("Subscribed to %s", l.cfg.Topic)
	l.log.Info("MQTT connected", "broker", l.cfg.Address(), "client_id", l.clientID, "topic", l.cfg.Topic)
	return nil
}

// handle enqueues one message. A full queue is already recorded by the
// pipeline, so it is not reported again as a handler error.
func (l *brokerLink) handle(topic string, payload []byte) error {
	err := l.pipeline.HandleMessage(topic, payload)
	if errors.Is(err, ingest.ErrQueueFull) || errors.Is(err, ingest.ErrStopped) {
		return nil
	}
	return err
}

func (l *brokerLink) onConnect() {
	if l.pipeline.Connected() {
		return
	}
	l.pipeline.SetConnected(true)
	l.pipeline.Events().Successf("Reconnected to MQTT broker %s", l.cfg.Address())
}

func (l *brokerLink) onDisconnect(err error) {
	l.pipeline.SetConnected(false)
	l.pipeline.Events().Warningf("Disconnected from MQTT broker: %v", err)
	l.log.Warn("MQTT disconnected", "error", err)
}

// HealthCheck backs the mqtt field of GET /health. The link is healthy
// once the client is connected and holds the telemetry subscription.
func (l *brokerLink) HealthCheck(ctx context.Context) error {
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()

	if client == nil {
		return mqtt.ErrNotConnected
	}
	if err := client.HealthCheck(ctx); err != nil {
		return err
	}
	if !client.HasSubscription(l.cfg.Topic) {
		return fmt.Errorf("%w: %s (%d active)", mqtt.ErrNotSubscribed, l.cfg.Topic, client.SubscriptionCount())
	}
	return nil
}

// Close stops retrying and disconnects. It blocks until the connect loop
// has exited, so it must be called after the run context is cancelled.
func (l *brokerLink) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	<-l.done

	l.mu.Lock()
	client := l.client
	l.client = nil
	l.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			l.log.Error("error closing MQTT", "error", err)
		}
	}
	l.pipeline.SetConnected(false)
	l.pipeline.Events().Infof("MQTT client stopped")
}
