package mqtt

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is in milliseconds.
	defaultDisconnectQuiesce = 1000

	// defaultKeepAlive matches the gateway's 120s keepalive.
	defaultKeepAlive = 120 * time.Second

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12

	// clientSuffixLen is the number of hex characters appended to the client id.
	clientSuffixLen = 8
)

// ClientID returns the id presented to the broker. With RandomSuffix set
// it appends "_<8 hex>" so a restarted or second instance never takes
// over an existing session.
func ClientID(cfg config.MQTTConfig) string {
	id := cfg.Broker.ClientID
	if !cfg.Broker.RandomSuffix {
		return id
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:clientSuffixLen]
	return id + "_" + suffix
}

// BrokerURL returns tcp:// or ssl:// host:port.
func BrokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions creates paho options for the telemetry subscriber.
//
// Clean session is on: the pipeline tolerates loss and reconciliation
// fills gaps, so there is no point asking the broker to queue for us.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg))
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	// Reconnect after a drop. The initial connect is retried by the caller.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(secondsOr(cfg.Reconnect.MaxDelay, time.Minute))

	opts.SetConnectTimeout(secondsOr(cfg.ConnectTimeout, defaultConnectTimeout))
	opts.SetKeepAlive(secondsOr(cfg.KeepAlive, defaultKeepAlive))

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT makes the broker announce an unexpected disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	opts.SetWill(Topics{}.SystemStatus(), statusPayload("offline", clientID, "unexpected_disconnect"), 1, true)
}

func statusPayload(status, clientID, reason string) string {
	ts := time.Now().UTC().Format(time.RFC3339)
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`, status, clientID, ts)
	}
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"reason":%q,"timestamp":%q}`, status, clientID, reason, ts)
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
