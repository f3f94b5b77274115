package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-matrix/internal/infrastructure/config"
)

const (
	connectTimeout    = 10 * time.Second
	operationTimeout  = 5 * time.Second
	keepAlive         = 60 * time.Second
	disconnectQuiesce = 1000 // ms

	maxQoS         = 2
	maxPayloadSize = 1 << 20
)

// Option customises Connect.
type Option func(*connectOptions)

type connectOptions struct {
	willTopic   string
	willPayload []byte
	logger      Logger
}

// WithWill registers a retained QoS 1 message the broker publishes if the
// bridge drops off without disconnecting. The bridge passes its offline
// health message.
func WithWill(topic string, payload []byte) Option {
	return func(o *connectOptions) {
		o.willTopic = topic
		o.willPayload = payload
	}
}

// WithLogger sets the logger used for reconnects and handler failures. It
// is in place before the first message arrives.
func WithLogger(logger Logger) Option {
	return func(o *connectOptions) {
		o.logger = logger
	}
}

// brokerURL builds tcp:// or ssl:// from the broker config.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// pahoOptions translates the bridge config into paho options. Sessions are
// clean, so Client replays its own subscriptions after every reconnect.
func pahoOptions(cfg config.MQTTConfig, co connectOptions) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if co.willTopic != "" {
		opts.SetBinaryWill(co.willTopic, co.willPayload, 1, true)
	}
	return opts
}
