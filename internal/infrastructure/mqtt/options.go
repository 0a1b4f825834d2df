package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second

	// defaultDisconnectQuiesce is in milliseconds, as paho expects.
	defaultDisconnectQuiesce = 1000

	maxQoS = 2
)

// Status values published on the system status topic.
const (
	statusOnline  = "online"
	statusOffline = "offline"
)

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// buildClientOptions maps config onto paho options. The initial connect is
// retried by Connect itself, so paho's own connect retry stays off; once
// connected, paho reconnects with backoff between the configured delays.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true). // missed changes are covered by startup and heartbeat writes
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive).
		// State handlers can block on SQLite; lookup responses must not
		// wait behind them.
		SetOrderMatters(false)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// connectDelays returns the waits between initial connection attempts:
// max_attempts-1 entries doubling from initial_delay and capped at
// max_delay. A max_attempts below 1 means a single attempt.
func connectDelays(r config.MQTTReconnectConfig) []time.Duration {
	if r.MaxAttempts <= 1 {
		return nil
	}
	delay := time.Duration(max(r.InitialDelay, 1)) * time.Second
	ceiling := time.Duration(max(r.MaxDelay, r.InitialDelay, 1)) * time.Second

	delays := make([]time.Duration, 0, r.MaxAttempts-1)
	for range r.MaxAttempts - 1 {
		delays = append(delays, delay)
		delay = min(delay*2, ceiling)
	}
	return delays
}

// statusPayload is published retained on {prefix}/system/status.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func buildStatusPayload(status, clientID, reason string, now time.Time) []byte {
	// A struct of strings always marshals.
	data, _ := json.Marshal(statusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
	return data
}

// configureLWT registers the retained offline message the broker publishes
// when this client vanishes without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	payload := buildStatusPayload(statusOffline, clientID, "unexpected_disconnect", time.Now())
	opts.SetBinaryWill(topics.SystemStatus(), payload, 1, true)
}
