package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
// Broker tests require a running Mosquitto at 127.0.0.1:1883 and skip otherwise.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: fmt.Sprintf("iobinflux-test-%d", time.Now().UnixNano()),
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "iobinflux-test",
	}
}

// connectOrSkip connects to the local broker or skips the test.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION=1 to run broker tests")
	}
	client, err := Connect(testConfig())
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// recordingLogger captures log calls.
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

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopics(t *testing.T) {
	topics := NewTopics("/iobroker/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"State", topics.State("hm-rpc.0.ABC.1.TEMPERATURE"), "iobroker/state/hm-rpc.0.ABC.1.TEMPERATURE"},
		{"AllStates", topics.AllStates(), "iobroker/state/#"},
		{"LookupRequest", topics.LookupRequest(), "iobroker/request/get"},
		{"LookupResponse", topics.LookupResponse("req-1"), "iobroker/response/req-1"},
		{"AllLookupResponses", topics.AllLookupResponses(), "iobroker/response/+"},
		{"SystemStatus", topics.SystemStatus(), "iobroker/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestTopics_EntityFromState(t *testing.T) {
	topics := NewTopics("iobroker")

	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"iobroker/state/shelly.0.plug1.Power", "shelly.0.plug1.Power", true},
		{"iobroker/state/a/b", "a/b", true},
		{"iobroker/state/", "", false},
		{"iobroker/response/x", "", false},
		{"other/state/x", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := topics.EntityFromState(tt.topic)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("EntityFromState(%q) = %q, %v; want %q, %v", tt.topic, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

// =============================================================================
// Payload and Options Tests
// =============================================================================

func TestBuildStatusPayload(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data := buildStatusPayload("offline", "client-1", "graceful_shutdown", now)

	var p statusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.Status != "offline" || p.ClientID != "client-1" || p.Reason != "graceful_shutdown" {
		t.Errorf("payload = %+v", p)
	}
	if p.Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("Timestamp = %q", p.Timestamp)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "user"
	cfg.Auth.Password = "pass"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.Username != "user" || opts.Password != "pass" {
		t.Error("credentials not applied")
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set for TLS broker")
	}
	if opts.ConnectRetry {
		t.Error("paho connect retry should be off; Connect retries itself")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		broker config.MQTTBrokerConfig
		want   string
	}{
		{config.MQTTBrokerConfig{Host: "localhost", Port: 1883}, "tcp://localhost:1883"},
		{config.MQTTBrokerConfig{Host: "broker.lan", Port: 8883, TLS: true}, "ssl://broker.lan:8883"},
		{config.MQTTBrokerConfig{Host: "::1", Port: 1883}, "tcp://[::1]:1883"},
	}
	for _, tt := range tests {
		if got := brokerURL(tt.broker); got != tt.want {
			t.Errorf("brokerURL(%+v) = %q, want %q", tt.broker, got, tt.want)
		}
	}
}

func TestConnectDelays(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MQTTReconnectConfig
		want []time.Duration
	}{
		{"single attempt", config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60}, nil},
		{"one attempt explicit", config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60, MaxAttempts: 1}, nil},
		{
			"doubling with cap",
			config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5, MaxAttempts: 5},
			[]time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second},
		},
		{
			"zero delay floors at one second",
			config.MQTTReconnectConfig{MaxAttempts: 3},
			[]time.Duration{time.Second, time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := connectDelays(tt.cfg)
			if len(got) != len(tt.want) {
				t.Fatalf("connectDelays() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("delay[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, NewTopics("iobroker"), "client-1")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false")
	}
	if opts.WillTopic != "iobroker/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false")
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestDispatch_RecoversPanic(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var gotTopic string
	var gotPanic any
	c.SetOnPanic(func(topic string, recovered any) {
		gotTopic = topic
		gotPanic = recovered
	})

	c.dispatch(func(string, []byte) error {
		panic("boom")
	}, "iobroker/state/a", nil)

	if gotTopic != "iobroker/state/a" || gotPanic != "boom" {
		t.Errorf("onPanic got (%q, %v), want (iobroker/state/a, boom)", gotTopic, gotPanic)
	}
	if len(logger.errors) != 1 {
		t.Errorf("expected one error log, got %v", logger.errors)
	}
}

func TestDispatch_HandlerError(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error {
		return errors.New("bad payload")
	}, "iobroker/state/a", []byte("x"))

	if len(logger.warns) != 1 {
		t.Errorf("expected one warning, got %v", logger.warns)
	}
}

func TestDispatch_NoLoggerNoCallback(t *testing.T) {
	c := newClient(testConfig())
	c.dispatch(func(string, []byte) error { panic("ignored") }, "t", nil)
}

// =============================================================================
// Validation Tests (no broker needed)
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	c := newClient(testConfig())

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("t", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("QoS 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Publish("t", make([]byte, maxPayloadSize+1), 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("large payload error = %v, want ErrPublishFailed", err)
	}
	if err := c.Publish("t", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := newClient(testConfig())
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("t", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("QoS 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("t", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := newClient(testConfig())

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if err := newClient(testConfig()).Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t)

	received := make(chan []byte, 1)
	topic := client.Topics().State("roundtrip.0.value")
	err := client.Subscribe(client.Topics().AllStates(), 1, func(got string, payload []byte) error {
		if got == topic {
			received <- payload
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish(topic, []byte(`{"val":1}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != `{"val":1}` {
			t.Errorf("payload = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := client.Unsubscribe(client.Topics().AllStates()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}
