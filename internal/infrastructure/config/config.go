package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sink backends supported by the pipeline.
const (
	BackendInfluxDB        = "influxdb"
	BackendVictoriaMetrics = "victoriametrics"
)

// reservedTagKey is written by the line encoder on every record and cannot
// be used as an entity tag.
const reservedTagKey = "trigger"

// Config is the root configuration structure for the ingestion service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Sink     SinkConfig     `yaml:"sink"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	TSDB     TSDBConfig     `yaml:"tsdb"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Entities []EntityConfig `yaml:"entities"`
}

// InstanceConfig identifies this ingestion instance.
type InstanceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains settings for the SQLite snapshot store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
// MaxAttempts bounds the initial connection only; a connection lost later
// is retried indefinitely.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// SinkConfig selects the time-series backend records are written to.
type SinkConfig struct {
	Backend string `yaml:"backend"`

	// RequireReachable fails startup when the backend does not answer its
	// health check. By default an unreachable backend only means records
	// are queued until it comes back.
	RequireReachable bool `yaml:"require_reachable"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Org          string `yaml:"org"`
	Bucket       string `yaml:"bucket"`
	WriteTimeout int    `yaml:"write_timeout"`
}

// TSDBConfig contains VictoriaMetrics connection settings.
type TSDBConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	WriteTimeout int    `yaml:"write_timeout"`
}

// PipelineConfig contains failure queue, flush and heartbeat settings.
// All intervals are in seconds.
type PipelineConfig struct {
	QueuePath         string `yaml:"queue_path"`
	FlushInterval     int    `yaml:"flush_interval"`
	MaxFlushInterval  int    `yaml:"max_flush_interval"`
	BatchSize         int    `yaml:"batch_size"`
	HeartbeatInterval int    `yaml:"heartbeat_interval"`
	HeartbeatPoll     int    `yaml:"heartbeat_poll"`
	LookupTimeout     int    `yaml:"lookup_timeout"`
	ShutdownTimeout   int    `yaml:"shutdown_timeout"`
}

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// WebSocketConfig contains settings for the live event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"` // bytes
	PingInterval   int `yaml:"ping_interval"`    // seconds
	PongTimeout    int `yaml:"pong_timeout"`     // seconds
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EntityConfig describes one monitored entity.
type EntityConfig struct {
	// ID is the event source identifier (e.g. "hm-rpc.0.ABC123.1.TEMPERATURE").
	ID string `yaml:"id"`

	// Measurement is the target measurement name. Unique across entities.
	Measurement string `yaml:"measurement"`

	// Tags are optional static tags added to every record.
	Tags map[string]string `yaml:"tags,omitempty"`

	// MinDelta suppresses change writes smaller than this value.
	// Nil disables the filter.
	MinDelta *float64 `yaml:"min_delta,omitempty"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: IOBINFLUX_SECTION_KEY
// For example: IOBINFLUX_INFLUXDB_TOKEN, IOBINFLUX_QUEUE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Instance: InstanceConfig{
			ID:   "iobroker-influxdb3",
			Name: "ioBroker InfluxDB ingestion",
		},
		Database: DatabaseConfig{
			Path:        "./data/snapshots.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "iobroker-influxdb3",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  3,
			},
			TopicPrefix: "iobroker",
		},
		Sink: SinkConfig{
			Backend: BackendInfluxDB,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:      true,
			URL:          "http://localhost:8181",
			WriteTimeout: 5,
		},
		TSDB: TSDBConfig{
			URL:          "http://localhost:8428",
			WriteTimeout: 5,
		},
		Pipeline: PipelineConfig{
			QueuePath:         "./data/failed_writes.json",
			FlushInterval:     60,
			MaxFlushInterval:  600,
			BatchSize:         500,
			HeartbeatInterval: 3600,
			HeartbeatPoll:     60,
			LookupTimeout:     5,
			ShutdownTimeout:   10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8089,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: IOBINFLUX_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("IOBINFLUX_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("IOBINFLUX_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("IOBINFLUX_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("IOBINFLUX_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("IOBINFLUX_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// VictoriaMetrics
	if v := os.Getenv("IOBINFLUX_TSDB_URL"); v != "" {
		cfg.TSDB.URL = v
	}

	// Pipeline
	if v := os.Getenv("IOBINFLUX_QUEUE_PATH"); v != "" {
		cfg.Pipeline.QueuePath = v
	}

	// Database
	if v := os.Getenv("IOBINFLUX_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Instance.ID == "" {
		errs = append(errs, "instance.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix is required and must not contain wildcards")
	}

	switch c.Sink.Backend {
	case BackendInfluxDB:
		if !c.InfluxDB.Enabled {
			errs = append(errs, "influxdb.enabled must be true when sink.backend is influxdb")
		}
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required")
		}
	case BackendVictoriaMetrics:
		if !c.TSDB.Enabled {
			errs = append(errs, "tsdb.enabled must be true when sink.backend is victoriametrics")
		}
		if c.TSDB.URL == "" {
			errs = append(errs, "tsdb.url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("sink.backend %q is not supported (influxdb, victoriametrics)", c.Sink.Backend))
	}

	errs = append(errs, c.Pipeline.validate()...)

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	errs = append(errs, validateEntities(c.Entities)...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (p PipelineConfig) validate() []string {
	var errs []string
	if p.QueuePath == "" {
		errs = append(errs, "pipeline.queue_path is required")
	}
	if p.FlushInterval <= 0 {
		errs = append(errs, "pipeline.flush_interval must be positive")
	}
	if p.MaxFlushInterval < p.FlushInterval {
		errs = append(errs, "pipeline.max_flush_interval must be >= pipeline.flush_interval")
	}
	if p.BatchSize <= 0 {
		errs = append(errs, "pipeline.batch_size must be positive")
	}
	if p.HeartbeatInterval <= 0 {
		errs = append(errs, "pipeline.heartbeat_interval must be positive")
	}
	if p.HeartbeatPoll <= 0 {
		errs = append(errs, "pipeline.heartbeat_poll must be positive")
	}
	if p.LookupTimeout <= 0 {
		errs = append(errs, "pipeline.lookup_timeout must be positive")
	}
	if p.ShutdownTimeout <= 0 {
		errs = append(errs, "pipeline.shutdown_timeout must be positive")
	}
	return errs
}

func validateEntities(entities []EntityConfig) []string {
	var errs []string
	if len(entities) == 0 {
		return append(errs, "at least one entity is required")
	}

	ids := make(map[string]bool, len(entities))
	measurements := make(map[string]string, len(entities))
	for i, e := range entities {
		if e.ID == "" {
			errs = append(errs, fmt.Sprintf("entities[%d].id is required", i))
			continue
		}
		if ids[e.ID] {
			errs = append(errs, fmt.Sprintf("entities[%d].id %q is duplicated", i, e.ID))
		}
		ids[e.ID] = true

		if e.Measurement == "" {
			errs = append(errs, fmt.Sprintf("entity %q: measurement is required", e.ID))
		} else if !validTagText(e.Measurement) {
			errs = append(errs, fmt.Sprintf("entity %q: measurement %q must not end in a backslash", e.ID, e.Measurement))
		} else if other, ok := measurements[e.Measurement]; ok {
			errs = append(errs, fmt.Sprintf("entity %q: measurement %q already used by %q", e.ID, e.Measurement, other))
		} else {
			measurements[e.Measurement] = e.ID
		}

		if e.MinDelta != nil && (*e.MinDelta < 0 || math.IsNaN(*e.MinDelta) || math.IsInf(*e.MinDelta, 0)) {
			errs = append(errs, fmt.Sprintf("entity %q: min_delta must be a finite number >= 0", e.ID))
		}
		for k, v := range e.Tags {
			switch {
			case k == reservedTagKey:
				errs = append(errs, fmt.Sprintf("entity %q: tag key %q is reserved", e.ID, reservedTagKey))
			case !validTagText(k):
				errs = append(errs, fmt.Sprintf("entity %q: tag key %q must be non-empty and not end in a backslash", e.ID, k))
			}
			if !validTagText(v) {
				errs = append(errs, fmt.Sprintf("entity %q: tag %q value must be non-empty and not end in a backslash", e.ID, k))
			}
		}
	}
	return errs
}

// validTagText mirrors the entity registry's tag check: line protocol has no
// empty tag values, and a trailing backslash would escape the delimiter
// after it.
func validTagText(s string) bool {
	s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	return s != "" && !strings.HasSuffix(s, `\`)
}

// seconds converts a whole number of seconds to a Duration.
func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ReadDuration returns the API read timeout as a Duration.
func (t APITimeoutConfig) ReadDuration() time.Duration { return seconds(t.Read) }

// WriteDuration returns the API write timeout as a Duration.
func (t APITimeoutConfig) WriteDuration() time.Duration { return seconds(t.Write) }

// IdleDuration returns the API idle timeout as a Duration.
func (t APITimeoutConfig) IdleDuration() time.Duration { return seconds(t.Idle) }

// FlushIntervalDuration returns the base flush interval.
func (p PipelineConfig) FlushIntervalDuration() time.Duration { return seconds(p.FlushInterval) }

// MaxFlushIntervalDuration returns the backoff ceiling.
func (p PipelineConfig) MaxFlushIntervalDuration() time.Duration { return seconds(p.MaxFlushInterval) }

// HeartbeatIntervalDuration returns the maximum silence per entity.
func (p PipelineConfig) HeartbeatIntervalDuration() time.Duration {
	return seconds(p.HeartbeatInterval)
}

// HeartbeatPollDuration returns how often heartbeat deadlines are evaluated.
func (p PipelineConfig) HeartbeatPollDuration() time.Duration { return seconds(p.HeartbeatPoll) }

// LookupTimeoutDuration returns the point-lookup timeout against the event source.
func (p PipelineConfig) LookupTimeoutDuration() time.Duration { return seconds(p.LookupTimeout) }

// ShutdownTimeoutDuration returns the bound on the final queue drain.
func (p PipelineConfig) ShutdownTimeoutDuration() time.Duration {
	return seconds(p.ShutdownTimeout)
}
