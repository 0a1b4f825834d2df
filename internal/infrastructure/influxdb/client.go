package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/config"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultWriteTimeout   = 5 * time.Second
)

// Client submits encoded line protocol records to InfluxDB through the
// v2-compatible write API, which InfluxDB 3 also serves.
//
// Every Submit is a single blocking HTTP request; there is no client-side
// batching or retry. Retrying is the failure queue's job.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	cfg      config.InfluxDBConfig

	// closed is set by Close; Submit refuses to write afterwards.
	closed bool
	mu     sync.RWMutex
}

// New creates a client without contacting the server.
//
// The pipeline must start even while the database is unreachable, so
// connectivity problems surface from Submit and HealthCheck instead.
//
// Parameters:
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Client ready for use
//   - error: ErrDisabled if InfluxDB is disabled in config
func New(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	timeout := time.Duration(cfg.WriteTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	// #nosec G115 -- timeout is positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(uint(timeout/time.Second)).
			SetPrecision(time.Nanosecond),
	)

	return &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		cfg:      cfg,
	}, nil
}

// Connect creates a client and verifies the server answers a ping.
//
// Parameters:
//   - ctx: Context for cancellation of the initial ping
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If InfluxDB is disabled or the ping fails
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := c.HealthCheck(pingCtx); err != nil {
		c.client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// Submit writes lines to the configured bucket in one request.
//
// Parameters:
//   - ctx: Context for cancellation; the configured write timeout also applies
//   - lines: Encoded line protocol records
//
// Returns:
//   - error: nil when the server accepted every line, otherwise wrapping ErrWriteFailed
func (c *Client) Submit(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.writeAPI.WriteRecord(ctx, lines...); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Close releases the underlying HTTP resources.
//
// Returns:
//   - error: nil (InfluxDB client Close doesn't return errors)
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.client.Close()
	return nil
}

// HealthCheck verifies the InfluxDB server answers a ping.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}

	return nil
}

// IsConnected reports whether the client is still open.
//
// Note: This does not contact the server. Use HealthCheck for an active ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}
