package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/sensorgw/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second

	applicationName = "sensorgw"
)

// Option customises the write client built by Connect.
type Option func(*influxdb2.Options)

// WithDefaultTag adds a tag to every point written by the client.
func WithDefaultTag(key, value string) Option {
	return func(o *influxdb2.Options) {
		if key != "" && value != "" {
			o.AddDefaultTag(key, value)
		}
	}
}

// ClientStats holds write counters.
type ClientStats struct {
	Points      uint64 // Points handed to the batching writer
	WriteErrors uint64 // Batches the server rejected
}

// Client records gateway telemetry in InfluxDB.
//
// Temperature readings, checksum-failed frames and gateway counters are
// written as points through the batching write API. Write failures arrive
// asynchronously and are passed to the SetOnError callback.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Writes never block on the network.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	connected atomic.Bool
	closeOnce sync.Once
	errorsWG  sync.WaitGroup

	onError   func(err error)
	onErrorMu sync.RWMutex

	points      atomic.Uint64
	writeErrors atomic.Uint64
}

// Connect builds a write client for cfg.Bucket and checks the server
// answers a ping.
//
// Returns ErrDisabled when the integration is turned off and
// ErrConnectionFailed when the server is unreachable or unhealthy.
func Connect(cfg config.InfluxDBConfig, opts ...Option) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg, opts))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s is not healthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	c.connected.Store(true)

	c.errorsWG.Add(1)
	go c.forwardWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// clientOptions maps configuration onto the client's batching options.
func clientOptions(cfg config.InfluxDBConfig, opts []Option) *influxdb2.Options {
	batchSize := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batchSize = uint(cfg.BatchSize)
	}
	flushInterval := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flushInterval = time.Duration(cfg.FlushInterval) * time.Second
	}

	options := influxdb2.DefaultOptions().
		SetApplicationName(applicationName).
		SetBatchSize(batchSize).
		SetFlushInterval(uint(flushInterval.Milliseconds())) //nolint:gosec // positive by construction

	for _, opt := range opts {
		opt(options)
	}
	return options
}

// forwardWriteErrors runs until the write API closes its error channel.
func (c *Client) forwardWriteErrors(errs <-chan error) {
	defer c.errorsWG.Done()

	for err := range errs {
		c.writeErrors.Add(1)

		c.onErrorMu.RLock()
		callback := c.onError
		c.onErrorMu.RUnlock()

		if callback != nil {
			callback(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Close flushes pending points and releases the client.
// It is safe to call on a nil client and more than once.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.writeAPI.Flush()
		c.client.Close()
		c.errorsWG.Wait()
	})
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check: server not healthy")
	}
	return nil
}

// IsConnected reports whether the client is open. It does not contact the
// server; use HealthCheck for that.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// SetOnError sets the callback for asynchronous write failures.
// Errors passed to it wrap ErrWriteFailed.
func (c *Client) SetOnError(callback func(err error)) {
	c.onErrorMu.Lock()
	c.onError = callback
	c.onErrorMu.Unlock()
}

// Flush blocks until all buffered points are sent. It is a no-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Stats returns a snapshot of the write counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Points:      c.points.Load(),
		WriteErrors: c.writeErrors.Load(),
	}
}
