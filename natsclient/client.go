// Package natsclient manages the gateway's NATS connection used for
// cluster-wide configuration-change propagation.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sigmod/ns-server/errors"
	"github.com/sigmod/ns-server/metric"
)

// Client wraps a NATS connection with the reconnect policy and
// observability wiring the gateway needs. It is safe for concurrent use.
type Client struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string
	noEcho        bool

	// Metrics
	metrics *metric.Metrics
}

// New creates a client for the given NATS URL. The connection is not
// established until Connect is called.
func New(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Client", "New", "NATS URL validation")
	}

	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
		clientName:    "nsgateway",
		noEcho:        true,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "New", "option application")
		}
	}

	return c, nil
}

// Connect establishes the NATS connection. The context bounds the initial
// dial only; reconnects afterwards are handled by the NATS client per the
// configured policy.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Client", "Connect", "connection check")
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	natsOpts := []nats.Option{
		nats.Name(c.clientName),
		nats.Timeout(timeout),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", "error", err)
			if c.metrics != nil {
				c.metrics.NATSConnected.Set(0)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			if c.metrics != nil {
				c.metrics.NATSConnected.Set(1)
				c.metrics.NATSReconnects.Inc()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("NATS connection closed")
			if c.metrics != nil {
				c.metrics.NATSConnected.Set(0)
			}
		}),
	}
	if c.noEcho {
		// The gateway subscribes to the same subject it announces on;
		// without NoEcho every local announce would come straight back.
		natsOpts = append(natsOpts, nats.NoEcho())
	}

	conn, err := nats.Connect(c.url, natsOpts...)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "NATS dial")
	}

	c.conn = conn
	if c.metrics != nil {
		c.metrics.NATSConnected.Set(1)
	}
	c.logger.Info("NATS connected", "url", conn.ConnectedUrl())
	return nil
}

// GetConnection returns the live connection, or nil when not connected.
func (c *Client) GetConnection() *nats.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// IsConnected reports whether the underlying connection is currently up.
func (c *Client) IsConnected() bool {
	conn := c.GetConnection()
	return conn != nil && conn.IsConnected()
}

// Close drains and closes the connection. The context bounds the drain.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Drain()
	}()

	select {
	case err := <-done:
		if err != nil {
			conn.Close()
			return errors.WrapTransient(err, "Client", "Close", "drain")
		}
		return nil
	case <-ctx.Done():
		conn.Close()
		return errors.WrapTransient(ctx.Err(), "Client", "Close", "drain wait")
	}
}
