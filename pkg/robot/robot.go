// Package robot is the bus client every robot-side process builds on. It
// connects to NATS, announces the robot, and heartbeats its counters.
package robot

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/pkg/protocol"
)

// HeartbeatInterval is how often a Client publishes its heartbeat.
const HeartbeatInterval = 30 * time.Second

// Config holds connection options for a robot client.
type Config struct {
	NATSUrl  string
	NATSOpts []nats.Option
}

// Identity describes the robot a Client speaks for.
type Identity struct {
	Name       string
	Version    string
	RobotID    uint32
	Primitives []string
}

// Client is a robot's connection to the primitive bus.
type Client struct {
	Identity

	nc     *nats.Conn
	logger zerolog.Logger
	cancel context.CancelFunc

	executed      atomic.Int64
	rejected      atomic.Int64
	lastPrimitive atomic.Value // stores time.Time
}

// New connects to NATS, registers the robot, and starts heartbeating.
func New(cfg Config, id Identity, logger zerolog.Logger) (*Client, error) {
	robotLogger := logger.With().Str("robot", id.Name).Uint32("robot_id", id.RobotID).Logger()

	// Resilience: infinite reconnect with logging on state changes.
	resilienceOpts := []nats.Option{
		nats.Name(id.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				robotLogger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			robotLogger.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			robotLogger.Warn().Msg("NATS connection closed")
		}),
	}

	opts := append(resilienceOpts, cfg.NATSOpts...)
	nc, err := nats.Connect(cfg.NATSUrl, opts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		Identity: id,
		nc:       nc,
		logger:   robotLogger,
	}
	c.lastPrimitive.Store(time.Time{})

	if err := c.register(); err != nil {
		nc.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.heartbeatLoop(ctx)

	return c, nil
}

func (c *Client) register() error {
	reg := protocol.Registration{
		Name:       c.Name,
		Version:    c.Version,
		RobotID:    c.RobotID,
		Primitives: c.Primitives,
	}
	data, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	return c.nc.Publish(protocol.SubjectRegistry, data)
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	c.sendHeartbeat()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendHeartbeat()
		}
	}
}

func (c *Client) sendHeartbeat() {
	hb := protocol.Heartbeat{
		Name:          c.Name,
		RobotID:       c.RobotID,
		Status:        "running",
		LastPrimitive: c.lastPrimitive.Load().(time.Time),
		Executed:      c.executed.Load(),
		Rejected:      c.rejected.Load(),
	}
	data, _ := json.Marshal(hb)
	if err := c.nc.Publish(protocol.SubjectHeartbeat(c.Name), data); err != nil {
		c.logger.Error().Err(err).Msg("failed to send heartbeat")
	}
}

// Conn returns the underlying NATS connection for custom subscriptions.
func (c *Client) Conn() *nats.Conn { return c.nc }

// RecordExecuted increments counters after a primitive ran.
func (c *Client) RecordExecuted() {
	c.executed.Add(1)
	c.lastPrimitive.Store(time.Now())
}

// RecordRejected increments the rejected counter.
func (c *Client) RecordRejected() {
	c.rejected.Add(1)
}

// Executed returns the number of primitives run so far.
func (c *Client) Executed() int64 { return c.executed.Load() }

// Rejected returns the number of messages dropped so far.
func (c *Client) Rejected() int64 { return c.rejected.Load() }

// Close stops heartbeating and disconnects.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.nc.Drain()
}
