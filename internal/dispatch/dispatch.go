// Package dispatch publishes primitives to robots. Every record is decoded
// through the primitive registry first, so unknown or malformed primitives
// are refused before they reach the bus.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/internal/metrics"
	"github.com/sekia-ai/primbus/pkg/primitive"
	"github.com/sekia-ai/primbus/pkg/protocol"
)

// Result describes a published primitive.
type Result struct {
	ID      string
	Subject string
	Name    string
	RobotID uint32
}

// PublishError wraps a bus failure after the primitive passed validation.
type PublishError struct {
	Subject string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Subject, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Dispatcher validates, signs and publishes primitives.
type Dispatcher struct {
	nc       *nats.Conn
	registry *primitive.Registry
	logger   zerolog.Logger

	mu     sync.RWMutex
	secret string

	dispatched atomic.Int64
}

// New creates a Dispatcher. A nil registry means primitive.Default().
func New(nc *nats.Conn, reg *primitive.Registry, secret string, logger zerolog.Logger) *Dispatcher {
	if reg == nil {
		reg = primitive.Default()
	}
	return &Dispatcher{
		nc:       nc,
		registry: reg,
		secret:   secret,
		logger:   logger.With().Str("component", "dispatch").Logger(),
	}
}

// SetSecret replaces the command signing secret.
func (d *Dispatcher) SetSecret(secret string) {
	d.mu.Lock()
	d.secret = secret
	d.mu.Unlock()
}

// Dispatch decodes msg, then publishes its canonical encoding on the robot's
// subject. Decode failures are returned unchanged so callers can match them
// with errors.Is against the primitive package's sentinels.
func (d *Dispatcher) Dispatch(ctx context.Context, msg primitive.Message) (Result, error) {
	p, err := d.registry.Decode(msg)
	if err != nil {
		metrics.ObserveDispatch(msg.Name, metrics.ResultRejected)
		d.logger.Warn().Err(err).Str("primitive", msg.Name).Uint32("robot_id", msg.RobotID).Msg("refused primitive")
		return Result{}, err
	}
	return d.Send(ctx, p)
}

// Send publishes an already-typed primitive.
func (d *Dispatcher) Send(ctx context.Context, p primitive.Primitive) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	body, err := primitive.Marshal(p)
	if err != nil {
		return Result{}, fmt.Errorf("marshal primitive: %w", err)
	}

	res := Result{
		ID:      uuid.NewString(),
		Subject: protocol.SubjectPrimitives(p.RobotID()),
		Name:    p.Name(),
		RobotID: p.RobotID(),
	}

	out := nats.NewMsg(res.Subject)
	out.Data = body
	out.Header.Set(protocol.HeaderMsgID, res.ID)

	d.mu.RLock()
	secret := d.secret
	d.mu.RUnlock()
	if sig := protocol.Sign(body, secret); sig != "" {
		out.Header.Set(protocol.HeaderSignature, sig)
	}

	if err := d.nc.PublishMsg(out); err != nil {
		metrics.ObserveDispatch(res.Name, metrics.ResultFailed)
		return Result{}, &PublishError{Subject: res.Subject, Err: err}
	}
	if err := d.nc.FlushWithContext(ctx); err != nil {
		metrics.ObserveDispatch(res.Name, metrics.ResultFailed)
		return Result{}, &PublishError{Subject: res.Subject, Err: err}
	}

	d.dispatched.Add(1)
	metrics.ObserveDispatch(res.Name, metrics.ResultOK)
	d.logger.Info().
		Str("id", res.ID).
		Str("primitive", res.Name).
		Uint32("robot_id", res.RobotID).
		Msg("primitive dispatched")
	return res, nil
}

// Dispatched returns how many primitives were published.
func (d *Dispatcher) Dispatched() int64 { return d.dispatched.Load() }

// Types lists the primitive names this dispatcher accepts.
func (d *Dispatcher) Types() []string { return d.registry.Names() }
