package robotagent

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/pkg/primitive"
)

// Executor carries out a decoded primitive on the robot.
type Executor interface {
	Execute(ctx context.Context, p primitive.Primitive) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, p primitive.Primitive) error

func (f ExecutorFunc) Execute(ctx context.Context, p primitive.Primitive) error { return f(ctx, p) }

// LogExecutor logs each primitive instead of driving hardware.
type LogExecutor struct {
	Logger zerolog.Logger
}

func (e LogExecutor) Execute(_ context.Context, p primitive.Primitive) error {
	ev := e.Logger.Info().Str("primitive", p.Name()).Uint32("robot_id", p.RobotID())
	switch v := p.(type) {
	case *primitive.Move:
		dest := v.Destination()
		ev = ev.Float64("dest_x", dest.X).
			Float64("dest_y", dest.Y).
			Float64("final_orientation", v.FinalOrientation()).
			Bool("dribbler", v.Dribbler()).
			Bool("autokick", v.Autokick())
	default:
		ev = ev.Floats64("parameters", p.Parameters())
	}
	ev.Msg("executing primitive")
	return nil
}
