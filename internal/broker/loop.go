package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okaneko/policylink/internal/pipeline"
)

// Observer reads one raw observation from the robot per tick.
type Observer interface {
	Observe(ctx context.Context) (pipeline.Raw, error)
}

// Actuator applies one embodiment-space action to the robot.
type Actuator interface {
	Actuate(ctx context.Context, action []float32) error
}

// LoopConfig tunes the fixed-frequency control loop.
type LoopConfig struct {
	// Frequency is the target tick rate in Hz.
	Frequency float64
	// MaxTicks stops the loop after that many ticks. Zero runs until
	// ctx is canceled or an error propagates.
	MaxTicks uint64
}

// Loop drives the broker at a fixed frequency. A tick that overruns
// its budget delays the next tick; the sleep is clamped to zero, never
// negative.
type Loop struct {
	broker   *Broker
	observer Observer
	actuator Actuator
	cfg      LoopConfig
}

func NewLoop(b *Broker, obs Observer, act Actuator, cfg LoopConfig) (*Loop, error) {
	if b == nil {
		return nil, errors.New("broker: loop requires a broker")
	}
	if obs == nil || act == nil {
		return nil, errors.New("broker: loop requires observer and actuator")
	}
	if cfg.Frequency <= 0 {
		return nil, fmt.Errorf("broker: loop frequency must be positive, got %g", cfg.Frequency)
	}
	return &Loop{broker: b, observer: obs, actuator: act, cfg: cfg}, nil
}

// Run ticks until ctx cancels, MaxTicks is reached, or an error
// propagates. On a failed replanning step it actuates the safe-stop
// action before returning, so the robot is never left on a stale
// command.
func (l *Loop) Run(ctx context.Context) error {
	period := time.Duration(float64(time.Second) / l.cfg.Frequency)
	var ticks uint64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()

		raw, err := l.observer.Observe(ctx)
		if err != nil {
			return fmt.Errorf("observe: %w", err)
		}

		action, err := l.broker.Step(ctx, raw)
		if err != nil {
			var bounds BoundsError
			if errors.As(err, &bounds) {
				return err
			}
			log.Warn().Err(err).Msg("replanning failed, entering safe stop")
			if action != nil {
				if aerr := l.actuator.Actuate(ctx, action); aerr != nil {
					return errors.Join(err, aerr)
				}
			}
			return err
		}

		if err := l.actuator.Actuate(ctx, action); err != nil {
			return fmt.Errorf("actuate: %w", err)
		}

		ticks++
		if l.cfg.MaxTicks > 0 && ticks >= l.cfg.MaxTicks {
			return nil
		}

		rem := period - time.Since(start)
		if rem < 0 {
			rem = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rem):
		}
	}
}
