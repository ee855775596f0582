package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/okaneko/policylink/internal/broker"
	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/client"
	"github.com/okaneko/policylink/internal/config"
	"github.com/okaneko/policylink/internal/observability"
	"github.com/okaneko/policylink/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "robot.toml", "path to the robot config")
	overridePath := flag.String("override", "", "optional runtime overrides file")
	initConfig := flag.Bool("init", false, "write a starter config and exit")
	prompt := flag.String("prompt", "pick up the block", "task prompt sent with every observation")
	flag.Parse()

	log.Logger = observability.InitLogger("robotctl")

	if *initConfig {
		if err := config.WriteTemplate(*configPath, "robot", false); err != nil {
			fmt.Fprintf(os.Stderr, "robotctl: %v\n", err)
			os.Exit(1)
		}
		log.Info().Str("path", *configPath).Msg("starter config written")
		return
	}

	if err := run(*configPath, *overridePath, *prompt); err != nil {
		fmt.Fprintf(os.Stderr, "robotctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, overridePath, prompt string) error {
	cfg, err := config.LoadRobotConfig(configPath)
	if err != nil {
		return err
	}
	if overridePath != "" {
		cfg, err = applyOverrides(cfg, overridePath)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spec := cfg.Embodiment.ToSpec()
	cli, err := client.Dial(ctx, client.Config{
		Address:            cfg.ServerAddr,
		MaxConnectAttempts: cfg.MaxConnectAttempts,
		Session:            cfg.SessionConfig(),
	}, spec)
	if err != nil {
		return err
	}
	defer cli.Close()

	iface := cli.Interface()
	log.Info().
		Str("server", cfg.ServerAddr).
		Str("model", iface.ModelID).
		Int("horizon", iface.ActionHorizon).
		Msg("session established")

	pipe, err := pipeline.New(spec, iface, pipeline.Variant(cfg.Variant))
	if err != nil {
		return err
	}
	brk, err := broker.New(&broker.RemoteSource{Client: cli, Pipe: pipe}, spec, broker.Config{
		OpenLoopHorizon: cfg.OpenLoopHorizon,
		RequestTimeout:  cfg.SessionConfig().RequestTimeout,
		LogCapacity:     cfg.LogCapacity,
	})
	if err != nil {
		return err
	}

	loop, err := broker.NewLoop(brk, &simObserver{spec: spec, prompt: prompt}, &logActuator{}, broker.LoopConfig{
		Frequency: cfg.FrequencyHz,
		MaxTicks:  cfg.MaxTicks,
	})
	if err != nil {
		return err
	}

	// Transport failures require a fresh handshake before the broker
	// may dispense again; everything else ends the run.
	for {
		err := loop.Run(ctx)
		switch {
		case err == nil:
			log.Info().Msg("run complete")
			return nil
		case errors.Is(err, client.ErrTransport):
			log.Warn().Err(err).Msg("transport failure, reconnecting")
			if rerr := cli.Redial(ctx); rerr != nil {
				return rerr
			}
			brk.Reset()
		case errors.Is(err, context.Canceled):
			log.Info().Msg("robotctl stopped")
			return nil
		default:
			return err
		}
	}
}

// simObserver synthesizes observations for dry runs against a live
// server when no hardware is attached.
type simObserver struct {
	spec   canonical.EmbodimentSpec
	prompt string
	tick   int
}

func (o *simObserver) Observe(ctx context.Context) (pipeline.Raw, error) {
	o.tick++
	state := make([]float32, o.spec.StateDim)
	for i := range state {
		state[i] = float32(math.Sin(float64(o.tick)/50.0 + float64(i)))
	}
	raw := pipeline.Raw{
		pipeline.RawKeyState:  state,
		pipeline.RawKeyPrompt: o.prompt,
	}
	for _, rawKey := range o.spec.Cameras {
		raw[rawKey] = canonical.ZeroImage(224, 224)
	}
	return raw, nil
}

// logActuator prints dispensed actions instead of driving motors.
type logActuator struct{}

func (a *logActuator) Actuate(ctx context.Context, action []float32) error {
	log.Debug().Floats32("action", action).Msg("actuate")
	return nil
}
