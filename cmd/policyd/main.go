package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/checkpoint"
	"github.com/okaneko/policylink/internal/config"
	"github.com/okaneko/policylink/internal/model"
	"github.com/okaneko/policylink/internal/observability"
	"github.com/okaneko/policylink/internal/pipeline"
	"github.com/okaneko/policylink/internal/server"
)

func main() {
	configPath := flag.String("config", "policyd.toml", "path to the server config")
	initConfig := flag.Bool("init", false, "write a starter config and exit")
	flag.Parse()

	log.Logger = observability.InitLogger("policyd")

	if *initConfig {
		if err := config.WriteTemplate(*configPath, "server", false); err != nil {
			fmt.Fprintf(os.Stderr, "policyd: %v\n", err)
			os.Exit(1)
		}
		log.Info().Str("path", *configPath).Msg("starter config written")
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "policyd: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.LoadServerConfig(path)
	if err != nil {
		return err
	}
	iface := cfg.ToInterface()

	tree, err := loadWeights(cfg, iface)
	if err != nil {
		return err
	}
	policy, err := model.NewLinear(iface.ModelID, iface, tree)
	if err != nil {
		return err
	}

	pipe, err := pipeline.New(cfg.ServerSpec(), iface, pipeline.Variant(cfg.Variant))
	if err != nil {
		return err
	}
	srv, err := server.New(cfg.ToServer(), iface, pipe, policy)
	if err != nil {
		return err
	}

	admin := server.NewAdmin(srv)
	go func() {
		if err := admin.Serve(); err != nil {
			log.Error().Err(err).Msg("admin server exited")
		}
	}()

	ln, err := srv.Listen()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("listen", cfg.ListenAddr).
		Str("admin", cfg.AdminAddr).
		Str("model", iface.ModelID).
		Int("horizon", iface.ActionHorizon).
		Msg("policyd serving")

	err = srv.Serve(ctx, ln)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("policyd stopped")
		return nil
	}
	return err
}

// loadWeights initializes the target tree for the configured interface,
// optionally replaces it with a saved checkpoint, then merges pretrained
// parameters wherever shapes line up.
func loadWeights(cfg config.ServerConfig, iface canonical.Interface) (checkpoint.Tree, error) {
	tree := model.InitTree(iface)

	if cfg.CheckpointDir != "" {
		loaded, err := checkpoint.Load(cfg.CheckpointDir)
		switch {
		case err == nil:
			tree = loaded
		case errors.Is(err, fs.ErrNotExist):
			log.Info().Str("path", cfg.CheckpointDir).Msg("no saved checkpoint, starting from init")
		default:
			return nil, err
		}
	}

	if cfg.Pretrained != "" {
		source, err := checkpoint.Load(cfg.Pretrained)
		if err != nil {
			return nil, err
		}
		merged, warnings := checkpoint.Merge(tree, source)
		tree = merged
		log.Info().
			Str("pretrained", cfg.Pretrained).
			Int("params", len(tree)).
			Int("shape_mismatches", len(warnings)).
			Msg("pretrained parameters merged")
	}
	return tree, nil
}
