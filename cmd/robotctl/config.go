package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/okaneko/policylink/internal/config"
)

// overrideConfig is the runtime tuning surface: only the keys actually
// present in the overrides file are applied on top of the loaded robot
// config, so an empty file changes nothing.
type overrideConfig struct {
	ServerAddr       string  `toml:"server_addr"`
	FrequencyHz      float64 `toml:"frequency_hz"`
	OpenLoopHorizon  int     `toml:"open_loop_horizon"`
	MaxTicks         uint64  `toml:"max_ticks"`
	RequestTimeoutMs int     `toml:"request_timeout_ms"`
	LogCapacity      int     `toml:"log_capacity"`
}

func applyOverrides(cfg config.RobotConfig, path string) (config.RobotConfig, error) {
	var raw overrideConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.RobotConfig{}, fmt.Errorf("load overrides: %w", err)
	}

	if meta.IsDefined("server_addr") {
		addr := strings.TrimSpace(raw.ServerAddr)
		if addr != "" {
			cfg.ServerAddr = addr
		}
	}

	if meta.IsDefined("frequency_hz") {
		if raw.FrequencyHz <= 0 {
			return config.RobotConfig{}, fmt.Errorf("overrides: frequency_hz must be positive")
		}
		cfg.FrequencyHz = raw.FrequencyHz
	}

	if meta.IsDefined("open_loop_horizon") {
		if raw.OpenLoopHorizon <= 0 {
			return config.RobotConfig{}, fmt.Errorf("overrides: open_loop_horizon must be positive")
		}
		cfg.OpenLoopHorizon = raw.OpenLoopHorizon
	}

	if meta.IsDefined("max_ticks") {
		cfg.MaxTicks = raw.MaxTicks
	}

	if meta.IsDefined("request_timeout_ms") {
		cfg.RequestTimeoutMs = raw.RequestTimeoutMs
	}

	if meta.IsDefined("log_capacity") {
		cfg.LogCapacity = raw.LogCapacity
	}

	if err := config.ValidateRobotConfig(cfg); err != nil {
		return config.RobotConfig{}, err
	}
	return cfg, nil
}
