// Package config loads and validates the toml files for the policy
// server and the robot client. Configuration is parsed once at startup
// and passed explicitly into constructors; nothing resolves config by
// name at call time.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/client"
	"github.com/okaneko/policylink/internal/pipeline"
	"github.com/okaneko/policylink/internal/server"
)

type InterfaceConfig struct {
	ActionHorizon int      `toml:"action_horizon"`
	ActionDim     int      `toml:"action_dim"`
	StateDim      int      `toml:"state_dim"`
	CameraSlots   []string `toml:"camera_slots"`
	ModelID       string   `toml:"model_id"`
}

type TLSFileConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	ServerName         string `toml:"server_name"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
}

type ServerConfig struct {
	ListenAddr    string   `toml:"listen_addr"`
	AdminAddr     string   `toml:"admin_addr"`
	CorsOrigins   []string `toml:"cors_origins"`
	PoolSize      int      `toml:"pool_size"`
	Variant       string   `toml:"variant"`
	DeltaMask     []bool   `toml:"delta_mask"`
	CheckpointDir string   `toml:"checkpoint_dir"`
	Pretrained    string   `toml:"pretrained"`

	Interface InterfaceConfig `toml:"interface"`
	TLS       TLSFileConfig   `toml:"tls"`
}

type EmbodimentConfig struct {
	Name             string            `toml:"name"`
	StateDim         int               `toml:"state_dim"`
	ActionDim        int               `toml:"action_dim"`
	Cameras          map[string]string `toml:"cameras"`
	DeltaMask        []bool            `toml:"delta_mask"`
	SafeLow          []float32         `toml:"safe_low"`
	SafeHigh         []float32         `toml:"safe_high"`
	GripperThreshold float32           `toml:"gripper_threshold"`
}

type BackoffFileConfig struct {
	InitialDelayMs int     `toml:"initial_delay_ms"`
	Multiplier     float64 `toml:"multiplier"`
	MaxDelayMs     int     `toml:"max_delay_ms"`
	Jitter         bool    `toml:"jitter"`
}

type RobotConfig struct {
	ServerAddr         string `toml:"server_addr"`
	SecurityMode       string `toml:"security_mode"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	Variant            string `toml:"variant"`

	ConnectTimeoutMs   int `toml:"connect_timeout_ms"`
	HandshakeTimeoutMs int `toml:"handshake_timeout_ms"`
	WriteTimeoutMs     int `toml:"write_timeout_ms"`
	RequestTimeoutMs   int `toml:"request_timeout_ms"`

	FrequencyHz     float64 `toml:"frequency_hz"`
	OpenLoopHorizon int     `toml:"open_loop_horizon"`
	MaxTicks        uint64  `toml:"max_ticks"`
	LogCapacity     int     `toml:"log_capacity"`

	TLS        TLSFileConfig     `toml:"tls"`
	Backoff    BackoffFileConfig `toml:"backoff"`
	Embodiment EmbodimentConfig  `toml:"embodiment"`
}

func LoadServerConfig(path string) (ServerConfig, error) {
	var cfg ServerConfig
	if err := loadToml(path, &cfg); err != nil {
		return ServerConfig{}, err
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = ":8091"
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.Variant == "" {
		cfg.Variant = string(pipeline.VariantBase)
	}
	if len(cfg.Interface.CameraSlots) == 0 {
		cfg.Interface.CameraSlots = canonical.DefaultSlots()
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func LoadRobotConfig(path string) (RobotConfig, error) {
	var cfg RobotConfig
	if err := loadToml(path, &cfg); err != nil {
		return RobotConfig{}, err
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = "localhost:8090"
	}
	if cfg.SecurityMode == "" {
		cfg.SecurityMode = string(client.SecurityModeDevelopment)
	}
	if cfg.Variant == "" {
		cfg.Variant = string(pipeline.VariantBase)
	}
	if cfg.FrequencyHz <= 0 {
		cfg.FrequencyHz = 50
	}
	if cfg.OpenLoopHorizon <= 0 {
		cfg.OpenLoopHorizon = 8
	}
	if cfg.Embodiment.GripperThreshold == 0 {
		cfg.Embodiment.GripperThreshold = 0.5
	}
	if err := ValidateRobotConfig(cfg); err != nil {
		return RobotConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("server config missing listen_addr")
	}
	if cfg.Interface.ActionHorizon <= 0 {
		return fmt.Errorf("server config: action_horizon must be positive")
	}
	if cfg.Interface.ActionDim <= 0 {
		return fmt.Errorf("server config: action_dim must be positive")
	}
	if cfg.Interface.StateDim <= 0 {
		return fmt.Errorf("server config: state_dim must be positive")
	}
	if strings.TrimSpace(cfg.Interface.ModelID) == "" {
		return fmt.Errorf("server config: interface missing model_id")
	}
	switch pipeline.Variant(cfg.Variant) {
	case pipeline.VariantBase, pipeline.VariantFast:
	default:
		return fmt.Errorf("server config: unknown variant %q", cfg.Variant)
	}
	if len(cfg.DeltaMask) != 0 && len(cfg.DeltaMask) != cfg.Interface.ActionDim {
		return fmt.Errorf("server config: delta_mask length %d != action_dim %d",
			len(cfg.DeltaMask), cfg.Interface.ActionDim)
	}
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return fmt.Errorf("server config: tls requires cert_file and key_file")
		}
		if cfg.TLS.Mutual && cfg.TLS.CAFile == "" {
			return fmt.Errorf("server config: mutual tls requires ca_file")
		}
	}
	return nil
}

func ValidateRobotConfig(cfg RobotConfig) error {
	if strings.TrimSpace(cfg.ServerAddr) == "" {
		return fmt.Errorf("robot config missing server_addr")
	}
	switch pipeline.Variant(cfg.Variant) {
	case pipeline.VariantBase, pipeline.VariantFast:
	default:
		return fmt.Errorf("robot config: unknown variant %q", cfg.Variant)
	}
	spec := cfg.Embodiment.ToSpec()
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("robot config: %w", err)
	}
	session := cfg.SessionConfig()
	if err := session.ValidateTransport(); err != nil {
		return fmt.Errorf("robot config: %w", err)
	}
	return nil
}

// Interface builds the canonical interface the server declares.
func (c ServerConfig) ToInterface() canonical.Interface {
	return canonical.Interface{
		ActionHorizon: c.Interface.ActionHorizon,
		ActionDim:     c.Interface.ActionDim,
		StateDim:      c.Interface.StateDim,
		CameraSlots:   c.Interface.CameraSlots,
		ModelID:       c.Interface.ModelID,
	}
}

// ServerSpec derives the canonical-identity embodiment the server-side
// pipeline runs against. Delta semantics live here because backward
// re-integration happens on the server.
func (c ServerConfig) ServerSpec() canonical.EmbodimentSpec {
	cameras := make(map[string]string, len(c.Interface.CameraSlots))
	for _, slot := range c.Interface.CameraSlots {
		cameras[slot] = slot
	}
	return canonical.EmbodimentSpec{
		Name:             "canonical",
		StateDim:         c.Interface.StateDim,
		ActionDim:        c.Interface.ActionDim,
		Cameras:          cameras,
		DeltaMask:        c.DeltaMask,
		GripperThreshold: 0.5,
	}
}

func (c ServerConfig) ToServer() server.Config {
	return server.Config{
		ListenAddr:  c.ListenAddr,
		AdminAddr:   c.AdminAddr,
		CorsOrigins: c.CorsOrigins,
		PoolSize:    c.PoolSize,
		TLS: server.TLSConfig{
			Enabled:  c.TLS.Enabled,
			Mutual:   c.TLS.Mutual,
			CertFile: c.TLS.CertFile,
			KeyFile:  c.TLS.KeyFile,
			CAFile:   c.TLS.CAFile,
		},
	}
}

func (c EmbodimentConfig) ToSpec() canonical.EmbodimentSpec {
	return canonical.EmbodimentSpec{
		Name:             c.Name,
		StateDim:         c.StateDim,
		ActionDim:        c.ActionDim,
		Cameras:          c.Cameras,
		DeltaMask:        c.DeltaMask,
		SafeLow:          c.SafeLow,
		SafeHigh:         c.SafeHigh,
		GripperThreshold: c.GripperThreshold,
	}
}

func (c RobotConfig) SessionConfig() client.SessionConfig {
	session := client.SessionConfig{
		ConnectTimeout:   millis(c.ConnectTimeoutMs),
		HandshakeTimeout: millis(c.HandshakeTimeoutMs),
		WriteTimeout:     millis(c.WriteTimeoutMs),
		RequestTimeout:   millis(c.RequestTimeoutMs),
		SecurityMode:     client.SecurityMode(c.SecurityMode),
		TLS: client.TLSConfig{
			Enabled:            c.TLS.Enabled,
			Mutual:             c.TLS.Mutual,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
			ServerName:         c.TLS.ServerName,
			CAFile:             c.TLS.CAFile,
			CertFile:           c.TLS.CertFile,
			KeyFile:            c.TLS.KeyFile,
		},
		Backoff: client.BackoffConfig{
			InitialDelay: millis(c.Backoff.InitialDelayMs),
			Multiplier:   c.Backoff.Multiplier,
			MaxDelay:     millis(c.Backoff.MaxDelayMs),
			Jitter:       c.Backoff.Jitter,
		},
	}
	return session.WithDefaults()
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
