package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okaneko/policylink/internal/client"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServerConfigTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policyd.toml")
	if err := WriteTemplate(path, "server", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.Interface.ActionHorizon != 50 || cfg.Interface.ModelID != "linear-base" {
		t.Fatalf("template interface: %+v", cfg.Interface)
	}
	iface := cfg.ToInterface()
	if iface.ActionDim != 8 || len(iface.CameraSlots) != 3 {
		t.Fatalf("interface conversion: %+v", iface)
	}
	spec := cfg.ServerSpec()
	if err := spec.Validate(); err != nil {
		t.Fatalf("server spec: %v", err)
	}
	if len(spec.Cameras) != 3 {
		t.Fatalf("server spec cameras: %v", spec.Cameras)
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	path := writeConfig(t, "server.toml", `
[interface]
action_horizon = 16
action_dim = 6
state_dim = 8
model_id = "m"
`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8090" || cfg.AdminAddr != ":8091" || cfg.PoolSize != 1 {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.Variant != "base" {
		t.Fatalf("variant default: %q", cfg.Variant)
	}
	if len(cfg.Interface.CameraSlots) != 3 {
		t.Fatalf("slot default: %v", cfg.Interface.CameraSlots)
	}
}

func TestLoadServerConfigRejectsBadDeltaMask(t *testing.T) {
	path := writeConfig(t, "server.toml", `
delta_mask = [true]

[interface]
action_horizon = 16
action_dim = 6
state_dim = 8
model_id = "m"
`)
	if _, err := LoadServerConfig(path); err == nil || !strings.Contains(err.Error(), "delta_mask") {
		t.Fatalf("expected delta_mask error, got %v", err)
	}
}

func TestLoadRobotConfigTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robot.toml")
	if err := WriteTemplate(path, "robot", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadRobotConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.OpenLoopHorizon != 8 || cfg.FrequencyHz != 50.0 {
		t.Fatalf("template loop config: %+v", cfg)
	}

	spec := cfg.Embodiment.ToSpec()
	if spec.Name != "trossen-bimanual" || spec.ActionDim != 8 {
		t.Fatalf("spec: %+v", spec)
	}
	if spec.Cameras["base_0_rgb"] != "observation.images.cam_high" {
		t.Fatalf("camera mapping: %v", spec.Cameras)
	}

	session := cfg.SessionConfig()
	if session.RequestTimeout != 15*time.Second {
		t.Fatalf("request timeout: %v", session.RequestTimeout)
	}
	if session.SecurityMode != client.SecurityModeDevelopment {
		t.Fatalf("security mode: %v", session.SecurityMode)
	}
	if session.Backoff.Multiplier != 2.0 || session.Backoff.InitialDelay != 250*time.Millisecond {
		t.Fatalf("backoff: %+v", session.Backoff)
	}
}

func TestLoadRobotConfigRejectsBadEmbodiment(t *testing.T) {
	path := writeConfig(t, "robot.toml", `
server_addr = "localhost:8090"

[embodiment]
name = "arm"
state_dim = 0
action_dim = 3
`)
	if _, err := LoadRobotConfig(path); err == nil {
		t.Fatal("expected embodiment validation error")
	}
}

func TestLoadRobotConfigProductionRequiresMTLS(t *testing.T) {
	path := writeConfig(t, "robot.toml", `
server_addr = "localhost:8090"
security_mode = "production"

[embodiment]
name = "arm"
state_dim = 3
action_dim = 3
`)
	if _, err := LoadRobotConfig(path); err == nil {
		t.Fatal("expected transport validation error")
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robot.toml")
	if err := WriteTemplate(path, "robot", false); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteTemplate(path, "robot", false); err == nil {
		t.Fatal("expected overwrite refusal")
	}
	if err := WriteTemplate(path, "robot", true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
}

func TestTemplateUnknownKind(t *testing.T) {
	if _, err := Template("ghost"); err == nil {
		t.Fatal("expected unknown kind error")
	}
}
