package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "robot":
		return robotTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `listen_addr = ":8090"
admin_addr = ":8091"
cors_origins = ["http://localhost:3000"]
pool_size = 1
variant = "base"
delta_mask = [true, true, true, true, true, true, true, false]
checkpoint_dir = "./checkpoints/target.json"
pretrained = "./checkpoints/pretrained.json"

[interface]
action_horizon = 50
action_dim = 8
state_dim = 8
camera_slots = ["base_0_rgb", "left_wrist_0_rgb", "right_wrist_0_rgb"]
model_id = "linear-base"

[tls]
enabled = false
`

const robotTemplate = `server_addr = "localhost:8090"
security_mode = "development"
max_connect_attempts = 5
variant = "base"

connect_timeout_ms = 5000
handshake_timeout_ms = 5000
write_timeout_ms = 10000
request_timeout_ms = 15000

frequency_hz = 50.0
open_loop_horizon = 8
max_ticks = 0
log_capacity = 256

[backoff]
initial_delay_ms = 250
multiplier = 2.0
max_delay_ms = 5000
jitter = true

[embodiment]
name = "trossen-bimanual"
state_dim = 8
action_dim = 8
delta_mask = [true, true, true, true, true, true, true, false]
safe_low = [-1.0, -1.0, -1.0, -1.0, -1.0, -1.0, -1.0, 0.0]
safe_high = [1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0]
gripper_threshold = 0.5

[embodiment.cameras]
base_0_rgb = "observation.images.cam_high"
left_wrist_0_rgb = "observation.images.cam_left_wrist"

[tls]
enabled = false
`
