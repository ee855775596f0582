package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/okaneko/policylink/internal/canonical"
)

const (
	controlTypeHandshake = "policy.handshake"

	maxControlLineBytes = 128 * 1024
)

// Handshake is the server->client connect-time envelope declaring the
// canonical interface. It is sent exactly once, before any framed
// message, as one newline-delimited JSON object.
type Handshake struct {
	ActionHorizon uint32   `json:"action_horizon"`
	ActionDim     uint32   `json:"action_dim"`
	StateDim      uint32   `json:"state_dim"`
	CameraSlots   []string `json:"camera_slots"`
	ModelID       string   `json:"model_id"`
}

func (h Handshake) Validate() error {
	if h.ActionHorizon == 0 {
		return fmt.Errorf("%w: zero action_horizon", ErrInvalidHandshake)
	}
	if h.ActionDim == 0 {
		return fmt.Errorf("%w: zero action_dim", ErrInvalidHandshake)
	}
	if h.StateDim == 0 {
		return fmt.Errorf("%w: zero state_dim", ErrInvalidHandshake)
	}
	if len(h.CameraSlots) == 0 {
		return fmt.Errorf("%w: no camera slots", ErrInvalidHandshake)
	}
	seen := make(map[string]struct{}, len(h.CameraSlots))
	for _, slot := range h.CameraSlots {
		if strings.TrimSpace(slot) == "" {
			return fmt.Errorf("%w: empty camera slot", ErrInvalidHandshake)
		}
		if _, dup := seen[slot]; dup {
			return fmt.Errorf("%w: duplicate camera slot %q", ErrInvalidHandshake, slot)
		}
		seen[slot] = struct{}{}
	}
	if strings.TrimSpace(h.ModelID) == "" {
		return fmt.Errorf("%w: missing model_id", ErrInvalidHandshake)
	}
	return nil
}

// Interface converts the wire envelope into the canonical interface.
func (h Handshake) Interface() canonical.Interface {
	return canonical.Interface{
		ActionHorizon: int(h.ActionHorizon),
		ActionDim:     int(h.ActionDim),
		StateDim:      int(h.StateDim),
		CameraSlots:   append([]string(nil), h.CameraSlots...),
		ModelID:       h.ModelID,
	}
}

// HandshakeFromInterface builds the wire envelope from a canonical
// interface.
func HandshakeFromInterface(iface canonical.Interface) Handshake {
	return Handshake{
		ActionHorizon: uint32(iface.ActionHorizon),
		ActionDim:     uint32(iface.ActionDim),
		StateDim:      uint32(iface.StateDim),
		CameraSlots:   append([]string(nil), iface.CameraSlots...),
		ModelID:       iface.ModelID,
	}
}

type controlEnvelope struct {
	Type      string     `json:"type"`
	Handshake *Handshake `json:"handshake,omitempty"`
}

// WriteHandshake writes the handshake envelope followed by a newline.
func WriteHandshake(w io.Writer, hs Handshake) error {
	if err := hs.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(controlEnvelope{Type: controlTypeHandshake, Handshake: &hs})
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}

// ReadHandshake reads and validates one handshake envelope.
func ReadHandshake(r *bufio.Reader) (Handshake, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return Handshake{}, err
	}
	if len(line) > maxControlLineBytes {
		return Handshake{}, fmt.Errorf("%w: control line too large", ErrInvalidHandshake)
	}
	var env controlEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if env.Type != controlTypeHandshake || env.Handshake == nil {
		return Handshake{}, fmt.Errorf("%w: unexpected control type %q", ErrInvalidHandshake, env.Type)
	}
	if err := env.Handshake.Validate(); err != nil {
		return Handshake{}, err
	}
	return *env.Handshake, nil
}
