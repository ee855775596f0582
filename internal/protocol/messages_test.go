package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/protocol/frame"
)

func readFrame(t *testing.T, buf []byte) frame.Frame {
	t.Helper()
	f, err := frame.ReadFrame(bytes.NewReader(buf), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func testImage(h, w int, fill uint8) canonical.Image {
	img := canonical.ZeroImage(h, w)
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	return img
}

func TestObservationFrameRoundTrip(t *testing.T) {
	slots := []string{"main", "wrist"}
	obs := canonical.Observation{
		State: []float32{0.1, -0.2, 0.3},
		Images: map[string]canonical.Image{
			"main":  testImage(4, 6, 9),
			"wrist": testImage(4, 6, 17),
		},
		ImageMask: map[string]bool{"main": true, "wrist": true},
		Prompt:    "fold the towel",
	}

	buf, err := EncodeObservationFrame(11, obs, slots)
	if err != nil {
		t.Fatalf("encode observation: %v", err)
	}
	out, err := DecodeObservationFrame(readFrame(t, buf), slots)
	if err != nil {
		t.Fatalf("decode observation: %v", err)
	}

	if out.Prompt != obs.Prompt {
		t.Fatalf("prompt mismatch: %q", out.Prompt)
	}
	if len(out.State) != 3 || out.State[1] != -0.2 {
		t.Fatalf("state mismatch: %v", out.State)
	}
	for _, slot := range slots {
		if !out.ImageMask[slot] {
			t.Fatalf("slot %q lost its mask", slot)
		}
		img := out.Images[slot]
		if img.H != 4 || img.W != 6 {
			t.Fatalf("slot %q image size %dx%d", slot, img.H, img.W)
		}
	}
	if out.Images["wrist"].Pix[0] != 17 {
		t.Fatalf("wrist pixels mismatch: %d", out.Images["wrist"].Pix[0])
	}
}

func TestObservationFrameOmittedSlotIsZeroFilled(t *testing.T) {
	slots := []string{"main", "wrist"}
	obs := canonical.Observation{
		State:     []float32{1, 2},
		Images:    map[string]canonical.Image{"main": testImage(4, 4, 200)},
		ImageMask: map[string]bool{"main": true},
		Prompt:    "wipe the table",
	}

	buf, err := EncodeObservationFrame(5, obs, slots)
	if err != nil {
		t.Fatalf("encode observation: %v", err)
	}
	out, err := DecodeObservationFrame(readFrame(t, buf), slots)
	if err != nil {
		t.Fatalf("decode observation: %v", err)
	}

	wrist, ok := out.Images["wrist"]
	if !ok {
		t.Fatal("omitted slot missing from decoded observation")
	}
	if out.ImageMask["wrist"] {
		t.Fatal("omitted slot must decode with mask=false")
	}
	if wrist.H != 4 || wrist.W != 4 {
		t.Fatalf("omitted slot should match populated size, got %dx%d", wrist.H, wrist.W)
	}
	for i, p := range wrist.Pix {
		if p != 0 {
			t.Fatalf("omitted slot pixel %d is %d, want 0", i, p)
		}
	}
}

func TestDecodeObservationMissingState(t *testing.T) {
	payload := EncodeFields([]Field{NewFieldString(FieldPrompt, "no state")})
	f := frame.Frame{
		Header:  frame.Header{MessageType: MsgObservation, MessageID: 1},
		Payload: payload,
	}
	_, err := DecodeObservationFrame(f, []string{"main"})
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.FieldID != FieldState {
		t.Fatalf("expected state field violation, got field %d", verr.FieldID)
	}
}

func TestActionChunkFrameRoundTrip(t *testing.T) {
	chunk := canonical.ActionChunk{
		{0.5, -0.5, 1.0},
		{0.25, 0.75, -1.0},
	}
	timing := map[string]float64{"infer_ms": 12.5}

	buf, err := EncodeActionChunkFrame(99, chunk, timing)
	if err != nil {
		t.Fatalf("encode chunk: %v", err)
	}
	f := readFrame(t, buf)
	if f.Header.Flags&frame.FlagIsResponse == 0 {
		t.Fatal("response flag not set")
	}

	out, outTiming, err := DecodeActionChunkFrame(f)
	if err != nil {
		t.Fatalf("decode chunk: %v", err)
	}
	if len(out) != 2 || len(out[0]) != 3 {
		t.Fatalf("chunk shape: %dx%d", len(out), len(out[0]))
	}
	if out[1][2] != -1.0 {
		t.Fatalf("chunk value mismatch: %v", out[1])
	}
	if outTiming["infer_ms"] != 12.5 {
		t.Fatalf("timing mismatch: %v", outTiming)
	}
}

func TestActionChunkFrameWithoutTiming(t *testing.T) {
	buf, err := EncodeActionChunkFrame(1, canonical.ActionChunk{{1}}, nil)
	if err != nil {
		t.Fatalf("encode chunk: %v", err)
	}
	_, timing, err := DecodeActionChunkFrame(readFrame(t, buf))
	if err != nil {
		t.Fatalf("decode chunk: %v", err)
	}
	if timing != nil {
		t.Fatalf("expected nil timing, got %v", timing)
	}
}

func TestEncodeActionChunkRejectsRagged(t *testing.T) {
	_, err := EncodeActionChunkFrame(1, canonical.ActionChunk{{1, 2}, {3}}, nil)
	if !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestDecodeActionsRejectsOverflowingDimensions(t *testing.T) {
	// rows = cols = 2^31 makes 4*rows*cols wrap to zero in fixed-width
	// arithmetic; the 8-byte header alone must never validate, let alone
	// drive the allocation of a multi-gigabyte chunk.
	forged := make([]byte, 8)
	binary.BigEndian.PutUint32(forged[0:4], 1<<31)
	binary.BigEndian.PutUint32(forged[4:8], 1<<31)
	if _, err := decodeActions(forged); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}

	// Same dimensions with a token body: the element count must come
	// from the bytes actually present.
	forged = append(forged, 0, 0, 0, 0)
	if _, err := decodeActions(forged); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength with body, got %v", err)
	}
}

func TestDecodeImageRejectsOverflowingDimensions(t *testing.T) {
	forged := make([]byte, 8+3)
	binary.BigEndian.PutUint32(forged[0:4], 0xFFFFFFFF)
	binary.BigEndian.PutUint32(forged[4:8], 0xFFFFFFFF)
	if _, err := decodeImage(forged); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}

	// Zero-sized dimensions never appear on the wire; a header claiming
	// them must be rejected rather than decoded as an empty image.
	empty := make([]byte, 8)
	binary.BigEndian.PutUint32(empty[0:4], 1<<31)
	if _, err := decodeImage(empty); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength for zero width, got %v", err)
	}
}

func TestErrorFrameRoundTrip(t *testing.T) {
	in := &ProtocolError{Code: CodeShapeMismatch, Message: "state has 4 dims, want 8"}
	buf, err := EncodeErrorFrame(3, in)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	f := readFrame(t, buf)
	if f.Header.Flags&frame.FlagIsError == 0 {
		t.Fatal("error flag not set")
	}
	out, err := DecodeErrorFrame(f)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if out.Code != CodeShapeMismatch || out.Message != in.Message {
		t.Fatalf("error mismatch: %+v", out)
	}
}
