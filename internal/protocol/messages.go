package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/protocol/frame"
)

// DefaultImageHW is the fallback frame size for zero-filled slots when
// no populated image is available to size them from.
const DefaultImageHW = 224

// EncodeObservationFrame serializes one canonical observation for the
// handshake's slot order. Every slot is emitted: slots the observation
// does not populate are written as a zero image with mask=false, never
// omitted.
func EncodeObservationFrame(messageID uint64, obs canonical.Observation, slots []string) ([]byte, error) {
	fields := []Field{
		NewFieldF32Slice(FieldState, obs.State),
		NewFieldString(FieldPrompt, obs.Prompt),
	}

	h, w := fillSize(obs)
	for i, slot := range slots {
		img, ok := obs.Images[slot]
		masked := ok && obs.ImageMask[slot]
		if !ok {
			img = canonical.ZeroImage(h, w)
		}
		if !img.Valid() {
			return nil, fmt.Errorf("%w: image for slot %q", ErrInvalidLength, slot)
		}
		fields = append(fields,
			Field{ID: ImageFieldID(i), Type: TypeBytes, Value: encodeImage(img)},
			NewFieldBool(MaskFieldID(i), masked),
		)
	}

	return encodeFrame(messageID, MsgObservation, 0, fields)
}

// DecodeObservationFrame parses an observation request. Absent per-slot
// fields are normalized to a masked-false zero image so downstream code
// always sees every canonical slot.
func DecodeObservationFrame(f frame.Frame, slots []string) (canonical.Observation, error) {
	if f.Header.MessageType != MsgObservation {
		return canonical.Observation{}, ErrUnknownMessage
	}
	fields, err := DecodeFields(f.Payload)
	if err != nil {
		return canonical.Observation{}, err
	}
	if err := ValidateFields(MsgObservation, fields); err != nil {
		return canonical.Observation{}, err
	}

	obs := canonical.Observation{
		Images:    make(map[string]canonical.Image, len(slots)),
		ImageMask: make(map[string]bool, len(slots)),
	}
	stateField, _ := GetField(fields, FieldState)
	if obs.State, err = stateField.F32Slice(); err != nil {
		return canonical.Observation{}, err
	}
	promptField, _ := GetField(fields, FieldPrompt)
	if obs.Prompt, err = promptField.String(); err != nil {
		return canonical.Observation{}, err
	}

	h, w := DefaultImageHW, DefaultImageHW
	for i, slot := range slots {
		imgField, haveImg := GetField(fields, ImageFieldID(i))
		maskField, haveMask := GetField(fields, MaskFieldID(i))
		if !haveImg {
			obs.Images[slot] = canonical.ZeroImage(h, w)
			obs.ImageMask[slot] = false
			continue
		}
		img, err := decodeImage(imgField.Value)
		if err != nil {
			return canonical.Observation{}, fmt.Errorf("slot %q: %w", slot, err)
		}
		h, w = img.H, img.W
		obs.Images[slot] = img
		masked := false
		if haveMask {
			if masked, err = maskField.Bool(); err != nil {
				return canonical.Observation{}, err
			}
		}
		obs.ImageMask[slot] = masked
	}
	return obs, nil
}

// EncodeActionChunkFrame serializes a model response. The optional
// timing map carries diagnostic durations in milliseconds.
func EncodeActionChunkFrame(messageID uint64, chunk canonical.ActionChunk, timing map[string]float64) ([]byte, error) {
	actions, err := encodeActions(chunk)
	if err != nil {
		return nil, err
	}
	fields := []Field{{ID: FieldActions, Type: TypeBytes, Value: actions}}
	if len(timing) > 0 {
		raw, err := json.Marshal(timing)
		if err != nil {
			return nil, err
		}
		fields = append(fields, NewFieldBytes(FieldTiming, raw))
	}
	return encodeFrame(messageID, MsgActionChunk, frame.FlagIsResponse, fields)
}

// DecodeActionChunkFrame parses a response. The timing map is nil when
// the server sent no diagnostics; callers may ignore it.
func DecodeActionChunkFrame(f frame.Frame) (canonical.ActionChunk, map[string]float64, error) {
	if f.Header.MessageType != MsgActionChunk {
		return nil, nil, ErrUnknownMessage
	}
	fields, err := DecodeFields(f.Payload)
	if err != nil {
		return nil, nil, err
	}
	if err := ValidateFields(MsgActionChunk, fields); err != nil {
		return nil, nil, err
	}
	actionsField, _ := GetField(fields, FieldActions)
	chunk, err := decodeActions(actionsField.Value)
	if err != nil {
		return nil, nil, err
	}
	var timing map[string]float64
	if tf, ok := GetField(fields, FieldTiming); ok {
		if err := json.Unmarshal(tf.Value, &timing); err != nil {
			return nil, nil, fmt.Errorf("protocol: bad timing field: %w", err)
		}
	}
	return chunk, timing, nil
}

// EncodeErrorFrame serializes a structured error response.
func EncodeErrorFrame(messageID uint64, perr *ProtocolError) ([]byte, error) {
	fields := []Field{
		NewFieldUint32(FieldErrCode, uint32(perr.Code)),
		NewFieldString(FieldErrMessage, perr.Message),
	}
	return encodeFrame(messageID, MsgError, frame.FlagIsResponse|frame.FlagIsError, fields)
}

// DecodeErrorFrame parses a structured error response.
func DecodeErrorFrame(f frame.Frame) (*ProtocolError, error) {
	if f.Header.MessageType != MsgError {
		return nil, ErrUnknownMessage
	}
	fields, err := DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := ValidateFields(MsgError, fields); err != nil {
		return nil, err
	}
	codeField, _ := GetField(fields, FieldErrCode)
	code, err := codeField.Uint32()
	if err != nil {
		return nil, err
	}
	msgField, _ := GetField(fields, FieldErrMessage)
	msg, err := msgField.String()
	if err != nil {
		return nil, err
	}
	return &ProtocolError{Code: ErrorCode(code), Message: msg}, nil
}

func encodeFrame(messageID uint64, messageType, flags uint32, fields []Field) ([]byte, error) {
	if err := ValidateFields(messageType, fields); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: messageType,
			Flags:       flags,
		},
		Payload: EncodeFields(fields),
	}, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Image field layout: u32 height, u32 width, raw HWC RGB bytes.
func encodeImage(img canonical.Image) []byte {
	out := make([]byte, 8+len(img.Pix))
	binary.BigEndian.PutUint32(out[0:4], uint32(img.H))
	binary.BigEndian.PutUint32(out[4:8], uint32(img.W))
	copy(out[8:], img.Pix)
	return out
}

func decodeImage(b []byte) (canonical.Image, error) {
	if len(b) < 8 {
		return canonical.Image{}, ErrTruncated
	}
	h := uint64(binary.BigEndian.Uint32(b[0:4]))
	w := uint64(binary.BigEndian.Uint32(b[4:8]))
	// Dimensions are validated against the bytes actually present, in
	// width-safe arithmetic: h*w cannot wrap for two u32 inputs, and the
	// pixel count is derived from the payload rather than the header.
	pix := uint64(len(b) - 8)
	if h == 0 || w == 0 || pix%3 != 0 || h*w != pix/3 {
		return canonical.Image{}, ErrInvalidLength
	}
	out := make([]uint8, pix)
	copy(out, b[8:])
	return canonical.Image{H: int(h), W: int(w), Pix: out}, nil
}

// Actions field layout: u32 rows, u32 cols, rows*cols f32 bits.
func encodeActions(chunk canonical.ActionChunk) ([]byte, error) {
	rows := len(chunk)
	if rows == 0 {
		return nil, fmt.Errorf("%w: empty action chunk", ErrInvalidLength)
	}
	cols := len(chunk[0])
	out := make([]byte, 8+4*rows*cols)
	binary.BigEndian.PutUint32(out[0:4], uint32(rows))
	binary.BigEndian.PutUint32(out[4:8], uint32(cols))
	off := 8
	for _, row := range chunk {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: ragged action chunk", ErrInvalidLength)
		}
		for _, v := range row {
			binary.BigEndian.PutUint32(out[off:], math.Float32bits(v))
			off += 4
		}
	}
	return out, nil
}

func decodeActions(b []byte) (canonical.ActionChunk, error) {
	if len(b) < 8 {
		return nil, ErrTruncated
	}
	rows := uint64(binary.BigEndian.Uint32(b[0:4]))
	cols := uint64(binary.BigEndian.Uint32(b[4:8]))
	// Same width-safe validation as decodeImage: rows*cols cannot wrap
	// for two u32 inputs, and the element count comes from the payload,
	// so a forged header can never pass the check and force a huge
	// allocation.
	body := uint64(len(b) - 8)
	if rows == 0 || cols == 0 || body%4 != 0 || rows*cols != body/4 {
		return nil, ErrInvalidLength
	}
	chunk := make(canonical.ActionChunk, rows)
	off := 8
	for i := range chunk {
		row := make([]float32, cols)
		for j := range row {
			row[j] = math.Float32frombits(binary.BigEndian.Uint32(b[off:]))
			off += 4
		}
		chunk[i] = row
	}
	return chunk, nil
}

func fillSize(obs canonical.Observation) (int, int) {
	for _, img := range obs.Images {
		if img.Valid() {
			return img.H, img.W
		}
	}
	return DefaultImageHW, DefaultImageHW
}
