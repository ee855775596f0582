package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic marks the start of every policylink frame ("PLK1").
	Magic   uint32 = 0x504C4B31
	Version uint16 = 1

	FixedHeaderLen uint16 = 32

	FlagIsResponse uint32 = 0x01
	FlagIsError    uint32 = 0x02
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrBadMagic           = errors.New("frame: bad magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrHeaderLenMismatch  = errors.New("frame: unexpected header length")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
)

// Header is the fixed wire header. All fields are big-endian on the
// wire; the layout is frozen at 32 bytes.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use. Observation frames
// carry raw camera bytes, so the payload ceiling is sized for a few
// uncompressed RGB frames per message.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 32 * 1024 * 1024}
}

// ReadFrame reads one complete frame from r. Header validation happens
// before any payload allocation, so a corrupt length field cannot force
// an oversized make.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	switch _, err := io.ReadFull(r, fixed[:]); {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return Frame{}, ErrShortHeader
	default:
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}
	if h.PayloadLen == 0 {
		return Frame{Header: h, Payload: []byte{}}, nil
	}

	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame writes f to w as a single buffer, filling in magic,
// version, and lengths from the payload it was handed.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = uint64(len(f.Payload))

	buf := make([]byte, 0, int(FixedHeaderLen)+len(f.Payload))
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, 0, FixedHeaderLen)
	buf = binary.BigEndian.AppendUint32(buf, h.Magic)
	buf = binary.BigEndian.AppendUint16(buf, h.Version)
	buf = binary.BigEndian.AppendUint16(buf, h.HeaderLen)
	buf = binary.BigEndian.AppendUint64(buf, h.MessageID)
	buf = binary.BigEndian.AppendUint32(buf, h.MessageType)
	buf = binary.BigEndian.AppendUint32(buf, h.Flags)
	buf = binary.BigEndian.AppendUint64(buf, h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	var h Header
	h.Magic = binary.BigEndian.Uint32(b[0:4])
	h.Version = binary.BigEndian.Uint16(b[4:6])
	h.HeaderLen = binary.BigEndian.Uint16(b[6:8])
	h.MessageID = binary.BigEndian.Uint64(b[8:16])
	h.MessageType = binary.BigEndian.Uint32(b[16:20])
	h.Flags = binary.BigEndian.Uint32(b[20:24])
	h.PayloadLen = binary.BigEndian.Uint64(b[24:32])

	switch {
	case h.Magic != Magic:
		return Header{}, ErrBadMagic
	case h.Version != Version:
		return Header{}, ErrUnsupportedVersion
	case h.HeaderLen != FixedHeaderLen:
		return Header{}, ErrHeaderLenMismatch
	}
	return h, nil
}
