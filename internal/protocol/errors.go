package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated         = errors.New("protocol: truncated data")
	ErrInvalidLength     = errors.New("protocol: invalid length")
	ErrFieldTypeMismatch = errors.New("protocol: field type mismatch")
	ErrUnknownMessage    = errors.New("protocol: unknown message type")
	ErrInvalidHandshake  = errors.New("protocol: invalid handshake")
)

// ErrorCode classifies a structured server-side request failure.
type ErrorCode uint32

const (
	CodeShapeMismatch ErrorCode = 1
	CodeMissingField  ErrorCode = 2
	CodeModelError    ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case CodeShapeMismatch:
		return "SHAPE_MISMATCH"
	case CodeMissingField:
		return "MISSING_FIELD"
	case CodeModelError:
		return "MODEL_ERROR"
	default:
		return fmt.Sprintf("CODE_%d", uint32(c))
	}
}

// ProtocolError is the structured error a server returns in place of an
// action chunk. The connection stays open; the caller decides whether to
// correct and retry or abort.
type ProtocolError struct {
	Code    ErrorCode
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %s", e.Code, e.Message)
}

// MissingFieldError indicates a required raw observation key or wire
// field was absent.
type MissingFieldError struct {
	Key string
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("protocol: missing required field %q", e.Key)
}
