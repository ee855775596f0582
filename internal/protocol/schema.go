package protocol

import "fmt"

// Message type IDs.
const (
	MsgObservation uint32 = 1
	MsgActionChunk uint32 = 2
	MsgError       uint32 = 3
)

// Field IDs. Per-slot image and mask fields are addressed by the slot's
// index in the handshake's camera slot order.
const (
	FieldState  uint16 = 1
	FieldPrompt uint16 = 2

	FieldImageBase uint16 = 100
	FieldMaskBase  uint16 = 200

	FieldActions uint16 = 300
	FieldTiming  uint16 = 301

	FieldErrCode    uint16 = 400
	FieldErrMessage uint16 = 401
)

// ImageFieldID returns the field ID carrying the image for slot index i.
func ImageFieldID(i int) uint16 { return FieldImageBase + uint16(i) }

// MaskFieldID returns the field ID carrying the presence mask for slot
// index i.
func MaskFieldID(i int) uint16 { return FieldMaskBase + uint16(i) }

type requirement struct {
	ID   uint16
	Type uint8
}

// ValidationError reports a schema violation on a decoded message.
type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("protocol: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("protocol: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]requirement{
	MsgObservation: {
		{FieldState, TypeF32Slice},
		{FieldPrompt, TypeString},
	},
	MsgActionChunk: {
		{FieldActions, TypeBytes},
	},
	MsgError: {
		{FieldErrCode, TypeU32},
		{FieldErrMessage, TypeString},
	},
}

// ValidateFields enforces required fields and their types for a message
// type. Unknown fields are ignored for forward compatibility.
func ValidateFields(messageType uint32, fields []Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := GetField(fields, req.ID)
		if !found {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
