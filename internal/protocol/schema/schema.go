package schema

import (
	"fmt"

	"github.com/danmuck/groupcomm/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs carried in frame.Header.MessageType.
const (
	MsgHello    uint16 = 1
	MsgHelloAck uint16 = 2
	MsgData     uint16 = 3
)

// Field IDs for handshake payloads.
const (
	FieldGroupID uint16 = 1
	FieldRank    uint16 = 2
	FieldSize    uint16 = 3

	FieldStatus  uint16 = 100
	FieldCode    uint16 = 101
	FieldMessage uint16 = 102
)

const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint16
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

// Data frames carry raw element bytes and have no TLV requirements.
var requirements = map[uint16][]Requirement{
	MsgHello: {
		{FieldGroupID, tlv.TypeString},
		{FieldRank, tlv.TypeU32},
		{FieldSize, tlv.TypeU32},
	},
	MsgHelloAck: {
		{FieldGroupID, tlv.TypeString},
		{FieldRank, tlv.TypeU32},
		{FieldSize, tlv.TypeU32},
		{FieldStatus, tlv.TypeString},
	},
	MsgData: {},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint16, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint16("message_type", messageType).Msg("schema: unknown message type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Uint16("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema: missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint16("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema: type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Debug().Uint16("message_type", messageType).Int("fields", len(fields)).Msg("schema: ok")
	return nil
}
