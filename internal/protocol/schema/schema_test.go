package schema

import (
	"testing"

	"github.com/danmuck/groupcomm/internal/protocol/tlv"
	"github.com/danmuck/groupcomm/internal/testutil/testlog"
)

func helloFields() []tlv.Field {
	return []tlv.Field{
		tlv.String(FieldGroupID, "ring"),
		tlv.U32(FieldRank, 1),
		tlv.U32(FieldSize, 4),
	}
}

func TestValidateHelloRequiredFields(t *testing.T) {
	testlog.Start(t)
	if err := Validate(MsgHello, helloFields()); err != nil {
		t.Fatalf("validate hello: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := append(helloFields(), tlv.Field{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}})
	if err := Validate(MsgHello, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(MsgHelloAck, helloFields())
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldStatus || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.String(FieldGroupID, "ring"),
		tlv.String(FieldRank, "1"),
		tlv.U32(FieldSize, 4),
	}
	err := Validate(MsgHello, fields)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldRank || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	err := Validate(99, nil)
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateDataHasNoRequirements(t *testing.T) {
	testlog.Start(t)
	if err := Validate(MsgData, nil); err != nil {
		t.Fatalf("validate data: %v", err)
	}
}
