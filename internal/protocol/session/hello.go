package session

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/groupcomm/internal/protocol/frame"
	"github.com/danmuck/groupcomm/internal/protocol/schema"
	"github.com/danmuck/groupcomm/internal/protocol/tlv"
)

var (
	ErrInvalidHello    = errors.New("session: invalid hello")
	ErrInvalidHelloAck = errors.New("session: invalid hello ack")
	ErrHelloRejected   = errors.New("session: hello rejected")
)

// Hello is the dialer->acceptor session-start message. Token travels in the
// frame auth block, never in the payload.
type Hello struct {
	GroupID string
	Rank    int
	Size    int
	Token   string
}

func (h Hello) Validate() error {
	if strings.TrimSpace(h.GroupID) == "" {
		return fmt.Errorf("%w: missing group_id", ErrInvalidHello)
	}
	if h.Size <= 0 {
		return fmt.Errorf("%w: size %d", ErrInvalidHello, h.Size)
	}
	if h.Rank < 0 || h.Rank >= h.Size {
		return fmt.Errorf("%w: rank %d outside size %d", ErrInvalidHello, h.Rank, h.Size)
	}
	return nil
}

// HelloAck is the acceptor->dialer response.
type HelloAck struct {
	GroupID string
	Rank    int
	Size    int
	Status  string
	Code    uint32
	Message string
}

func (a HelloAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != schema.StatusAccepted && status != schema.StatusRejected {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidHelloAck, a.Status)
	}
	if strings.TrimSpace(a.GroupID) == "" {
		return fmt.Errorf("%w: missing group_id", ErrInvalidHelloAck)
	}
	return nil
}

func (a HelloAck) Accepted() bool {
	return a.Status == schema.StatusAccepted
}

// Err reports a rejected ack as ErrHelloRejected.
func (a HelloAck) Err() error {
	if a.Accepted() {
		return nil
	}
	return fmt.Errorf("%w: code=%d %s", ErrHelloRejected, a.Code, a.Message)
}

func WriteHello(w io.Writer, h Hello, limits frame.Limits) error {
	if err := h.Validate(); err != nil {
		return err
	}
	payload := tlv.EncodeFields([]tlv.Field{
		tlv.String(schema.FieldGroupID, h.GroupID),
		tlv.U32(schema.FieldRank, uint32(h.Rank)),
		tlv.U32(schema.FieldSize, uint32(h.Size)),
	})
	return frame.WriteFrame(w, frame.Frame{
		Header:  frame.Header{MessageType: schema.MsgHello},
		Auth:    []byte(h.Token),
		Payload: payload,
	}, limits)
}

func ReadHello(r io.Reader, limits frame.Limits) (Hello, error) {
	fields, fr, err := readHandshake(r, limits, schema.MsgHello, ErrInvalidHello)
	if err != nil {
		return Hello{}, err
	}
	groupID, _ := tlv.StringField(fields, schema.FieldGroupID)
	rank, _ := tlv.U32Field(fields, schema.FieldRank)
	size, _ := tlv.U32Field(fields, schema.FieldSize)
	h := Hello{
		GroupID: groupID,
		Rank:    int(rank),
		Size:    int(size),
		Token:   string(fr.Auth),
	}
	if err := h.Validate(); err != nil {
		return Hello{}, err
	}
	return h, nil
}

func WriteHelloAck(w io.Writer, a HelloAck, limits frame.Limits) error {
	if err := a.Validate(); err != nil {
		return err
	}
	fields := []tlv.Field{
		tlv.String(schema.FieldGroupID, a.GroupID),
		tlv.U32(schema.FieldRank, uint32(a.Rank)),
		tlv.U32(schema.FieldSize, uint32(a.Size)),
		tlv.String(schema.FieldStatus, a.Status),
	}
	flags := frame.FlagIsAck
	if !a.Accepted() {
		flags |= frame.FlagIsError
		fields = append(fields,
			tlv.U32(schema.FieldCode, a.Code),
			tlv.String(schema.FieldMessage, a.Message),
		)
	}
	return frame.WriteFrame(w, frame.Frame{
		Header:  frame.Header{MessageType: schema.MsgHelloAck, Flags: flags},
		Payload: tlv.EncodeFields(fields),
	}, limits)
}

func ReadHelloAck(r io.Reader, limits frame.Limits) (HelloAck, error) {
	fields, _, err := readHandshake(r, limits, schema.MsgHelloAck, ErrInvalidHelloAck)
	if err != nil {
		return HelloAck{}, err
	}
	a := HelloAck{}
	a.GroupID, _ = tlv.StringField(fields, schema.FieldGroupID)
	a.Status, _ = tlv.StringField(fields, schema.FieldStatus)
	a.Message, _ = tlv.StringField(fields, schema.FieldMessage)
	a.Code, _ = tlv.U32Field(fields, schema.FieldCode)
	rank, _ := tlv.U32Field(fields, schema.FieldRank)
	size, _ := tlv.U32Field(fields, schema.FieldSize)
	a.Rank = int(rank)
	a.Size = int(size)
	if err := a.Validate(); err != nil {
		return HelloAck{}, err
	}
	return a, nil
}

func readHandshake(r io.Reader, limits frame.Limits, want uint16, invalid error) ([]tlv.Field, frame.Frame, error) {
	fr, err := frame.ReadFrame(r, limits)
	if err != nil {
		return nil, frame.Frame{}, err
	}
	if fr.Header.MessageType != want {
		return nil, frame.Frame{}, fmt.Errorf("%w: unexpected message_type %d", invalid, fr.Header.MessageType)
	}
	fields, err := tlv.DecodeFields(fr.Payload)
	if err != nil {
		return nil, frame.Frame{}, fmt.Errorf("%w: %v", invalid, err)
	}
	if err := schema.Validate(want, fields); err != nil {
		return nil, frame.Frame{}, fmt.Errorf("%w: %v", invalid, err)
	}
	return fields, fr, nil
}
