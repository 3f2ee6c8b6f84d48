package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic          uint32 = 0x6D706931 // "mpi1"
	Version        uint16 = 1
	FixedHeaderLen uint16 = 32

	FlagHasAuth uint8 = 0x01
	FlagIsAck   uint8 = 0x02
	FlagIsError uint8 = 0x04
)

var (
	ErrShortHeader       = errors.New("frame: short fixed header")
	ErrInvalidMagic      = errors.New("frame: invalid magic")
	ErrUnsupported       = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall = errors.New("frame: header_len smaller than fixed header")
	ErrHeaderLenMismatch = errors.New("frame: auth present but header_len has no auth bytes")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
	ErrAuthTooLarge      = errors.New("frame: auth too large")
)

// Header is the fixed 32-byte wire header. Data frames use the routing
// fields (Context, Source, Tag, Datatype, Count); handshake frames leave them
// zero and carry TLV payloads.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageType uint16
	Datatype    uint8
	Flags       uint8
	Context     uint32
	Source      int32
	Tag         int32
	Count       uint32
	PayloadLen  uint32
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Auth    []byte
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxAuthBytes    uint32
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxAuthBytes:    4 * 1024,
		MaxPayloadBytes: 64 * 1024 * 1024,
	}
}

// ReadFrame reads one frame. A stream that ends cleanly before the first
// header byte returns io.EOF; any other short read is ErrShortHeader.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupported, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}

	authLen := uint32(h.HeaderLen - FixedHeaderLen)
	if h.Flags&FlagHasAuth != 0 && authLen == 0 {
		return Frame{}, ErrHeaderLenMismatch
	}
	if authLen > limits.MaxAuthBytes {
		return Frame{}, ErrAuthTooLarge
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	var auth []byte
	if authLen > 0 {
		auth = make([]byte, authLen)
		if _, err := io.ReadFull(r, auth); err != nil {
			return Frame{}, err
		}
	}

	var payload []byte
	if h.PayloadLen > 0 {
		payload = make([]byte, h.PayloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{Header: h, Auth: auth, Payload: payload}, nil
}

// WriteFrame fills in magic, version and lengths, then writes f as a single
// buffer so concurrent writers serialized by the caller never interleave.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	buf, err := AppendFrame(nil, f, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// AppendFrame appends the encoded frame to dst.
func AppendFrame(dst []byte, f Frame, limits Limits) ([]byte, error) {
	if uint64(len(f.Auth)) > uint64(limits.MaxAuthBytes) {
		return nil, ErrAuthTooLarge
	}
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return nil, ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen + uint16(len(f.Auth))
	h.PayloadLen = uint32(len(f.Payload))
	if len(f.Auth) > 0 {
		h.Flags |= FlagHasAuth
	} else {
		h.Flags &^= FlagHasAuth
	}

	dst = append(dst, EncodeHeader(h)...)
	dst = append(dst, f.Auth...)
	dst = append(dst, f.Payload...)
	return dst, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint16(buf[8:10], h.MessageType)
	buf[10] = h.Datatype
	buf[11] = h.Flags
	binary.BigEndian.PutUint32(buf[12:16], h.Context)
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.Source))
	binary.BigEndian.PutUint32(buf[20:24], uint32(h.Tag))
	binary.BigEndian.PutUint32(buf[24:28], h.Count)
	binary.BigEndian.PutUint32(buf[28:32], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageType: binary.BigEndian.Uint16(b[8:10]),
		Datatype:    b[10],
		Flags:       b[11],
		Context:     binary.BigEndian.Uint32(b[12:16]),
		Source:      int32(binary.BigEndian.Uint32(b[16:20])),
		Tag:         int32(binary.BigEndian.Uint32(b[20:24])),
		Count:       binary.BigEndian.Uint32(b[24:28]),
		PayloadLen:  binary.BigEndian.Uint32(b[28:32]),
	}, nil
}
