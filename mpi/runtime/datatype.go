package runtime

import (
	"encoding/binary"
	"math"
)

// Datatype is the wire tag for one scalar element type.
type Datatype uint8

const (
	DatatypeInvalid Datatype = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
)

var datatypeInfo = [...]struct {
	name string
	size int
}{
	DatatypeInvalid: {"invalid", 0},
	Int8:            {"int8", 1},
	Int16:           {"int16", 2},
	Int32:           {"int32", 4},
	Int64:           {"int64", 8},
	Uint8:           {"uint8", 1},
	Uint16:          {"uint16", 2},
	Uint32:          {"uint32", 4},
	Uint64:          {"uint64", 8},
	Float32:         {"float32", 4},
	Float64:         {"float64", 8},
}

// Valid reports whether d is a known element type.
func (d Datatype) Valid() bool {
	return d > DatatypeInvalid && int(d) < len(datatypeInfo)
}

// Size is the encoded element width in bytes, 0 for invalid tags.
func (d Datatype) Size() int {
	if !d.Valid() {
		return 0
	}
	return datatypeInfo[d].size
}

func (d Datatype) String() string {
	if !d.Valid() {
		return "invalid"
	}
	return datatypeInfo[d].name
}

// Number is the set of Go types a Datatype can carry.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint | ~uintptr |
		~float32 | ~float64
}

// PutValue encodes v as one dt element into b. b must hold dt.Size() bytes.
func PutValue[T Number](dt Datatype, b []byte, v T) {
	switch dt {
	case Int8:
		b[0] = byte(int8(v))
	case Uint8:
		b[0] = uint8(v)
	case Int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case Uint16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case Uint32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case Int64:
		binary.LittleEndian.PutUint64(b, uint64(int64(v)))
	case Uint64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(float64(v)))
	}
}

// Value decodes one dt element from b.
func Value[T Number](dt Datatype, b []byte) T {
	switch dt {
	case Int8:
		return T(int8(b[0]))
	case Uint8:
		return T(b[0])
	case Int16:
		return T(int16(binary.LittleEndian.Uint16(b)))
	case Uint16:
		return T(binary.LittleEndian.Uint16(b))
	case Int32:
		return T(int32(binary.LittleEndian.Uint32(b)))
	case Uint32:
		return T(binary.LittleEndian.Uint32(b))
	case Int64:
		return T(int64(binary.LittleEndian.Uint64(b)))
	case Uint64:
		return T(binary.LittleEndian.Uint64(b))
	case Float32:
		return T(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return T(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	}
	var zero T
	return zero
}
