package mpi

import (
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"unsafe"

	"github.com/danmuck/groupcomm/mpi/runtime"
)

// Scalar is the set of element types a communicator can carry. Types outside
// it do not compile.
type Scalar interface {
	runtime.Number
}

var (
	datatypeMu sync.RWMutex
	datatypes  = map[reflect.Kind]runtime.Datatype{
		reflect.Int8:    runtime.Int8,
		reflect.Int16:   runtime.Int16,
		reflect.Int32:   runtime.Int32,
		reflect.Int64:   runtime.Int64,
		reflect.Int:     wordDatatype(true, strconv.IntSize),
		reflect.Uint8:   runtime.Uint8,
		reflect.Uint16:  runtime.Uint16,
		reflect.Uint32:  runtime.Uint32,
		reflect.Uint64:  runtime.Uint64,
		reflect.Uint:    wordDatatype(false, strconv.IntSize),
		reflect.Uintptr: wordDatatype(false, int(unsafe.Sizeof(uintptr(0)))*8),
		reflect.Float32: runtime.Float32,
		reflect.Float64: runtime.Float64,
	}
)

func wordDatatype(signed bool, bits int) runtime.Datatype {
	switch {
	case signed && bits == 32:
		return runtime.Int32
	case signed:
		return runtime.Int64
	case bits == 32:
		return runtime.Uint32
	default:
		return runtime.Uint64
	}
}

func kindSize(k reflect.Kind) (int, bool) {
	switch k {
	case reflect.Int8, reflect.Uint8:
		return 1, true
	case reflect.Int16, reflect.Uint16:
		return 2, true
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 4, true
	case reflect.Int64, reflect.Uint64, reflect.Float64:
		return 8, true
	case reflect.Int, reflect.Uint:
		return strconv.IntSize / 8, true
	case reflect.Uintptr:
		return int(unsafe.Sizeof(uintptr(0))), true
	}
	return 0, false
}

// DatatypeOf returns the runtime datatype for T. Named types dispatch by
// their underlying kind, so `type Rank int` maps like int.
func DatatypeOf[T Scalar]() (runtime.Datatype, error) {
	t := reflect.TypeFor[T]()
	datatypeMu.RLock()
	dt, ok := datatypes[t.Kind()]
	datatypeMu.RUnlock()
	if !ok || !dt.Valid() {
		return runtime.DatatypeInvalid, unsupported("datatype", "no datatype registered for %s", t)
	}
	return dt, nil
}

// RegisterDatatype maps kind to dt for every later call. The datatype must
// have the same element width as the kind.
func RegisterDatatype(kind reflect.Kind, dt runtime.Datatype) error {
	size, ok := kindSize(kind)
	if !ok {
		return unsupported("register_datatype", "%s is not a scalar kind", kind)
	}
	if !dt.Valid() {
		return unsupported("register_datatype", "invalid datatype %d", uint8(dt))
	}
	if dt.Size() != size {
		return unsupported("register_datatype", "%s is %d bytes, %s is %d", kind, size, dt, dt.Size())
	}
	datatypeMu.Lock()
	datatypes[kind] = dt
	datatypeMu.Unlock()
	return nil
}

func encodeValues[T Scalar](dt runtime.Datatype, vs []T) []byte {
	size := dt.Size()
	buf := make([]byte, len(vs)*size)
	for i, v := range vs {
		runtime.PutValue(dt, buf[i*size:(i+1)*size], v)
	}
	return buf
}

func decodeValues[T Scalar](dt runtime.Datatype, buf []byte, n int) []T {
	size := dt.Size()
	out := make([]T, n)
	for i := range out {
		out[i] = runtime.Value[T](dt, buf[i*size:(i+1)*size])
	}
	return out
}

func unsupported(op, format string, args ...any) *Error {
	return &Error{
		Code:    runtime.CodeType,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		class:   classUnsupportedType,
	}
}
