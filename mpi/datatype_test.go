package mpi

import (
	"errors"
	"math"
	"reflect"
	"strconv"
	"testing"

	"github.com/danmuck/groupcomm/mpi/runtime"
	"github.com/stretchr/testify/require"
)

type celsius float32
type rank int

func TestDatatypeOfCoversScalars(t *testing.T) {
	cases := []struct {
		name string
		got  func() (runtime.Datatype, error)
		want runtime.Datatype
	}{
		{"int8", DatatypeOf[int8], runtime.Int8},
		{"int16", DatatypeOf[int16], runtime.Int16},
		{"int32", DatatypeOf[int32], runtime.Int32},
		{"int64", DatatypeOf[int64], runtime.Int64},
		{"uint8", DatatypeOf[uint8], runtime.Uint8},
		{"uint16", DatatypeOf[uint16], runtime.Uint16},
		{"uint32", DatatypeOf[uint32], runtime.Uint32},
		{"uint64", DatatypeOf[uint64], runtime.Uint64},
		{"float32", DatatypeOf[float32], runtime.Float32},
		{"float64", DatatypeOf[float64], runtime.Float64},
		{"named float32", DatatypeOf[celsius], runtime.Float32},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dt, err := tc.got()
			require.NoError(t, err)
			require.Equal(t, tc.want, dt)
		})
	}
}

func TestDatatypeOfWordSized(t *testing.T) {
	dt, err := DatatypeOf[int]()
	require.NoError(t, err)
	require.Equal(t, strconv.IntSize/8, dt.Size())

	named, err := DatatypeOf[rank]()
	require.NoError(t, err)
	require.Equal(t, dt, named)

	u, err := DatatypeOf[uintptr]()
	require.NoError(t, err)
	require.False(t, u == runtime.Int32 || u == runtime.Int64, "uintptr must map to an unsigned type")
}

func TestRegisterDatatype(t *testing.T) {
	orig, err := DatatypeOf[uint16]()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, RegisterDatatype(reflect.Uint16, orig)) })

	err = RegisterDatatype(reflect.Uint16, runtime.Int32)
	require.ErrorIs(t, err, ErrUnsupportedType)

	err = RegisterDatatype(reflect.String, runtime.Int32)
	require.ErrorIs(t, err, ErrUnsupportedType)

	err = RegisterDatatype(reflect.Uint16, runtime.DatatypeInvalid)
	require.ErrorIs(t, err, ErrUnsupportedType)

	require.NoError(t, RegisterDatatype(reflect.Uint16, runtime.Int16))
	dt, err := DatatypeOf[uint16]()
	require.NoError(t, err)
	require.Equal(t, runtime.Int16, dt)
}

func TestDatatypeOfMissingKind(t *testing.T) {
	datatypeMu.Lock()
	saved := datatypes[reflect.Uint32]
	delete(datatypes, reflect.Uint32)
	datatypeMu.Unlock()
	t.Cleanup(func() {
		datatypeMu.Lock()
		datatypes[reflect.Uint32] = saved
		datatypeMu.Unlock()
	})

	_, err := DatatypeOf[uint32]()
	require.ErrorIs(t, err, ErrUnsupportedType)
	var me *Error
	require.True(t, errors.As(err, &me))
	require.Equal(t, int(runtime.CodeType), me.Value())
}

func TestEncodeDecodeValues(t *testing.T) {
	in := []float64{0, -1.5, math.MaxFloat64, math.SmallestNonzeroFloat64}
	buf := encodeValues(runtime.Float64, in)
	require.Len(t, buf, len(in)*8)
	require.Equal(t, in, decodeValues[float64](runtime.Float64, buf, len(in)))

	ints := []int8{math.MinInt8, -1, 0, math.MaxInt8}
	require.Equal(t, ints, decodeValues[int8](runtime.Int8, encodeValues(runtime.Int8, ints), len(ints)))
}
