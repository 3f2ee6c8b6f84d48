package runtime

// Op is a predefined reduction operation.
type Op uint8

const (
	OpInvalid Op = iota
	OpMax
	OpMin
	OpSum
)

func (o Op) String() string {
	switch o {
	case OpMax:
		return "max"
	case OpMin:
		return "min"
	case OpSum:
		return "sum"
	default:
		return "invalid"
	}
}

// Reduce folds in into acc element-wise using op with the native semantics
// of dt: integer sums wrap, float comparisons follow IEEE ordering.
func Reduce(op Op, dt Datatype, acc, in []byte) error {
	switch op {
	case OpMax, OpMin, OpSum:
	default:
		return Errorf(CodeOp, "unsupported reduction %d", uint8(op))
	}
	if !dt.Valid() {
		return Errorf(CodeType, "invalid datatype %d", uint8(dt))
	}
	if len(acc) != len(in) || len(acc)%dt.Size() != 0 {
		return Errorf(CodeCount, "reduce length mismatch: %d vs %d bytes of %s", len(acc), len(in), dt)
	}
	switch dt {
	case Int8:
		return reduceAs[int8](op, dt, acc, in)
	case Int16:
		return reduceAs[int16](op, dt, acc, in)
	case Int32:
		return reduceAs[int32](op, dt, acc, in)
	case Int64:
		return reduceAs[int64](op, dt, acc, in)
	case Uint8:
		return reduceAs[uint8](op, dt, acc, in)
	case Uint16:
		return reduceAs[uint16](op, dt, acc, in)
	case Uint32:
		return reduceAs[uint32](op, dt, acc, in)
	case Uint64:
		return reduceAs[uint64](op, dt, acc, in)
	case Float32:
		return reduceAs[float32](op, dt, acc, in)
	default:
		return reduceAs[float64](op, dt, acc, in)
	}
}

func reduceAs[T Number](op Op, dt Datatype, acc, in []byte) error {
	size := dt.Size()
	for i := 0; i < len(acc); i += size {
		a := Value[T](dt, acc[i:i+size])
		b := Value[T](dt, in[i:i+size])
		switch op {
		case OpSum:
			a += b
		case OpMax:
			if b > a {
				a = b
			}
		case OpMin:
			if b < a {
				a = b
			}
		default:
			return Errorf(CodeOp, "unsupported reduction %d", uint8(op))
		}
		PutValue(dt, acc[i:i+size], a)
	}
	return nil
}
