package runtime

import (
	"errors"
	"math"
	"testing"
)

func encode[T Number](dt Datatype, vals ...T) []byte {
	buf := make([]byte, len(vals)*dt.Size())
	for i, v := range vals {
		PutValue(dt, buf[i*dt.Size():], v)
	}
	return buf
}

func TestValueRoundTripAtTypeBounds(t *testing.T) {
	cases := []struct {
		dt   Datatype
		in   float64
		want float64
	}{
		{Int8, -128, -128},
		{Uint16, 65535, 65535},
		{Int32, math.MinInt32, math.MinInt32},
		{Float32, 1.5, 1.5},
		{Float64, -2.25, -2.25},
	}
	for _, tc := range cases {
		b := make([]byte, tc.dt.Size())
		PutValue(tc.dt, b, tc.in)
		if got := Value[float64](tc.dt, b); got != tc.want {
			t.Fatalf("%s: got=%v want=%v", tc.dt, got, tc.want)
		}
	}

	b := make([]byte, 8)
	PutValue(Uint64, b, uint64(math.MaxUint64))
	if got := Value[uint64](Uint64, b); got != math.MaxUint64 {
		t.Fatalf("uint64 max: got=%d", got)
	}
}

func TestReduceSumWrapsLikeNativeType(t *testing.T) {
	acc := encode[int8](Int8, 120, -3)
	in := encode[int8](Int8, 10, 4)
	if err := Reduce(OpSum, Int8, acc, in); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if got := Value[int8](Int8, acc[0:1]); got != -126 {
		t.Fatalf("wrapped sum: got=%d", got)
	}
	if got := Value[int8](Int8, acc[1:2]); got != 1 {
		t.Fatalf("sum: got=%d", got)
	}
}

func TestReduceMaxMinFloat(t *testing.T) {
	acc := encode[float64](Float64, 1.5, -7)
	in := encode[float64](Float64, 0.5, 3)
	if err := Reduce(OpMax, Float64, acc, in); err != nil {
		t.Fatalf("reduce max: %v", err)
	}
	if Value[float64](Float64, acc[0:8]) != 1.5 || Value[float64](Float64, acc[8:16]) != 3 {
		t.Fatalf("unexpected max result")
	}
	if err := Reduce(OpMin, Float64, acc, encode[float64](Float64, -1, 10)); err != nil {
		t.Fatalf("reduce min: %v", err)
	}
	if Value[float64](Float64, acc[0:8]) != -1 || Value[float64](Float64, acc[8:16]) != 3 {
		t.Fatalf("unexpected min result")
	}
}

func TestReduceRejectsBadInput(t *testing.T) {
	if err := Reduce(OpSum, Int32, make([]byte, 4), make([]byte, 8)); CodeOf(err) != CodeCount {
		t.Fatalf("expected CodeCount, got %v", err)
	}
	if err := Reduce(OpInvalid, Int32, make([]byte, 4), make([]byte, 4)); CodeOf(err) != CodeOp {
		t.Fatalf("expected CodeOp, got %v", err)
	}
	if err := Reduce(OpInvalid, Int32, nil, nil); CodeOf(err) != CodeOp {
		t.Fatalf("expected CodeOp for empty buffers, got %v", err)
	}
	if err := Reduce(Op(9), Float64, nil, nil); CodeOf(err) != CodeOp {
		t.Fatalf("expected CodeOp for unknown op, got %v", err)
	}
	if err := Reduce(OpSum, DatatypeInvalid, nil, nil); CodeOf(err) != CodeType {
		t.Fatalf("expected CodeType, got %v", err)
	}
}

func TestCheckTargets(t *testing.T) {
	if err := CheckSendTarget(3, 0, 3); CodeOf(err) != CodeRank {
		t.Fatalf("expected CodeRank, got %v", err)
	}
	if err := CheckSendTarget(0, AnyTag, 3); CodeOf(err) != CodeTag {
		t.Fatalf("expected CodeTag for wildcard send tag, got %v", err)
	}
	tooLarge := MaxTag
	tooLarge++
	if err := CheckSendTarget(0, tooLarge, 3); CodeOf(err) != CodeTag {
		t.Fatalf("expected CodeTag above MaxTag, got %v", err)
	}
	if err := CheckRecvSource(0, tooLarge, 3); CodeOf(err) != CodeTag {
		t.Fatalf("expected CodeTag above MaxTag on recv, got %v", err)
	}
	if err := CheckSendTarget(0, MaxTag, 3); err != nil {
		t.Fatalf("MaxTag must be accepted: %v", err)
	}
	if err := CheckRecvSource(AnySource, AnyTag, 3); err != nil {
		t.Fatalf("wildcards must be accepted: %v", err)
	}
	if err := CheckBuffer(make([]byte, 3), 1, Int32); CodeOf(err) != CodeBuffer {
		t.Fatalf("expected CodeBuffer, got %v", err)
	}
}

func TestStatusErrorMatchesByCode(t *testing.T) {
	err := Errorf(CodeRank, "rank %d", 9)
	if !errors.Is(err, &StatusError{Code: CodeRank}) {
		t.Fatalf("expected code match")
	}
	if errors.Is(err, &StatusError{Code: CodeTag}) {
		t.Fatalf("unexpected code match")
	}
	if CodeOf(errors.New("plain")) != CodeOther {
		t.Fatalf("plain errors map to CodeOther")
	}
}
