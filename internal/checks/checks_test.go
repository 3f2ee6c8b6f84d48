package checks

import (
	"math"
	"testing"
)

type rankID int8

func TestClamp(t *testing.T) {
	if got := Clamp[int8](300); got != math.MaxInt8 {
		t.Fatalf("int8 clamp=%d", got)
	}
	if got := Clamp[uint8](300); got != math.MaxUint8 {
		t.Fatalf("uint8 clamp=%d", got)
	}
	if got := Clamp[int16](300); got != 300 {
		t.Fatalf("int16 clamp=%d", got)
	}
	if got := Clamp[float32](300); got != 300 {
		t.Fatalf("float32 clamp=%v", got)
	}
	if got := Clamp[rankID](200); got != rankID(math.MaxInt8) {
		t.Fatalf("named int8 clamp=%d", got)
	}
}

func TestIncSaturates(t *testing.T) {
	if got := Inc[int8](math.MaxInt8); got != math.MaxInt8 {
		t.Fatalf("int8 inc=%d", got)
	}
	if got := Inc[uint64](math.MaxUint64); got != math.MaxUint64 {
		t.Fatalf("uint64 inc=%d", got)
	}
	if got := Inc[int8](5); got != 6 {
		t.Fatalf("int8 inc=%d", got)
	}
	if got := Inc[float64](1.5); got != 2.5 {
		t.Fatalf("float64 inc=%v", got)
	}
}

func TestSuiteNamesUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range Suite() {
		if seen[c.Name] {
			t.Fatalf("duplicate check %q", c.Name)
		}
		seen[c.Name] = true
	}
}
