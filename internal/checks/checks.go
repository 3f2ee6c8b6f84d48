// Package checks holds the group-wide properties every communicator must
// satisfy. Each check is collective: all members run it together.
package checks

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/danmuck/groupcomm/mpi"
)

// Check is one named collective property.
type Check struct {
	Name string
	Run  func(c *mpi.Comm) error
}

// RingTag is the tag ring messages travel on.
const RingTag = 256

// Suite returns every check in the order members must run them.
func Suite() []Check {
	return []Check{
		{"rank_size", func(c *mpi.Comm) error { return RankSize(c, c.Size()) }},
		{"reductions", Reductions},
		{"wildcard", Wildcard},
		{"barrier_entry", func(c *mpi.Comm) error { return BarrierEntry(c, 5*time.Millisecond) }},
		{"gather_int8", Gather[int8]},
		{"gather_uint8", Gather[uint8]},
		{"gather_int16", Gather[int16]},
		{"gather_uint16", Gather[uint16]},
		{"gather_int32", Gather[int32]},
		{"gather_uint32", Gather[uint32]},
		{"gather_int64", Gather[int64]},
		{"gather_uint64", Gather[uint64]},
		{"gather_int", Gather[int]},
		{"gather_uint", Gather[uint]},
		{"gather_uintptr", Gather[uintptr]},
		{"gather_float32", Gather[float32]},
		{"gather_float64", Gather[float64]},
		{"ring_int8", Ring[int8]},
		{"ring_uint8", Ring[uint8]},
		{"ring_int16", Ring[int16]},
		{"ring_uint16", Ring[uint16]},
		{"ring_int32", Ring[int32]},
		{"ring_uint32", Ring[uint32]},
		{"ring_int64", Ring[int64]},
		{"ring_uint64", Ring[uint64]},
		{"ring_int", Ring[int]},
		{"ring_uint", Ring[uint]},
		{"ring_uintptr", Ring[uintptr]},
		{"ring_float32", Ring[float32]},
		{"ring_float64", Ring[float64]},
	}
}

// RankSize checks that ranks are 0..size-1, unique, and that every member
// agrees on the size.
func RankSize(c *mpi.Comm, wantSize int) error {
	if c.Size() != wantSize {
		return fmt.Errorf("size %d, want %d", c.Size(), wantSize)
	}
	if c.Rank() < 0 || c.Rank() >= c.Size() {
		return fmt.Errorf("rank %d outside [0,%d)", c.Rank(), c.Size())
	}
	if c.IsMaster() != (c.Rank() == 0) {
		return fmt.Errorf("rank %d reports master=%v", c.Rank(), c.IsMaster())
	}
	ranks, err := mpi.AllGather(c, c.Rank())
	if err != nil {
		return err
	}
	for i, r := range ranks {
		if r != i {
			return fmt.Errorf("gathered rank[%d]=%d", i, r)
		}
	}
	sizes, err := mpi.AllGather(c, c.Size())
	if err != nil {
		return err
	}
	for i, s := range sizes {
		if s != c.Size() {
			return fmt.Errorf("rank %d reports size %d, want %d", i, s, c.Size())
		}
	}
	return c.Barrier()
}

// Reductions checks max, min and sum over (rank+1)*10, and the sum of size
// contributed by every member.
func Reductions(c *mpi.Comm) error {
	n := c.Size()
	v := (c.Rank() + 1) * 10

	maxV, err := mpi.AllMax(c, v)
	if err != nil {
		return err
	}
	if maxV != n*10 {
		return fmt.Errorf("all_max=%d, want %d", maxV, n*10)
	}
	minV, err := mpi.AllMin(c, v)
	if err != nil {
		return err
	}
	if minV != 10 {
		return fmt.Errorf("all_min=%d, want 10", minV)
	}
	sum, err := mpi.AllSum(c, v)
	if err != nil {
		return err
	}
	if want := 10 * n * (n + 1) / 2; sum != want {
		return fmt.Errorf("all_sum=%d, want %d", sum, want)
	}
	sizeSum, err := mpi.AllSum(c, uint64(n))
	if err != nil {
		return err
	}
	if want := uint64(n) * uint64(n); sizeSum != want {
		return fmt.Errorf("all_sum(size)=%d, want %d", sizeSum, want)
	}
	fsum, err := mpi.AllSum(c, float64(v)/10)
	if err != nil {
		return err
	}
	if want := float64(n*(n+1)) / 2; math.Abs(fsum-want) > 1e-9 {
		return fmt.Errorf("all_sum(float64)=%v, want %v", fsum, want)
	}
	return nil
}

// Wildcard has every member send to the master on its own tag; the master
// receives them all with wildcard source and tag.
func Wildcard(c *mpi.Comm) error {
	const base = 1000
	if err := mpi.Send(c, int32(c.Rank()), 0, base+c.Rank()); err != nil {
		return err
	}
	if c.IsMaster() {
		seen := make(map[int]bool, c.Size())
		for i := 0; i < c.Size(); i++ {
			v, st, err := mpi.RecvStatus[int32](c, mpi.AnySource, mpi.AnyTag)
			if err != nil {
				return err
			}
			if int(v) != st.Source || st.Tag != base+st.Source {
				return fmt.Errorf("wildcard got value %d from %d tag %d", v, st.Source, st.Tag)
			}
			if seen[st.Source] {
				return fmt.Errorf("wildcard saw rank %d twice", st.Source)
			}
			seen[st.Source] = true
		}
	}
	return c.Barrier()
}

// BarrierEntry checks that no member leaves the barrier before the last one
// entered. Members enter staggered by rank*delay.
func BarrierEntry(c *mpi.Comm, delay time.Duration) error {
	time.Sleep(time.Duration(c.Size()-1-c.Rank()) * delay)
	entered := time.Now().UnixNano()
	if err := c.Barrier(); err != nil {
		return err
	}
	left := time.Now().UnixNano()
	lastEntry, err := mpi.AllMax(c, entered)
	if err != nil {
		return err
	}
	if lastEntry > left {
		return fmt.Errorf("rank %d left the barrier %s before the last member entered", c.Rank(), time.Duration(lastEntry-left))
	}
	return nil
}

// Gather checks AllGather of Clamp[T](rank) for element type T.
func Gather[T mpi.Scalar](c *mpi.Comm) error {
	vals, err := mpi.AllGather(c, Clamp[T](c.Rank()))
	if err != nil {
		return err
	}
	if len(vals) != c.Size() {
		return fmt.Errorf("%s: gathered %d values, want %d", typeName[T](), len(vals), c.Size())
	}
	for i, v := range vals {
		if v != Clamp[T](i) {
			return fmt.Errorf("%s: gathered[%d]=%v, want %v", typeName[T](), i, v, Clamp[T](i))
		}
	}
	return nil
}

// Ring passes a counter around the group on RingTag: the master seeds 0,
// every member increments (saturating) and forwards. The master finally
// holds Clamp(size); every other member holds Clamp(rank). Groups of one
// skip the check.
func Ring[T mpi.Scalar](c *mpi.Comm) error {
	if c.Size() == 1 {
		return nil
	}
	next := (c.Rank() + 1) % c.Size()
	if c.IsMaster() {
		if err := mpi.Send(c, T(0), next, RingTag); err != nil {
			return err
		}
	}
	var v T
	if err := mpi.RecvInto(c, mpi.AnySource, mpi.AnyTag, &v); err != nil {
		return err
	}
	v = Inc(v)
	if !c.IsMaster() {
		if err := mpi.Send(c, v, next, RingTag); err != nil {
			return err
		}
	}
	want := Clamp[T](c.Rank())
	if c.IsMaster() {
		want = Clamp[T](c.Size())
	}
	if v != want {
		return fmt.Errorf("%s: ring value %v at rank %d, want %v", typeName[T](), v, c.Rank(), want)
	}
	return c.Barrier()
}

// Clamp converts a non-negative v to T, saturating at T's maximum for
// integer types narrower than v.
func Clamp[T mpi.Scalar](v int) T {
	if m, ok := maxValue[T](); ok && v > 0 && uint64(v) > m {
		return T(m)
	}
	return T(v)
}

// Inc adds one, saturating at T's maximum for integer types.
func Inc[T mpi.Scalar](v T) T {
	if m, ok := maxValue[T](); ok && v == T(m) {
		return v
	}
	return v + 1
}

func maxValue[T mpi.Scalar]() (uint64, bool) {
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Int8:
		return math.MaxInt8, true
	case reflect.Int16:
		return math.MaxInt16, true
	case reflect.Int32:
		return math.MaxInt32, true
	case reflect.Int64:
		return math.MaxInt64, true
	case reflect.Int:
		return math.MaxInt, true
	case reflect.Uint8:
		return math.MaxUint8, true
	case reflect.Uint16:
		return math.MaxUint16, true
	case reflect.Uint32:
		return math.MaxUint32, true
	case reflect.Uint64:
		return math.MaxUint64, true
	case reflect.Uint:
		return uint64(math.MaxUint), true
	case reflect.Uintptr:
		return uint64(^uintptr(0)), true
	}
	return 0, false
}

func typeName[T mpi.Scalar]() string {
	return reflect.TypeFor[T]().String()
}
