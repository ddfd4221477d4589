package vm

import (
	"math"

	"github.com/chazu/kestrel/vm/arena"
)

// Value is a tagged 64-bit handle.
//
// The two low bits select the encoding:
//   - x1: inline float. The IEEE 754 exponent is re-biased into 10 bits,
//     the full 52-bit mantissa is kept, and the low bit is always 1.
//   - 10: inline small integer, n<<2 | 0b10.
//   - 00: heap handle, an arena.Handle shifted left by two.
//
// The zero word is Null: never a valid object. It marks unbound fast
// locals and the "no self" slot of a call window.
type Value uint64

const (
	tagBits  uint64 = 0b11
	tagHeap  uint64 = 0b00
	tagInt   uint64 = 0b10
	tagFloat uint64 = 0b01 // only the low bit is significant
)

// Inline integer range (62-bit signed).
const (
	MaxSmallInt int64 = 1<<61 - 1
	MinSmallInt int64 = -(1 << 61)
)

// Null is the sentinel word. See Value.
const Null Value = 0

// Reserved non-object handles. They sit in the allocator's reserved tier
// and must never be dereferenced.
var (
	// StopIter is returned by iterators once they are exhausted.
	StopIter = Value(uint64(arena.ReservedHandle(1)) << 2)

	// opYield signals the dispatch loop that a generator frame suspended.
	opYield = Value(uint64(arena.ReservedHandle(2)) << 2)

	// opCall signals the dispatch loop that vectorcall pushed a new frame.
	opCall = Value(uint64(arena.ReservedHandle(3)) << 2)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsFloat reports whether v is an inline float.
func (v Value) IsFloat() bool { return uint64(v)&1 == 1 }

// IsSmallInt reports whether v is an inline integer.
func (v Value) IsSmallInt() bool { return uint64(v)&tagBits == tagInt }

// IsTagged reports whether v is an inline scalar. Tagged values are never
// dereferenced.
func (v Value) IsTagged() bool { return uint64(v)&tagBits != tagHeap }

// IsNull reports whether v is the Null sentinel.
func (v Value) IsNull() bool { return v == Null }

// IsHeap reports whether v refers to a heap object.
func (v Value) IsHeap() bool {
	return uint64(v)&tagBits == tagHeap && v != Null && v.handle().Tier() != arena.TierReserved
}

func (v Value) handle() arena.Handle { return arena.Handle(uint64(v) >> 2) }

func fromHandle(h arena.Handle) Value { return Value(uint64(h) << 2) }

// ---------------------------------------------------------------------------
// SmallInt operations
// ---------------------------------------------------------------------------

// SmallInt returns v as an int64.
func (v Value) SmallInt() int64 {
	if !v.IsSmallInt() {
		fatalf("Value.SmallInt: not a small integer")
	}
	return int64(v) >> 2
}

// FromSmallInt creates an inline integer.
// Panics if n is outside the inline range; use Engine.NewInt for any int64.
func FromSmallInt(n int64) Value {
	if n > MaxSmallInt || n < MinSmallInt {
		fatalf("FromSmallInt: %d out of range", n)
	}
	return Value(uint64(n)<<2 | tagInt)
}

// TryFromSmallInt creates an inline integer, reporting false if n does not fit.
func TryFromSmallInt(n int64) (Value, bool) {
	if n > MaxSmallInt || n < MinSmallInt {
		return Null, false
	}
	return Value(uint64(n)<<2 | tagInt), true
}

// ---------------------------------------------------------------------------
// Float operations
// ---------------------------------------------------------------------------

const (
	mantBits    = 52
	mantMask    = 1<<mantBits - 1
	exp10Bits   = 10
	exp10Max    = 1<<exp10Bits - 1 // inf/NaN
	exp10Bias   = 511
	minUnbiased = 1 - exp10Bias            // -510
	maxUnbiased = exp10Max - 1 - exp10Bias // 511
)

// FromFloat64 encodes f inline. Finite values whose unbiased exponent lies
// in [-510, 511] round-trip exactly; larger magnitudes become ±Inf and
// smaller ones, subnormals included, become a signed zero.
func FromFloat64(f float64) Value {
	bits := math.Float64bits(f)
	sign := bits >> 63
	exp := int(bits >> mantBits & 0x7ff)
	mant := bits & mantMask

	var e10 uint64
	switch {
	case exp == 0x7ff:
		e10 = exp10Max
	case exp == 0:
		return Value(sign<<63 | tagFloat)
	default:
		unbiased := exp - 1023
		switch {
		case unbiased > maxUnbiased:
			e10, mant = exp10Max, 0
		case unbiased < minUnbiased:
			return Value(sign<<63 | tagFloat)
		default:
			e10 = uint64(unbiased + exp10Bias)
		}
	}
	return Value(sign<<63 | e10<<(mantBits+1) | mant<<1 | tagFloat)
}

// Float64 decodes an inline float.
func (v Value) Float64() float64 {
	if !v.IsFloat() {
		fatalf("Value.Float64: not a float")
	}
	w := uint64(v)
	sign := w >> 63
	e10 := w >> (mantBits + 1) & exp10Max
	mant := w >> 1 & mantMask

	var exp uint64
	switch e10 {
	case 0:
		exp = 0
	case exp10Max:
		exp = 0x7ff
	default:
		exp = e10 - exp10Bias + 1023
	}
	return math.Float64frombits(sign<<63 | exp<<mantBits | mant)
}

// FloatInRange reports whether f survives inline encoding unchanged.
func FloatInRange(f float64) bool {
	if f == 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return true
	}
	exp := int(math.Float64bits(f)>>mantBits&0x7ff) - 1023
	return exp >= minUnbiased && exp <= maxUnbiased
}
