package vm

import (
	"math"
	"math/big"
	"testing"
)

// ---------------------------------------------------------------------------
// Float tests
// ---------------------------------------------------------------------------

func TestFloatRoundTrip(t *testing.T) {
	tests := []float64{
		0.0,
		1.0,
		-1.0,
		3.14159265358979,
		-3.14159265358979,
		1e150,
		-1e-150,
		math.Ldexp(1, 511),
		math.Ldexp(1, -510),
		math.Inf(1),
		math.Inf(-1),
	}

	for _, f := range tests {
		v := FromFloat64(f)
		if !v.IsFloat() {
			t.Errorf("FromFloat64(%v).IsFloat() = false, want true", f)
			continue
		}
		if got := v.Float64(); got != f {
			t.Errorf("FromFloat64(%v).Float64() = %v, want %v", f, got, f)
		}
		if !FloatInRange(f) {
			t.Errorf("FloatInRange(%v) = false", f)
		}
	}
}

func TestFloatNaN(t *testing.T) {
	v := FromFloat64(math.NaN())
	if !v.IsFloat() {
		t.Error("NaN should be treated as float")
	}
	if !math.IsNaN(v.Float64()) {
		t.Error("NaN roundtrip failed")
	}
}

func TestFloatSignedZero(t *testing.T) {
	v := FromFloat64(math.Copysign(0, -1))
	if got := v.Float64(); got != 0 || !math.Signbit(got) {
		t.Errorf("-0.0 decoded as %v (signbit %v)", got, math.Signbit(got))
	}
}

func TestFloatOutOfRange(t *testing.T) {
	big := math.MaxFloat64
	if FloatInRange(big) {
		t.Error("MaxFloat64 should be out of inline range")
	}
	if got := FromFloat64(big).Float64(); !math.IsInf(got, 1) {
		t.Errorf("MaxFloat64 decoded as %v, want +Inf", got)
	}
	if got := FromFloat64(-big).Float64(); !math.IsInf(got, -1) {
		t.Errorf("-MaxFloat64 decoded as %v, want -Inf", got)
	}

	tiny := math.SmallestNonzeroFloat64
	if got := FromFloat64(tiny).Float64(); got != 0 || math.Signbit(got) {
		t.Errorf("subnormal decoded as %v, want +0", got)
	}
	if got := FromFloat64(-tiny).Float64(); got != 0 || !math.Signbit(got) {
		t.Errorf("negative subnormal decoded as %v, want -0", got)
	}
}

func TestFloatTypeChecks(t *testing.T) {
	v := FromFloat64(42.5)
	if !v.IsFloat() || !v.IsTagged() {
		t.Error("float should be a tagged float")
	}
	if v.IsSmallInt() || v.IsHeap() || v.IsNull() {
		t.Error("float misclassified")
	}
}

// ---------------------------------------------------------------------------
// SmallInt tests
// ---------------------------------------------------------------------------

func TestSmallIntRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, -42, 1 << 40, MaxSmallInt, MinSmallInt} {
		v := FromSmallInt(n)
		if !v.IsSmallInt() || v.IsFloat() || v.IsHeap() {
			t.Errorf("FromSmallInt(%d) misclassified", n)
			continue
		}
		if got := v.SmallInt(); got != n {
			t.Errorf("FromSmallInt(%d).SmallInt() = %d", n, got)
		}
	}
}

func TestTryFromSmallIntBounds(t *testing.T) {
	if _, ok := TryFromSmallInt(MaxSmallInt + 1); ok {
		t.Error("MaxSmallInt+1 should not fit")
	}
	if _, ok := TryFromSmallInt(MinSmallInt - 1); ok {
		t.Error("MinSmallInt-1 should not fit")
	}
	if v, ok := TryFromSmallInt(MaxSmallInt); !ok || v.SmallInt() != MaxSmallInt {
		t.Error("MaxSmallInt should fit")
	}
}

func TestNewIntPromotes(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	small := e.NewInt(7)
	if !small.IsSmallInt() {
		t.Fatal("NewInt(7) should be inline")
	}
	large := e.NewInt(math.MaxInt64)
	if large.IsSmallInt() || !large.IsHeap() {
		t.Fatal("NewInt(MaxInt64) should be a heap big int")
	}
	if n, ok := e.AsInt(large); !ok || n != math.MaxInt64 {
		t.Errorf("AsInt(big) = %d, %v", n, ok)
	}
	if e.TypeOf(large) != TypeInt || e.TypeOf(small) != TypeInt {
		t.Error("both encodings should report type int")
	}

	// A big int that fits again is normalised back to inline.
	if v := e.NewBigInt(big.NewInt(-5)); !v.IsSmallInt() || v.SmallInt() != -5 {
		t.Error("NewBigInt should normalise small values")
	}
}

func TestSmallIntOverflowPromotes(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	sum := e.BinaryOp(BinAdd, FromSmallInt(MaxSmallInt), FromSmallInt(1))
	if sum.IsSmallInt() {
		t.Fatal("overflowing add should promote")
	}
	want := new(big.Int).Add(big.NewInt(MaxSmallInt), big.NewInt(1))
	if got := e.Repr(sum); got != want.String() {
		t.Errorf("repr = %s, want %s", got, want)
	}
	back := e.BinaryOp(BinSub, sum, FromSmallInt(1))
	wantInt(t, back, MaxSmallInt)
}

// ---------------------------------------------------------------------------
// Sentinels
// ---------------------------------------------------------------------------

func TestSentinels(t *testing.T) {
	if Null.IsHeap() || Null.IsTagged() || !Null.IsNull() {
		t.Error("Null misclassified")
	}
	for _, v := range []Value{StopIter, opYield, opCall} {
		if v.IsHeap() || v.IsTagged() || v.IsNull() {
			t.Errorf("reserved handle %#x misclassified", uint64(v))
		}
	}
	if StopIter == opYield || opYield == opCall {
		t.Error("reserved handles must be distinct")
	}
}

func TestEngineTypeOfTagged(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	if e.TypeOf(FromSmallInt(1)) != TypeInt {
		t.Error("small int type")
	}
	if e.TypeOf(FromFloat64(1.5)) != TypeFloat {
		t.Error("float type")
	}
	if e.TypeOf(e.True) != TypeBool || e.TypeOf(e.None) != TypeNoneType {
		t.Error("singleton types")
	}
}
