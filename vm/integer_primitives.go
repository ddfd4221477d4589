package vm

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Integers: inline small ints with boxed big.Int overflow
// ---------------------------------------------------------------------------

// BigInt is the payload of integers outside the inline range. It is never
// created for values that fit inline.
type BigInt struct {
	V *big.Int
}

func (b *BigInt) sizeHint() int { return 24 + 8*len(b.V.Bits()) }

// NewInt returns n as an int value, boxing it if it does not fit inline.
func (e *Engine) NewInt(n int64) Value {
	if v, ok := TryFromSmallInt(n); ok {
		return v
	}
	return e.newObject(TypeInt, &BigInt{V: big.NewInt(n)})
}

// NewBigInt returns b as an int value, normalised to the inline form when
// it fits. b must not be modified afterwards.
func (e *Engine) NewBigInt(b *big.Int) Value {
	if b.IsInt64() {
		if v, ok := TryFromSmallInt(b.Int64()); ok {
			return v
		}
	}
	return e.newObject(TypeInt, &BigInt{V: b})
}

func (e *Engine) parseInt(s string, base int) (Value, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return Null, false
	}
	if n, err := strconv.ParseInt(s, base, 64); err == nil {
		return e.NewInt(n), true
	}
	b, ok := new(big.Int).SetString(s, base)
	if !ok {
		return Null, false
	}
	return e.NewBigInt(b), true
}

// AsInt returns v as an int64 when v is an int (or bool) that fits.
func (e *Engine) AsInt(v Value) (int64, bool) {
	n, b, ok := e.intOperand(v)
	switch {
	case !ok:
		return 0, false
	case b == nil:
		return n, true
	case b.IsInt64():
		return b.Int64(), true
	}
	return 0, false
}

// intOperand classifies an int-like value. Inline ints and bools come back
// as n with a nil big; boxed ints come back as b.
func (e *Engine) intOperand(v Value) (n int64, b *big.Int, ok bool) {
	switch {
	case v.IsSmallInt():
		return v.SmallInt(), nil, true
	case v.IsFloat(), !v.IsHeap():
		return 0, nil, false
	case v == e.True:
		return 1, nil, true
	case v == e.False:
		return 0, nil, true
	}
	if p, isBig := payloadAs[*BigInt](e, v); isBig {
		return 0, p.V, true
	}
	return 0, nil, false
}

func (e *Engine) bigOperand(v Value) (*big.Int, bool) {
	n, b, ok := e.intOperand(v)
	if !ok {
		return nil, false
	}
	if b == nil {
		b = big.NewInt(n)
	}
	return b, true
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// smallIntBinary is the inline fast path. It declines (false) for
// overflow and division by zero so the general path can handle them.
func (e *Engine) smallIntBinary(op BinaryOperator, a, b int64) (Value, bool) {
	switch op {
	case BinAdd:
		return e.NewInt(a + b), true
	case BinSub:
		return e.NewInt(a - b), true
	case BinMul:
		if a == 0 || b == 0 {
			return FromSmallInt(0), true
		}
		r := a * b
		if r/b != a {
			return Null, false
		}
		return e.NewInt(r), true
	case BinTrueDiv:
		if b == 0 {
			return Null, false
		}
		return FromFloat64(float64(a) / float64(b)), true
	case BinFloorDiv:
		if b == 0 {
			return Null, false
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return FromSmallInt(q), true
	case BinMod:
		if b == 0 {
			return Null, false
		}
		m := a % b
		if m != 0 && ((m < 0) != (b < 0)) {
			m += b
		}
		return FromSmallInt(m), true
	case BinAnd:
		return FromSmallInt(a & b), true
	case BinOr:
		return FromSmallInt(a | b), true
	case BinXor:
		return FromSmallInt(a ^ b), true
	case BinRShift:
		if b < 0 {
			return Null, false
		}
		return FromSmallInt(a >> min(b, 63)), true
	}
	return Null, false
}

// intBinary applies op to two int-like operands.
func (e *Engine) intBinary(op BinaryOperator, av, bv Value) (Value, bool) {
	a, ok := e.bigOperand(av)
	if !ok {
		return Null, false
	}
	b, ok := e.bigOperand(bv)
	if !ok {
		return Null, false
	}
	r := new(big.Int)
	switch op {
	case BinAdd:
		r.Add(a, b)
	case BinSub:
		r.Sub(a, b)
	case BinMul:
		r.Mul(a, b)
	case BinTrueDiv:
		if b.Sign() == 0 {
			e.ZeroDivisionError("division by zero")
		}
		q, _ := new(big.Rat).SetFrac(a, b).Float64()
		return FromFloat64(q), true
	case BinFloorDiv, BinMod:
		if b.Sign() == 0 {
			e.ZeroDivisionError("integer division or modulo by zero")
		}
		q, m := floorDivMod(a, b)
		if op == BinMod {
			return e.NewBigInt(m), true
		}
		return e.NewBigInt(q), true
	case BinPow:
		if b.Sign() < 0 {
			fa, _ := new(big.Float).SetInt(a).Float64()
			fb, _ := new(big.Float).SetInt(b).Float64()
			return e.floatBinary(BinPow, fa, fb)
		}
		if !b.IsInt64() || b.Int64() > 1<<24 {
			e.Raise(TypeOverflowError, "exponent too large")
		}
		r.Exp(a, b, nil)
	case BinLShift, BinRShift:
		if b.Sign() < 0 {
			e.ValueError("negative shift count")
		}
		if !b.IsInt64() || b.Int64() > 1<<24 {
			e.Raise(TypeOverflowError, "shift count too large")
		}
		if op == BinLShift {
			r.Lsh(a, uint(b.Int64()))
		} else {
			r.Rsh(a, uint(b.Int64()))
		}
	case BinAnd:
		r.And(a, b)
	case BinOr:
		r.Or(a, b)
	case BinXor:
		r.Xor(a, b)
	default:
		return Null, false
	}
	return e.NewBigInt(r), true
}

// floorDivMod returns the quotient rounded toward negative infinity and
// the remainder with the sign of the divisor.
func floorDivMod(a, b *big.Int) (q, m *big.Int) {
	q, m = new(big.Int).QuoRem(a, b, new(big.Int))
	if m.Sign() != 0 && m.Sign() != b.Sign() {
		q.Sub(q, big.NewInt(1))
		m.Add(m, b)
	}
	return q, m
}

// compareNumbers compares two numeric operands. ok is false when either
// operand is not a number.
func (e *Engine) compareNumbers(op CompareOperator, a, b Value) (result, ok bool) {
	if a.IsSmallInt() && b.IsSmallInt() {
		return cmpResult(op, cmpInt64(a.SmallInt(), b.SmallInt())), true
	}
	an, ab, aInt := e.intOperand(a)
	bn, bb, bInt := e.intOperand(b)
	if aInt && bInt {
		if ab == nil && bb == nil {
			return cmpResult(op, cmpInt64(an, bn)), true
		}
		x, _ := e.bigOperand(a)
		y, _ := e.bigOperand(b)
		return cmpResult(op, x.Cmp(y)), true
	}
	x, xok := e.AsFloat(a)
	y, yok := e.AsFloat(b)
	if !xok || !yok {
		return false, false
	}
	switch op {
	case CmpLt:
		return x < y, true
	case CmpLe:
		return x <= y, true
	case CmpEq:
		return x == y, true
	case CmpNe:
		return x != y, true
	case CmpGt:
		return x > y, true
	}
	return x >= y, true
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpResult(op CompareOperator, c int) bool {
	switch op {
	case CmpLt:
		return c < 0
	case CmpLe:
		return c <= 0
	case CmpEq:
		return c == 0
	case CmpNe:
		return c != 0
	case CmpGt:
		return c > 0
	}
	return c >= 0
}

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }

// ---------------------------------------------------------------------------
// int primitives
// ---------------------------------------------------------------------------

func (e *Engine) registerNumberPrimitives() {
	e.registerIntPrimitives()
	e.registerFloatPrimitives()
	e.registerBooleanPrimitives()
}

func (e *Engine) registerIntPrimitives() {
	for op := BinAdd; op < numBinaryOps; op++ {
		op := op
		e.bindMethod(TypeInt, slotNameStrings[op.slot()], 2, func(e *Engine, args ArgsView) Value {
			if r, ok := e.intBinary(op, args[0], args[1]); ok {
				return r
			}
			return e.NotImplemented
		})
		e.bindMethod(TypeInt, slotNameStrings[reflected(op.slot())], 2, func(e *Engine, args ArgsView) Value {
			if r, ok := e.intBinary(op, args[1], args[0]); ok {
				return r
			}
			return e.NotImplemented
		})
	}
	e.bindNumericCompare(TypeInt)

	e.bindMethod(TypeInt, "__neg__", 1, func(e *Engine, args ArgsView) Value {
		b, _ := e.bigOperand(args[0])
		return e.NewBigInt(new(big.Int).Neg(b))
	})
	e.bindMethod(TypeInt, "__invert__", 1, func(e *Engine, args ArgsView) Value {
		b, _ := e.bigOperand(args[0])
		return e.NewBigInt(new(big.Int).Not(b))
	})
	e.bindMethod(TypeInt, "__hash__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewInt(e.Hash(args[0]))
	})
	e.bindMethod(TypeInt, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		b, _ := e.bigOperand(args[0])
		return e.NewStr(b.String())
	})
	e.bindMethod(TypeInt, "__bool__", 1, func(e *Engine, args ArgsView) Value {
		b, _ := e.bigOperand(args[0])
		return e.Bool(b.Sign() != 0)
	})
	e.bindMethod(TypeInt, "bit_length", 1, func(e *Engine, args ArgsView) Value {
		b, _ := e.bigOperand(args[0])
		return e.NewInt(int64(b.BitLen()))
	})
	e.bindStatic(TypeInt, "__new__", -1, func(e *Engine, args ArgsView) Value {
		switch len(args) {
		case 1:
			return FromSmallInt(0)
		case 2:
			return e.toInt(args[1])
		case 3:
			s, ok := payloadAs[*Str](e, args[1])
			if !ok {
				e.TypeError("int() can't convert non-string with explicit base")
			}
			base := e.toIndex(args[2])
			if base < 2 || base > 36 {
				e.ValueError("int() base must be >= 2 and <= 36")
			}
			v, ok := e.parseInt(s.S, base)
			if !ok {
				e.ValueError("invalid literal for int() with base %d: %s", base, strconv.Quote(s.S))
			}
			return v
		}
		e.TypeError("int() takes at most 2 arguments (%d given)", len(args)-1)
		return Null
	})
}

// toInt implements int(x) for a single argument.
func (e *Engine) toInt(v Value) Value {
	if _, _, ok := e.intOperand(v); ok {
		if v == e.True || v == e.False {
			return FromSmallInt(int64(e.toIndex(v)))
		}
		return v
	}
	if v.IsFloat() {
		f := v.Float64()
		if math.IsInf(f, 0) {
			e.Raise(TypeOverflowError, "cannot convert float infinity to integer")
		}
		if math.IsNaN(f) {
			e.ValueError("cannot convert float NaN to integer")
		}
		b, _ := big.NewFloat(math.Trunc(f)).Int(nil)
		return e.NewBigInt(b)
	}
	if s, ok := payloadAs[*Str](e, v); ok {
		r, ok := e.parseInt(s.S, 10)
		if !ok {
			e.ValueError("invalid literal for int() with base 10: %s", strconv.Quote(s.S))
		}
		return r
	}
	e.TypeError("int() argument must be a string or a number, not '%s'", e.TypeName(v))
	return Null
}

// bindNumericCompare installs the rich comparison slots shared by int and
// float.
func (e *Engine) bindNumericCompare(t TypeIndex) {
	for op := CmpLt; op < numCompareOps; op++ {
		op := op
		e.bindMethod(t, slotNameStrings[op.slot()], 2, func(e *Engine, args ArgsView) Value {
			if r, ok := e.compareNumbers(op, args[0], args[1]); ok {
				return e.Bool(r)
			}
			return e.NotImplemented
		})
	}
}
