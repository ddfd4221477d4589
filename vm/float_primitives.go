package vm

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Floats
// ---------------------------------------------------------------------------

// AsFloat converts a float or int-like value to float64.
func (e *Engine) AsFloat(v Value) (float64, bool) {
	if v.IsFloat() {
		return v.Float64(), true
	}
	n, b, ok := e.intOperand(v)
	if !ok {
		return 0, false
	}
	if b == nil {
		return float64(n), true
	}
	f, _ := new(big.Float).SetInt(b).Float64()
	return f, true
}

// floatBinary applies op to two floats.
func (e *Engine) floatBinary(op BinaryOperator, x, y float64) (Value, bool) {
	var r float64
	switch op {
	case BinAdd:
		r = x + y
	case BinSub:
		r = x - y
	case BinMul:
		r = x * y
	case BinTrueDiv:
		if y == 0 {
			e.ZeroDivisionError("float division by zero")
		}
		r = x / y
	case BinFloorDiv:
		if y == 0 {
			e.ZeroDivisionError("float floor division by zero")
		}
		r = math.Floor(x / y)
	case BinMod:
		if y == 0 {
			e.ZeroDivisionError("float modulo")
		}
		r = math.Mod(x, y)
		if r != 0 && (r < 0) != (y < 0) {
			r += y
		}
	case BinPow:
		if x == 0 && y < 0 {
			e.ZeroDivisionError("0.0 cannot be raised to a negative power")
		}
		r = math.Pow(x, y)
	default:
		return Null, false
	}
	return FromFloat64(r), true
}

// formatFloat renders f the way repr() does: integral values keep a ".0"
// and very large or small magnitudes use exponent notation.
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	if a := math.Abs(f); a != 0 && (a < 1e-4 || a >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

func (e *Engine) registerFloatPrimitives() {
	operands := func(e *Engine, a, b Value) (float64, float64, bool) {
		x, ok := e.AsFloat(a)
		if !ok {
			return 0, 0, false
		}
		y, ok := e.AsFloat(b)
		return x, y, ok
	}
	for op := BinAdd; op < numBinaryOps; op++ {
		op := op
		e.bindMethod(TypeFloat, slotNameStrings[op.slot()], 2, func(e *Engine, args ArgsView) Value {
			if x, y, ok := operands(e, args[0], args[1]); ok {
				if r, ok := e.floatBinary(op, x, y); ok {
					return r
				}
			}
			return e.NotImplemented
		})
		e.bindMethod(TypeFloat, slotNameStrings[reflected(op.slot())], 2, func(e *Engine, args ArgsView) Value {
			if x, y, ok := operands(e, args[1], args[0]); ok {
				if r, ok := e.floatBinary(op, x, y); ok {
					return r
				}
			}
			return e.NotImplemented
		})
	}
	e.bindNumericCompare(TypeFloat)

	e.bindMethod(TypeFloat, "__neg__", 1, func(e *Engine, args ArgsView) Value {
		return FromFloat64(-args[0].Float64())
	})
	e.bindMethod(TypeFloat, "__hash__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewInt(hashFloat(args[0].Float64()))
	})
	e.bindMethod(TypeFloat, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr(formatFloat(args[0].Float64()))
	})
	e.bindMethod(TypeFloat, "__bool__", 1, func(e *Engine, args ArgsView) Value {
		return e.Bool(args[0].Float64() != 0)
	})
	e.bindMethod(TypeFloat, "is_integer", 1, func(e *Engine, args ArgsView) Value {
		f := args[0].Float64()
		return e.Bool(f == math.Trunc(f) && !math.IsInf(f, 0))
	})
	e.bindStatic(TypeFloat, "__new__", -1, func(e *Engine, args ArgsView) Value {
		switch len(args) {
		case 1:
			return FromFloat64(0)
		case 2:
			return e.toFloat(args[1])
		}
		e.TypeError("float() takes at most 1 argument (%d given)", len(args)-1)
		return Null
	})
}

func (e *Engine) toFloat(v Value) Value {
	if f, ok := e.AsFloat(v); ok {
		return FromFloat64(f)
	}
	if s, ok := payloadAs[*Str](e, v); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s.S), 64)
		if err != nil {
			e.ValueError("could not convert string to float: %s", strconv.Quote(s.S))
		}
		return FromFloat64(f)
	}
	e.TypeError("float() argument must be a string or a number, not '%s'", e.TypeName(v))
	return Null
}
