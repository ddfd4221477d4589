package vm

// ---------------------------------------------------------------------------
// bool, NoneType, NotImplementedType and ellipsis
// ---------------------------------------------------------------------------

func (e *Engine) registerBooleanPrimitives() {
	e.bindMethod(TypeBool, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		if args[0] == e.True {
			return e.NewStr("True")
		}
		return e.NewStr("False")
	})
	for _, op := range []BinaryOperator{BinAnd, BinOr, BinXor} {
		op := op
		logical := func(e *Engine, a, b Value) Value {
			if !e.IsType(a, TypeBool) || !e.IsType(b, TypeBool) {
				r, ok := e.intBinary(op, a, b)
				if !ok {
					return e.NotImplemented
				}
				return r
			}
			x, y := a == e.True, b == e.True
			switch op {
			case BinAnd:
				return e.Bool(x && y)
			case BinOr:
				return e.Bool(x || y)
			}
			return e.Bool(x != y)
		}
		e.bindMethod(TypeBool, slotNameStrings[op.slot()], 2, func(e *Engine, args ArgsView) Value {
			return logical(e, args[0], args[1])
		})
		e.bindMethod(TypeBool, slotNameStrings[reflected(op.slot())], 2, func(e *Engine, args ArgsView) Value {
			return logical(e, args[1], args[0])
		})
	}
	e.bindStatic(TypeBool, "__new__", -1, func(e *Engine, args ArgsView) Value {
		switch len(args) {
		case 1:
			return e.False
		case 2:
			return e.Bool(e.Truthy(args[1]))
		}
		e.TypeError("bool() takes at most 1 argument (%d given)", len(args)-1)
		return Null
	})

	e.bindMethod(TypeNoneType, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr("None")
	})
	e.bindMethod(TypeNoneType, "__bool__", 1, func(e *Engine, args ArgsView) Value {
		return e.False
	})
	e.bindMethod(TypeNotImplementedType, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr("NotImplemented")
	})
	e.bindMethod(TypeEllipsis, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr("Ellipsis")
	})
}
