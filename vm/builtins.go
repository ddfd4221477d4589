package vm

import (
	"io"
	"math"
	"math/big"
	"strings"
)

// ---------------------------------------------------------------------------
// Builtins module
// ---------------------------------------------------------------------------

// builtinTypeNames are the types reachable by name from guest code.
var builtinTypeNames = []TypeIndex{
	TypeObject, TypeType, TypeInt, TypeFloat, TypeBool, TypeStr, TypeList,
	TypeTuple, TypeDict, TypeRange, TypeSlice, TypeProperty, TypeStaticMethod,
	TypeClassMethod, TypeSuper,
}

func (e *Engine) registerBuiltins() {
	b := e.builtins
	attrs := e.Object(b).Attrs
	for _, t := range builtinTypeNames {
		attrs.Set(Intern(e.types[t].Name), e.TypeValue(t))
	}
	for t := TypeBaseException; t < numBuiltinTypes; t++ {
		attrs.Set(Intern(e.types[t].Name), e.TypeValue(t))
	}
	attrs.Set(Intern("None"), e.None)
	attrs.Set(Intern("True"), e.True)
	attrs.Set(Intern("False"), e.False)
	attrs.Set(Intern("NotImplemented"), e.NotImplemented)
	attrs.Set(Intern("Ellipsis"), e.Ellipsis)

	e.bindSuper()

	e.BindSignature(b, "print(*args, sep=None, end=None)", func(e *Engine, args ArgsView) Value {
		sep, end := " ", "\n"
		if args[1] != e.None {
			sep = e.mustStr(args[1], "sep")
		}
		if args[2] != e.None {
			end = e.mustStr(args[2], "end")
		}
		items, _ := e.seqItems(args[0])
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = e.Str(it)
		}
		io.WriteString(e.out, strings.Join(parts, sep)+end)
		return e.None
	})
	e.BindFunc(b, "len", 1, func(e *Engine, args ArgsView) Value {
		return e.NewInt(int64(e.Len(args[0])))
	})
	e.BindFunc(b, "repr", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr(e.Repr(args[0]))
	})
	e.BindFunc(b, "id", 1, func(e *Engine, args ArgsView) Value {
		return e.NewInt(identity(args[0]))
	})
	e.BindFunc(b, "hash", 1, func(e *Engine, args ArgsView) Value {
		return e.NewInt(e.Hash(args[0]))
	})
	e.BindFunc(b, "callable", 1, func(e *Engine, args ArgsView) Value {
		return e.Bool(e.isCallable(args[0]))
	})

	e.BindFunc(b, "isinstance", 2, func(e *Engine, args ArgsView) Value {
		return e.Bool(e.matchTypes(args[1], "isinstance", func(t TypeIndex) bool {
			return e.IsInstance(args[0], t)
		}))
	})
	e.BindFunc(b, "issubclass", 2, func(e *Engine, args ArgsView) Value {
		sub, ok := e.AsType(args[0])
		if !ok {
			e.TypeError("issubclass() arg 1 must be a class")
		}
		return e.Bool(e.matchTypes(args[1], "issubclass", func(t TypeIndex) bool {
			return e.IsSubclass(sub, t)
		}))
	})

	e.BindSignature(b, "getattr(obj, name, default=...)", func(e *Engine, args ArgsView) Value {
		name := Intern(e.mustStr(args[1], "attribute name"))
		if args[2] == e.Ellipsis {
			return e.GetAttr(args[0], name)
		}
		if v, ok := e.getAttr(args[0], name); ok {
			return v
		}
		return args[2]
	})
	e.BindFunc(b, "hasattr", 2, func(e *Engine, args ArgsView) Value {
		return e.Bool(e.HasAttr(args[0], Intern(e.mustStr(args[1], "attribute name"))))
	})
	e.BindFunc(b, "setattr", 3, func(e *Engine, args ArgsView) Value {
		e.SetAttr(args[0], Intern(e.mustStr(args[1], "attribute name")), args[2])
		return e.None
	})
	e.BindFunc(b, "delattr", 2, func(e *Engine, args ArgsView) Value {
		e.DelAttr(args[0], Intern(e.mustStr(args[1], "attribute name")))
		return e.None
	})

	e.BindFunc(b, "iter", 1, func(e *Engine, args ArgsView) Value {
		return e.GetIter(args[0])
	})
	e.BindSignature(b, "next(iterator, default=...)", func(e *Engine, args ArgsView) Value {
		v := e.Next(args[0])
		if v == StopIter {
			if args[1] != e.Ellipsis {
				return args[1]
			}
			e.Raise(TypeStopIteration, "")
		}
		return v
	})

	e.BindFunc(b, "abs", 1, func(e *Engine, args ArgsView) Value {
		v := args[0]
		switch {
		case v.IsSmallInt():
			n := v.SmallInt()
			if n < 0 {
				return e.NewInt(-n)
			}
			return v
		case v.IsFloat():
			return FromFloat64(math.Abs(v.Float64()))
		}
		if bi, ok := payloadAs[*BigInt](e, v); ok {
			return e.NewBigInt(new(big.Int).Abs(bi.V))
		}
		return e.CallMethod(v, Intern("__abs__"))
	})
	e.BindFunc(b, "divmod", 2, func(e *Engine, args ArgsView) Value {
		e.ensureStack(1)
		e.push(e.BinaryOp(BinFloorDiv, args[0], args[1]))
		m := e.BinaryOp(BinMod, args[0], args[1])
		q := e.pop()
		return e.NewTuple([]Value{q, m})
	})
	e.BindFunc(b, "chr", 1, func(e *Engine, args ArgsView) Value {
		n := e.toIndex(args[0])
		if n < 0 || n > 0x10ffff {
			e.ValueError("chr() arg not in range(0x110000)")
		}
		return e.NewStr(string(rune(n)))
	})
	e.BindFunc(b, "ord", 1, func(e *Engine, args ArgsView) Value {
		s, ok := payloadAs[*Str](e, args[0])
		if !ok {
			e.TypeError("ord() expected string of length 1, but %s found", e.TypeName(args[0]))
		}
		if s.length() != 1 {
			e.TypeError("ord() expected a character, but string of length %d found", s.length())
		}
		return FromSmallInt(int64(s.chars()[0]))
	})

	e.BindSignature(b, "sum(iterable, start=0)", func(e *Engine, args ArgsView) Value {
		e.ensureStack(1)
		e.push(args[1])
		acc := e.sp - 1
		e.Iterate(args[0], func(item Value) bool {
			e.stack[acc] = e.BinaryOp(BinAdd, e.stack[acc], item)
			return true
		})
		return e.pop()
	})
	e.BindSignature(b, "min(*args, key=None, default=...)", func(e *Engine, args ArgsView) Value {
		return e.extreme("min", CmpLt, args)
	})
	e.BindSignature(b, "max(*args, key=None, default=...)", func(e *Engine, args ArgsView) Value {
		return e.extreme("max", CmpGt, args)
	})
	e.BindSignature(b, "sorted(iterable, key=None, reverse=False)", func(e *Engine, args ArgsView) Value {
		out := e.NewList(e.toSlice(args[0]))
		e.ensureStack(1)
		e.push(out)
		l := mustPayload[*List](e, out)
		l.Items = e.sortValues(l.Items, args[1], e.Truthy(args[2]))
		return e.pop()
	})
	e.BindFunc(b, "any", 1, func(e *Engine, args ArgsView) Value {
		found := false
		e.Iterate(args[0], func(item Value) bool {
			found = e.Truthy(item)
			return !found
		})
		return e.Bool(found)
	})
	e.BindFunc(b, "all", 1, func(e *Engine, args ArgsView) Value {
		ok := true
		e.Iterate(args[0], func(item Value) bool {
			ok = e.Truthy(item)
			return ok
		})
		return e.Bool(ok)
	})

	e.registerIterBuiltins(b)
}

// matchTypes applies pred to a type or to each type of a tuple.
func (e *Engine) matchTypes(cls Value, fn string, pred func(TypeIndex) bool) bool {
	if t, ok := e.AsType(cls); ok {
		return pred(t)
	}
	items, ok := payloadAs[*Tuple](e, cls)
	if !ok {
		e.TypeError("%s() arg 2 must be a type or tuple of types", fn)
	}
	for _, it := range items.Items {
		if e.matchTypes(it, fn, pred) {
			return true
		}
	}
	return false
}

func (e *Engine) isCallable(v Value) bool {
	if !v.IsHeap() {
		return false
	}
	switch e.Object(v).Payload.(type) {
	case *Function, *Native, *BoundMethod, *Class:
		return true
	}
	return e.slot(e.TypeOf(v), slotCall) != Null
}

// extreme implements min and max. The best item and its key stay on the
// value stack while guest comparisons and key functions run.
func (e *Engine) extreme(fn string, op CompareOperator, args ArgsView) Value {
	src := args[0]
	if items, _ := e.seqItems(src); len(items) == 1 {
		src = items[0]
	}
	key, def := args[1], args[2]

	e.ensureStack(2)
	best := e.sp
	e.push(Null)
	e.push(Null)
	e.Iterate(src, func(item Value) bool {
		k := item
		if key != e.None {
			k = e.Call(key, item)
		}
		if e.stack[best] == Null || e.Truthy(e.Compare(op, k, e.stack[best+1])) {
			e.stack[best], e.stack[best+1] = item, k
		}
		return true
	})
	r := e.stack[best]
	e.sp = best
	if r == Null {
		if def != e.Ellipsis {
			return def
		}
		e.ValueError("%s() arg is an empty sequence", fn)
	}
	return r
}

// ---------------------------------------------------------------------------
// Iterator builtins
// ---------------------------------------------------------------------------

func (e *Engine) registerIterBuiltins(b Value) {
	e.BindSignature(b, "enumerate(iterable, start=0)", func(e *Engine, args ArgsView) Value {
		it := e.GetIter(args[0])
		i := int64(e.toIndex(args[1]))
		return e.newNativeIter(it, func(e *Engine) Value {
			item := e.Next(it)
			if item == StopIter {
				return StopIter
			}
			e.ensureStack(1)
			e.push(item)
			t := e.NewTuple([]Value{e.NewInt(i), item})
			e.pop()
			i++
			return t
		})
	})
	e.BindFunc(b, "zip", -1, func(e *Engine, args ArgsView) Value {
		its := make([]Value, len(args))
		for i, a := range args {
			its[i] = e.GetIter(a)
			args[i] = its[i]
		}
		src := e.NewTuple(its)
		return e.newNativeIter(src, func(e *Engine) Value {
			if len(its) == 0 {
				return StopIter
			}
			acc := e.NewList(make([]Value, 0, len(its)))
			e.ensureStack(1)
			e.push(acc)
			l := mustPayload[*List](e, acc)
			for _, it := range its {
				item := e.Next(it)
				if item == StopIter {
					e.pop()
					return StopIter
				}
				l.Items = append(l.Items, item)
			}
			e.pop()
			return e.NewTuple(l.Items)
		})
	})
	e.BindFunc(b, "map", 2, func(e *Engine, args ArgsView) Value {
		fn := args[0]
		it := e.GetIter(args[1])
		src := e.NewTuple([]Value{fn, it})
		return e.newNativeIter(src, func(e *Engine) Value {
			item := e.Next(it)
			if item == StopIter {
				return StopIter
			}
			return e.Call(fn, item)
		})
	})
	e.BindFunc(b, "filter", 2, func(e *Engine, args ArgsView) Value {
		fn := args[0]
		it := e.GetIter(args[1])
		src := e.NewTuple([]Value{fn, it})
		return e.newNativeIter(src, func(e *Engine) Value {
			for {
				item := e.Next(it)
				if item == StopIter {
					return StopIter
				}
				e.ensureStack(1)
				e.push(item)
				var keep bool
				if fn == e.None {
					keep = e.Truthy(item)
				} else {
					keep = e.Truthy(e.Call(fn, item))
				}
				e.pop()
				if keep {
					return item
				}
			}
		})
	})
	e.BindFunc(b, "reversed", 1, func(e *Engine, args ArgsView) Value {
		seq := args[0]
		i := e.Len(seq)
		return e.newNativeIter(seq, func(e *Engine) Value {
			if i <= 0 {
				return StopIter
			}
			i--
			return e.GetItem(seq, FromSmallInt(int64(i)))
		})
	})
}

// ---------------------------------------------------------------------------
// super
// ---------------------------------------------------------------------------

func (e *Engine) bindSuper() {
	e.bindStatic(TypeSuper, "__new__", -1, func(e *Engine, args ArgsView) Value {
		var cls, self Value
		switch len(args) {
		case 1:
			cls, self = e.implicitSuperArgs()
		case 3:
			cls, self = args[1], args[2]
		default:
			e.TypeError("super() takes 0 or 2 arguments")
		}
		t, ok := e.AsType(cls)
		if !ok {
			e.TypeError("super() argument 1 must be a type, not %s", e.TypeName(cls))
		}
		if st, isType := e.AsType(self); isType {
			if !e.IsSubclass(st, t) {
				e.TypeError("super(type, obj): obj must be an instance or subtype of type")
			}
		} else if !e.IsInstance(self, t) {
			e.TypeError("super(type, obj): obj must be an instance or subtype of type")
		}
		return e.newObject(TypeSuper, &Super{Self: self, Start: t})
	})
	e.bindMethod(TypeSuper, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		s := mustPayload[*Super](e, args[0])
		return e.NewStr("<super: <class '" + e.types[s.Start].Name + "'>, <" + e.TypeName(s.Self) + " object>>")
	})
}

// implicitSuperArgs resolves zero-argument super() from the calling frame:
// the class the running function was defined in and its first argument.
func (e *Engine) implicitSuperArgs() (cls, self Value) {
	if len(e.frames) == 0 {
		e.Raise(TypeRuntimeError, "super(): no current frame")
	}
	f := e.topFrame()
	fn, ok := payloadAs[*Function](e, f.callable)
	if !ok || fn.Class == Null {
		e.Raise(TypeRuntimeError, "super(): __class__ cell not found")
	}
	if f.code.NLocals() == 0 || e.stack[f.locals] == Null {
		e.Raise(TypeRuntimeError, "super(): no arguments")
	}
	return fn.Class, e.stack[f.locals]
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

// RegisterModule creates a module populated by setup, for example with
// BindFunc. The module can then be imported by guest code.
func (e *Engine) RegisterModule(name string, setup func(e *Engine, m Value)) Value {
	m := e.NewModule(name)
	if setup != nil {
		setup(e, m)
	}
	return m
}

// Module returns a registered module.
func (e *Engine) Module(name string) (Value, bool) {
	m, ok := e.modules[name]
	return m, ok
}

// importModule returns the named module, initialising it through the
// importer on first use. A module whose initialisation raises is removed.
func (e *Engine) importModule(name string) Value {
	if m, ok := e.modules[name]; ok {
		return m
	}
	if e.importer == nil {
		e.Raise(TypeImportError, "No module named '%s'", name)
	}
	code, err := e.importer(e, name)
	if err != nil {
		e.Raise(TypeImportError, "cannot import '%s': %v", name, err)
	}
	if code == nil {
		e.Raise(TypeImportError, "No module named '%s'", name)
	}
	m := e.NewModule(name)
	mustPayload[*Module](e, m).Path = code.Filename
	defer func() {
		if r := recover(); r != nil {
			delete(e.modules, name)
			panic(r)
		}
	}()
	engineLog.Debugf("engine %s: importing %s from %s", e.id, name, code.Filename)
	e.execModule(code, m)
	return m
}
