package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// object primitives
// ---------------------------------------------------------------------------

func (e *Engine) registerObjectPrimitives() {
	e.bindStatic(TypeObject, "__new__", -1, func(e *Engine, args ArgsView) Value {
		if len(args) == 0 {
			e.TypeError("object.__new__(): not enough arguments")
		}
		t, ok := e.AsType(args[0])
		if !ok {
			e.TypeError("object.__new__(X): X is not a type object (%s)", e.TypeName(args[0]))
		}
		if !e.types[t].instanceDict {
			e.TypeError("object.__new__(%s) is not safe, use %s.__new__()", e.types[t].Name, e.types[t].Name)
		}
		return e.newInstance(t)
	})
	e.bindMethod(TypeObject, "__init__", -1, func(e *Engine, args ArgsView) Value {
		return e.None
	})
	attrs := e.types[TypeObject].Attrs
	e.objectNew, _ = attrs.Get(nameNew)
	e.objectInit, _ = attrs.Get(nameInit)

	e.bindMethod(TypeObject, "__eq__", 2, func(e *Engine, args ArgsView) Value {
		if args[0] == args[1] {
			return e.True
		}
		return e.NotImplemented
	})
	e.bindMethod(TypeObject, "__ne__", 2, func(e *Engine, args ArgsView) Value {
		eq := e.slot(e.TypeOf(args[0]), slotEq)
		r := e.callWith(eq, args[0], args[1])
		if r == e.NotImplemented {
			return r
		}
		return e.Bool(!e.Truthy(r))
	})
	e.bindMethod(TypeObject, "__hash__", 1, func(e *Engine, args ArgsView) Value {
		return FromSmallInt(identity(args[0]))
	})
	e.bindMethod(TypeObject, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr(fmt.Sprintf("<%s object at %#x>", e.qualifiedName(e.TypeOf(args[0])), identity(args[0])))
	})
	e.bindMethod(TypeObject, "__str__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr(e.Repr(args[0]))
	})

	// Mutable containers compare by value and so are unhashable.
	attrsOf := func(t TypeIndex) *NameDict { return e.attrTable(e.TypeValue(t)) }
	attrsOf(TypeList).Set(nameHash, e.None)
	attrsOf(TypeDict).Set(nameHash, e.None)
}

// identity returns the id() of v: the handle for heap objects, the tagged
// bits otherwise.
func identity(v Value) int64 {
	return int64(uint64(v) >> 1)
}

// qualifiedName prefixes guest classes with their module.
func (e *Engine) qualifiedName(t TypeIndex) string {
	ti := e.types[t]
	if ti.Module.IsHeap() {
		if m := e.moduleName(ti.Module); m != "" && m != "builtins" {
			return m + "." + ti.Name
		}
	}
	return ti.Name
}

// ---------------------------------------------------------------------------
// type primitives
// ---------------------------------------------------------------------------

func (e *Engine) registerTypePrimitives() {
	e.bindStatic(TypeType, "__new__", -1, func(e *Engine, args ArgsView) Value {
		switch len(args) {
		case 2:
			return e.TypeValue(e.TypeOf(args[1]))
		case 4:
			return e.newTypeFromDict(args[1], args[2], args[3])
		}
		e.TypeError("type() takes 1 or 3 arguments")
		return Null
	})
	e.bindMethod(TypeType, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		t, _ := e.AsType(args[0])
		return e.NewStr("<class '" + e.qualifiedName(t) + "'>")
	})
	e.bindMethod(TypeType, "__eq__", 2, func(e *Engine, args ArgsView) Value {
		return e.Bool(args[0] == args[1])
	})
	e.bindMethod(TypeType, "__hash__", 1, func(e *Engine, args ArgsView) Value {
		return FromSmallInt(identity(args[0]))
	})
	e.bindMethod(TypeType, "mro", 1, func(e *Engine, args ArgsView) Value {
		t, _ := e.AsType(args[0])
		var out []Value
		for _, b := range e.MRO(t) {
			out = append(out, e.TypeValue(b))
		}
		return e.NewList(out)
	})
	e.bindProperty(TypeType, "__base__", func(e *Engine, args ArgsView) Value {
		t, _ := e.AsType(args[0])
		if b := e.types[t].Base; b >= 0 {
			return e.TypeValue(b)
		}
		return e.None
	})
}

// newTypeFromDict implements the three-argument form of type().
func (e *Engine) newTypeFromDict(name, bases, ns Value) Value {
	base := TypeObject
	if items, ok := e.seqItems(bases); ok && len(items) > 0 {
		if len(items) > 1 {
			e.TypeError("multiple inheritance is not supported")
		}
		t, isType := e.AsType(items[0])
		if !isType {
			e.TypeError("bases must be types")
		}
		base = t
	}
	module := Null
	if len(e.frames) > 0 {
		module = e.topFrame().module
	}
	t := e.NewType(e.mustStr(name, "type() argument 1"), base, module)
	attrs := e.types[t].Attrs
	e.dictOf(ns).Range(func(k, v Value) bool {
		attrs.Set(Intern(e.mustStr(k, "attribute name")), v)
		return true
	})
	e.finishClass(t)
	return e.TypeValue(t)
}

// finishClass applies the class-creation rules that depend on the whole
// body: a class defining __eq__ without __hash__ is unhashable.
func (e *Engine) finishClass(t TypeIndex) {
	attrs := e.types[t].Attrs
	if attrs.Contains(slotNames[slotEq]) && !attrs.Contains(nameHash) {
		attrs.Set(nameHash, e.None)
	}
	e.typeAttrsChanged()
}

// ---------------------------------------------------------------------------
// exception primitives
// ---------------------------------------------------------------------------

func (e *Engine) registerExceptionPrimitives() {
	exc := func(e *Engine, v Value) *Exception { return mustPayload[*Exception](e, v) }

	e.bindMethod(TypeBaseException, "__init__", -1, func(e *Engine, args ArgsView) Value {
		x := exc(e, args[0])
		rest := args[1:]
		x.Args = e.NewTuple(rest)
		switch len(rest) {
		case 0:
			x.Msg = ""
		case 1:
			x.Msg = e.Str(rest[0])
		default:
			x.Msg = e.Repr(x.Args)
		}
		return e.None
	})
	e.bindProperty(TypeBaseException, "args", func(e *Engine, args ArgsView) Value {
		return exc(e, args[0]).Args
	})
	e.bindMethod(TypeBaseException, "__str__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr(exc(e, args[0]).Msg)
	})
	e.bindMethod(TypeBaseException, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		x := exc(e, args[0])
		items, _ := e.seqItems(x.Args)
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = e.Repr(it)
		}
		return e.NewStr(e.TypeName(args[0]) + "(" + strings.Join(parts, ", ") + ")")
	})
}
