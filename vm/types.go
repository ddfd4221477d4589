package vm

import "fmt"

// TypeIndex indexes the engine's type table.
type TypeIndex int32

// Builtin types occupy fixed indices; object is always 0.
const (
	TypeObject TypeIndex = iota
	TypeType
	TypeInt
	TypeFloat
	TypeBool
	TypeStr
	TypeList
	TypeTuple
	TypeDict
	TypeRange
	TypeSlice
	TypeFunction
	TypeNativeFunc
	TypeBoundMethod
	TypeProperty
	TypeStaticMethod
	TypeClassMethod
	TypeSuper
	TypeModule
	TypeGenerator
	TypeIterator
	TypeNoneType
	TypeNotImplementedType
	TypeEllipsis

	TypeBaseException
	TypeException
	TypeKeyboardInterrupt
	TypeTypeError
	TypeValueError
	TypeIndexError
	TypeKeyError
	TypeAttributeError
	TypeNameError
	TypeUnboundLocalError
	TypeArithmeticError
	TypeZeroDivisionError
	TypeOverflowError
	TypeStackOverflowError
	TypeImportError
	TypeRuntimeError
	TypeNotImplementedError
	TypeAssertionError
	TypeStopIteration
	TypeMemoryError

	numBuiltinTypes
)

// TypeInfo is one entry of the type table.
type TypeInfo struct {
	Name         string
	Index        TypeIndex
	Base         TypeIndex // -1 for object
	Module       Value     // owning module, Null for builtins
	Obj          Value     // the type object
	Attrs        *NameDict // shared with the type object
	Subclassable bool

	// instance attribute tables are created for instances of this type
	instanceDict bool

	slots        *slotTable
	slotsVersion uint64
}

type builtinType struct {
	index        TypeIndex
	name         string
	base         TypeIndex
	subclassable bool
}

var builtinTypes = []builtinType{
	{TypeObject, "object", -1, true},
	{TypeType, "type", TypeObject, false},
	{TypeInt, "int", TypeObject, false},
	{TypeFloat, "float", TypeObject, false},
	{TypeBool, "bool", TypeInt, false},
	{TypeStr, "str", TypeObject, false},
	{TypeList, "list", TypeObject, true},
	{TypeTuple, "tuple", TypeObject, false},
	{TypeDict, "dict", TypeObject, true},
	{TypeRange, "range", TypeObject, false},
	{TypeSlice, "slice", TypeObject, false},
	{TypeFunction, "function", TypeObject, false},
	{TypeNativeFunc, "native_func", TypeObject, false},
	{TypeBoundMethod, "bound_method", TypeObject, false},
	{TypeProperty, "property", TypeObject, false},
	{TypeStaticMethod, "staticmethod", TypeObject, false},
	{TypeClassMethod, "classmethod", TypeObject, false},
	{TypeSuper, "super", TypeObject, false},
	{TypeModule, "module", TypeObject, false},
	{TypeGenerator, "generator", TypeObject, false},
	{TypeIterator, "iterator", TypeObject, false},
	{TypeNoneType, "NoneType", TypeObject, false},
	{TypeNotImplementedType, "NotImplementedType", TypeObject, false},
	{TypeEllipsis, "ellipsis", TypeObject, false},

	{TypeBaseException, "BaseException", TypeObject, true},
	{TypeException, "Exception", TypeBaseException, true},
	{TypeKeyboardInterrupt, "KeyboardInterrupt", TypeBaseException, true},
	{TypeTypeError, "TypeError", TypeException, true},
	{TypeValueError, "ValueError", TypeException, true},
	{TypeIndexError, "IndexError", TypeException, true},
	{TypeKeyError, "KeyError", TypeException, true},
	{TypeAttributeError, "AttributeError", TypeException, true},
	{TypeNameError, "NameError", TypeException, true},
	{TypeUnboundLocalError, "UnboundLocalError", TypeNameError, true},
	{TypeArithmeticError, "ArithmeticError", TypeException, true},
	{TypeZeroDivisionError, "ZeroDivisionError", TypeArithmeticError, true},
	{TypeOverflowError, "OverflowError", TypeArithmeticError, true},
	{TypeStackOverflowError, "StackOverflowError", TypeException, true},
	{TypeImportError, "ImportError", TypeException, true},
	{TypeRuntimeError, "RuntimeError", TypeException, true},
	{TypeNotImplementedError, "NotImplementedError", TypeRuntimeError, true},
	{TypeAssertionError, "AssertionError", TypeException, true},
	{TypeStopIteration, "StopIteration", TypeException, true},
	{TypeMemoryError, "MemoryError", TypeException, true},
}

// bootstrapTypes creates the builtin type records and their type objects.
func (e *Engine) bootstrapTypes() {
	for _, bt := range builtinTypes {
		if TypeIndex(len(e.types)) != bt.index {
			fatalf("builtin type %s registered out of order", bt.name)
		}
		e.addType(bt.name, bt.base, Null, bt.subclassable)
	}
	e.types[TypeObject].instanceDict = true
}

func (e *Engine) addType(name string, base TypeIndex, module Value, subclassable bool) TypeIndex {
	idx := TypeIndex(len(e.types))
	ti := &TypeInfo{
		Name:         name,
		Index:        idx,
		Base:         base,
		Module:       module,
		Attrs:        NewNameDict(),
		Subclassable: subclassable,
	}
	if base >= 0 {
		ti.instanceDict = e.types[base].instanceDict
	}
	if idx >= TypeBaseException && idx < numBuiltinTypes {
		ti.instanceDict = true
	}
	e.types = append(e.types, ti)

	ti.Obj = e.newUntracked(TypeType, &Class{Index: idx})
	e.Object(ti.Obj).Attrs = ti.Attrs
	ti.Attrs.Set(nameName, e.NewStr(name))
	e.typeVersion++
	return idx
}

// NewType registers a guest class deriving from base.
func (e *Engine) NewType(name string, base TypeIndex, module Value) TypeIndex {
	bi := e.Type(base)
	if !bi.Subclassable {
		e.TypeError("type '%s' is not an acceptable base type", bi.Name)
	}
	idx := e.addType(name, base, module, true)
	e.types[idx].instanceDict = true
	if module.IsHeap() {
		e.types[idx].Attrs.Set(nameModule, e.NewStr(e.moduleName(module)))
	}
	return idx
}

// Type returns the type record for t.
func (e *Engine) Type(t TypeIndex) *TypeInfo {
	if t < 0 || int(t) >= len(e.types) {
		fatalf("type index %d out of range", t)
	}
	return e.types[t]
}

// Class is the payload of type objects.
type Class struct {
	Index TypeIndex
}

// TypeValue returns the type object for t.
func (e *Engine) TypeValue(t TypeIndex) Value { return e.Type(t).Obj }

// AsType returns the type index of a type object.
func (e *Engine) AsType(v Value) (TypeIndex, bool) {
	if t, ok := payloadAs[*Class](e, v); ok {
		return t.Index, true
	}
	return -1, false
}

// TypeName returns the name of v's type.
func (e *Engine) TypeName(v Value) string {
	return e.Type(e.TypeOf(v)).Name
}

// IsSubclass reports whether t equals base or derives from it.
func (e *Engine) IsSubclass(t, base TypeIndex) bool {
	for t >= 0 {
		if t == base {
			return true
		}
		t = e.types[t].Base
	}
	return false
}

// MRO returns t followed by its bases.
func (e *Engine) MRO(t TypeIndex) []TypeIndex {
	var out []TypeIndex
	for ; t >= 0; t = e.types[t].Base {
		out = append(out, t)
	}
	return out
}

// findTypeAttr searches the attribute tables of t and its bases.
func (e *Engine) findTypeAttr(t TypeIndex, name Name) (Value, TypeIndex, bool) {
	for ; t >= 0; t = e.types[t].Base {
		if v, ok := e.types[t].Attrs.Get(name); ok {
			return v, t, true
		}
	}
	return Null, -1, false
}

// typeAttrsChanged invalidates every cached slot table.
func (e *Engine) typeAttrsChanged() {
	e.typeVersion++
}

func (ti *TypeInfo) String() string {
	return fmt.Sprintf("<class '%s'>", ti.Name)
}
