package vm

// ---------------------------------------------------------------------------
// Callable payloads
// ---------------------------------------------------------------------------

// Function is a guest function: a declaration closed over its defining
// module and, for nested functions, a snapshot of the enclosing locals.
type Function struct {
	Decl    *FuncDecl
	Module  Value
	Closure *NameDict
	Class   Value // class the function was defined in, for zero-argument super()
}

func (f *Function) markChildren(m *gcMarker) {
	m.mark(f.Module)
	m.mark(f.Class)
	if f.Closure != nil {
		f.Closure.mark(m)
	}
}

// ArgsView aliases the arguments of a native call on the value stack. It
// is only valid until the native returns.
type ArgsView []Value

// NativeFunc is a host-implemented callable. It returns the result or
// raises with one of the Engine's Raise helpers.
type NativeFunc func(e *Engine, args ArgsView) Value

// Native is the payload of native_func objects. Argc counts the receiver of
// methods; -1 accepts any number of positional arguments. A native with a
// Decl is bound like a guest function and receives one value per local
// of the declaration.
type Native struct {
	Name string
	Argc int
	Fn   NativeFunc
	Decl *FuncDecl
	Doc  string
}

// BoundMethod pairs a receiver with a callable.
type BoundMethod struct {
	Self Value
	Func Value
}

func (b *BoundMethod) markChildren(m *gcMarker) {
	m.mark(b.Self)
	m.mark(b.Func)
}

// Property is a computed attribute.
type Property struct {
	Getter Value
	Setter Value // Null for read-only properties
}

func (p *Property) markChildren(m *gcMarker) {
	m.mark(p.Getter)
	m.mark(p.Setter)
}

// StaticMethod wraps a callable that is never bound.
type StaticMethod struct{ Func Value }

func (s *StaticMethod) markChildren(m *gcMarker) { m.mark(s.Func) }

// ClassMethod wraps a callable that is bound to the class.
type ClassMethod struct{ Func Value }

func (c *ClassMethod) markChildren(m *gcMarker) { m.mark(c.Func) }

// Super proxies attribute lookups on Self to the bases of Start.
type Super struct {
	Self  Value
	Start TypeIndex
}

func (s *Super) markChildren(m *gcMarker) { m.mark(s.Self) }

// Module is the payload of module objects; globals live in the attribute
// table.
type Module struct {
	Name string
	Path string
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// NewFunction creates a guest function for decl.
func (e *Engine) NewFunction(decl *FuncDecl, module Value, closure *NameDict) Value {
	decl.prepare()
	v := e.newObjectWithAttrs(TypeFunction, &Function{
		Decl:    decl,
		Module:  module,
		Closure: closure,
		Class:   Null,
	})
	if decl.Docstring != "" {
		e.Object(v).Attrs.Set(nameDoc, e.NewStr(decl.Docstring))
	}
	return v
}

// NewNative wraps fn as a callable with a raw argument view.
func (e *Engine) NewNative(name string, argc int, fn NativeFunc) Value {
	return e.newObject(TypeNativeFunc, &Native{Name: name, Argc: argc, Fn: fn})
}

// NewNativeSignature wraps fn as a callable bound through decl.
func (e *Engine) NewNativeSignature(decl *FuncDecl, fn NativeFunc) Value {
	decl.prepare()
	return e.newObject(TypeNativeFunc, &Native{
		Name: decl.Code.Name,
		Argc: -1,
		Fn:   fn,
		Decl: decl,
		Doc:  decl.Docstring,
	})
}

// NewBoundMethod binds fn to self.
func (e *Engine) NewBoundMethod(self, fn Value) Value {
	return e.newObject(TypeBoundMethod, &BoundMethod{Self: self, Func: fn})
}

// NewProperty creates a property; setter may be Null.
func (e *Engine) NewProperty(getter, setter Value) Value {
	return e.newObject(TypeProperty, &Property{Getter: getter, Setter: setter})
}

// NewModule creates a module and registers it under name, replacing any
// module of that name.
func (e *Engine) NewModule(name string) Value {
	v := e.newUntracked(TypeModule, &Module{Name: name})
	attrs := NewNameDict()
	e.Object(v).Attrs = attrs
	attrs.Set(nameName, e.NewStr(name))
	e.modules[name] = v
	return v
}

func (e *Engine) moduleName(module Value) string {
	if m, ok := payloadAs[*Module](e, module); ok {
		return m.Name
	}
	return ""
}

// ---------------------------------------------------------------------------
// Binding natives
// ---------------------------------------------------------------------------

// attrTable returns the attribute table of a type or module target.
func (e *Engine) attrTable(target Value) *NameDict {
	o := e.Object(target)
	if o.Attrs == nil {
		fatalf("cannot bind into %s object", e.TypeName(target))
	}
	if o.Type == TypeType {
		e.typeAttrsChanged()
	}
	return o.Attrs
}

// BindFunc installs a raw-arity native on a type or module and returns it.
func (e *Engine) BindFunc(target Value, name string, argc int, fn NativeFunc) Value {
	v := e.NewNative(name, argc, fn)
	e.attrTable(target).Set(Intern(name), v)
	return v
}

// BindSignature installs a native bound through a declared signature, for
// example "sorted(iterable, key=None, reverse=False)".
func (e *Engine) BindSignature(target Value, sig string, fn NativeFunc) Value {
	v := e.NewNativeSignature(MustParseSignature(sig), fn)
	e.attrTable(target).Set(Intern(mustPayload[*Native](e, v).Name), v)
	return v
}

func (e *Engine) bindMethod(t TypeIndex, name string, argc int, fn NativeFunc) {
	e.BindFunc(e.TypeValue(t), name, argc, fn)
}

func (e *Engine) bindStatic(t TypeIndex, name string, argc int, fn NativeFunc) {
	v := e.newObject(TypeStaticMethod, &StaticMethod{Func: e.NewNative(name, argc, fn)})
	e.attrTable(e.TypeValue(t)).Set(Intern(name), v)
}

func (e *Engine) bindProperty(t TypeIndex, name string, getter NativeFunc) {
	v := e.NewProperty(e.NewNative(name, 1, getter), Null)
	e.attrTable(e.TypeValue(t)).Set(Intern(name), v)
}

// ---------------------------------------------------------------------------
// Function primitives
// ---------------------------------------------------------------------------

func (e *Engine) registerFunctionPrimitives() {
	e.bindProperty(TypeFunction, "__name__", func(e *Engine, args ArgsView) Value {
		return e.NewStr(mustPayload[*Function](e, args[0]).Decl.Code.Name)
	})
	e.bindMethod(TypeFunction, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr("<function " + mustPayload[*Function](e, args[0]).Decl.Signature() + ">")
	})

	e.bindProperty(TypeNativeFunc, "__name__", func(e *Engine, args ArgsView) Value {
		return e.NewStr(mustPayload[*Native](e, args[0]).Name)
	})
	e.bindMethod(TypeNativeFunc, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr("<native function " + mustPayload[*Native](e, args[0]).Name + ">")
	})

	e.bindProperty(TypeBoundMethod, "__self__", func(e *Engine, args ArgsView) Value {
		return mustPayload[*BoundMethod](e, args[0]).Self
	})
	e.bindProperty(TypeBoundMethod, "__func__", func(e *Engine, args ArgsView) Value {
		return mustPayload[*BoundMethod](e, args[0]).Func
	})
	e.bindMethod(TypeBoundMethod, "__eq__", 2, func(e *Engine, args ArgsView) Value {
		a := mustPayload[*BoundMethod](e, args[0])
		b, ok := payloadAs[*BoundMethod](e, args[1])
		if !ok {
			return e.NotImplemented
		}
		return e.Bool(a.Self == b.Self && a.Func == b.Func)
	})
	e.bindMethod(TypeBoundMethod, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		b := mustPayload[*BoundMethod](e, args[0])
		return e.NewStr("<bound method " + e.Repr(b.Func) + " of " + e.Repr(b.Self) + ">")
	})

	e.bindStatic(TypeProperty, "__new__", -1, func(e *Engine, args ArgsView) Value {
		if len(args) < 2 || len(args) > 3 {
			e.TypeError("property() takes 1 or 2 arguments")
		}
		setter := Null
		if len(args) == 3 && args[2] != e.None {
			setter = args[2]
		}
		return e.NewProperty(args[1], setter)
	})
	e.bindMethod(TypeProperty, "setter", 2, func(e *Engine, args ArgsView) Value {
		p := mustPayload[*Property](e, args[0])
		return e.NewProperty(p.Getter, args[1])
	})
	e.bindStatic(TypeStaticMethod, "__new__", 2, func(e *Engine, args ArgsView) Value {
		return e.newObject(TypeStaticMethod, &StaticMethod{Func: args[1]})
	})
	e.bindStatic(TypeClassMethod, "__new__", 2, func(e *Engine, args ArgsView) Value {
		return e.newObject(TypeClassMethod, &ClassMethod{Func: args[1]})
	})

	e.bindMethod(TypeModule, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr("<module '" + mustPayload[*Module](e, args[0]).Name + "'>")
	})
}
