package vm

// ---------------------------------------------------------------------------
// Attribute access
// ---------------------------------------------------------------------------

// GetAttr reads obj.name, raising AttributeError if it does not resolve.
func (e *Engine) GetAttr(obj Value, name Name) Value {
	v, ok := e.getAttr(obj, name)
	if !ok {
		e.AttributeError(obj, name)
	}
	return v
}

// HasAttr reports whether obj.name resolves.
func (e *Engine) HasAttr(obj Value, name Name) bool {
	_, ok := e.getAttr(obj, name)
	return ok
}

func (e *Engine) getAttr(obj Value, name Name) (Value, bool) {
	if name == nameClass {
		return e.TypeValue(e.TypeOf(obj)), true
	}
	if obj.IsHeap() {
		switch p := e.Object(obj).Payload.(type) {
		case *Class:
			return e.classAttr(obj, p.Index, name)
		case *Super:
			return e.superAttr(p, name)
		}
	}

	t := e.TypeOf(obj)
	cls, _, found := e.findTypeAttr(t, name)
	if found {
		if p, ok := payloadAs[*Property](e, cls); ok {
			return e.Call(p.Getter, obj), true
		}
	}
	if obj.IsHeap() {
		if attrs := e.Object(obj).Attrs; attrs != nil {
			if v, ok := attrs.Get(name); ok {
				return v, true
			}
		}
	}
	if found {
		return e.bindDescriptor(obj, t, cls), true
	}
	if hook := e.slot(t, slotGetattr); hook != Null {
		return e.callWith(hook, obj, e.NewStr(name.String())), true
	}
	return Null, false
}

// bindDescriptor applies the non-data descriptor protocol to an attribute
// found on the type of obj.
func (e *Engine) bindDescriptor(obj Value, t TypeIndex, attr Value) Value {
	if !attr.IsHeap() {
		return attr
	}
	switch p := e.Object(attr).Payload.(type) {
	case *Function, *Native:
		return e.NewBoundMethod(obj, attr)
	case *StaticMethod:
		return p.Func
	case *ClassMethod:
		return e.NewBoundMethod(e.TypeValue(t), p.Func)
	}
	return attr
}

// classAttr resolves name on a type object: the class's own chain first,
// then the chain of its metatype.
func (e *Engine) classAttr(cls Value, t TypeIndex, name Name) (Value, bool) {
	if v, _, ok := e.findTypeAttr(t, name); ok {
		if v.IsHeap() {
			switch p := e.Object(v).Payload.(type) {
			case *StaticMethod:
				return p.Func, true
			case *ClassMethod:
				return e.NewBoundMethod(cls, p.Func), true
			}
		}
		return v, true
	}
	if v, _, ok := e.findTypeAttr(TypeType, name); ok {
		if p, isProp := payloadAs[*Property](e, v); isProp {
			return e.Call(p.Getter, cls), true
		}
		return e.bindDescriptor(cls, TypeType, v), true
	}
	return Null, false
}

func (e *Engine) superAttr(s *Super, name Name) (Value, bool) {
	base := e.types[s.Start].Base
	if base < 0 {
		return Null, false
	}
	v, _, ok := e.findTypeAttr(base, name)
	if !ok {
		return Null, false
	}
	if p, isProp := payloadAs[*Property](e, v); isProp {
		return e.Call(p.Getter, s.Self), true
	}
	if t, isType := e.AsType(s.Self); isType {
		return e.classAttr(s.Self, t, name)
	}
	return e.bindDescriptor(s.Self, e.TypeOf(s.Self), v), true
}

// getUnboundMethod resolves obj.name for an immediate call without
// allocating a bound method. It returns the callable and the receiver to
// place in the self slot, Null when no binding applies.
func (e *Engine) getUnboundMethod(obj Value, name Name) (fn, self Value) {
	if obj.IsHeap() {
		switch e.Object(obj).Payload.(type) {
		case *Class, *Super:
			return e.GetAttr(obj, name), Null
		}
	}
	t := e.TypeOf(obj)
	cls, _, found := e.findTypeAttr(t, name)
	if found {
		if p, ok := payloadAs[*Property](e, cls); ok {
			return e.Call(p.Getter, obj), Null
		}
	}
	if obj.IsHeap() {
		if attrs := e.Object(obj).Attrs; attrs != nil {
			if v, ok := attrs.Get(name); ok {
				return v, Null
			}
		}
	}
	if found {
		if !cls.IsHeap() {
			return cls, Null
		}
		switch p := e.Object(cls).Payload.(type) {
		case *Function, *Native:
			return cls, obj
		case *StaticMethod:
			return p.Func, Null
		case *ClassMethod:
			return p.Func, e.TypeValue(t)
		}
		return cls, Null
	}
	if name != nameClass {
		if hook := e.slot(t, slotGetattr); hook != Null {
			return e.callWith(hook, obj, e.NewStr(name.String())), Null
		}
	}
	return e.GetAttr(obj, name), Null
}

// SetAttr assigns obj.name = v.
func (e *Engine) SetAttr(obj Value, name Name, v Value) {
	if t, ok := e.AsType(obj); ok {
		e.setClassAttr(t, name, v)
		return
	}
	t := e.TypeOf(obj)
	if cls, _, found := e.findTypeAttr(t, name); found {
		if p, ok := payloadAs[*Property](e, cls); ok {
			if p.Setter == Null {
				e.Raise(TypeAttributeError, "can't set attribute '%s'", name)
			}
			e.Call(p.Setter, obj, v)
			return
		}
	}
	if !obj.IsHeap() || e.Object(obj).Attrs == nil {
		e.TypeError("'%s' object does not support attribute assignment", e.TypeName(obj))
	}
	e.Object(obj).Attrs.Set(name, v)
}

func (e *Engine) setClassAttr(t TypeIndex, name Name, v Value) {
	if t < numBuiltinTypes {
		e.TypeError("cannot set '%s' attribute of immutable type '%s'", name, e.types[t].Name)
	}
	e.types[t].Attrs.Set(name, v)
	e.typeAttrsChanged()
}

// DelAttr deletes obj.name.
func (e *Engine) DelAttr(obj Value, name Name) {
	if t, ok := e.AsType(obj); ok {
		if t < numBuiltinTypes {
			e.TypeError("cannot delete '%s' attribute of immutable type '%s'", name, e.types[t].Name)
		}
		if !e.types[t].Attrs.Delete(name) {
			e.AttributeError(obj, name)
		}
		e.typeAttrsChanged()
		return
	}
	if cls, _, found := e.findTypeAttr(e.TypeOf(obj), name); found {
		if _, ok := payloadAs[*Property](e, cls); ok {
			e.Raise(TypeAttributeError, "can't delete attribute '%s'", name)
		}
	}
	if !obj.IsHeap() || e.Object(obj).Attrs == nil {
		e.TypeError("'%s' object does not support attribute deletion", e.TypeName(obj))
	}
	if !e.Object(obj).Attrs.Delete(name) {
		e.AttributeError(obj, name)
	}
}
