package vm

// ---------------------------------------------------------------------------
// Vectorcall: one calling convention for every callable
// ---------------------------------------------------------------------------

// vectorcall invokes the call window on top of the stack:
//
//	[callable, self-or-Null, arg0 … argN-1, kwname0, kwvalue0, …]
//
// Keyword names are Name tokens. The window is consumed and the result
// returned. With trampoline set, a guest function's frame is pushed and
// opCall returned so the dispatch loop continues in it without recursing.
func (e *Engine) vectorcall(argc, kwargc int, trampoline bool) Value {
	p0 := e.sp - 2*kwargc - argc - 2
	callable := e.stack[p0]
	self := e.stack[p0+1]

	start, n := p0+2, argc
	if self != Null {
		start, n = p0+1, argc+1
	}

	if callable.IsHeap() {
		o := e.Object(callable)
		switch p := o.Payload.(type) {
		case *BoundMethod:
			if self == Null {
				e.stack[p0], e.stack[p0+1] = p.Func, p.Self
				return e.vectorcall(argc, kwargc, trampoline)
			}

		case *Native:
			var ret Value
			if p.Decl == nil {
				if kwargc > 0 {
					e.TypeError("%s() takes no keyword arguments", p.Name)
				}
				if p.Argc >= 0 && n != p.Argc {
					e.TypeError("%s() takes %d arguments but %d were given", p.Name, p.Argc, n)
				}
				ret = p.Fn(e, ArgsView(e.stack[start:start+n]))
			} else {
				nl := e.bindArgs(p.Decl, start, n, kwargc, p.Name)
				ret = p.Fn(e, ArgsView(e.stack[start:start+nl]))
			}
			e.sp = p0
			return ret

		case *Function:
			return e.callFunction(callable, p, p0, start, n, kwargc, trampoline)

		case *Class:
			if self == Null {
				return e.callType(p.Index, p0, argc, kwargc)
			}

		default:
			if self == Null {
				if fn := e.slot(o.Type, slotCall); fn != Null {
					e.stack[p0], e.stack[p0+1] = fn, callable
					return e.vectorcall(argc, kwargc, trampoline)
				}
			}
		}
	}
	e.TypeError("'%s' object is not callable", e.TypeName(callable))
	return Null
}

func (e *Engine) callFunction(callable Value, fn *Function, p0, start, n, kwargc int, trampoline bool) Value {
	decl := fn.Decl
	code := decl.Code
	bound := n
	if decl.simple && kwargc == 0 {
		if n != len(decl.Args) {
			e.TypeError("%s() takes %d positional arguments but %d were given", code.Name, len(decl.Args), n)
		}
	} else {
		bound = e.bindArgs(decl, start, n, kwargc, code.Name)
	}

	if code.IsGenerator {
		g := e.newGenerator(callable, fn, e.stack[start:start+bound], code.NLocals())
		e.sp = p0
		return g
	}

	e.pushFrame(code, p0, start, bound, fn.Module, callable, fn.Closure)
	if trampoline {
		return opCall
	}
	return e.runTopFrame(len(e.frames) - 1)
}

// callType constructs an instance of t from the window at p0.
func (e *Engine) callType(t TypeIndex, p0, argc, kwargc int) Value {
	cls := e.stack[p0]
	width := argc + 2*kwargc

	newFn, _, _ := e.findTypeAttr(t, nameNew)
	var obj Value
	if newFn == e.objectNew {
		if !e.types[t].instanceDict {
			e.TypeError("cannot create '%s' instances", e.types[t].Name)
		}
		obj = e.newInstance(t)
	} else {
		if sm, ok := payloadAs[*StaticMethod](e, newFn); ok {
			newFn = sm.Func
		}
		// Call __new__(cls, ...) on a copy so the original window stays
		// rooted for __init__.
		e.ensureStack(width + 2)
		e.push(newFn)
		e.push(cls)
		copy(e.stack[e.sp:], e.stack[p0+2:p0+2+width])
		e.sp += width
		obj = e.vectorcall(argc, kwargc, false)
		if !e.IsInstance(obj, t) {
			e.sp = p0
			return obj
		}
	}
	e.stack[p0+1] = obj

	initFn, _, _ := e.findTypeAttr(t, nameInit)
	if initFn == e.objectInit {
		if width > 0 && newFn == e.objectNew {
			e.TypeError("%s() takes no arguments", e.types[t].Name)
		}
		e.sp = p0
		return obj
	}
	fn, self := e.getUnboundMethod(obj, nameInit)
	e.stack[p0], e.stack[p0+1] = fn, self
	if self == Null {
		// An unbound __init__ still receives the instance.
		e.ensureStack(1)
		copy(e.stack[p0+3:], e.stack[p0+2:e.sp])
		e.stack[p0+2] = obj
		e.sp++
		argc++
	}
	e.vectorcall(argc, kwargc, false)
	return obj
}

// bindArgs binds the n positional arguments at stack[start:] and the
// kwargc keyword pairs after them to the locals of decl. On return the
// locals occupy stack[start:start+nlocals] and sp is just past them.
func (e *Engine) bindArgs(decl *FuncDecl, start, n, kwargc int, name string) int {
	decl.prepare()
	nlocals := decl.Code.NLocals()
	if start+nlocals > e.maxStack {
		e.stackOverflow()
	}
	buf := make([]Value, nlocals)
	args := e.stack[start : start+n]
	kwargs := e.stack[start+n : start+n+2*kwargc]

	i := 0
	for ; i < len(decl.Args) && i < n; i++ {
		buf[decl.Args[i]] = args[i]
	}
	for j := 0; i < n && j < len(decl.KwArgs); i, j = i+1, j+1 {
		buf[decl.KwArgs[j].Index] = args[i]
	}
	switch {
	case decl.StarredArg >= 0:
		buf[decl.StarredArg] = e.NewTuple(args[i:])
	case i < n:
		e.TypeError("%s() takes %d positional arguments but %d were given",
			name, len(decl.Args)+len(decl.KwArgs), n)
	}

	kwdict := Null
	if decl.StarredKwarg >= 0 {
		kwdict = e.NewDict()
		buf[decl.StarredKwarg] = kwdict
	}
	for k := 0; k < kwargc; k++ {
		key := Name(kwargs[2*k].SmallInt())
		val := kwargs[2*k+1]
		if slot, ok := decl.params[key]; ok {
			if buf[slot] != Null {
				e.TypeError("%s() got multiple values for argument '%s'", name, key)
			}
			buf[slot] = val
			continue
		}
		if kwdict == Null {
			e.TypeError("%s() got an unexpected keyword argument '%s'", name, key)
		}
		e.dictSet(kwdict, e.NewStr(key.String()), val)
	}

	defaults := e.declDefaults(decl)
	for j, kw := range decl.KwArgs {
		if buf[kw.Index] == Null {
			buf[kw.Index] = defaults[j]
		}
	}
	for _, a := range decl.Args {
		if buf[a] == Null {
			e.TypeError("%s() missing required argument '%s'", name, decl.Code.VarNames[a])
		}
	}
	copy(e.stack[start:], buf)
	e.sp = start + nlocals
	return nlocals
}

// ---------------------------------------------------------------------------
// Calls from host code
// ---------------------------------------------------------------------------

// Call calls fn with positional arguments and runs it to completion.
func (e *Engine) Call(fn Value, args ...Value) Value {
	return e.callWith(fn, Null, args...)
}

// CallMethod looks up name on self and calls it.
func (e *Engine) CallMethod(self Value, name Name, args ...Value) Value {
	fn, s := e.getUnboundMethod(self, name)
	return e.callWith(fn, s, args...)
}

func (e *Engine) callWith(fn, self Value, args ...Value) Value {
	e.ensureStack(len(args) + 2)
	e.push(fn)
	e.push(self)
	for _, a := range args {
		e.push(a)
	}
	return e.vectorcall(len(args), 0, false)
}

// ---------------------------------------------------------------------------
// Embedding API
//
// These entry points never panic with guest exceptions: failures leave the
// exception in the pending slot (see CheckError) and report false.
// ---------------------------------------------------------------------------

// Push pushes a raw value onto the value stack.
func (e *Engine) Push(v Value) bool {
	return e.protect(func() {
		e.ensureStack(1)
		e.push(v)
	})
}

// Pop removes and returns the top of the value stack.
func (e *Engine) Pop() Value {
	if e.sp == 0 {
		fatalf("Pop: value stack is empty")
	}
	return e.pop()
}

// Peek returns the value n slots below the top without removing it.
func (e *Engine) Peek(n int) Value {
	if n < 0 || n >= e.sp {
		fatalf("Peek(%d): value stack has %d values", n, e.sp)
	}
	return e.peek(n)
}

// StackDepth returns the number of values on the value stack.
func (e *Engine) StackDepth() int { return e.sp }

// CallStack calls the window pushed by the host, [callable, self-or-Null,
// args…, kwname, kwvalue…], and replaces it with the result. Keyword names
// are pushed as Name.Value tokens. On failure the window is discarded.
func (e *Engine) CallStack(argc, kwargc int) bool {
	p0 := e.sp - 2*kwargc - argc - 2
	if p0 < 0 {
		fatalf("CallStack: window of %d values exceeds the stack", argc+2*kwargc+2)
	}
	ok := e.protect(func() {
		e.push(e.vectorcall(argc, kwargc, false))
	})
	if !ok {
		e.sp = p0
	}
	return ok
}

// GetAttrName reads obj.name.
func (e *Engine) GetAttrName(obj Value, name Name) (Value, bool) {
	var v Value
	ok := e.protect(func() {
		v = e.GetAttr(obj, name)
	})
	return v, ok
}

// SetAttrName assigns obj.name = v.
func (e *Engine) SetAttrName(obj Value, name Name, v Value) bool {
	return e.protect(func() {
		e.SetAttr(obj, name, v)
	})
}

// Protect runs fn under the pending-error discipline of the embedding API:
// a guest exception raised by fn is stored for CheckError and reported as
// false.
func (e *Engine) Protect(fn func()) bool { return e.protect(fn) }
