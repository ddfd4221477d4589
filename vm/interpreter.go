package vm

import (
	"slices"
	"strings"
)

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// interruptInterval is the number of instructions between checks of the
// cancellation channel.
const interruptInterval = 1024

// runTopFrame runs the frame at index base, and every frame a trampolined
// call pushes above it, until base returns. Guest exceptions are unwound
// to the nearest handler among those frames; if there is none the
// exception propagates to the caller with every one of them popped.
func (e *Engine) runTopFrame(base int) Value {
	for {
		r, sig, raised := e.runGuarded(base)
		if !raised {
			return r
		}
		if !e.handleRaise(sig, base) {
			panic(SignaledException{Exception: sig.Exception, reraise: true})
		}
	}
}

func (e *Engine) runGuarded(base int) (ret Value, sig SignaledException, raised bool) {
	defer func() {
		if r := recover(); r != nil {
			s, ok := r.(SignaledException)
			if !ok {
				panic(r)
			}
			sig, raised = s, true
		}
	}()
	return e.dispatch(base), SignaledException{}, false
}

// popReturn pops the top frame and delivers r. It reports true when the
// frame was the loop's base and r must leave the loop.
func (e *Engine) popReturn(base int, r Value) bool {
	idx := len(e.frames) - 1
	e.popFrame()
	if idx == base {
		return true
	}
	e.push(r)
	return false
}

func (e *Engine) dispatch(base int) Value {
	f := e.topFrame()
	for {
		if f.ip >= len(f.code.Instrs) {
			if e.popReturn(base, e.None) {
				return e.None
			}
			f = e.topFrame()
			continue
		}
		ins := f.code.Instrs[f.ip]
		f.ip++
		op, arg := ins.Op(), ins.Arg()

		e.ticks++
		if e.hook != nil || e.ticks%interruptInterval == 0 {
			e.checkInterrupt(f)
		}
		if opAllocates[op] {
			e.autoCollect()
		}
		if e.sp > e.maxStack {
			e.stackOverflow()
		}

		switch op {
		// --- Stack operations ---
		case OpNop:

		case OpPopTop:
			e.sp--

		case OpDupTop:
			e.push(e.top())

		case OpRotTwo:
			e.stack[e.sp-1], e.stack[e.sp-2] = e.stack[e.sp-2], e.stack[e.sp-1]

		case OpRotThree:
			t := e.stack[e.sp-1]
			e.stack[e.sp-1] = e.stack[e.sp-2]
			e.stack[e.sp-2] = e.stack[e.sp-3]
			e.stack[e.sp-3] = t

		// --- Constants ---
		case OpLoadConst:
			e.push(f.cs.consts[arg])

		case OpLoadNone:
			e.push(e.None)

		case OpLoadTrue:
			e.push(e.True)

		case OpLoadFalse:
			e.push(e.False)

		case OpLoadInt:
			e.push(FromSmallInt(int64(arg)))

		case OpLoadEllipsis:
			e.push(e.Ellipsis)

		case OpLoadNull:
			e.push(Null)

		case OpLoadFunction:
			decl := f.code.FuncDecls[arg]
			var closure *NameDict
			if decl.Nested && f.isFunction() {
				closure = e.captureLocals(f)
			}
			e.push(e.NewFunction(decl, f.module, closure))

		case OpLoadKwName:
			e.push(f.code.nameAt(arg).Value())

		// --- Names ---
		case OpLoadFast:
			v := e.stack[f.locals+arg]
			if v == Null {
				e.unboundLocal(f.code.varNames()[arg])
			}
			e.push(v)

		case OpStoreFast:
			e.stack[f.locals+arg] = e.pop()

		case OpDeleteFast:
			if e.stack[f.locals+arg] == Null {
				e.unboundLocal(f.code.varNames()[arg])
			}
			e.stack[f.locals+arg] = Null

		case OpLoadName:
			e.push(e.loadName(f, f.code.nameAt(arg)))

		case OpStoreName:
			e.storeName(f, f.code.nameAt(arg), e.pop())

		case OpDeleteName:
			e.deleteName(f, f.code.nameAt(arg))

		case OpLoadGlobal:
			e.push(e.loadGlobal(f, f.code.nameAt(arg)))

		case OpStoreGlobal:
			e.Object(f.module).Attrs.Set(f.code.nameAt(arg), e.pop())

		case OpDeleteGlobal:
			name := f.code.nameAt(arg)
			if !e.Object(f.module).Attrs.Delete(name) {
				e.NameError(name)
			}

		// --- Attributes and subscripts ---
		case OpLoadAttr:
			e.stack[e.sp-1] = e.GetAttr(e.top(), f.code.nameAt(arg))

		case OpLoadMethod:
			fn, self := e.getUnboundMethod(e.top(), f.code.nameAt(arg))
			e.stack[e.sp-1] = fn
			e.push(self)

		case OpStoreAttr:
			e.SetAttr(e.stack[e.sp-1], f.code.nameAt(arg), e.stack[e.sp-2])
			e.sp -= 2

		case OpDeleteAttr:
			e.DelAttr(e.top(), f.code.nameAt(arg))
			e.sp--

		case OpLoadSubscr:
			r := e.GetItem(e.stack[e.sp-2], e.stack[e.sp-1])
			e.sp--
			e.stack[e.sp-1] = r

		case OpStoreSubscr:
			e.SetItem(e.stack[e.sp-2], e.stack[e.sp-1], e.stack[e.sp-3])
			e.sp -= 3

		case OpDeleteSubscr:
			e.DelItem(e.stack[e.sp-2], e.stack[e.sp-1])
			e.sp -= 2

		// --- Builders ---
		case OpBuildTuple:
			t := e.NewTuple(e.stack[e.sp-arg : e.sp])
			e.sp -= arg
			e.push(t)

		case OpBuildList:
			l := e.NewList(slices.Clone(e.stack[e.sp-arg : e.sp]))
			e.sp -= arg
			e.push(l)

		case OpBuildDict:
			start := e.sp - 2*arg
			d := e.NewDict()
			e.push(d)
			for i := 0; i < arg; i++ {
				e.dictSet(d, e.stack[start+2*i], e.stack[start+2*i+1])
			}
			e.sp = start
			e.push(d)

		case OpBuildSlice:
			var s Value
			if arg == 3 {
				s = e.NewSlice(e.stack[e.sp-3], e.stack[e.sp-2], e.stack[e.sp-1])
			} else {
				s = e.NewSlice(e.stack[e.sp-2], e.stack[e.sp-1], e.None)
			}
			e.sp -= arg
			e.push(s)

		case OpBuildString:
			var sb strings.Builder
			for _, v := range e.stack[e.sp-arg : e.sp] {
				sb.WriteString(e.Str(v))
			}
			e.sp -= arg
			e.push(e.NewStr(sb.String()))

		case OpFormatValue:
			if arg == 1 {
				e.stack[e.sp-1] = e.NewStr(e.Repr(e.top()))
			} else if !e.IsType(e.top(), TypeStr) {
				e.stack[e.sp-1] = e.NewStr(e.Str(e.top()))
			}

		// --- Operators ---
		case OpBinaryOp:
			r := e.BinaryOp(BinaryOperator(arg), e.stack[e.sp-2], e.stack[e.sp-1])
			e.sp--
			e.stack[e.sp-1] = r

		case OpCompareOp:
			r := e.Compare(CompareOperator(arg), e.stack[e.sp-2], e.stack[e.sp-1])
			e.sp--
			e.stack[e.sp-1] = r

		case OpIsOp:
			same := e.stack[e.sp-2] == e.stack[e.sp-1]
			e.sp--
			e.stack[e.sp-1] = e.Bool(same != (arg == 1))

		case OpContainsOp:
			in := e.Contains(e.stack[e.sp-1], e.stack[e.sp-2])
			e.sp--
			e.stack[e.sp-1] = e.Bool(in != (arg == 1))

		case OpUnaryNegative:
			e.stack[e.sp-1] = e.Neg(e.top())

		case OpUnaryNot:
			e.stack[e.sp-1] = e.Bool(!e.Truthy(e.top()))

		case OpUnaryInvert:
			e.stack[e.sp-1] = e.Invert(e.top())

		// --- Jumps ---
		case OpJumpAbsolute:
			f.ip = arg

		case OpPopJumpIfFalse:
			t := e.Truthy(e.top())
			e.sp--
			if !t {
				f.ip = arg
			}

		case OpPopJumpIfTrue:
			t := e.Truthy(e.top())
			e.sp--
			if t {
				f.ip = arg
			}

		case OpJumpIfTrueOrPop:
			if e.Truthy(e.top()) {
				f.ip = arg
			} else {
				e.sp--
			}

		case OpJumpIfFalseOrPop:
			if !e.Truthy(e.top()) {
				f.ip = arg
			} else {
				e.sp--
			}

		case OpLoopContinue:
			e.leaveBlocks(f, arg, false)
			f.ip = f.code.Blocks[arg].Start

		case OpLoopBreak:
			e.leaveBlocks(f, arg, true)
			f.ip = f.code.Blocks[arg].End

		// --- Iteration, calls and frames ---
		case OpGetIter:
			e.stack[e.sp-1] = e.GetIter(e.top())

		case OpForIter:
			v := e.Next(e.top())
			if v == StopIter {
				e.leaveBlocks(f, arg, true)
				f.ip = f.code.Blocks[arg].End
			} else {
				e.push(v)
			}

		case OpCall:
			r := e.vectorcall(arg&0xff, arg>>8&0xff, true)
			if r == opCall {
				f = e.topFrame()
			} else {
				e.push(r)
			}

		case OpCallEx:
			r := e.callEx(arg == 1)
			if r == opCall {
				f = e.topFrame()
			} else {
				e.push(r)
			}

		case OpReturnValue:
			r := e.pop()
			if e.popReturn(base, r) {
				return r
			}
			f = e.topFrame()

		case OpYieldValue:
			if len(e.frames)-1 != base {
				fatalf("yield from a frame that is not the base of its loop")
			}
			return opYield

		// --- Classes, unpacking, context managers ---
		case OpBeginClass:
			e.beginClass(f, f.code.nameAt(arg), e.pop())

		case OpStoreClassAttr:
			e.storeClassAttr(f, f.code.nameAt(arg), e.pop())

		case OpEndClass:
			e.push(e.endClass(f))

		case OpUnpackSequence:
			e.unpack(arg, 0, false)

		case OpUnpackEx:
			e.unpack(arg&0xff, arg>>8&0xff, true)

		case OpWithEnter:
			e.push(e.CallMethod(e.top(), nameEnter))

		case OpWithExit:
			e.CallMethod(e.top(), nameExit, e.None, e.None, e.None)
			e.sp--

		// --- Exceptions and modules ---
		case OpExceptionMatch:
			types := e.pop()
			e.push(e.Bool(e.exceptionMatches(e.top(), types)))

		case OpRaise:
			exc := e.instantiateException(e.top())
			x := mustPayload[*Exception](e, exc)
			x.Trace, x.tracedFrame = nil, nil
			e.sp--
			e.raiseValue(exc, false)

		case OpReRaise:
			e.raiseValue(e.pop(), true)

		case OpPopException:
			e.sp--

		case OpRaiseAssert:
			msg := ""
			if arg == 1 {
				msg = e.Str(e.pop())
			}
			e.Raise(TypeAssertionError, "%s", msg)

		case OpImportName:
			e.push(e.importModule(f.code.nameAt(arg).String()))

		default:
			fatalf("unknown opcode %s at %s:%d", op, f.code.Name, f.ip-1)
		}
	}
}

// checkInterrupt runs the instruction hook and polls for cancellation.
func (e *Engine) checkInterrupt(f *Frame) {
	if e.hook != nil && !e.hook(e, f) {
		e.Raise(TypeKeyboardInterrupt, "execution aborted by hook")
	}
	if e.ctxDone != nil && e.ticks%interruptInterval == 0 {
		select {
		case <-e.ctxDone:
			e.Raise(TypeKeyboardInterrupt, "execution cancelled")
		default:
		}
	}
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

// leaveBlocks unwinds from the current instruction's block to target. Each
// context manager left on the way is exited; the stack is cut to the
// depth of target, or of its parent when leaving target too.
func (e *Engine) leaveBlocks(f *Frame, target int, leaveTarget bool) {
	fixed := f.locals + f.code.NLocals()
	for i := f.code.IBlocks[f.ip-1]; i >= 0 && i != target; i = f.code.Blocks[i].Parent {
		if blk := f.code.Blocks[i]; blk.Type == ContextManager {
			e.sp = fixed + blk.BaseStackSize
			e.CallMethod(e.top(), nameExit, e.None, e.None, e.None)
		}
	}
	blk := f.code.Blocks[target]
	if leaveTarget {
		e.sp = fixed + f.code.Blocks[blk.Parent].BaseStackSize
	} else {
		e.sp = fixed + blk.BaseStackSize
	}
}

// ---------------------------------------------------------------------------
// Name resolution
// ---------------------------------------------------------------------------

func (e *Engine) unboundLocal(n Name) {
	e.Raise(TypeUnboundLocalError, "cannot access local variable '%s' where it is not associated with a value", n)
}

// loadName resolves a name through the class body under construction, the
// fast locals, the closure, the module globals and the builtins.
func (e *Engine) loadName(f *Frame, n Name) Value {
	if f.class != Null {
		t, _ := e.AsType(f.class)
		if v, ok := e.types[t].Attrs.Get(n); ok {
			return v
		}
	}
	if f.isFunction() {
		if i := f.code.varIndex(n); i >= 0 {
			if v := e.stack[f.locals+i]; v != Null {
				return v
			}
			e.unboundLocal(n)
		}
		if f.closure != nil {
			if v, ok := f.closure.Get(n); ok {
				return v
			}
		}
	}
	return e.loadGlobal(f, n)
}

func (e *Engine) loadGlobal(f *Frame, n Name) Value {
	if v, ok := e.Object(f.module).Attrs.Get(n); ok {
		return v
	}
	if v, ok := e.Object(e.builtins).Attrs.Get(n); ok {
		return v
	}
	e.NameError(n)
	return Null
}

func (e *Engine) storeName(f *Frame, n Name, v Value) {
	if f.isFunction() {
		if i := f.code.varIndex(n); i >= 0 {
			e.stack[f.locals+i] = v
			return
		}
	}
	e.Object(f.module).Attrs.Set(n, v)
}

func (e *Engine) deleteName(f *Frame, n Name) {
	if f.isFunction() {
		if i := f.code.varIndex(n); i >= 0 {
			if e.stack[f.locals+i] == Null {
				e.unboundLocal(n)
			}
			e.stack[f.locals+i] = Null
			return
		}
	}
	if !e.Object(f.module).Attrs.Delete(n) {
		e.NameError(n)
	}
}

// captureLocals snapshots the bound locals of f, over its own closure, for
// a nested function defined in it.
func (e *Engine) captureLocals(f *Frame) *NameDict {
	var d *NameDict
	if f.closure != nil {
		d = f.closure.Copy()
	} else {
		d = NewNameDict()
	}
	for i, n := range f.code.varNames() {
		if v := e.stack[f.locals+i]; v != Null {
			d.Set(n, v)
		}
	}
	return d
}

// ---------------------------------------------------------------------------
// Calls with spread arguments
// ---------------------------------------------------------------------------

// callEx calls [callable, self, args(, kwargs)] by spreading the argument
// sequence and the keyword dict into a vectorcall window.
func (e *Engine) callEx(withKwargs bool) Value {
	n := 1
	if withKwargs {
		n = 2
	}
	p0 := e.sp - 2 - n
	items := e.toSlice(e.stack[p0+2])

	var kw []Value
	if withKwargs {
		d, ok := payloadAs[*Dict](e, e.stack[p0+3])
		if !ok {
			e.TypeError("argument after ** must be a mapping, not %s", e.TypeName(e.stack[p0+3]))
		}
		d.Range(func(k, v Value) bool {
			kw = append(kw, Intern(e.mustStr(k, "keyword")).Value(), v)
			return true
		})
	}
	if p0+2+len(items)+len(kw) > e.maxStack {
		e.stackOverflow()
	}
	e.sp = p0 + 2
	for _, v := range items {
		e.push(v)
	}
	for _, v := range kw {
		e.push(v)
	}
	return e.vectorcall(len(items), len(kw)/2, true)
}

// ---------------------------------------------------------------------------
// Class bodies
// ---------------------------------------------------------------------------

func (e *Engine) beginClass(f *Frame, name Name, base Value) {
	bt := TypeObject
	if base != e.None {
		t, ok := e.AsType(base)
		if !ok {
			e.TypeError("base class must be a type, not %s", e.TypeName(base))
		}
		bt = t
	}
	t := e.NewType(name.String(), bt, f.module)
	if f.class != Null {
		f.outerClasses = append(f.outerClasses, f.class)
	}
	f.class = e.TypeValue(t)
}

func (e *Engine) storeClassAttr(f *Frame, name Name, v Value) {
	if f.class == Null {
		fatalf("STORE_CLASS_ATTR outside a class body")
	}
	e.setDefiningClass(v, f.class)
	t, _ := e.AsType(f.class)
	e.types[t].Attrs.Set(name, v)
	e.typeAttrsChanged()
}

// setDefiningClass records cls on functions defined in its body, looking
// through method wrappers, for zero-argument super().
func (e *Engine) setDefiningClass(v, cls Value) {
	if !v.IsHeap() {
		return
	}
	switch p := e.Object(v).Payload.(type) {
	case *Function:
		if p.Class == Null {
			p.Class = cls
		}
	case *StaticMethod:
		e.setDefiningClass(p.Func, cls)
	case *ClassMethod:
		e.setDefiningClass(p.Func, cls)
	case *Property:
		e.setDefiningClass(p.Getter, cls)
		e.setDefiningClass(p.Setter, cls)
	}
}

func (e *Engine) endClass(f *Frame) Value {
	cls := f.class
	if cls == Null {
		fatalf("END_CLASS outside a class body")
	}
	t, _ := e.AsType(cls)
	e.finishClass(t)
	if n := len(f.outerClasses); n > 0 {
		f.class = f.outerClasses[n-1]
		f.outerClasses = f.outerClasses[:n-1]
	} else {
		f.class = Null
	}
	return cls
}

// ---------------------------------------------------------------------------
// Unpacking
// ---------------------------------------------------------------------------

// unpack replaces the sequence on top of the stack with its items, the
// first item deepest. With starred set, the items between the first
// before and the last after are collected into a list in the middle.
func (e *Engine) unpack(before, after int, starred bool) {
	var items []Value
	if seq, ok := e.seqItems(e.top()); ok {
		items = seq
	} else {
		items = e.toSlice(e.top())
	}
	if !starred {
		switch {
		case len(items) < before:
			e.ValueError("not enough values to unpack (expected %d, got %d)", before, len(items))
		case len(items) > before:
			e.ValueError("too many values to unpack (expected %d)", before)
		}
		if e.sp-1+len(items) > e.maxStack {
			e.stackOverflow()
		}
		e.sp--
		for _, v := range items {
			e.push(v)
		}
		return
	}

	if len(items) < before+after {
		e.ValueError("not enough values to unpack (expected at least %d, got %d)", before+after, len(items))
	}
	rest := e.NewList(slices.Clone(items[before : len(items)-after]))
	if e.sp+before+after > e.maxStack {
		e.stackOverflow()
	}
	e.sp--
	for _, v := range items[:before] {
		e.push(v)
	}
	e.push(rest)
	for _, v := range items[len(items)-after:] {
		e.push(v)
	}
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// exceptionMatches implements the test of an except clause.
func (e *Engine) exceptionMatches(exc, types Value) bool {
	if t, ok := e.AsType(types); ok {
		if !e.IsSubclass(t, TypeBaseException) {
			e.TypeError("catching classes that do not inherit from BaseException is not allowed")
		}
		return e.IsInstance(exc, t)
	}
	tup, ok := payloadAs[*Tuple](e, types)
	if !ok {
		e.TypeError("catching classes that do not inherit from BaseException is not allowed")
	}
	for _, it := range tup.Items {
		if e.exceptionMatches(exc, it) {
			return true
		}
	}
	return false
}

// instantiateException turns the operand of raise into an exception
// instance, calling exception classes with no arguments.
func (e *Engine) instantiateException(v Value) Value {
	if t, ok := e.AsType(v); ok {
		if !e.IsSubclass(t, TypeBaseException) {
			e.TypeError("exceptions must derive from BaseException")
		}
		v = e.Call(v)
	}
	if !e.IsInstance(v, TypeBaseException) {
		e.TypeError("exceptions must derive from BaseException")
	}
	return v
}
