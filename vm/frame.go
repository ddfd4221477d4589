package vm

// ---------------------------------------------------------------------------
// Frame: execution state of one code activation
// ---------------------------------------------------------------------------

// Frame is the execution state of a code record on the shared value stack.
// The stack is reset to base when the frame returns; fast locals start at
// locals and temporaries follow them.
type Frame struct {
	ip     int
	base   int
	locals int

	code *Code
	cs   *codeState

	module   Value
	callable Value // function being executed, Null for module code
	class    Value // class body under construction, Null otherwise
	closure  *NameDict

	outerClasses []Value // enclosing class bodies of nested class statements
}

// Code returns the code record being executed.
func (f *Frame) Code() *Code { return f.code }

// IP returns the index of the next instruction.
func (f *Frame) IP() int { return f.ip }

// Line returns the source line of the current instruction.
func (f *Frame) Line() int { return f.code.LineOf(f.ip - 1) }

// Module returns the module whose globals the frame uses.
func (f *Frame) Module() Value { return f.module }

func (f *Frame) isFunction() bool { return f.callable != Null }

func (f *Frame) mark(m *gcMarker) {
	m.mark(f.module)
	m.mark(f.callable)
	m.mark(f.class)
	m.markAll(f.outerClasses)
	if f.closure != nil {
		f.closure.mark(m)
	}
}

// ---------------------------------------------------------------------------
// Code state: per-engine materialised constants
// ---------------------------------------------------------------------------

// codeState caches the engine values of a code record's constants and of
// its parameter defaults.
type codeState struct {
	code     *Code
	consts   []Value
	defaults []Value // defaults of the declaration whose body this is
	hasDecl  bool
}

func (cs *codeState) mark(m *gcMarker) {
	m.markAll(cs.consts)
	m.markAll(cs.defaults)
}

func (e *Engine) codeStateFor(c *Code) *codeState {
	if cs, ok := e.codeStates[c]; ok {
		return cs
	}
	cs := &codeState{code: c, consts: make([]Value, len(c.Consts))}
	// Register before materialising so a collection cannot miss it.
	e.codeStates[c] = cs
	for i, k := range c.Consts {
		cs.consts[i] = e.constValue(k)
	}
	return cs
}

// declDefaults returns the engine values of d's parameter defaults.
func (e *Engine) declDefaults(d *FuncDecl) []Value {
	cs := e.codeStateFor(d.Code)
	if !cs.hasDecl {
		cs.defaults = make([]Value, len(d.KwArgs))
		for i, kw := range d.KwArgs {
			cs.defaults[i] = e.constValue(kw.Value)
		}
		cs.hasDecl = true
	}
	return cs.defaults
}

func (e *Engine) constValue(k Const) Value {
	switch k.Kind {
	case ConstNone:
		return e.None
	case ConstBool:
		return e.Bool(k.Bool)
	case ConstInt:
		return e.NewInt(k.Int)
	case ConstBigInt:
		v, ok := e.parseInt(k.Str, 10)
		if !ok {
			fatalf("invalid big int constant %q", k.Str)
		}
		return v
	case ConstFloat:
		return FromFloat64(k.Float)
	case ConstStr:
		return e.NewStr(k.Str)
	case ConstEllipsis:
		return e.Ellipsis
	}
	fatalf("unknown constant kind %d", k.Kind)
	return Null
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

// stackGuard is the number of slots past MaxStack that stay addressable so
// a push made right at the limit never indexes out of range.
const stackGuard = 64

func (e *Engine) push(v Value) {
	e.stack[e.sp] = v
	e.sp++
}

func (e *Engine) pop() Value {
	e.sp--
	return e.stack[e.sp]
}

func (e *Engine) top() Value { return e.stack[e.sp-1] }

// peek returns the value n slots below the top; peek(0) is the top.
func (e *Engine) peek(n int) Value { return e.stack[e.sp-1-n] }

func (e *Engine) shrink(n int) { e.sp -= n }

// ensureStack raises StackOverflowError unless n more values fit.
func (e *Engine) ensureStack(n int) {
	if e.sp+n > e.maxStack {
		e.stackOverflow()
	}
}

func (e *Engine) stackOverflow() {
	e.Raise(TypeStackOverflowError, "maximum recursion depth exceeded")
}

// ---------------------------------------------------------------------------
// Frame management
// ---------------------------------------------------------------------------

func (e *Engine) topFrame() *Frame { return e.frames[len(e.frames)-1] }

// pushFrame activates code whose fast locals start at locals. The first
// argc slots are already on the stack; the remaining locals are unbound.
func (e *Engine) pushFrame(code *Code, base, locals, argc int, module, callable Value, closure *NameDict) *Frame {
	if len(e.frames) >= e.maxFrames {
		e.stackOverflow()
	}
	nlocals := code.NLocals()
	if locals+nlocals > e.maxStack {
		e.stackOverflow()
	}
	for i := argc; i < nlocals; i++ {
		e.stack[locals+i] = Null
	}
	e.sp = locals + nlocals
	f := &Frame{
		base:     base,
		locals:   locals,
		code:     code,
		cs:       e.codeStateFor(code),
		module:   module,
		callable: callable,
		closure:  closure,
	}
	e.frames = append(e.frames, f)
	return f
}

func (e *Engine) popFrame() *Frame {
	n := len(e.frames) - 1
	f := e.frames[n]
	e.frames[n] = nil
	e.frames = e.frames[:n]
	e.sp = f.base
	return f
}

// Frames returns the active frames, outermost first.
func (e *Engine) Frames() []*Frame {
	return append([]*Frame(nil), e.frames...)
}
