package vm

// ---------------------------------------------------------------------------
// Generators: detached frames resumed by next()
// ---------------------------------------------------------------------------

// GeneratorState is the lifecycle state of a generator.
type GeneratorState uint8

const (
	GeneratorFresh GeneratorState = iota
	GeneratorSuspended
	GeneratorExhausted
)

func (s GeneratorState) String() string {
	switch s {
	case GeneratorFresh:
		return "fresh"
	case GeneratorSuspended:
		return "suspended"
	case GeneratorExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Generator is the payload of generator objects. While suspended, saved
// holds the frame's locals and temporaries; while running they live on the
// value stack and saved is nil.
type Generator struct {
	State    GeneratorState
	callable Value
	frame    *Frame
	saved    []Value
	running  bool
}

func (g *Generator) markChildren(m *gcMarker) {
	m.mark(g.callable)
	if g.frame != nil {
		g.frame.mark(m)
	}
	m.markAll(g.saved)
}

func (g *Generator) finalize() {
	g.frame, g.saved = nil, nil
}

// newGenerator creates a fresh generator for a call of fn whose bound
// arguments are locals. The values are copied off the stack.
func (e *Engine) newGenerator(callable Value, fn *Function, locals []Value, nlocals int) Value {
	saved := make([]Value, nlocals)
	n := copy(saved, locals)
	for i := n; i < nlocals; i++ {
		saved[i] = Null
	}
	code := fn.Decl.Code
	f := &Frame{
		code:     code,
		cs:       e.codeStateFor(code),
		module:   fn.Module,
		callable: callable,
		closure:  fn.Closure,
	}
	return e.newObject(TypeGenerator, &Generator{callable: callable, frame: f, saved: saved})
}

// resume runs the generator until it yields or finishes. It returns the
// yielded value, or StopIter once the generator is exhausted. An
// exception raised by the body exhausts the generator and propagates.
func (g *Generator) resume(e *Engine) (ret Value) {
	if g.State == GeneratorExhausted {
		return StopIter
	}
	if g.running {
		e.ValueError("generator already executing")
	}
	if len(e.frames) >= e.maxFrames || e.sp+len(g.saved) > e.maxStack {
		e.stackOverflow()
	}

	f := g.frame
	f.base, f.locals = e.sp, e.sp
	copy(e.stack[e.sp:], g.saved)
	e.sp += len(g.saved)
	g.saved = nil
	e.frames = append(e.frames, f)
	g.running = true

	defer func() {
		g.running = false
		if r := recover(); r != nil {
			g.exhaust()
			panic(r)
		}
	}()

	r := e.runTopFrame(len(e.frames) - 1)
	if r != opYield {
		g.exhaust()
		return StopIter
	}
	v := e.pop()
	g.saved = append([]Value(nil), e.stack[f.locals:e.sp]...)
	e.popFrame()
	g.State = GeneratorSuspended
	return v
}

func (g *Generator) exhaust() {
	g.State = GeneratorExhausted
	g.frame, g.saved = nil, nil
}

func (e *Engine) registerGeneratorPrimitives() {
	gen := func(e *Engine, v Value) *Generator { return mustPayload[*Generator](e, v) }

	e.bindMethod(TypeGenerator, "__iter__", 1, func(e *Engine, args ArgsView) Value {
		return args[0]
	})
	e.bindMethod(TypeGenerator, "__next__", 1, func(e *Engine, args ArgsView) Value {
		v := gen(e, args[0]).resume(e)
		if v == StopIter {
			e.Raise(TypeStopIteration, "")
		}
		return v
	})
	e.bindMethod(TypeGenerator, "close", 1, func(e *Engine, args ArgsView) Value {
		g := gen(e, args[0])
		if g.running {
			e.ValueError("generator already executing")
		}
		g.exhaust()
		return e.None
	})
	e.bindMethod(TypeGenerator, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		g := gen(e, args[0])
		name := "?"
		if fn, ok := payloadAs[*Function](e, g.callable); ok {
			name = fn.Decl.Code.Name
		}
		return e.NewStr("<generator object " + name + ">")
	})
	e.bindProperty(TypeGenerator, "gi_state", func(e *Engine, args ArgsView) Value {
		return e.NewStr(gen(e, args[0]).State.String())
	})
}
