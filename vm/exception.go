package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Exception objects
// ---------------------------------------------------------------------------

// Exception is the payload of BaseException instances.
type Exception struct {
	Msg   string
	Args  Value        // tuple
	Trace []TraceEntry // innermost first

	tracedFrame *Frame
}

func (x *Exception) markChildren(m *gcMarker) { m.mark(x.Args) }

// TraceEntry is one line of a traceback.
type TraceEntry struct {
	Filename string
	Line     int
	Name     string
	Snippet  string
}

// SignaledException is panicked to raise a guest exception. The dispatch
// loop recovers it and unwinds to the nearest try-except block.
type SignaledException struct {
	Exception Value
	reraise   bool
}

// FatalError is panicked for engine invariant violations. The dispatch
// loop never recovers it.
type FatalError struct {
	Msg string
}

func (f FatalError) Error() string { return "kestrel: fatal: " + f.Msg }

func fatalf(format string, args ...any) {
	panic(FatalError{Msg: fmt.Sprintf(format, args...)})
}

// NewException creates an exception instance of type t.
func (e *Engine) NewException(t TypeIndex, msg string) Value {
	v := e.newInstance(t)
	x := mustPayload[*Exception](e, v)
	x.Msg = msg
	if msg != "" {
		x.Args = e.NewTuple([]Value{e.NewStr(msg)})
	}
	return v
}

// Raise raises a new exception of type t. It does not return.
func (e *Engine) Raise(t TypeIndex, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	e.raiseValue(e.NewException(t, msg), false)
}

// RaiseValue raises an existing exception instance. It does not return.
func (e *Engine) RaiseValue(exc Value) {
	if !e.IsInstance(exc, TypeBaseException) {
		e.TypeError("exceptions must derive from BaseException")
	}
	e.raiseValue(exc, false)
}

func (e *Engine) raiseValue(exc Value, reraise bool) {
	if exc == e.memoryError && !reraise {
		x := mustPayload[*Exception](e, exc)
		x.Trace, x.tracedFrame = nil, nil
	}
	panic(SignaledException{Exception: exc, reraise: reraise})
}

// Shorthands for the common exception types.

func (e *Engine) TypeError(format string, args ...any) {
	e.Raise(TypeTypeError, format, args...)
}

func (e *Engine) ValueError(format string, args ...any) {
	e.Raise(TypeValueError, format, args...)
}

func (e *Engine) IndexError(format string, args ...any) {
	e.Raise(TypeIndexError, format, args...)
}

func (e *Engine) ZeroDivisionError(format string, args ...any) {
	e.Raise(TypeZeroDivisionError, format, args...)
}

func (e *Engine) NameError(n Name) {
	e.Raise(TypeNameError, "name '%s' is not defined", n)
}

func (e *Engine) AttributeError(obj Value, n Name) {
	if t, ok := e.AsType(obj); ok {
		e.Raise(TypeAttributeError, "type object '%s' has no attribute '%s'", e.Type(t).Name, n)
	}
	e.Raise(TypeAttributeError, "'%s' object has no attribute '%s'", e.TypeName(obj), n)
}

func (e *Engine) KeyError(key Value) {
	exc := e.newInstance(TypeKeyError)
	x := mustPayload[*Exception](e, exc)
	x.Msg = e.Repr(key)
	x.Args = e.NewTuple([]Value{key})
	e.raiseValue(exc, false)
}

// ---------------------------------------------------------------------------
// Unwinding
// ---------------------------------------------------------------------------

// findHandler walks the block chain of the instruction that raised and
// returns the innermost enclosing try-except block, or -1.
func findHandler(f *Frame) int {
	ip := f.ip - 1
	if ip < 0 {
		ip = 0
	}
	for i := f.code.IBlocks[ip]; i >= 0; i = f.code.Blocks[i].Parent {
		if f.code.Blocks[i].Type == TryExcept {
			return i
		}
	}
	return -1
}

// handleRaise unwinds frames owned by the loop whose base frame index is
// base. It returns true when a handler was entered in one of them; the
// loop then resumes. Otherwise every frame down to and including base has
// been popped and the exception must propagate to the host caller.
func (e *Engine) handleRaise(sig SignaledException, base int) bool {
	x := mustPayload[*Exception](e, sig.Exception)
	reraise := sig.reraise
	for {
		f := e.topFrame()
		if !reraise || x.tracedFrame != f {
			x.Trace = append(x.Trace, e.traceEntry(f))
			x.tracedFrame = f
		}
		reraise = false

		if target := findHandler(f); target >= 0 {
			blk := f.code.Blocks[target]
			e.sp = f.locals + f.code.NLocals() + blk.BaseStackSize
			e.push(sig.Exception)
			f.ip = blk.End
			return true
		}
		idx := len(e.frames) - 1
		e.popFrame()
		if idx <= base {
			return false
		}
	}
}

func (e *Engine) traceEntry(f *Frame) TraceEntry {
	ip := f.ip - 1
	if ip < 0 {
		ip = 0
	}
	te := TraceEntry{
		Filename: f.code.Filename,
		Line:     f.code.LineOf(ip),
		Name:     f.code.Name,
	}
	if !f.isFunction() {
		te.Name = "<module>"
	}
	te.Snippet = f.code.SourceLine(te.Line)
	return te
}

// ---------------------------------------------------------------------------
// Host-visible errors
// ---------------------------------------------------------------------------

// Error is an exception that escaped to the host.
type Error struct {
	Type    string
	Message string
	Trace   []TraceEntry // outermost first
	Value   Value
}

// Summary returns "TypeName: message".
func (err *Error) Summary() string {
	if err.Message == "" {
		return err.Type
	}
	return err.Type + ": " + err.Message
}

// Error renders the full traceback.
func (err *Error) Error() string {
	var sb strings.Builder
	if len(err.Trace) > 0 {
		sb.WriteString("Traceback (most recent call last):\n")
	}
	for _, te := range err.Trace {
		fmt.Fprintf(&sb, "  File \"%s\", line %d, in %s\n", te.Filename, te.Line, te.Name)
		if snippet := strings.TrimSpace(te.Snippet); snippet != "" {
			fmt.Fprintf(&sb, "    %s\n    ^\n", snippet)
		}
	}
	sb.WriteString(err.Summary())
	return sb.String()
}

func (e *Engine) errorFromException(exc Value) *Error {
	x := mustPayload[*Exception](e, exc)
	trace := make([]TraceEntry, len(x.Trace))
	for i, te := range x.Trace {
		trace[len(trace)-1-i] = te
	}
	return &Error{
		Type:    e.TypeName(exc),
		Message: x.Msg,
		Trace:   trace,
		Value:   exc,
	}
}

// guard runs fn and converts an escaping guest exception into an *Error,
// restoring the stack and frames to their state on entry.
func (e *Engine) guard(fn func()) (err error) {
	sp, nframes := e.sp, len(e.frames)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		sig, ok := r.(SignaledException)
		if !ok {
			panic(r)
		}
		for len(e.frames) > nframes {
			e.popFrame()
		}
		e.sp = sp
		e.lastException = sig.Exception
		err = e.errorFromException(sig.Exception)
	}()
	fn()
	return nil
}

// LastException returns the most recent exception that escaped to the host.
func (e *Engine) LastException() Value { return e.lastException }

// ---------------------------------------------------------------------------
// Pending error slot for the embedding API
// ---------------------------------------------------------------------------

// CheckError returns the pending exception of the last failed embedding
// call, or nil.
func (e *Engine) CheckError() *Error {
	if e.pending == Null {
		return nil
	}
	return e.errorFromException(e.pending)
}

// ClearError resets the pending exception.
func (e *Engine) ClearError() {
	e.pending = Null
}

// protect runs fn for the embedding API: an escaping exception is stored in
// the pending slot and reported as false.
func (e *Engine) protect(fn func()) bool {
	sp, nframes := e.sp, len(e.frames)
	ok := true
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			sig, isSig := r.(SignaledException)
			if !isSig {
				panic(r)
			}
			for len(e.frames) > nframes {
				e.popFrame()
			}
			e.sp = sp
			e.pending = sig.Exception
			ok = false
		}()
		fn()
	}()
	return ok
}
