package vm

import (
	"context"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Basic evaluation
// ---------------------------------------------------------------------------

func TestModuleArithmetic(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	// x = 6; y = 7; return x * y
	b := NewCodeBuilder("<module>", "arith.ky")
	b.LoadInt(6)
	b.StoreName("x")
	b.LoadInt(7)
	b.StoreName("y")
	b.LoadName("x")
	b.LoadName("y")
	b.BinaryOp(BinMul)
	b.Return()

	wantInt(t, mustExec(t, e, b.Build()), 42)
	if v, ok := e.Object(e.Main()).Attrs.Get(Intern("x")); !ok || v.SmallInt() != 6 {
		t.Error("module global x not stored in __main__")
	}
	if e.StackDepth() != 0 || len(e.Frames()) != 0 {
		t.Errorf("stack depth %d, frames %d after Exec", e.StackDepth(), len(e.Frames()))
	}
}

func TestFallingOffTheEndReturnsNone(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	b := NewCodeBuilder("<module>", "empty.ky")
	b.EmitOp(OpNop)
	if v := mustExec(t, e, b.Build()); v != e.None {
		t.Errorf("got %s, want None", e.Repr(v))
	}
}

func TestPrintWritesToOutput(t *testing.T) {
	e, out := newTestEngine(t, Options{})
	b := NewCodeBuilder("<module>", "print.ky")
	callName(b, "print", 3, func() {
		b.LoadStr("answer")
		b.LoadInt(42)
		b.LoadConst(FloatConst(1.5))
	})
	b.EmitOp(OpPopTop)
	b.ReturnNone()
	mustExec(t, e, b.Build())

	if got := out.String(); got != "answer 42 1.5\n" {
		t.Errorf("output = %q", got)
	}
}

func TestUnpackSequence(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	// a, b = (1, 2); return a * 10 + b
	b := NewCodeBuilder("<module>", "unpack.ky")
	b.LoadInt(1)
	b.LoadInt(2)
	b.Emit(OpBuildTuple, 2)
	b.Emit(OpUnpackSequence, 2)
	b.StoreName("b")
	b.StoreName("a")
	b.LoadName("a")
	b.LoadInt(10)
	b.BinaryOp(BinMul)
	b.LoadName("b")
	b.BinaryOp(BinAdd)
	b.Return()

	wantInt(t, mustExec(t, e, b.Build()), 12)
}

func TestNameErrorForUnknownName(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	b := NewCodeBuilder("<module>", "name.ky")
	b.LoadName("missing_name")
	b.Return()

	err := execError(t, e, b.Build())
	if err.Type != "NameError" || !strings.Contains(err.Message, "missing_name") {
		t.Errorf("error = %s", err.Summary())
	}
}

// ---------------------------------------------------------------------------
// Vectorcall
// ---------------------------------------------------------------------------

// buildKwFunc declares f(a, b, c=10, **kw): return a + b + c + 100 * len(kw)
func buildKwFunc() *FuncDecl {
	fb := NewFuncBuilder("f(a, b, c=10, **kw)", "call.ky")
	fb.LoadFast("a")
	fb.LoadFast("b")
	fb.BinaryOp(BinAdd)
	fb.LoadFast("c")
	fb.BinaryOp(BinAdd)
	fb.LoadInt(100)
	callName(fb, "len", 1, func() { fb.LoadFast("kw") })
	fb.BinaryOp(BinMul)
	fb.BinaryOp(BinAdd)
	fb.Return()
	return fb.BuildFunc()
}

func TestVectorcallPositionalDefaultAndKwargs(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	// return (f(1, 2, x=5), f(1, 2, c=3), f(b=2, a=1))
	b := NewCodeBuilder("<module>", "call.ky")
	b.LoadFunction(buildKwFunc())
	b.StoreName("f")

	b.LoadName("f")
	b.EmitOp(OpLoadNull)
	b.LoadInt(1)
	b.LoadInt(2)
	b.LoadKwName("x")
	b.LoadInt(5)
	b.Call(2, 1)

	b.LoadName("f")
	b.EmitOp(OpLoadNull)
	b.LoadInt(1)
	b.LoadInt(2)
	b.LoadKwName("c")
	b.LoadInt(3)
	b.Call(2, 1)

	b.LoadName("f")
	b.EmitOp(OpLoadNull)
	b.LoadKwName("b")
	b.LoadInt(2)
	b.LoadKwName("a")
	b.LoadInt(1)
	b.Call(0, 2)

	b.Emit(OpBuildTuple, 3)
	b.Return()

	items, ok := e.seqItems(mustExec(t, e, b.Build()))
	if !ok || len(items) != 3 {
		t.Fatal("expected a 3-tuple")
	}
	wantInt(t, items[0], 113)
	wantInt(t, items[1], 6)
	wantInt(t, items[2], 13)
}

func TestVectorcallBindingErrors(t *testing.T) {
	tests := []struct {
		name string
		emit func(b *CodeBuilder)
		want string
	}{
		{"missing", func(b *CodeBuilder) {
			b.LoadInt(1)
			b.Call(1, 0)
		}, "missing required argument 'b'"},
		{"too many", func(b *CodeBuilder) {
			b.LoadInt(1)
			b.LoadInt(2)
			b.LoadInt(3)
			b.LoadInt(4)
			b.Call(4, 0)
		}, "positional arguments"},
		{"duplicate", func(b *CodeBuilder) {
			b.LoadInt(1)
			b.LoadInt(2)
			b.LoadKwName("a")
			b.LoadInt(3)
			b.Call(2, 1)
		}, "multiple values for argument 'a'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, Options{})
			b := NewCodeBuilder("<module>", "call.ky")
			b.LoadFunction(buildKwFunc())
			b.StoreName("f")
			b.LoadName("f")
			b.EmitOp(OpLoadNull)
			tt.emit(b)
			b.Return()

			err := execError(t, e, b.Build())
			if err.Type != "TypeError" || !strings.Contains(err.Message, tt.want) {
				t.Errorf("error = %s, want TypeError containing %q", err.Summary(), tt.want)
			}
			if e.StackDepth() != 0 {
				t.Errorf("stack depth %d after failed call", e.StackDepth())
			}
		})
	}
}

func TestUnexpectedKeywordArgument(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	// def g(a, b=2): return a + b
	fb := NewFuncBuilder("g(a, b=2)", "call.ky")
	fb.LoadFast("a")
	fb.LoadFast("b")
	fb.BinaryOp(BinAdd)
	fb.Return()

	// g(1, x=2)
	b := NewCodeBuilder("<module>", "call.ky")
	b.LoadFunction(fb.BuildFunc())
	b.StoreName("g")
	b.LoadName("g")
	b.EmitOp(OpLoadNull)
	b.LoadInt(1)
	b.LoadKwName("x")
	b.LoadInt(2)
	b.Call(1, 1)
	b.Return()

	err := execError(t, e, b.Build())
	if err.Type != "TypeError" || !strings.Contains(err.Message, "unexpected keyword argument 'x'") {
		t.Errorf("error = %s", err.Summary())
	}
	if e.StackDepth() != 0 {
		t.Errorf("stack depth %d after failed call", e.StackDepth())
	}
}

func TestHostCallGuestFunction(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	b := NewCodeBuilder("<module>", "call.ky")
	b.LoadFunction(buildKwFunc())
	b.StoreName("f")
	b.ReturnNone()
	mustExec(t, e, b.Build())

	f, ok := e.GetAttrName(e.Main(), Intern("f"))
	if !ok {
		t.Fatal("f not defined")
	}
	wantInt(t, e.Call(f, FromSmallInt(20), FromSmallInt(22)), 52)

	// Keyword window through the embedding API.
	e.Push(f)
	e.Push(Null)
	e.Push(FromSmallInt(1))
	e.Push(FromSmallInt(1))
	e.Push(Intern("c").Value())
	e.Push(FromSmallInt(0))
	if !e.CallStack(2, 1) {
		t.Fatalf("CallStack failed: %v", e.CheckError())
	}
	wantInt(t, e.Pop(), 2)

	// A failing call leaves the pending error and an empty window.
	e.Push(f)
	e.Push(Null)
	if e.CallStack(0, 0) {
		t.Fatal("CallStack with no arguments should fail")
	}
	if perr := e.CheckError(); perr == nil || perr.Type != "TypeError" {
		t.Errorf("CheckError = %v", perr)
	}
	e.ClearError()
	if e.CheckError() != nil || e.StackDepth() != 0 {
		t.Error("error state not cleared")
	}
}

// ---------------------------------------------------------------------------
// Stack overflow
// ---------------------------------------------------------------------------

// recursionProgram builds: def rec(n): return rec(n + 1); rec(0)
func recursionProgram() *Code {
	fb := NewFuncBuilder("rec(n)", "rec.ky")
	callName(fb, "rec", 1, func() {
		fb.LoadFast("n")
		fb.LoadInt(1)
		fb.BinaryOp(BinAdd)
	})
	fb.Return()

	b := NewCodeBuilder("<module>", "rec.ky")
	b.LoadFunction(fb.BuildFunc())
	b.StoreName("rec")
	callName(b, "rec", 1, func() { b.LoadInt(0) })
	b.Return()
	return b.Build()
}

func TestFrameDepthOverflow(t *testing.T) {
	e, _ := newTestEngine(t, Options{MaxFrames: 50})
	err := execError(t, e, recursionProgram())
	if err.Type != "StackOverflowError" {
		t.Fatalf("error = %s, want StackOverflowError", err.Summary())
	}
	if len(err.Trace) < 40 {
		t.Errorf("trace has %d entries, want one per frame", len(err.Trace))
	}
	if len(e.Frames()) != 0 || e.StackDepth() != 0 {
		t.Errorf("frames %d, stack %d after overflow", len(e.Frames()), e.StackDepth())
	}

	// The engine stays usable.
	b := NewCodeBuilder("<module>", "after.ky")
	b.LoadInt(1)
	b.Return()
	wantInt(t, mustExec(t, e, b.Build()), 1)
}

func TestValueStackOverflow(t *testing.T) {
	e, _ := newTestEngine(t, Options{MaxStack: 128, MaxFrames: 100000})
	err := execError(t, e, recursionProgram())
	if err.Type != "StackOverflowError" {
		t.Fatalf("error = %s, want StackOverflowError", err.Summary())
	}
	if len(e.Frames()) != 0 || e.StackDepth() != 0 {
		t.Errorf("frames %d, stack %d after overflow", len(e.Frames()), e.StackDepth())
	}
}

func TestStackOverflowIsCatchable(t *testing.T) {
	e, _ := newTestEngine(t, Options{MaxFrames: 30})

	// try: rec(0) except StackOverflowError: return "caught"
	fb := NewFuncBuilder("rec(n)", "rec.ky")
	callName(fb, "rec", 1, func() { fb.LoadFast("n") })
	fb.Return()

	b := NewCodeBuilder("<module>", "rec.ky")
	b.LoadFunction(fb.BuildFunc())
	b.StoreName("rec")
	b.EnterBlock(TryExcept)
	callName(b, "rec", 1, func() { b.LoadInt(0) })
	b.Return()
	b.ExitBlock()
	reraise := b.NewLabel()
	b.LoadName("StackOverflowError")
	b.EmitOp(OpExceptionMatch)
	b.EmitJump(OpPopJumpIfFalse, reraise)
	b.EmitOp(OpPopException)
	b.LoadStr("caught")
	b.Return()
	b.Mark(reraise)
	b.EmitOp(OpReRaise)

	wantStr(t, e, mustExec(t, e, b.Build()), "caught")
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// emitHandler emits an except clause at the current position: when the
// exception on the stack matches typeName, result is set to label and
// control continues at after; otherwise the exception is re-raised.
func emitHandler(b *CodeBuilder, typeName, label string, after *Label) {
	reraise := b.NewLabel()
	b.LoadName(typeName)
	b.EmitOp(OpExceptionMatch)
	b.EmitJump(OpPopJumpIfFalse, reraise)
	b.EmitOp(OpPopException)
	b.LoadStr(label)
	b.StoreName("result")
	b.EmitJump(OpJumpAbsolute, after)
	b.Mark(reraise)
	b.EmitOp(OpReRaise)
}

func TestNestedTryResumesAtMiddleHandler(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	// result = "none"
	// try:
	//     try:
	//         try:
	//             raise TypeError("boom")
	//         except ValueError: result = "inner"
	//     except TypeError: result = "middle"
	// except Exception: result = "outer"
	// return result
	b := NewCodeBuilder("<module>", "try.ky")
	b.LoadStr("none")
	b.StoreName("result")
	innerAfter, middleAfter, outerAfter := b.NewLabel(), b.NewLabel(), b.NewLabel()

	b.EnterBlock(TryExcept)
	b.EnterBlock(TryExcept)
	b.EnterBlock(TryExcept)
	callName(b, "TypeError", 1, func() { b.LoadStr("boom") })
	b.EmitOp(OpRaise)
	b.EmitJump(OpJumpAbsolute, innerAfter)
	b.ExitBlock()
	emitHandler(b, "ValueError", "inner", innerAfter)
	b.Mark(innerAfter)
	b.EmitJump(OpJumpAbsolute, middleAfter)
	b.ExitBlock()
	emitHandler(b, "TypeError", "middle", middleAfter)
	b.Mark(middleAfter)
	b.EmitJump(OpJumpAbsolute, outerAfter)
	b.ExitBlock()
	emitHandler(b, "Exception", "outer", outerAfter)
	b.Mark(outerAfter)

	b.LoadName("result")
	b.Return()

	wantStr(t, e, mustExec(t, e, b.Build()), "middle")
	if e.StackDepth() != 0 {
		t.Errorf("stack depth %d after handled exception", e.StackDepth())
	}
}

func TestHandlerDiscardsPartialExpression(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	// try: (2, 3, raise KeyError) except: return 40
	// The values pushed before the raise are cut from the stack.
	b := NewCodeBuilder("<module>", "depth.ky")
	b.EnterBlock(TryExcept)
	b.LoadInt(2)
	b.LoadInt(3)
	callName(b, "KeyError", 1, func() { b.LoadStr("k") })
	b.EmitOp(OpRaise)
	b.ExitBlock()
	b.Emit(OpBuildTuple, 1)
	b.Return()

	v := mustExec(t, e, b.Build())
	items, ok := e.seqItems(v)
	if !ok || len(items) != 1 || e.TypeName(items[0]) != "KeyError" {
		t.Fatalf("handler saw %s, want a 1-tuple holding only the exception", e.Repr(v))
	}
}

func TestTracebackOutermostFirst(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	fb := NewFuncBuilder("fail()", "trace.ky")
	fb.SetLine(2)
	callName(fb, "ValueError", 1, func() { fb.LoadStr("bad") })
	fb.EmitOp(OpRaise)
	fb.ReturnNone()

	b := NewCodeBuilder("<module>", "trace.ky")
	b.SetSource("def fail():\n    raise ValueError('bad')\nfail()")
	b.LoadFunction(fb.BuildFunc())
	b.StoreName("fail")
	b.SetLine(3)
	callName(b, "fail", 0, nil)
	b.Return()

	err := execError(t, e, b.Build())
	if err.Summary() != "ValueError: bad" {
		t.Errorf("summary = %q", err.Summary())
	}
	if len(err.Trace) != 2 {
		t.Fatalf("trace = %+v, want 2 entries", err.Trace)
	}
	if err.Trace[0].Name != "<module>" || err.Trace[0].Line != 3 {
		t.Errorf("outer entry = %+v", err.Trace[0])
	}
	if err.Trace[1].Name != "fail" || err.Trace[1].Line != 2 {
		t.Errorf("inner entry = %+v", err.Trace[1])
	}
	if !strings.Contains(err.Error(), "Traceback (most recent call last):") {
		t.Errorf("Error() = %q", err.Error())
	}
	if e.LastException() != err.Value {
		t.Error("LastException should be the escaped exception")
	}
}

func TestAssertRaisesAssertionError(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	b := NewCodeBuilder("<module>", "assert.ky")
	b.LoadStr("x must be positive")
	b.Emit(OpRaiseAssert, 1)
	b.ReturnNone()

	err := execError(t, e, b.Build())
	if err.Summary() != "AssertionError: x must be positive" {
		t.Errorf("summary = %q", err.Summary())
	}
}

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

// countProgram builds:
//
//	def count(n):
//	    i = 0
//	    while i < n:
//	        yield i
//	        i = i + 1
func countDecl() *FuncDecl {
	fb := NewFuncBuilder("count(n)", "gen.ky")
	fb.SetGenerator()
	fb.LoadInt(0)
	fb.StoreFast("i")
	loop := fb.EnterBlock(WhileLoop)
	body := fb.NewLabel()
	fb.LoadFast("i")
	fb.LoadFast("n")
	fb.CompareOp(CmpLt)
	fb.EmitJump(OpPopJumpIfTrue, body)
	fb.Emit(OpLoopBreak, loop)
	fb.Mark(body)
	fb.LoadFast("i")
	fb.EmitOp(OpYieldValue)
	fb.LoadFast("i")
	fb.LoadInt(1)
	fb.BinaryOp(BinAdd)
	fb.StoreFast("i")
	fb.Emit(OpLoopContinue, loop)
	fb.ExitBlock()
	fb.ReturnNone()
	return fb.BuildFunc()
}

func TestGeneratorYieldsInOrder(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	b := NewCodeBuilder("<module>", "gen.ky")
	b.LoadFunction(countDecl())
	b.StoreName("count")
	callName(b, "count", 1, func() { b.LoadInt(5) })
	b.Return()

	g := mustExec(t, e, b.Build())
	e.AddRoot(g)
	defer e.RemoveRoot(g)
	if e.TypeOf(g) != TypeGenerator {
		t.Fatalf("count(5) returned %s", e.TypeName(g))
	}
	wantStr(t, e, e.GetAttr(g, Intern("gi_state")), "fresh")

	var got []int64
	for {
		v := e.Next(g)
		if v == StopIter {
			break
		}
		got = append(got, v.SmallInt())
		wantStr(t, e, e.GetAttr(g, Intern("gi_state")), "suspended")
	}
	if len(got) != 5 {
		t.Fatalf("yielded %v, want 5 values", got)
	}
	for i, v := range got {
		if v != int64(i) {
			t.Fatalf("yielded %v, want 0..4 in order", got)
		}
	}
	wantStr(t, e, e.GetAttr(g, Intern("gi_state")), "exhausted")
	if e.Next(g) != StopIter {
		t.Error("exhausted generator should keep returning StopIter")
	}
	if e.StackDepth() != 0 || len(e.Frames()) != 0 {
		t.Errorf("stack %d, frames %d after iteration", e.StackDepth(), len(e.Frames()))
	}
}

func TestGeneratorExhaustedByException(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	// def once(): yield 1; raise ValueError('after one')
	fb := NewFuncBuilder("once()", "gen.ky")
	fb.SetGenerator()
	fb.LoadInt(1)
	fb.EmitOp(OpYieldValue)
	callName(fb, "ValueError", 1, func() { fb.LoadStr("after one") })
	fb.EmitOp(OpRaise)
	fb.ReturnNone()

	b := NewCodeBuilder("<module>", "gen.ky")
	b.LoadFunction(fb.BuildFunc())
	b.StoreName("once")
	callName(b, "once", 0, nil)
	b.Return()

	g := mustExec(t, e, b.Build())
	e.AddRoot(g)
	defer e.RemoveRoot(g)

	wantInt(t, e.Next(g), 1)
	if e.Protect(func() { e.Next(g) }) {
		t.Fatal("second next should raise")
	}
	if err := e.CheckError(); err.Type != "ValueError" || err.Message != "after one" {
		t.Errorf("error = %s", err.Summary())
	}
	e.ClearError()

	wantStr(t, e, e.GetAttr(g, Intern("gi_state")), "exhausted")
	for i := 0; i < 3; i++ {
		if e.Next(g) != StopIter {
			t.Fatalf("next #%d after the exception did not return StopIter", i+1)
		}
	}
	if e.StackDepth() != 0 || len(e.Frames()) != 0 {
		t.Errorf("stack %d, frames %d after the exception", e.StackDepth(), len(e.Frames()))
	}
}

func TestGeneratorInForLoopAndBuiltins(t *testing.T) {
	e, _ := newTestEngine(t, Options{GCMinThreshold: 16})

	// total = 0
	// for x in count(100): total = total + x
	// return (total, sum(count(4)), list(count(3)))
	b := NewCodeBuilder("<module>", "gen.ky")
	b.LoadFunction(countDecl())
	b.StoreName("count")
	b.LoadInt(0)
	b.StoreName("total")
	callName(b, "count", 1, func() { b.LoadInt(100) })
	b.EmitOp(OpGetIter)
	loop := b.EnterBlock(ForLoop)
	b.Emit(OpForIter, loop)
	b.StoreName("x")
	b.LoadName("total")
	b.LoadName("x")
	b.BinaryOp(BinAdd)
	b.StoreName("total")
	b.Emit(OpLoopContinue, loop)
	b.ExitBlock()
	b.LoadName("total")
	callName(b, "sum", 1, func() {
		callName(b, "count", 1, func() { b.LoadInt(4) })
	})
	callName(b, "list", 1, func() {
		callName(b, "count", 1, func() { b.LoadInt(3) })
	})
	b.Emit(OpBuildTuple, 3)
	b.Return()

	items, _ := e.seqItems(mustExec(t, e, b.Build()))
	wantInt(t, items[0], 4950)
	wantInt(t, items[1], 6)
	if got := e.Repr(items[2]); got != "[0, 1, 2]" {
		t.Errorf("list(count(3)) = %s", got)
	}
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

func TestClassesAndSuper(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	initB := NewFuncBuilder("__init__(self, x)", "class.ky")
	initB.LoadFast("x")
	initB.LoadFast("self")
	initB.StoreAttr("x")
	initB.ReturnNone()

	getA := NewFuncBuilder("get(self)", "class.ky")
	getA.LoadFast("self")
	getA.LoadAttr("x")
	getA.Return()

	getB := NewFuncBuilder("get(self)", "class.ky")
	callName(getB, "super", 0, nil)
	callMethod(getB, "get", 0, nil)
	getB.LoadInt(2)
	getB.BinaryOp(BinMul)
	getB.Return()

	// class A: __init__, get
	// class B(A): get -> super().get() * 2
	// b = B(21)
	// return (b.get(), isinstance(b, A), B.__name__)
	b := NewCodeBuilder("<module>", "class.ky")
	b.EmitOp(OpLoadNone)
	b.Emit(OpBeginClass, b.Name("A"))
	b.LoadFunction(initB.BuildFunc())
	b.Emit(OpStoreClassAttr, b.Name("__init__"))
	b.LoadFunction(getA.BuildFunc())
	b.Emit(OpStoreClassAttr, b.Name("get"))
	b.EmitOp(OpEndClass)
	b.StoreName("A")

	b.LoadName("A")
	b.Emit(OpBeginClass, b.Name("B"))
	b.LoadFunction(getB.BuildFunc())
	b.Emit(OpStoreClassAttr, b.Name("get"))
	b.EmitOp(OpEndClass)
	b.StoreName("B")

	callName(b, "B", 1, func() { b.LoadInt(21) })
	b.StoreName("b")
	b.LoadName("b")
	callMethod(b, "get", 0, nil)
	callName(b, "isinstance", 2, func() {
		b.LoadName("b")
		b.LoadName("A")
	})
	b.LoadName("B")
	b.LoadAttr("__name__")
	b.Emit(OpBuildTuple, 3)
	b.Return()

	items, ok := e.seqItems(mustExec(t, e, b.Build()))
	if !ok || len(items) != 3 {
		t.Fatal("expected a 3-tuple")
	}
	wantInt(t, items[0], 42)
	if items[1] != e.True {
		t.Error("isinstance(b, A) should be True")
	}
	wantStr(t, e, items[2], "B")
}

func TestClassDefiningEqIsUnhashable(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	eq := NewFuncBuilder("__eq__(self, other)", "eq.ky")
	eq.EmitOp(OpLoadTrue)
	eq.Return()

	b := NewCodeBuilder("<module>", "eq.ky")
	b.EmitOp(OpLoadNone)
	b.Emit(OpBeginClass, b.Name("P"))
	b.LoadFunction(eq.BuildFunc())
	b.Emit(OpStoreClassAttr, b.Name("__eq__"))
	b.EmitOp(OpEndClass)
	b.StoreName("P")
	callName(b, "hash", 1, func() { callName(b, "P", 0, nil) })
	b.Return()

	err := execError(t, e, b.Build())
	if err.Type != "TypeError" || !strings.Contains(err.Message, "unhashable") {
		t.Errorf("error = %s", err.Summary())
	}
}

// ---------------------------------------------------------------------------
// Closures and context managers
// ---------------------------------------------------------------------------

func TestNestedFunctionCapturesLocals(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	inner := NewFuncBuilder("inner(m)", "closure.ky")
	inner.SetNested()
	inner.LoadName("n")
	inner.LoadFast("m")
	inner.BinaryOp(BinAdd)
	inner.Return()

	outer := NewFuncBuilder("outer(n)", "closure.ky")
	outer.LoadFunction(inner.BuildFunc())
	outer.StoreFast("inner")
	outer.LoadFast("inner")
	outer.Return()

	// return outer(10)(5)
	b := NewCodeBuilder("<module>", "closure.ky")
	b.LoadFunction(outer.BuildFunc())
	b.StoreName("outer")
	callName(b, "outer", 1, func() { b.LoadInt(10) })
	b.EmitOp(OpLoadNull)
	b.LoadInt(5)
	b.Call(1, 0)
	b.Return()

	wantInt(t, mustExec(t, e, b.Build()), 15)
}

// logMethod declares name(self, *args): log.append(label)
func logMethod(sig, label string) *FuncDecl {
	fb := NewFuncBuilder(sig, "cm.ky")
	fb.LoadName("log")
	callMethod(fb, "append", 1, func() { fb.LoadStr(label) })
	fb.EmitOp(OpPopTop)
	fb.EmitOp(OpLoadNone)
	fb.Return()
	return fb.BuildFunc()
}

func TestContextManagerExitsOnBreakAndNormalPath(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	// log = []
	// class CM: __enter__ / __exit__ append to log
	// cm = CM()
	// with cm: log.append("body")
	// for i in range(3):
	//     with cm: break
	// return log
	b := NewCodeBuilder("<module>", "cm.ky")
	b.Emit(OpBuildList, 0)
	b.StoreName("log")
	b.EmitOp(OpLoadNone)
	b.Emit(OpBeginClass, b.Name("CM"))
	b.LoadFunction(logMethod("__enter__(self)", "enter"))
	b.Emit(OpStoreClassAttr, b.Name("__enter__"))
	b.LoadFunction(logMethod("__exit__(self, *exc)", "exit"))
	b.Emit(OpStoreClassAttr, b.Name("__exit__"))
	b.EmitOp(OpEndClass)
	b.StoreName("CM")
	callName(b, "CM", 0, nil)
	b.StoreName("cm")

	b.LoadName("cm")
	b.EnterBlock(ContextManager)
	b.EmitOp(OpWithEnter)
	b.EmitOp(OpPopTop)
	b.LoadName("log")
	callMethod(b, "append", 1, func() { b.LoadStr("body") })
	b.EmitOp(OpPopTop)
	b.ExitBlock()
	b.EmitOp(OpWithExit)

	callName(b, "range", 1, func() { b.LoadInt(3) })
	b.EmitOp(OpGetIter)
	loop := b.EnterBlock(ForLoop)
	b.Emit(OpForIter, loop)
	b.StoreName("i")
	b.LoadName("cm")
	b.EnterBlock(ContextManager)
	b.EmitOp(OpWithEnter)
	b.EmitOp(OpPopTop)
	b.Emit(OpLoopBreak, loop)
	b.ExitBlock()
	b.EmitOp(OpWithExit)
	b.Emit(OpLoopContinue, loop)
	b.ExitBlock()

	b.LoadName("log")
	b.Return()

	got := e.Repr(mustExec(t, e, b.Build()))
	want := "['enter', 'body', 'exit', 'enter', 'exit']"
	if got != want {
		t.Errorf("log = %s, want %s", got, want)
	}
	if i, _ := e.Object(e.Main()).Attrs.Get(Intern("i")); i.SmallInt() != 0 {
		t.Error("break should leave the loop on its first iteration")
	}
	if e.StackDepth() != 0 {
		t.Errorf("stack depth %d", e.StackDepth())
	}
}

// ---------------------------------------------------------------------------
// Interrupts
// ---------------------------------------------------------------------------

func infiniteLoop() *Code {
	b := NewCodeBuilder("<module>", "loop.ky")
	top := b.NewLabel()
	b.Mark(top)
	b.EmitOp(OpNop)
	b.EmitJump(OpJumpAbsolute, top)
	return b.Build()
}

func TestHookAbortsExecution(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	calls := 0
	e.SetHook(func(e *Engine, f *Frame) bool {
		calls++
		return calls < 100
	})
	err := execError(t, e, infiniteLoop())
	if err.Type != "KeyboardInterrupt" {
		t.Errorf("error = %s, want KeyboardInterrupt", err.Summary())
	}
	if calls != 100 {
		t.Errorf("hook called %d times, want 100", calls)
	}
	e.SetHook(nil)
}

func TestContextCancellation(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ExecContext(ctx, infiniteLoop(), Null)
	gerr, ok := err.(*Error)
	if !ok || gerr.Type != "KeyboardInterrupt" {
		t.Fatalf("err = %v, want KeyboardInterrupt", err)
	}
	if e.StackDepth() != 0 || len(e.Frames()) != 0 {
		t.Errorf("stack %d, frames %d after cancellation", e.StackDepth(), len(e.Frames()))
	}
}
