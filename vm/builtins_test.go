package vm

import (
	"fmt"
	"strings"
	"testing"
)

func builtin(t *testing.T, e *Engine, name string) Value {
	t.Helper()
	v, ok := e.Object(e.Builtins()).Attrs.Get(Intern(name))
	if !ok {
		t.Fatalf("builtin %s not registered", name)
	}
	return v
}

func intList(e *Engine, ns ...int64) Value {
	items := make([]Value, len(ns))
	for i, n := range ns {
		items[i] = FromSmallInt(n)
	}
	return e.NewList(items)
}

func TestBuiltinScalars(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	call := func(name string, args ...Value) Value { return e.Call(builtin(t, e, name), args...) }

	wantInt(t, call("len", e.NewStr("héllo")), 5)
	wantStr(t, e, call("repr", e.NewStr("a'b")), `"a'b"`)
	wantInt(t, call("abs", FromSmallInt(-7)), 7)
	if got := call("abs", FromFloat64(-2.5)).Float64(); got != 2.5 {
		t.Errorf("abs(-2.5) = %v", got)
	}
	if got := e.Repr(call("divmod", FromSmallInt(-7), FromSmallInt(2))); got != "(-4, 1)" {
		t.Errorf("divmod(-7, 2) = %s", got)
	}
	wantStr(t, e, call("chr", FromSmallInt(955)), "λ")
	wantInt(t, call("ord", e.NewStr("λ")), 955)
	if call("callable", builtin(t, e, "len")) != e.True || call("callable", FromSmallInt(1)) != e.False {
		t.Error("callable()")
	}
}

func TestBuiltinAggregates(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	call := func(name string, args ...Value) Value { return e.Call(builtin(t, e, name), args...) }

	l := intList(e, 3, 1, 2)
	e.AddRoot(l)
	defer e.RemoveRoot(l)

	wantInt(t, call("sum", l), 6)
	wantInt(t, call("sum", l, FromSmallInt(10)), 16)
	wantInt(t, call("min", l), 1)
	wantInt(t, call("max", l), 3)
	wantInt(t, call("max", FromSmallInt(4), FromSmallInt(9), FromSmallInt(2)), 9)
	if got := e.Repr(call("sorted", l)); got != "[1, 2, 3]" {
		t.Errorf("sorted = %s", got)
	}
	if got := e.Repr(l); got != "[3, 1, 2]" {
		t.Errorf("sorted must not modify its argument: %s", got)
	}
	if call("any", intList(e, 0, 0, 1)) != e.True || call("all", intList(e, 1, 0)) != e.False {
		t.Error("any/all")
	}
	if call("all", intList(e)) != e.True {
		t.Error("all([]) should be True")
	}
}

func TestSortedWithKeywords(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	l := intList(e, 3, -5, 1)
	e.AddRoot(l)
	defer e.RemoveRoot(l)

	// sorted(l, key=abs, reverse=True)
	e.Push(builtin(t, e, "sorted"))
	e.Push(Null)
	e.Push(l)
	e.Push(Intern("key").Value())
	e.Push(builtin(t, e, "abs"))
	e.Push(Intern("reverse").Value())
	e.Push(e.True)
	if !e.CallStack(1, 2) {
		t.Fatalf("sorted failed: %v", e.CheckError())
	}
	if got := e.Repr(e.Pop()); got != "[-5, 3, 1]" {
		t.Errorf("sorted(key=abs, reverse=True) = %s", got)
	}
}

func TestMinMaxErrors(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	if e.Protect(func() { e.Call(builtin(t, e, "min"), intList(e)) }) {
		t.Fatal("min([]) should fail")
	}
	if err := e.CheckError(); err.Type != "ValueError" {
		t.Errorf("min([]) error = %s", err.Summary())
	}
	e.ClearError()
}

func TestBuiltinIterators(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	list := builtin(t, e, "list")
	toList := func(name string, args ...Value) string {
		it := e.Call(builtin(t, e, name), args...)
		e.Push(it)
		defer e.Pop()
		return e.Repr(e.Call(list, it))
	}
	l := intList(e, 1, 2, 3)
	e.AddRoot(l)
	defer e.RemoveRoot(l)

	tests := []struct {
		name string
		args []Value
		want string
	}{
		{"enumerate", []Value{l}, "[(0, 1), (1, 2), (2, 3)]"},
		{"zip", []Value{l, e.NewStr("ab")}, "[(1, 'a'), (2, 'b')]"},
		{"map", []Value{builtin(t, e, "repr"), l}, "['1', '2', '3']"},
		{"filter", []Value{e.None, intList(e, 0, 4, 0, 5)}, "[4, 5]"},
		{"reversed", []Value{l}, "[3, 2, 1]"},
		{"iter", []Value{l}, "[1, 2, 3]"},
	}
	for _, tt := range tests {
		if got := toList(tt.name, tt.args...); got != tt.want {
			t.Errorf("list(%s(...)) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestRange(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	rng := builtin(t, e, "range")

	r := e.Call(rng, FromSmallInt(0), FromSmallInt(10), FromSmallInt(3))
	e.AddRoot(r)
	defer e.RemoveRoot(r)
	if e.Len(r) != 4 {
		t.Errorf("len(range(0, 10, 3)) = %d", e.Len(r))
	}
	wantInt(t, e.GetItem(r, FromSmallInt(-1)), 9)
	if !e.Contains(r, FromSmallInt(6)) || e.Contains(r, FromSmallInt(7)) {
		t.Error("range containment")
	}
	if got := e.Repr(r); got != "range(0, 10, 3)" {
		t.Errorf("repr = %s", got)
	}
	if got := e.Repr(e.Call(builtin(t, e, "list"), e.Call(rng, FromSmallInt(5), FromSmallInt(0), FromSmallInt(-2)))); got != "[5, 3, 1]" {
		t.Errorf("list(range(5, 0, -2)) = %s", got)
	}

	if e.Protect(func() { e.Call(rng, FromSmallInt(0), FromSmallInt(1), FromSmallInt(0)) }) {
		t.Fatal("zero step should fail")
	}
	if err := e.CheckError(); err.Type != "ValueError" {
		t.Errorf("zero step error = %s", err.Summary())
	}
	e.ClearError()
}

func TestListSlicing(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	l := intList(e, 0, 1, 2, 3, 4, 5)
	e.AddRoot(l)
	defer e.RemoveRoot(l)

	tests := []struct {
		start, stop, step Value
		want              string
	}{
		{FromSmallInt(1), FromSmallInt(4), e.None, "[1, 2, 3]"},
		{e.None, e.None, FromSmallInt(-2), "[5, 3, 1]"},
		{FromSmallInt(-2), e.None, e.None, "[4, 5]"},
		{FromSmallInt(10), FromSmallInt(20), e.None, "[]"},
	}
	for _, tt := range tests {
		sl := e.NewSlice(tt.start, tt.stop, tt.step)
		if got := e.Repr(e.GetItem(l, sl)); got != tt.want {
			t.Errorf("l[%s] = %s, want %s", e.Repr(sl), got, tt.want)
		}
	}
}

func TestIsinstanceWithTuple(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	types := e.NewTuple([]Value{e.TypeValue(TypeStr), e.TypeValue(TypeInt)})
	isinstance := builtin(t, e, "isinstance")
	if e.Call(isinstance, e.True, types) != e.True {
		t.Error("bool is an int")
	}
	if e.Call(isinstance, FromFloat64(1), types) != e.False {
		t.Error("float is neither str nor int")
	}
}

func TestGetattrDefault(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	getattr := builtin(t, e, "getattr")
	obj := e.NewList(nil)
	e.AddRoot(obj)
	defer e.RemoveRoot(obj)

	wantInt(t, e.Call(getattr, obj, e.NewStr("missing"), FromSmallInt(3)), 3)
	if e.Call(builtin(t, e, "hasattr"), obj, e.NewStr("append")) != e.True {
		t.Error("list has append")
	}
	if e.Protect(func() { e.Call(getattr, obj, e.NewStr("missing")) }) {
		t.Fatal("getattr without default should fail")
	}
	if err := e.CheckError(); err.Type != "AttributeError" {
		t.Errorf("error = %s", err.Summary())
	}
	e.ClearError()
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

func importProgram(name string) *Code {
	b := NewCodeBuilder("<module>", "import.ky")
	b.Emit(OpImportName, b.Name(name))
	b.LoadAttr("answer")
	b.Return()
	return b.Build()
}

func TestRegisteredModuleImport(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	e.RegisterModule("host", func(e *Engine, m Value) {
		e.BindFunc(m, "twice", 1, func(e *Engine, args ArgsView) Value {
			return e.BinaryOp(BinMul, args[0], FromSmallInt(2))
		})
		e.Object(m).Attrs.Set(Intern("answer"), FromSmallInt(42))
	})
	wantInt(t, mustExec(t, e, importProgram("host")), 42)
}

func TestImporterRunsModuleCodeOnce(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	loads := 0
	e.SetImporter(func(e *Engine, name string) (*Code, error) {
		if name != "lib" {
			return nil, nil
		}
		loads++
		b := NewCodeBuilder("<module>", "lib.ky")
		b.LoadInt(7)
		b.StoreName("answer")
		b.ReturnNone()
		return b.Build(), nil
	})

	wantInt(t, mustExec(t, e, importProgram("lib")), 7)
	wantInt(t, mustExec(t, e, importProgram("lib")), 7)
	if loads != 1 {
		t.Errorf("importer called %d times, want 1", loads)
	}

	err := execError(t, e, importProgram("nothing"))
	if err.Type != "ImportError" || !strings.Contains(err.Message, "nothing") {
		t.Errorf("error = %s", err.Summary())
	}
}

func TestFailedImportIsForgotten(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	attempts := 0
	e.SetImporter(func(e *Engine, name string) (*Code, error) {
		attempts++
		if attempts == 1 {
			b := NewCodeBuilder("<module>", "flaky.ky")
			callName(b, "ValueError", 1, func() { b.LoadStr("first load fails") })
			b.EmitOp(OpRaise)
			return b.Build(), nil
		}
		return nil, fmt.Errorf("disk on fire")
	})

	if err := execError(t, e, importProgram("flaky")); err.Type != "ValueError" {
		t.Fatalf("first import = %s", err.Summary())
	}
	if _, ok := e.Module("flaky"); ok {
		t.Fatal("failed module should not stay registered")
	}
	err := execError(t, e, importProgram("flaky"))
	if err.Type != "ImportError" || !strings.Contains(err.Message, "disk on fire") {
		t.Errorf("second import = %s", err.Summary())
	}
}
