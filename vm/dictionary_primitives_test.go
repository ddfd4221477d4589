package vm

import (
	"fmt"
	"testing"
)

func TestDictInsertionOrder(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	d := e.NewDict()
	e.AddRoot(d)
	defer e.RemoveRoot(d)

	for _, k := range []string{"b", "a", "c"} {
		e.SetItem(d, e.NewStr(k), FromSmallInt(int64(len(k))))
	}
	e.DelItem(d, e.NewStr("a"))
	e.SetItem(d, e.NewStr("a"), FromSmallInt(9))
	e.SetItem(d, e.NewStr("b"), FromSmallInt(7))

	if got := e.Repr(d); got != "{'b': 7, 'c': 1, 'a': 9}" {
		t.Errorf("repr = %s", got)
	}
	if e.Len(d) != 3 {
		t.Errorf("len = %d", e.Len(d))
	}
}

func TestDictNumericKeysCompareEqual(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	d := e.NewDict()
	e.DictSet(d, FromSmallInt(1), e.NewStr("int"))
	e.DictSet(d, FromFloat64(1.0), e.NewStr("float"))
	e.DictSet(d, e.True, e.NewStr("bool"))

	if e.Len(d) != 1 {
		t.Fatalf("1, 1.0 and True should share one key, len = %d", e.Len(d))
	}
	v, ok := e.DictGet(d, FromSmallInt(1))
	if !ok {
		t.Fatal("key 1 missing")
	}
	wantStr(t, e, v, "bool")
}

func TestDictGrowAndCompact(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	d := e.NewDict()
	const n = 2000
	for i := 0; i < n; i++ {
		e.DictSet(d, FromSmallInt(int64(i)), FromSmallInt(int64(i*i)))
	}
	for i := 0; i < n; i += 3 {
		e.DelItem(d, FromSmallInt(int64(i)))
	}
	for i := 0; i < n; i++ {
		v, ok := e.DictGet(d, FromSmallInt(int64(i)))
		if ok != (i%3 != 0) {
			t.Fatalf("key %d present = %v", i, ok)
		}
		if ok && v.SmallInt() != int64(i*i) {
			t.Fatalf("d[%d] = %d", i, v.SmallInt())
		}
	}
	// Iteration order survives compaction.
	prev := int64(-1)
	e.dictOf(d).Range(func(k, _ Value) bool {
		if k.SmallInt() <= prev {
			t.Fatalf("order broken at %d after %d", k.SmallInt(), prev)
		}
		prev = k.SmallInt()
		return true
	})
}

func TestDictErrors(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	d := e.NewDict()
	e.AddRoot(d)
	defer e.RemoveRoot(d)

	tests := []struct {
		name string
		fn   func()
		want string
	}{
		{"missing key", func() { e.GetItem(d, e.NewStr("nope")) }, "KeyError"},
		{"unhashable key", func() { e.SetItem(d, e.NewList(nil), FromSmallInt(1)) }, "TypeError"},
		{"delete missing", func() { e.DelItem(d, FromSmallInt(5)) }, "KeyError"},
		{"pop missing", func() { e.CallMethod(d, Intern("pop"), FromSmallInt(5)) }, "KeyError"},
	}
	for _, tt := range tests {
		if e.Protect(tt.fn) {
			t.Errorf("%s: no error", tt.name)
			continue
		}
		if err := e.CheckError(); err.Type != tt.want {
			t.Errorf("%s: error = %s, want %s", tt.name, err.Summary(), tt.want)
		}
		e.ClearError()
	}
}

func TestDictMethods(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	d := e.NewDict()
	e.AddRoot(d)
	defer e.RemoveRoot(d)
	k := func(s string) Value { return e.NewStr(s) }

	e.DictSet(d, k("x"), FromSmallInt(1))

	wantInt(t, e.CallMethod(d, Intern("get"), k("x")), 1)
	if v := e.CallMethod(d, Intern("get"), k("y")); v != e.None {
		t.Errorf("get missing = %s, want None", e.Repr(v))
	}
	wantInt(t, e.CallMethod(d, Intern("get"), k("y"), FromSmallInt(5)), 5)
	wantInt(t, e.CallMethod(d, Intern("setdefault"), k("y"), FromSmallInt(2)), 2)
	wantInt(t, e.CallMethod(d, Intern("setdefault"), k("y"), FromSmallInt(3)), 2)

	if got := e.Repr(e.CallMethod(d, Intern("items"))); got != "[('x', 1), ('y', 2)]" {
		t.Errorf("items = %s", got)
	}
	if got := e.Repr(e.CallMethod(d, Intern("keys"))); got != "['x', 'y']" {
		t.Errorf("keys = %s", got)
	}

	c := e.CallMethod(d, Intern("copy"))
	e.AddRoot(c)
	defer e.RemoveRoot(c)
	wantInt(t, e.CallMethod(d, Intern("pop"), k("x")), 1)
	wantInt(t, e.CallMethod(d, Intern("pop"), k("x"), FromSmallInt(0)), 0)
	if e.Len(c) != 2 || e.Len(d) != 1 {
		t.Errorf("copy must be independent: len(c)=%d len(d)=%d", e.Len(c), e.Len(d))
	}

	other := e.NewDict()
	e.DictSet(other, k("z"), FromSmallInt(26))
	e.CallMethod(d, Intern("update"), other)
	if !e.Contains(d, k("z")) {
		t.Error("update did not add z")
	}
	if !e.Equal(d, e.CallMethod(d, Intern("copy"))) {
		t.Error("dict should equal its copy")
	}
	e.CallMethod(d, Intern("clear"))
	if e.Len(d) != 0 {
		t.Error("clear left entries")
	}
}

func TestDictRecursiveRepr(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	d := e.NewDict()
	e.DictSet(d, e.NewStr("self"), d)
	if got := e.Repr(d); got != "{'self': {...}}" {
		t.Errorf("repr = %s", got)
	}
}

func TestDictSurvivesCollection(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	d := e.NewDict()
	e.AddRoot(d)
	defer e.RemoveRoot(d)
	for i := 0; i < 50; i++ {
		e.DictSet(d, e.NewStr(fmt.Sprintf("k%d", i)), e.NewList(nil))
	}
	e.Collect()
	for i := 0; i < 50; i++ {
		v, ok := e.DictGet(d, e.NewStr(fmt.Sprintf("k%d", i)))
		if !ok || e.TypeOf(v) != TypeList {
			t.Fatalf("entry k%d lost", i)
		}
	}
}

// slowHashDecl declares __hash__(self) that allocates n lists before
// returning 1, so the dispatch loop reaches a collection point.
func slowHashDecl(n int) *FuncDecl {
	fb := NewFuncBuilder("__hash__(self)", "pairs.ky")
	callName(fb, "range", 1, func() { fb.LoadInt(n) })
	fb.EmitOp(OpGetIter)
	loop := fb.EnterBlock(ForLoop)
	fb.Emit(OpForIter, loop)
	fb.StoreFast("i")
	fb.Emit(OpBuildList, 0)
	fb.StoreFast("x")
	fb.Emit(OpLoopContinue, loop)
	fb.ExitBlock()
	fb.LoadInt(1)
	fb.Return()
	return fb.BuildFunc()
}

func TestDictFromGeneratedPairsSurvivesCollection(t *testing.T) {
	e, _ := newTestEngine(t, Options{GCMinThreshold: 64})

	// def pair(): yield K(); yield [7]
	pair := NewFuncBuilder("pair()", "pairs.ky")
	pair.SetGenerator()
	callName(pair, "K", 0, nil)
	pair.EmitOp(OpYieldValue)
	pair.LoadInt(7)
	pair.Emit(OpBuildList, 1)
	pair.EmitOp(OpYieldValue)
	pair.ReturnNone()

	// def pairs(): yield pair()
	pairs := NewFuncBuilder("pairs()", "pairs.ky")
	pairs.SetGenerator()
	callName(pairs, "pair", 0, nil)
	pairs.EmitOp(OpYieldValue)
	pairs.ReturnNone()

	// class K: __hash__ allocates
	// return dict(pairs()).values()
	b := NewCodeBuilder("<module>", "pairs.ky")
	b.EmitOp(OpLoadNone)
	b.Emit(OpBeginClass, b.Name("K"))
	b.LoadFunction(slowHashDecl(5000))
	b.Emit(OpStoreClassAttr, b.Name("__hash__"))
	b.EmitOp(OpEndClass)
	b.StoreName("K")
	b.LoadFunction(pair.BuildFunc())
	b.StoreName("pair")
	b.LoadFunction(pairs.BuildFunc())
	b.StoreName("pairs")
	callName(b, "dict", 1, func() { callName(b, "pairs", 0, nil) })
	callMethod(b, "values", 0, nil)
	b.Return()

	values := mustExec(t, e, b.Build())
	if e.Collections() == 0 {
		t.Fatal("__hash__ did not trigger a collection")
	}
	if got := e.Repr(values); got != "[[7]]" {
		t.Errorf("values = %s, want [[7]]", got)
	}
}
