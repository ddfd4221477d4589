package vm

import (
	"bytes"
	"testing"
)

// newTestEngine returns an engine whose print() output is captured.
func newTestEngine(t *testing.T, opts Options) (*Engine, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts.Output = &out
	e := New(opts)
	t.Cleanup(e.Close)
	return e, &out
}

// mustExec runs module code in __main__ and fails the test on a guest error.
func mustExec(t *testing.T, e *Engine, code *Code) Value {
	t.Helper()
	if err := code.Validate(); err != nil {
		t.Fatalf("invalid code: %v", err)
	}
	v, err := e.Exec(code, Null)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	return v
}

// execError runs module code and returns the escaping guest error.
func execError(t *testing.T, e *Engine, code *Code) *Error {
	t.Helper()
	_, err := e.Exec(code, Null)
	if err == nil {
		t.Fatal("Exec succeeded, want an error")
	}
	gerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	return gerr
}

// callName emits name(args...) where args pushes argc positional values.
func callName(b *CodeBuilder, name string, argc int, args func()) {
	b.LoadName(name)
	b.EmitOp(OpLoadNull)
	if args != nil {
		args()
	}
	b.Call(argc, 0)
}

// callMethod emits recv.name(args...) with recv already on the stack.
func callMethod(b *CodeBuilder, name string, argc int, args func()) {
	b.LoadMethod(name)
	if args != nil {
		args()
	}
	b.Call(argc, 0)
}

func wantInt(t *testing.T, v Value, want int64) {
	t.Helper()
	if !v.IsSmallInt() {
		t.Fatalf("got non-int value %#x, want %d", uint64(v), want)
	}
	if got := v.SmallInt(); got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

func wantStr(t *testing.T, e *Engine, v Value, want string) {
	t.Helper()
	s, ok := e.AsStr(v)
	if !ok {
		t.Fatalf("got %s, want str %q", e.TypeName(v), want)
	}
	if s != want {
		t.Errorf("got %q, want %q", s, want)
	}
}
