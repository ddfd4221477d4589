package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/kestrel/vm"
	"github.com/chazu/kestrel/vm/codefile"
)

// writeProgram stores a record that prints greeting and then, when fail is
// set, raises ValueError.
func writeProgram(t *testing.T, dir, name, greeting string, fail bool) string {
	t.Helper()
	b := vm.NewCodeBuilder("<module>", "greet.ky")
	b.SetSource("print(greeting)\nraise ValueError('bad')")
	b.LoadName("print")
	b.EmitOp(vm.OpLoadNull)
	b.LoadStr(greeting)
	b.Call(1, 0)
	b.EmitOp(vm.OpPopTop)
	if fail {
		b.SetLine(2)
		b.LoadName("ValueError")
		b.EmitOp(vm.OpLoadNull)
		b.LoadStr("bad")
		b.Call(1, 0)
		b.EmitOp(vm.OpRaise)
	}
	b.ReturnNone()

	path := filepath.Join(dir, name)
	if err := codefile.WriteFile(path, b.Build()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "kestrel.toml"), []byte("[log]\nverbosity = 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunPrints(t *testing.T) {
	dir := t.TempDir()
	path := writeProgram(t, dir, "hello.kbc", "hello", false)

	out, err := execute(t, "run", "--config", dir, "--color", "off", "--instances", "1", path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "hello\n" {
		t.Errorf("output = %q, want %q", out, "hello\n")
	}
}

func TestRunInstances(t *testing.T) {
	dir := t.TempDir()
	path := writeProgram(t, dir, "hello.kmp", "hi", false)

	out, err := execute(t, "run", "--config", dir, "--color", "off", "--instances", "3", path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "hi\nhi\nhi\n" {
		t.Errorf("output = %q", out)
	}
}

func TestRunReportsGuestError(t *testing.T) {
	dir := t.TempDir()
	path := writeProgram(t, dir, "fail.kbc", "before", true)

	_, err := execute(t, "run", "--config", dir, "--color", "off", "--instances", "1", path)
	if err == nil {
		t.Fatal("expected an error")
	}
	gerr, ok := err.(*vm.Error)
	if !ok {
		t.Fatalf("error type = %T, want *vm.Error", err)
	}
	if gerr.Summary() != "ValueError: bad" {
		t.Errorf("summary = %q", gerr.Summary())
	}

	var buf bytes.Buffer
	printError(&buf, err)
	text := buf.String()
	for _, want := range []string{"Traceback", `"greet.ky", line 2`, "ValueError: bad"} {
		if !strings.Contains(text, want) {
			t.Errorf("traceback missing %q:\n%s", want, text)
		}
	}
}

func TestConvertAndDisassemble(t *testing.T) {
	dir := t.TempDir()
	src := writeProgram(t, dir, "prog.kbc", "x", false)
	dst := filepath.Join(dir, "prog.kmp")

	if _, err := execute(t, "convert", "--config", dir, src, dst); err != nil {
		t.Fatalf("convert: %v", err)
	}
	out, err := execute(t, "dis", "--config", dir, dst)
	if err != nil {
		t.Fatalf("dis: %v", err)
	}
	for _, want := range []string{"code <module> (greet.ky)", "LOAD_NAME", "(print)", "argc=1 kwargc=0"} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "check", "--config", dir, "--color", "off", src, dst)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if strings.Count(out, "ok ") != 2 {
		t.Errorf("check output = %q", out)
	}
}
