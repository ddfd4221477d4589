package vm

import (
	"strings"
	"testing"
)

func TestValidateStackEffects(t *testing.T) {
	tests := []struct {
		name string
		emit func(b *CodeBuilder)
		want string // empty when the code is valid
	}{
		{"underflow", func(b *CodeBuilder) {
			b.EmitOp(OpPopTop)
			b.Emit(OpBuildTuple, 3)
			b.Return()
		}, "needs 1 stack values, has 0"},
		{"short call window", func(b *CodeBuilder) {
			b.LoadName("print")
			b.LoadInt(1)
			b.Call(1, 0)
			b.Return()
		}, "needs 3 stack values, has 2"},
		{"negative count", func(b *CodeBuilder) {
			b.Emit(OpBuildList, -1)
			b.Return()
		}, "negative count"},
		{"bad slice", func(b *CodeBuilder) {
			b.Emit(OpBuildSlice, 4)
			b.Return()
		}, "slice of 4 values"},
		{"break outside loop", func(b *CodeBuilder) {
			b.EnterBlock(TryExcept)
			b.Emit(OpLoopBreak, 1)
			b.ExitBlock()
			b.ReturnNone()
		}, "not a loop"},
		{"break to root", func(b *CodeBuilder) {
			b.Emit(OpLoopBreak, 0)
		}, "loop target must be a nested block"},
		{"handler starts with the exception", func(b *CodeBuilder) {
			b.EnterBlock(TryExcept)
			b.ReturnNone()
			b.ExitBlock()
			b.EmitOp(OpPopException)
			b.ReturnNone()
		}, ""},
		{"unreachable code is not checked", func(b *CodeBuilder) {
			b.ReturnNone()
			b.EmitOp(OpPopTop)
		}, ""},
		{"pushing loop", func(b *CodeBuilder) {
			top := b.NewLabel()
			b.Mark(top)
			b.LoadInt(1)
			b.EmitJump(OpJumpAbsolute, top)
		}, ""},
		{"popping loop", func(b *CodeBuilder) {
			b.LoadInt(1)
			top := b.NewLabel()
			b.Mark(top)
			b.EmitOp(OpPopTop)
			b.EmitJump(OpJumpAbsolute, top)
		}, "needs 1 stack values, has 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewCodeBuilder("<module>", "check.ky")
			tt.emit(b)
			err := b.Build().Validate()
			switch {
			case tt.want == "" && err != nil:
				t.Fatalf("Validate: %v", err)
			case tt.want != "" && err == nil:
				t.Fatalf("Validate accepted code, want error containing %q", tt.want)
			case tt.want != "" && !strings.Contains(err.Error(), tt.want):
				t.Errorf("Validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateChecksFunctionBodies(t *testing.T) {
	fb := NewFuncBuilder("f(a)", "check.ky")
	fb.EmitOp(OpRotTwo)
	fb.ReturnNone()

	b := NewCodeBuilder("<module>", "check.ky")
	b.LoadFunction(fb.BuildFunc())
	b.Return()

	err := b.Build().Validate()
	if err == nil || !strings.Contains(err.Error(), "code f") {
		t.Errorf("Validate = %v, want an error naming f", err)
	}
}
