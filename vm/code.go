package vm

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Code: immutable compiled code records
// ---------------------------------------------------------------------------

// BlockType tags a lexical block of a code record.
type BlockType uint8

const (
	NoBlock BlockType = iota
	ForLoop
	WhileLoop
	ContextManager
	TryExcept
)

var blockTypeNames = [...]string{"NO_BLOCK", "FOR_LOOP", "WHILE_LOOP", "CONTEXT_MANAGER", "TRY_EXCEPT"}

func (t BlockType) String() string {
	if int(t) < len(blockTypeNames) {
		return blockTypeNames[t]
	}
	return fmt.Sprintf("BLOCK_%d", t)
}

// hasSlot reports whether entering the block pushes an implicit stack
// slot (the loop iterator or the context manager).
func (t BlockType) hasSlot() bool {
	return t == ForLoop || t == ContextManager
}

// CodeBlock describes one lexical block. Block 0 is the root NoBlock with
// parent -1. BaseStackSize counts the implicit slots of every enclosing
// for/with block, the block's own slot included. End is the first
// instruction after the block; for TryExcept it is the handler entry.
type CodeBlock struct {
	Type          BlockType
	Parent        int
	BaseStackSize int
	Start         int
	End           int
}

// ConstKind tags a constant pool entry.
type ConstKind uint8

const (
	ConstNone ConstKind = iota
	ConstBool
	ConstInt
	ConstBigInt // decimal text in Str
	ConstFloat
	ConstStr
	ConstEllipsis
)

// Const is a literal in a constant pool.
type Const struct {
	Kind  ConstKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
}

// Constant constructors.
func NoneConst() Const           { return Const{Kind: ConstNone} }
func BoolConst(b bool) Const     { return Const{Kind: ConstBool, Bool: b} }
func IntConst(n int64) Const     { return Const{Kind: ConstInt, Int: n} }
func BigIntConst(s string) Const { return Const{Kind: ConstBigInt, Str: s} }
func FloatConst(f float64) Const { return Const{Kind: ConstFloat, Float: f} }
func StrConst(s string) Const    { return Const{Kind: ConstStr, Str: s} }
func EllipsisConst() Const       { return Const{Kind: ConstEllipsis} }

func (c Const) String() string {
	switch c.Kind {
	case ConstNone:
		return "None"
	case ConstBool:
		if c.Bool {
			return "True"
		}
		return "False"
	case ConstInt:
		return strconv.FormatInt(c.Int, 10)
	case ConstBigInt:
		return c.Str
	case ConstFloat:
		return strconv.FormatFloat(c.Float, 'g', -1, 64)
	case ConstStr:
		return strconv.Quote(c.Str)
	case ConstEllipsis:
		return "..."
	}
	return fmt.Sprintf("const(%d)", c.Kind)
}

// KwArg is a parameter with a default value. Index is its varnames slot.
type KwArg struct {
	Index int
	Key   string
	Value Const
}

// FuncDecl is a function declaration: its code and its signature. Args
// lists the varnames slots of required positional parameters in order.
// StarredArg and StarredKwarg are varnames slots, -1 when absent.
type FuncDecl struct {
	Code         *Code
	Args         []int
	KwArgs       []KwArg
	StarredArg   int
	StarredKwarg int
	Docstring    string
	Nested       bool // captures the enclosing function's locals

	once   sync.Once
	simple bool
	params map[Name]int // parameter name -> varnames slot
}

func (d *FuncDecl) prepare() {
	d.once.Do(func() {
		d.params = make(map[Name]int, len(d.Args)+len(d.KwArgs))
		names := d.Code.varNames()
		for _, i := range d.Args {
			d.params[names[i]] = i
		}
		for _, kw := range d.KwArgs {
			d.params[names[kw.Index]] = kw.Index
		}
		d.simple = len(d.KwArgs) == 0 && d.StarredArg < 0 && d.StarredKwarg < 0
		for i, a := range d.Args {
			if a != i {
				d.simple = false
			}
		}
	})
}

// Signature renders the declaration as name(a, b=1, *args, **kw).
func (d *FuncDecl) Signature() string {
	var parts []string
	for _, i := range d.Args {
		parts = append(parts, d.Code.VarNames[i])
	}
	if d.StarredArg >= 0 {
		parts = append(parts, "*"+d.Code.VarNames[d.StarredArg])
	}
	for _, kw := range d.KwArgs {
		parts = append(parts, kw.Key+"="+kw.Value.String())
	}
	if d.StarredKwarg >= 0 {
		parts = append(parts, "**"+d.Code.VarNames[d.StarredKwarg])
	}
	return d.Code.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Code is an immutable code record. Instrs, Lines and IBlocks are
// parallel: Lines gives the source line and IBlocks the innermost block of
// each instruction.
type Code struct {
	Name        string
	Filename    string
	Source      string
	Instrs      []Instr
	Lines       []int
	IBlocks     []int
	Blocks      []CodeBlock
	Consts      []Const
	Names       []string
	VarNames    []string
	FuncDecls   []*FuncDecl
	IsGenerator bool

	once     sync.Once
	names    []Name
	vars     []Name
	srcLines []string
}

func (c *Code) intern() {
	c.once.Do(func() {
		c.names = make([]Name, len(c.Names))
		for i, s := range c.Names {
			c.names[i] = Intern(s)
		}
		c.vars = make([]Name, len(c.VarNames))
		for i, s := range c.VarNames {
			c.vars[i] = Intern(s)
		}
		if c.Source != "" {
			c.srcLines = strings.Split(c.Source, "\n")
		}
	})
}

func (c *Code) nameAt(i int) Name {
	c.intern()
	return c.names[i]
}

func (c *Code) varNames() []Name {
	c.intern()
	return c.vars
}

// NLocals returns the number of fast locals.
func (c *Code) NLocals() int { return len(c.VarNames) }

// LineOf returns the source line of the instruction at ip.
func (c *Code) LineOf(ip int) int {
	if ip >= 0 && ip < len(c.Lines) {
		return c.Lines[ip]
	}
	return 0
}

// SourceLine returns the text of a 1-based source line, if known.
func (c *Code) SourceLine(line int) string {
	c.intern()
	if line < 1 || line > len(c.srcLines) {
		return ""
	}
	return c.srcLines[line-1]
}

// varIndex returns the fast-local slot for a name, or -1.
func (c *Code) varIndex(n Name) int {
	for i, v := range c.varNames() {
		if v == n {
			return i
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the structural invariants the dispatch loop relies on:
// operand bounds, block nesting, loop targets and stack effects on every
// reachable path. Records loaded from files must be validated before they
// are executed.
func (c *Code) Validate() error {
	return c.validate(map[*Code]bool{})
}

func (c *Code) validate(seen map[*Code]bool) error {
	if seen[c] {
		return nil
	}
	seen[c] = true

	n := len(c.Instrs)
	if len(c.Lines) != n || len(c.IBlocks) != n {
		return fmt.Errorf("code %s: %d instructions but %d lines and %d block indices",
			c.Name, n, len(c.Lines), len(c.IBlocks))
	}
	if len(c.Blocks) == 0 || c.Blocks[0].Type != NoBlock || c.Blocks[0].Parent != -1 {
		return fmt.Errorf("code %s: block 0 must be a root NO_BLOCK", c.Name)
	}
	for i, b := range c.Blocks[1:] {
		i++
		if b.Parent < 0 || b.Parent >= i {
			return fmt.Errorf("code %s: block %d has invalid parent %d", c.Name, i, b.Parent)
		}
		if b.Start < 0 || b.End < b.Start || b.End > n {
			return fmt.Errorf("code %s: block %d has invalid range [%d, %d)", c.Name, i, b.Start, b.End)
		}
		want := c.Blocks[b.Parent].BaseStackSize
		if b.Type.hasSlot() {
			want++
		}
		if b.BaseStackSize != want {
			return fmt.Errorf("code %s: block %d base stack size %d, want %d", c.Name, i, b.BaseStackSize, want)
		}
	}
	for ip, ins := range c.Instrs {
		if err := c.validateInstr(ip, ins); err != nil {
			return fmt.Errorf("code %s: instruction %d (%s): %w", c.Name, ip, ins, err)
		}
	}
	if err := c.checkStack(); err != nil {
		return fmt.Errorf("code %s: %w", c.Name, err)
	}
	for i, d := range c.FuncDecls {
		if d == nil || d.Code == nil {
			return fmt.Errorf("code %s: func decl %d has no code", c.Name, i)
		}
		if err := d.validate(); err != nil {
			return fmt.Errorf("code %s: func decl %d: %w", c.Name, i, err)
		}
		if err := d.Code.validate(seen); err != nil {
			return err
		}
	}
	return nil
}

func (c *Code) validateInstr(ip int, ins Instr) error {
	op := ins.Op()
	if !op.Valid() {
		return fmt.Errorf("unknown opcode")
	}
	if b := c.IBlocks[ip]; b < 0 || b >= len(c.Blocks) {
		return fmt.Errorf("block index %d out of range", b)
	}
	arg := ins.Arg()
	bound := func(what string, limit int) error {
		if arg < 0 || arg >= limit {
			return fmt.Errorf("%s index %d out of range [0, %d)", what, arg, limit)
		}
		return nil
	}
	switch op.Info().Arg {
	case ArgConst:
		return bound("const", len(c.Consts))
	case ArgName:
		return bound("name", len(c.Names))
	case ArgVar:
		return bound("varname", len(c.VarNames))
	case ArgFunc:
		return bound("func decl", len(c.FuncDecls))
	case ArgBlock:
		return bound("block", len(c.Blocks))
	case ArgTarget:
		if arg < 0 || arg > len(c.Instrs) {
			return fmt.Errorf("jump target %d out of range", arg)
		}
	}
	switch op {
	case OpBinaryOp:
		return bound("binary operator", int(numBinaryOps))
	case OpCompareOp:
		return bound("compare operator", int(numCompareOps))
	case OpYieldValue:
		if !c.IsGenerator {
			return fmt.Errorf("yield outside a generator")
		}
	}
	return nil
}

func (d *FuncDecl) validate() error {
	nvars := len(d.Code.VarNames)
	check := func(i int) error {
		if i < 0 || i >= nvars {
			return fmt.Errorf("parameter slot %d out of range", i)
		}
		return nil
	}
	for _, a := range d.Args {
		if err := check(a); err != nil {
			return err
		}
	}
	for _, kw := range d.KwArgs {
		if err := check(kw.Index); err != nil {
			return err
		}
		if d.Code.VarNames[kw.Index] != kw.Key {
			return fmt.Errorf("keyword %q does not match slot %d", kw.Key, kw.Index)
		}
	}
	if d.StarredArg >= 0 {
		if err := check(d.StarredArg); err != nil {
			return err
		}
	}
	if d.StarredKwarg >= 0 {
		return check(d.StarredKwarg)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Native signatures
// ---------------------------------------------------------------------------

// ParseSignature builds a declaration for a native function from text such
// as "sorted(iterable, key=None, reverse=False)". Defaults must be literals.
func ParseSignature(sig string) (*FuncDecl, error) {
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return nil, fmt.Errorf("signature %q: expected name(params)", sig)
	}
	code := &Code{
		Name:   strings.TrimSpace(sig[:open]),
		Blocks: []CodeBlock{{Type: NoBlock, Parent: -1}},
	}
	decl := &FuncDecl{Code: code, StarredArg: -1, StarredKwarg: -1}
	body := strings.TrimSpace(sig[open+1 : len(sig)-1])
	if body == "" {
		return decl, nil
	}
	for _, p := range splitParams(body) {
		p = strings.TrimSpace(p)
		slot := len(code.VarNames)
		switch {
		case strings.HasPrefix(p, "**"):
			code.VarNames = append(code.VarNames, p[2:])
			decl.StarredKwarg = slot
		case strings.HasPrefix(p, "*"):
			code.VarNames = append(code.VarNames, p[1:])
			decl.StarredArg = slot
		case strings.Contains(p, "="):
			eq := strings.IndexByte(p, '=')
			name := strings.TrimSpace(p[:eq])
			c, err := parseLiteral(strings.TrimSpace(p[eq+1:]))
			if err != nil {
				return nil, fmt.Errorf("signature %q: %w", sig, err)
			}
			code.VarNames = append(code.VarNames, name)
			decl.KwArgs = append(decl.KwArgs, KwArg{Index: slot, Key: name, Value: c})
		default:
			if len(decl.KwArgs) > 0 || decl.StarredArg >= 0 {
				return nil, fmt.Errorf("signature %q: required parameter %s after optional ones", sig, p)
			}
			code.VarNames = append(code.VarNames, p)
			decl.Args = append(decl.Args, slot)
		}
	}
	return decl, nil
}

// MustParseSignature is ParseSignature for signatures known at compile time.
func MustParseSignature(sig string) *FuncDecl {
	d, err := ParseSignature(sig)
	if err != nil {
		panic(err)
	}
	return d
}

func splitParams(s string) []string {
	var out []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == ',':
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func parseLiteral(s string) (Const, error) {
	switch s {
	case "None":
		return NoneConst(), nil
	case "True":
		return BoolConst(true), nil
	case "False":
		return BoolConst(false), nil
	case "...":
		return EllipsisConst(), nil
	}
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return StrConst(s[1 : len(s)-1]), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IntConst(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return FloatConst(f), nil
	}
	return Const{}, fmt.Errorf("unsupported default %q", s)
}
