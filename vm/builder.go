package vm

import "fmt"

// ---------------------------------------------------------------------------
// CodeBuilder: helper for constructing code records
// ---------------------------------------------------------------------------

// CodeBuilder assembles a Code record: instructions with their line and
// block tables, deduplicated constants and names, and the block tree.
type CodeBuilder struct {
	code     *Code
	decl     *FuncDecl // set for function bodies
	curBlock int
	line     int
	labels   []*Label

	consts map[Const]int
	names  map[string]int
	vars   map[string]int
}

// NewCodeBuilder starts a module-level code record.
func NewCodeBuilder(name, filename string) *CodeBuilder {
	return &CodeBuilder{
		code: &Code{
			Name:     name,
			Filename: filename,
			Blocks:   []CodeBlock{{Type: NoBlock, Parent: -1}},
		},
		line:   1,
		consts: make(map[Const]int),
		names:  make(map[string]int),
		vars:   make(map[string]int),
	}
}

// NewFuncBuilder starts a function body. The signature is parsed as by
// ParseSignature; its parameters become the first fast locals.
func NewFuncBuilder(sig, filename string) *CodeBuilder {
	decl := MustParseSignature(sig)
	b := NewCodeBuilder(decl.Code.Name, filename)
	for _, v := range decl.Code.VarNames {
		b.Var(v)
	}
	decl.Code = b.code
	b.decl = decl
	return b
}

// SetSource attaches source text used for trace snippets.
func (b *CodeBuilder) SetSource(src string) *CodeBuilder {
	b.code.Source = src
	return b
}

// SetLine sets the source line recorded for subsequent instructions.
func (b *CodeBuilder) SetLine(line int) *CodeBuilder {
	b.line = line
	return b
}

// SetGenerator marks the code as a generator body.
func (b *CodeBuilder) SetGenerator() *CodeBuilder {
	b.code.IsGenerator = true
	return b
}

// SetDocstring sets the docstring of a function body.
func (b *CodeBuilder) SetDocstring(doc string) *CodeBuilder {
	if b.decl != nil {
		b.decl.Docstring = doc
	}
	return b
}

// SetNested marks a function body as capturing its enclosing locals.
func (b *CodeBuilder) SetNested() *CodeBuilder {
	if b.decl != nil {
		b.decl.Nested = true
	}
	return b
}

// Pos returns the index of the next instruction.
func (b *CodeBuilder) Pos() int { return len(b.code.Instrs) }

// Emit appends an instruction and returns its index.
func (b *CodeBuilder) Emit(op Opcode, arg int) int {
	ip := len(b.code.Instrs)
	b.code.Instrs = append(b.code.Instrs, MakeInstr(op, arg))
	b.code.Lines = append(b.code.Lines, b.line)
	b.code.IBlocks = append(b.code.IBlocks, b.curBlock)
	return ip
}

// EmitOp appends an instruction without an argument.
func (b *CodeBuilder) EmitOp(op Opcode) int { return b.Emit(op, 0) }

func (b *CodeBuilder) patch(ip, arg int) {
	b.code.Instrs[ip] = MakeInstr(b.code.Instrs[ip].Op(), arg)
}

// ---------------------------------------------------------------------------
// Pools
// ---------------------------------------------------------------------------

// Const returns the pool index of c, adding it if needed.
func (b *CodeBuilder) Const(c Const) int {
	if i, ok := b.consts[c]; ok {
		return i
	}
	i := len(b.code.Consts)
	b.code.Consts = append(b.code.Consts, c)
	b.consts[c] = i
	return i
}

// Name returns the names index of s, adding it if needed.
func (b *CodeBuilder) Name(s string) int {
	if i, ok := b.names[s]; ok {
		return i
	}
	i := len(b.code.Names)
	b.code.Names = append(b.code.Names, s)
	b.names[s] = i
	return i
}

// Var returns the fast-local slot of s, adding it if needed.
func (b *CodeBuilder) Var(s string) int {
	if i, ok := b.vars[s]; ok {
		return i
	}
	i := len(b.code.VarNames)
	b.code.VarNames = append(b.code.VarNames, s)
	b.vars[s] = i
	return i
}

// AddFunc registers a nested declaration and returns its index.
func (b *CodeBuilder) AddFunc(d *FuncDecl) int {
	b.code.FuncDecls = append(b.code.FuncDecls, d)
	return len(b.code.FuncDecls) - 1
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// Label is a jump target that may be referenced before it is placed.
type Label struct {
	resolved bool
	position int
	refs     []int
}

// NewLabel creates an unresolved label.
func (b *CodeBuilder) NewLabel() *Label {
	l := &Label{refs: make([]int, 0, 2)}
	b.labels = append(b.labels, l)
	return l
}

// Mark resolves a label to the current position.
func (b *CodeBuilder) Mark(l *Label) {
	if l.resolved {
		panic("label already resolved")
	}
	l.resolved = true
	l.position = b.Pos()
	for _, ref := range l.refs {
		b.patch(ref, l.position)
	}
	l.refs = nil
}

// EmitJump emits a jump to a label with an absolute target.
func (b *CodeBuilder) EmitJump(op Opcode, l *Label) int {
	if l.resolved {
		return b.Emit(op, l.position)
	}
	ip := b.Emit(op, 0)
	l.refs = append(l.refs, ip)
	return ip
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

// EnterBlock opens a lexical block and returns its index. For ForLoop the
// iterator must already be on the stack; for ContextManager the manager.
func (b *CodeBuilder) EnterBlock(t BlockType) int {
	base := b.code.Blocks[b.curBlock].BaseStackSize
	if t.hasSlot() {
		base++
	}
	b.code.Blocks = append(b.code.Blocks, CodeBlock{
		Type:          t,
		Parent:        b.curBlock,
		BaseStackSize: base,
		Start:         b.Pos(),
		End:           -1,
	})
	b.curBlock = len(b.code.Blocks) - 1
	return b.curBlock
}

// ExitBlock closes the innermost block at the current position.
func (b *CodeBuilder) ExitBlock() {
	if b.curBlock == 0 {
		panic("ExitBlock: no open block")
	}
	blk := &b.code.Blocks[b.curBlock]
	blk.End = b.Pos()
	b.curBlock = blk.Parent
}

// CurrentBlock returns the index of the innermost open block.
func (b *CodeBuilder) CurrentBlock() int { return b.curBlock }

// ---------------------------------------------------------------------------
// Convenience emitters
// ---------------------------------------------------------------------------

func (b *CodeBuilder) LoadConst(c Const) int   { return b.Emit(OpLoadConst, b.Const(c)) }
func (b *CodeBuilder) LoadInt(n int) int       { return b.Emit(OpLoadInt, n) }
func (b *CodeBuilder) LoadStr(s string) int    { return b.LoadConst(StrConst(s)) }
func (b *CodeBuilder) LoadFast(s string) int   { return b.Emit(OpLoadFast, b.Var(s)) }
func (b *CodeBuilder) StoreFast(s string) int  { return b.Emit(OpStoreFast, b.Var(s)) }
func (b *CodeBuilder) LoadName(s string) int   { return b.Emit(OpLoadName, b.Name(s)) }
func (b *CodeBuilder) StoreName(s string) int  { return b.Emit(OpStoreName, b.Name(s)) }
func (b *CodeBuilder) LoadGlobal(s string) int { return b.Emit(OpLoadGlobal, b.Name(s)) }
func (b *CodeBuilder) LoadAttr(s string) int   { return b.Emit(OpLoadAttr, b.Name(s)) }
func (b *CodeBuilder) LoadMethod(s string) int { return b.Emit(OpLoadMethod, b.Name(s)) }
func (b *CodeBuilder) StoreAttr(s string) int  { return b.Emit(OpStoreAttr, b.Name(s)) }
func (b *CodeBuilder) LoadKwName(s string) int { return b.Emit(OpLoadKwName, b.Name(s)) }
func (b *CodeBuilder) BinaryOp(op BinaryOperator) int {
	return b.Emit(OpBinaryOp, int(op))
}
func (b *CodeBuilder) CompareOp(op CompareOperator) int {
	return b.Emit(OpCompareOp, int(op))
}

// Call emits CALL for a window holding argc positional arguments and
// kwargc keyword pairs.
func (b *CodeBuilder) Call(argc, kwargc int) int {
	return b.Emit(OpCall, argc|kwargc<<8)
}

// LoadFunction registers d and emits LOAD_FUNCTION.
func (b *CodeBuilder) LoadFunction(d *FuncDecl) int {
	return b.Emit(OpLoadFunction, b.AddFunc(d))
}

// Return emits RETURN_VALUE.
func (b *CodeBuilder) Return() int { return b.EmitOp(OpReturnValue) }

// ReturnNone emits LOAD_NONE; RETURN_VALUE.
func (b *CodeBuilder) ReturnNone() int {
	b.EmitOp(OpLoadNone)
	return b.Return()
}

// ---------------------------------------------------------------------------
// Finishing
// ---------------------------------------------------------------------------

func (b *CodeBuilder) finish() {
	if b.curBlock != 0 {
		panic(fmt.Sprintf("code %s: block %d still open", b.code.Name, b.curBlock))
	}
	for _, l := range b.labels {
		if !l.resolved && len(l.refs) > 0 {
			panic(fmt.Sprintf("code %s: jump to unplaced label", b.code.Name))
		}
	}
	b.code.Blocks[0].End = b.Pos()
}

// Build returns the finished code record.
func (b *CodeBuilder) Build() *Code {
	b.finish()
	return b.code
}

// BuildFunc returns the finished declaration of a function body.
func (b *CodeBuilder) BuildFunc() *FuncDecl {
	if b.decl == nil {
		panic("BuildFunc: not a function builder")
	}
	b.finish()
	return b.decl
}
