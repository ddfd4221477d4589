package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstr renders the instruction at ip with its operand resolved
// against the code's tables.
func (c *Code) DisassembleInstr(ip int) string {
	ins := c.Instrs[ip]
	info := ins.Op().Info()
	line := fmt.Sprintf("%04d  %4d  %-22s", ip, c.LineOf(ip), info.Name)
	if info.Arg == ArgNone {
		return strings.TrimRight(line, " ")
	}
	arg := ins.Arg()
	var note string
	switch info.Arg {
	case ArgConst:
		if arg >= 0 && arg < len(c.Consts) {
			note = c.Consts[arg].String()
		}
	case ArgName:
		if arg >= 0 && arg < len(c.Names) {
			note = c.Names[arg]
		}
	case ArgVar:
		if arg >= 0 && arg < len(c.VarNames) {
			note = c.VarNames[arg]
		}
	case ArgFunc:
		if arg >= 0 && arg < len(c.FuncDecls) {
			note = c.FuncDecls[arg].Signature()
		}
	case ArgBlock:
		if arg >= 0 && arg < len(c.Blocks) {
			b := c.Blocks[arg]
			note = fmt.Sprintf("%s [%04d, %04d)", b.Type, b.Start, b.End)
		}
	case ArgTarget:
		note = fmt.Sprintf("-> %04d", arg)
	}
	switch ins.Op() {
	case OpBinaryOp:
		note = BinaryOperator(arg).String()
	case OpCompareOp:
		note = CompareOperator(arg).String()
	case OpCall:
		note = fmt.Sprintf("argc=%d kwargc=%d", arg&0xff, arg>>8&0xff)
	}
	if note == "" {
		return fmt.Sprintf("%s %d", line, arg)
	}
	return fmt.Sprintf("%s %d (%s)", line, arg, note)
}

// Disassemble returns a listing of the code and, after it, of every
// function body it declares.
func (c *Code) Disassemble() string {
	var sb strings.Builder
	c.disassemble(&sb)
	return sb.String()
}

func (c *Code) disassemble(sb *strings.Builder) {
	fmt.Fprintf(sb, "code %s (%s)\n", c.Name, c.Filename)
	for ip := range c.Instrs {
		sb.WriteString(c.DisassembleInstr(ip))
		sb.WriteByte('\n')
	}
	for _, d := range c.FuncDecls {
		sb.WriteByte('\n')
		d.Code.disassemble(sb)
	}
}
