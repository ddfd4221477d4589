package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the 8-bit operation of an instruction.
type Opcode uint8

// Stack operations
const (
	OpNop      Opcode = iota // no operation
	OpPopTop                 // discard top of stack
	OpDupTop                 // duplicate top of stack
	OpRotTwo                 // swap the two top values
	OpRotThree               // lift the second and third values, top goes third
)

// Constants
const (
	OpLoadConst    Opcode = iota + 0x08 // push constant (const index)
	OpLoadNone                          // push None
	OpLoadTrue                          // push True
	OpLoadFalse                         // push False
	OpLoadInt                           // push the signed argument as an int
	OpLoadEllipsis                      // push Ellipsis
	OpLoadNull                          // push the Null sentinel (empty self slot)
	OpLoadFunction                      // push a new function (func decl index)
	OpLoadKwName                        // push a keyword name token (name index)
)

// Names
const (
	OpLoadFast     Opcode = iota + 0x18 // push fast local (varname index)
	OpStoreFast                         // pop into fast local
	OpDeleteFast                        // unbind fast local
	OpLoadName                          // push by name: locals, closure, globals, builtins
	OpStoreName                         // pop into a named local or global
	OpDeleteName                        // delete a named local or global
	OpLoadGlobal                        // push by name: globals, builtins
	OpStoreGlobal                       // pop into a module global
	OpDeleteGlobal                      // delete a module global
)

// Attributes and subscripts
const (
	OpLoadAttr     Opcode = iota + 0x28 // replace TOS with TOS.name
	OpLoadMethod                        // replace TOS with [callable, self-or-null]
	OpStoreAttr                         // TOS.name = TOS1; pops both
	OpDeleteAttr                        // del TOS.name
	OpLoadSubscr                        // TOS1[TOS]
	OpStoreSubscr                       // TOS1[TOS] = TOS2
	OpDeleteSubscr                      // del TOS1[TOS]
)

// Builders
const (
	OpBuildTuple  Opcode = iota + 0x38 // pop N values into a tuple
	OpBuildList                        // pop N values into a list
	OpBuildDict                        // pop N key/value pairs into a dict
	OpBuildSlice                       // pop 2 or 3 values into a slice
	OpBuildString                      // concatenate N strings
	OpFormatValue                      // str (arg 0) or repr (arg 1) of TOS
)

// Operators
const (
	OpBinaryOp      Opcode = iota + 0x48 // binary operator (BinaryOperator)
	OpCompareOp                          // comparison (CompareOperator)
	OpIsOp                               // identity test, arg 1 negates
	OpContainsOp                         // TOS1 in TOS, arg 1 negates
	OpUnaryNegative                      // -TOS
	OpUnaryNot                           // not TOS
	OpUnaryInvert                        // ~TOS
)

// Jumps
const (
	OpJumpAbsolute     Opcode = iota + 0x58 // jump to target
	OpPopJumpIfFalse                        // pop, jump to target if falsy
	OpPopJumpIfTrue                         // pop, jump to target if truthy
	OpJumpIfTrueOrPop                       // jump keeping TOS if truthy, else pop
	OpJumpIfFalseOrPop                      // jump keeping TOS if falsy, else pop
	OpLoopContinue                          // jump to the start of loop block arg
	OpLoopBreak                             // leave loop block arg
)

// Iteration, calls and frames
const (
	OpGetIter     Opcode = iota + 0x68 // replace TOS with iter(TOS)
	OpForIter                          // push next(TOS) or leave loop block arg
	OpCall                             // call: argc | kwargc<<8
	OpCallEx                           // call with *args tuple and, if arg is 1, **kwargs dict
	OpReturnValue                      // return TOS
	OpYieldValue                       // suspend the generator, yielding TOS
)

// Classes, unpacking, context managers
const (
	OpBeginClass     Opcode = iota + 0x78 // pop base, start class body (name index)
	OpStoreClassAttr                      // pop into the class under construction
	OpEndClass                            // finish the class, push it
	OpUnpackSequence                      // pop a sequence of exactly N items, push them in order
	OpUnpackEx                            // starred unpack: before | after<<8
	OpWithEnter                           // push TOS.__enter__(), keeping the manager
	OpWithExit                            // pop the manager, call __exit__(None, None, None)
)

// Exceptions and modules
const (
	OpExceptionMatch Opcode = iota + 0x88 // pop type(s), push isinstance(TOS, type)
	OpRaise                               // pop exception or exception type and raise it
	OpReRaise                             // pop and re-raise without a new trace line
	OpPopException                        // discard the handled exception
	OpRaiseAssert                         // raise AssertionError, message on TOS if arg is 1
	OpImportName                          // push module (name index)
)

// BinaryOperator is the argument of OpBinaryOp. The order matches the
// slot pairs in slots.go.
type BinaryOperator int

const (
	BinAdd BinaryOperator = iota
	BinSub
	BinMul
	BinTrueDiv
	BinFloorDiv
	BinMod
	BinPow
	BinLShift
	BinRShift
	BinAnd
	BinOr
	BinXor
	BinMatMul
	numBinaryOps
)

var binarySymbols = [numBinaryOps]string{
	"+", "-", "*", "/", "//", "%", "**", "<<", ">>", "&", "|", "^", "@",
}

func (op BinaryOperator) String() string {
	if op >= 0 && op < numBinaryOps {
		return binarySymbols[op]
	}
	return fmt.Sprintf("binop(%d)", int(op))
}

func (op BinaryOperator) slot() slotID { return slotAdd + slotID(2*op) }

// CompareOperator is the argument of OpCompareOp.
type CompareOperator int

const (
	CmpLt CompareOperator = iota
	CmpLe
	CmpEq
	CmpNe
	CmpGt
	CmpGe
	numCompareOps
)

var compareSymbols = [numCompareOps]string{"<", "<=", "==", "!=", ">", ">="}

func (op CompareOperator) String() string {
	if op >= 0 && op < numCompareOps {
		return compareSymbols[op]
	}
	return fmt.Sprintf("cmp(%d)", int(op))
}

func (op CompareOperator) slot() slotID {
	return [numCompareOps]slotID{slotLt, slotLe, slotEq, slotNe, slotGt, slotGe}[op]
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// ArgKind describes what an instruction argument refers to.
type ArgKind uint8

const (
	ArgNone   ArgKind = iota
	ArgInt            // literal integer
	ArgConst          // constant pool index
	ArgName           // names index
	ArgVar            // varnames index
	ArgFunc           // func decl index
	ArgTarget         // absolute instruction index
	ArgBlock          // block table index
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name      string
	Arg       ArgKind
	Allocates bool // a collection safe point precedes it
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:      {"NOP", ArgNone, false},
	OpPopTop:   {"POP_TOP", ArgNone, false},
	OpDupTop:   {"DUP_TOP", ArgNone, false},
	OpRotTwo:   {"ROT_TWO", ArgNone, false},
	OpRotThree: {"ROT_THREE", ArgNone, false},

	OpLoadConst:    {"LOAD_CONST", ArgConst, false},
	OpLoadNone:     {"LOAD_NONE", ArgNone, false},
	OpLoadTrue:     {"LOAD_TRUE", ArgNone, false},
	OpLoadFalse:    {"LOAD_FALSE", ArgNone, false},
	OpLoadInt:      {"LOAD_INT", ArgInt, false},
	OpLoadEllipsis: {"LOAD_ELLIPSIS", ArgNone, false},
	OpLoadNull:     {"LOAD_NULL", ArgNone, false},
	OpLoadFunction: {"LOAD_FUNCTION", ArgFunc, true},
	OpLoadKwName:   {"LOAD_KWNAME", ArgName, false},

	OpLoadFast:     {"LOAD_FAST", ArgVar, false},
	OpStoreFast:    {"STORE_FAST", ArgVar, false},
	OpDeleteFast:   {"DELETE_FAST", ArgVar, false},
	OpLoadName:     {"LOAD_NAME", ArgName, false},
	OpStoreName:    {"STORE_NAME", ArgName, false},
	OpDeleteName:   {"DELETE_NAME", ArgName, false},
	OpLoadGlobal:   {"LOAD_GLOBAL", ArgName, false},
	OpStoreGlobal:  {"STORE_GLOBAL", ArgName, false},
	OpDeleteGlobal: {"DELETE_GLOBAL", ArgName, false},

	OpLoadAttr:     {"LOAD_ATTR", ArgName, true},
	OpLoadMethod:   {"LOAD_METHOD", ArgName, false},
	OpStoreAttr:    {"STORE_ATTR", ArgName, false},
	OpDeleteAttr:   {"DELETE_ATTR", ArgName, false},
	OpLoadSubscr:   {"LOAD_SUBSCR", ArgNone, true},
	OpStoreSubscr:  {"STORE_SUBSCR", ArgNone, false},
	OpDeleteSubscr: {"DELETE_SUBSCR", ArgNone, false},

	OpBuildTuple:  {"BUILD_TUPLE", ArgInt, true},
	OpBuildList:   {"BUILD_LIST", ArgInt, true},
	OpBuildDict:   {"BUILD_DICT", ArgInt, true},
	OpBuildSlice:  {"BUILD_SLICE", ArgInt, true},
	OpBuildString: {"BUILD_STRING", ArgInt, true},
	OpFormatValue: {"FORMAT_VALUE", ArgInt, true},

	OpBinaryOp:      {"BINARY_OP", ArgInt, true},
	OpCompareOp:     {"COMPARE_OP", ArgInt, false},
	OpIsOp:          {"IS_OP", ArgInt, false},
	OpContainsOp:    {"CONTAINS_OP", ArgInt, false},
	OpUnaryNegative: {"UNARY_NEGATIVE", ArgNone, true},
	OpUnaryNot:      {"UNARY_NOT", ArgNone, false},
	OpUnaryInvert:   {"UNARY_INVERT", ArgNone, true},

	OpJumpAbsolute:     {"JUMP_ABSOLUTE", ArgTarget, false},
	OpPopJumpIfFalse:   {"POP_JUMP_IF_FALSE", ArgTarget, false},
	OpPopJumpIfTrue:    {"POP_JUMP_IF_TRUE", ArgTarget, false},
	OpJumpIfTrueOrPop:  {"JUMP_IF_TRUE_OR_POP", ArgTarget, false},
	OpJumpIfFalseOrPop: {"JUMP_IF_FALSE_OR_POP", ArgTarget, false},
	OpLoopContinue:     {"LOOP_CONTINUE", ArgBlock, false},
	OpLoopBreak:        {"LOOP_BREAK", ArgBlock, false},

	OpGetIter:     {"GET_ITER", ArgNone, true},
	OpForIter:     {"FOR_ITER", ArgBlock, true},
	OpCall:        {"CALL", ArgInt, true},
	OpCallEx:      {"CALL_EX", ArgInt, true},
	OpReturnValue: {"RETURN_VALUE", ArgNone, false},
	OpYieldValue:  {"YIELD_VALUE", ArgNone, false},

	OpBeginClass:     {"BEGIN_CLASS", ArgName, true},
	OpStoreClassAttr: {"STORE_CLASS_ATTR", ArgName, false},
	OpEndClass:       {"END_CLASS", ArgNone, false},
	OpUnpackSequence: {"UNPACK_SEQUENCE", ArgInt, false},
	OpUnpackEx:       {"UNPACK_EX", ArgInt, true},
	OpWithEnter:      {"WITH_ENTER", ArgNone, true},
	OpWithExit:       {"WITH_EXIT", ArgNone, true},

	OpExceptionMatch: {"EXCEPTION_MATCH", ArgNone, false},
	OpRaise:          {"RAISE", ArgNone, true},
	OpReRaise:        {"RE_RAISE", ArgNone, false},
	OpPopException:   {"POP_EXCEPTION", ArgNone, false},
	OpRaiseAssert:    {"RAISE_ASSERT", ArgInt, true},
	OpImportName:     {"IMPORT_NAME", ArgName, true},
}

// opAllocates is opcodeTable's Allocates column indexed by opcode.
var opAllocates [256]bool

func init() {
	for op, info := range opcodeTable {
		opAllocates[op] = info.Allocates
	}
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instr is one instruction: an 8-bit opcode and a signed 24-bit argument.
type Instr uint32

// Instruction argument range.
const (
	MaxInstrArg = 1<<23 - 1
	MinInstrArg = -(1 << 23)
)

// MakeInstr encodes an instruction. Panics if arg does not fit in 24 bits.
func MakeInstr(op Opcode, arg int) Instr {
	if arg > MaxInstrArg || arg < MinInstrArg {
		panic(fmt.Sprintf("MakeInstr: %s argument %d out of range", op, arg))
	}
	return Instr(uint32(op) | uint32(arg)<<8)
}

// Op returns the opcode.
func (i Instr) Op() Opcode { return Opcode(i & 0xff) }

// Arg returns the sign-extended argument.
func (i Instr) Arg() int { return int(int32(i) >> 8) }

func (i Instr) String() string {
	if i.Op().Info().Arg == ArgNone {
		return i.Op().String()
	}
	return fmt.Sprintf("%s %d", i.Op(), i.Arg())
}
