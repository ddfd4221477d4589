package vm

import "fmt"

// ---------------------------------------------------------------------------
// Stack effects
// ---------------------------------------------------------------------------

// stackEffect returns how many values an instruction reads from the stack
// and how its depth changes on the fall-through path.
func (c *Code) stackEffect(ins Instr) (need, delta int, err error) {
	arg := ins.Arg()
	count := func(n int) error {
		if n < 0 {
			return fmt.Errorf("negative count %d", n)
		}
		return nil
	}
	switch op := ins.Op(); op {
	case OpNop, OpDeleteFast, OpDeleteName, OpDeleteGlobal, OpJumpAbsolute:
		return 0, 0, nil
	case OpPopTop, OpStoreFast, OpStoreName, OpStoreGlobal, OpDeleteAttr,
		OpPopJumpIfFalse, OpPopJumpIfTrue, OpJumpIfTrueOrPop, OpJumpIfFalseOrPop,
		OpBeginClass, OpStoreClassAttr, OpWithExit, OpPopException,
		OpReturnValue, OpYieldValue, OpRaise, OpReRaise:
		return 1, -1, nil
	case OpDupTop, OpLoadMethod, OpWithEnter, OpForIter:
		return 1, 1, nil
	case OpRotTwo:
		return 2, 0, nil
	case OpRotThree:
		return 3, 0, nil
	case OpLoadConst, OpLoadNone, OpLoadTrue, OpLoadFalse, OpLoadInt, OpLoadEllipsis,
		OpLoadNull, OpLoadFunction, OpLoadKwName, OpLoadFast, OpLoadName, OpLoadGlobal,
		OpEndClass, OpImportName:
		return 0, 1, nil
	case OpLoadAttr, OpFormatValue, OpUnaryNegative, OpUnaryNot, OpUnaryInvert, OpGetIter:
		return 1, 0, nil
	case OpStoreAttr, OpDeleteSubscr:
		return 2, -2, nil
	case OpLoadSubscr, OpBinaryOp, OpCompareOp, OpIsOp, OpContainsOp:
		return 2, -1, nil
	case OpExceptionMatch:
		return 2, 0, nil
	case OpStoreSubscr:
		return 3, -3, nil
	case OpBuildTuple, OpBuildList, OpBuildString:
		return arg, 1 - arg, count(arg)
	case OpBuildDict:
		return 2 * arg, 1 - 2*arg, count(arg)
	case OpBuildSlice:
		if arg != 2 && arg != 3 {
			return 0, 0, fmt.Errorf("slice of %d values", arg)
		}
		return arg, 1 - arg, nil
	case OpCall:
		n := 2 + arg&0xff + 2*(arg>>8&0xff)
		return n, 1 - n, count(arg)
	case OpCallEx:
		if arg == 1 {
			return 4, -3, nil
		}
		return 3, -2, nil
	case OpUnpackSequence:
		return 1, arg - 1, count(arg)
	case OpUnpackEx:
		return 1, arg&0xff + arg>>8&0xff, count(arg)
	case OpRaiseAssert:
		if arg == 1 {
			return 1, -1, nil
		}
		return 0, 0, nil
	case OpLoopContinue, OpLoopBreak:
		return 0, 0, nil
	default:
		return 0, 0, fmt.Errorf("no stack effect for %s", op)
	}
}

// checkLoopTarget verifies that the block argument of a loop instruction
// names an enclosing loop.
func (c *Code) checkLoopTarget(ip int, op Opcode, target int) error {
	if target <= 0 {
		return fmt.Errorf("loop target must be a nested block, got %d", target)
	}
	switch t := c.Blocks[target].Type; {
	case op == OpForIter && t != ForLoop:
		return fmt.Errorf("block %d is %s, not a for loop", target, t)
	case t != ForLoop && t != WhileLoop:
		return fmt.Errorf("block %d is %s, not a loop", target, t)
	}
	for i := c.IBlocks[ip]; i >= 0; i = c.Blocks[i].Parent {
		if i == target {
			return nil
		}
	}
	return fmt.Errorf("block %d does not enclose the instruction", target)
}

// checkStack walks every reachable instruction with the smallest stack
// depth it can be entered with, and rejects code that would read below
// the frame's locals. Depths are counted above the fast locals. Handler
// entries of try blocks start with the exception pushed.
func (c *Code) checkStack() error {
	n := len(c.Instrs)
	depth := make([]int, n)
	for i := range depth {
		depth[i] = -1
	}
	var work []int
	enter := func(ip, d int) {
		if ip >= n {
			return
		}
		if depth[ip] < 0 || d < depth[ip] {
			depth[ip] = d
			work = append(work, ip)
		}
	}
	enter(0, 0)
	for _, b := range c.Blocks[1:] {
		if b.Type == TryExcept {
			enter(b.End, b.BaseStackSize+1)
		}
	}
	exitDepth := func(target int) int {
		return c.Blocks[c.Blocks[target].Parent].BaseStackSize
	}

	for len(work) > 0 {
		ip := work[len(work)-1]
		work = work[:len(work)-1]
		d := depth[ip]
		ins := c.Instrs[ip]
		need, delta, err := c.stackEffect(ins)
		if err != nil {
			return fmt.Errorf("instruction %d (%s): %w", ip, ins, err)
		}
		if d < need {
			return fmt.Errorf("instruction %d (%s): needs %d stack values, has %d", ip, ins, need, d)
		}

		op, arg := ins.Op(), ins.Arg()
		switch op {
		case OpLoopContinue, OpLoopBreak, OpForIter:
			if err := c.checkLoopTarget(ip, op, arg); err != nil {
				return fmt.Errorf("instruction %d (%s): %w", ip, ins, err)
			}
		}
		switch op {
		case OpReturnValue, OpRaise, OpReRaise, OpRaiseAssert:
		case OpJumpAbsolute:
			enter(arg, d)
		case OpPopJumpIfFalse, OpPopJumpIfTrue:
			enter(arg, d-1)
			enter(ip+1, d-1)
		case OpJumpIfTrueOrPop, OpJumpIfFalseOrPop:
			enter(arg, d)
			enter(ip+1, d-1)
		case OpLoopContinue:
			enter(c.Blocks[arg].Start, c.Blocks[arg].BaseStackSize)
		case OpLoopBreak:
			enter(c.Blocks[arg].End, exitDepth(arg))
		case OpForIter:
			enter(c.Blocks[arg].End, exitDepth(arg))
			enter(ip+1, d+delta)
		default:
			enter(ip+1, d+delta)
		}
	}
	return nil
}
