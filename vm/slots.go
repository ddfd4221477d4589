package vm

// ---------------------------------------------------------------------------
// Special-method slots: per-type dispatch tables
// ---------------------------------------------------------------------------

type slotID uint8

const (
	slotAdd slotID = iota
	slotRadd
	slotSub
	slotRsub
	slotMul
	slotRmul
	slotTruediv
	slotRtruediv
	slotFloordiv
	slotRfloordiv
	slotMod
	slotRmod
	slotPow
	slotRpow
	slotLshift
	slotRlshift
	slotRshift
	slotRrshift
	slotAnd
	slotRand
	slotOr
	slotRor
	slotXor
	slotRxor
	slotMatmul
	slotRmatmul

	slotEq
	slotNe
	slotLt
	slotLe
	slotGt
	slotGe

	slotNeg
	slotInvert
	slotGetitem
	slotSetitem
	slotDelitem
	slotContains
	slotLen
	slotIter
	slotNext
	slotHash
	slotRepr
	slotStr
	slotCall
	slotGetattr
	slotBool

	numSlots
)

var slotNameStrings = [numSlots]string{
	"__add__", "__radd__", "__sub__", "__rsub__", "__mul__", "__rmul__",
	"__truediv__", "__rtruediv__", "__floordiv__", "__rfloordiv__",
	"__mod__", "__rmod__", "__pow__", "__rpow__",
	"__lshift__", "__rlshift__", "__rshift__", "__rrshift__",
	"__and__", "__rand__", "__or__", "__ror__", "__xor__", "__rxor__",
	"__matmul__", "__rmatmul__",
	"__eq__", "__ne__", "__lt__", "__le__", "__gt__", "__ge__",
	"__neg__", "__invert__", "__getitem__", "__setitem__", "__delitem__",
	"__contains__", "__len__", "__iter__", "__next__", "__hash__",
	"__repr__", "__str__", "__call__", "__getattr__", "__bool__",
}

var slotNames [numSlots]Name

func init() {
	for i, s := range slotNameStrings {
		slotNames[i] = Intern(s)
	}
}

// slotTable holds the resolved special methods of one type. Absent
// entries are Null.
type slotTable [numSlots]Value

// slots returns the dispatch table for t, rebuilding it when any type's
// attributes changed since it was last resolved.
func (e *Engine) slots(t TypeIndex) *slotTable {
	ti := e.types[t]
	if ti.slots != nil && ti.slotsVersion == e.typeVersion {
		return ti.slots
	}
	st := new(slotTable)
	for i := range st {
		if v, _, ok := e.findTypeAttr(t, slotNames[i]); ok {
			st[i] = v
		}
	}
	ti.slots = st
	ti.slotsVersion = e.typeVersion
	return st
}

func (e *Engine) slot(t TypeIndex, s slotID) Value {
	return e.slots(t)[s]
}

// reflected maps a binary operator slot to its reflected form.
func reflected(s slotID) slotID {
	switch s {
	case slotLt:
		return slotGt
	case slotGt:
		return slotLt
	case slotLe:
		return slotGe
	case slotGe:
		return slotLe
	case slotEq, slotNe:
		return s
	}
	return s + 1
}
