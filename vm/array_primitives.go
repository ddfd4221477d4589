package vm

import (
	"slices"
	"strings"
)

// ---------------------------------------------------------------------------
// Sequences: list and tuple
// ---------------------------------------------------------------------------

// List is the payload of list objects (and instances of list subclasses).
type List struct {
	Items []Value
}

func (l *List) markChildren(m *gcMarker) { m.markAll(l.Items) }

func (l *List) finalize() { l.Items = nil }

// Tuple is the payload of tuple objects.
type Tuple struct {
	Items []Value
}

func (t *Tuple) markChildren(m *gcMarker) { m.markAll(t.Items) }

func (t *Tuple) sizeHint() int { return 24 + 8*len(t.Items) }

// NewList creates a list that takes ownership of items.
func (e *Engine) NewList(items []Value) Value {
	return e.newObject(TypeList, &List{Items: items})
}

// NewTuple creates a tuple holding a copy of items.
func (e *Engine) NewTuple(items []Value) Value {
	return e.newObject(TypeTuple, &Tuple{Items: slices.Clone(items)})
}

// seqItems returns the items of a list or tuple.
func (e *Engine) seqItems(v Value) ([]Value, bool) {
	if !v.IsHeap() {
		return nil, false
	}
	switch p := e.Object(v).Payload.(type) {
	case *List:
		return p.Items, true
	case *Tuple:
		return p.Items, true
	}
	return nil, false
}

func (e *Engine) seqRepr(v Value, open, close string, items []Value) string {
	if e.repring[v] {
		return open + "..." + close
	}
	e.repring[v] = true
	defer delete(e.repring, v)

	var b strings.Builder
	b.WriteString(open)
	for i, it := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.Repr(it))
	}
	if len(items) == 1 && open == "(" {
		b.WriteByte(',')
	}
	b.WriteString(close)
	return b.String()
}

// seqCompare orders two sequences lexicographically.
func (e *Engine) seqCompare(op CompareOperator, a, b []Value) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if e.Equal(a[i], b[i]) {
			continue
		}
		switch op {
		case CmpEq:
			return false
		case CmpNe:
			return true
		}
		return e.Truthy(e.Compare(op, a[i], b[i]))
	}
	return cmpResult(op, cmpInt64(int64(len(a)), int64(len(b))))
}

// bindSeqCommon installs the read-only sequence protocol on t.
func (e *Engine) bindSeqCommon(t TypeIndex) {
	items := func(e *Engine, v Value) []Value {
		it, _ := e.seqItems(v)
		return it
	}
	e.bindMethod(t, "__len__", 1, func(e *Engine, args ArgsView) Value {
		return FromSmallInt(int64(len(items(e, args[0]))))
	})
	e.bindMethod(t, "__contains__", 2, func(e *Engine, args ArgsView) Value {
		for _, it := range items(e, args[0]) {
			if e.Equal(it, args[1]) {
				return e.True
			}
		}
		return e.False
	})
	e.bindMethod(t, "__iter__", 1, func(e *Engine, args ArgsView) Value {
		seq := args[0]
		i := 0
		return e.newNativeIter(seq, func(e *Engine) Value {
			cur := items(e, seq)
			if i >= len(cur) {
				return StopIter
			}
			i++
			return cur[i-1]
		})
	})
	for op := CmpLt; op < numCompareOps; op++ {
		op := op
		e.bindMethod(t, slotNameStrings[op.slot()], 2, func(e *Engine, args ArgsView) Value {
			if !e.IsInstance(args[1], t) {
				return e.NotImplemented
			}
			return e.Bool(e.seqCompare(op, items(e, args[0]), items(e, args[1])))
		})
	}
	e.bindMethod(t, "index", 2, func(e *Engine, args ArgsView) Value {
		for i, it := range items(e, args[0]) {
			if e.Equal(it, args[1]) {
				return FromSmallInt(int64(i))
			}
		}
		e.ValueError("%s is not in %s", e.Repr(args[1]), e.types[t].Name)
		return Null
	})
	e.bindMethod(t, "count", 2, func(e *Engine, args ArgsView) Value {
		n := 0
		for _, it := range items(e, args[0]) {
			if e.Equal(it, args[1]) {
				n++
			}
		}
		return FromSmallInt(int64(n))
	})
}

// sliceItems returns the items selected by sl.
func (e *Engine) sliceItems(sl *Slice, items []Value) []Value {
	start, stop, step := e.sliceIndices(sl, len(items))
	var out []Value
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		out = append(out, items[i])
	}
	return out
}

// ---------------------------------------------------------------------------
// list primitives
// ---------------------------------------------------------------------------

func (e *Engine) registerListPrimitives() {
	e.bindSeqCommon(TypeList)
	e.bindSeqCommon(TypeTuple)
	e.registerTuplePrimitives()

	list := func(e *Engine, args ArgsView) *List { return mustPayload[*List](e, args[0]) }

	e.bindMethod(TypeList, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr(e.seqRepr(args[0], "[", "]", list(e, args).Items))
	})
	e.bindMethod(TypeList, "__getitem__", 2, func(e *Engine, args ArgsView) Value {
		l := list(e, args)
		if sl, ok := payloadAs[*Slice](e, args[1]); ok {
			return e.NewList(e.sliceItems(sl, l.Items))
		}
		return l.Items[e.normIndex(int64(e.toIndex(args[1])), len(l.Items))]
	})
	e.bindMethod(TypeList, "__setitem__", 3, func(e *Engine, args ArgsView) Value {
		l := list(e, args)
		if sl, ok := payloadAs[*Slice](e, args[1]); ok {
			start, stop, step := e.sliceIndices(sl, len(l.Items))
			if step != 1 {
				e.ValueError("extended slice assignment is not supported")
			}
			repl := e.toSlice(args[2])
			stop = max(stop, start)
			l.Items = slices.Concat(l.Items[:start], repl, l.Items[stop:])
			return e.None
		}
		l.Items[e.normIndex(int64(e.toIndex(args[1])), len(l.Items))] = args[2]
		return e.None
	})
	e.bindMethod(TypeList, "__delitem__", 2, func(e *Engine, args ArgsView) Value {
		l := list(e, args)
		if sl, ok := payloadAs[*Slice](e, args[1]); ok {
			start, stop, step := e.sliceIndices(sl, len(l.Items))
			if step != 1 {
				e.ValueError("extended slice deletion is not supported")
			}
			if stop > start {
				l.Items = slices.Delete(l.Items, start, stop)
			}
			return e.None
		}
		i := e.normIndex(int64(e.toIndex(args[1])), len(l.Items))
		l.Items = slices.Delete(l.Items, i, i+1)
		return e.None
	})
	e.bindMethod(TypeList, "__add__", 2, func(e *Engine, args ArgsView) Value {
		other, ok := payloadAs[*List](e, args[1])
		if !ok {
			return e.NotImplemented
		}
		return e.NewList(slices.Concat(list(e, args).Items, other.Items))
	})
	repeat := func(e *Engine, args ArgsView) Value {
		n, ok := e.AsInt(args[1])
		if !ok {
			return e.NotImplemented
		}
		items := list(e, args).Items
		var out []Value
		for ; n > 0; n-- {
			out = append(out, items...)
		}
		return e.NewList(out)
	}
	e.bindMethod(TypeList, "__mul__", 2, repeat)
	e.bindMethod(TypeList, "__rmul__", 2, repeat)

	e.bindMethod(TypeList, "append", 2, func(e *Engine, args ArgsView) Value {
		l := list(e, args)
		l.Items = append(l.Items, args[1])
		return e.None
	})
	e.bindMethod(TypeList, "extend", 2, func(e *Engine, args ArgsView) Value {
		items := e.toSlice(args[1])
		l := list(e, args)
		l.Items = append(l.Items, items...)
		return e.None
	})
	e.bindMethod(TypeList, "insert", 3, func(e *Engine, args ArgsView) Value {
		l := list(e, args)
		i := e.toIndex(args[1])
		if i < 0 {
			i += len(l.Items)
		}
		i = min(max(i, 0), len(l.Items))
		l.Items = slices.Insert(l.Items, i, args[2])
		return e.None
	})
	e.BindSignature(e.TypeValue(TypeList), "pop(self, index=-1)", func(e *Engine, args ArgsView) Value {
		l := list(e, args)
		if len(l.Items) == 0 {
			e.IndexError("pop from empty list")
		}
		i := e.normIndex(int64(e.toIndex(args[1])), len(l.Items))
		v := l.Items[i]
		l.Items = slices.Delete(l.Items, i, i+1)
		return v
	})
	e.bindMethod(TypeList, "remove", 2, func(e *Engine, args ArgsView) Value {
		l := list(e, args)
		for i, it := range l.Items {
			if e.Equal(it, args[1]) {
				l.Items = slices.Delete(l.Items, i, i+1)
				return e.None
			}
		}
		e.ValueError("list.remove(x): x not in list")
		return Null
	})
	e.bindMethod(TypeList, "clear", 1, func(e *Engine, args ArgsView) Value {
		list(e, args).Items = nil
		return e.None
	})
	e.bindMethod(TypeList, "copy", 1, func(e *Engine, args ArgsView) Value {
		return e.NewList(slices.Clone(list(e, args).Items))
	})
	e.bindMethod(TypeList, "reverse", 1, func(e *Engine, args ArgsView) Value {
		slices.Reverse(list(e, args).Items)
		return e.None
	})
	e.BindSignature(e.TypeValue(TypeList), "sort(self, key=None, reverse=False)", func(e *Engine, args ArgsView) Value {
		l := list(e, args)
		l.Items = e.sortValues(l.Items, args[1], e.Truthy(args[2]))
		return e.None
	})
	e.bindStatic(TypeList, "__new__", -1, func(e *Engine, args ArgsView) Value {
		cls, _ := e.AsType(args[0])
		if len(args) > 2 {
			e.TypeError("list expected at most 1 argument, got %d", len(args)-1)
		}
		v := e.newInstance(cls)
		if len(args) == 2 {
			e.ensureStack(1)
			e.push(v)
			items := e.toSlice(args[1])
			e.pop()
			mustPayload[*List](e, v).Items = items
		}
		return v
	})
}

// sortValues returns items sorted stably by key (or by the items
// themselves when key is None). Keys computed by a guest key function are
// kept in a list on the value stack while the sort runs.
func (e *Engine) sortValues(items []Value, key Value, reverse bool) []Value {
	sp := e.sp
	defer func() { e.sp = sp }()

	keys := items
	if key != e.None {
		kl := e.NewList(make([]Value, len(items)))
		e.ensureStack(1)
		e.push(kl)
		keys = mustPayload[*List](e, kl).Items
		for i, it := range items {
			keys[i] = e.Call(key, it)
		}
	}
	perm := make([]int, len(items))
	for i := range perm {
		perm[i] = i
	}
	less := func(a, b Value) bool { return e.Truthy(e.Compare(CmpLt, a, b)) }
	slices.SortStableFunc(perm, func(i, j int) int {
		a, b := keys[i], keys[j]
		if reverse {
			a, b = b, a
		}
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		}
		return 0
	})
	out := make([]Value, len(items))
	for i, p := range perm {
		out[i] = items[p]
	}
	return out
}

// ---------------------------------------------------------------------------
// tuple primitives
// ---------------------------------------------------------------------------

func (e *Engine) registerTuplePrimitives() {
	tuple := func(e *Engine, args ArgsView) *Tuple { return mustPayload[*Tuple](e, args[0]) }

	e.bindMethod(TypeTuple, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr(e.seqRepr(args[0], "(", ")", tuple(e, args).Items))
	})
	e.bindMethod(TypeTuple, "__getitem__", 2, func(e *Engine, args ArgsView) Value {
		t := tuple(e, args)
		if sl, ok := payloadAs[*Slice](e, args[1]); ok {
			return e.NewTuple(e.sliceItems(sl, t.Items))
		}
		return t.Items[e.normIndex(int64(e.toIndex(args[1])), len(t.Items))]
	})
	e.bindMethod(TypeTuple, "__hash__", 1, func(e *Engine, args ArgsView) Value {
		h := int64(0x345678)
		for _, it := range tuple(e, args).Items {
			h = (h ^ e.Hash(it)) * 1000003
		}
		return e.NewInt(h >> 2)
	})
	e.bindMethod(TypeTuple, "__add__", 2, func(e *Engine, args ArgsView) Value {
		other, ok := payloadAs[*Tuple](e, args[1])
		if !ok {
			return e.NotImplemented
		}
		return e.NewTuple(slices.Concat(tuple(e, args).Items, other.Items))
	})
	e.bindStatic(TypeTuple, "__new__", -1, func(e *Engine, args ArgsView) Value {
		switch len(args) {
		case 1:
			return e.NewTuple(nil)
		case 2:
			if e.IsType(args[1], TypeTuple) {
				return args[1]
			}
			return e.NewTuple(e.toSlice(args[1]))
		}
		e.TypeError("tuple expected at most 1 argument, got %d", len(args)-1)
		return Null
	})
}
