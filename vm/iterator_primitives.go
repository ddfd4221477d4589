package vm

import "fmt"

// ---------------------------------------------------------------------------
// Native iterators
// ---------------------------------------------------------------------------

// nativeIter is the payload of iterators implemented in Go. step returns
// the next item or StopIter; source is kept alive for the iterator's
// lifetime.
type nativeIter struct {
	source Value
	step   func(e *Engine) Value
	done   bool
}

func (it *nativeIter) markChildren(m *gcMarker) { m.mark(it.source) }

func (it *nativeIter) next(e *Engine) Value {
	if it.done {
		return StopIter
	}
	v := it.step(e)
	if v == StopIter {
		it.done = true
		it.source = Null
	}
	return v
}

func (e *Engine) newNativeIter(source Value, step func(e *Engine) Value) Value {
	return e.newObject(TypeIterator, &nativeIter{source: source, step: step})
}

// ---------------------------------------------------------------------------
// range and slice
// ---------------------------------------------------------------------------

// Range is the payload of range objects.
type Range struct {
	Start, Stop, Step int64
}

func (r *Range) Len() int {
	var n int64
	switch {
	case r.Step > 0 && r.Start < r.Stop:
		n = (r.Stop - r.Start + r.Step - 1) / r.Step
	case r.Step < 0 && r.Start > r.Stop:
		n = (r.Start - r.Stop - r.Step - 1) / -r.Step
	}
	return int(n)
}

// Slice is the payload of slice objects. Missing bounds are None.
type Slice struct {
	Start, Stop, Step Value
}

func (s *Slice) markChildren(m *gcMarker) {
	m.mark(s.Start)
	m.mark(s.Stop)
	m.mark(s.Step)
}

// NewSlice creates a slice object.
func (e *Engine) NewSlice(start, stop, step Value) Value {
	return e.newObject(TypeSlice, &Slice{Start: start, Stop: stop, Step: step})
}

// sliceIndices clamps sl to a sequence of length n.
func (e *Engine) sliceIndices(sl *Slice, n int) (start, stop, step int) {
	step = 1
	if sl.Step != e.None {
		step = e.toIndex(sl.Step)
		if step == 0 {
			e.ValueError("slice step cannot be zero")
		}
	}
	lower, upper := 0, n
	if step < 0 {
		lower, upper = -1, n-1
	}
	bound := func(v Value, def int) int {
		if v == e.None {
			return def
		}
		i := e.toIndex(v)
		if i < 0 {
			return max(i+n, lower)
		}
		return min(i, upper)
	}
	if step > 0 {
		return bound(sl.Start, lower), bound(sl.Stop, upper), step
	}
	return bound(sl.Start, upper), bound(sl.Stop, lower), step
}

func (e *Engine) registerIterPrimitives() {
	e.bindMethod(TypeIterator, "__iter__", 1, func(e *Engine, args ArgsView) Value {
		return args[0]
	})
	e.bindMethod(TypeIterator, "__next__", 1, func(e *Engine, args ArgsView) Value {
		v := mustPayload[*nativeIter](e, args[0]).next(e)
		if v == StopIter {
			e.Raise(TypeStopIteration, "")
		}
		return v
	})

	rng := func(e *Engine, v Value) *Range { return mustPayload[*Range](e, v) }
	e.bindStatic(TypeRange, "__new__", -1, func(e *Engine, args ArgsView) Value {
		r := &Range{Step: 1}
		bound := func(v Value) int64 {
			n, ok := e.AsInt(v)
			if !ok {
				e.TypeError("'%s' object cannot be interpreted as an integer", e.TypeName(v))
			}
			return n
		}
		switch len(args) {
		case 2:
			r.Stop = bound(args[1])
		case 3:
			r.Start, r.Stop = bound(args[1]), bound(args[2])
		case 4:
			r.Start, r.Stop, r.Step = bound(args[1]), bound(args[2]), bound(args[3])
			if r.Step == 0 {
				e.ValueError("range() arg 3 must not be zero")
			}
		default:
			e.TypeError("range expected 1 to 3 arguments, got %d", len(args)-1)
		}
		return e.newObject(TypeRange, r)
	})
	e.bindMethod(TypeRange, "__len__", 1, func(e *Engine, args ArgsView) Value {
		return FromSmallInt(int64(rng(e, args[0]).Len()))
	})
	e.bindMethod(TypeRange, "__getitem__", 2, func(e *Engine, args ArgsView) Value {
		r := rng(e, args[0])
		i := e.normIndex(int64(e.toIndex(args[1])), r.Len())
		return e.NewInt(r.Start + int64(i)*r.Step)
	})
	e.bindMethod(TypeRange, "__contains__", 2, func(e *Engine, args ArgsView) Value {
		r := rng(e, args[0])
		n, ok := e.AsInt(args[1])
		if !ok {
			return e.False
		}
		in := (r.Step > 0 && n >= r.Start && n < r.Stop) || (r.Step < 0 && n <= r.Start && n > r.Stop)
		return e.Bool(in && (n-r.Start)%r.Step == 0)
	})
	e.bindMethod(TypeRange, "__iter__", 1, func(e *Engine, args ArgsView) Value {
		r := *rng(e, args[0])
		cur := r.Start
		return e.newNativeIter(args[0], func(e *Engine) Value {
			if (r.Step > 0 && cur >= r.Stop) || (r.Step < 0 && cur <= r.Stop) {
				return StopIter
			}
			v := e.NewInt(cur)
			cur += r.Step
			return v
		})
	})
	e.bindMethod(TypeRange, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		r := rng(e, args[0])
		if r.Step == 1 {
			return e.NewStr(fmt.Sprintf("range(%d, %d)", r.Start, r.Stop))
		}
		return e.NewStr(fmt.Sprintf("range(%d, %d, %d)", r.Start, r.Stop, r.Step))
	})

	e.bindStatic(TypeSlice, "__new__", -1, func(e *Engine, args ArgsView) Value {
		switch len(args) {
		case 2:
			return e.NewSlice(e.None, args[1], e.None)
		case 3:
			return e.NewSlice(args[1], args[2], e.None)
		case 4:
			return e.NewSlice(args[1], args[2], args[3])
		}
		e.TypeError("slice expected 1 to 3 arguments, got %d", len(args)-1)
		return Null
	})
	e.bindMethod(TypeSlice, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		s := mustPayload[*Slice](e, args[0])
		return e.NewStr("slice(" + e.Repr(s.Start) + ", " + e.Repr(s.Stop) + ", " + e.Repr(s.Step) + ")")
	})
	e.bindMethod(TypeSlice, "indices", 2, func(e *Engine, args ArgsView) Value {
		start, stop, step := e.sliceIndices(mustPayload[*Slice](e, args[0]), e.toIndex(args[1]))
		return e.NewTuple([]Value{FromSmallInt(int64(start)), FromSmallInt(int64(stop)), FromSmallInt(int64(step))})
	})
}
