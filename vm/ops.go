package vm

import (
	"hash/fnv"
	"math"
)

// ---------------------------------------------------------------------------
// Operator protocol
// ---------------------------------------------------------------------------

// BinaryOp applies a binary operator. The left operand's slot is tried
// first; if it is missing or returns NotImplemented the right operand's
// reflected slot is tried.
func (e *Engine) BinaryOp(op BinaryOperator, a, b Value) Value {
	if a.IsSmallInt() && b.IsSmallInt() {
		if r, ok := e.smallIntBinary(op, a.SmallInt(), b.SmallInt()); ok {
			return r
		}
	}
	s := op.slot()
	ta, tb := e.TypeOf(a), e.TypeOf(b)
	if fn := e.slot(ta, s); fn != Null {
		if r := e.callWith(fn, a, b); r != e.NotImplemented {
			return r
		}
	}
	if fn := e.slot(tb, reflected(s)); fn != Null {
		if r := e.callWith(fn, b, a); r != e.NotImplemented {
			return r
		}
	}
	e.TypeError("unsupported operand type(s) for %s: '%s' and '%s'",
		op, e.types[ta].Name, e.types[tb].Name)
	return Null
}

// Compare applies a rich comparison. Equality falls back to identity when
// neither operand implements it.
func (e *Engine) Compare(op CompareOperator, a, b Value) Value {
	if r, ok := e.compareNumbers(op, a, b); ok {
		return e.Bool(r)
	}
	s := op.slot()
	ta, tb := e.TypeOf(a), e.TypeOf(b)
	if fn := e.slot(ta, s); fn != Null {
		if r := e.callWith(fn, a, b); r != e.NotImplemented {
			return r
		}
	}
	if fn := e.slot(tb, reflected(s)); fn != Null {
		if r := e.callWith(fn, b, a); r != e.NotImplemented {
			return r
		}
	}
	switch op {
	case CmpEq:
		return e.Bool(a == b)
	case CmpNe:
		return e.Bool(a != b)
	}
	e.TypeError("'%s' not supported between instances of '%s' and '%s'",
		op, e.types[ta].Name, e.types[tb].Name)
	return Null
}

// Equal reports a == b.
func (e *Engine) Equal(a, b Value) bool {
	if a == b && !a.IsFloat() {
		return true
	}
	if r, ok := e.compareNumbers(CmpEq, a, b); ok {
		return r
	}
	return e.Truthy(e.Compare(CmpEq, a, b))
}

// Truthy reports the truth value of v.
func (e *Engine) Truthy(v Value) bool {
	switch {
	case v == e.True:
		return true
	case v == e.False, v == e.None:
		return false
	case v.IsSmallInt():
		return v.SmallInt() != 0
	case v.IsFloat():
		return v.Float64() != 0
	}
	t := e.TypeOf(v)
	if fn := e.slot(t, slotBool); fn != Null {
		r := e.callWith(fn, v)
		if r != e.True && r != e.False {
			e.TypeError("__bool__ should return bool, returned %s", e.TypeName(r))
		}
		return r == e.True
	}
	if fn := e.slot(t, slotLen); fn != Null {
		return e.toIndex(e.callWith(fn, v)) != 0
	}
	return true
}

// Neg returns -v.
func (e *Engine) Neg(v Value) Value {
	if v.IsSmallInt() {
		return e.NewInt(-v.SmallInt())
	}
	if v.IsFloat() {
		return FromFloat64(-v.Float64())
	}
	if fn := e.slot(e.TypeOf(v), slotNeg); fn != Null {
		return e.callWith(fn, v)
	}
	e.TypeError("bad operand type for unary -: '%s'", e.TypeName(v))
	return Null
}

// Invert returns ~v.
func (e *Engine) Invert(v Value) Value {
	if v.IsSmallInt() {
		return FromSmallInt(^v.SmallInt())
	}
	if fn := e.slot(e.TypeOf(v), slotInvert); fn != Null {
		return e.callWith(fn, v)
	}
	e.TypeError("bad operand type for unary ~: '%s'", e.TypeName(v))
	return Null
}

// ---------------------------------------------------------------------------
// Hashing
// ---------------------------------------------------------------------------

// Hash returns the hash of v. Numbers that compare equal hash equal.
func (e *Engine) Hash(v Value) int64 {
	switch {
	case v.IsSmallInt():
		return v.SmallInt()
	case v.IsFloat():
		return hashFloat(v.Float64())
	case v == e.True:
		return 1
	case v == e.False:
		return 0
	}
	o := e.Object(v)
	switch p := o.Payload.(type) {
	case *Str:
		if o.Type == TypeStr {
			return p.hash()
		}
	case *BigInt:
		return hashString(p.V.String())
	}
	fn := e.slot(o.Type, slotHash)
	if fn == Null || fn == e.None {
		e.TypeError("unhashable type: '%s'", e.types[o.Type].Name)
	}
	r := e.callWith(fn, v)
	if !r.IsSmallInt() {
		e.TypeError("__hash__ method should return an integer")
	}
	return r.SmallInt()
}

func hashFloat(f float64) int64 {
	if f == math.Trunc(f) && math.Abs(f) < 1<<61 {
		return int64(f)
	}
	return int64(math.Float64bits(f))
}

func hashString(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64() >> 1)
}

// ---------------------------------------------------------------------------
// Conversions to text
// ---------------------------------------------------------------------------

// Repr returns repr(v).
func (e *Engine) Repr(v Value) string {
	switch {
	case v.IsSmallInt():
		return formatInt(v.SmallInt())
	case v.IsFloat():
		return formatFloat(v.Float64())
	}
	return e.strSlot(v, slotRepr)
}

// Str returns str(v).
func (e *Engine) Str(v Value) string {
	if s, ok := payloadAs[*Str](e, v); ok {
		return s.S
	}
	if !v.IsHeap() {
		return e.Repr(v)
	}
	return e.strSlot(v, slotStr)
}

func (e *Engine) strSlot(v Value, s slotID) string {
	fn := e.slot(e.TypeOf(v), s)
	if fn == Null {
		fn = e.slot(e.TypeOf(v), slotRepr)
	}
	r := e.callWith(fn, v)
	str, ok := payloadAs[*Str](e, r)
	if !ok {
		e.TypeError("%s returned non-string (type %s)", slotNameStrings[s], e.TypeName(r))
	}
	return str.S
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

// Len returns len(v).
func (e *Engine) Len(v Value) int {
	if v.IsHeap() {
		switch p := e.Object(v).Payload.(type) {
		case *List:
			return len(p.Items)
		case *Tuple:
			return len(p.Items)
		case *Dict:
			return p.Len()
		}
	}
	fn := e.slot(e.TypeOf(v), slotLen)
	if fn == Null {
		e.TypeError("object of type '%s' has no len()", e.TypeName(v))
	}
	n := e.toIndex(e.callWith(fn, v))
	if n < 0 {
		e.ValueError("__len__() should return >= 0")
	}
	return n
}

// GetItem returns v[key].
func (e *Engine) GetItem(v, key Value) Value {
	if v.IsHeap() && key.IsSmallInt() {
		switch p := e.Object(v).Payload.(type) {
		case *List:
			return p.Items[e.normIndex(key.SmallInt(), len(p.Items))]
		case *Tuple:
			return p.Items[e.normIndex(key.SmallInt(), len(p.Items))]
		}
	}
	fn := e.slot(e.TypeOf(v), slotGetitem)
	if fn == Null {
		e.TypeError("'%s' object is not subscriptable", e.TypeName(v))
	}
	return e.callWith(fn, v, key)
}

// SetItem assigns v[key] = val.
func (e *Engine) SetItem(v, key, val Value) {
	fn := e.slot(e.TypeOf(v), slotSetitem)
	if fn == Null {
		e.TypeError("'%s' object does not support item assignment", e.TypeName(v))
	}
	e.callWith(fn, v, key, val)
}

// DelItem deletes v[key].
func (e *Engine) DelItem(v, key Value) {
	fn := e.slot(e.TypeOf(v), slotDelitem)
	if fn == Null {
		e.TypeError("'%s' object does not support item deletion", e.TypeName(v))
	}
	e.callWith(fn, v, key)
}

// Contains reports item in container.
func (e *Engine) Contains(container, item Value) bool {
	t := e.TypeOf(container)
	if fn := e.slot(t, slotContains); fn != Null {
		return e.Truthy(e.callWith(fn, container, item))
	}
	if e.slot(t, slotIter) == Null {
		e.TypeError("argument of type '%s' is not iterable", e.types[t].Name)
	}
	found := false
	e.Iterate(container, func(v Value) bool {
		found = e.Equal(v, item)
		return !found
	})
	return found
}

// normIndex resolves a possibly negative index, raising IndexError when
// it falls outside [0, n).
func (e *Engine) normIndex(i int64, n int) int {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		e.IndexError("index out of range")
	}
	return int(i)
}

// toIndex converts an int value to a Go int.
func (e *Engine) toIndex(v Value) int {
	if v.IsSmallInt() {
		return int(v.SmallInt())
	}
	switch v {
	case e.True:
		return 1
	case e.False:
		return 0
	}
	if _, ok := payloadAs[*BigInt](e, v); ok {
		e.Raise(TypeOverflowError, "int too large to convert to an index")
	}
	e.TypeError("'%s' object cannot be interpreted as an integer", e.TypeName(v))
	return 0
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// GetIter returns iter(v).
func (e *Engine) GetIter(v Value) Value {
	fn := e.slot(e.TypeOf(v), slotIter)
	if fn == Null {
		e.TypeError("'%s' object is not iterable", e.TypeName(v))
	}
	return e.callWith(fn, v)
}

// Next advances an iterator, returning StopIter once it is exhausted. A
// guest __next__ signals exhaustion by raising StopIteration.
func (e *Engine) Next(it Value) Value {
	if it.IsHeap() {
		switch p := e.Object(it).Payload.(type) {
		case *nativeIter:
			return p.next(e)
		case *Generator:
			return p.resume(e)
		}
	}
	fn := e.slot(e.TypeOf(it), slotNext)
	if fn == Null {
		e.TypeError("'%s' object is not an iterator", e.TypeName(it))
	}
	return e.callCatchingStop(fn, it)
}

func (e *Engine) callCatchingStop(fn, it Value) (ret Value) {
	sp := e.sp
	defer func() {
		if r := recover(); r != nil {
			sig, ok := r.(SignaledException)
			if !ok || !e.IsInstance(sig.Exception, TypeStopIteration) {
				panic(r)
			}
			e.sp = sp
			ret = StopIter
		}
	}()
	return e.callWith(fn, it)
}

// Iterate calls fn for each item of v until fn returns false. The
// iterator and the current item stay on the value stack while fn runs.
func (e *Engine) Iterate(v Value, fn func(item Value) bool) {
	sp := e.sp
	it := e.GetIter(v)
	e.ensureStack(2)
	e.push(it)
	for {
		item := e.Next(it)
		if item == StopIter {
			break
		}
		e.push(item)
		more := fn(item)
		e.sp = sp + 1
		if !more {
			break
		}
	}
	e.sp = sp
}

// toSlice materialises an iterable. Items are accumulated in a list kept on
// the value stack while guest iterators run; the returned slice is not
// rooted, so callers must store or push it before running guest code.
// Allocation alone never collects.
func (e *Engine) toSlice(v Value) []Value {
	if v.IsHeap() {
		switch p := e.Object(v).Payload.(type) {
		case *List:
			return append([]Value(nil), p.Items...)
		case *Tuple:
			return append([]Value(nil), p.Items...)
		}
	}
	acc := e.NewList(nil)
	e.ensureStack(1)
	e.push(acc)
	l := mustPayload[*List](e, acc)
	e.Iterate(v, func(item Value) bool {
		l.Items = append(l.Items, item)
		return true
	})
	e.pop()
	return l.Items
}
