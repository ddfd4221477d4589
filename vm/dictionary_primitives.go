package vm

import "strings"

// ---------------------------------------------------------------------------
// Dictionary storage: insertion-ordered open addressing
// ---------------------------------------------------------------------------

const (
	slotEmpty   int32 = -1
	slotDeleted int32 = -2
)

type dictEntry struct {
	key   Value // Null for removed entries
	value Value
	hash  int64
}

// Dict is the payload of dict objects. Entries keep insertion order; the
// index table maps hash slots to entry positions.
type Dict struct {
	entries []dictEntry
	index   []int32
	used    int
	filled  int // used plus deleted index slots
}

func newDict() *Dict {
	d := &Dict{}
	d.reset(8)
	return d
}

func (d *Dict) reset(capacity int) {
	d.index = make([]int32, capacity)
	for i := range d.index {
		d.index[i] = slotEmpty
	}
	d.filled = 0
}

// Len returns the number of entries.
func (d *Dict) Len() int { return d.used }

func (d *Dict) markChildren(m *gcMarker) {
	for _, en := range d.entries {
		m.mark(en.key)
		m.mark(en.value)
	}
}

func (d *Dict) finalize() {
	d.entries, d.index = nil, nil
}

// find returns the index slot and entry position of key, or the first
// reusable slot and -1.
func (d *Dict) find(e *Engine, key Value, h int64) (slot int, pos int) {
	mask := len(d.index) - 1
	free := -1
	for i := int(uint64(h)) & mask; ; i = (i + 1) & mask {
		switch idx := d.index[i]; idx {
		case slotEmpty:
			if free < 0 {
				free = i
			}
			return free, -1
		case slotDeleted:
			if free < 0 {
				free = i
			}
		default:
			en := d.entries[idx]
			if en.hash == h && (en.key == key || e.Equal(en.key, key)) {
				return i, int(idx)
			}
		}
	}
}

func (d *Dict) get(e *Engine, key Value) (Value, bool) {
	_, pos := d.find(e, key, e.Hash(key))
	if pos < 0 {
		return Null, false
	}
	return d.entries[pos].value, true
}

func (d *Dict) set(e *Engine, key, value Value) {
	h := e.Hash(key)
	slot, pos := d.find(e, key, h)
	if pos >= 0 {
		d.entries[pos].value = value
		return
	}
	if d.index[slot] == slotEmpty {
		d.filled++
	}
	d.index[slot] = int32(len(d.entries))
	d.entries = append(d.entries, dictEntry{key: key, value: value, hash: h})
	d.used++
	if d.filled*3 >= len(d.index)*2 {
		d.rebuild()
	}
}

func (d *Dict) del(e *Engine, key Value) (Value, bool) {
	slot, pos := d.find(e, key, e.Hash(key))
	if pos < 0 {
		return Null, false
	}
	v := d.entries[pos].value
	d.index[slot] = slotDeleted
	d.entries[pos] = dictEntry{key: Null, value: Null}
	d.used--
	if len(d.entries) > 16 && d.used*2 < len(d.entries) {
		d.rebuild()
	}
	return v, true
}

// rebuild compacts the entries and rehashes them into a table sized for
// the live count.
func (d *Dict) rebuild() {
	live := d.entries[:0]
	for _, en := range d.entries {
		if en.key != Null {
			live = append(live, en)
		}
	}
	clear(d.entries[len(live):])
	d.entries = live
	capacity := 8
	for capacity*2 <= d.used*3 {
		capacity <<= 1
	}
	d.reset(capacity * 2)
	mask := len(d.index) - 1
	for pos, en := range d.entries {
		i := int(uint64(en.hash)) & mask
		for d.index[i] != slotEmpty {
			i = (i + 1) & mask
		}
		d.index[i] = int32(pos)
		d.filled++
	}
}

func (d *Dict) clear() {
	d.entries = nil
	d.used = 0
	d.reset(8)
}

// Range calls fn for each entry in insertion order until it returns false.
func (d *Dict) Range(fn func(k, v Value) bool) {
	for i := 0; i < len(d.entries); i++ {
		en := d.entries[i]
		if en.key != Null && !fn(en.key, en.value) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Engine helpers
// ---------------------------------------------------------------------------

// NewDict creates an empty dict.
func (e *Engine) NewDict() Value {
	return e.newObject(TypeDict, newDict())
}

func (e *Engine) dictOf(v Value) *Dict {
	d, ok := payloadAs[*Dict](e, v)
	if !ok {
		e.TypeError("expected dict, got '%s'", e.TypeName(v))
	}
	return d
}

func (e *Engine) dictSet(d, key, value Value) { e.dictOf(d).set(e, key, value) }

// DictGet looks up key in a dict.
func (e *Engine) DictGet(d, key Value) (Value, bool) { return e.dictOf(d).get(e, key) }

// DictSet stores key: value in a dict.
func (e *Engine) DictSet(d, key, value Value) { e.dictSet(d, key, value) }

// dictUpdate merges a mapping or an iterable of pairs into d.
func (e *Engine) dictUpdate(d *Dict, src Value) {
	if other, ok := payloadAs[*Dict](e, src); ok {
		other.Range(func(k, v Value) bool {
			d.set(e, k, v)
			return true
		})
		return
	}
	e.Iterate(src, func(item Value) bool {
		pair := e.toSlice(item)
		if len(pair) != 2 {
			e.ValueError("dictionary update sequence element has length %d; 2 is required", len(pair))
		}
		// The pair may come from a consumed iterator; keep it on the stack
		// while a guest __hash__ or __eq__ runs.
		sp := e.sp
		e.ensureStack(2)
		e.push(pair[0])
		e.push(pair[1])
		d.set(e, pair[0], pair[1])
		e.sp = sp
		return true
	})
}

// ---------------------------------------------------------------------------
// dict primitives
// ---------------------------------------------------------------------------

func (e *Engine) registerDictPrimitives() {
	dict := func(e *Engine, args ArgsView) *Dict { return mustPayload[*Dict](e, args[0]) }
	cls := e.TypeValue(TypeDict)

	e.bindMethod(TypeDict, "__len__", 1, func(e *Engine, args ArgsView) Value {
		return FromSmallInt(int64(dict(e, args).Len()))
	})
	e.bindMethod(TypeDict, "__getitem__", 2, func(e *Engine, args ArgsView) Value {
		v, ok := dict(e, args).get(e, args[1])
		if !ok {
			e.KeyError(args[1])
		}
		return v
	})
	e.bindMethod(TypeDict, "__setitem__", 3, func(e *Engine, args ArgsView) Value {
		dict(e, args).set(e, args[1], args[2])
		return e.None
	})
	e.bindMethod(TypeDict, "__delitem__", 2, func(e *Engine, args ArgsView) Value {
		if _, ok := dict(e, args).del(e, args[1]); !ok {
			e.KeyError(args[1])
		}
		return e.None
	})
	e.bindMethod(TypeDict, "__contains__", 2, func(e *Engine, args ArgsView) Value {
		_, ok := dict(e, args).get(e, args[1])
		return e.Bool(ok)
	})
	e.bindMethod(TypeDict, "__iter__", 1, func(e *Engine, args ArgsView) Value {
		d := dict(e, args)
		i := 0
		return e.newNativeIter(args[0], func(e *Engine) Value {
			for i < len(d.entries) {
				en := d.entries[i]
				i++
				if en.key != Null {
					return en.key
				}
			}
			return StopIter
		})
	})
	e.bindMethod(TypeDict, "__eq__", 2, func(e *Engine, args ArgsView) Value {
		other, ok := payloadAs[*Dict](e, args[1])
		if !ok {
			return e.NotImplemented
		}
		d := dict(e, args)
		if d.Len() != other.Len() {
			return e.False
		}
		equal := true
		d.Range(func(k, v Value) bool {
			ov, found := other.get(e, k)
			equal = found && e.Equal(v, ov)
			return equal
		})
		return e.Bool(equal)
	})
	e.bindMethod(TypeDict, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		if e.repring[args[0]] {
			return e.NewStr("{...}")
		}
		e.repring[args[0]] = true
		defer delete(e.repring, args[0])
		var b strings.Builder
		b.WriteByte('{')
		first := true
		dict(e, args).Range(func(k, v Value) bool {
			if !first {
				b.WriteString(", ")
			}
			first = false
			b.WriteString(e.Repr(k))
			b.WriteString(": ")
			b.WriteString(e.Repr(v))
			return true
		})
		b.WriteByte('}')
		return e.NewStr(b.String())
	})

	e.BindSignature(cls, "get(self, key, default=None)", func(e *Engine, args ArgsView) Value {
		if v, ok := dict(e, args).get(e, args[1]); ok {
			return v
		}
		return args[2]
	})
	e.BindSignature(cls, "pop(self, key, default=...)", func(e *Engine, args ArgsView) Value {
		if v, ok := dict(e, args).del(e, args[1]); ok {
			return v
		}
		if args[2] == e.Ellipsis {
			e.KeyError(args[1])
		}
		return args[2]
	})
	e.BindSignature(cls, "setdefault(self, key, default=None)", func(e *Engine, args ArgsView) Value {
		d := dict(e, args)
		if v, ok := d.get(e, args[1]); ok {
			return v
		}
		d.set(e, args[1], args[2])
		return args[2]
	})
	e.bindMethod(TypeDict, "keys", 1, func(e *Engine, args ArgsView) Value {
		var out []Value
		dict(e, args).Range(func(k, _ Value) bool {
			out = append(out, k)
			return true
		})
		return e.NewList(out)
	})
	e.bindMethod(TypeDict, "values", 1, func(e *Engine, args ArgsView) Value {
		var out []Value
		dict(e, args).Range(func(_, v Value) bool {
			out = append(out, v)
			return true
		})
		return e.NewList(out)
	})
	e.bindMethod(TypeDict, "items", 1, func(e *Engine, args ArgsView) Value {
		d := dict(e, args)
		out := e.NewList(make([]Value, 0, d.Len()))
		l := mustPayload[*List](e, out)
		d.Range(func(k, v Value) bool {
			l.Items = append(l.Items, e.NewTuple([]Value{k, v}))
			return true
		})
		return out
	})
	e.bindMethod(TypeDict, "update", 2, func(e *Engine, args ArgsView) Value {
		e.dictUpdate(dict(e, args), args[1])
		return e.None
	})
	e.bindMethod(TypeDict, "clear", 1, func(e *Engine, args ArgsView) Value {
		dict(e, args).clear()
		return e.None
	})
	e.bindMethod(TypeDict, "copy", 1, func(e *Engine, args ArgsView) Value {
		v := e.NewDict()
		e.dictUpdate(e.dictOf(v), args[0])
		return v
	})

	newFn := e.NewNativeSignature(MustParseSignature("__new__(cls, source=None, **kwargs)"),
		func(e *Engine, args ArgsView) Value {
			t, _ := e.AsType(args[0])
			v := e.newInstance(t)
			d := e.dictOf(v)
			e.ensureStack(1)
			e.push(v)
			if args[1] != e.None {
				e.dictUpdate(d, args[1])
			}
			e.dictUpdate(d, args[2])
			e.pop()
			return v
		})
	e.attrTable(cls).Set(nameNew, e.newObject(TypeStaticMethod, &StaticMethod{Func: newFn}))
}
