package vm

// ---------------------------------------------------------------------------
// NameDict: attribute tables keyed by interned names
// ---------------------------------------------------------------------------

const nameDictSmall = 8

type nameEntry struct {
	key Name
	val Value
}

// NameDict maps Names to Values. Up to eight entries live in an inline
// array scanned linearly in insertion order; past that the dict is promoted
// to an open-addressing table with linear probing, power-of-two capacity and
// backward-shift deletion (no tombstones). Name 0 marks an empty slot.
type NameDict struct {
	small [nameDictSmall]nameEntry
	table []nameEntry // nil while small
	n     int
}

// NewNameDict creates an empty dict.
func NewNameDict() *NameDict {
	return &NameDict{}
}

// Len returns the number of entries.
func (d *NameDict) Len() int { return d.n }

// IsPromoted reports whether the dict uses the hash table form.
func (d *NameDict) IsPromoted() bool { return d.table != nil }

func (d *NameDict) mask() int { return len(d.table) - 1 }

func (d *NameDict) home(k Name) int {
	return int(uint32(k)*2654435761>>7) & d.mask()
}

func (d *NameDict) probe(k Name) (int, bool) {
	mask := d.mask()
	i := d.home(k)
	for {
		switch d.table[i].key {
		case k:
			return i, true
		case 0:
			return i, false
		}
		i = (i + 1) & mask
	}
}

// Get returns the value for k.
func (d *NameDict) Get(k Name) (Value, bool) {
	if d.table == nil {
		for i := 0; i < d.n; i++ {
			if d.small[i].key == k {
				return d.small[i].val, true
			}
		}
		return Null, false
	}
	i, ok := d.probe(k)
	if !ok {
		return Null, false
	}
	return d.table[i].val, true
}

// Contains reports whether k is present.
func (d *NameDict) Contains(k Name) bool {
	_, ok := d.Get(k)
	return ok
}

// Set inserts or replaces the value for k.
func (d *NameDict) Set(k Name, v Value) {
	if k == 0 {
		fatalf("NameDict.Set: reserved name")
	}
	if d.table == nil {
		for i := 0; i < d.n; i++ {
			if d.small[i].key == k {
				d.small[i].val = v
				return
			}
		}
		if d.n < nameDictSmall {
			d.small[d.n] = nameEntry{k, v}
			d.n++
			return
		}
		d.promote()
	}
	i, ok := d.probe(k)
	if ok {
		d.table[i].val = v
		return
	}
	if (d.n+1)*3 > len(d.table)*2 {
		d.rehash(len(d.table) * 2)
		i, _ = d.probe(k)
	}
	d.table[i] = nameEntry{k, v}
	d.n++
}

func (d *NameDict) promote() {
	d.table = make([]nameEntry, nameDictSmall*2)
	for i := 0; i < d.n; i++ {
		e := d.small[i]
		j, _ := d.probe(e.key)
		d.table[j] = e
		d.small[i] = nameEntry{}
	}
}

func (d *NameDict) rehash(capacity int) {
	old := d.table
	d.table = make([]nameEntry, capacity)
	for _, e := range old {
		if e.key != 0 {
			j, _ := d.probe(e.key)
			d.table[j] = e
		}
	}
}

// Delete removes k, reporting whether it was present.
func (d *NameDict) Delete(k Name) bool {
	if d.table == nil {
		for i := 0; i < d.n; i++ {
			if d.small[i].key == k {
				copy(d.small[i:d.n], d.small[i+1:d.n])
				d.n--
				d.small[d.n] = nameEntry{}
				return true
			}
		}
		return false
	}
	i, ok := d.probe(k)
	if !ok {
		return false
	}
	mask := d.mask()
	j := i
	for {
		j = (j + 1) & mask
		e := d.table[j]
		if e.key == 0 {
			break
		}
		// Move e back into the hole when the hole lies on its probe path.
		if (j-d.home(e.key))&mask >= (j-i)&mask {
			d.table[i] = e
			i = j
		}
	}
	d.table[i] = nameEntry{}
	d.n--
	return true
}

// Range calls fn for every entry until fn returns false. The small form
// visits entries in insertion order.
func (d *NameDict) Range(fn func(k Name, v Value) bool) {
	if d.table == nil {
		for i := 0; i < d.n; i++ {
			if !fn(d.small[i].key, d.small[i].val) {
				return
			}
		}
		return
	}
	for _, e := range d.table {
		if e.key != 0 && !fn(e.key, e.val) {
			return
		}
	}
}

// Keys returns the keys in iteration order.
func (d *NameDict) Keys() []Name {
	keys := make([]Name, 0, d.n)
	d.Range(func(k Name, _ Value) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Copy returns an independent copy.
func (d *NameDict) Copy() *NameDict {
	c := &NameDict{small: d.small, n: d.n}
	if d.table != nil {
		c.table = append([]nameEntry(nil), d.table...)
	}
	return c
}

// Clear removes every entry and returns to the small form.
func (d *NameDict) Clear() {
	*d = NameDict{}
}

func (d *NameDict) mark(m *gcMarker) {
	d.Range(func(_ Name, v Value) bool {
		m.mark(v)
		return true
	})
}
