package vm

import "sync"

// ---------------------------------------------------------------------------
// Name: interned identifier tokens
// ---------------------------------------------------------------------------

// Name is an interned identifier. The zero Name is reserved and never
// returned by Intern for a non-empty string.
type Name uint32

// NameTable interns identifier strings to unique Names. One table is shared
// process-wide so code records can be executed by any engine.
type NameTable struct {
	mu     sync.RWMutex
	byName map[string]Name
	byID   []string
}

// NewNameTable creates a table with the reserved empty name at index 0.
func NewNameTable() *NameTable {
	return &NameTable{
		byName: map[string]Name{"": 0},
		byID:   append(make([]string, 0, 512), ""),
	}
}

// Intern returns the Name for s, creating it if needed.
func (nt *NameTable) Intern(s string) Name {
	// Fast path: read-only lookup
	nt.mu.RLock()
	if id, ok := nt.byName[s]; ok {
		nt.mu.RUnlock()
		return id
	}
	nt.mu.RUnlock()

	nt.mu.Lock()
	defer nt.mu.Unlock()

	// Double-check after acquiring write lock
	if id, ok := nt.byName[s]; ok {
		return id
	}
	id := Name(len(nt.byID))
	nt.byName[s] = id
	nt.byID = append(nt.byID, s)
	return id
}

// Lookup returns the Name for s without interning it.
func (nt *NameTable) Lookup(s string) (Name, bool) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	id, ok := nt.byName[s]
	return id, ok
}

// String returns the text of a Name, or "" if it was never issued.
func (nt *NameTable) String(id Name) string {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	if int(id) >= len(nt.byID) {
		return ""
	}
	return nt.byID[id]
}

// Len returns the number of interned names, including the reserved one.
func (nt *NameTable) Len() int {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	return len(nt.byID)
}

// Names is the process-wide name table.
var Names = NewNameTable()

// Intern interns s in the process-wide table.
func Intern(s string) Name { return Names.Intern(s) }

func (n Name) String() string { return Names.String(n) }

// Value encodes the Name as an inline integer token. Keyword names travel
// on the value stack in this form.
func (n Name) Value() Value { return FromSmallInt(int64(n)) }

// Well-known names.
var (
	nameInit     = Intern("__init__")
	nameNew      = Intern("__new__")
	nameCall     = Intern("__call__")
	nameGetattr  = Intern("__getattr__")
	nameName     = Intern("__name__")
	nameClass    = Intern("__class__")
	nameDict     = Intern("__dict__")
	nameDoc      = Intern("__doc__")
	nameEnter    = Intern("__enter__")
	nameExit     = Intern("__exit__")
	nameIter     = Intern("__iter__")
	nameNext     = Intern("__next__")
	nameLen      = Intern("__len__")
	nameRepr     = Intern("__repr__")
	nameStr      = Intern("__str__")
	nameHash     = Intern("__hash__")
	nameBool     = Intern("__bool__")
	nameContains = Intern("__contains__")
	nameGetitem  = Intern("__getitem__")
	nameSetitem  = Intern("__setitem__")
	nameDelitem  = Intern("__delitem__")
	nameModule   = Intern("__module__")
	nameArgs     = Intern("args")
	nameSelf     = Intern("self")
)
