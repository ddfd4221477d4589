package vm

// Object is the header of every heap value. Objects live inside arena
// blocks owned by the engine heap and are addressed by Value handles.
type Object struct {
	collectable bool // on the tracked list, freed by sweeps
	marked      bool

	Type    TypeIndex
	Attrs   *NameDict // nil for types without instance attribute tables
	Payload Payload

	self Value
}

// Payload is the type-specific part of an object. Payloads that hold
// Values must implement childMarker; forgetting it lets the collector free
// objects that are still referenced.
type Payload interface{}

type childMarker interface {
	markChildren(m *gcMarker)
}

type finalizer interface {
	finalize()
}

// sizeHinter reports the nominal block size a payload needs. Payloads
// without a hint are assumed to fit in a small block.
type sizeHinter interface {
	sizeHint() int
}

const (
	objectHeaderSize = 40
	defaultPayload   = 16
)

func payloadSize(p Payload) int {
	if p == nil {
		return 0
	}
	if s, ok := p.(sizeHinter); ok {
		return s.sizeHint()
	}
	return defaultPayload
}

// Self returns the handle of the object.
func (o *Object) Self() Value { return o.self }

// ---------------------------------------------------------------------------
// Object access
// ---------------------------------------------------------------------------

// Object dereferences a heap handle. Dereferencing a tagged value or a
// freed handle is an engine bug.
func (e *Engine) Object(v Value) *Object {
	if !v.IsHeap() {
		fatalf("dereferencing non-heap value %#x", uint64(v))
	}
	o := e.heap.alloc.Get(v.handle())
	if o == nil {
		fatalf("dereferencing stale handle %s", v.handle())
	}
	return o
}

// TypeOf returns the type index of any value.
func (e *Engine) TypeOf(v Value) TypeIndex {
	switch {
	case v.IsSmallInt():
		return TypeInt
	case v.IsFloat():
		return TypeFloat
	case v == Null:
		fatalf("TypeOf: null value")
	}
	return e.Object(v).Type
}

// IsType is the exact-type check. Inline values are resolved from their
// tag without touching the heap.
func (e *Engine) IsType(v Value, t TypeIndex) bool {
	switch {
	case v.IsSmallInt():
		return t == TypeInt
	case v.IsFloat():
		return t == TypeFloat
	case !v.IsHeap():
		return false
	}
	return e.Object(v).Type == t
}

// IsInstance reports whether v's type is t or derives from it.
func (e *Engine) IsInstance(v Value, t TypeIndex) bool {
	switch {
	case v.IsSmallInt():
		return t == TypeInt || t == TypeObject
	case v.IsFloat():
		return t == TypeFloat || t == TypeObject
	case !v.IsHeap():
		return false
	}
	return e.IsSubclass(e.Object(v).Type, t)
}

func payloadAs[P any](e *Engine, v Value) (P, bool) {
	var zero P
	if !v.IsHeap() {
		return zero, false
	}
	p, ok := e.Object(v).Payload.(P)
	return p, ok
}

// mustPayload fetches a payload the caller has already type-checked.
func mustPayload[P any](e *Engine, v Value) P {
	p, ok := payloadAs[P](e, v)
	if !ok {
		fatalf("unexpected payload %T for %s", e.Object(v).Payload, e.TypeName(v))
	}
	return p
}

// ---------------------------------------------------------------------------
// Object creation
// ---------------------------------------------------------------------------

// newObject allocates a tracked object.
func (e *Engine) newObject(t TypeIndex, p Payload) Value {
	return e.heap.newObject(t, p, true)
}

// newObjectWithAttrs allocates a tracked object with an empty attribute table.
func (e *Engine) newObjectWithAttrs(t TypeIndex, p Payload) Value {
	v := e.heap.newObject(t, p, true)
	e.Object(v).Attrs = NewNameDict()
	return v
}

// newUntracked allocates an object that is never collected.
func (e *Engine) newUntracked(t TypeIndex, p Payload) Value {
	return e.heap.newObject(t, p, false)
}

// newInstance creates an instance of t. Instance state of user classes
// lives in the attribute table; the payload is only set when t derives
// from a builtin with state.
func (e *Engine) newInstance(t TypeIndex) Value {
	var p Payload
	switch {
	case e.IsSubclass(t, TypeBaseException):
		p = &Exception{Args: e.NewTuple(nil)}
	case e.IsSubclass(t, TypeList):
		p = &List{}
	case e.IsSubclass(t, TypeDict):
		p = newDict()
	}
	if e.types[t].instanceDict {
		return e.newObjectWithAttrs(t, p)
	}
	return e.newObject(t, p)
}
