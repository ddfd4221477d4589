package vm

import (
	"github.com/chazu/kestrel/vm/arena"
)

// Collector defaults, in objects.
const (
	DefaultGCMinThreshold = 4096
	defaultHardLimitScale = 16
)

// heap owns every object of one engine. Tracked objects are swept when
// unreachable; untracked ones live until the engine is closed.
type heap struct {
	alloc *arena.Allocator[Object]

	tracked   []Value
	untracked []Value

	allocated    int // allocations since the last collection
	threshold    int
	minThreshold int
	hardLimit    int
	lockDepth    int

	collections int
	freedTotal  int
}

func newHeap(opts Options) *heap {
	h := &heap{
		alloc: arena.New[Object](arena.Options{
			ArenaBytes: opts.ArenaBytes,
			ThreadSafe: opts.ThreadSafe,
		}),
		minThreshold: opts.GCMinThreshold,
		hardLimit:    opts.GCHardLimit,
	}
	if h.minThreshold <= 0 {
		h.minThreshold = DefaultGCMinThreshold
	}
	if h.hardLimit <= 0 {
		h.hardLimit = h.minThreshold * defaultHardLimitScale
	}
	h.threshold = h.minThreshold
	return h
}

func (h *heap) newObject(t TypeIndex, p Payload, collectable bool) Value {
	handle, o := h.alloc.Alloc(objectHeaderSize + payloadSize(p))
	v := fromHandle(handle)
	*o = Object{collectable: collectable, Type: t, Payload: p, self: v}
	if collectable {
		h.tracked = append(h.tracked, v)
		h.allocated++
	} else {
		h.untracked = append(h.untracked, v)
	}
	return v
}

// needsCollect reports whether a collection is due at a safe point.
func (h *heap) needsCollect() bool {
	return h.allocated >= h.threshold && h.lockDepth == 0
}

// overLimit reports whether a locked scope has exhausted the hard ceiling.
func (h *heap) overLimit() bool {
	return h.lockDepth > 0 && h.allocated >= h.hardLimit
}

// Live returns the number of tracked objects.
func (h *heap) Live() int { return len(h.tracked) }

// ---------------------------------------------------------------------------
// Scope locks and extra roots
// ---------------------------------------------------------------------------

// GCLock defers automatic collection until the returned unlock function is
// called. Locks nest. Allocating more than the configured hard limit while
// locked raises MemoryError.
//
//	defer e.GCLock()()
func (e *Engine) GCLock() (unlock func()) {
	e.heap.lockDepth++
	released := false
	return func() {
		if !released {
			released = true
			e.heap.lockDepth--
		}
	}
}

// checkHardLimit raises MemoryError when a locked scope allocated past the
// hard ceiling. Called at safe points.
func (e *Engine) checkHardLimit() {
	if e.heap.overLimit() {
		x := mustPayload[*Exception](e, e.memoryError)
		x.Trace, x.tracedFrame = nil, nil
		e.raiseValue(e.memoryError, false)
	}
}

// AddRoot keeps v alive until a matching RemoveRoot. Roots are counted.
func (e *Engine) AddRoot(v Value) {
	if v.IsHeap() {
		e.roots[v]++
	}
}

// RemoveRoot releases one AddRoot reference.
func (e *Engine) RemoveRoot(v Value) {
	if n := e.roots[v]; n > 1 {
		e.roots[v] = n - 1
	} else {
		delete(e.roots, v)
	}
}
