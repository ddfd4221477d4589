package vm

import (
	"time"
)

// ---------------------------------------------------------------------------
// Mark and sweep collector
// ---------------------------------------------------------------------------

// GCStats holds statistics from a single collection.
type GCStats struct {
	Survivors      int
	Freed          int
	Untracked      int
	Threshold      int // threshold for the next automatic collection
	ArenasReleased int
	Duration       time.Duration
	Timestamp      time.Time
}

// gcMarker traces reachable objects with an explicit worklist so deep
// object graphs do not grow the Go stack.
type gcMarker struct {
	e    *Engine
	work []*Object
}

func (m *gcMarker) mark(v Value) {
	if !v.IsHeap() {
		return
	}
	o := m.e.heap.alloc.Get(v.handle())
	if o == nil {
		fatalf("gc: reference to freed object %s", v.handle())
	}
	if o.marked {
		return
	}
	o.marked = true
	m.work = append(m.work, o)
}

func (m *gcMarker) markAll(vs []Value) {
	for _, v := range vs {
		m.mark(v)
	}
}

func (m *gcMarker) drain() {
	for len(m.work) > 0 {
		o := m.work[len(m.work)-1]
		m.work = m.work[:len(m.work)-1]
		if o.Attrs != nil {
			o.Attrs.mark(m)
		}
		if c, ok := o.Payload.(childMarker); ok {
			c.markChildren(m)
		}
	}
}

func (e *Engine) markRoots(m *gcMarker) {
	m.markAll(e.stack[:e.sp])
	for _, f := range e.frames {
		f.mark(m)
	}
	for _, cs := range e.codeStates {
		cs.mark(m)
	}
	m.mark(e.lastException)
	m.mark(e.pending)
	for v := range e.roots {
		m.mark(v)
	}
	for _, v := range e.modules {
		m.mark(v)
	}
	// Untracked objects are never swept but may reference tracked ones.
	for _, v := range e.heap.untracked {
		o := e.heap.alloc.Get(v.handle())
		if !o.marked {
			o.marked = true
			m.work = append(m.work, o)
		}
	}
}

// Collect runs a full collection and returns the number of objects freed.
func (e *Engine) Collect() int {
	return e.collect().Freed
}

func (e *Engine) collect() *GCStats {
	start := time.Now()
	h := e.heap

	m := &gcMarker{e: e}
	e.markRoots(m)
	m.drain()

	survivors := h.tracked[:0]
	freed := 0
	for _, v := range h.tracked {
		o := h.alloc.Get(v.handle())
		if o.marked {
			o.marked = false
			survivors = append(survivors, v)
			continue
		}
		if f, ok := o.Payload.(finalizer); ok {
			f.finalize()
		}
		o.Attrs = nil
		h.alloc.Free(v.handle())
		freed++
	}
	clear(h.tracked[len(survivors):])
	h.tracked = survivors
	for _, v := range h.untracked {
		h.alloc.Get(v.handle()).marked = false
	}

	h.threshold = max(2*len(survivors), h.minThreshold)
	h.allocated = 0
	h.collections++
	h.freedTotal += freed

	stats := &GCStats{
		Survivors:      len(survivors),
		Freed:          freed,
		Untracked:      len(h.untracked),
		Threshold:      h.threshold,
		ArenasReleased: h.alloc.Shrink(h.alloc.ArenaFloor(h.threshold)),
		Duration:       time.Since(start),
		Timestamp:      start,
	}
	e.lastGC = stats
	gcLog.Debugf("engine %s: freed %d, %d survive, next at %d (%s)",
		e.id, freed, stats.Survivors, stats.Threshold, stats.Duration)
	return stats
}

// LastGCStats returns statistics from the most recent collection, or nil.
func (e *Engine) LastGCStats() *GCStats {
	return e.lastGC
}

// Collections returns the number of collections run so far.
func (e *Engine) Collections() int { return e.heap.collections }

// LiveObjects returns the number of tracked objects.
func (e *Engine) LiveObjects() int { return e.heap.Live() }

// autoCollect runs at safe points in the dispatch loop.
func (e *Engine) autoCollect() {
	if e.heap.needsCollect() {
		e.collect()
		return
	}
	e.checkHardLimit()
}
