// Package arena implements the block allocator that backs the engine heap:
// two pools of fixed-size blocks grouped into arenas, plus a fallback tier
// for allocations larger than the biggest block.
package arena

import (
	"sync"

	"fortio.org/safecast"
	"github.com/tliron/commonlog"
)

// Nominal block sizes of the two pools, in bytes.
const (
	SmallBlock = 64
	LargeBlock = 128
)

// DefaultArenaBytes is the nominal size of one arena.
const DefaultArenaBytes = 64 * 1024

var log = commonlog.GetLogger("kestrel.arena")

// globalMu serializes allocator operations across every Allocator created
// with ThreadSafe set.
var globalMu sync.Mutex

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// Options configures an Allocator.
type Options struct {
	ArenaBytes int  // nominal bytes per arena; DefaultArenaBytes when zero
	ThreadSafe bool // take the package-wide mutex around alloc/free/shrink
}

// Stats is a snapshot of allocator occupancy.
type Stats struct {
	Arenas     [2]int // live arenas per pool
	FreeArenas [2]int // fully free arenas cached per pool
	Live       [3]int // live blocks per tier
	Released   int    // arenas released by Shrink so far
}

type fallbackEntry[T any] struct {
	gen uint32
	val *T
}

// Allocator hands out generational handles to values of type T. The caller
// states a nominal size for every allocation; it picks the tier.
type Allocator[T any] struct {
	mu    sync.Locker
	pools [2]*pool[T]

	fallback     []fallbackEntry[T]
	fallbackFree []int
	fallbackLive int

	released int
}

// New creates an allocator.
func New[T any](opts Options) *Allocator[T] {
	if opts.ArenaBytes <= 0 {
		opts.ArenaBytes = DefaultArenaBytes
	}
	a := &Allocator[T]{mu: nopLocker{}}
	if opts.ThreadSafe {
		a.mu = &globalMu
	}
	a.pools[TierSmall] = newPool[T](TierSmall, SmallBlock, opts.ArenaBytes)
	a.pools[TierLarge] = newPool[T](TierLarge, LargeBlock, opts.ArenaBytes)
	return a
}

// TierFor returns the tier that serves an allocation of size bytes.
func TierFor(size int) Tier {
	switch {
	case size <= SmallBlock:
		return TierSmall
	case size <= LargeBlock:
		return TierLarge
	default:
		return TierFallback
	}
}

// Alloc reserves a zeroed block for a value of the given nominal size.
func (a *Allocator[T]) Alloc(size int) (Handle, *T) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tier := TierFor(size)
	if tier != TierFallback {
		return a.pools[tier].alloc()
	}
	return a.allocFallback()
}

func (a *Allocator[T]) allocFallback() (Handle, *T) {
	var idx int
	if n := len(a.fallbackFree); n > 0 {
		idx = a.fallbackFree[n-1]
		a.fallbackFree = a.fallbackFree[:n-1]
	} else {
		idx = len(a.fallback)
		if idx >= 1<<tierShift {
			panic("arena: fallback tier exhausted")
		}
		a.fallback = append(a.fallback, fallbackEntry[T]{gen: 1})
	}
	e := &a.fallback[idx]
	e.val = new(T)
	a.fallbackLive++
	return makeHandle(TierFallback, idx>>slotBits, idx&slotMask, e.gen), e.val
}

// Get resolves a handle. It returns nil for handles that were freed, that
// belong to a released arena, or that were never issued by this allocator.
func (a *Allocator[T]) Get(h Handle) *T {
	switch h.Tier() {
	case TierSmall, TierLarge:
		if b := a.pools[h.Tier()].lookup(h); b != nil {
			return &b.val
		}
	case TierFallback:
		idx := h.fallbackIndex()
		if idx < len(a.fallback) {
			e := &a.fallback[idx]
			if e.val != nil && e.gen == h.Gen() {
				return e.val
			}
		}
	}
	return nil
}

// Free returns a block to its pool. Freeing a stale handle reports false.
func (a *Allocator[T]) Free(h Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch h.Tier() {
	case TierSmall, TierLarge:
		return a.pools[h.Tier()].free(h)
	case TierFallback:
		idx := h.fallbackIndex()
		if idx >= len(a.fallback) {
			return false
		}
		e := &a.fallback[idx]
		if e.val == nil || e.gen != h.Gen() {
			return false
		}
		e.val = nil
		e.gen = nextGen(e.gen)
		a.fallbackFree = append(a.fallbackFree, idx)
		a.fallbackLive--
		return true
	}
	return false
}

// Shrink releases fully free arenas in each pool beyond floor cached ones.
// It returns the number of arenas released.
func (a *Allocator[T]) Shrink(floor int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if floor < 0 {
		floor = 0
	}
	n := a.pools[TierSmall].shrink(floor) + a.pools[TierLarge].shrink(floor)
	if n > 0 {
		a.released += n
		log.Debugf("released %d free arenas (floor %d)", n, floor)
	}
	return n
}

// BlocksPerArena reports how many blocks an arena of the tier holds.
func (a *Allocator[T]) BlocksPerArena(t Tier) int {
	if t == TierSmall || t == TierLarge {
		return a.pools[t].perArena
	}
	return 1
}

// Live returns the number of live blocks across all tiers.
func (a *Allocator[T]) Live() int {
	return a.pools[TierSmall].live + a.pools[TierLarge].live + a.fallbackLive
}

// Stats returns a snapshot of allocator occupancy.
func (a *Allocator[T]) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	var s Stats
	for t := TierSmall; t <= TierLarge; t++ {
		p := a.pools[t]
		s.Arenas[t] = p.lists[listEmpty].n + p.lists[listPartial].n + p.lists[listFull].n
		s.FreeArenas[t] = p.lists[listEmpty].n
		s.Live[t] = p.live
	}
	s.Live[TierFallback] = a.fallbackLive
	s.Released = a.released
	return s
}

// ArenaFloor converts an object-count threshold into a cached-arena floor
// for the small pool.
func (a *Allocator[T]) ArenaFloor(objects int) int {
	per := a.pools[TierSmall].perArena
	floor, err := safecast.Conv[int]((int64(objects) + int64(per) - 1) / int64(per))
	if err != nil || floor < 1 {
		return 1
	}
	return floor
}
