package arena

// ---------------------------------------------------------------------------
// Arenas: fixed batches of equally sized blocks
// ---------------------------------------------------------------------------

type listKind uint8

const (
	listEmpty   listKind = iota // every block free
	listPartial                 // some blocks free
	listFull                    // no block free
)

type block[T any] struct {
	gen  uint32
	next int32 // free-list link, -1 terminates
	used bool
	val  T
}

type arena[T any] struct {
	index    int
	blocks   []block[T]
	freeHead int32
	nfree    int

	kind       listKind
	prev, next *arena[T]
}

type arenaList[T any] struct {
	head *arena[T]
	n    int
}

func (l *arenaList[T]) pushFront(a *arena[T]) {
	a.prev = nil
	a.next = l.head
	if l.head != nil {
		l.head.prev = a
	}
	l.head = a
	l.n++
}

func (l *arenaList[T]) remove(a *arena[T]) {
	if a.prev != nil {
		a.prev.next = a.next
	} else {
		l.head = a.next
	}
	if a.next != nil {
		a.next.prev = a.prev
	}
	a.prev, a.next = nil, nil
	l.n--
}

// pool serves one block size. Arenas move between the empty, partial and
// full lists as their free counts change, so allocation, release and
// finding a releasable arena are all O(1).
type pool[T any] struct {
	tier      Tier
	blockSize int
	perArena  int

	arenas   []*arena[T]
	indexGen []uint32 // first generation for an arena created at that index
	holes    []int    // released arena indices available for reuse

	lists [3]arenaList[T]
	live  int
}

func newPool[T any](tier Tier, blockSize, arenaBytes int) *pool[T] {
	per := arenaBytes / blockSize
	if per < 1 {
		per = 1
	}
	if per > MaxBlocksPerArena {
		per = MaxBlocksPerArena
	}
	return &pool[T]{tier: tier, blockSize: blockSize, perArena: per}
}

func (p *pool[T]) newArena() *arena[T] {
	var idx int
	if n := len(p.holes); n > 0 {
		idx = p.holes[n-1]
		p.holes = p.holes[:n-1]
	} else {
		idx = len(p.arenas)
		if idx > arenaMask {
			panic("arena: pool exhausted")
		}
		p.arenas = append(p.arenas, nil)
		p.indexGen = append(p.indexGen, 1)
	}
	a := &arena[T]{
		index:    idx,
		blocks:   make([]block[T], p.perArena),
		freeHead: 0,
		nfree:    p.perArena,
		kind:     listEmpty,
	}
	gen := p.indexGen[idx]
	for i := range a.blocks {
		a.blocks[i].gen = gen
		a.blocks[i].next = int32(i + 1)
	}
	a.blocks[len(a.blocks)-1].next = -1
	p.arenas[idx] = a
	p.lists[listEmpty].pushFront(a)
	return a
}

func (p *pool[T]) relist(a *arena[T]) {
	want := listPartial
	switch a.nfree {
	case p.perArena:
		want = listEmpty
	case 0:
		want = listFull
	}
	if want == a.kind {
		return
	}
	p.lists[a.kind].remove(a)
	a.kind = want
	p.lists[want].pushFront(a)
}

func (p *pool[T]) alloc() (Handle, *T) {
	a := p.lists[listPartial].head
	if a == nil {
		a = p.lists[listEmpty].head
	}
	if a == nil {
		a = p.newArena()
	}
	slot := int(a.freeHead)
	b := &a.blocks[slot]
	a.freeHead = b.next
	b.next = -1
	b.used = true
	a.nfree--
	p.live++
	p.relist(a)
	return makeHandle(p.tier, a.index, slot, b.gen), &b.val
}

func (p *pool[T]) lookup(h Handle) *block[T] {
	idx := h.Arena()
	if idx >= len(p.arenas) {
		return nil
	}
	a := p.arenas[idx]
	if a == nil {
		return nil
	}
	slot := h.Slot()
	if slot >= len(a.blocks) {
		return nil
	}
	b := &a.blocks[slot]
	if !b.used || b.gen != h.Gen() {
		return nil
	}
	return b
}

func (p *pool[T]) free(h Handle) bool {
	b := p.lookup(h)
	if b == nil {
		return false
	}
	a := p.arenas[h.Arena()]
	var zero T
	b.val = zero
	b.used = false
	b.gen = nextGen(b.gen)
	b.next = a.freeHead
	a.freeHead = int32(h.Slot())
	a.nfree++
	p.live--
	p.relist(a)
	return true
}

// shrink releases fully free arenas until at most floor remain cached.
func (p *pool[T]) shrink(floor int) int {
	released := 0
	for p.lists[listEmpty].n > floor {
		a := p.lists[listEmpty].head
		p.lists[listEmpty].remove(a)
		var max uint32
		for i := range a.blocks {
			if g := a.blocks[i].gen; g > max {
				max = g
			}
		}
		p.indexGen[a.index] = nextGen(max)
		p.arenas[a.index] = nil
		p.holes = append(p.holes, a.index)
		released++
	}
	return released
}
