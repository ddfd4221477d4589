package arena

import "fmt"

// Handle is a generational reference to a block owned by an Allocator.
//
// Layout, from the least significant bit:
//
//	slot   12 bits  block index inside its arena
//	arena  22 bits  arena index inside its pool
//	tier    2 bits  Small, Large, Fallback (3 is reserved for callers)
//	gen    24 bits  generation of the block when the handle was issued
//
// The zero Handle is never issued: generations start at 1.
type Handle uint64

const (
	slotBits  = 12
	arenaBits = 22
	tierBits  = 2
	genBits   = 24

	slotMask  = 1<<slotBits - 1
	arenaMask = 1<<arenaBits - 1
	tierMask  = 1<<tierBits - 1
	genMask   = 1<<genBits - 1

	arenaShift = slotBits
	tierShift  = slotBits + arenaBits
	genShift   = slotBits + arenaBits + tierBits

	// HandleBits is the number of significant bits in a Handle.
	HandleBits = genShift + genBits

	// MaxBlocksPerArena bounds the arena size for a given block size.
	MaxBlocksPerArena = 1 << slotBits
)

// Tier identifies which pool owns a block.
type Tier uint8

const (
	TierSmall    Tier = 0 // SmallBlock-sized blocks
	TierLarge    Tier = 1 // LargeBlock-sized blocks
	TierFallback Tier = 2 // not pool-owned
	TierReserved Tier = 3 // never issued by an Allocator
)

func (t Tier) String() string {
	switch t {
	case TierSmall:
		return "small"
	case TierLarge:
		return "large"
	case TierFallback:
		return "fallback"
	default:
		return "reserved"
	}
}

func makeHandle(tier Tier, arena, slot int, gen uint32) Handle {
	return Handle(uint64(gen&genMask)<<genShift |
		uint64(tier&tierMask)<<tierShift |
		uint64(arena&arenaMask)<<arenaShift |
		uint64(slot&slotMask))
}

// ReservedHandle builds a handle in the reserved tier. Such handles never
// resolve through Get and can be used by callers as sentinels.
func ReservedHandle(id int) Handle {
	return makeHandle(TierReserved, 0, id, 1)
}

// Tier returns the tier bits of the handle.
func (h Handle) Tier() Tier { return Tier(uint64(h) >> tierShift & tierMask) }

// Arena returns the arena index of the handle.
func (h Handle) Arena() int { return int(uint64(h) >> arenaShift & arenaMask) }

// Slot returns the block index of the handle.
func (h Handle) Slot() int { return int(uint64(h) & slotMask) }

// Gen returns the generation recorded in the handle.
func (h Handle) Gen() uint32 { return uint32(uint64(h) >> genShift & genMask) }

// fallbackIndex packs arena and slot bits into one index for the fallback tier.
func (h Handle) fallbackIndex() int {
	return int(uint64(h) & (1<<tierShift - 1))
}

func (h Handle) String() string {
	return fmt.Sprintf("%s:%d.%d#%d", h.Tier(), h.Arena(), h.Slot(), h.Gen())
}

func nextGen(g uint32) uint32 {
	g = (g + 1) & genMask
	if g == 0 {
		g = 1
	}
	return g
}
