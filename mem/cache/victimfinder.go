package cache

import (
	"strings"

	"github.com/pkg/errors"
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// ReplacementHooks is implemented by victim finders that keep per-block
// replacement state and need to observe hits and fills.
type ReplacementHooks interface {
	OnHit(b *akitacache.Block)
	OnFill(b *akitacache.Block)
	Reset()
}

// Replacement policy names accepted by NewVictimFinder.
const (
	PolicyLRU   = "LRU"
	PolicySRRIP = "SRRIP"
)

// NewVictimFinder returns the victim finder for a replacement policy name.
func NewVictimFinder(policy string) (akitacache.VictimFinder, error) {
	switch strings.ToUpper(policy) {
	case "", PolicyLRU:
		return akitacache.NewLRUVictimFinder(), nil
	case PolicySRRIP:
		return NewSRRIPVictimFinder(), nil
	default:
		return nil, errors.Errorf("unknown replacement policy %q", policy)
	}
}

const (
	rrpvMax    = uint8(3)
	insertRRPV = uint8(2)
	hitRRPV    = uint8(0)
)

type blockKey struct {
	set, way int
}

// SRRIPVictimFinder picks victims by static re-reference interval
// prediction. Every block carries a 2-bit RRPV: fills insert at 2, hits
// reset to 0, and the victim is any unlocked block at 3. When no block is at
// 3, all candidates are aged until one is.
type SRRIPVictimFinder struct {
	rrpv map[blockKey]uint8
}

// NewSRRIPVictimFinder returns a newly constructed SRRIP victim finder.
func NewSRRIPVictimFinder() *SRRIPVictimFinder {
	return &SRRIPVictimFinder{rrpv: make(map[blockKey]uint8)}
}

// OnHit protects a block that was just re-referenced.
func (e *SRRIPVictimFinder) OnHit(b *akitacache.Block) {
	e.rrpv[keyOf(b)] = hitRRPV
}

// OnFill records a block that was just (re)allocated.
func (e *SRRIPVictimFinder) OnFill(b *akitacache.Block) {
	e.rrpv[keyOf(b)] = insertRRPV
}

// Reset forgets all replacement state.
func (e *SRRIPVictimFinder) Reset() {
	e.rrpv = make(map[blockKey]uint8)
}

// FindVictim returns the block to replace in the set. Invalid unlocked blocks
// go first. If every block is locked, the LRU head is returned and the caller
// must cope with a locked victim.
func (e *SRRIPVictimFinder) FindVictim(set *akitacache.Set) *akitacache.Block {
	for _, b := range set.LRUQueue {
		if !b.IsValid && !b.IsLocked {
			return b
		}
	}

	if !e.anyUnlocked(set) {
		if len(set.LRUQueue) > 0 {
			return set.LRUQueue[0]
		}

		return nil
	}

	for {
		if v := e.distant(set); v != nil {
			return v
		}

		e.age(set)
	}
}

func (e *SRRIPVictimFinder) distant(set *akitacache.Set) *akitacache.Block {
	for _, b := range set.LRUQueue {
		if !b.IsLocked && e.get(b) == rrpvMax {
			return b
		}
	}

	return nil
}

func (e *SRRIPVictimFinder) anyUnlocked(set *akitacache.Set) bool {
	for _, b := range set.LRUQueue {
		if !b.IsLocked {
			return true
		}
	}

	return false
}

func (e *SRRIPVictimFinder) age(set *akitacache.Set) {
	for _, b := range set.LRUQueue {
		if b.IsLocked {
			continue
		}

		if v := e.get(b); v < rrpvMax {
			e.rrpv[keyOf(b)] = v + 1
		}
	}
}

func (e *SRRIPVictimFinder) get(b *akitacache.Block) uint8 {
	v, ok := e.rrpv[keyOf(b)]
	if !ok {
		v = insertRRPV
		e.rrpv[keyOf(b)] = v
	}

	return v
}

func keyOf(b *akitacache.Block) blockKey {
	return blockKey{set: b.SetID, way: b.WayID}
}
