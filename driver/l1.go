// Package driver wires stream-buffer engines into a small multi-core memory
// model: private L1 tag stores, a shared memory system, workloads and thread
// migration.
package driver

import (
	"github.com/pkg/errors"
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
	"github.com/sarchlab/akita/v4/mem/vm"

	"github.com/smtsim/pfsim/mem"
	"github.com/smtsim/pfsim/mem/cache"
)

// L1Config describes an L1 tag store.
type L1Config struct {
	Size       int
	Assoc      int
	BlockBytes int
	Policy     string
}

// DefaultL1Config returns a 32KB, 4-way, 64B-line L1.
func DefaultL1Config() L1Config {
	return L1Config{
		Size:       32 * 1024,
		Assoc:      4,
		BlockBytes: 64,
		Policy:     cache.PolicyLRU,
	}
}

func (c L1Config) numSets() int {
	return c.Size / (c.Assoc * c.BlockBytes)
}

// Validate checks the geometry.
func (c L1Config) Validate() error {
	if c.Assoc < 1 || c.BlockBytes < 1 || !mem.IsPowerOfTwo(c.BlockBytes) {
		return errors.Errorf("bad l1 assoc %d / block size %d", c.Assoc,
			c.BlockBytes)
	}

	if c.Size%(c.Assoc*c.BlockBytes) != 0 || c.numSets() < 1 {
		return errors.Errorf("l1 size %d is not a whole number of %d-way sets",
			c.Size, c.Assoc)
	}

	if _, err := cache.NewVictimFinder(c.Policy); err != nil {
		return errors.Wrap(err, "l1")
	}

	return nil
}

// L1Stats counts tag-store events.
type L1Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	Writebacks int64
}

// An Eviction describes the block displaced by an install.
type Eviction struct {
	Addr  mem.LongAddr
	Dirty bool
}

// L1 is a timing-free tag store. Blocks carry a write permission bit on top
// of akita's valid and dirty bits.
type L1 struct {
	cfg       L1Config
	directory *akitacache.DirectoryImpl
	hooks     cache.ReplacementHooks
	writable  []bool
	stats     L1Stats
}

// NewL1 creates an L1 tag store.
func NewL1(cfg L1Config) (*L1, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	finder, _ := cache.NewVictimFinder(cfg.Policy)
	numSets := cfg.numSets()

	c := &L1{
		cfg: cfg,
		directory: akitacache.NewDirectory(numSets, cfg.Assoc, cfg.BlockBytes,
			finder),
		writable: make([]bool, numSets*cfg.Assoc),
	}
	c.hooks, _ = finder.(cache.ReplacementHooks)

	return c, nil
}

func (c *L1) touch(b *akitacache.Block, fill bool) {
	c.directory.Visit(b)

	if c.hooks == nil {
		return
	}

	if fill {
		c.hooks.OnFill(b)
	} else {
		c.hooks.OnHit(b)
	}
}

// Stats returns the counters.
func (c *L1) Stats() L1Stats { return c.stats }

// BlockBytes returns the line size.
func (c *L1) BlockBytes() int { return c.cfg.BlockBytes }

func (c *L1) blockIndex(b *akitacache.Block) int {
	return b.SetID*c.cfg.Assoc + b.WayID
}

func (c *L1) lookup(base mem.LongAddr) *akitacache.Block {
	b := c.directory.Lookup(vm.PID(base.MasterID), base.VA)
	if b == nil || !b.IsValid {
		return nil
	}

	return b
}

// Access looks the block up for a demand access. It reports whether the
// block is present and, if so, whether it may be written. Present blocks
// become most recently used, and a write hit with permission marks the block
// dirty.
func (c *L1) Access(base mem.LongAddr, write bool) (present, writable bool) {
	b := c.lookup(base)
	if b == nil {
		c.stats.Misses++
		return false, false
	}

	c.touch(b, false)
	writable = c.writable[c.blockIndex(b)]

	if write && !writable {
		c.stats.Misses++
		return true, false
	}

	c.stats.Hits++

	if write {
		b.IsDirty = true
	}

	return true, writable
}

// Holds tells if the block is present, without touching LRU state.
func (c *L1) Holds(base mem.LongAddr) bool {
	return c.lookup(base) != nil
}

// Install places a block, or upgrades it if already present. It returns the
// block it displaced, if any.
func (c *L1) Install(base mem.LongAddr, writable, dirty bool) (Eviction, bool) {
	if b := c.lookup(base); b != nil {
		idx := c.blockIndex(b)
		c.writable[idx] = c.writable[idx] || writable
		b.IsDirty = b.IsDirty || dirty
		c.touch(b, false)

		return Eviction{}, false
	}

	victim := c.directory.FindVictim(base.VA)

	var (
		ev      Eviction
		evicted bool
	)

	if victim.IsValid {
		ev = Eviction{
			Addr:  mem.MakeLongAddr(victim.Tag, int(victim.PID)),
			Dirty: victim.IsDirty,
		}
		evicted = true
		c.stats.Evictions++

		if victim.IsDirty {
			c.stats.Writebacks++
		}
	}

	victim.Tag = base.VA
	victim.PID = vm.PID(base.MasterID)
	victim.IsValid = true
	victim.IsDirty = dirty
	c.writable[c.blockIndex(victim)] = writable
	c.touch(victim, true)

	return ev, evicted
}

// Invalidate drops the block. It reports whether it was dirty.
func (c *L1) Invalidate(base mem.LongAddr) (wasDirty bool) {
	b := c.lookup(base)
	if b == nil {
		return false
	}

	wasDirty = b.IsDirty
	b.IsValid = false
	b.IsDirty = false
	c.writable[c.blockIndex(b)] = false

	return wasDirty
}

// Downgrade removes write permission from the block. It reports whether the
// block was dirty; the data stays, now clean.
func (c *L1) Downgrade(base mem.LongAddr) (wasDirty bool) {
	b := c.lookup(base)
	if b == nil {
		return false
	}

	wasDirty = b.IsDirty
	b.IsDirty = false
	c.writable[c.blockIndex(b)] = false

	return wasDirty
}

// Reset empties the tag store and clears the counters.
func (c *L1) Reset() {
	c.directory.Reset()

	if c.hooks != nil {
		c.hooks.Reset()
	}

	for i := range c.writable {
		c.writable[i] = false
	}

	c.stats = L1Stats{}
}
