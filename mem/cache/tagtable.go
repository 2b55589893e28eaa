// Package cache provides small tag-array building blocks on top of akita's
// cache directory.
package cache

import (
	"fmt"

	"github.com/pkg/errors"
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
	"github.com/sarchlab/akita/v4/mem/vm"

	"github.com/smtsim/pfsim/mem"
)

// A TagTable is a fixed-size, set-associative CAM. Entries are keyed by a
// lookup value, which selects the line and must match exactly, plus a match
// value (usually a thread id) which only participates in matching. Callers
// keep their payload in a parallel slice indexed by the flat entry index
// line*assoc+way.
type TagTable struct {
	dir      *akitacache.DirectoryImpl
	hooks    ReplacementHooks
	numLines int
	assoc    int
}

// NewTagTable creates a tag table with numEntries entries split into lines of
// assoc ways. The number of lines must be a power of two.
func NewTagTable(numEntries, assoc int, policy string) (*TagTable, error) {
	if numEntries < 1 || assoc < 1 {
		return nil, errors.Errorf("tag table needs positive size, got %d entries, "+
			"assoc %d", numEntries, assoc)
	}

	if numEntries%assoc != 0 {
		return nil, errors.Errorf("tag table assoc %d doesn't divide %d entries",
			assoc, numEntries)
	}

	numLines := numEntries / assoc
	if !mem.IsPowerOfTwo(numLines) {
		return nil, errors.Errorf("tag table line count %d is not a power of two",
			numLines)
	}

	finder, err := NewVictimFinder(policy)
	if err != nil {
		return nil, err
	}

	t := &TagTable{
		dir:      akitacache.NewDirectory(numLines, assoc, 1, finder),
		numLines: numLines,
		assoc:    assoc,
	}
	t.hooks, _ = finder.(ReplacementHooks)

	return t, nil
}

// NumEntries returns the capacity of the table.
func (t *TagTable) NumEntries() int {
	return t.numLines * t.assoc
}

// Lookup finds the entry for the key and marks it most recently used.
func (t *TagTable) Lookup(match uint32, key uint64) (int, bool) {
	b := t.dir.Lookup(vm.PID(match), key)
	if b == nil || !b.IsValid {
		return 0, false
	}

	t.dir.Visit(b)
	if t.hooks != nil {
		t.hooks.OnHit(b)
	}

	return t.index(b), true
}

// Probe finds the entry for the key without touching replacement state.
func (t *TagTable) Probe(match uint32, key uint64) (int, bool) {
	b := t.dir.Lookup(vm.PID(match), key)
	if b == nil || !b.IsValid {
		return 0, false
	}

	return t.index(b), true
}

// Replace installs a key that is not present, evicting whatever the victim
// finder selects. It reports whether a valid entry was displaced.
func (t *TagTable) Replace(match uint32, key uint64) (idx int, evicted bool) {
	if _, found := t.Probe(match, key); found {
		panic(fmt.Sprintf("tag table: key 0x%x/%d already present", key, match))
	}

	victim := t.dir.FindVictim(key)
	evicted = victim.IsValid

	victim.Tag = key
	victim.PID = vm.PID(match)
	victim.IsValid = true
	victim.IsDirty = false
	t.dir.Visit(victim)

	if t.hooks != nil {
		t.hooks.OnFill(victim)
	}

	return t.index(victim), evicted
}

// Invalidate drops the entry at a flat index.
func (t *TagTable) Invalidate(idx int) {
	sets := t.dir.GetSets()
	b := sets[idx/t.assoc].Blocks[idx%t.assoc]
	b.IsValid = false
}

// Reset invalidates every entry.
func (t *TagTable) Reset() {
	t.dir.Reset()
	if t.hooks != nil {
		t.hooks.Reset()
	}
}

func (t *TagTable) index(b *akitacache.Block) int {
	return b.SetID*t.assoc + b.WayID
}
