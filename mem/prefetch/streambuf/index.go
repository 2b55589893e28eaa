package streambuf

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/smtsim/pfsim/mem"
)

// A Token names one slot in the group: (stream id, slot id). It is what the
// index stores and what travels with an outstanding prefetch.
type Token struct {
	Stream int
	Slot   int
}

func (t Token) String() string {
	return fmt.Sprintf("s%de%d", t.Stream, t.Slot)
}

func tokenLess(a, b Token) bool {
	if a.Stream != b.Stream {
		return a.Stream < b.Stream
	}

	return a.Slot < b.Slot
}

func sortTokens(ts []Token) {
	sort.Slice(ts, func(i, j int) bool { return tokenLess(ts[i], ts[j]) })
}

// GroupIndex maps a block address to every slot in the group that tracks it.
// It answers "does anybody have this block" and never holds an address with
// no slots.
type GroupIndex struct {
	byAddr map[mem.LongAddr]mapset.Set[Token]
}

// NewGroupIndex creates an empty index.
func NewGroupIndex() *GroupIndex {
	return &GroupIndex{byAddr: make(map[mem.LongAddr]mapset.Set[Token])}
}

// Reset empties the index.
func (g *GroupIndex) Reset() {
	g.byAddr = make(map[mem.LongAddr]mapset.Set[Token])
}

// Len returns the number of distinct addresses tracked.
func (g *GroupIndex) Len() int {
	return len(g.byAddr)
}

// Lookup returns the slots tracking the block, ordered by stream then slot.
func (g *GroupIndex) Lookup(base mem.LongAddr) []Token {
	found, ok := g.byAddr[base]
	if !ok {
		return nil
	}

	if found.IsEmpty() {
		panic(fmt.Sprintf("index holds %s with no slots", base))
	}

	ts := found.ToSlice()
	sortTokens(ts)

	return ts
}

// LookupMaster returns every slot tracking a block of the address space.
func (g *GroupIndex) LookupMaster(masterID int) []Token {
	var ts []Token

	for addr, found := range g.byAddr {
		if addr.MasterID == masterID {
			ts = append(ts, found.ToSlice()...)
		}
	}

	sortTokens(ts)

	return ts
}

// TagPresent tells if any slot tracks the block.
func (g *GroupIndex) TagPresent(base mem.LongAddr) bool {
	_, ok := g.byAddr[base]
	return ok
}

// Contains tells if the given slot is indexed under the block.
func (g *GroupIndex) Contains(base mem.LongAddr, t Token) bool {
	found, ok := g.byAddr[base]
	return ok && found.ContainsOne(t)
}

// Insert records that a slot now tracks the block.
func (g *GroupIndex) Insert(base mem.LongAddr, t Token) {
	found, ok := g.byAddr[base]
	if !ok {
		found = mapset.NewThreadUnsafeSet[Token]()
		g.byAddr[base] = found
	}

	if !found.Add(t) {
		panic(fmt.Sprintf("insert_block: base_addr %s, coord %s already present",
			base, t))
	}
}

// EraseBlocks removes several slots from one block at once.
func (g *GroupIndex) EraseBlocks(base mem.LongAddr, ts []Token) {
	found, ok := g.byAddr[base]
	if !ok {
		panic(fmt.Sprintf("tried to erase from non-existent addr %s", base))
	}

	for _, t := range ts {
		if !found.ContainsOne(t) {
			panic(fmt.Sprintf("tried to erase non-existent %s from %s", t, base))
		}

		found.Remove(t)
	}

	if found.IsEmpty() {
		delete(g.byAddr, base)
	}
}

// Erase removes one slot from a block.
func (g *GroupIndex) Erase(base mem.LongAddr, t Token) {
	g.EraseBlocks(base, []Token{t})
}

// each visits every (address, slot) pair.
func (g *GroupIndex) each(f func(mem.LongAddr, Token)) {
	for addr, found := range g.byAddr {
		found.Each(func(t Token) bool {
			f(addr, t)
			return false
		})
	}
}
