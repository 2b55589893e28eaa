// Package streambuf implements a stream-buffer prefetcher: a group of
// stride-following streams attached to one cache, with a shared allocation
// predictor, a group-wide block index and a migration protocol that lets a
// thread's prefetch state follow it to another core.
package streambuf

import (
	"fmt"
	"io"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"

	"github.com/smtsim/pfsim/mem"
	"github.com/smtsim/pfsim/sim"
)

// An Engine is the stream-buffer group of one cache. All methods run to
// completion within the cycle given by their context.
type Engine struct {
	name   string
	cfg    Config
	coreID int
	issuer PrefetchIssuer
	probe  PortProbe
	log    *logrus.Entry

	predictor *AllocPredictor
	index     *GroupIndex
	streams   []*Stream

	allocTries int
	rrPredict  int
	rrPrefetch int

	stats Stats

	deferred *deferredImport
}

// Name returns the engine name.
func (e *Engine) Name() string { return e.name }

// CoreID returns the core the engine prefetches for.
func (e *Engine) CoreID() int { return e.coreID }

// Config returns the engine parameters.
func (e *Engine) Config() Config { return e.cfg }

// NumStreams returns the number of streams.
func (e *Engine) NumStreams() int { return len(e.streams) }

// Stream returns a stream by id.
func (e *Engine) Stream(id int) *Stream { return e.streams[id] }

// Index returns the group index.
func (e *Engine) Index() *GroupIndex { return e.index }

// Stats returns a copy of the counters.
func (e *Engine) Stats() Stats { return e.stats }

// DeferredImportPending tells if an import is waiting on busy streams.
func (e *Engine) DeferredImportPending() bool { return e.deferred != nil }

// Outstanding returns the number of slots with a prefetch in flight.
func (e *Engine) Outstanding() int {
	n := 0

	for _, st := range e.streams {
		for i := range st.slots {
			if !st.slots[i].okToReset() {
				n++
			}
		}
	}

	return n
}

// Reset returns the engine to its just-built state.
func (e *Engine) Reset() {
	e.predictor.Reset()

	for _, st := range e.streams {
		st.reset()
	}

	e.index.Reset()
	e.allocTries = 0
	e.rrPredict = 0
	e.rrPrefetch = 0
	e.stats = Stats{}
	e.deferred = nil
}

// PrintStats writes the counters.
func (e *Engine) PrintStats(w io.Writer, prefix string) {
	e.stats.Print(w, prefix)
}

func (e *Engine) traceDump(what string) {
	if !e.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		return
	}

	var b strings.Builder
	e.Dump(&b, "  ")
	e.log.Tracef("after-%s dump:\n%s", what, b.String())
}

// CacheMiss looks a demand miss up in the stream buffers. On a hit it also
// returns the strongest access any matching copy allows. A miss that matches
// nothing may allocate a stream.
func (e *Engine) CacheMiss(
	ctx sim.Context,
	base mem.LongAddr,
	offset int,
	access mem.AccessType,
	pc uint64,
) (hit bool, allowed mem.AccessType) {
	matches := e.index.Lookup(base)
	e.log.Debugf("access: addr %s +%d, pc 0x%x; %d tag matches %v",
		base, offset, pc, len(matches), matches)

	var (
		toErase   []Token
		firstUse  bool
		writePerm bool
		earliest  int64 = -1
	)

	for _, t := range matches {
		r := e.streams[t.Stream].lookupHit(ctx.Cycle, t.Slot, base, access)
		e.log.Tracef("access coord %s -> %+v", t, r)

		if r.hit {
			hit = true

			if earliest < 0 || r.fetchTime < earliest {
				earliest = r.fetchTime
			}

			firstUse = firstUse || r.firstUse
			writePerm = writePerm || r.writePerm
		}

		if r.eraseAfter {
			toErase = append(toErase, t)
		}
	}

	missVA := base.Add(int64(offset))
	pi, havePred := e.predictor.PredictOnly(base.MasterID, pc, missVA.VA)

	if len(matches) == 0 {
		e.allocate(ctx, missVA, pc, pi, havePred)
	} else if len(toErase) > 0 {
		e.index.EraseBlocks(base, toErase)
	}

	e.stats.Accesses++

	if hit {
		e.stats.Hits++

		allowed = mem.AccessRead
		if writePerm {
			allowed = mem.AccessReadExcl
		}
	}

	if firstUse {
		win := float64(ctx.Cycle - earliest)
		e.stats.PFUsed++
		e.stats.FullWinTime.Add(win)
		e.stats.AllWinTime.Add(win)
	}

	e.traceDump("access")

	return hit, allowed
}

func (e *Engine) allocate(
	ctx sim.Context,
	missVA mem.LongAddr,
	pc uint64,
	pi PredictInfo,
	havePred bool,
) {
	id := e.allocFilterAndReplace(missVA, pi, havePred)
	if id < 0 {
		return
	}

	st := e.streams[id]
	e.log.Debugf("alloc stream, new_id %d", id)

	if st.allocated {
		e.log.Tracef("victim accesses: %d hits: %d pfs: %d life: %d",
			st.accesses, st.hits, st.prefetches, st.lifetime(ctx.Cycle))
		e.stats.recordReplaced(st, ctx.Cycle)
	}

	e.stats.StreamAllocs++

	if !st.okToReset() {
		panic(fmt.Sprintf("%s: cyc %d: allocation victim %d is busy",
			e.name, ctx.Cycle, id))
	}

	st.reset()
	st.init(ctx.Cycle, pc, missVA, pi)
}

// allocFilterAndReplace decides whether a miss deserves a stream and picks
// the stream to replace. It returns -1 for no allocation.
func (e *Engine) allocFilterAndReplace(
	missVA mem.LongAddr,
	pi PredictInfo,
	havePred bool,
) int {
	id := -1

	switch {
	case !havePred:
	case e.cfg.UseTwoMissAllocFilter:
		if pi.twoMissFilterPass(missVA.VA) {
			id = e.replaceMatchLRU()
		}
	default:
		accuracy := pi.MatchCounter()
		if accuracy >= e.cfg.allocThresh() {
			id = e.replacePriority(accuracy)
		}
	}

	e.allocTries++
	if e.allocTries >= e.cfg.StreamPriorityAgeAllocs {
		e.log.Debug("aging streams")

		for _, st := range e.streams {
			st.age()
		}

		e.allocTries = 0
	}

	return id
}

// AccessOK tells if any stream holds the block with the given permission.
func (e *Engine) AccessOK(base mem.LongAddr, access mem.AccessType) bool {
	for _, t := range e.index.Lookup(base) {
		if e.streams[t.Stream].accessOK(t.Slot, base, access) {
			return true
		}
	}

	return false
}

// MemCommit trains the allocation predictor with a committed access.
func (e *Engine) MemCommit(
	ctx sim.Context,
	pc uint64,
	va mem.LongAddr,
	wasWrite, wasMiss bool,
) {
	e.log.Tracef("commit: va %s pc 0x%x write %t miss %t", va, pc, wasWrite,
		wasMiss)
	e.predictor.Update(va.MasterID, pc, va.VA, wasMiss)
}

// CoherYield drops write permission on every copy of the block, and with
// invalidate also drops the copies.
func (e *Engine) CoherYield(ctx sim.Context, base mem.LongAddr, invalidate bool) {
	matches := e.index.Lookup(base)
	e.log.Debugf("yield: base_addr %s inval %t; %d tag matches", base,
		invalidate, len(matches))

	for _, t := range matches {
		e.streams[t.Stream].coherYield(t.Slot, base, invalidate)
	}

	e.traceDump("yield")
}

// CacheDirtyEvict drops every copy of a block the cache just wrote back.
func (e *Engine) CacheDirtyEvict(ctx sim.Context, base mem.LongAddr) {
	matches := e.index.Lookup(base)
	e.log.Debugf("dirty_evict: base_addr %s; %d tag matches", base,
		len(matches))

	for _, t := range matches {
		e.streams[t.Stream].dirtyEvict(t.Slot, base)
	}

	e.traceDump("evict")
}

// StopThreadPF drops every block of the thread and retires the streams that
// work for it, as soon as their outstanding replies are in.
func (e *Engine) StopThreadPF(ctx sim.Context, masterID int) {
	matches := e.index.LookupMaster(masterID)
	e.log.Debugf("stop_thread_pf: master_id %d; %d tag matches", masterID,
		len(matches))

	kill := mapset.NewThreadUnsafeSet[int]()

	for _, t := range matches {
		e.streams[t.Stream].stopSlot(t.Slot, masterID)
		kill.Add(t.Stream)
	}

	for _, st := range e.streams {
		if st.allocated && st.masterID == masterID {
			kill.Add(st.id)
		}
	}

	ids := kill.ToSlice()
	sort.Ints(ids)

	for _, id := range ids {
		if e.streams[id].startSelfDestruct() {
			e.streamDestructed(ctx, id)
		}
	}

	e.traceDump("stop")
}

func containsToken(ts []Token, t Token) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}

	return false
}

// PFFill delivers the reply to a prefetch. Every slot tracking the block
// consumes it, whether or not the fill's token is among them.
func (e *Engine) PFFill(ctx sim.Context, f Fill) {
	matches := e.index.Lookup(f.Addr)
	e.log.Debugf("fill: base_addr %s token %s e_a_t %s ready_time %d "+
		"filled_to_cache %t; %d tag matches", f.Addr, f.Token, f.EffAccess,
		f.ReadyTime, f.FilledToCache, len(matches))

	if len(matches) == 0 {
		panic(fmt.Sprintf("%s: unmatched streambuf pf_fill, time %d "+
			"base_addr %s access %s ready_time %d",
			e.name, ctx.Cycle, f.Addr, f.EffAccess, f.ReadyTime))
	}

	if !containsToken(matches, f.Token) {
		e.log.Debugf("fill token %s no longer tracks %s, filling %d matches",
			f.Token, f.Addr, len(matches))
	}

	for _, t := range matches {
		// An earlier fill may have reset this stream.
		if !e.index.Contains(f.Addr, t) {
			continue
		}

		svc, destructed := e.streams[t.Stream].prefetchFill(ctx.Cycle, t.Slot,
			f.Addr, f.EffAccess, f.ReadyTime, f.FilledToCache)
		e.stats.PFServiceTime.Add(float64(svc))

		if destructed {
			e.streamDestructed(ctx, t.Stream)
		}
	}

	e.traceDump("fill")
}

// PFMerged notes that a demand request found the block's prefetch already
// in flight.
func (e *Engine) PFMerged(ctx sim.Context, base mem.LongAddr, pfCameFirst bool) {
	matches := e.index.Lookup(base)
	e.log.Debugf("merged: base_addr %s pf_first %t; %d tag matches", base,
		pfCameFirst, len(matches))

	if len(matches) == 0 {
		panic(fmt.Sprintf("%s: unmatched streambuf pf_merged, time %d "+
			"base_addr %s", e.name, ctx.Cycle, base))
	}

	for _, t := range matches {
		win := e.streams[t.Stream].prefetchMerged(ctx.Cycle, t.Slot, base,
			pfCameFirst)
		if win > 0 {
			e.stats.PFUsed++
			e.stats.PartialWinTime.Add(float64(win))
			e.stats.AllWinTime.Add(float64(win))
		}
	}
}

// Service runs one cycle of the autonomous part of the engine: one stream
// may issue its next prefetch and one stream may extend its prediction.
func (e *Engine) Service(ctx sim.Context) {
	pfWinner := e.arbitrateForPrefetch()
	predWinner := e.arbitrateForPredict()

	if pfWinner < 0 && predWinner < 0 {
		return
	}

	e.log.Debugf("service: time %d; pf stream %d, pred stream %d",
		ctx.Cycle, pfWinner, predWinner)

	if pfWinner >= 0 {
		e.issuePrefetch(ctx, e.streams[pfWinner])
	}

	if predWinner >= 0 {
		e.streams[predWinner].servicePredict()
	}

	e.traceDump("service")
}

func (e *Engine) issuePrefetch(ctx sim.Context, st *Stream) {
	sl := st.peekPrefetch()
	base := sl.baseAddr

	if e.cfg.PrefetchOnlyWhenQuiet && e.probe != nil &&
		!e.probe.PortQuiet(ctx, base) {
		e.stats.PFSkippedBusy++
		e.log.Debugf("skipped pf service for %s, resources busy", base)

		return
	}

	req := PrefetchRequest{
		Core:      e.coreID,
		Addr:      base,
		Exclusive: e.cfg.PrefetchAsExclusive,
		Token:     st.token(sl.id),
	}

	if !e.issuer.IssuePrefetch(ctx, req) {
		e.stats.PFReqsFailed++
		e.log.Tracef("prefetch request for %s failed", base)

		return
	}

	st.servicePrefetch(ctx.Cycle, base)
	e.stats.PFReqsOK++
	e.log.Debugf("service pf addr %s token %s", base, req.Token)
}

// Tick services the engine and asks to run again next cycle. It fits
// sim.Handler.
func (e *Engine) Tick(ctx sim.Context) int64 {
	e.Service(ctx)
	return ctx.Cycle + 1
}
