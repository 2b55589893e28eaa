package streambuf

import (
	"fmt"
	"io"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/xid"

	"github.com/smtsim/pfsim/mem"
	"github.com/smtsim/pfsim/sim"
)

// A StreamExport is the part of one stream's control state that can restart
// it elsewhere.
type StreamExport struct {
	PC        uint64
	NextAddr  mem.LongAddr
	Predictor StreamPredictor
}

func (s StreamExport) String() string {
	pi := s.Predictor.state

	return fmt.Sprintf("pc 0x%x next_addr %s stream_pred prev 0x%x "+
		"pprev 0x%x match %d missrun %d prio %d", s.PC, s.NextAddr,
		pi.Prev(), pi.PPrev(), pi.matchCounter, pi.missRun,
		s.Predictor.priority)
}

// An Export carries the streams of one thread from one engine to another.
type Export struct {
	ID       xid.ID
	MasterID int
	Streams  []StreamExport
}

// bitsPerStream estimates the transfer cost of one stream: a 64-bit base
// address, a 20-bit stride and 4 bits of confidence.
const bitsPerStream = 88

// Len returns the number of exported streams.
func (x *Export) Len() int { return len(x.Streams) }

// Empty tells if nothing was exported.
func (x *Export) Empty() bool { return len(x.Streams) == 0 }

// EstimateSizeBits estimates how many bits moving the export takes.
func (x *Export) EstimateSizeBits() int64 {
	return int64(bitsPerStream * len(x.Streams))
}

// Clone returns a deep copy.
func (x *Export) Clone() *Export {
	c := *x
	c.Streams = append([]StreamExport(nil), x.Streams...)

	return &c
}

// Dump writes the export.
func (x *Export) Dump(w io.Writer, prefix string) {
	fmt.Fprintf(w, "%sid: %s master_id: %d size: %d\n", prefix, x.ID,
		x.MasterID, len(x.Streams))

	for i, s := range x.Streams {
		fmt.Fprintf(w, "%s  [%d]: %s\n", prefix, i, s)
	}
}

// GenExport snapshots every live stream working for the thread. The engine
// is left unchanged.
func (e *Engine) GenExport(masterID int) *Export {
	x := &Export{ID: xid.New(), MasterID: masterID}

	for _, st := range e.streams {
		if st.allocated && !st.selfDestructing && st.masterID == masterID {
			x.Streams = append(x.Streams, st.genExport())
		}
	}

	e.log.Debugf("export: master_id %d; %d streams", masterID, len(x.Streams))

	return x
}

type prioEntry struct {
	prio int
	id   int
}

// An importPlan maps imported streams onto the existing streams they
// replace.
type importPlan struct {
	newToOld []int
	oldToNew []int
	order    []int // export indices, highest priority first
	victims  []int // stream ids, ascending
}

func newImportPlan(exports, streams int) *importPlan {
	p := &importPlan{
		newToOld: make([]int, exports),
		oldToNew: make([]int, streams),
	}

	for i := range p.newToOld {
		p.newToOld[i] = -1
	}

	for i := range p.oldToNew {
		p.oldToNew[i] = -1
	}

	return p
}

func (p *importPlan) add(export, victim int) {
	if p.newToOld[export] != -1 || p.oldToNew[victim] != -1 {
		panic(fmt.Sprintf("import plan: %d -> %d planned twice", export, victim))
	}

	p.newToOld[export] = victim
	p.oldToNew[victim] = export
	p.order = append(p.order, export)
	p.victims = append(p.victims, victim)
	sort.Ints(p.victims)
}

func (p *importPlan) count() int { return len(p.order) }

func (p *importPlan) String() string {
	return fmt.Sprintf("%v -> %v", p.order, p.victims)
}

// planByPriority fills the plan. Both slices are sorted by ascending
// priority; free streams carry priority -1. The highest imports replace the
// highest existing streams they are allowed to, working down from there.
func planByPriority(
	p *importPlan,
	newEnts, oldEnts []prioEntry,
	preferImported, importsWinTies bool,
) {
	target := min(len(oldEnts), len(newEnts)) - 1

	if len(newEnts) > 0 && !preferImported {
		highest := newEnts[len(newEnts)-1].prio
		for target >= 0 && (highest < oldEnts[target].prio ||
			(!importsWinTies && highest == oldEnts[target].prio)) {
			target--
		}
	}

	for exp := len(newEnts) - 1; exp >= 0 && target >= 0; exp, target = exp-1, target-1 {
		p.add(newEnts[exp].id, oldEnts[target].id)
	}
}

func (e *Engine) planImport(
	x *Export,
	preferImported, importsWinTies bool,
) *importPlan {
	newEnts := make([]prioEntry, 0, len(x.Streams))
	for i, s := range x.Streams {
		newEnts = append(newEnts, prioEntry{prio: s.Predictor.priority, id: i})
	}

	oldEnts := make([]prioEntry, 0, len(e.streams))
	for i, st := range e.streams {
		prio := -1
		if st.allocated {
			prio = st.Priority()
		}

		oldEnts = append(oldEnts, prioEntry{prio: prio, id: i})
	}

	byPrio := func(ents []prioEntry) func(i, j int) bool {
		return func(i, j int) bool { return ents[i].prio < ents[j].prio }
	}
	sort.SliceStable(newEnts, byPrio(newEnts))
	sort.SliceStable(oldEnts, byPrio(oldEnts))

	e.log.Tracef("plan_import, old_ents %v new_ents %v", oldEnts, newEnts)

	p := newImportPlan(len(newEnts), len(oldEnts))
	planByPriority(p, newEnts, oldEnts, preferImported, importsWinTies)

	e.log.Tracef("plan_import, result (new->victim): %s", p)

	return p
}

// A deferredImport holds the imports waiting for busy victims to finish
// self-destructing. Victims are interchangeable: each one that resets takes
// the next waiting import, highest priority first.
type deferredImport struct {
	imports []StreamExport
	next    int
	waiting mapset.Set[int]
}

// ImportResult tells what an Import did.
type ImportResult struct {
	// Rejected is set when another import was still pending; nothing was
	// applied.
	Rejected bool

	Prompt           int
	Deferred         int
	RejectedAtTarget int
}

// Import installs another engine's exported streams in place of existing
// ones. With preferImported every import replaces a stream while any are
// left; otherwise an import only displaces a stream of lower priority, or
// of equal priority when importsWinTies. Busy victims are retired first and
// take their import once their last reply is in. Only one such deferred
// import may be pending at a time; another Import meanwhile is rejected.
func (e *Engine) Import(
	ctx sim.Context,
	x *Export,
	preferImported, importsWinTies bool,
) ImportResult {
	e.log.Debugf("import: %d streams submitted", x.Len())

	e.stats.Import.GroupTotal++

	if e.deferred != nil {
		e.log.Debugf("import rejected at %d, one already outstanding", ctx.Cycle)
		e.stats.Import.GroupRejected++
		e.stats.Import.StreamRejectedGroup += int64(x.Len())

		return ImportResult{Rejected: true}
	}

	plan := e.planImport(x, preferImported, importsWinTies)

	res := ImportResult{RejectedAtTarget: x.Len() - plan.count()}
	e.stats.Import.StreamRejectedTarget += int64(res.RejectedAtTarget)

	var (
		busy    []int
		waiting []StreamExport
	)

	for rank, exp := range plan.order {
		target := plan.victims[rank]
		st := e.streams[target]
		src := x.Streams[exp]

		if st.okToReset() {
			st.reset()
			st.initFromExport(ctx.Cycle, src)
			res.Prompt++
			e.stats.Import.StreamAcceptedPrompt++

			continue
		}

		busy = append(busy, target)
		waiting = append(waiting, src)
		res.Deferred++
		e.stats.Import.StreamAcceptedDeferred++
	}

	if len(waiting) > 0 {
		e.deferred = &deferredImport{
			imports: waiting,
			waiting: mapset.NewThreadUnsafeSet(busy...),
		}

		for _, id := range busy {
			e.streams[id].startSelfDestruct()
		}
	}

	e.log.Debugf("import: %d streams accepted promptly, %d deferred",
		res.Prompt, res.Deferred)
	e.traceDump("import")

	return res
}

// streamDestructed runs after a stream finishes self-destructing. If a
// deferred import is waiting on it, the stream takes the next import.
func (e *Engine) streamDestructed(ctx sim.Context, id int) {
	d := e.deferred
	if d == nil || !d.waiting.ContainsOne(id) {
		return
	}

	d.waiting.Remove(id)

	st := e.streams[id]
	if !st.okToReset() || st.allocated {
		panic(fmt.Sprintf("%s: deferred import target %d not reset", e.name, id))
	}

	st.initFromExport(ctx.Cycle, d.imports[d.next])
	d.next++

	e.log.Debugf("deferred import into stream %d, %d left", id,
		d.waiting.Cardinality())

	if d.waiting.IsEmpty() {
		e.deferred = nil
	}
}
