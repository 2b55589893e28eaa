package streambuf

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/smtsim/pfsim/mem"
)

// A Stream is one prefetch lane: a fixed set of slots following a single
// stride sequence. Every slot is on the free list, in the prefetch FIFO, or
// in flight/present and reachable only through the group index.
type Stream struct {
	id    int
	cfg   *Config
	index *GroupIndex
	log   *logrus.Entry

	allocated bool

	slots   []Slot
	free    []int
	pending []int

	pred StreamPredictor

	selfDestructing bool

	allocTime int64
	allocPC   uint64
	masterID  int
	lastVA    uint64
	lastMatch int64

	accesses    int64
	hits        int64
	prefetches  int64
	fullWins    int64
	partialWins int64
}

func newStream(id int, cfg *Config, index *GroupIndex, log *logrus.Entry) *Stream {
	s := &Stream{
		id:      id,
		cfg:     cfg,
		index:   index,
		log:     log,
		slots:   make([]Slot, cfg.BlocksPerStream),
		free:    make([]int, 0, cfg.BlocksPerStream),
		pending: make([]int, 0, cfg.BlocksPerStream),
	}

	for i := range s.slots {
		s.slots[i].id = i
	}

	s.reset()

	return s
}

// ID returns the stream's index in its group.
func (s *Stream) ID() int { return s.id }

// Allocated tells if the stream is following a sequence.
func (s *Stream) Allocated() bool { return s.allocated }

// SelfDestructing tells if the stream is waiting on replies to reset.
func (s *Stream) SelfDestructing() bool { return s.selfDestructing }

// Priority returns the stream's priority counter.
func (s *Stream) Priority() int { return s.pred.priority }

// LastMatch returns the cycle of the last tag match, or 0.
func (s *Stream) LastMatch() int64 { return s.lastMatch }

// MasterID returns the address space the stream works in.
func (s *Stream) MasterID() int { return s.masterID }

// AllocPC returns the PC whose miss allocated the stream.
func (s *Stream) AllocPC() uint64 { return s.allocPC }

// Predictor returns a copy of the stream's predictor.
func (s *Stream) Predictor() StreamPredictor { return s.pred }

// Slot returns the slot with the given index.
func (s *Stream) Slot(i int) *Slot { return &s.slots[i] }

// NumSlots returns the stream capacity.
func (s *Stream) NumSlots() int { return len(s.slots) }

// FreeSlots returns the number of unused slots.
func (s *Stream) FreeSlots() int { return len(s.free) }

// PendingPrefetches returns the slot ids waiting to be issued, oldest first.
func (s *Stream) PendingPrefetches() []int {
	return append([]int(nil), s.pending...)
}

func (s *Stream) allWins() int64 { return s.fullWins + s.partialWins }

func (s *Stream) lifetime(cycle int64) int64 { return cycle - s.allocTime }

func (s *Stream) token(slot int) Token {
	return Token{Stream: s.id, Slot: slot}
}

// reset releases every slot. Callers check okToReset first.
func (s *Stream) reset() {
	if s.allocated {
		for i := range s.slots {
			sl := &s.slots[i]
			if sl.Valid() {
				s.index.Erase(sl.baseAddr, s.token(i))
			}
		}
	}

	// Reverse order so that allocation starts from slot 0.
	s.free = s.free[:0]
	for i := len(s.slots) - 1; i >= 0; i-- {
		s.slots[i].reset()
		s.free = append(s.free, i)
	}

	s.pending = s.pending[:0]
	s.pred.reset(s.cfg)
	s.allocated = false
	s.selfDestructing = false
	s.lastMatch = 0
}

func (s *Stream) okToReset() bool {
	for i := range s.slots {
		if !s.slots[i].okToReset() {
			return false
		}
	}

	return true
}

func (s *Stream) initCommon(cycle int64, pc uint64) {
	if s.allocated {
		panic(fmt.Sprintf("stream %d: init while allocated", s.id))
	}

	s.allocated = true
	s.allocTime = cycle
	s.allocPC = pc
	s.lastMatch = 0
	s.accesses = 0
	s.hits = 0
	s.prefetches = 0
	s.fullWins = 0
	s.partialWins = 0
}

func (s *Stream) init(cycle int64, pc uint64, source mem.LongAddr, pi PredictInfo) {
	s.initCommon(cycle, pc)
	s.pred.initFromPredict(s.cfg, pi, source.VA)
	s.masterID = source.MasterID
	s.lastVA = source.VA
}

func (s *Stream) initFromExport(cycle int64, ext StreamExport) {
	s.initCommon(cycle, ext.PC)
	s.pred.initFromExport(s.cfg, ext.Predictor, ext.NextAddr.VA)
	s.masterID = ext.NextAddr.MasterID
	s.lastVA = ext.NextAddr.VA
}

func (s *Stream) genExport() StreamExport {
	return StreamExport{
		PC:        s.allocPC,
		NextAddr:  mem.MakeLongAddr(s.lastVA, s.masterID),
		Predictor: s.pred,
	}
}

func (s *Stream) age() { s.pred.age() }

// slotAt returns the slot, which must track base.
func (s *Stream) slotAt(i int, base mem.LongAddr) *Slot {
	sl := &s.slots[i]
	if !sl.Valid() || sl.baseAddr != base {
		panic(fmt.Sprintf("stream %d slot %d (%s) doesn't track %s",
			s.id, i, sl, base))
	}

	return sl
}

// popPending drops the FIFO head in place, keeping the backing array for
// later appends.
func (s *Stream) popPending() {
	n := copy(s.pending, s.pending[1:])
	s.pending = s.pending[:n]
}

func (s *Stream) dequeue(slot int) {
	for i, id := range s.pending {
		if id == slot {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}

	panic(fmt.Sprintf("stream %d: slot %d not in prefetch FIFO", s.id, slot))
}

// invalSlot drops the slot's data and returns it to the free list if it is
// now invalid. It reports whether it did; erasing from the index is up to the
// caller.
func (s *Stream) invalSlot(sl *Slot) bool {
	queued := sl.state == SlotFetchable

	sl.invalData()

	if queued {
		s.dequeue(sl.id)
	}

	if sl.Valid() {
		return false
	}

	s.free = append(s.free, sl.id)

	return true
}

// invalAndErase invalidates a slot and, unless it must linger for an
// outstanding reply, erases it from the index.
func (s *Stream) invalAndErase(sl *Slot, base mem.LongAddr) {
	if s.invalSlot(sl) {
		s.index.Erase(base, s.token(sl.id))
		s.log.Tracef("slot %s erased", s.token(sl.id))

		return
	}

	s.log.Tracef("slot %s lingers", s.token(sl.id))
}

type lookupResult struct {
	hit        bool
	firstUse   bool
	eraseAfter bool
	writePerm  bool
	fetchTime  int64
}

// lookupHit tests a tag-matching slot against a demand access. A slot that
// policy frees on a match is invalidated here, but its index entry is left
// for the caller to erase.
func (s *Stream) lookupHit(
	cycle int64,
	slot int,
	base mem.LongAddr,
	access mem.AccessType,
) lookupResult {
	sl := s.slotAt(slot, base)
	r := lookupResult{fetchTime: -1}

	s.lastMatch = cycle
	s.accesses++

	hit, firstUse := sl.hitOK(access)
	if hit {
		s.hits++
		r.hit = true

		if firstUse {
			r.firstUse = true
			s.fullWins++
		}

		r.writePerm = sl.writePerm()
		r.fetchTime = sl.fetchTime

		if r.fetchTime < 0 {
			panic(fmt.Sprintf("stream %d: hit on slot %s never fetched",
				s.id, sl))
		}

		s.pred.noteHit(s.cfg)
	}

	if s.cfg.AlwaysFreeOnMatch || access.NeedsWritePerm() {
		r.eraseAfter = s.invalSlot(sl)
	}

	return r
}

func (s *Stream) accessOK(slot int, base mem.LongAddr, access mem.AccessType) bool {
	return s.slotAt(slot, base).accessOK(access)
}

func (s *Stream) coherYield(slot int, base mem.LongAddr, invalidate bool) {
	sl := s.slotAt(slot, base)

	if !invalidate {
		s.log.Tracef("yield coord %s (downgrade)", s.token(slot))
		sl.downgrade()

		return
	}

	s.log.Tracef("yield coord %s (inval)", s.token(slot))
	s.invalAndErase(sl, base)
}

func (s *Stream) dirtyEvict(slot int, base mem.LongAddr) {
	s.log.Tracef("evict coord %s", s.token(slot))
	s.invalAndErase(s.slotAt(slot, base), base)
}

func (s *Stream) stopSlot(slot int, masterID int) {
	sl := &s.slots[slot]
	base := sl.baseAddr

	if !sl.Valid() || base.MasterID != masterID {
		panic(fmt.Sprintf("stream %d: stop_pf on slot %s for master %d",
			s.id, sl, masterID))
	}

	s.log.Tracef("stop_pf coord %s base_addr %s", s.token(slot), base)
	s.invalAndErase(sl, base)
}

// startSelfDestruct stops the stream from generating requests and resets it
// as soon as nothing is in flight. It reports whether the reset happened
// now.
func (s *Stream) startSelfDestruct() bool {
	switch {
	case s.selfDestructing:
		s.log.Tracef("start_self_destruct stream %d (pending)", s.id)
		return false
	case s.okToReset():
		s.log.Tracef("start_self_destruct stream %d (reset)", s.id)
		s.reset()

		return true
	default:
		s.log.Tracef("start_self_destruct stream %d (blocked;flagged)", s.id)
		s.selfDestructing = true

		return false
	}
}

// prefetchFill consumes a reply for the slot. It returns the service time
// and whether the reply finished a pending self-destruct.
func (s *Stream) prefetchFill(
	cycle int64,
	slot int,
	base mem.LongAddr,
	effAccess mem.AccessType,
	readyTime int64,
	filledToCache bool,
) (serviceTime int64, destructed bool) {
	sl := s.slotAt(slot, base)

	if readyTime < cycle {
		panic(fmt.Sprintf("stream %d: fill ready at %d before now %d",
			s.id, readyTime, cycle))
	}

	exclusive := effAccess.NeedsWritePerm()
	serviceTime = readyTime - sl.fetchTime
	overlapAllowed := !s.cfg.ForceNoOverlap

	sl.fill(exclusive, overlapAllowed)

	if filledToCache && sl.Valid() {
		// The cache keeps the data; drop our copy.
		if sl.state == SlotFetchable {
			s.dequeue(sl.id)
		}

		sl.invalData()
	}

	if !sl.Valid() {
		s.free = append(s.free, sl.id)
		s.index.Erase(base, s.token(slot))
	}

	s.log.Tracef("fill coord %s(%s) service_time %d", s.token(slot), sl,
		serviceTime)

	if s.selfDestructing && s.okToReset() {
		s.log.Tracef("stream %d self-destruct reset", s.id)
		s.reset()

		return serviceTime, true
	}

	return serviceTime, false
}

// prefetchMerged notes that a demand request merged with the slot's
// prefetch. It returns the time the prefetch won by, or 0.
func (s *Stream) prefetchMerged(
	cycle int64,
	slot int,
	base mem.LongAddr,
	pfCameFirst bool,
) int64 {
	sl := s.slotAt(slot, base)

	var win int64

	if !sl.setMerged() && pfCameFirst {
		win = cycle - sl.fetchTime
		if win < 0 {
			panic(fmt.Sprintf("stream %d: merge before fetch on %s", s.id, sl))
		}
	}

	if win > 0 {
		s.partialWins++
	}

	s.log.Tracef("merge coord %s(%s) -> %d", s.token(slot), sl, win)

	return win
}

func (s *Stream) readyToPredict() bool {
	return s.allocated && !s.selfDestructing && len(s.free) > 0 &&
		s.pred.readyToFreePredict()
}

// servicePredict extends the stream by one block. Unless overlap is
// forbidden and some slot already tracks the block, a free slot takes the
// prediction and joins the prefetch FIFO.
func (s *Stream) servicePredict() {
	va := s.pred.freePredict(s.cfg.BlockBytes)
	next := mem.MakeLongAddr(va, s.masterID)
	base := next.Aligned(s.cfg.BlockBytes)

	if s.cfg.ForceNoOverlap && s.index.TagPresent(base) {
		s.log.Tracef("service_predict s%d: %s (tag present; skip)", s.id, next)
		return
	}

	id := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	s.slots[id].initPF(base, next.Offset(s.cfg.BlockBytes))
	s.pending = append(s.pending, id)
	s.index.Insert(base, s.token(id))

	s.log.Tracef("service_predict s%d: %s (alloc ent %d)", s.id, next, id)
}

func (s *Stream) readyToPrefetch() bool {
	return s.allocated && !s.selfDestructing && len(s.pending) > 0
}

// peekPrefetch returns the slot at the head of the FIFO.
func (s *Stream) peekPrefetch() *Slot {
	if len(s.pending) == 0 {
		panic(fmt.Sprintf("stream %d: peek on empty prefetch FIFO", s.id))
	}

	return &s.slots[s.pending[0]]
}

// servicePrefetch records that the FIFO head was sent out.
func (s *Stream) servicePrefetch(cycle int64, base mem.LongAddr) {
	sl := s.peekPrefetch()
	if sl.baseAddr != base {
		panic(fmt.Sprintf("stream %d: FIFO head %s isn't %s", s.id, sl, base))
	}

	s.popPending()
	sl.fetching(cycle)
	s.prefetches++
	s.lastVA = sl.addr().VA

	s.log.Tracef("service_prefetch s%d: e%d, base_addr %s", s.id, sl.id, base)
}
