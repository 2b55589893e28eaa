package streambuf

import (
	"fmt"

	"github.com/smtsim/pfsim/mem"
)

// SlotState is the lifecycle state of one stream-buffer slot.
type SlotState int

// The slot lifecycle.
const (
	// SlotInvalid slots hold nothing and sit on the stream's free list.
	SlotInvalid SlotState = iota
	// SlotFetchable slots have a predicted tag and wait in the prefetch FIFO.
	SlotFetchable
	// SlotFetching slots have a prefetch outstanding.
	SlotFetching
	// SlotFetchCancel slots have a prefetch outstanding whose data was
	// invalidated before it arrived.
	SlotFetchCancel
	// SlotPresent slots hold data.
	SlotPresent
)

var slotStateNames = [...]string{
	"Invalid", "Fetchable", "Fetching", "FetchCancel", "Present",
}

func (s SlotState) String() string {
	if s < 0 || int(s) >= len(slotStateNames) {
		return fmt.Sprintf("SlotState(%d)", int(s))
	}

	return slotStateNames[s]
}

// A Slot is one block-sized cell of a stream.
type Slot struct {
	id          int
	state       SlotState
	baseAddr    mem.LongAddr
	blockOffset int
	exclusive   bool
	dataRead    bool
	wasMerged   bool
	fetchTime   int64
}

func (s *Slot) reset() {
	s.state = SlotInvalid
	s.baseAddr = mem.LongAddr{}
	s.blockOffset = 0
	s.exclusive = false
	s.dataRead = false
	s.wasMerged = false
	s.fetchTime = -1
}

// ID returns the slot index within its stream.
func (s *Slot) ID() int { return s.id }

// State returns the lifecycle state.
func (s *Slot) State() SlotState { return s.state }

// Valid tells if the slot tracks an address.
func (s *Slot) Valid() bool { return s.state != SlotInvalid }

// BaseAddr returns the block address the slot tracks.
func (s *Slot) BaseAddr() mem.LongAddr { return s.baseAddr }

// Exclusive tells if the slot's fetch carries write permission.
func (s *Slot) Exclusive() bool { return s.exclusive }

// FetchTime returns the cycle the prefetch was issued, or -1.
func (s *Slot) FetchTime() int64 { return s.fetchTime }

// DataRead tells if the slot's data has served a hit.
func (s *Slot) DataRead() bool { return s.dataRead }

func (s *Slot) mustBeValid(op string) {
	if s.state == SlotInvalid {
		panic(fmt.Sprintf("slot %d: %s on invalid slot", s.id, op))
	}
}

func (s *Slot) addr() mem.LongAddr {
	return s.baseAddr.Add(int64(s.blockOffset))
}

func (s *Slot) writePerm() bool {
	return s.state == SlotPresent && s.exclusive
}

func (s *Slot) initPF(base mem.LongAddr, offset int) {
	if s.Valid() {
		panic(fmt.Sprintf("slot %d: init_pf on valid slot (%s)", s.id, s))
	}

	if offset < 0 {
		panic(fmt.Sprintf("slot %d: negative block offset %d", s.id, offset))
	}

	s.reset()
	s.state = SlotFetchable
	s.baseAddr = base
	s.blockOffset = offset
}

// invalData drops the slot's data. A slot with a fetch in flight lingers in
// SlotFetchCancel. Callers check Valid afterwards and, for a slot that was
// SlotFetchable, take it out of the FIFO.
func (s *Slot) invalData() {
	s.mustBeValid("inval_data")

	switch s.state {
	case SlotFetchable, SlotPresent:
		s.state = SlotInvalid
	case SlotFetching:
		s.state = SlotFetchCancel
	case SlotFetchCancel:
	default:
		panic(fmt.Sprintf("slot %d: bad state %s", s.id, s.state))
	}

	s.exclusive = false
}

func (s *Slot) downgrade() {
	s.mustBeValid("downgrade")
	s.exclusive = false
}

// fill delivers prefetch data. Callers check Valid afterwards.
func (s *Slot) fill(exclusive, overlapAllowed bool) {
	s.mustBeValid("fill")

	switch s.state {
	case SlotFetching:
		s.state = SlotPresent
		s.exclusive = exclusive
		s.dataRead = false
	case SlotFetchCancel:
		s.state = SlotInvalid
	case SlotPresent, SlotFetchable:
		if !overlapAllowed {
			panic(fmt.Sprintf("slot %d: fill in state %s without overlap",
				s.id, s.state))
		}
	default:
		panic(fmt.Sprintf("slot %d: bad state %s", s.id, s.state))
	}
}

func (s *Slot) accessOK(access mem.AccessType) bool {
	s.mustBeValid("access_ok")

	switch access {
	case mem.AccessRead:
		return s.state == SlotPresent
	case mem.AccessReadExcl, mem.AccessUpgrade:
		return s.writePerm()
	default:
		panic(fmt.Sprintf("slot %d: bad access type %s", s.id, access))
	}
}

// hitOK tests for a hit and, on one, marks the data as read. firstUse is set
// for the first hit on data no demand request has merged with.
func (s *Slot) hitOK(access mem.AccessType) (hit, firstUse bool) {
	if !s.accessOK(access) {
		return false, false
	}

	firstUse = !s.dataRead && !s.wasMerged
	s.dataRead = true

	return true, firstUse
}

// setMerged marks the slot merged and reports whether it already was.
func (s *Slot) setMerged() bool {
	was := s.wasMerged
	s.wasMerged = true

	return was
}

// okToReset is false while a request is outstanding.
func (s *Slot) okToReset() bool {
	return s.state != SlotFetching && s.state != SlotFetchCancel
}

func (s *Slot) fetching(cycle int64) {
	if s.state != SlotFetchable {
		panic(fmt.Sprintf("slot %d: fetching in state %s", s.id, s.state))
	}

	s.state = SlotFetching
	s.fetchTime = cycle
}

func (s *Slot) String() string {
	return fmt.Sprintf("st:%s,ba:%s+%d,ex:%t,dr:%t,wm:%t,ft:%d",
		s.state, s.baseAddr, s.blockOffset, s.exclusive, s.dataRead,
		s.wasMerged, s.fetchTime)
}
