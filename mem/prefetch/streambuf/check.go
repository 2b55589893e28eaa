package streambuf

import (
	"github.com/pkg/errors"

	"github.com/smtsim/pfsim/mem"
)

// CheckInvariants verifies the engine's internal bookkeeping and returns the
// first inconsistency found.
func (e *Engine) CheckInvariants() error {
	if err := e.checkIndex(); err != nil {
		return err
	}

	for _, st := range e.streams {
		if err := e.checkStream(st); err != nil {
			return errors.Wrapf(err, "%s stream %d", e.name, st.id)
		}
	}

	return e.checkCounters()
}

func (e *Engine) checkIndex() error {
	var err error

	e.index.each(func(addr mem.LongAddr, t Token) {
		if err != nil {
			return
		}

		if t.Stream < 0 || t.Stream >= len(e.streams) ||
			t.Slot < 0 || t.Slot >= e.streams[t.Stream].NumSlots() {
			err = errors.Errorf("index holds out-of-range %s at %s", t, addr)
			return
		}

		sl := e.streams[t.Stream].Slot(t.Slot)
		if !sl.Valid() {
			err = errors.Errorf("index holds invalid slot %s at %s", t, addr)
		} else if sl.baseAddr != addr {
			err = errors.Errorf("index holds %s at %s, slot tracks %s", t, addr,
				sl.baseAddr)
		}
	})

	return err
}

func (e *Engine) checkStream(st *Stream) error {
	where := make([]string, len(st.slots))

	for _, id := range st.free {
		if where[id] != "" {
			return errors.Errorf("slot %d on free list twice", id)
		}

		where[id] = "free"
	}

	for _, id := range st.pending {
		if where[id] != "" {
			return errors.Errorf("slot %d both %s and pending", id, where[id])
		}

		where[id] = "pending"
	}

	fetching := make(map[mem.LongAddr]int)

	for i := range st.slots {
		sl := &st.slots[i]

		switch sl.state {
		case SlotInvalid:
			if where[i] != "free" {
				return errors.Errorf("invalid slot %d not on free list", i)
			}
		case SlotFetchable:
			if where[i] != "pending" {
				return errors.Errorf("fetchable slot %d not pending", i)
			}
		default:
			if where[i] != "" {
				return errors.Errorf("%s slot %d on %s list", sl.state, i,
					where[i])
			}
		}

		if sl.Valid() {
			if !st.allocated {
				return errors.Errorf("unallocated stream holds %s", sl)
			}

			if !e.index.Contains(sl.baseAddr, st.token(i)) {
				return errors.Errorf("slot %d (%s) missing from index", i, sl)
			}
		}

		if sl.state == SlotFetching {
			fetching[sl.baseAddr]++
			if fetching[sl.baseAddr] > 1 {
				return errors.Errorf("two fetches in flight for %s",
					sl.baseAddr)
			}
		}
	}

	return nil
}

func inRange(v, limit int) bool {
	return v >= 0 && v < limit
}

func (e *Engine) checkCounters() error {
	c := &e.cfg

	checkInfo := func(what string, pi PredictInfo) error {
		if !inRange(pi.matchCounter, c.PredictMatchSaturate) {
			return errors.Errorf("%s match counter %d out of [0,%d)", what,
				pi.matchCounter, c.PredictMatchSaturate)
		}

		if !inRange(pi.missRun, c.PredictMissSaturate) {
			return errors.Errorf("%s miss run %d out of [0,%d)", what,
				pi.missRun, c.PredictMissSaturate)
		}

		return nil
	}

	var err error

	e.predictor.each(func(pi PredictInfo) {
		if err == nil {
			err = checkInfo("alloc predictor", pi)
		}
	})

	if err != nil {
		return err
	}

	for _, st := range e.streams {
		if err := checkInfo("stream predictor", st.pred.state); err != nil {
			return errors.Wrapf(err, "stream %d", st.id)
		}

		if !inRange(st.pred.priority, c.StreamPrioritySaturate) {
			return errors.Errorf("stream %d priority %d out of [0,%d)", st.id,
				st.pred.priority, c.StreamPrioritySaturate)
		}
	}

	return nil
}
