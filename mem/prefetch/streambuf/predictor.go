package streambuf

import "fmt"

func incrSat(x, limit int) int {
	if x+1 < limit {
		return x + 1
	}

	return x
}

func decrSat(x int) int {
	if x > 0 {
		return x - 1
	}

	return x
}

func incrWrap(x, limit int) int {
	x++
	if x >= limit {
		return 0
	}

	return x
}

// PredictInfo tracks one stride sequence: the last two observed addresses, a
// saturating stride-match counter and the length of the current miss run.
// An address of zero means "not seen yet".
type PredictInfo struct {
	prev         int64
	pprev        int64
	matchCounter int
	missRun      int
}

func newPredictInfo(c *Config) PredictInfo {
	p := PredictInfo{}
	p.reset(c)

	return p
}

func (p *PredictInfo) reset(c *Config) {
	p.prev = 0
	p.pprev = 0
	p.matchCounter = c.matchZero()
	p.missRun = 0
}

// Prev returns the most recent address.
func (p PredictInfo) Prev() uint64 { return uint64(p.prev) }

// PPrev returns the address before Prev.
func (p PredictInfo) PPrev() uint64 { return uint64(p.pprev) }

// Stride returns the last observed stride.
func (p PredictInfo) Stride() int64 { return p.prev - p.pprev }

// MatchCounter returns the raw match counter, not adjusted by its zero
// point.
func (p PredictInfo) MatchCounter() int { return p.matchCounter }

// MissRun returns the number of consecutive misses seen.
func (p PredictInfo) MissRun() int { return p.missRun }

// update trains the entry. Only misses move the stride history; hits only
// end the miss run.
func (p *PredictInfo) update(c *Config, addr uint64, wasMiss bool) {
	if wasMiss {
		if p.prev != 0 && p.pprev != 0 {
			stride := p.prev - p.pprev
			if p.prev+stride == int64(addr) {
				p.matchCounter = incrSat(p.matchCounter, c.PredictMatchSaturate)
			} else {
				p.matchCounter = decrSat(p.matchCounter)
			}
		}

		p.pprev = p.prev
		p.prev = int64(addr)
		p.missRun = incrSat(p.missRun, c.PredictMissSaturate)

		return
	}

	p.missRun = 0
}

func (p PredictInfo) readyToFreePredict() bool {
	return p.prev != 0 && p.pprev != 0 && p.prev != p.pprev
}

// freePredict advances the sequence by one stride and returns the new
// address. Strides shorter than a block are stretched to a whole block.
func (p *PredictInfo) freePredict(blockBytes int) uint64 {
	stride := p.prev - p.pprev
	if stride == 0 {
		panic("free-running prediction with zero stride")
	}

	bb := int64(blockBytes)
	if stride < 0 && stride > -bb {
		stride = -bb
	} else if stride > 0 && stride < bb {
		stride = bb
	}

	p.pprev = p.prev
	p.prev += stride

	return uint64(p.prev)
}

// twoMissFilterPass tells if the entry has missed at least twice in a row
// and the stride to next repeats the last one.
func (p PredictInfo) twoMissFilterPass(next uint64) bool {
	if p.missRun < 2 || p.prev == 0 || p.pprev == 0 {
		return false
	}

	return p.prev-p.pprev == int64(next)-p.prev
}

// rebase keeps the stride but moves the sequence to continue from va.
func (p *PredictInfo) rebase(va uint64) {
	stride := p.prev - p.pprev
	p.prev = int64(va)
	p.pprev = int64(va) - stride
}

func (p PredictInfo) format(c *Config) string {
	return fmt.Sprintf("prev 0x%x pprev 0x%x matchcount0 %d missrun %d",
		uint64(p.prev), uint64(p.pprev), p.matchCounter-c.matchZero(),
		p.missRun)
}

// StreamPredictor is the predictor owned by one allocated stream: a stride
// sequence plus the stream's priority counter.
type StreamPredictor struct {
	state    PredictInfo
	priority int
}

func (s *StreamPredictor) reset(c *Config) {
	s.state.reset(c)
	s.priority = 0
}

// Info returns the stride state.
func (s StreamPredictor) Info() PredictInfo { return s.state }

// Priority returns the priority counter.
func (s StreamPredictor) Priority() int { return s.priority }

func clampPriority(c *Config, prio int) int {
	if prio >= c.StreamPrioritySaturate {
		return c.StreamPrioritySaturate - 1
	}

	if prio < 0 {
		return 0
	}

	return prio
}

func (s *StreamPredictor) initFromPredict(
	c *Config,
	initial PredictInfo,
	missVA uint64,
) {
	s.state = initial
	s.state.rebase(missVA)
	s.priority = clampPriority(c, s.state.matchCounter)
}

func (s *StreamPredictor) initFromExport(
	c *Config,
	initial StreamPredictor,
	next uint64,
) {
	s.state = initial.state
	s.state.rebase(next)
	s.priority = clampPriority(c, initial.priority)
}

func (s *StreamPredictor) noteHit(c *Config) {
	s.priority = clampPriority(c, s.priority+2)
}

func (s *StreamPredictor) age() {
	s.priority = decrSat(s.priority)
}

func (s StreamPredictor) readyToFreePredict() bool {
	return s.state.readyToFreePredict()
}

func (s *StreamPredictor) freePredict(blockBytes int) uint64 {
	return s.state.freePredict(blockBytes)
}

func (s StreamPredictor) format(c *Config) string {
	return fmt.Sprintf("pred_info %s prio %d", s.state.format(c), s.priority)
}
