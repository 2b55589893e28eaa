package driver

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/smtsim/pfsim/mem"
	"github.com/smtsim/pfsim/mem/prefetch/streambuf"
	"github.com/smtsim/pfsim/sim"
)

// MemConfig describes the memory below the L1s.
type MemConfig struct {
	// Latency is the number of cycles from issue to data.
	Latency int64

	// PortOccupancy is how long one request keeps its core's port busy.
	PortOccupancy int64

	// MSHRLimit bounds the requests a core may have outstanding. Demand
	// requests are never refused, but prefetches are.
	MSHRLimit int

	// BusBitsPerCycle and BusLatency model the link migration state moves
	// over.
	BusBitsPerCycle int
	BusLatency      int64
}

// DefaultMemConfig returns a memory with a 100-cycle latency.
func DefaultMemConfig() MemConfig {
	return MemConfig{
		Latency:         100,
		PortOccupancy:   2,
		MSHRLimit:       8,
		BusBitsPerCycle: 64,
		BusLatency:      4,
	}
}

// Validate checks the parameters.
func (c MemConfig) Validate() error {
	if c.Latency < 1 || c.PortOccupancy < 0 || c.MSHRLimit < 1 ||
		c.BusBitsPerCycle < 1 || c.BusLatency < 0 {
		return errors.Errorf("bad memory config %+v", c)
	}

	return nil
}

// A Request is one block transfer from memory to a core. A demand miss and a
// prefetch to the same block share one request.
type Request struct {
	Core      int
	Addr      mem.LongAddr
	Exclusive bool
	Issued    int64

	// Demand is set once a demand miss waits on the request; Write if that
	// demand stores to the block.
	Demand bool
	Write  bool

	// Prefetches lists the prefetches riding on the request. PrefetchLate
	// is set when the first of them joined an existing demand request.
	Prefetches   []streambuf.PrefetchRequest
	PrefetchLate bool
}

// A Responder receives completed requests.
type Responder interface {
	Complete(ctx sim.Context, r *Request)
}

// MemStats counts memory-system traffic.
type MemStats struct {
	Demands          int64
	Prefetches       int64
	PrefetchJoins    int64
	DemandJoins      int64
	RejectedMSHRFull int64
	RejectedPortBusy int64
}

type port struct {
	busyUntil int64
	inFlight  int
	pending   map[mem.LongAddr]*Request
}

// MemorySystem is a fixed-latency memory shared by all cores, with a
// request port and an MSHR file per core.
type MemorySystem struct {
	cfg        MemConfig
	queue      *sim.EventQueue
	ports      []port
	responders []Responder
	bus        Bus
	stats      MemStats
	log        *logrus.Entry
}

// NewMemorySystem creates a memory system for the given number of cores.
func NewMemorySystem(
	cfg MemConfig,
	numCores int,
	queue *sim.EventQueue,
	logger *logrus.Logger,
) *MemorySystem {
	m := &MemorySystem{
		cfg:        cfg,
		queue:      queue,
		ports:      make([]port, numCores),
		responders: make([]Responder, numCores),
		bus: Bus{
			BitsPerCycle: cfg.BusBitsPerCycle,
			Latency:      cfg.BusLatency,
		},
		log: logger.WithField("component", "mem"),
	}

	for i := range m.ports {
		m.ports[i].pending = make(map[mem.LongAddr]*Request)
	}

	return m
}

// Attach registers the receiver of a core's completed requests.
func (m *MemorySystem) Attach(core int, r Responder) {
	m.responders[core] = r
}

// Stats returns the counters.
func (m *MemorySystem) Stats() MemStats { return m.stats }

// Bus returns the migration link.
func (m *MemorySystem) Bus() *Bus { return &m.bus }

// InFlight returns the number of requests a core has outstanding.
func (m *MemorySystem) InFlight(core int) int {
	return m.ports[core].inFlight
}

// Pending returns the outstanding request for a block, or nil.
func (m *MemorySystem) Pending(core int, base mem.LongAddr) *Request {
	return m.ports[core].pending[base]
}

func (m *MemorySystem) quiet(ctx sim.Context, core int) bool {
	return m.ports[core].busyUntil <= ctx.Cycle
}

func (m *MemorySystem) start(ctx sim.Context, r *Request) {
	p := &m.ports[r.Core]

	begin := p.busyUntil
	if begin < ctx.Cycle {
		begin = ctx.Cycle
	}

	p.busyUntil = begin + m.cfg.PortOccupancy
	p.inFlight++
	p.pending[r.Addr] = r
	r.Issued = ctx.Cycle

	name := fmt.Sprintf("mem.c%d.%s", r.Core, r.Addr)
	m.queue.Schedule(name, sim.HandlerFunc(func(ctx sim.Context) {
		m.complete(ctx, r)
	}), begin+m.cfg.Latency)
}

func (m *MemorySystem) complete(ctx sim.Context, r *Request) {
	p := &m.ports[r.Core]
	delete(p.pending, r.Addr)
	p.inFlight--

	m.log.Tracef("c%d: %s done, demand %t, %d prefetches", r.Core, r.Addr,
		r.Demand, len(r.Prefetches))

	m.responders[r.Core].Complete(ctx, r)
}

// issuePrefetch accepts a prefetch unless the core's MSHRs are full or its
// port is busy. A prefetch for a block already on its way joins that
// request.
func (m *MemorySystem) issuePrefetch(
	ctx sim.Context,
	req streambuf.PrefetchRequest,
) bool {
	p := &m.ports[req.Core]

	if r, ok := p.pending[req.Addr]; ok {
		if r.Demand && len(r.Prefetches) == 0 {
			r.PrefetchLate = true
		}

		r.Prefetches = append(r.Prefetches, req)
		r.Exclusive = r.Exclusive || req.Exclusive
		m.stats.PrefetchJoins++

		return true
	}

	if p.inFlight >= m.cfg.MSHRLimit {
		m.stats.RejectedMSHRFull++
		return false
	}

	if !m.quiet(ctx, req.Core) {
		m.stats.RejectedPortBusy++
		return false
	}

	m.stats.Prefetches++
	m.start(ctx, &Request{
		Core:       req.Core,
		Addr:       req.Addr,
		Exclusive:  req.Exclusive,
		Prefetches: []streambuf.PrefetchRequest{req},
	})

	return true
}

// Demand sends a demand miss. It reports whether the demand joined a
// prefetch already in flight.
func (m *MemorySystem) Demand(
	ctx sim.Context,
	core int,
	base mem.LongAddr,
	write bool,
) (joinedPrefetch bool) {
	p := &m.ports[core]

	if r, ok := p.pending[base]; ok {
		joinedPrefetch = !r.Demand && len(r.Prefetches) > 0
		r.Demand = true
		r.Write = r.Write || write
		r.Exclusive = r.Exclusive || write
		m.stats.DemandJoins++

		return joinedPrefetch
	}

	m.stats.Demands++
	m.start(ctx, &Request{
		Core:      core,
		Addr:      base,
		Exclusive: write,
		Demand:    true,
		Write:     write,
	})

	return false
}

// Port returns the view of the memory system one core's engine uses.
func (m *MemorySystem) Port(core int) CorePort {
	return CorePort{mem: m, core: core}
}

// CorePort is a core's prefetch port. It implements streambuf.PrefetchIssuer
// and streambuf.PortProbe.
type CorePort struct {
	mem  *MemorySystem
	core int
}

// IssuePrefetch forwards a prefetch to the memory system.
func (p CorePort) IssuePrefetch(
	ctx sim.Context,
	req streambuf.PrefetchRequest,
) bool {
	if req.Core != p.core {
		panic(fmt.Sprintf("core %d port got a prefetch for core %d", p.core,
			req.Core))
	}

	return p.mem.issuePrefetch(ctx, req)
}

// PortQuiet tells if the core's port is idle this cycle.
func (p CorePort) PortQuiet(ctx sim.Context, _ mem.LongAddr) bool {
	return p.mem.quiet(ctx, p.core)
}

// Bus is a point-to-point link with a fixed bandwidth. Transfers queue
// behind each other.
type Bus struct {
	BitsPerCycle int
	Latency      int64
	freeAt       int64
	transfers    int64
	bits         int64
}

// Transfer bills a transfer starting no earlier than now and returns the
// cycle its data arrives.
func (b *Bus) Transfer(now int64, bits int64) int64 {
	start := b.freeAt
	if start < now {
		start = now
	}

	occupancy := (bits + int64(b.BitsPerCycle) - 1) / int64(b.BitsPerCycle)
	b.freeAt = start + occupancy
	b.transfers++
	b.bits += bits

	return b.freeAt + b.Latency
}

// Transfers returns the number of transfers and bits carried.
func (b *Bus) Transfers() (n, bits int64) {
	return b.transfers, b.bits
}
