package driver

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/smtsim/pfsim/mem"
	"github.com/smtsim/pfsim/mem/prefetch/streambuf"
	"github.com/smtsim/pfsim/sim"
)

// A Thread is a software thread. Its id doubles as its address-space id.
type Thread struct {
	ID       int
	workload Workload
	done     bool
	accesses int64
}

// NewThread creates a thread running a workload.
func NewThread(id int, w Workload) *Thread {
	return &Thread{ID: id, workload: w}
}

// Done tells if the workload ran out.
func (t *Thread) Done() bool { return t.done }

// Accesses returns how many accesses the thread executed.
func (t *Thread) Accesses() int64 { return t.accesses }

// CoreStats counts what the core's accesses found.
type CoreStats struct {
	Accesses      int64
	L1Hits        int64
	StreamHits    int64
	DemandMisses  int64
	MergedMisses  int64
	StallCycles   int64
	PrefetchFills int64
}

// snooper propagates coherence actions to the other cores.
type snooper interface {
	snoop(ctx sim.Context, from int, base mem.LongAddr, write bool)
}

// A Core runs at most one thread. It blocks on every demand miss and
// otherwise issues one access every computeCycles+1 cycles.
type Core struct {
	id            int
	l1            *L1
	engine        *streambuf.Engine
	mem           *MemorySystem
	coherence     snooper
	computeCycles int64
	log           *logrus.Entry

	thread     *Thread
	waitingOn  *Request
	readyAt    int64
	stats      CoreStats
	blockBytes int
}

// ID returns the core id.
func (c *Core) ID() int { return c.id }

// L1 returns the core's tag store.
func (c *Core) L1() *L1 { return c.l1 }

// Engine returns the core's stream-buffer engine.
func (c *Core) Engine() *streambuf.Engine { return c.engine }

// Thread returns the running thread, or nil.
func (c *Core) Thread() *Thread { return c.thread }

// Stats returns the counters.
func (c *Core) Stats() CoreStats { return c.stats }

// Tick executes the core for one cycle. It fits sim.Handler.
func (c *Core) Tick(ctx sim.Context) int64 {
	switch {
	case c.thread == nil || c.thread.done:
	case c.waitingOn != nil || ctx.Cycle < c.readyAt:
		c.stats.StallCycles++
	default:
		c.step(ctx)
	}

	return ctx.Cycle + 1
}

func (c *Core) step(ctx sim.Context) {
	a, ok := c.thread.workload.Next()
	if !ok {
		c.thread.done = true
		c.log.Debugf("thread %d finished after %d accesses", c.thread.ID,
			c.thread.accesses)

		return
	}

	c.thread.accesses++
	c.stats.Accesses++
	c.readyAt = ctx.Cycle + c.computeCycles + 1

	c.access(ctx, a)
}

func (c *Core) access(ctx sim.Context, a Access) {
	master := c.thread.ID
	va := mem.MakeLongAddr(a.VA, master)
	base := va.Aligned(c.blockBytes)
	offset := va.Offset(c.blockBytes)

	present, writable := c.l1.Access(base, a.Write)
	if present && (!a.Write || writable) {
		c.stats.L1Hits++
		c.engine.MemCommit(ctx, a.PC, va, a.Write, false)

		return
	}

	access := mem.AccessRead
	if a.Write {
		access = mem.AccessReadExcl
		if present {
			access = mem.AccessUpgrade
		}
	}

	hit, allowed := c.engine.CacheMiss(ctx, base, offset, access, a.PC)
	c.engine.MemCommit(ctx, a.PC, va, a.Write, true)
	c.coherence.snoop(ctx, c.id, base, a.Write)

	if hit {
		c.stats.StreamHits++
		c.install(ctx, base, allowed == mem.AccessReadExcl, a.Write)

		return
	}

	c.stats.DemandMisses++

	if c.mem.Demand(ctx, c.id, base, a.Write) {
		c.stats.MergedMisses++
		c.engine.PFMerged(ctx, base, true)
	}

	c.waitingOn = c.mem.Pending(c.id, base)
}

func (c *Core) install(
	ctx sim.Context,
	base mem.LongAddr,
	writable, dirty bool,
) {
	ev, evicted := c.l1.Install(base, writable, dirty)
	if evicted && ev.Dirty {
		c.engine.CacheDirtyEvict(ctx, ev.Addr)
	}
}

// Complete takes a reply from memory.
func (c *Core) Complete(ctx sim.Context, r *Request) {
	if r.Core != c.id {
		panic(fmt.Sprintf("core %d got a reply for core %d", c.id, r.Core))
	}

	if r.Demand {
		c.install(ctx, r.Addr, r.Exclusive, r.Write)
	}

	if c.waitingOn == r {
		c.waitingOn = nil
	}

	if len(r.Prefetches) == 0 {
		return
	}

	if r.PrefetchLate {
		c.engine.PFMerged(ctx, r.Addr, false)
	}

	eff := mem.AccessRead
	if r.Exclusive {
		eff = mem.AccessReadExcl
	}

	c.stats.PrefetchFills++
	c.engine.PFFill(ctx, streambuf.Fill{
		Token:         r.Prefetches[0].Token,
		Addr:          r.Addr,
		EffAccess:     eff,
		ReadyTime:     ctx.Cycle,
		FilledToCache: r.Demand,
	})
}

// yield applies another core's access to this core's copies of a block.
func (c *Core) yield(ctx sim.Context, base mem.LongAddr, invalidate bool) {
	if invalidate {
		c.l1.Invalidate(base)
	} else {
		c.l1.Downgrade(base)
	}

	c.engine.CoherYield(ctx, base, invalidate)
}
