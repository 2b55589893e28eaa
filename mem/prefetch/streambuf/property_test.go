package streambuf

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smtsim/pfsim/mem"
	"github.com/smtsim/pfsim/sim"
)

// recordingIssuer accepts most prefetches and remembers them so the test can
// answer them later, in any order. Like a memory system with MSHRs, it sends
// one reply per block: a request for a block already in flight joins it.
type recordingIssuer struct {
	rng      *rand.Rand
	inFlight []PrefetchRequest
	joins    int
}

func (r *recordingIssuer) IssuePrefetch(_ sim.Context, req PrefetchRequest) bool {
	if r.rng.Intn(8) == 0 {
		return false
	}

	for _, f := range r.inFlight {
		if f.Addr == req.Addr {
			r.joins++
			return true
		}
	}

	r.inFlight = append(r.inFlight, req)

	return true
}

func (r *recordingIssuer) take() (PrefetchRequest, bool) {
	if len(r.inFlight) == 0 {
		return PrefetchRequest{}, false
	}

	i := r.rng.Intn(len(r.inFlight))
	req := r.inFlight[i]
	r.inFlight = append(r.inFlight[:i], r.inFlight[i+1:]...)

	return req, true
}

func (r *recordingIssuer) peek() (PrefetchRequest, bool) {
	if len(r.inFlight) == 0 {
		return PrefetchRequest{}, false
	}

	return r.inFlight[r.rng.Intn(len(r.inFlight))], true
}

type randomQuietProbe struct {
	rng *rand.Rand
}

func (p randomQuietProbe) PortQuiet(sim.Context, mem.LongAddr) bool {
	return p.rng.Intn(4) != 0
}

func runRandomOps(cfg Config, seed int64, steps int) *recordingIssuer {
	rng := rand.New(rand.NewSource(seed))
	issuer := &recordingIssuer{rng: rng}

	e := MakeBuilder().
		WithConfig(cfg).
		WithIssuer(issuer).
		WithPortProbe(randomQuietProbe{rng: rng}).
		WithLogger(quietLogger()).
		Build("rand")

	pcs := []uint64{0x1000, 0x1010, 0x1020, 0x1030}
	strides := []int64{64, 128, -64, 192}
	cursor := []uint64{0x100000, 0x200000, 0x300000, 0x400000}

	blockOf := func(va uint64, master int) mem.LongAddr {
		return mem.MakeLongAddr(va, master).Aligned(cfg.BlockBytes)
	}

	for step := 0; step < steps; step++ {
		ctx := sim.At(int64(step + 1))
		k := rng.Intn(len(pcs))
		master := k % 2

		switch op := rng.Intn(20); {
		case op < 6:
			va := cursor[k]
			if rng.Intn(5) == 0 {
				va += uint64(rng.Intn(8) * cfg.BlockBytes)
			}

			access := mem.AccessType(rng.Intn(3))
			base := blockOf(va, master)
			hit, _ := e.CacheMiss(ctx, base, int(va)-int(base.VA), access, pcs[k])
			e.MemCommit(ctx, pcs[k], mem.MakeLongAddr(va, master),
				access != mem.AccessRead, !hit)

			cursor[k] = uint64(int64(cursor[k]) + strides[k])
		case op < 11:
			e.Service(ctx)
		case op < 14:
			if req, ok := issuer.take(); ok {
				e.PFFill(ctx, Fill{
					Token:         req.Token,
					Addr:          req.Addr,
					EffAccess:     mem.AccessType(rng.Intn(3)),
					ReadyTime:     ctx.Cycle + int64(rng.Intn(20)),
					FilledToCache: rng.Intn(6) == 0,
				})
			}
		case op == 14:
			if req, ok := issuer.peek(); ok {
				e.PFMerged(ctx, req.Addr, rng.Intn(2) == 0)
			}
		case op == 15:
			e.CoherYield(ctx, blockOf(cursor[k], master), rng.Intn(2) == 0)
		case op == 16:
			e.CacheDirtyEvict(ctx, blockOf(cursor[k]-64, master))
		case op == 17:
			if rng.Intn(4) == 0 {
				e.StopThreadPF(ctx, master)
			}
		case op == 18:
			x := e.GenExport(master)
			if !x.Empty() {
				e.Import(ctx, x, rng.Intn(2) == 0, rng.Intn(2) == 0)
			}
		default:
			e.AccessOK(blockOf(cursor[k], master), mem.AccessRead)
		}

		Expect(e.CheckInvariants()).To(Succeed(), "step %d, seed %d", step, seed)
	}

	// Drain every reply; afterwards nothing may be left in flight.
	cycle := int64(steps + 1)
	for {
		req, ok := issuer.take()
		if !ok {
			break
		}

		e.PFFill(sim.At(cycle), Fill{
			Token: req.Token, Addr: req.Addr, ReadyTime: cycle,
		})
		Expect(e.CheckInvariants()).To(Succeed())
		cycle++
	}

	Expect(e.Outstanding()).To(BeZero())
	Expect(e.DeferredImportPending()).To(BeFalse())

	return issuer
}

var _ = Describe("Engine under random operations", func() {
	var cfg Config

	BeforeEach(func() {
		cfg = DefaultConfig()
		cfg.NumStreams = 4
		cfg.BlocksPerStream = 3
		cfg.StridePCEntries = 16
		cfg.StridePCAssoc = 2
		cfg.AllocMinConfidenceThresh = 0
		cfg.StreamPriorityAgeAllocs = 5
	})

	It("should keep its books straight with priority scheduling", func() {
		for seed := int64(1); seed <= 5; seed++ {
			runRandomOps(cfg, seed, 2000)
		}
	})

	It("should keep its books straight with round robin", func() {
		cfg.UseRoundRobinSched = true
		cfg.UseTwoMissAllocFilter = true
		cfg.PrefetchOnlyWhenQuiet = true
		cfg.StridePCPolicy = "SRRIP"

		for seed := int64(11); seed <= 15; seed++ {
			runRandomOps(cfg, seed, 2000)
		}
	})

	It("should keep its books straight when freeing on match", func() {
		cfg.AlwaysFreeOnMatch = true
		cfg.PrefetchAsExclusive = true

		for seed := int64(21); seed <= 25; seed++ {
			runRandomOps(cfg, seed, 2000)
		}
	})

	It("should keep its books straight with overlapping streams", func() {
		cfg.ForceNoOverlap = false

		joins := 0
		for seed := int64(1); seed <= 30; seed++ {
			joins += runRandomOps(cfg, seed, 2000).joins
		}

		Expect(joins).To(BeNumerically(">", 0))
	})

	It("should keep its books straight with overlap and round robin", func() {
		cfg.ForceNoOverlap = false
		cfg.UseRoundRobinSched = true
		cfg.AlwaysFreeOnMatch = true

		for seed := int64(31); seed <= 40; seed++ {
			runRandomOps(cfg, seed, 2000)
		}
	})
})
