package driver

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smtsim/pfsim/mem"
	"github.com/smtsim/pfsim/sim"
)

type countingObserver struct {
	cycles []int64
}

func (o *countingObserver) Observe(r Result) error {
	o.cycles = append(o.cycles, r.Cycles)
	return nil
}

func streamThread(core int, pc, base uint64, accesses int64) ThreadConfig {
	return ThreadConfig{
		Core: core,
		Streams: []StrideStream{
			{PC: pc, Base: base, Stride: 64},
		},
		Accesses: accesses,
		Seed:     int64(core) + 1,
	}
}

var _ = Describe("Sim", func() {
	var cfg SimConfig

	BeforeEach(func() {
		cfg = DefaultSimConfig()
		cfg.Cycles = 2_000_000
		cfg.CheckInvariants = true
	})

	It("should reject an invalid config", func() {
		cfg.Cores = 0

		_, err := NewSim(cfg, quietLogger())
		Expect(err).To(HaveOccurred())
	})

	It("should report a missing trace", func() {
		cfg.Threads = []ThreadConfig{{Core: 0, Trace: "/no/such/trace"}}

		_, err := NewSim(cfg, quietLogger())
		Expect(err).To(MatchError(ContainSubstring("opening trace")))
	})

	It("should prefetch a sequential stream", func() {
		cfg.Cores = 1
		cfg.Threads = []ThreadConfig{streamThread(0, 0x400100, 0x100000, 2000)}

		s, err := NewSim(cfg, quietLogger())
		Expect(err).ToNot(HaveOccurred())

		r, err := s.Run()
		Expect(err).ToNot(HaveOccurred())

		Expect(r.Cycles).To(BeNumerically("<", cfg.Cycles))
		Expect(r.OutstandingPrefetches).To(BeZero())
		Expect(r.Cores).To(HaveLen(1))

		c := r.Cores[0]
		Expect(c.Stats.Accesses).To(Equal(int64(2000)))
		Expect(c.Engine.StreamAllocs).To(BeNumerically(">=", 1))
		Expect(c.Engine.PFReqsOK).To(BeNumerically(">", 0))
		Expect(c.Stats.StreamHits + c.Stats.MergedMisses).
			To(BeNumerically(">", 0))
		Expect(c.Stats.DemandMisses).To(BeNumerically("<", 2000))
	})

	It("should run a trace", func() {
		var b bytes.Buffer
		for i := 0; i < 64; i++ {
			fmt.Fprintf(&b, "0x400100 0x%x R\n", 0x200000+i*64)
		}

		path := filepath.Join(GinkgoT().TempDir(), "t.trace")
		Expect(os.WriteFile(path, b.Bytes(), 0o644)).To(Succeed())

		cfg.Cores = 1
		cfg.Threads = []ThreadConfig{{Core: 0, Trace: path}}

		s, err := NewSim(cfg, quietLogger())
		Expect(err).ToNot(HaveOccurred())

		r, err := s.Run()
		Expect(err).ToNot(HaveOccurred())
		Expect(r.Cores[0].Stats.Accesses).To(Equal(int64(64)))
	})

	It("should call observers periodically and at the end", func() {
		cfg.Cores = 1
		cfg.Threads = []ThreadConfig{streamThread(0, 0x400100, 0x100000, 500)}

		s, err := NewSim(cfg, quietLogger())
		Expect(err).ToNot(HaveOccurred())

		o := &countingObserver{}
		s.Observe(500, o)

		r, err := s.Run()
		Expect(err).ToNot(HaveOccurred())

		Expect(len(o.cycles)).To(BeNumerically(">=", 2))
		Expect(o.cycles[0]).To(Equal(int64(500)))
		Expect(o.cycles[len(o.cycles)-1]).To(Equal(r.Cycles))
	})

	It("should migrate threads and carry their streams", func() {
		cfg.Migration = MigrationConfig{Interval: 3000, PreferImported: true}
		cfg.Threads = []ThreadConfig{
			streamThread(0, 0x400100, 0x100000, 3000),
			streamThread(1, 0x400200, 0x900000, 3000),
		}

		s, err := NewSim(cfg, quietLogger())
		Expect(err).ToNot(HaveOccurred())

		r, err := s.Run()
		Expect(err).ToNot(HaveOccurred())

		Expect(r.Migration.Migrations).To(BeNumerically(">", 0))
		Expect(r.Migration.StreamsExported).To(BeNumerically(">", 0))
		Expect(r.Migration.Prompt + r.Migration.Deferred).
			To(BeNumerically(">", 0))
		Expect(r.OutstandingPrefetches).To(BeZero())

		var imports int64
		for _, c := range r.Cores {
			imports += c.Engine.Import.GroupTotal
		}
		Expect(imports).To(BeNumerically("<=", r.Migration.Migrations))
	})

	It("should dump engine state", func() {
		s, err := NewSim(cfg, quietLogger())
		Expect(err).ToNot(HaveOccurred())

		var b bytes.Buffer
		Expect(s.DumpEngine(1, &b)).To(Succeed())
		Expect(b.String()).To(ContainSubstring("id: c1.pfsg core: 1"))
		Expect(s.DumpEngine(2, &b)).ToNot(Succeed())
	})

	Context("with the machine stopped", func() {
		var s *Sim

		BeforeEach(func() {
			cfg.Streambuf.AllocMinConfidenceThresh = 0
			cfg.Migration = MigrationConfig{
				Interval:       1_000_000,
				ImportsWinTies: true,
			}

			var err error
			s, err = NewSim(cfg, quietLogger())
			Expect(err).ToNot(HaveOccurred())
		})

		at := func(va uint64, master int) mem.LongAddr {
			return mem.MakeLongAddr(va, master)
		}

		It("should invalidate other cores on a write", func() {
			s.Core(1).L1().Install(at(0x40, 0), true, true)

			s.snoop(sim.At(0), 0, at(0x40, 0), true)
			Expect(s.Core(1).L1().Holds(at(0x40, 0))).To(BeFalse())
		})

		It("should downgrade other cores on a read", func() {
			s.Core(1).L1().Install(at(0x40, 0), true, true)

			s.snoop(sim.At(0), 0, at(0x40, 0), false)

			present, writable := s.Core(1).L1().Access(at(0x40, 0), false)
			Expect(present).To(BeTrue())
			Expect(writable).To(BeFalse())
		})

		It("should rotate threads and move their streams", func() {
			e := s.Core(0).Engine()
			ctx := sim.At(5)
			e.MemCommit(ctx, 0x10, at(0x1000, 0), false, true)
			e.MemCommit(ctx, 0x10, at(0x1040, 0), false, true)
			e.CacheMiss(ctx, at(0x1080, 0), 0, mem.AccessRead, 0x10)
			Expect(e.Stats().StreamAllocs).To(Equal(int64(1)))

			before := s.queue.Len()
			next := s.migrate(sim.At(10))

			Expect(next).To(Equal(int64(1_000_010)))
			Expect(s.Core(0).Thread().ID).To(Equal(1))
			Expect(s.Core(1).Thread().ID).To(Equal(0))
			Expect(s.migStats.Migrations).To(Equal(int64(2)))
			Expect(s.migStats.StreamsExported).To(Equal(int64(1)))
			Expect(s.queue.Len()).To(Equal(before + 2))

			for i := 0; i < e.NumStreams(); i++ {
				Expect(e.Stream(i).Allocated()).To(BeFalse())
			}
			Expect(e.CheckInvariants()).To(Succeed())
		})

		It("should bill the bus before importing", func() {
			e := s.Core(0).Engine()
			ctx := sim.At(5)
			e.MemCommit(ctx, 0x10, at(0x1000, 0), false, true)
			e.MemCommit(ctx, 0x10, at(0x1040, 0), false, true)
			e.CacheMiss(ctx, at(0x1080, 0), 0, mem.AccessRead, 0x10)

			m := &migration{sim: s, from: 0, to: 1, export: e.GenExport(0)}

			Expect(m.handle(sim.At(10))).To(Equal(int64(16)))
			Expect(s.migStats.BitsTransferred).To(Equal(int64(88)))
			Expect(s.Core(1).Engine().Stats().Import.GroupTotal).To(BeZero())

			Expect(m.handle(sim.At(16))).To(Equal(int64(-1)))
			Expect(s.migStats.Prompt).To(Equal(int64(1)))

			target := s.Core(1).Engine()
			found := false
			for i := 0; i < target.NumStreams(); i++ {
				st := target.Stream(i)
				if st.Allocated() && st.MasterID() == 0 {
					found = true
					Expect(st.AllocPC()).To(Equal(uint64(0x10)))
				}
			}
			Expect(found).To(BeTrue())
		})
	})
})
