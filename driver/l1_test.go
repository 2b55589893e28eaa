package driver

import (
	"fmt"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smtsim/pfsim/mem"
	"github.com/smtsim/pfsim/mem/cache"
)

var _ = Describe("L1", func() {
	var (
		l1 *L1
		at = func(va uint64) mem.LongAddr { return mem.MakeLongAddr(va, 1) }
	)

	BeforeEach(func() {
		var err error
		// Two sets of two ways; 0x0, 0x80, 0x100 and 0x180 share set 0.
		l1, err = NewL1(L1Config{
			Size:       256,
			Assoc:      2,
			BlockBytes: 64,
			Policy:     cache.PolicyLRU,
		})
		Expect(err).ToNot(HaveOccurred())
	})

	It("should reject bad geometry", func() {
		bad := []L1Config{
			{Size: 256, Assoc: 0, BlockBytes: 64},
			{Size: 256, Assoc: 2, BlockBytes: 48},
			{Size: 200, Assoc: 2, BlockBytes: 64},
			{Size: 256, Assoc: 2, BlockBytes: 64, Policy: "MRU"},
		}

		for _, c := range bad {
			_, err := NewL1(c)
			Expect(err).To(HaveOccurred(), "%+v", c)
		}

		Expect(DefaultL1Config().Validate()).To(Succeed())
	})

	It("should report where a bad geometry was found", func() {
		err := L1Config{Size: 200, Assoc: 2, BlockBytes: 64}.Validate()

		Expect(err).To(MatchError(
			"l1 size 200 is not a whole number of 2-way sets"))
		Expect(fmt.Sprintf("%+v", err)).To(
			ContainSubstring("driver.L1Config.Validate"))
	})

	It("should name the l1 on an unknown policy", func() {
		err := L1Config{Size: 256, Assoc: 2, BlockBytes: 64,
			Policy: "MRU"}.Validate()

		Expect(err).To(MatchError(`l1: unknown replacement policy "MRU"`))
		Expect(errors.Cause(err)).To(MatchError(
			`unknown replacement policy "MRU"`))
	})

	It("should miss, then hit after install", func() {
		present, _ := l1.Access(at(0x40), false)
		Expect(present).To(BeFalse())

		_, evicted := l1.Install(at(0x40), false, false)
		Expect(evicted).To(BeFalse())

		present, writable := l1.Access(at(0x40), false)
		Expect(present).To(BeTrue())
		Expect(writable).To(BeFalse())
		Expect(l1.Stats()).To(Equal(L1Stats{Hits: 1, Misses: 1}))
	})

	It("should separate address spaces", func() {
		l1.Install(at(0x40), true, false)

		Expect(l1.Holds(mem.MakeLongAddr(0x40, 2))).To(BeFalse())
		Expect(l1.Holds(at(0x40))).To(BeTrue())
	})

	It("should count a write without permission as a miss", func() {
		l1.Install(at(0x40), false, false)

		present, writable := l1.Access(at(0x40), true)
		Expect(present).To(BeTrue())
		Expect(writable).To(BeFalse())
		Expect(l1.Stats().Misses).To(Equal(int64(1)))

		l1.Install(at(0x40), true, true)
		present, writable = l1.Access(at(0x40), true)
		Expect(present).To(BeTrue())
		Expect(writable).To(BeTrue())
	})

	It("should evict the least recently used block", func() {
		l1.Install(at(0x0), true, true)
		l1.Install(at(0x80), false, false)
		l1.Access(at(0x0), false)

		ev, evicted := l1.Install(at(0x100), false, false)
		Expect(evicted).To(BeTrue())
		Expect(ev).To(Equal(Eviction{Addr: at(0x80)}))

		ev, evicted = l1.Install(at(0x180), false, false)
		Expect(evicted).To(BeTrue())
		Expect(ev).To(Equal(Eviction{Addr: at(0x0), Dirty: true}))

		Expect(l1.Stats().Evictions).To(Equal(int64(2)))
		Expect(l1.Stats().Writebacks).To(Equal(int64(1)))
	})

	It("should invalidate and downgrade", func() {
		l1.Install(at(0x40), true, true)
		Expect(l1.Downgrade(at(0x40))).To(BeTrue())

		_, writable := l1.Access(at(0x40), false)
		Expect(writable).To(BeFalse())
		Expect(l1.Downgrade(at(0x40))).To(BeFalse())

		l1.Install(at(0x40), true, true)
		Expect(l1.Invalidate(at(0x40))).To(BeTrue())
		Expect(l1.Holds(at(0x40))).To(BeFalse())
		Expect(l1.Invalidate(at(0x40))).To(BeFalse())
	})

	It("should work with SRRIP", func() {
		var err error
		l1, err = NewL1(L1Config{
			Size:       256,
			Assoc:      2,
			BlockBytes: 64,
			Policy:     cache.PolicySRRIP,
		})
		Expect(err).ToNot(HaveOccurred())

		l1.Install(at(0x0), false, false)
		l1.Install(at(0x80), false, false)
		l1.Access(at(0x0), false)

		ev, evicted := l1.Install(at(0x100), false, false)
		Expect(evicted).To(BeTrue())
		Expect(ev.Addr).To(Equal(at(0x80)))
	})

	It("should reset", func() {
		l1.Install(at(0x40), true, true)
		l1.Reset()

		Expect(l1.Holds(at(0x40))).To(BeFalse())
		Expect(l1.Stats()).To(Equal(L1Stats{}))
	})
})
