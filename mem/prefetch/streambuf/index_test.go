package streambuf

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smtsim/pfsim/mem"
)

var _ = Describe("GroupIndex", func() {
	var g *GroupIndex

	BeforeEach(func() {
		g = NewGroupIndex()
	})

	It("should return every tracking slot in order", func() {
		g.Insert(la(0x100), Token{Stream: 2, Slot: 1})
		g.Insert(la(0x100), Token{Stream: 0, Slot: 3})
		g.Insert(la(0x100), Token{Stream: 2, Slot: 0})

		Expect(g.Lookup(la(0x100))).To(Equal([]Token{
			{Stream: 0, Slot: 3}, {Stream: 2, Slot: 0}, {Stream: 2, Slot: 1},
		}))
		Expect(g.Len()).To(Equal(1))
	})

	It("should keep address spaces apart", func() {
		g.Insert(la(0x100), Token{Stream: 0, Slot: 0})

		Expect(g.TagPresent(mem.MakeLongAddr(0x100, 2))).To(BeFalse())
		Expect(g.Lookup(mem.MakeLongAddr(0x100, 2))).To(BeEmpty())
	})

	It("should find a thread's blocks", func() {
		g.Insert(la(0x100), Token{Stream: 0, Slot: 0})
		g.Insert(la(0x140), Token{Stream: 1, Slot: 2})
		g.Insert(mem.MakeLongAddr(0x100, 5), Token{Stream: 0, Slot: 1})

		Expect(g.LookupMaster(1)).To(Equal([]Token{
			{Stream: 0, Slot: 0}, {Stream: 1, Slot: 2},
		}))
	})

	It("should drop an address once its last slot goes", func() {
		g.Insert(la(0x100), Token{Stream: 0, Slot: 0})
		g.Insert(la(0x100), Token{Stream: 1, Slot: 0})

		g.Erase(la(0x100), Token{Stream: 0, Slot: 0})
		Expect(g.TagPresent(la(0x100))).To(BeTrue())
		Expect(g.Contains(la(0x100), Token{Stream: 0, Slot: 0})).To(BeFalse())

		g.EraseBlocks(la(0x100), []Token{{Stream: 1, Slot: 0}})
		Expect(g.TagPresent(la(0x100))).To(BeFalse())
		Expect(g.Len()).To(BeZero())
	})

	It("should panic on a duplicate insert", func() {
		g.Insert(la(0x100), Token{Stream: 0, Slot: 0})

		Expect(func() {
			g.Insert(la(0x100), Token{Stream: 0, Slot: 0})
		}).To(Panic())
	})

	It("should panic when erasing what isn't there", func() {
		Expect(func() {
			g.Erase(la(0x100), Token{Stream: 0, Slot: 0})
		}).To(Panic())

		g.Insert(la(0x100), Token{Stream: 0, Slot: 0})
		Expect(func() {
			g.Erase(la(0x100), Token{Stream: 0, Slot: 1})
		}).To(Panic())
	})

	It("should empty on reset", func() {
		g.Insert(la(0x100), Token{Stream: 0, Slot: 0})
		g.Reset()

		Expect(g.Len()).To(BeZero())
	})
})
