package streambuf

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smtsim/pfsim/mem"
)

var _ = Describe("Slot", func() {
	var sl *Slot

	BeforeEach(func() {
		sl = &Slot{id: 2}
		sl.reset()
		sl.initPF(la(0x2000), 8)
	})

	It("should start fetchable", func() {
		Expect(sl.State()).To(Equal(SlotFetchable))
		Expect(sl.addr()).To(Equal(la(0x2008)))
		Expect(sl.FetchTime()).To(Equal(int64(-1)))
		Expect(sl.okToReset()).To(BeTrue())
	})

	It("should refuse to init twice", func() {
		Expect(func() { sl.initPF(la(0x3000), 0) }).To(Panic())
	})

	It("should only hit once present", func() {
		hit, _ := sl.hitOK(mem.AccessRead)
		Expect(hit).To(BeFalse())

		sl.fetching(10)
		Expect(sl.okToReset()).To(BeFalse())

		hit, _ = sl.hitOK(mem.AccessRead)
		Expect(hit).To(BeFalse())

		sl.fill(false, false)
		Expect(sl.State()).To(Equal(SlotPresent))

		hit, first := sl.hitOK(mem.AccessRead)
		Expect(hit).To(BeTrue())
		Expect(first).To(BeTrue())
		Expect(sl.DataRead()).To(BeTrue())

		hit, first = sl.hitOK(mem.AccessRead)
		Expect(hit).To(BeTrue())
		Expect(first).To(BeFalse())
	})

	It("should need an exclusive copy for writes", func() {
		sl.fetching(1)
		sl.fill(false, false)

		Expect(sl.accessOK(mem.AccessRead)).To(BeTrue())
		Expect(sl.accessOK(mem.AccessReadExcl)).To(BeFalse())
		Expect(sl.accessOK(mem.AccessUpgrade)).To(BeFalse())
	})

	It("should cancel a fetch in flight", func() {
		sl.fetching(1)
		sl.invalData()

		Expect(sl.State()).To(Equal(SlotFetchCancel))
		Expect(sl.Valid()).To(BeTrue())
		Expect(sl.okToReset()).To(BeFalse())

		sl.invalData()
		Expect(sl.State()).To(Equal(SlotFetchCancel))

		sl.fill(true, false)
		Expect(sl.State()).To(Equal(SlotInvalid))
		Expect(sl.Exclusive()).To(BeFalse())
	})

	It("should invalidate queued and present slots at once", func() {
		sl.invalData()
		Expect(sl.State()).To(Equal(SlotInvalid))

		sl.initPF(la(0x2000), 0)
		sl.fetching(1)
		sl.fill(true, false)
		sl.invalData()

		Expect(sl.State()).To(Equal(SlotInvalid))
		Expect(sl.Exclusive()).To(BeFalse())
	})

	It("should downgrade without losing data", func() {
		sl.fetching(1)
		sl.fill(true, false)
		Expect(sl.writePerm()).To(BeTrue())

		sl.downgrade()
		sl.downgrade()

		Expect(sl.State()).To(Equal(SlotPresent))
		Expect(sl.writePerm()).To(BeFalse())
	})

	It("should tolerate a duplicate fill only with overlap allowed", func() {
		sl.fetching(1)
		sl.fill(false, true)
		sl.fill(false, true)
		Expect(sl.State()).To(Equal(SlotPresent))

		Expect(func() { sl.fill(false, false) }).To(Panic())
	})

	It("should report the first merge", func() {
		Expect(sl.setMerged()).To(BeFalse())
		Expect(sl.setMerged()).To(BeTrue())

		sl.fetching(1)
		sl.fill(false, false)

		_, first := sl.hitOK(mem.AccessRead)
		Expect(first).To(BeFalse())
	})

	It("should panic on operations on an invalid slot", func() {
		sl.reset()

		Expect(func() { sl.invalData() }).To(Panic())
		Expect(func() { sl.downgrade() }).To(Panic())
		Expect(func() { sl.fill(false, true) }).To(Panic())
		Expect(func() { sl.fetching(1) }).To(Panic())
	})

	It("should name its states", func() {
		Expect(SlotFetchCancel.String()).To(Equal("FetchCancel"))
		Expect(SlotState(9).String()).To(Equal("SlotState(9)"))
	})
})
