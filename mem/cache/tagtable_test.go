package cache

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TagTable", func() {
	var t *TagTable

	BeforeEach(func() {
		var err error
		t, err = NewTagTable(8, 2, PolicyLRU)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should reject bad geometry", func() {
		_, err := NewTagTable(0, 1, PolicyLRU)
		Expect(err).To(HaveOccurred())

		_, err = NewTagTable(8, 3, PolicyLRU)
		Expect(err).To(HaveOccurred())

		_, err = NewTagTable(12, 2, PolicyLRU)
		Expect(err).To(HaveOccurred())

		_, err = NewTagTable(8, 2, "MRU")
		Expect(err).To(HaveOccurred())
	})

	It("should miss on an empty table", func() {
		_, found := t.Lookup(0, 0x40)
		Expect(found).To(BeFalse())
		Expect(t.NumEntries()).To(Equal(8))
	})

	It("should find a replaced entry", func() {
		idx, evicted := t.Replace(1, 0x40)
		Expect(evicted).To(BeFalse())

		got, found := t.Lookup(1, 0x40)
		Expect(found).To(BeTrue())
		Expect(got).To(Equal(idx))
	})

	It("should not match another thread", func() {
		t.Replace(1, 0x40)

		_, found := t.Probe(2, 0x40)
		Expect(found).To(BeFalse())
	})

	It("should evict the least recently looked-up entry", func() {
		// 4 lines, keys 0, 4, 8 share line 0.
		idx0, _ := t.Replace(0, 0)
		idx4, _ := t.Replace(0, 4)
		t.Lookup(0, 0)

		idx8, evicted := t.Replace(0, 8)
		Expect(evicted).To(BeTrue())
		Expect(idx8).To(Equal(idx4))

		_, found := t.Probe(0, 4)
		Expect(found).To(BeFalse())
		got, found := t.Probe(0, 0)
		Expect(found).To(BeTrue())
		Expect(got).To(Equal(idx0))
	})

	It("should leave recency alone on probe", func() {
		idx0, _ := t.Replace(0, 0)
		t.Replace(0, 4)
		t.Probe(0, 0)

		idx8, _ := t.Replace(0, 8)
		Expect(idx8).To(Equal(idx0))
	})

	It("should invalidate", func() {
		idx, _ := t.Replace(3, 0x10)
		t.Invalidate(idx)

		_, found := t.Probe(3, 0x10)
		Expect(found).To(BeFalse())
	})

	It("should reset", func() {
		t.Replace(3, 0x10)
		t.Replace(3, 0x11)
		t.Reset()

		_, found := t.Probe(3, 0x10)
		Expect(found).To(BeFalse())
		_, found = t.Probe(3, 0x11)
		Expect(found).To(BeFalse())
	})

	It("should panic on double insertion", func() {
		t.Replace(0, 0x20)
		Expect(func() { t.Replace(0, 0x20) }).To(Panic())
	})
})
