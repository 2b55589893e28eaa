package cache

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

var _ = Describe("SRRIPVictimFinder", func() {
	var (
		finder *SRRIPVictimFinder
		set    *akitacache.Set
		blocks []*akitacache.Block
	)

	BeforeEach(func() {
		finder = NewSRRIPVictimFinder()
		blocks = make([]*akitacache.Block, 4)
		set = &akitacache.Set{}
		for i := range blocks {
			blocks[i] = &akitacache.Block{SetID: 0, WayID: i}
			set.Blocks = append(set.Blocks, blocks[i])
			set.LRUQueue = append(set.LRUQueue, blocks[i])
		}
	})

	It("should pick an invalid block first", func() {
		for _, b := range blocks {
			b.IsValid = true
			finder.OnFill(b)
		}
		blocks[2].IsValid = false

		Expect(finder.FindVictim(set)).To(BeIdenticalTo(blocks[2]))
	})

	It("should age blocks until one is distant", func() {
		for _, b := range blocks {
			b.IsValid = true
			finder.OnFill(b)
		}
		finder.OnHit(blocks[0])

		Expect(finder.FindVictim(set)).To(BeIdenticalTo(blocks[1]))
	})

	It("should protect hit blocks", func() {
		for _, b := range blocks {
			b.IsValid = true
			finder.OnHit(b)
		}
		finder.OnFill(blocks[3])

		Expect(finder.FindVictim(set)).To(BeIdenticalTo(blocks[3]))
	})

	It("should skip locked blocks", func() {
		for _, b := range blocks {
			b.IsValid = true
			finder.OnFill(b)
		}
		blocks[0].IsLocked = true

		Expect(finder.FindVictim(set)).To(BeIdenticalTo(blocks[1]))
	})

	It("should fall back to the LRU head when all blocks are locked", func() {
		for _, b := range blocks {
			b.IsValid = true
			b.IsLocked = true
		}

		Expect(finder.FindVictim(set)).To(BeIdenticalTo(blocks[0]))
	})
})

var _ = Describe("NewVictimFinder", func() {
	It("should build by policy name", func() {
		f, err := NewVictimFinder("srrip")
		Expect(err).ToNot(HaveOccurred())
		Expect(f).To(BeAssignableToTypeOf(&SRRIPVictimFinder{}))

		f, err = NewVictimFinder("")
		Expect(err).ToNot(HaveOccurred())
		Expect(f).ToNot(BeNil())
	})
})
