// Package mem defines the address and access vocabulary shared by the cache
// models and the prefetch engine.
package mem

import "fmt"

// A LongAddr is a virtual address qualified by the address space (master id)
// it belongs to. Two threads touching the same VA do not alias.
type LongAddr struct {
	VA       uint64
	MasterID int
}

// MakeLongAddr returns a LongAddr for the given address space.
func MakeLongAddr(va uint64, masterID int) LongAddr {
	return LongAddr{VA: va, MasterID: masterID}
}

// Aligned returns the address rounded down to a block boundary. blockBytes
// must be a power of two.
func (a LongAddr) Aligned(blockBytes int) LongAddr {
	a.VA &^= uint64(blockBytes - 1)
	return a
}

// Offset returns the byte offset of the address within its block.
func (a LongAddr) Offset(blockBytes int) int {
	return int(a.VA & uint64(blockBytes-1))
}

// Add returns the address displaced by n bytes, in the same address space.
func (a LongAddr) Add(n int64) LongAddr {
	a.VA = uint64(int64(a.VA) + n)
	return a
}

func (a LongAddr) String() string {
	return fmt.Sprintf("0x%x/m%d", a.VA, a.MasterID)
}

// AccessType is the kind of permission a cache access needs.
type AccessType int

// The access types a stream buffer can serve.
const (
	AccessRead AccessType = iota
	AccessReadExcl
	AccessUpgrade
)

var accessTypeNames = [...]string{"Read", "ReadExcl", "Upgrade"}

func (t AccessType) String() string {
	if t < 0 || int(t) >= len(accessTypeNames) {
		return fmt.Sprintf("AccessType(%d)", int(t))
	}

	return accessTypeNames[t]
}

// NeedsWritePerm tells if the access requires an exclusive copy.
func (t AccessType) NeedsWritePerm() bool {
	return t == AccessReadExcl || t == AccessUpgrade
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
