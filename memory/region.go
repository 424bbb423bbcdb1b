package memory

import "github.com/coldharbor/ntwine/core"

// PageSize is the guest page granularity every region boundary and Reserve
// hint is rounded to, matching NT's page size on x86-64.
const PageSize = 0x1000

// State is a region's lifecycle stage: free, reserved, or committed.
type State int

const (
	StateFree State = iota
	StateReserved
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateReserved:
		return "reserved"
	case StateCommitted:
		return "committed"
	default:
		return "free"
	}
}

// Tag classifies a region's purpose for diagnostics and
// MemoryBasicInformation queries: image, stack, heap, private, or
// mapped-file.
type Tag int

const (
	TagNone Tag = iota
	TagImage
	TagStack
	TagHeap
	TagPrivate
	TagMapped
)

func (t Tag) String() string {
	switch t {
	case TagImage:
		return "image"
	case TagStack:
		return "stack"
	case TagHeap:
		return "heap"
	case TagPrivate:
		return "private"
	case TagMapped:
		return "mapped-file"
	default:
		return "none"
	}
}

// Region is a maximal run of pages sharing base, length, protection, state
// and tag. The zero value is never a valid region; regions are only ever
// produced by Manager.
type Region struct {
	Base   uint64
	Length uint64
	Prot   core.Protection
	State  State
	Tag    Tag
}

func (r *Region) end() uint64 { return r.Base + r.Length }

func (r *Region) contains(addr uint64) bool {
	return addr >= r.Base && addr < r.end()
}

// covers reports whether [base, base+size) lies entirely within r.
func (r *Region) covers(base, size uint64) bool {
	return base >= r.Base && base+size <= r.end()
}

// sameAttrs reports whether two regions could be coalesced if adjacent.
func (r *Region) sameAttrs(o *Region) bool {
	return r.Prot == o.Prot && r.State == o.State && r.Tag == o.Tag
}

func alignDown(v uint64) uint64 { return v &^ (PageSize - 1) }
func alignUp(v uint64) uint64   { return (v + PageSize - 1) &^ (PageSize - 1) }
func aligned(v uint64) bool     { return v&(PageSize-1) == 0 }

// MemoryBasicInformation mirrors what NtQueryVirtualMemory class 0 returns.
type MemoryBasicInformation struct {
	BaseAddress       uint64
	AllocationBase    uint64
	AllocationProtect core.Protection
	RegionSize        uint64
	State             State
	Protect           core.Protection
	Tag               Tag
}
