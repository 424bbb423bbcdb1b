package memory

import (
	"sort"

	"github.com/coldharbor/ntwine/core"
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
)

// AccessMode distinguishes a syscall handler's own bookkeeping reads
// (Privileged, bypasses protection) from an access made on the guest's
// behalf (Guest, honors protection).
type AccessMode int

const (
	Guest AccessMode = iota
	Privileged
)

// Manager is the authoritative virtual-memory map for one guest process.
// Region bookkeeping uses an ordered map keyed by base address so lookup,
// split, and merge stay O(log n) as the region count grows, rather than a
// linear scan over every tracked region.
type Manager struct {
	engine core.Engine
	tree   *redblacktree.Tree // uint64 base -> *Region

	floor uint64
	ceil  uint64

	metaBase uint64
	metaNext uint64
	metaEnd  uint64
}

// NewManager constructs an empty address space over [floor, ceil), backed
// by engine for the actual guest page-table mirroring.
func NewManager(engine core.Engine, floor, ceil uint64) *Manager {
	return &Manager{
		engine: engine,
		tree:   redblacktree.NewWith(utils.UInt64Comparator),
		floor:  alignUp(floor),
		ceil:   alignDown(ceil),
	}
}

func (m *Manager) get(base uint64) *Region {
	v, found := m.tree.Get(base)
	if !found {
		return nil
	}
	return v.(*Region)
}

func (m *Manager) put(r *Region) { m.tree.Put(r.Base, r) }

func (m *Manager) remove(base uint64) { m.tree.Remove(base) }

// regionAt returns the region covering addr, or nil if addr falls in a
// free gap.
func (m *Manager) regionAt(addr uint64) *Region {
	node, found := m.tree.Floor(addr)
	if !found {
		return nil
	}
	r := node.Value.(*Region)
	if !r.contains(addr) {
		return nil
	}
	return r
}

// fullyCovered reports whether regions (as returned by overlapping, in
// ascending base order) contiguously span [base, base+size) with no gaps.
func fullyCovered(regions []*Region, base, size uint64) bool {
	if len(regions) == 0 {
		return false
	}
	if regions[0].Base > base {
		return false
	}
	end := base + size
	cursor := regions[0].Base
	for _, r := range regions {
		if r.Base > cursor {
			return false
		}
		cursor = r.end()
	}
	return cursor >= end
}

// overlapping returns every region intersecting [base, base+size), in
// ascending base order.
func (m *Manager) overlapping(base, size uint64) []*Region {
	keys := m.tree.Keys()
	bases := make([]uint64, len(keys))
	for i, k := range keys {
		bases[i] = k.(uint64)
	}
	end := base + size
	start := sort.Search(len(bases), func(i int) bool {
		r := m.get(bases[i])
		return r.end() > base
	})

	var out []*Region
	for i := start; i < len(bases); i++ {
		r := m.get(bases[i])
		if r.Base >= end {
			break
		}
		out = append(out, r)
	}
	return out
}

// firstFit finds the lowest free address at or above the floor with size
// bytes of unoccupied space.
func (m *Manager) firstFit(size uint64) (uint64, error) {
	candidate := m.floor
	for _, r := range m.overlapping(m.floor, m.ceil-m.floor) {
		if r.Base > candidate && r.Base-candidate >= size {
			return candidate, nil
		}
		if r.end() > candidate {
			candidate = r.end()
		}
	}
	if m.ceil-candidate >= size {
		return candidate, nil
	}
	return 0, ErrOutOfAddressSpace
}

// Reserve allocates a page-aligned region of size bytes. If hint is
// non-zero the manager attempts that exact address and fails with
// ErrConflict if any part of it is occupied; otherwise it performs a
// first-fit search above the configured floor.
func (m *Manager) Reserve(hint, size uint64, prot core.Protection, tag Tag) (uint64, error) {
	if size == 0 || !aligned(size) {
		return 0, ErrInvalidSize
	}

	base := alignUp(hint)
	if hint != 0 {
		if !aligned(hint) {
			return 0, ErrUnaligned
		}
		if len(m.overlapping(base, size)) > 0 {
			return 0, ErrConflict
		}
	} else {
		var err error
		base, err = m.firstFit(size)
		if err != nil {
			return 0, err
		}
	}

	m.put(&Region{Base: base, Length: size, Prot: prot, State: StateReserved, Tag: tag})
	m.coalesceAround(base)
	return base, nil
}

// Commit transitions reserved pages to committed, zero-filled, with the
// requested protection. Committing an already-committed range is
// idempotent and simply updates protection.
func (m *Manager) Commit(base, size uint64, prot core.Protection) error {
	if size == 0 || !aligned(base) || !aligned(size) {
		return ErrUnaligned
	}

	covering := m.regionAt(base)
	if covering == nil || covering.State == StateFree || !covering.covers(base, size) {
		return ErrNotReserved
	}

	alreadyCommitted := covering.State == StateCommitted

	m.splitOut(base, size)
	r := m.get(base)
	r.Length = size
	r.State = StateCommitted
	r.Prot = prot

	if !alreadyCommitted {
		if err := m.engine.Map(base, size, prot); err != nil {
			return err
		}
	}
	if err := m.engine.Protect(base, size, prot); err != nil {
		return err
	}

	m.coalesceAround(base)
	return nil
}

// Protect changes the protection of a committed range and returns the
// previous protection of the range's first page, matching NT semantics.
// Fails with ErrNotCommitted if any page in range is not committed.
func (m *Manager) Protect(base, size uint64, prot core.Protection) (core.Protection, error) {
	if size == 0 || !aligned(base) || !aligned(size) {
		return 0, ErrUnaligned
	}

	regions := m.overlapping(base, size)
	if !fullyCovered(regions, base, size) {
		return 0, ErrNotCommitted
	}
	for _, r := range regions {
		if r.State != StateCommitted {
			return 0, ErrNotCommitted
		}
	}
	old := regions[0].Prot

	m.splitOut(base, size)
	r := m.get(base)
	r.Length = size
	r.Prot = prot

	if err := m.engine.Protect(base, size, prot); err != nil {
		return 0, err
	}

	m.coalesceAround(base)
	return old, nil
}

// Decommit reverses Commit: pages become reserved-but-uncommitted and
// their engine mapping is torn down. base must be the start of a tracked
// region and the range must be fully covered by tracked regions; the end
// need not fall on a region boundary.
func (m *Manager) Decommit(base, size uint64) error {
	if size == 0 || !aligned(base) || !aligned(size) {
		return ErrUnaligned
	}

	regions := m.overlapping(base, size)
	if !fullyCovered(regions, base, size) {
		return ErrNotReserved
	}
	if regions[0].Base != base {
		return ErrBaseMismatch
	}

	if err := m.engine.Unmap(base, size); err != nil {
		return err
	}

	m.splitOut(base, size)
	r := m.get(base)
	r.Length = size
	r.State = StateReserved
	r.Prot = core.ProtNone

	m.coalesceAround(base)
	return nil
}

// Release reverses Reserve entirely, freeing the range. This
// implementation requires base and size to match an existing region's
// boundaries exactly, documented in DESIGN.md.
func (m *Manager) Release(base, size uint64) error {
	if size == 0 || !aligned(base) || !aligned(size) {
		return ErrUnaligned
	}

	regions := m.overlapping(base, size)
	if !fullyCovered(regions, base, size) {
		return ErrNotReserved
	}
	if regions[0].Base != base || regions[len(regions)-1].end() != base+size {
		return ErrBaseMismatch
	}

	for _, r := range regions {
		if r.State == StateCommitted {
			if err := m.engine.Unmap(r.Base, r.Length); err != nil {
				return err
			}
		}
		m.remove(r.Base)
	}
	return nil
}

// Read copies size bytes starting at addr out of guest memory. In Guest
// mode the range must be committed and readable; in Privileged mode
// (host-side syscall bookkeeping) protection is bypassed.
func (m *Manager) Read(addr, size uint64, mode AccessMode) ([]byte, error) {
	if err := m.checkAccess(addr, size, core.ProtRead, mode); err != nil {
		return nil, err
	}
	return m.engine.MemRead(addr, size)
}

// Write copies data into guest memory starting at addr, subject to the
// same access-mode rules as Read.
func (m *Manager) Write(addr uint64, data []byte, mode AccessMode) error {
	if err := m.checkAccess(addr, uint64(len(data)), core.ProtWrite, mode); err != nil {
		return err
	}
	return m.engine.MemWrite(addr, data)
}

func (m *Manager) checkAccess(addr, size uint64, want core.Protection, mode AccessMode) error {
	regions := m.overlapping(addr, size)
	if !fullyCovered(regions, addr, size) {
		return ErrExceedsRegion
	}
	for _, r := range regions {
		if r.State != StateCommitted {
			return ErrNotCommitted
		}
		if mode == Guest && r.Prot&want == 0 {
			return ErrAccessViolation
		}
	}
	return nil
}

// Query returns the region covering addr exactly as NtQueryVirtualMemory
// class 0 would.
func (m *Manager) Query(addr uint64) (*MemoryBasicInformation, error) {
	r := m.regionAt(addr)
	if r == nil {
		return nil, ErrNotReserved
	}
	return &MemoryBasicInformation{
		BaseAddress:       r.Base,
		AllocationBase:    r.Base,
		AllocationProtect: r.Prot,
		RegionSize:        r.Length,
		State:             r.State,
		Protect:           r.Prot,
		Tag:               r.Tag,
	}, nil
}

// splitOut ensures a region boundary exists at base and at base+size,
// carving [base, base+size) out of whatever region(s) currently occupy
// it, so callers can freely overwrite the resulting region for that
// exact range. Only the two boundary regions ever need splitting;
// regions wholly inside the range are left as-is for the caller to
// remove and replace.
func (m *Manager) splitOut(base, size uint64) {
	end := base + size

	if left := m.regionAt(base); left != nil && left.Base < base {
		m.remove(left.Base)
		m.put(&Region{Base: left.Base, Length: base - left.Base, Prot: left.Prot, State: left.State, Tag: left.Tag})
		m.put(&Region{Base: base, Length: left.end() - base, Prot: left.Prot, State: left.State, Tag: left.Tag})
	}

	if right := m.regionAt(end); right != nil && right.end() > end {
		m.remove(right.Base)
		m.put(&Region{Base: right.Base, Length: end - right.Base, Prot: right.Prot, State: right.State, Tag: right.Tag})
		m.put(&Region{Base: end, Length: right.end() - end, Prot: right.Prot, State: right.State, Tag: right.Tag})
	}

	for _, r := range m.overlapping(base, size) {
		if r.Base != base {
			m.remove(r.Base)
		}
	}
}

// coalesceAround merges the region at base with its immediate neighbors
// when they share identical attributes. Called after every mutation.
func (m *Manager) coalesceAround(base uint64) {
	r := m.get(base)
	if r == nil {
		return
	}

	if node, found := m.tree.Floor(r.Base - 1); found {
		prev := node.Value.(*Region)
		if prev.end() == r.Base && prev.sameAttrs(r) {
			m.remove(prev.Base)
			m.remove(r.Base)
			r = &Region{Base: prev.Base, Length: prev.Length + r.Length, Prot: r.Prot, State: r.State, Tag: r.Tag}
			m.put(r)
		}
	}

	if next := m.get(r.end()); next != nil && next.sameAttrs(r) {
		m.remove(r.Base)
		m.remove(next.Base)
		r = &Region{Base: r.Base, Length: r.Length + next.Length, Prot: r.Prot, State: r.State, Tag: r.Tag}
		m.put(r)
	}
}

// Regions returns every tracked region in ascending base order, for
// diagnostics and snapshotting. The returned regions are copies; mutating
// them has no effect on the manager.
func (m *Manager) Regions() []Region {
	keys := m.tree.Keys()
	out := make([]Region, 0, len(keys))
	for _, k := range keys {
		r := m.get(k.(uint64))
		out = append(out, *r)
	}
	return out
}

// AllocMeta hands out host-side bookkeeping memory (PEB, TEB, LDR entries)
// out of a dedicated TagHeap region, bump-allocator style, so metadata
// allocations show up in Query results like any other committed memory.
func (m *Manager) AllocMeta(size uint64) (uint64, error) {
	size = alignUp(size)
	if m.metaBase == 0 {
		base, err := m.Reserve(0, growthChunk(size), core.ProtRead|core.ProtWrite, TagHeap)
		if err != nil {
			return 0, err
		}
		if err := m.Commit(base, growthChunk(size), core.ProtRead|core.ProtWrite); err != nil {
			return 0, err
		}
		m.metaBase = base
		m.metaNext = base
		m.metaEnd = base + growthChunk(size)
	}

	if m.metaNext+size > m.metaEnd {
		grow := growthChunk(size)
		if _, err := m.Reserve(m.metaEnd, grow, core.ProtRead|core.ProtWrite, TagHeap); err != nil {
			return 0, err
		}
		if err := m.Commit(m.metaEnd, grow, core.ProtRead|core.ProtWrite); err != nil {
			return 0, err
		}
		m.metaEnd += grow
	}

	addr := m.metaNext
	m.metaNext += size
	return addr, nil
}

func growthChunk(size uint64) uint64 {
	const chunk = 0x10000
	if size > chunk {
		return alignUp(size)
	}
	return chunk
}
