package module

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/pefile"
)

// StubResolver hands out a synthetic trampoline address for an import the
// manager cannot resolve against an already-mapped module. ntwine's
// syscallapi package implements this, assigning each unresolved import a
// synthetic service index and funneling calls to it through the syscall
// dispatcher rather than a per-DLL IAT hook table.
type StubResolver interface {
	ResolveStub(dllName, funcName string) (target uint64, err error)
}

// Manager owns every mapped module in one guest process: it requests
// address space from memory.Manager, parses and places PE images, and
// answers address/export/name lookups module.Manager's callers (the
// loader path and the syscall dispatcher's return-address bookkeeping)
// need.
type Manager struct {
	mem      *memory.Manager
	resolver StubResolver

	modules  []*Module
	byName   map[string]*Module
	byBase   *redblacktree.Tree // uint64 base -> *Module, for O(log n) GetByAddress
	nextBase uint64
}

// NewManager constructs an empty module table. firstLibBase is where the
// first mapped module (conventionally the primary executable) is placed;
// subsequent modules are placed above the highest mapped address so far.
func NewManager(mem *memory.Manager, resolver StubResolver, firstLibBase uint64) *Manager {
	return &Manager{
		mem:      mem,
		resolver: resolver,
		byName:   make(map[string]*Module),
		byBase:   redblacktree.NewWith(utils.UInt64Comparator),
		nextBase: firstLibBase,
	}
}

// MapModule parses and places pe into the guest address space, binding
// its imports against already-mapped modules (or synthetic stubs) and
// applying base relocations for the address it was actually given.
func (m *Manager) MapModule(pe *pefile.PeFile, tag memory.Tag, isPrimary bool) (*Module, error) {
	if len(pe.Sections) == 0 {
		return nil, errNoSections
	}

	size := imageSpan(pe)
	base, err := m.mem.Reserve(m.nextBase, alignUp(size), core.ProtRead|core.ProtWrite, tag)
	if err != nil {
		return nil, fmt.Errorf("module: reserving address space for %s: %w", pe.Path, err)
	}
	if err := m.mem.Commit(base, alignUp(size), core.ProtRead|core.ProtWrite); err != nil {
		return nil, fmt.Errorf("module: committing address space for %s: %w", pe.Path, err)
	}

	preferredBase := pe.ImageBase()
	if err := pe.SetImageBase(base); err != nil {
		return nil, fmt.Errorf("module: rebasing %s to 0x%x: %w", pe.Path, base, err)
	}

	mod := &Module{
		Name:        moduleKey(pe.Name),
		RealName:    pe.RealName,
		Base:        base,
		Size:        size,
		EntryPoint:  base + uint64(pe.EntryPoint()),
		Exports:     make(map[string]uint64),
		ExportsOrd:  make(map[uint16]uint64),
		Forwards:    make(map[string]string),
		ForwardsOrd: make(map[uint16]string),
		IsPrimary:   isPrimary,
		pe:          pe,
	}

	for _, exp := range pe.Exports {
		if exp.Forward != "" {
			if exp.Name != "" {
				mod.Forwards[exp.Name] = exp.Forward
			}
			mod.ForwardsOrd[exp.Ordinal] = exp.Forward
			continue
		}
		addr := base + uint64(exp.Rva)
		if exp.Name != "" {
			mod.Exports[exp.Name] = addr
		}
		mod.ExportsOrd[exp.Ordinal] = addr
	}

	m.modules = append(m.modules, mod)
	m.byName[mod.Name] = mod
	m.byBase.Put(mod.Base, mod)

	if err := m.bindImports(pe, mod); err != nil {
		return nil, err
	}

	for _, sec := range pe.Sections {
		prot := sectionProtection(sec.Characteristics)
		mod.Sections = append(mod.Sections, Section{Name: sec.Name, Base: base + uint64(sec.VirtualAddress), Size: uint64(sec.Size), Prot: prot})

		if len(sec.Raw) == 0 {
			continue
		}
		if err := m.mem.Write(base+uint64(sec.VirtualAddress), sec.Raw, memory.Privileged); err != nil {
			return nil, fmt.Errorf("module: writing section %s of %s: %w", sec.Name, pe.Path, err)
		}
	}

	for _, sec := range mod.Sections {
		if err := m.mem.Commit(alignDown(sec.Base), alignUp(sec.Base+sec.Size)-alignDown(sec.Base), sec.Prot); err != nil {
			return nil, fmt.Errorf("module: protecting section %s of %s: %w", sec.Name, pe.Path, err)
		}
	}

	if pe.TLS != nil {
		rebase := func(va uint64) uint64 {
			if va == 0 {
				return 0
			}
			return va - preferredBase + base
		}
		callbacks := make([]uint64, len(pe.TLS.Callbacks))
		for i, cb := range pe.TLS.Callbacks {
			callbacks[i] = rebase(cb)
		}
		mod.TLS = &ResolvedTLS{
			RawDataStart: rebase(pe.TLS.RawDataStart),
			RawDataEnd:   rebase(pe.TLS.RawDataEnd),
			IndexAddress: rebase(pe.TLS.IndexAddress),
			ZeroFillSize: pe.TLS.ZeroFillSize,
			Callbacks:    callbacks,
		}
	}

	if base+alignUp(size) >= m.nextBase {
		m.nextBase = base + alignUp(size)
	}

	return mod, nil
}

func (m *Manager) bindImports(pe *pefile.PeFile, mod *Module) error {
	for _, imp := range pe.Imports {
		dllName := moduleKey(pe.ApiSetLookup(imp.DllName))

		var target uint64
		if target = m.resolveImport(dllName, imp); target == 0 {
			if m.resolver == nil {
				return fmt.Errorf("module: unresolved import %s!%s and no stub resolver configured", dllName, imp.FuncName)
			}
			resolved, err := m.resolver.ResolveStub(dllName, imp.FuncName)
			if err != nil {
				return fmt.Errorf("module: resolving stub for %s!%s: %w", dllName, imp.FuncName, err)
			}
			target = resolved
		}

		if err := pe.SetImportAddress(imp, target); err != nil {
			return fmt.Errorf("module: patching import %s!%s: %w", dllName, imp.FuncName, err)
		}
		mod.Imports = append(mod.Imports, ResolvedImport{
			DllName: dllName, FuncName: imp.FuncName, Ordinal: imp.Ordinal,
			IATSlot: mod.Base + imp.Offset, Target: target,
		})
	}
	return nil
}

func (m *Manager) resolveImport(dllName string, imp *pefile.ImportInfo) uint64 {
	addr, _ := m.lookupExport(dllName, imp.FuncName, imp.Ordinal, 0)
	return addr
}

// maxForwardDepth bounds forwarder-chain recursion against a malformed or
// cyclic chain of "DLL.Func" strings; the real Windows loader has no such
// limit, but no legitimate export table forwards more than a couple of hops.
const maxForwardDepth = 8

// lookupExport resolves a name or ordinal export of moduleName, following
// export forwarders ("TARGETDLL.FuncName" / "TARGETDLL.#Ordinal") into
// whichever module they name until it lands on a real address or the chain
// bottoms out.
func (m *Manager) lookupExport(moduleName, name string, ordinal uint16, depth int) (uint64, bool) {
	if depth >= maxForwardDepth {
		return 0, false
	}
	mod, ok := m.byName[moduleKey(moduleName)]
	if !ok {
		return 0, false
	}

	if name != "" {
		if addr, ok := mod.Exports[name]; ok {
			return addr, true
		}
		if fwd, ok := mod.Forwards[name]; ok {
			return m.followForward(fwd, depth)
		}
		return 0, false
	}
	if addr, ok := mod.ExportsOrd[ordinal]; ok {
		return addr, true
	}
	if fwd, ok := mod.ForwardsOrd[ordinal]; ok {
		return m.followForward(fwd, depth)
	}
	return 0, false
}

// followForward parses one hop of a forwarder string and resolves it. The
// ordinal form is "DLLNAME.#123"; anything else after the dot is a name.
func (m *Manager) followForward(forward string, depth int) (uint64, bool) {
	dot := strings.LastIndexByte(forward, '.')
	if dot < 0 {
		return 0, false
	}
	dllName, target := forward[:dot], forward[dot+1:]
	if len(target) > 1 && target[0] == '#' {
		ordinal, err := strconv.ParseUint(target[1:], 10, 16)
		if err != nil {
			return 0, false
		}
		return m.lookupExport(dllName, "", uint16(ordinal), depth+1)
	}
	return m.lookupExport(dllName, target, 0, depth+1)
}

// GetByAddress returns the module containing addr, if any. Backed by a
// red-black tree keyed on base address rather than a scan over m.modules,
// mirroring memory.Manager's regionAt: Floor(addr) finds the highest-based
// module at or below addr in O(log n), then a single bounds check confirms
// addr actually falls inside it rather than in a gap past its end.
func (m *Manager) GetByAddress(addr uint64) (*Module, bool) {
	node, found := m.byBase.Floor(addr)
	if !found {
		return nil, false
	}
	mod := node.Value.(*Module)
	if addr < mod.Base || addr >= mod.Base+mod.Size {
		return nil, false
	}
	return mod, true
}

// FindByName looks up a mapped module by its (case-insensitive) name.
func (m *Manager) FindByName(name string) (*Module, bool) {
	mod, ok := m.byName[moduleKey(name)]
	return mod, ok
}

// GetExport resolves a name or ordinal export of an already-mapped module,
// following forwarders into other mapped modules as needed. Ordinal lookups
// pass an empty name and a non-zero ordinal.
func (m *Manager) GetExport(moduleName, name string, ordinal uint16) (uint64, bool) {
	return m.lookupExport(moduleName, name, ordinal, 0)
}

// Modules returns every currently mapped module, in load order.
func (m *Manager) Modules() []*Module { return m.modules }

func imageSpan(pe *pefile.PeFile) uint64 {
	var span uint64
	for _, sec := range pe.Sections {
		end := uint64(sec.VirtualAddress) + uint64(sec.VirtualSize)
		if uint64(sec.VirtualAddress)+uint64(sec.Size) > end {
			end = uint64(sec.VirtualAddress) + uint64(sec.Size)
		}
		if end > span {
			span = end
		}
	}
	return span
}

func alignUp(v uint64) uint64   { return (v + 0xfff) &^ 0xfff }
func alignDown(v uint64) uint64 { return v &^ 0xfff }
