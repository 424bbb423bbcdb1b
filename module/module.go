// Package module loads PE images into a guest address space and makes
// them callable: section mapping, base relocation, import binding across
// already-loaded modules, and export lookup, all built on top of
// memory.Manager's region tracking.
package module

import (
	"fmt"
	"strings"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/pefile"
)

// Section is a mapped section's guest placement, distinct from
// pefile.Section which is the on-disk/parsed representation.
type Section struct {
	Name string
	Base uint64
	Size uint64
	Prot core.Protection
}

// ResolvedImport is one IAT slot after binding: which DLL/function it
// targets and the guest address written into that slot (either a real
// export or a synthetic stub trampoline).
type ResolvedImport struct {
	DllName  string
	FuncName string
	Ordinal  uint16
	IATSlot  uint64
	Target   uint64
}

// Module is one PE image mapped into the guest.
type Module struct {
	Name       string
	RealName   string
	Base       uint64
	Size       uint64
	EntryPoint uint64
	Sections   []Section
	Exports    map[string]uint64
	ExportsOrd map[uint16]uint64
	// Forwards holds the raw "TARGETDLL.FuncName" (or "TARGETDLL.#Ordinal")
	// string for every export that forwards to another module instead of
	// resolving to a code address in this one, keyed the same way as
	// Exports/ExportsOrd. A forwarded export has no entry in those two maps.
	Forwards    map[string]string
	ForwardsOrd map[uint16]string
	Imports     []ResolvedImport
	TLS         *ResolvedTLS
	IsPrimary   bool

	pe *pefile.PeFile
}

// ResolvedTLS is a module's TLS directory with addresses rebased to the
// module's actual load address. It is recorded on the Module only: thread
// creation does not allocate TLS slots from it or run its callbacks.
type ResolvedTLS struct {
	RawDataStart uint64
	RawDataEnd   uint64
	IndexAddress uint64
	Callbacks    []uint64
	ZeroFillSize uint32
}

func sectionProtection(characteristics uint32) core.Protection {
	var p core.Protection
	if characteristics&pefile.SectionMemRead != 0 {
		p |= core.ProtRead
	}
	if characteristics&pefile.SectionMemWrite != 0 {
		p |= core.ProtWrite
	}
	if characteristics&pefile.SectionMemExecute != 0 {
		p |= core.ProtExec
	}
	if p == 0 {
		p = core.ProtRead
	}
	return p
}

func moduleKey(name string) string { return strings.ToLower(name) }

var errNoSections = fmt.Errorf("module: image has no sections")
