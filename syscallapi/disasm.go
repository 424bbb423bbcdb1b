package syscallapi

import (
	"fmt"
	"strings"

	gapstone "github.com/kgwinnup/gapstone"
)

// VerboseDisassembler wraps a Capstone engine for the richer,
// multiple-instruction dump emulator.Emulator.DumpFault wants around a
// crash site, distinct from the single-instruction x86asm decode the
// per-tick instruction hook uses.
type VerboseDisassembler struct {
	engine gapstone.Engine
}

// NewVerboseDisassembler opens a Capstone engine in 64-bit mode when
// mode64 is true and in 32-bit mode otherwise.
func NewVerboseDisassembler(mode64 bool) (*VerboseDisassembler, error) {
	csMode := gapstone.CS_MODE_32
	if mode64 {
		csMode = gapstone.CS_MODE_64
	}
	engine, err := gapstone.New(gapstone.CS_ARCH_X86, csMode)
	if err != nil {
		return nil, fmt.Errorf("syscallapi: opening capstone engine: %w", err)
	}
	return &VerboseDisassembler{engine: engine}, nil
}

// Dump disassembles code (read starting at addr) into a multi-line
// instruction listing.
func (d *VerboseDisassembler) Dump(code []byte, addr uint64) (string, error) {
	insns, err := d.engine.Disasm(code, addr, 0)
	if err != nil {
		return "", fmt.Errorf("syscallapi: disassembling at 0x%x: %w", addr, err)
	}
	var b strings.Builder
	for _, insn := range insns {
		fmt.Fprintf(&b, "0x%x:\t%s\t%s\n", insn.Address, insn.Mnemonic, insn.OpStr)
	}
	return b.String(), nil
}

// Close releases the underlying Capstone handle.
func (d *VerboseDisassembler) Close() error {
	return d.engine.Close()
}
