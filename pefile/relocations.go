package pefile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

type relocationBlock struct {
	PageRva uint32
	Size    uint32
}

// applyRelocations rewrites every base-relocation target by the delta
// between the image's old and current base address, per the PE base
// relocation table (data directory 5).
func (pe *PeFile) applyRelocations() error {
	section := pe.section(DirBaseReloc)
	if section == nil {
		return nil
	}

	delta := pe.oldImageBase - pe.ImageBase()
	if delta == 0 {
		return nil
	}

	r := bytes.NewReader(section.Raw)
	for {
		block := relocationBlock{}
		if err := binary.Read(r, binary.LittleEndian, &block); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("pefile: reading relocation block of %s: %w", pe.Path, err)
		}
		if block.PageRva == 0 {
			return nil
		}

		entries := int(block.Size-8) / 2
		for i := 0; i < entries; i++ {
			var typeOffset uint16
			if err := binary.Read(r, binary.LittleEndian, &typeOffset); err != nil {
				return fmt.Errorf("pefile: reading relocation entry of %s: %w", pe.Path, err)
			}

			relocType := typeOffset >> 12
			offset := typeOffset & 0x0fff
			if relocType == 0 {
				continue // IMAGE_REL_BASED_ABSOLUTE, padding entry
			}

			curSection := pe.sectionByRva(block.PageRva)
			if curSection == nil {
				continue
			}
			relocRva := block.PageRva + uint32(offset) - curSection.VirtualAddress

			switch relocType {
			case 3: // IMAGE_REL_BASED_HIGHLOW
				v := binary.LittleEndian.Uint32(curSection.Raw[relocRva:relocRva+4]) - uint32(delta)
				binary.LittleEndian.PutUint32(curSection.Raw[relocRva:relocRva+4], v)
			case 10: // IMAGE_REL_BASED_DIR64
				v := binary.LittleEndian.Uint64(curSection.Raw[relocRva:relocRva+8]) - delta
				binary.LittleEndian.PutUint64(curSection.Raw[relocRva:relocRva+8], v)
			}
		}
	}
}
