package elfx

import (
	"debug/elf"
	"fmt"
)

// RelType is the relocation kind, read directly out of the low 32 bits of
// an Elf64_Rela's r_info field. AMDGPU's relocation types are not part of
// Go's debug/elf constant set, so these are named locally; the numeric
// values follow the generic ELF convention of "type occupies the low 32
// bits, symbol index the high 32 bits" shared by every 64-bit ELF psABI.
type RelType uint32

const (
	RelAbs64  RelType = 1 // absolute 64-bit address
	RelAbs32  RelType = 2 // absolute 32-bit address, low half
	RelPCRel32 RelType = 3 // PC-relative 32-bit
)

// Relocation is one decoded entry from a SHT_RELA section.
type Relocation struct {
	Offset  uint64 // the address the relocation applies to (loaded address, pre-delta)
	SymIdx  uint32 // index into the symbol table referenced by this relocation's section
	Type    RelType
	Addend  int64
}

// Relocations scans every SHT_RELA section in the file and returns a map
// from each relocation's target address to its decoded entry, for O(1)
// lookup by loaded address.
func (f *File) Relocations() (map[uint64]Relocation, error) {
	out := map[uint64]Relocation{}
	for _, sec := range f.ELF.Sections {
		if sec.Type != elf.SHT_RELA {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("elfx: reading relocation section %q: %w", sec.Name, err)
		}
		const entSize = 24 // Elf64_Rela: 3 x uint64/int64
		if len(data)%entSize != 0 {
			return nil, fmt.Errorf("elfx: relocation section %q has malformed size %d", sec.Name, len(data))
		}
		for off := 0; off+entSize <= len(data); off += entSize {
			r := data[off : off+entSize]
			offset := f.ELF.ByteOrder.Uint64(r[0:8])
			info := f.ELF.ByteOrder.Uint64(r[8:16])
			addend := int64(f.ELF.ByteOrder.Uint64(r[16:24]))
			rel := Relocation{
				Offset: offset,
				SymIdx: uint32(info >> 32),
				Type:   RelType(uint32(info)),
				Addend: addend,
			}
			out[offset] = rel
		}
	}
	return out, nil
}

// SymbolByIndex resolves a relocation's symbol index against the combined
// dynamic+regular symbol table, in the same order the relocation's r_info
// indexes into (dynamic symbols first, matching typical AMDGPU code-object
// linkage where relocations target the dynamic symbol table). idx is a raw
// ELF symbol table index, where 0 names the reserved null symbol;
// debug/elf's Symbols/DynamicSymbols slices already omit that entry, so
// every index here is shifted down by one to match.
func (f *File) SymbolByIndex(idx uint32) (elf.Symbol, error) {
	if idx == 0 {
		return elf.Symbol{}, fmt.Errorf("elfx: symbol index 0 is the reserved null symbol")
	}
	i := idx - 1
	dyn, _ := f.ELF.DynamicSymbols()
	if int(i) < len(dyn) {
		return dyn[i], nil
	}
	reg, _ := f.ELF.Symbols()
	i -= uint32(len(dyn))
	if int(i) < len(reg) {
		return reg[i], nil
	}
	return elf.Symbol{}, fmt.Errorf("elfx: symbol index %d out of range", idx)
}
