package codegen

import (
	"debug/elf"

	"luthier/internal/isa/gcn"
	"luthier/internal/mir"
	"luthier/internal/objwriter"
)

// instWidth is the per-instruction size in bytes layoutBlocks counts with.
// It matches instructions printed as a single SOPP word; an s_mov_b32
// prints through gcn.EncodeSOP1 as 8 bytes (12 with a literal), so block
// offsets after one are not byte-accurate. printObject does not use them.
const instWidth = 4

// printObject walks the mutated, register-assigned function one last time
// and serializes it to a relocatable object, encoding each instruction with
// the same hand-rolled, internally-consistent (not byte-accurate to any
// real ISA revision) scheme internal/isa/gcn uses to decode. Symbol
// references the printer can't resolve to a local address become External
// relocations against a new symbol table entry, so the runtime's loader can
// bind them the same way it binds any other external.
func printObject(fn *mir.Function, alloc *allocation) ([]byte, error) {
	layout := layoutBlocks(fn)

	var text []byte
	var relocs []objwriter.RelocSpec
	symIdx := make(map[string]uint32)
	var syms []objwriter.SymbolSpec

	symFor := func(name string) uint32 {
		if idx, ok := symIdx[name]; ok {
			return idx
		}
		syms = append(syms, objwriter.SymbolSpec{Name: name, Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Defined: false})
		idx := uint32(len(syms)) // 1-based, matching objwriter.RelocSpec.SymIdx
		symIdx[name] = idx
		return idx
	}

	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			offset := uint64(len(text))
			word, sym := encodeInstruction(inst, alloc)
			if sym != "" {
				relocs = append(relocs, objwriter.RelocSpec{
					Offset: offset,
					SymIdx: symFor(sym),
					Type:   relAbs64,
					Addend: 0,
				})
			}
			text = append(text, word...)
		}
	}
	_ = layout // reserved for branch-target fixups once intra-function branches are re-encoded

	syms = append(syms, objwriter.SymbolSpec{
		Name: fn.Name, Value: 0, Size: uint64(len(text)),
		Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Defined: true,
	})

	return objwriter.Build(objwriter.Options{Text: text, Symbols: syms, Relocations: relocs}), nil
}

// relAbs64 mirrors elfx.RelAbs64's numeric value. codegen sits above elfx
// indirectly (through codeobject and lifter) but has no reason to import it
// directly just for one constant, so the value is restated here.
const relAbs64 uint32 = 1

// layoutBlocks assigns each block a start offset in the printed byte
// stream, in case a future branch-fixup pass needs it, as a running sum of
// instWidth per instruction.
func layoutBlocks(fn *mir.Function) map[*mir.BasicBlock]uint64 {
	offsets := make(map[*mir.BasicBlock]uint64, len(fn.Blocks))
	var off uint64
	for _, bb := range fn.Blocks {
		offsets[bb] = off
		off += uint64(len(bb.Instructions)) * instWidth
	}
	return offsets
}

// encodeInstruction lowers one MIR instruction to its printed bytes. Real
// GCN-format instructions (copied in unmutated from the original code, or
// produced by lowerIntrinsics's argument moves) are encoded with the
// matching gcn.Encode* helper; the frame and hook-call pseudo-instructions
// this package itself introduces have no hardware encoding, so they print
// as a scalar no-op and, for a call, report the device function symbol the
// caller should relocate against.
func encodeInstruction(inst *mir.Instruction, alloc *allocation) ([]byte, string) {
	switch inst.Op.Mnemonic {
	case "frame_setup", "frame_teardown":
		return gcn.EncodeSOPP(0, 0), "" // s_nop
	case "s_call_b64":
		return gcn.EncodeSOPP(0, 0), symbolOperand(inst)
	case "s_mov_b32":
		dst := physIndex(alloc, inst.Dst[0])
		return gcn.EncodeSOP1(0, uint32(dst), operandToGCN(alloc, inst.Src[0])), ""
	default:
		return gcn.EncodeSOPP(0, 0), ""
	}
}

func symbolOperand(inst *mir.Instruction) string {
	for _, op := range inst.Src {
		if op.Kind == mir.OperandSymbol {
			return op.Sym
		}
	}
	return ""
}

func physIndex(alloc *allocation, op mir.Operand) int64 {
	switch op.Kind {
	case mir.OperandVReg:
		return alloc.physOf[op.Reg].Index
	case mir.OperandPhysReg:
		return op.Phys.Index
	default:
		return 0
	}
}

func operandToGCN(alloc *allocation, op mir.Operand) gcn.Operand {
	switch op.Kind {
	case mir.OperandImm:
		if op.Imm >= -16 && op.Imm <= 64 {
			return gcn.Operand{Kind: gcn.OperandImm, Value: op.Imm}
		}
		return gcn.Operand{Kind: gcn.OperandLiteral, Value: op.Imm}
	case mir.OperandVReg, mir.OperandPhysReg:
		return gcn.Operand{Kind: gcn.OperandSGPR, Value: physIndex(alloc, op)}
	default:
		return gcn.Operand{Kind: gcn.OperandImm, Value: 0}
	}
}
