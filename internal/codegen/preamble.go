package codegen

import "luthier/internal/mir"

// framePadding is the extra bytes of private (scratch) memory reserved per
// register the allocator assigned, a stand-in for
// the spill slots a real register allocator would size precisely. The core
// never spills (allocatePhysical fails instead), so this padding only ever
// backs the prologue/epilogue save area instrumentation needs around a
// call, not spill code.
const framePadding = 4

// buildPreambleEpilogue widens fn's stack frame to cover the registers
// instrumentation pulled in, then splices a frame-setup instruction at the
// top of the entry block and a frame-teardown instruction immediately
// before every block that falls off the end of the function.
func buildPreambleEpilogue(fn *mir.Function, alloc *allocation) {
	widenFrame(fn, alloc)

	if fn.Entry != nil {
		setup := fn.NewInstruction(mir.Opcode{Mnemonic: "frame_setup"}, nil, []mir.Operand{
			{Kind: mir.OperandImm, Imm: int64(fn.PrivateSize)},
		})
		fn.Entry.InsertBefore(0, setup)
	}

	for _, bb := range fn.Blocks {
		if len(bb.Succs) > 0 {
			continue
		}
		teardown := fn.NewInstruction(mir.Opcode{Mnemonic: "frame_teardown"}, nil, nil)
		bb.InsertBefore(len(bb.Instructions), teardown)
	}
}

// widenFrame grows fn.PrivateSize by framePadding bytes for every register
// the allocator reserved, in every class, so the frame_setup instruction
// carries the private-memory size of the save area. fn.GroupSize is left
// unchanged, and no kernel descriptor is printed from these sizes.
func widenFrame(fn *mir.Function, alloc *allocation) {
	var extra uint32
	for _, count := range alloc.reserved {
		extra += uint32(count) * framePadding
	}
	fn.PrivateSize += extra
}
