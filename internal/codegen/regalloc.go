package codegen

import (
	"fmt"

	"luthier/internal/isa"
	"luthier/internal/mir"
)

// allocation is the printer's map from a Function's virtual registers back
// to concrete hardware locations, built by virtualizeAndAllocate and
// consumed by buildPreambleEpilogue and printObject.
type allocation struct {
	target    *isa.TargetInfo
	physOf    map[mir.VReg]mir.PhysReg
	reserved  map[mir.RegClass]int64 // next free physical index per class, after the widened frame's reservations
}

// virtualizeAndAllocate is stage one of register assignment: every
// operand lifted straight from the original code starts life
// as a PhysReg, which is unsafe to mutate in place because instrumentation
// may change how many live values a block carries. This pass first
// replaces every PhysReg operand with a freshly minted VReg (so the
// instruction stream can be freely edited without two unrelated values
// colliding on the same hardware register), then walks the now-virtualized
// function once more and assigns each VReg a physical location bounded by
// the target's register file.
func virtualizeAndAllocate(fn *mir.Function, target *isa.TargetInfo) (*allocation, error) {
	virtualize(fn)
	return allocatePhysical(fn, target)
}

// virtualize rewrites every PhysReg operand in fn to a fresh VReg of the
// same class, one VReg per distinct PhysReg so that values the original
// code kept in the same hardware register stay aliased after mutation.
func virtualize(fn *mir.Function) {
	seen := make(map[mir.PhysReg]mir.VReg)
	rewrite := func(op *mir.Operand) {
		if op.Kind != mir.OperandPhysReg {
			return
		}
		v, ok := seen[op.Phys]
		if !ok {
			v = fn.NewVReg(op.Phys.Class)
			seen[op.Phys] = v
		}
		op.Kind = mir.OperandVReg
		op.Reg = v
	}
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			for i := range inst.Dst {
				rewrite(&inst.Dst[i])
			}
			for i := range inst.Src {
				rewrite(&inst.Src[i])
			}
		}
	}
}

// allocatePhysical assigns every VReg in fn a physical register, packing
// scalar and vector classes into separate counters and failing with a
// CodegenError-worthy error if the widened kernel needs more registers than
// the target's file has — the core does not spill.
func allocatePhysical(fn *mir.Function, target *isa.TargetInfo) (*allocation, error) {
	alloc := &allocation{
		target:   target,
		physOf:   make(map[mir.VReg]mir.PhysReg),
		reserved: make(map[mir.RegClass]int64),
	}

	next := map[mir.RegClass]int64{
		mir.ClassScalar32: 0,
		mir.ClassScalar64: 0,
		mir.ClassVector32: 0,
		mir.ClassVector64: 0,
	}

	assign := func(op mir.Operand) error {
		if op.Kind != mir.OperandVReg {
			return nil
		}
		if _, ok := alloc.physOf[op.Reg]; ok {
			return nil
		}
		idx := next[op.Reg.Class]
		limit, width := classLimit(target, op.Reg.Class)
		if (idx+1)*width > limit {
			return fmt.Errorf("codegen: function %q needs more %v registers than target %s provides (%d)", fn.Name, op.Reg.Class, target.ID, limit)
		}
		alloc.physOf[op.Reg] = mir.PhysReg{Class: op.Reg.Class, Index: idx}
		next[op.Reg.Class] = idx + 1
		return nil
	}

	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			for _, op := range inst.Dst {
				if err := assign(op); err != nil {
					return nil, err
				}
			}
			for _, op := range inst.Src {
				if err := assign(op); err != nil {
					return nil, err
				}
			}
		}
	}
	for class, idx := range next {
		alloc.reserved[class] = idx
	}
	return alloc, nil
}

// classLimit reports how many of a class's registers the target's file
// holds (limit) and how many hardware registers one value of that class
// occupies (width): 64-bit classes consume two slots of their underlying
// 32-bit file.
func classLimit(target *isa.TargetInfo, class mir.RegClass) (limit, width int64) {
	switch class {
	case mir.ClassScalar32:
		return int64(target.Reg.NumSGPRs), 1
	case mir.ClassScalar64:
		return int64(target.Reg.NumSGPRs), 2
	case mir.ClassVector32:
		return int64(target.Reg.NumVGPRs), 1
	case mir.ClassVector64:
		return int64(target.Reg.NumVGPRs), 2
	default:
		return 0, 1
	}
}
