package codegen

import (
	"fmt"

	"luthier/internal/mir"
)

// IRLoweringInfo is what an intrinsic's IRProcessor hands back for the
// IR-level lowering pass (spec.md §4.5 step 5): a placeholder inline-asm
// string plus the register-class constraint and operand payload the later
// MIR-level pass needs to finish the job, and the declarations it needs to
// make (which physical registers or kernel args the intrinsic use touches,
// so function-preamble analysis sees it).
type IRLoweringInfo struct {
	Placeholder string
	Constraint  string // "s" or "v", naming the class the MIR pass must honor
	Operands    []mir.Operand

	// PhysRegUses lists the physical registers this intrinsic use reads or
	// writes, so preamble analysis (spec.md §4.5 step 8) can see it without
	// re-inspecting the lowered MIR.
	PhysRegUses []mir.PhysReg
	// KernelArgUse is set for intrinsics that read an implicit kernel
	// argument rather than a register (implicitArgPtr).
	KernelArgUse string
}

// MIRFactories are the object-construction primitives an intrinsic's
// MIRProcessor is given instead of touching *mir.Function fields directly
// (spec.md §4.5 step 7): BuildMI mints a new instruction, CreateVReg mints a
// fresh virtual register of a class, GetKernelArgReg resolves which
// physical register a named implicit kernel argument arrives in, and
// GetPhysRegVReg returns the (memoized, for this generation pass) virtual
// register standing in for a physical register once virtualization has
// run.
type MIRFactories struct {
	BuildMI         func(op mir.Opcode, dst, src []mir.Operand) *mir.Instruction
	CreateVReg      func(class mir.RegClass) mir.VReg
	GetKernelArgReg func(argName string) (mir.PhysReg, error)
	GetPhysRegVReg  func(phys mir.PhysReg) mir.VReg
}

// IRProcessor turns one intrinsic use (its Dst/Src operands) into the
// placeholder bundle IR-level lowering emits.
type IRProcessor func(inst *mir.Instruction) (IRLoweringInfo, error)

// MIRProcessor turns one intrinsic use into the concrete instructions that
// replace its placeholder once MIR-level lowering runs, using f to mint
// whatever it needs.
type MIRProcessor func(f MIRFactories, info IRLoweringInfo, inst *mir.Instruction) ([]*mir.Instruction, error)

type intrinsicEntry struct {
	IR  IRProcessor
	MIR MIRProcessor
}

// execPhysReg is the EXEC mask's conventional placement as a 64-bit scalar
// pair, s[126:127] — the ISA's own fixed convention, not something a kernel
// descriptor communicates.
var execPhysReg = mir.PhysReg{Class: mir.ClassScalar64, Index: 126}

// workgroupIDPhysReg approximates where the three workgroup-ID components
// arrive as enabled SGPRs. The real placement is a function of which
// COMPUTE_PGM_RSRC2 enable bits the kernel descriptor sets (user SGPR count
// and the X/Y/Z enable bits shift everything after them); this core doesn't
// parse those enable bits yet (see DESIGN.md), so it assumes all three are
// enabled and placed at s6, s7 and s8, immediately after a six-SGPR user
// block (s0-s5).
var workgroupIDPhysReg = [3]mir.PhysReg{
	{Class: mir.ClassScalar32, Index: 6},
	{Class: mir.ClassScalar32, Index: 7},
	{Class: mir.ClassScalar32, Index: 8},
}

// regConstraint names the inline-asm-style constraint letter IR lowering
// records for a register class, matching the convention spec.md §4.5 step 5
// calls out ("s" or "v").
func regConstraint(class mir.RegClass) string {
	switch class {
	case mir.ClassScalar32, mir.ClassScalar64:
		return "s"
	default:
		return "v"
	}
}

func copyMnemonic(class mir.RegClass) string {
	switch class {
	case mir.ClassScalar32:
		return "s_mov_b32"
	case mir.ClassScalar64:
		return "s_mov_b64"
	case mir.ClassVector32:
		return "v_mov_b32"
	default:
		return "v_mov_b64"
	}
}

// readRegIR handles IntrinsicReadReg: Src[0] is the physical register to
// read, Dst[0] the virtual register the caller already minted to receive
// it (see codegen/hooks.go's lowerHookArgOperands).
func readRegIR(inst *mir.Instruction) (IRLoweringInfo, error) {
	if len(inst.Src) != 1 || inst.Src[0].Kind != mir.OperandPhysReg || len(inst.Dst) != 1 {
		return IRLoweringInfo{}, errIntrinsicOperand("readReg")
	}
	phys := inst.Src[0].Phys
	return IRLoweringInfo{
		Placeholder: "readReg $0, $1",
		Constraint:  regConstraint(phys.Class),
		Operands:    []mir.Operand{inst.Dst[0], inst.Src[0]},
		PhysRegUses: []mir.PhysReg{phys},
	}, nil
}

func readRegMIR(f MIRFactories, info IRLoweringInfo, inst *mir.Instruction) ([]*mir.Instruction, error) {
	phys := info.Operands[1].Phys
	mov := f.BuildMI(mir.Opcode{Mnemonic: copyMnemonic(phys.Class)}, []mir.Operand{info.Operands[0]}, []mir.Operand{{Kind: mir.OperandPhysReg, Phys: phys}})
	return []*mir.Instruction{mov}, nil
}

// writeRegIR handles IntrinsicWriteReg: Dst[0] the physical register to
// write, Src[0] the value (immediate or virtual register).
func writeRegIR(inst *mir.Instruction) (IRLoweringInfo, error) {
	if len(inst.Dst) != 1 || inst.Dst[0].Kind != mir.OperandPhysReg || len(inst.Src) != 1 {
		return IRLoweringInfo{}, errIntrinsicOperand("writeReg")
	}
	phys := inst.Dst[0].Phys
	return IRLoweringInfo{
		Placeholder: "writeReg $0, $1",
		Constraint:  regConstraint(phys.Class),
		Operands:    []mir.Operand{inst.Dst[0], inst.Src[0]},
		PhysRegUses: []mir.PhysReg{phys},
	}, nil
}

func writeRegMIR(f MIRFactories, info IRLoweringInfo, inst *mir.Instruction) ([]*mir.Instruction, error) {
	phys := info.Operands[0].Phys
	mov := f.BuildMI(mir.Opcode{Mnemonic: copyMnemonic(phys.Class)}, []mir.Operand{{Kind: mir.OperandPhysReg, Phys: phys}}, []mir.Operand{info.Operands[1]})
	return []*mir.Instruction{mov}, nil
}

// writeExecIR handles IntrinsicWriteExec: Src[0] the new exec-mask value.
func writeExecIR(inst *mir.Instruction) (IRLoweringInfo, error) {
	if len(inst.Src) != 1 {
		return IRLoweringInfo{}, errIntrinsicOperand("writeExec")
	}
	return IRLoweringInfo{
		Placeholder: "writeExec $0",
		Constraint:  "s",
		Operands:    []mir.Operand{inst.Src[0]},
		PhysRegUses: []mir.PhysReg{execPhysReg},
	}, nil
}

func writeExecMIR(f MIRFactories, info IRLoweringInfo, inst *mir.Instruction) ([]*mir.Instruction, error) {
	mov := f.BuildMI(mir.Opcode{Mnemonic: "s_mov_b64"}, []mir.Operand{{Kind: mir.OperandPhysReg, Phys: execPhysReg}}, []mir.Operand{info.Operands[0]})
	return []*mir.Instruction{mov}, nil
}

// implicitArgPtrIR handles IntrinsicImplicitArgPtr: Dst[0] the virtual
// register to receive the kernel's implicit-argument-block pointer.
func implicitArgPtrIR(inst *mir.Instruction) (IRLoweringInfo, error) {
	if len(inst.Dst) != 1 {
		return IRLoweringInfo{}, errIntrinsicOperand("implicitArgPtr")
	}
	return IRLoweringInfo{
		Placeholder:  "implicitArgPtr $0",
		Constraint:   "s",
		Operands:     []mir.Operand{inst.Dst[0]},
		KernelArgUse: "implicit_arg_ptr",
	}, nil
}

func implicitArgPtrMIR(f MIRFactories, info IRLoweringInfo, inst *mir.Instruction) ([]*mir.Instruction, error) {
	phys, err := f.GetKernelArgReg("implicit_arg_ptr")
	if err != nil {
		return nil, err
	}
	mov := f.BuildMI(mir.Opcode{Mnemonic: copyMnemonic(phys.Class)}, []mir.Operand{info.Operands[0]}, []mir.Operand{{Kind: mir.OperandPhysReg, Phys: phys}})
	return []*mir.Instruction{mov}, nil
}

// workgroupIDEntry builds the intrinsicEntry for one workgroup-ID axis
// (0=X, 1=Y, 2=Z): Dst[0] receives the raw SGPR value for that axis.
func workgroupIDEntry(axis int) intrinsicEntry {
	phys := workgroupIDPhysReg[axis]
	ir := func(inst *mir.Instruction) (IRLoweringInfo, error) {
		if len(inst.Dst) != 1 {
			return IRLoweringInfo{}, errIntrinsicOperand("workgroupId")
		}
		return IRLoweringInfo{
			Placeholder: "workgroupId $0",
			Constraint:  "s",
			Operands:    []mir.Operand{inst.Dst[0]},
			PhysRegUses: []mir.PhysReg{phys},
		}, nil
	}
	mirp := func(f MIRFactories, info IRLoweringInfo, inst *mir.Instruction) ([]*mir.Instruction, error) {
		mov := f.BuildMI(mir.Opcode{Mnemonic: "s_mov_b32"}, []mir.Operand{info.Operands[0]}, []mir.Operand{{Kind: mir.OperandPhysReg, Phys: phys}})
		return []*mir.Instruction{mov}, nil
	}
	return intrinsicEntry{IR: ir, MIR: mirp}
}

// sAtomicAddIR handles IntrinsicSAtomicAdd: Dst[0] the module-variable
// symbol to add into, Src[0] the addend.
func sAtomicAddIR(inst *mir.Instruction) (IRLoweringInfo, error) {
	if len(inst.Dst) != 1 || inst.Dst[0].Kind != mir.OperandSymbol || len(inst.Src) != 1 {
		return IRLoweringInfo{}, errIntrinsicOperand("sAtomicAdd")
	}
	return IRLoweringInfo{
		Placeholder: "sAtomicAdd $0, $1",
		Constraint:  "s",
		Operands:    []mir.Operand{inst.Dst[0], inst.Src[0]},
	}, nil
}

func sAtomicAddMIR(f MIRFactories, info IRLoweringInfo, inst *mir.Instruction) ([]*mir.Instruction, error) {
	add := f.BuildMI(mir.Opcode{Mnemonic: "s_atomic_add"}, []mir.Operand{info.Operands[0]}, []mir.Operand{info.Operands[1]})
	return []*mir.Instruction{add}, nil
}

// intrinsicRegistry is the built-in mapping from intrinsic name to its
// (IRProcessor, MIRProcessor) pair (spec.md §4.5, "Intrinsic registry").
// This core's mir.IntrinsicID is a closed enum rather than a string-keyed
// extension point, so "tools may register more" isn't implemented as a
// runtime registration API; see DESIGN.md for that scope decision.
var intrinsicRegistry = map[mir.IntrinsicID]intrinsicEntry{
	mir.IntrinsicReadReg:        {IR: readRegIR, MIR: readRegMIR},
	mir.IntrinsicWriteReg:       {IR: writeRegIR, MIR: writeRegMIR},
	mir.IntrinsicWriteExec:      {IR: writeExecIR, MIR: writeExecMIR},
	mir.IntrinsicImplicitArgPtr: {IR: implicitArgPtrIR, MIR: implicitArgPtrMIR},
	mir.IntrinsicWorkgroupIDX:   workgroupIDEntry(0),
	mir.IntrinsicWorkgroupIDY:   workgroupIDEntry(1),
	mir.IntrinsicWorkgroupIDZ:   workgroupIDEntry(2),
	mir.IntrinsicSAtomicAdd:     {IR: sAtomicAddIR, MIR: sAtomicAddMIR},
}

// intrinsicError reports an intrinsic use that this core's lowering pass
// can't handle: a mismatched operand shape, an unregistered intrinsic ID,
// or a hook_call placeholder with no matching hookSites entry.
type intrinsicError struct{ msg string }

func (e *intrinsicError) Error() string { return e.msg }

func errIntrinsicOperand(name string) error {
	return &intrinsicError{msg: "codegen: intrinsic " + name + " called with mismatched operands"}
}

func errUnregisteredIntrinsic(id mir.IntrinsicID) error {
	return &intrinsicError{msg: "codegen: no registry entry for intrinsic " + id.String()}
}

func errUnknownHookSite(idx int) error {
	return &intrinsicError{msg: fmt.Sprintf("codegen: hook_call placeholder at index %d has no matching hookSites entry", idx)}
}

func errUnknownKernelArg(name string) error {
	return &intrinsicError{msg: "codegen: no kernel arg register for " + name}
}

// loweredCall records what a hook_call placeholder expanded into, the
// side-table entry lowerIntrinsics produces for it.
type loweredCall struct {
	DeviceFunction string
	NumArgMoves    int
}

// mirFactories builds the MIRFactories bound to fn for one lowering pass,
// memoizing GetPhysRegVReg so repeated uses of the same physical register
// within this pass share one virtual register.
func mirFactories(fn *mir.Function) MIRFactories {
	assigned := make(map[mir.PhysReg]mir.VReg)
	return MIRFactories{
		BuildMI: func(op mir.Opcode, dst, src []mir.Operand) *mir.Instruction {
			return fn.NewInstruction(op, dst, src)
		},
		CreateVReg: func(class mir.RegClass) mir.VReg {
			return fn.NewVReg(class)
		},
		GetKernelArgReg: func(argName string) (mir.PhysReg, error) {
			if argName == "implicit_arg_ptr" {
				return mir.PhysReg{Class: mir.ClassScalar64, Index: 4}, nil
			}
			return mir.PhysReg{}, errUnknownKernelArg(argName)
		},
		GetPhysRegVReg: func(phys mir.PhysReg) mir.VReg {
			if v, ok := assigned[phys]; ok {
				return v
			}
			v := fn.NewVReg(phys.Class)
			assigned[phys] = v
			return v
		},
	}
}

// lowerIntrinsics is the MIR-level intrinsic lowering pass (spec.md §4.5
// step 6): it walks every block once, expanding both true intrinsic uses
// (inst.Op.Intrinsic set by readReg-style placeholders from hooks.go) and
// hook_call markers (resolved through hookSites, keyed by the marker's own
// Instruction.Index — the monotonic side-table convention spec.md §9
// recommends over pointer identity, since instruction selection below this
// pass doesn't preserve it).
func lowerIntrinsics(fn *mir.Function, hookSites map[int]hookSite) (map[int]loweredCall, error) {
	factories := mirFactories(fn)
	sideTable := make(map[int]loweredCall)

	for _, bb := range fn.Blocks {
		expanded := make([]*mir.Instruction, 0, len(bb.Instructions))
		for _, inst := range bb.Instructions {
			switch {
			case inst.Op.Mnemonic == hookCallMarker:
				site, ok := hookSites[inst.Index]
				if !ok {
					return nil, errUnknownHookSite(inst.Index)
				}
				call := fn.NewInstruction(mir.Opcode{Mnemonic: "s_call_b64"}, nil, append([]mir.Operand{{Kind: mir.OperandSymbol, Sym: site.DeviceFunction}}, site.Operands...))
				call.Comment = inst.Comment
				expanded = append(expanded, call)
				sideTable[inst.Index] = loweredCall{DeviceFunction: site.DeviceFunction, NumArgMoves: len(site.Operands)}

			case inst.Op.Intrinsic != mir.IntrinsicNone:
				entry, ok := intrinsicRegistry[inst.Op.Intrinsic]
				if !ok {
					return nil, errUnregisteredIntrinsic(inst.Op.Intrinsic)
				}
				info, err := entry.IR(inst)
				if err != nil {
					return nil, err
				}
				lowered, err := entry.MIR(factories, info, inst)
				if err != nil {
					return nil, err
				}
				expanded = append(expanded, lowered...)

			default:
				expanded = append(expanded, inst)
			}
		}
		bb.Instructions = expanded
	}

	return sideTable, nil
}
