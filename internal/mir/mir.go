// Package mir is the Lifted Representation's backing data model: a
// lightweight, mutable machine-IR the Code Lifter builds from
// disassembled instructions and the Code Generator later mutates in place.
//
// There is no real LLVM or MIR binding available in Go, so this package is
// a from-scratch, minimal IR shaped to exactly what the core needs:
// functions made of basic blocks made of instructions, plus the side-table
// two-stage intrinsic lowering needs because MIR instructions carry no
// stable pointer identity once generated.
package mir

import (
	"fmt"

	"luthier/internal/disasm"
	"luthier/internal/runtimeapi"
)

// Opcode is either a concrete target instruction (copied in from gcn.Inst)
// or one of the core's own intrinsic placeholders, inserted by
// instrumentation and resolved by the Code Generator's lowering pass.
type Opcode struct {
	Mnemonic  string
	Intrinsic IntrinsicID // zero value means "not an intrinsic"
}

// IntrinsicID names a hook-point intrinsic recognized by the Code
// Generator's intrinsic-lowering registry.
type IntrinsicID int

// These mirror the Code Generator's built-in intrinsic registry
// (internal/codegen/intrinsics.go): the names a hook body's intrinsic calls
// resolve to, before IR-level lowering turns each use into an inline-asm
// placeholder keyed by Instruction.Index for the later MIR-level pass.
const (
	IntrinsicNone IntrinsicID = iota
	IntrinsicReadReg
	IntrinsicWriteReg
	IntrinsicWriteExec
	IntrinsicImplicitArgPtr
	IntrinsicWorkgroupIDX
	IntrinsicWorkgroupIDY
	IntrinsicWorkgroupIDZ
	IntrinsicSAtomicAdd
)

func (id IntrinsicID) String() string {
	switch id {
	case IntrinsicReadReg:
		return "readReg"
	case IntrinsicWriteReg:
		return "writeReg"
	case IntrinsicWriteExec:
		return "writeExec"
	case IntrinsicImplicitArgPtr:
		return "implicitArgPtr"
	case IntrinsicWorkgroupIDX:
		return "workgroupIdX"
	case IntrinsicWorkgroupIDY:
		return "workgroupIdY"
	case IntrinsicWorkgroupIDZ:
		return "workgroupIdZ"
	case IntrinsicSAtomicAdd:
		return "sAtomicAdd"
	default:
		return "none"
	}
}

// Operand is a MIR operand: a physical register as lifted from the
// original code, a virtual register minted by the Code Generator's
// register-virtualization pass, an immediate, or a symbol reference.
type Operand struct {
	Kind    OperandKind
	Reg     VReg
	Phys    PhysReg
	Imm     int64
	Sym     string
}

// OperandKind discriminates Operand's payload.
type OperandKind int

const (
	OperandPhysReg OperandKind = iota
	OperandVReg
	OperandImm
	OperandSymbol
)

// PhysReg names a concrete hardware register, exactly as read out of the
// original instruction stream. The Code Generator's virtualization pass
// replaces these with VRegs for the duration of mutation, then reassigns
// physical locations when printing the final object.
type PhysReg struct {
	Class RegClass
	Index int64
}

// VReg is a virtual register, unique within its owning Function until the
// Code Generator's register-virtualization pass assigns it a physical
// location.
type VReg struct {
	ID    int
	Class RegClass
}

// RegClass mirrors isa.RegClass without importing the isa package, keeping
// mir free of a dependency on target description.
type RegClass int

const (
	ClassScalar32 RegClass = iota
	ClassScalar64
	ClassVector32
	ClassVector64
)

// Instruction is one MIR instruction inside a BasicBlock. Index is a
// monotonically increasing identity assigned at insertion time; it is the
// side-table key the two-stage intrinsic lowering pass uses once real
// instruction-selection output has replaced the original pointer-stable
// placeholder — no pointer identity survives selection, so a monotonic
// index side-table stands in for it.
type Instruction struct {
	Index   int
	Op      Opcode
	Dst     []Operand
	Src     []Operand
	Comment string

	// Record is the disassembled instruction this MI was lifted from, or
	// nil for an instruction the Code Generator or Instrumentation Task
	// inserted after the fact (a hook call, an intrinsic placeholder, a
	// lowered argument move). It is the Lift-to-source map: a caller
	// holding an Instruction can always recover the bytes and address it
	// came from without a side channel.
	Record *disasm.Inst
}

// BasicBlock is a straight-line run of Instructions with explicit successor
// edges, the unit the Code Lifter's CFG recovery (internal/disasm) and the
// Code Generator's hook materialization both operate on.
type BasicBlock struct {
	Label        string
	StartAddr    uint64
	Instructions []*Instruction
	Succs        []*BasicBlock
	Preds        []*BasicBlock
}

// InsertBefore splices inst immediately before the instruction at position
// idx (by slice position, not Index), shifting later instructions down —
// the primitive the Instrumentation Task's InsertHookBefore op compiles
// down to.
func (b *BasicBlock) InsertBefore(idx int, inst *Instruction) {
	b.Instructions = append(b.Instructions, nil)
	copy(b.Instructions[idx+1:], b.Instructions[idx:])
	b.Instructions[idx] = inst
}

// Function is one kernel or device function's lifted body.
type Function struct {
	Name        string
	IsKernel    bool
	Blocks      []*BasicBlock
	Entry       *BasicBlock
	nextVReg    int
	nextInstIdx int
	PrivateSize uint32
	GroupSize   uint32

	// byAddr maps a lifted instruction's original device address back to
	// the Instruction it produced. Index alone survives past selection for
	// intrinsic lowering (see Instruction's doc comment), but the address
	// map is what lets relocation resolution and reachability analysis
	// during lifting ask "what MI is at address X" while the Lifted
	// Representation is still being built.
	byAddr map[uint64]*Instruction
}

// NewFunction constructs an empty Function with a single entry block.
func NewFunction(name string, isKernel bool) *Function {
	entry := &BasicBlock{Label: name + ".entry"}
	return &Function{Name: name, IsKernel: isKernel, Blocks: []*BasicBlock{entry}, Entry: entry, byAddr: make(map[uint64]*Instruction)}
}

// NewVReg allocates a fresh virtual register unique to this function.
func (f *Function) NewVReg(class RegClass) VReg {
	f.nextVReg++
	return VReg{ID: f.nextVReg, Class: class}
}

// NewInstruction allocates an Instruction with the next monotonic index.
func (f *Function) NewInstruction(op Opcode, dst, src []Operand) *Instruction {
	f.nextInstIdx++
	return &Instruction{Index: f.nextInstIdx, Op: op, Dst: dst, Src: src}
}

// BlockByLabel resolves a basic block by its Label within fn, the lookup
// both the Code Generator's hook materialization and the Instrumentation
// Task's insertion-point validation use: block labels (unlike slice
// positions) stay stable across Clone, so they are what a Task built
// against one Function can still resolve against a generator's later clone
// of it.
func (f *Function) BlockByLabel(label string) (*BasicBlock, error) {
	for _, bb := range f.Blocks {
		if bb.Label == label {
			return bb, nil
		}
	}
	return nil, fmt.Errorf("mir: no block named %q in function %q", label, f.Name)
}

// AddBlock appends a new named basic block and returns it.
func (f *Function) AddBlock(label string, startAddr uint64) *BasicBlock {
	bb := &BasicBlock{Label: label, StartAddr: startAddr}
	f.Blocks = append(f.Blocks, bb)
	return bb
}

// BindRecord records that inst was lifted from the disassembled instruction
// record rec, addressable by rec.Addr via InstructionAtAddr. It also sets
// inst.Record so the back-reference survives independent of the side table
// (e.g. after the instruction has been moved into a clone).
func (f *Function) BindRecord(inst *Instruction, rec *disasm.Inst) {
	inst.Record = rec
	if f.byAddr == nil {
		f.byAddr = make(map[uint64]*Instruction)
	}
	f.byAddr[rec.Addr] = inst
}

// InstructionAtAddr looks up the MI lifted from the instruction at the
// given original device address, the bidirectional half of the MI<->record
// map that Record provides in the other direction.
func (f *Function) InstructionAtAddr(addr uint64) (*Instruction, bool) {
	inst, ok := f.byAddr[addr]
	return inst, ok
}

// Variable is a module-scope global the Instrumentation Module can define
// and the Code Lifter's external-symbol resolution binds to a per-agent
// device address.
type Variable struct {
	Name string
	Size uint64
}

// Module is the lifted unit for one LCO: its functions and any
// module-scope variables the lifter discovered while walking symbols.
type Module struct {
	LCO       runtimeapi.LoadedCodeObjectID
	Functions []*Function
	Variables []*Variable
}

// FunctionByName looks up a lifted function by its original symbol name.
func (m *Module) FunctionByName(name string) (*Function, bool) {
	for _, f := range m.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Clone deep-copies a Function so the Code Generator can mutate a private
// copy of the Lifted Representation without disturbing the Code Lifter's
// cached original.
func (f *Function) Clone() *Function {
	cp := &Function{
		Name:        f.Name,
		IsKernel:    f.IsKernel,
		nextVReg:    f.nextVReg,
		nextInstIdx: f.nextInstIdx,
		PrivateSize: f.PrivateSize,
		GroupSize:   f.GroupSize,
		byAddr:      make(map[uint64]*Instruction, len(f.byAddr)),
	}
	blockMap := make(map[*BasicBlock]*BasicBlock, len(f.Blocks))
	instMap := make(map[*Instruction]*Instruction, len(f.byAddr))
	for _, bb := range f.Blocks {
		nb := &BasicBlock{Label: bb.Label, StartAddr: bb.StartAddr}
		nb.Instructions = make([]*Instruction, len(bb.Instructions))
		for i, inst := range bb.Instructions {
			instCopy := *inst
			instCopy.Dst = append([]Operand(nil), inst.Dst...)
			instCopy.Src = append([]Operand(nil), inst.Src...)
			nb.Instructions[i] = &instCopy
			instMap[inst] = &instCopy
		}
		blockMap[bb] = nb
		cp.Blocks = append(cp.Blocks, nb)
	}
	for _, bb := range f.Blocks {
		nb := blockMap[bb]
		for _, s := range bb.Succs {
			nb.Succs = append(nb.Succs, blockMap[s])
		}
		for _, p := range bb.Preds {
			nb.Preds = append(nb.Preds, blockMap[p])
		}
	}
	if f.Entry != nil {
		cp.Entry = blockMap[f.Entry]
	}
	for addr, inst := range f.byAddr {
		if copied, ok := instMap[inst]; ok {
			cp.byAddr[addr] = copied
		}
	}
	return cp
}
