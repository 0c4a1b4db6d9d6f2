package codegen

import (
	"fmt"

	"luthier/internal/instrumentation"
	"luthier/internal/mir"
	"luthier/internal/runtimeapi"
)

// hookCallMarker is the mnemonic applyHooks splices in for a queued hook
// insertion. It carries no encoded information itself — lowerIntrinsics's
// second pass recognizes it by this exact value and looks up what it
// stands for in the hookSites table, keyed by the placeholder's own
// Instruction.Index, the same side-table convention the two-stage
// intrinsic lowering below uses for its own placeholders.
const hookCallMarker = "hook.call"

// hookSite records what one hook_call placeholder expands into: a named
// device function resolved from the owning Module, called with its
// arguments already turned into concrete operands (a register argument has
// already been lowered through the readReg intrinsic placeholder inserted
// alongside it; see the ArgRegister case below).
type hookSite struct {
	DeviceFunction string
	Operands       []mir.Operand
}

// applyHooks materializes every hook in task's ordered plan against fn
// (spec.md §4.5 step 3): each Hook's handle is resolved through the
// Module's shadow-pointer table back to a device-function name, and the
// Module's bitcode for agent is fetched and confirmed present before a
// call-site is ever created — a hook whose bitcode was never registered for
// this agent fails here rather than producing a call to nothing. A Point's
// InstIndex names a position in the block as it was before any hook was
// spliced in, and hooks targeting the same point run in Task insertion
// order, all before that point's instruction.
func applyHooks(fn *mir.Function, task *instrumentation.Task, agent runtimeapi.AgentID) (map[int]hookSite, error) {
	sites := make(map[int]hookSite)
	if task == nil {
		return sites, nil
	}
	orig := make(map[*mir.BasicBlock][]*mir.Instruction)
	for _, hook := range task.Hooks() {
		bb, err := fn.BlockByLabel(hook.Point.BlockLabel)
		if err != nil {
			return nil, err
		}
		if _, ok := orig[bb]; !ok {
			orig[bb] = append([]*mir.Instruction(nil), bb.Instructions...)
		}
		idx := hook.Point.InstIndex
		if idx < 0 || idx > len(orig[bb]) {
			return nil, fmt.Errorf("codegen: hook target index %d out of range for block %q (len %d)", idx, bb.Label, len(orig[bb]))
		}

		deviceFn, ok := task.Module.DeviceFunctionForShadow(agent, uintptr(hook.Handle))
		if !ok {
			return nil, fmt.Errorf("codegen: hook handle %#x not registered with module %q on agent %d", uintptr(hook.Handle), task.Module.Name, agent)
		}
		if _, err := task.Module.Bitcode(agent); err != nil {
			return nil, fmt.Errorf("codegen: materializing hook %q: %w", deviceFn, err)
		}

		operands, pre, err := lowerHookArgOperands(fn, hook.Args)
		if err != nil {
			return nil, err
		}

		placeholder := fn.NewInstruction(mir.Opcode{Mnemonic: hookCallMarker}, nil, nil)
		placeholder.Comment = "hook: " + deviceFn
		sites[placeholder.Index] = hookSite{DeviceFunction: deviceFn, Operands: operands}

		pos := len(bb.Instructions)
		if idx < len(orig[bb]) {
			for j, inst := range bb.Instructions {
				if inst == orig[bb][idx] {
					pos = j
					break
				}
			}
		}
		inserted := append(pre, placeholder)
		for j, inst := range inserted {
			bb.InsertBefore(pos+j, inst)
		}
	}
	return sites, nil
}

// lowerHookArgOperands turns a Hook's declared Args into concrete operands
// for the eventual call, and the instructions (if any) that must precede
// it. A register argument is not read directly: it becomes a readReg
// intrinsic placeholder (spec.md §4.5 step 3 — "physical-register
// arguments become calls to readReg-style intrinsics whose operand is the
// register designator"), resolved for real by lowerIntrinsics's second
// pass alongside every other intrinsic use.
func lowerHookArgOperands(fn *mir.Function, args []instrumentation.Args) ([]mir.Operand, []*mir.Instruction, error) {
	operands := make([]mir.Operand, len(args))
	var pre []*mir.Instruction
	for i, a := range args {
		switch a.Kind {
		case instrumentation.ArgRegister:
			phys, err := parsePhysReg(a.Value)
			if err != nil {
				return nil, nil, err
			}
			vreg := fn.NewVReg(phys.Class)
			read := fn.NewInstruction(
				mir.Opcode{Mnemonic: "intrinsic." + mir.IntrinsicReadReg.String(), Intrinsic: mir.IntrinsicReadReg},
				[]mir.Operand{{Kind: mir.OperandVReg, Reg: vreg}},
				[]mir.Operand{{Kind: mir.OperandPhysReg, Phys: phys}},
			)
			pre = append(pre, read)
			operands[i] = mir.Operand{Kind: mir.OperandVReg, Reg: vreg}
		case instrumentation.ArgImmediate:
			imm, err := parseImmediate(a.Value)
			if err != nil {
				return nil, nil, err
			}
			operands[i] = mir.Operand{Kind: mir.OperandImm, Imm: imm}
		case instrumentation.ArgModuleVariable:
			operands[i] = mir.Operand{Kind: mir.OperandSymbol, Sym: a.Value}
		default:
			return nil, nil, fmt.Errorf("codegen: unrecognized hook argument kind %d", a.Kind)
		}
	}
	return operands, pre, nil
}

// parsePhysReg parses a register designator ("s4", "v12") into a PhysReg.
func parsePhysReg(designator string) (mir.PhysReg, error) {
	if len(designator) < 2 {
		return mir.PhysReg{}, fmt.Errorf("codegen: invalid register designator %q", designator)
	}
	var class mir.RegClass
	switch designator[0] {
	case 's':
		class = mir.ClassScalar32
	case 'v':
		class = mir.ClassVector32
	default:
		return mir.PhysReg{}, fmt.Errorf("codegen: unrecognized register designator %q", designator)
	}
	var idx int64
	if _, err := fmt.Sscanf(designator[1:], "%d", &idx); err != nil {
		return mir.PhysReg{}, fmt.Errorf("codegen: invalid register index in %q: %w", designator, err)
	}
	return mir.PhysReg{Class: class, Index: idx}, nil
}

func parseImmediate(value string) (int64, error) {
	var imm int64
	if _, err := fmt.Sscanf(value, "%d", &imm); err != nil {
		return 0, fmt.Errorf("codegen: invalid immediate %q: %w", value, err)
	}
	return imm, nil
}
