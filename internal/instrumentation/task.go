package instrumentation

import (
	"luthier/internal/luthiererr"
	"luthier/internal/mir"
)

// Args binds a hook's formal parameters to values drawn from the
// instrumented kernel's own context: a register, an immediate, or a
// reference to one of the owning Module's bound variables.
type Args struct {
	Kind  ArgKind
	Value string // register name, immediate literal, or variable name, per Kind
}

// ArgKind discriminates Args.Value's meaning.
type ArgKind int

const (
	ArgRegister ArgKind = iota
	ArgImmediate
	ArgModuleVariable
)

// HookPoint names where, within a function, a hook fires.
type HookPoint struct {
	BlockLabel string
	InstIndex  int // position within the block's instruction slice, not mir.Instruction.Index
}

// HookHandle identifies a hook function by its host-side shadow pointer —
// the value an instrumentation author's `__luthier_hook_handle_*`-prefixed
// export resolves to once the runtime's function-register callback fires
// (spec.md §6, §4.6) — rather than by a device-function name string the
// author could misspell independently of what the Module actually
// registered.
type HookHandle uintptr

// Hook describes one instrumentation insertion: call the device function
// Handle resolves to (a symbol defined in the owning Module's bitcode)
// with the given arguments, spliced in immediately before the instruction
// named by Point. Handle is resolved against the Module at materialization
// time, not at insertion time, since which agent is being generated for
// isn't known until then.
type Hook struct {
	Point  HookPoint
	Handle HookHandle
	Args   []Args
}

// Task is the ordered, deferred mutation plan: a pure plan materialized
// later by the Code Generator. An instrumentation author builds a Task
// against a specific Lifted Representation and only describes *what* to
// insert and *where*; nothing is applied to it until the Code Generator
// clones it and runs the plan. Only insertion before an instruction is
// supported — there is deliberately no InsertHookAfter, since "after
// instruction N" and "before instruction N+1" are the same point and one
// spelling is enough.
type Task struct {
	Module *Module
	LR     *mir.Function
	hooks  []Hook
}

// NewTask creates an empty Task targeting lr, to be materialized against a
// clone of lr by the Code Generator later.
func NewTask(module *Module, lr *mir.Function) *Task {
	return &Task{Module: module, LR: lr}
}

// InsertHookBefore appends a hook insertion to the plan. Point is
// validated against the Task's own Lifted Representation immediately —
// an unknown block label or an out-of-range instruction index is rejected
// here rather than deferred to the Code Generator run. Order matters:
// hooks are materialized in the order they were inserted, and multiple
// hooks targeting the same Point stack up immediately before that
// instruction in insertion order.
func (t *Task) InsertHookBefore(point HookPoint, handle HookHandle, args ...Args) error {
	if handle == 0 {
		return luthiererr.New(luthiererr.LoweringError, "instrumentation: hook handle is zero")
	}
	bb, err := t.LR.BlockByLabel(point.BlockLabel)
	if err != nil {
		return luthiererr.Wrap(luthiererr.LoweringError, err, "instrumentation: resolving hook insertion point")
	}
	if point.InstIndex < 0 || point.InstIndex > len(bb.Instructions) {
		return luthiererr.New(luthiererr.LoweringError, "instrumentation: hook index %d out of range for block %q (len %d)", point.InstIndex, bb.Label, len(bb.Instructions))
	}
	t.hooks = append(t.hooks, Hook{Point: point, Handle: handle, Args: args})
	return nil
}

// Hooks returns the ordered list of planned hook insertions.
func (t *Task) Hooks() []Hook {
	return append([]Hook(nil), t.hooks...)
}
