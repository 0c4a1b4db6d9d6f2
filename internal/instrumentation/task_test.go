package instrumentation

import (
	"testing"

	"luthier/internal/mir"
)

func sampleLR() *mir.Function {
	fn := mir.NewFunction("vector_add", true)
	for i := 0; i < 3; i++ {
		fn.Entry.Instructions = append(fn.Entry.Instructions, fn.NewInstruction(mir.Opcode{Mnemonic: "s_nop"}, nil, nil))
	}
	return fn
}

func TestInsertHookBeforePreservesOrder(t *testing.T) {
	m := NewModule("counters")
	task := NewTask(m, sampleLR())

	if err := task.InsertHookBefore(HookPoint{BlockLabel: "vector_add.entry", InstIndex: 0}, HookHandle(0x1)); err != nil {
		t.Fatal(err)
	}
	if err := task.InsertHookBefore(HookPoint{BlockLabel: "vector_add.entry", InstIndex: 2}, HookHandle(0x2), Args{Kind: ArgModuleVariable, Value: "g_hit_count"}); err != nil {
		t.Fatal(err)
	}

	hooks := task.Hooks()
	if len(hooks) != 2 {
		t.Fatalf("len(hooks) = %d, want 2", len(hooks))
	}
	if hooks[0].Handle != HookHandle(0x1) || hooks[1].Handle != HookHandle(0x2) {
		t.Errorf("hooks out of insertion order: %+v", hooks)
	}
	if hooks[1].Args[0].Value != "g_hit_count" {
		t.Errorf("hook args not preserved: %+v", hooks[1].Args)
	}
}

func TestInsertHookBeforeRejectsZeroHandle(t *testing.T) {
	m := NewModule("counters")
	task := NewTask(m, sampleLR())
	if err := task.InsertHookBefore(HookPoint{BlockLabel: "vector_add.entry"}, HookHandle(0)); err == nil {
		t.Fatal("expected error for a zero hook handle")
	}
}

func TestInsertHookBeforeRejectsUnknownBlock(t *testing.T) {
	m := NewModule("counters")
	task := NewTask(m, sampleLR())
	if err := task.InsertHookBefore(HookPoint{BlockLabel: "does_not_exist"}, HookHandle(0x1)); err == nil {
		t.Fatal("expected error for an unknown block label")
	}
}

func TestInsertHookBeforeRejectsOutOfRangeIndex(t *testing.T) {
	m := NewModule("counters")
	task := NewTask(m, sampleLR())
	if err := task.InsertHookBefore(HookPoint{BlockLabel: "vector_add.entry", InstIndex: 99}, HookHandle(0x1)); err == nil {
		t.Fatal("expected error for an out-of-range instruction index")
	}
}

func TestHooksReturnsACopy(t *testing.T) {
	m := NewModule("counters")
	task := NewTask(m, sampleLR())
	if err := task.InsertHookBefore(HookPoint{BlockLabel: "vector_add.entry", InstIndex: 0}, HookHandle(0x1)); err != nil {
		t.Fatal(err)
	}

	hooks := task.Hooks()
	hooks[0].Handle = HookHandle(0xDEAD)

	if task.Hooks()[0].Handle != HookHandle(0x1) {
		t.Error("mutating the returned slice affected the Task's internal state")
	}
}
