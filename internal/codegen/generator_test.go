package codegen

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"luthier/internal/codeobject"
	"luthier/internal/instrumentation"
	"luthier/internal/isa"
	"luthier/internal/isa/gcn"
	"luthier/internal/lifter"
	"luthier/internal/mir"
	"luthier/internal/objwriter"
	"luthier/internal/runtimeapi"
)

const testAgent runtimeapi.AgentID = 1

func kernelDescriptorBytes(groupSize, privateSize, kernargSize uint32) []byte {
	kd := make([]byte, 64)
	binary.LittleEndian.PutUint32(kd[0:4], groupSize)
	binary.LittleEndian.PutUint32(kd[4:8], privateSize)
	binary.LittleEndian.PutUint32(kd[8:12], kernargSize)
	return kd
}

func sampleKernelObject() []byte {
	code := append(gcn.EncodeSOPP(0, 0), gcn.EncodeSOPP(1, 0)...) // s_nop; s_endpgm
	return objwriter.Build(objwriter.Options{
		Text: code,
		Data: kernelDescriptorBytes(0, 0, 16),
		Symbols: []objwriter.SymbolSpec{
			{Name: "vector_add", Size: uint64(len(code)), Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Defined: true},
			{Name: "vector_add.kd", Value: uint64(len(code)), Size: 64, Bind: elf.STB_LOCAL, Type: elf.STT_OBJECT, Defined: true},
		},
	})
}

func liftedSample(t *testing.T) *mir.Function {
	t.Helper()
	cache := codeobject.NewCache()
	lco, err := cache.Register(1, 100, 7, sampleKernelObject())
	if err != nil {
		t.Fatal(err)
	}
	l := lifter.New(nil)
	fn, err := l.Lift(lco, "vector_add")
	if err != nil {
		t.Fatal(err)
	}
	return fn
}

func testTarget(t *testing.T) *isa.TargetInfo {
	t.Helper()
	mgr := isa.NewManager()
	ti, err := mgr.GetTargetInfo("gfx942")
	if err != nil {
		t.Fatal(err)
	}
	return ti
}

// moduleWithHook builds a Module with a registered device-function bitcode
// and a hook shadow pointing at it, returning the Module and the handle a
// Task's InsertHookBefore expects.
func moduleWithHook(deviceFn string) (*instrumentation.Module, instrumentation.HookHandle) {
	module := instrumentation.NewModule("counters")
	module.SetBitcode(testAgent, []byte{0x42, 0x43, 0x0b, 0x17, 0xc0, 0xde})
	const shadow = 0xC0FFEE
	module.RegisterHookShadow(testAgent, shadow, deviceFn)
	return module, instrumentation.HookHandle(shadow)
}

func TestGenerateWithNoHooksPrintsParsableObject(t *testing.T) {
	fn := liftedSample(t)
	g := New(testTarget(t), nil)
	task := instrumentation.NewTask(instrumentation.NewModule("empty"), fn)

	result, err := g.Generate(task, testAgent)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := elf.NewFile(bytes.NewReader(result.Object)); err != nil {
		t.Fatalf("printed object did not parse as ELF: %v", err)
	}
}

func TestGenerateAppliesHookAndLowersCall(t *testing.T) {
	fn := liftedSample(t)
	g := New(testTarget(t), nil)

	module, handle := moduleWithHook("trace_entry")
	task := instrumentation.NewTask(module, fn)
	if err := task.InsertHookBefore(instrumentation.HookPoint{BlockLabel: fn.Entry.Label, InstIndex: 0}, handle); err != nil {
		t.Fatal(err)
	}

	result, err := g.Generate(task, testAgent)
	if err != nil {
		t.Fatal(err)
	}

	var sawCall bool
	for _, inst := range result.Function.Entry.Instructions {
		if inst.Op.Mnemonic == "s_call_b64" {
			sawCall = true
			if len(inst.Src) == 0 || inst.Src[0].Sym != "trace_entry" {
				t.Errorf("call operands = %+v, want first operand naming trace_entry", inst.Src)
			}
		}
	}
	if !sawCall {
		t.Error("hook was not lowered to a call instruction")
	}

	if _, err := elf.NewFile(bytes.NewReader(result.Object)); err != nil {
		t.Fatalf("printed object did not parse as ELF: %v", err)
	}
}

func TestGenerateAppliesHookWithRegisterArg(t *testing.T) {
	fn := liftedSample(t)
	g := New(testTarget(t), nil)

	module, handle := moduleWithHook("trace_reg")
	task := instrumentation.NewTask(module, fn)
	err := task.InsertHookBefore(
		instrumentation.HookPoint{BlockLabel: fn.Entry.Label, InstIndex: 0},
		handle,
		instrumentation.Args{Kind: instrumentation.ArgRegister, Value: "s4"},
	)
	if err != nil {
		t.Fatal(err)
	}

	result, err := g.Generate(task, testAgent)
	if err != nil {
		t.Fatal(err)
	}

	var sawReadReg bool
	for _, inst := range result.Function.Entry.Instructions {
		if inst.Op.Mnemonic == "s_mov_b32" {
			for _, src := range inst.Src {
				if src.Kind == mir.OperandPhysReg && src.Phys.Index == 4 {
					sawReadReg = true
				}
			}
		}
	}
	if !sawReadReg {
		t.Error("register hook argument was not lowered through a readReg move")
	}
}

func TestGenerateRejectsUnresolvedHandle(t *testing.T) {
	fn := liftedSample(t)
	g := New(testTarget(t), nil)

	module := instrumentation.NewModule("counters")
	task := instrumentation.NewTask(module, fn)
	if err := task.InsertHookBefore(instrumentation.HookPoint{BlockLabel: fn.Entry.Label, InstIndex: 0}, instrumentation.HookHandle(0xDEAD)); err != nil {
		t.Fatal(err)
	}

	if _, err := g.Generate(task, testAgent); err == nil {
		t.Fatal("expected an error for a hook handle the Module never registered")
	}
}

func TestGenerateDoesNotMutateOriginal(t *testing.T) {
	fn := liftedSample(t)
	originalLen := len(fn.Entry.Instructions)

	g := New(testTarget(t), nil)
	module, handle := moduleWithHook("trace_entry")
	task := instrumentation.NewTask(module, fn)
	if err := task.InsertHookBefore(instrumentation.HookPoint{BlockLabel: fn.Entry.Label, InstIndex: 0}, handle); err != nil {
		t.Fatal(err)
	}

	if _, err := g.Generate(task, testAgent); err != nil {
		t.Fatal(err)
	}
	if len(fn.Entry.Instructions) != originalLen {
		t.Errorf("Generate mutated the original Function: len = %d, want %d", len(fn.Entry.Instructions), originalLen)
	}
}

func TestFindBlockMissingLabel(t *testing.T) {
	fn := liftedSample(t)
	if _, err := findBlock(fn, "does_not_exist"); err == nil {
		t.Fatal("expected error for missing block label")
	}
}
