package main

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"luthier/internal/instrumentation"
	"luthier/internal/output"
	"luthier/internal/runtimeapi"
)

// cliAgent is the synthetic agent identifier loadObject registers a code
// object's lone LCO under; these commands run without a live GPU runtime
// attached, so there is never more than one agent to address.
const cliAgent = runtimeapi.AgentID(1)

// shadowForHook derives a stable, non-zero host shadow pointer for a
// device-function name, standing in for the pointer value a real
// function-register callback would hand the runtime. A CLI invocation has
// no running process to mint one from, so the name itself is hashed.
func shadowForHook(name string) uintptr {
	h := fnv.New64a()
	h.Write([]byte(name))
	sum := h.Sum64()
	if sum == 0 {
		sum = 1
	}
	return uintptr(sum)
}

func cmdInstrument(args []string) error {
	fs := flag.NewFlagSet("instrument", flag.ExitOnError)
	objPath := fs.String("obj", "", "path to a relocatable AMDGPU code object")
	funcName := fs.String("func", "", "kernel symbol name to instrument")
	hook := fs.String("hook", "", "device function to call at the hook point")
	hookBitcode := fs.String("hook-bitcode", "", "path to the compiled bitcode defining --hook")
	block := fs.String("block", "", "block label to insert before (default: function entry)")
	at := fs.Int("at", 0, "instruction position within the block to insert before")
	moduleName := fs.String("module", "instrumentation", "instrumentation module name")
	isaID := fs.String("isa", defaultISA, "target ISA identifier")
	outDir := fs.String("out", "", "write the instrumented object under <dir>/obj instead of stdout size only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *objPath == "" || *funcName == "" || *hook == "" || *hookBitcode == "" {
		return fmt.Errorf("--obj, --func, --hook and --hook-bitcode are required")
	}

	bitcode, err := os.ReadFile(*hookBitcode)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *hookBitcode, err)
	}

	_, lco, err := loadObject(*objPath)
	if err != nil {
		return err
	}

	l := newLifter()
	fn, err := l.Lift(lco, *funcName)
	if err != nil {
		return fmt.Errorf("lifting %q: %w", *funcName, err)
	}

	blockLabel := *block
	if blockLabel == "" {
		blockLabel = fn.Entry.Label
	}

	module := instrumentation.NewModule(*moduleName)
	module.SetBitcode(cliAgent, bitcode)
	shadow := shadowForHook(*hook)
	module.RegisterHookShadow(cliAgent, shadow, *hook)

	task := instrumentation.NewTask(module, fn)
	point := instrumentation.HookPoint{BlockLabel: blockLabel, InstIndex: *at}
	if err := task.InsertHookBefore(point, instrumentation.HookHandle(shadow)); err != nil {
		return fmt.Errorf("planning hook insertion: %w", err)
	}

	target, err := targetInfo(*isaID)
	if err != nil {
		return err
	}

	g := newGenerator(target)
	result, err := g.Generate(task, cliAgent)
	if err != nil {
		return fmt.Errorf("generating instrumented object: %w", err)
	}

	fmt.Printf("instrumented %q: %d blocks, %d bytes\n", *funcName, len(result.Function.Blocks), len(result.Object))

	if *outDir == "" {
		return nil
	}
	if err := output.WriteObject(*outDir, *funcName, result.Object); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	fmt.Printf("wrote %s/obj/%s.o\n", *outDir, *funcName)
	return nil
}
