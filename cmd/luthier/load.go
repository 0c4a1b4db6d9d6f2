package main

import (
	"flag"
	"fmt"
	"os"

	"luthier/internal/loader"
	"luthier/internal/runtimeapi"
)

// cmdLoad demonstrates the Tool Executable Loader's dispatch-packet
// rewrite: it loads an original object and an already-instrumented object
// (built by "luthier instrument") into a fake runtime, then shows how a
// launch's dispatch packet is redirected to the instrumented build.
func cmdLoad(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	origPath := fs.String("orig", "", "path to the original code object")
	instrPath := fs.String("instrumented", "", "path to the instrumented code object")
	funcName := fs.String("func", "", "kernel symbol name")
	preset := fs.String("preset", "default", "preset label for the instrumented build")
	privateSize := fs.Int("private-size", 0, "instrumented kernel's private segment size")
	groupSize := fs.Int("group-size", 0, "instrumented kernel's group segment size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *origPath == "" || *instrPath == "" || *funcName == "" {
		return fmt.Errorf("--orig, --instrumented and --func are required")
	}

	origData, err := os.ReadFile(*origPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *origPath, err)
	}
	instrData, err := os.ReadFile(*instrPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *instrPath, err)
	}

	fake := runtimeapi.NewFake()
	agent := runtimeapi.AgentID(1)

	origExec, err := fake.CoreAPI().CreateExecutable(agent)
	if err != nil {
		return fmt.Errorf("creating original executable: %w", err)
	}
	if _, err := fake.CoreAPI().LoadCodeObject(origExec, agent, origData); err != nil {
		return fmt.Errorf("loading original object: %w", err)
	}
	if err := fake.CoreAPI().FreezeExecutable(origExec); err != nil {
		return fmt.Errorf("freezing original executable: %w", err)
	}
	origAddr, err := fake.CoreAPI().GetSymbolAddress(origExec, *funcName)
	if err != nil {
		return fmt.Errorf("resolving original kernel address: %w", err)
	}

	l := loader.New(fake.CoreAPI(), nil)
	instrExec, err := l.LoadInstrumentedKernel(origExec, agent, *funcName, *preset, instrData, uint32(*privateSize), uint32(*groupSize))
	if err != nil {
		return fmt.Errorf("loading instrumented kernel: %w", err)
	}

	packet := &runtimeapi.DispatchPacket{KernelObject: origAddr}
	if err := l.OverrideWithInstrumented(packet, origExec, *funcName, *preset); err != nil {
		return fmt.Errorf("rewriting dispatch packet: %w", err)
	}

	fmt.Printf("original kernel object:     0x%x\n", origAddr)
	fmt.Printf("instrumented executable id: %d\n", instrExec)
	fmt.Printf("rewritten kernel object:    0x%x\n", packet.KernelObject)
	fmt.Printf("private segment size:       %d\n", packet.PrivateSegmentSize)
	fmt.Printf("group segment size:         %d\n", packet.GroupSegmentSize)

	if err := l.DestroyDependents(origExec); err != nil {
		return fmt.Errorf("tearing down dependents: %w", err)
	}
	fmt.Println("torn down instrumented build with the original executable")
	return nil
}
