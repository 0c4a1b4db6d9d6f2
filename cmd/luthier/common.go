package main

import (
	"fmt"
	"os"

	"luthier/internal/codegen"
	"luthier/internal/codeobject"
	"luthier/internal/isa"
	"luthier/internal/lifter"
	"luthier/internal/runtimeapi"
)

// defaultISA is the target ISA used when a command does not override
// --isa. "gfx942" is the generation this core is primarily exercised
// against; see internal/isa for the accepted identifier pattern.
const defaultISA = "gfx942"

// loadObject reads a code object from disk and registers it in a
// fresh, single-entry Code-Object Cache under synthetic runtime
// identifiers, since these commands run without a live GPU runtime
// attached.
func loadObject(path string) (*codeobject.Cache, *codeobject.LCO, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cache := codeobject.NewCache()
	lco, err := cache.Register(runtimeapi.LoadedCodeObjectID(1), runtimeapi.ExecutableID(1), runtimeapi.AgentID(1), data)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cache, lco, nil
}

// targetInfo resolves the named ISA via the Target Manager.
func targetInfo(id string) (*isa.TargetInfo, error) {
	mgr := isa.NewManager()
	ti, err := mgr.GetTargetInfo(isa.ID(id))
	if err != nil {
		return nil, fmt.Errorf("resolving ISA %q: %w", id, err)
	}
	return ti, nil
}

// newLifter constructs a Code Lifter with logging discarded, matching
// what every one of these single-shot CLI invocations needs: a lift
// pass whose coalescing and caching buy nothing across a single
// process lifetime.
func newLifter() *lifter.CodeLifter {
	return lifter.New(nil)
}

// newGenerator constructs a Code Generator with logging discarded.
func newGenerator(target *isa.TargetInfo) *codegen.Generator {
	return codegen.New(target, nil)
}
