package main

import (
	"flag"
	"fmt"

	"luthier/internal/lrgraph"
	"luthier/internal/mir"
	"luthier/internal/output"
	"luthier/internal/render"
	"luthier/internal/symbol"
)

func cmdCallgraph(args []string) error {
	fs := flag.NewFlagSet("callgraph", flag.ExitOnError)
	objPath := fs.String("obj", "", "path to a relocatable AMDGPU code object")
	outDir := fs.String("out", "", "write the DOT under <dir>/graphs instead of stdout")
	maxNodes := fs.Int("max-nodes", 200, "cap on rendered nodes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *objPath == "" {
		return fmt.Errorf("--obj is required")
	}

	_, lco, err := loadObject(*objPath)
	if err != nil {
		return err
	}

	syms, err := lco.Symbols()
	if err != nil {
		return fmt.Errorf("classifying symbols: %w", err)
	}

	l := newLifter()
	var funcs []*mir.Function
	for _, s := range syms {
		if s.Kind() != symbol.KindKernel && s.Kind() != symbol.KindDeviceFunction {
			continue
		}
		name := symbol.Of(s).Name
		fn, err := l.Lift(lco, name)
		if err != nil {
			fmt.Printf("skipping %s: %v\n", name, err)
			continue
		}
		funcs = append(funcs, fn)
	}
	if len(funcs) == 0 {
		return fmt.Errorf("no kernel or device function could be lifted from %s", *objPath)
	}

	g := lrgraph.BuildCallGraph(funcs)
	stats := render.ComputeStats(g)
	fmt.Printf("functions=%d edges=%d unresolved=%d\n", stats.TotalFunctions, stats.TotalEdges, stats.Unresolved)
	for _, nc := range stats.TopCallers {
		fmt.Printf("  caller %-30s %d\n", nc.Name, nc.Count)
	}

	dot := render.CallgraphDOT(g, *objPath, render.NASA, *maxNodes)
	if *outDir == "" {
		fmt.Print(dot)
		return nil
	}
	if err := output.WriteDOT(*outDir, "callgraph", dot); err != nil {
		return fmt.Errorf("writing DOT: %w", err)
	}
	fmt.Printf("wrote %s/graphs/callgraph.dot\n", *outDir)
	return nil
}
