package main

import (
	"flag"
	"fmt"

	"luthier/internal/disasm"
	"luthier/internal/output"
	"luthier/internal/render"
	"luthier/internal/symbol"
)

func cmdCFG(args []string) error {
	fs := flag.NewFlagSet("cfg", flag.ExitOnError)
	objPath := fs.String("obj", "", "path to a relocatable AMDGPU code object")
	funcName := fs.String("func", "", "kernel or device function symbol name")
	outDir := fs.String("out", "", "write the DOT under <dir>/graphs instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *objPath == "" || *funcName == "" {
		return fmt.Errorf("--obj and --func are required")
	}

	_, lco, err := loadObject(*objPath)
	if err != nil {
		return err
	}

	sym, err := lco.SymbolByName(*funcName)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", *funcName, err)
	}
	base := symbol.Of(sym)
	if base.Size == 0 {
		return fmt.Errorf("%q has zero size, nothing to disassemble", *funcName)
	}

	code, err := lco.ELF.ReadBytesAtVA(base.ELFSym.Value, int(base.Size))
	if err != nil {
		return fmt.Errorf("reading code for %q: %w", *funcName, err)
	}

	insts := disasm.Disassemble(code, disasm.Options{BaseAddr: base.ELFSym.Value})
	cfg := disasm.BuildCFG(*funcName, insts)
	dot := render.CFGDOT(cfg, render.NASA)

	if *outDir == "" {
		fmt.Print(dot)
		return nil
	}
	if err := output.WriteDOT(*outDir, *funcName, dot); err != nil {
		return fmt.Errorf("writing DOT: %w", err)
	}
	fmt.Printf("wrote %s/graphs/%s.dot\n", *outDir, *funcName)
	return nil
}
