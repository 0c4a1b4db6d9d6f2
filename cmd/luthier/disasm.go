package main

import (
	"flag"
	"fmt"

	"luthier/internal/disasm"
	"luthier/internal/output"
	"luthier/internal/symbol"
)

func cmdDisasm(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	objPath := fs.String("obj", "", "path to a relocatable AMDGPU code object")
	funcName := fs.String("func", "", "kernel or device function symbol name")
	outDir := fs.String("out", "", "write the listing under <dir>/asm instead of stdout")
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

	allSyms, err := lco.Symbols()
	if err != nil {
		return fmt.Errorf("classifying symbols: %w", err)
	}
	entryPoints := make(map[uint64]string, len(allSyms))
	for _, s := range allSyms {
		b := symbol.Of(s)
		entryPoints[b.ELFSym.Value] = b.Name
	}

	insts := disasm.Disassemble(code, disasm.Options{BaseAddr: base.ELFSym.Value})
	text := disasm.Format(insts, disasm.PlaceholderLookup(entryPoints))

	if *outDir == "" {
		fmt.Print(text)
		return nil
	}
	if err := output.WriteASM(*outDir, *funcName, insts, disasm.PlaceholderLookup(entryPoints)); err != nil {
		return fmt.Errorf("writing listing: %w", err)
	}
	fmt.Printf("wrote %s/asm/%s.txt\n", *outDir, *funcName)
	return nil
}
