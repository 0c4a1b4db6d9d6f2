package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"luthier/internal/symbol"
)

func cmdSymbols(args []string) error {
	fs := flag.NewFlagSet("symbols", flag.ExitOnError)
	objPath := fs.String("obj", "", "path to a relocatable AMDGPU code object")
	kindFlag := fs.String("kind", "", "filter by kind: kernel, device-function, variable, external")
	jsonOut := fs.Bool("json", false, "output as JSON")
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

	var want symbol.Kind
	filter := *kindFlag != ""
	if filter {
		switch *kindFlag {
		case "kernel":
			want = symbol.KindKernel
		case "device-function":
			want = symbol.KindDeviceFunction
		case "variable":
			want = symbol.KindVariable
		case "external":
			want = symbol.KindExternal
		default:
			return fmt.Errorf("unrecognized --kind %q", *kindFlag)
		}
	}

	type entry struct {
		Name    string `json:"name"`
		Kind    string `json:"kind"`
		Size    uint64 `json:"size"`
		Binding string `json:"binding"`
	}
	var out []entry
	for _, s := range syms {
		if filter && s.Kind() != want {
			continue
		}
		base := symbol.Of(s)
		binding := "local"
		if base.Binding == symbol.BindingGlobal {
			binding = "global"
		}
		out = append(out, entry{Name: base.Name, Kind: s.Kind().String(), Size: base.Size, Binding: binding})
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, e := range out {
		fmt.Printf("%-10s %-8s %6d  %s\n", e.Kind, e.Binding, e.Size, e.Name)
	}
	return nil
}
