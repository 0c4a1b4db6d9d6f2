package codeobject

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"luthier/internal/luthiererr"
	"luthier/internal/objwriter"
	"luthier/internal/runtimeapi"
	"luthier/internal/symbol"
)

func kernelDescriptorBytes(groupSize, privateSize, kernargSize uint32) []byte {
	kd := make([]byte, 64)
	binary.LittleEndian.PutUint32(kd[0:4], groupSize)
	binary.LittleEndian.PutUint32(kd[4:8], privateSize)
	binary.LittleEndian.PutUint32(kd[8:12], kernargSize)
	return kd
}

func sampleLCO() []byte {
	return objwriter.Build(objwriter.Options{
		Text: make([]byte, 32),
		Data: kernelDescriptorBytes(512, 64, 32),
		Symbols: []objwriter.SymbolSpec{
			{Name: "vector_add", Size: 16, Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Defined: true},
			{Name: "vector_add.kd", Value: 32, Size: 64, Bind: elf.STB_LOCAL, Type: elf.STT_OBJECT, Defined: true},
			{Name: "helper_fn", Size: 8, Bind: elf.STB_LOCAL, Type: elf.STT_FUNC, Defined: true},
			{Name: "g_scale", Size: 4, Bind: elf.STB_GLOBAL, Type: elf.STT_OBJECT, Defined: true},
			{Name: "malloc", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Defined: false},
		},
	})
}

func TestRegisterAndGet(t *testing.T) {
	c := NewCache()
	lco, err := c.Register(1, 100, 7, sampleLCO())
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsCached(1) {
		t.Fatal("IsCached(1) = false after Register")
	}
	got, err := c.Get(1)
	if err != nil || got != lco {
		t.Fatalf("Get(1) = %v, %v, want matching LCO", got, err)
	}
}

func TestGetMissReturnsCacheMiss(t *testing.T) {
	c := NewCache()
	_, err := c.Get(99)
	if !luthiererr.Is(err, luthiererr.CacheMiss) {
		t.Fatalf("Get on missing id: %v, want CacheMiss", err)
	}
}

func TestSymbolsClassifiesVariants(t *testing.T) {
	c := NewCache()
	lco, err := c.Register(1, 100, 7, sampleLCO())
	if err != nil {
		t.Fatal(err)
	}

	syms, err := lco.Symbols()
	if err != nil {
		t.Fatal(err)
	}

	counts := map[symbol.Kind]int{}
	for _, s := range syms {
		counts[s.Kind()]++
	}
	if counts[symbol.KindKernel] != 1 {
		t.Errorf("KindKernel count = %d, want 1", counts[symbol.KindKernel])
	}
	if counts[symbol.KindDeviceFunction] != 1 {
		t.Errorf("KindDeviceFunction count = %d, want 1", counts[symbol.KindDeviceFunction])
	}
	if counts[symbol.KindVariable] != 1 {
		t.Errorf("KindVariable count = %d, want 1", counts[symbol.KindVariable])
	}
	if counts[symbol.KindExternal] != 1 {
		t.Errorf("KindExternal count = %d, want 1", counts[symbol.KindExternal])
	}

	kernel, err := lco.SymbolByName("vector_add")
	if err != nil {
		t.Fatal(err)
	}
	k, ok := symbol.As[*symbol.Kernel](kernel)
	if !ok {
		t.Fatal("vector_add did not classify as Kernel")
	}
	if k.DescriptorSym.Name != "vector_add.kd" {
		t.Errorf("DescriptorSym.Name = %q, want vector_add.kd", k.DescriptorSym.Name)
	}
	if k.Metadata.GroupSegmentFixedSize != 512 || k.Metadata.PrivateSegmentFixedSize != 64 {
		t.Errorf("Metadata = %+v, want group=512 private=64 parsed from the descriptor bytes", k.Metadata)
	}
	if k.Metadata.NumVGPRs != 4 || k.Metadata.NumSGPRs != 8 {
		t.Errorf("Metadata = %+v, want NumVGPRs=4 NumSGPRs=8 for a zero compute_pgm_rsrc1", k.Metadata)
	}
	if k.Metadata.NumArgs != 4 {
		t.Errorf("Metadata.NumArgs = %d, want 4 (32-byte kernarg / 8)", k.Metadata.NumArgs)
	}
}

func TestSymbolsIsMemoized(t *testing.T) {
	c := NewCache()
	lco, err := c.Register(1, 100, 7, sampleLCO())
	if err != nil {
		t.Fatal(err)
	}
	first, err := lco.Symbols()
	if err != nil {
		t.Fatal(err)
	}
	second, err := lco.Symbols()
	if err != nil {
		t.Fatal(err)
	}
	if &first[0] != &second[0] {
		t.Error("Symbols() recomputed instead of using cached slice")
	}
}

func TestInvalidateExecutableDropsEntries(t *testing.T) {
	c := NewCache()
	if _, err := c.Register(1, 100, 7, sampleLCO()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Register(2, 100, 7, sampleLCO()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Register(3, 200, 7, sampleLCO()); err != nil {
		t.Fatal(err)
	}

	c.InvalidateExecutable(100)

	if c.IsCached(1) || c.IsCached(2) {
		t.Error("entries for executable 100 survived InvalidateExecutable")
	}
	if !c.IsCached(3) {
		t.Error("entry for unrelated executable 200 was dropped")
	}
}

func TestRegisterInvalidELF(t *testing.T) {
	c := NewCache()
	if _, err := c.Register(1, 100, 7, []byte("garbage")); err == nil {
		t.Fatal("expected error registering non-ELF bytes")
	}
}

func TestWiresToLoaderCallbacks(t *testing.T) {
	c := NewCache()
	fake := runtimeapi.NewFake()
	fake.SetCallbacks(runtimeapi.LoaderCallbacks{
		OnExecutableDestroy: c.InvalidateExecutable,
	})

	exec, err := fake.CoreAPI().CreateExecutable(7)
	if err != nil {
		t.Fatal(err)
	}
	lcoID, err := fake.CoreAPI().LoadCodeObject(exec, 7, sampleLCO())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Register(lcoID, exec, 7, sampleLCO()); err != nil {
		t.Fatal(err)
	}

	if err := fake.CoreAPI().DestroyExecutable(exec); err != nil {
		t.Fatal(err)
	}
	if c.IsCached(lcoID) {
		t.Error("LCO survived the runtime's OnExecutableDestroy callback")
	}
}
