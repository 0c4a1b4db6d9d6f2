// Package symbol is the Symbol Model: typed handles over ELF symbols,
// implemented as a closed tagged-variant set {Kernel, DeviceFunction,
// Variable, External} rather than by inheritance, with a dyn-cast helper
// instead of a visitor hierarchy.
package symbol

import (
	"debug/elf"

	"luthier/internal/runtimeapi"
)

// Kind names which arm of the Symbol variant a value holds.
type Kind int

const (
	KindKernel Kind = iota
	KindDeviceFunction
	KindVariable
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindKernel:
		return "kernel"
	case KindDeviceFunction:
		return "device-function"
	case KindVariable:
		return "variable"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Binding mirrors the ELF symbol's binding, collapsing STB_WEAK into
// BindingGlobal since both resolve to a runtime-visible handle the same
// way.
type Binding int

const (
	BindingLocal Binding = iota
	BindingGlobal
)

// Base holds the fields shared by every Symbol variant: the common part
// sits in the base, variant-specific fields live in the arm.
type Base struct {
	LCO     runtimeapi.LoadedCodeObjectID
	ELFSym  elf.Symbol
	Name    string
	Size    uint64
	Binding Binding
	// Handle is the runtime-visible symbol handle, present only for
	// globally-bound symbols; HasHandle distinguishes "global with handle
	// not yet resolved" from "local, no handle possible".
	Handle    runtimeapi.DeviceAddr
	HasHandle bool
}

func baseFrom(lco runtimeapi.LoadedCodeObjectID, es elf.Symbol) Base {
	binding := BindingLocal
	if elf.ST_BIND(es.Info) == elf.STB_GLOBAL || elf.ST_BIND(es.Info) == elf.STB_WEAK {
		binding = BindingGlobal
	}
	return Base{
		LCO:     lco,
		ELFSym:  es,
		Name:    es.Name,
		Size:    es.Size,
		Binding: binding,
	}
}

// Metadata carries the subset of a kernel descriptor's parsed fields the
// core needs to plan instrumentation: how much private (scratch) memory it
// requests, and its resource usage, used by the Code Generator's preamble
// analysis and the Loader's dispatch-packet rewrite.
type Metadata struct {
	PrivateSegmentFixedSize uint32
	GroupSegmentFixedSize   uint32
	NumSGPRs                uint16
	NumVGPRs                uint16
	NumArgs                 uint32
}

// Symbol is the closed variant: a value is exactly one of Kernel,
// DeviceFunction, Variable or External. Use Kind to inspect the arm and As
// to dyn-cast to a concrete variant.
type Symbol interface {
	Kind() Kind
	base() *Base
}

// Of returns the shared Base fields common to every variant.
func Of(s Symbol) Base { return *s.base() }

// As attempts to dyn-cast s to variant type T, returning (zero, false) if s
// does not hold that variant, in place of an inheritance hierarchy.
func As[T Symbol](s Symbol) (T, bool) {
	t, ok := s.(T)
	return t, ok
}

// Kernel is a KERNEL-type ELF symbol: a GPU entry point, with its kernel
// descriptor symbol and parsed metadata.
type Kernel struct {
	Base
	DescriptorSym elf.Symbol
	Metadata      Metadata
}

func (k *Kernel) Kind() Kind    { return KindKernel }
func (k *Kernel) base() *Base   { return &k.Base }

// NewKernel constructs a Kernel symbol.
func NewKernel(lco runtimeapi.LoadedCodeObjectID, es, descriptor elf.Symbol, md Metadata) *Kernel {
	return &Kernel{Base: baseFrom(lco, es), DescriptorSym: descriptor, Metadata: md}
}

// DeviceFunction is a callable function within the code object that is not
// a kernel entry point.
type DeviceFunction struct {
	Base
}

func (d *DeviceFunction) Kind() Kind  { return KindDeviceFunction }
func (d *DeviceFunction) base() *Base { return &d.Base }

// NewDeviceFunction constructs a DeviceFunction symbol.
func NewDeviceFunction(lco runtimeapi.LoadedCodeObjectID, es elf.Symbol) *DeviceFunction {
	return &DeviceFunction{Base: baseFrom(lco, es)}
}

// Variable is a global (or local) data symbol.
type Variable struct {
	Base
}

func (v *Variable) Kind() Kind  { return KindVariable }
func (v *Variable) base() *Base { return &v.Base }

// NewVariable constructs a Variable symbol.
func NewVariable(lco runtimeapi.LoadedCodeObjectID, es elf.Symbol) *Variable {
	return &Variable{Base: baseFrom(lco, es)}
}

// External is an undefined symbol this LCO references but does not define;
// ResolvesTo names the cross-LCO symbol it is expected to bind to once
// known (nil until resolved).
type External struct {
	Base
	ResolvesTo Symbol
}

func (e *External) Kind() Kind  { return KindExternal }
func (e *External) base() *Base { return &e.Base }

// NewExternal constructs an External symbol.
func NewExternal(lco runtimeapi.LoadedCodeObjectID, es elf.Symbol) *External {
	return &External{Base: baseFrom(lco, es)}
}

// IsExternal reports whether an ELF symbol is unresolved within its own
// section table: an external is recognized by an unresolved cross-LCO
// reference (SHN_UNDEF with a name).
func IsExternal(es elf.Symbol) bool {
	return es.Section == elf.SHN_UNDEF && es.Name != ""
}
