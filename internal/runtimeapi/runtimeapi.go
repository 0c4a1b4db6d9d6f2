// Package runtimeapi defines the seam between the instrumentation core and
// the GPU runtime. The runtime itself — API-table interception, dispatch
// queue mechanics, device memory management — is an external collaborator
// out of scope here; this package only states the function-pointer
// shapes the core calls through and the callbacks it expects to receive, so
// every other package can be built and tested against a fake without a real
// GPU runtime attached.
package runtimeapi

// AgentID identifies a GPU agent (device) known to the runtime.
type AgentID uint64

// ExecutableID identifies a runtime executable container. One executable
// may have loaded code objects on several agents.
type ExecutableID uint64

// LoadedCodeObjectID identifies one ELF loaded into one executable on one
// agent — an "LCO" for short.
type LoadedCodeObjectID uint64

// DeviceAddr is an address in GPU device memory space.
type DeviceAddr uint64

// DispatchPacket is the subset of an AQL dispatch packet the core rewrites
// when redirecting a launch to an instrumented kernel.
type DispatchPacket struct {
	KernelObject       DeviceAddr
	PrivateSegmentSize uint32
	GroupSegmentSize   uint32
}

// CoreAPITable is the function-pointer surface the runtime exposes for
// executable and agent management, captured as an immutable snapshot at
// tool-configure time.
type CoreAPITable struct {
	CreateExecutable       func(agent AgentID) (ExecutableID, error)
	DefineExternalVariable func(exec ExecutableID, name string, addr DeviceAddr) error
	LoadCodeObject         func(exec ExecutableID, agent AgentID, elf []byte) (LoadedCodeObjectID, error)
	FreezeExecutable       func(exec ExecutableID) error
	DestroyExecutable      func(exec ExecutableID) error
	GetSymbolAddress       func(exec ExecutableID, name string) (DeviceAddr, error)
}

// LoaderAPITable is the function-pointer surface the runtime's AMD loader
// extension exposes: device-address lifecycle queries that the Code-Object
// Cache and Code Lifter need but never mutate.
type LoaderAPITable struct {
	ReadDeviceMemory func(addr DeviceAddr, size int) ([]byte, error)
	LoadDelta        func(lco LoadedCodeObjectID) (int64, error)
	LoadBase         func(lco LoadedCodeObjectID) (base DeviceAddr, size uint64, err error)
}

// LoaderCallbacks are the callbacks the core registers with the runtime in
// order to learn about code-object and executable lifecycle events. The
// runtime invokes these synchronously on the application thread that
// triggered the event.
type LoaderCallbacks struct {
	OnCodeObjectLoad     func(agent AgentID, exec ExecutableID, lco LoadedCodeObjectID, elfBytes []byte)
	OnExecutableFreeze   func(exec ExecutableID)
	OnExecutableDestroy  func(exec ExecutableID)
	OnFunctionRegister   func(shadowHostPtr uintptr, deviceFnName string)
}
