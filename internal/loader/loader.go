// Package loader is the Tool Executable Loader: it takes a Code Generator's
// printed object for one instrumented kernel variant (a "preset" — an
// instrumentation author may build more than one instrumented version of
// the same kernel, e.g. a cheap counter-only build and a full trace build),
// loads it into the runtime as its own executable, and remembers enough to
// rewrite a launch's dispatch packet so it runs the instrumented kernel
// instead of the original.
package loader

import (
	"sync"

	"github.com/sirupsen/logrus"

	"luthier/internal/luthiererr"
	"luthier/internal/runtimeapi"
)

// presetKey names one instrumented build: the original executable and
// kernel it was generated from, plus the preset label the instrumentation
// author chose for it.
type presetKey struct {
	OrigExec runtimeapi.ExecutableID
	Kernel   string
	Preset   string
}

// instrumentedKernel is everything a dispatch-packet rewrite needs for one
// loaded instrumented build.
type instrumentedKernel struct {
	Exec               runtimeapi.ExecutableID
	KernelObject       runtimeapi.DeviceAddr
	PrivateSegmentSize uint32
	GroupSegmentSize   uint32
}

// Loader is the Tool Executable Loader singleton. It owns the preset map
// ((original executable, kernel, preset) -> instrumented executable) and the dependency map
// (original executable -> instrumented executables built from it), so that
// destroying an original executable can cascade to every instrumented
// build the core made on top of it.
type Loader struct {
	core runtimeapi.CoreAPITable
	log  *logrus.Logger

	mu       sync.Mutex
	presets  map[presetKey]instrumentedKernel
	byExec   map[runtimeapi.DeviceAddr]presetKey // instrumented kernel object addr -> its preset key; written on load and pruned by DestroyDependents, not read by OverrideWithInstrumented
	deps     map[runtimeapi.ExecutableID][]runtimeapi.ExecutableID
}

// New constructs a Loader backed by core, the runtime's executable
// management API.
func New(core runtimeapi.CoreAPITable, log *logrus.Logger) *Loader {
	if log == nil {
		log = logrus.New()
	}
	return &Loader{
		core:    core,
		log:     log,
		presets: make(map[presetKey]instrumentedKernel),
		byExec:  make(map[runtimeapi.DeviceAddr]presetKey),
		deps:    make(map[runtimeapi.ExecutableID][]runtimeapi.ExecutableID),
	}
}

// LoadInstrumentedKernel loads a Code Generator's printed object as a new
// executable on agent, binds its kernel's device address, and records it
// under (origExec, kernel, preset) so a later dispatch can be redirected to
// it. The new executable is registered as a dependent of origExec: if
// origExec is later torn down via DestroyDependents, this load is torn
// down with it.
func (l *Loader) LoadInstrumentedKernel(origExec runtimeapi.ExecutableID, agent runtimeapi.AgentID, kernel, preset string, obj []byte, privateSize, groupSize uint32) (runtimeapi.ExecutableID, error) {
	exec, err := l.core.CreateExecutable(agent)
	if err != nil {
		return 0, luthiererr.Wrap(luthiererr.LoaderError, err, "loader: creating executable for instrumented %q/%q", kernel, preset)
	}
	if _, err := l.core.LoadCodeObject(exec, agent, obj); err != nil {
		return 0, luthiererr.Wrap(luthiererr.LoaderError, err, "loader: loading instrumented object for %q/%q", kernel, preset)
	}
	if err := l.core.FreezeExecutable(exec); err != nil {
		return 0, luthiererr.Wrap(luthiererr.LoaderError, err, "loader: freezing instrumented executable for %q/%q", kernel, preset)
	}
	addr, err := l.core.GetSymbolAddress(exec, kernel)
	if err != nil {
		return 0, luthiererr.Wrap(luthiererr.LoaderError, err, "loader: resolving instrumented kernel address for %q/%q", kernel, preset)
	}

	key := presetKey{OrigExec: origExec, Kernel: kernel, Preset: preset}
	ik := instrumentedKernel{Exec: exec, KernelObject: addr, PrivateSegmentSize: privateSize, GroupSegmentSize: groupSize}

	l.mu.Lock()
	l.presets[key] = ik
	l.byExec[addr] = key
	l.deps[origExec] = append(l.deps[origExec], exec)
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{"kernel": kernel, "preset": preset, "executable": exec}).Debug("loaded instrumented kernel")
	return exec, nil
}

// isKernelInstrumented reports whether (origExec, kernel, preset) has a
// loaded instrumented build.
func (l *Loader) isKernelInstrumented(origExec runtimeapi.ExecutableID, kernel, preset string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.presets[presetKey{OrigExec: origExec, Kernel: kernel, Preset: preset}]
	return ok
}

// getInstrumentedKernel returns the loaded instrumented build for
// (origExec, kernel, preset), or a CacheMiss error if none has been
// loaded.
func (l *Loader) getInstrumentedKernel(origExec runtimeapi.ExecutableID, kernel, preset string) (instrumentedKernel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ik, ok := l.presets[presetKey{OrigExec: origExec, Kernel: kernel, Preset: preset}]
	if !ok {
		return instrumentedKernel{}, luthiererr.New(luthiererr.CacheMiss, "loader: no instrumented build for kernel %q preset %q", kernel, preset)
	}
	return ik, nil
}

// OverrideWithInstrumented rewrites packet in place to launch the
// instrumented build registered for (origExec, kernel, preset) instead of
// whatever it currently points at. The rewrite is idempotent: if packet
// already names this preset's instrumented kernel object, it is left
// untouched rather than being rewritten onto itself.
//
// Segment sizes are widened, never shrunk: a caller that already requested
// more private or group scratch than the instrumented build's own metadata
// needs keeps what it asked for.
func (l *Loader) OverrideWithInstrumented(packet *runtimeapi.DispatchPacket, origExec runtimeapi.ExecutableID, kernel, preset string) error {
	ik, err := l.getInstrumentedKernel(origExec, kernel, preset)
	if err != nil {
		return err
	}
	if packet.KernelObject == ik.KernelObject {
		return nil
	}
	packet.KernelObject = ik.KernelObject
	if ik.PrivateSegmentSize > packet.PrivateSegmentSize {
		packet.PrivateSegmentSize = ik.PrivateSegmentSize
	}
	if ik.GroupSegmentSize > packet.GroupSegmentSize {
		packet.GroupSegmentSize = ik.GroupSegmentSize
	}
	return nil
}

// DestroyDependents tears down every instrumented executable built on top
// of origExec, in response to the runtime destroying the original
// executable: instrumented builds never outlive the executable they
// instrument. Intended to be wired to
// runtimeapi.LoaderCallbacks.OnExecutableDestroy.
func (l *Loader) DestroyDependents(origExec runtimeapi.ExecutableID) error {
	l.mu.Lock()
	dependents := l.deps[origExec]
	delete(l.deps, origExec)
	for key, ik := range l.presets {
		if key.OrigExec != origExec {
			continue
		}
		delete(l.presets, key)
		delete(l.byExec, ik.KernelObject)
	}
	l.mu.Unlock()

	for _, exec := range dependents {
		if err := l.core.DestroyExecutable(exec); err != nil {
			return luthiererr.Wrap(luthiererr.LoaderError, err, "loader: destroying dependent executable %d of %d", exec, origExec)
		}
	}
	return nil
}
