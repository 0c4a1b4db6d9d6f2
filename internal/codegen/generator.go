// Package codegen is the Code Generator: it clones a
// kernel's Lifted Representation, applies an Instrumentation Task's
// deferred hook-insertion plan, lowers the resulting hook-call intrinsics
// to concrete instructions in two stages, reassigns physical registers
// around the newly inserted code, builds a prologue/epilogue for the
// kernel's widened stack frame, and prints the mutated function to a
// relocatable object the runtime can load.
package codegen

import (
	"github.com/sirupsen/logrus"

	"luthier/internal/instrumentation"
	"luthier/internal/isa"
	"luthier/internal/luthiererr"
	"luthier/internal/mir"
	"luthier/internal/runtimeapi"
)

// Generator drives the mutate-lower-allocate-print pipeline for one
// target.
type Generator struct {
	log    *logrus.Logger
	target *isa.TargetInfo
}

// New constructs a Generator for the given target's register file.
func New(target *isa.TargetInfo, log *logrus.Logger) *Generator {
	if log == nil {
		log = logrus.New()
	}
	return &Generator{log: log, target: target}
}

// Result is the output of a completed generation pass: the mutated
// function (for inspection/debugging) and its printed object bytes.
type Result struct {
	Function *mir.Function
	Object   []byte
}

// Generate clones task's Lifted Representation, applies task's hooks,
// lowers intrinsics, reassigns physical registers, builds the
// prologue/epilogue, and prints the final object for the given agent.
// task.LR is never mutated; Generate clones it internally, and every hook
// handle is resolved against task.Module for agent specifically, since a
// Module's registered bitcode and shadow pointers are per-agent.
func (g *Generator) Generate(task *instrumentation.Task, agent runtimeapi.AgentID) (*Result, error) {
	fn := task.LR
	mutated := fn.Clone()

	hookSites, err := applyHooks(mutated, task, agent)
	if err != nil {
		return nil, luthiererr.Wrap(luthiererr.CodegenError, err, "codegen: applying instrumentation task for %q", fn.Name)
	}

	sideTable, err := lowerIntrinsics(mutated, hookSites)
	if err != nil {
		return nil, luthiererr.Wrap(luthiererr.LoweringError, err, "codegen: lowering intrinsics for %q", fn.Name)
	}
	g.log.WithField("function", fn.Name).WithField("lowered", len(sideTable)).Debug("lowered hook intrinsics")

	alloc, err := virtualizeAndAllocate(mutated, g.target)
	if err != nil {
		return nil, luthiererr.Wrap(luthiererr.CodegenError, err, "codegen: register allocation for %q", fn.Name)
	}

	buildPreambleEpilogue(mutated, alloc)

	obj, err := printObject(mutated, alloc)
	if err != nil {
		return nil, luthiererr.Wrap(luthiererr.CodegenError, err, "codegen: printing object for %q", fn.Name)
	}

	return &Result{Function: mutated, Object: obj}, nil
}

// findBlock resolves a HookPoint's block label within fn, delegating to
// mir.Function.BlockByLabel — the same lookup the Instrumentation Task's
// InsertHookBefore validates against, kept here as a thin wrapper for
// callers that only have a *mir.Function in hand.
func findBlock(fn *mir.Function, label string) (*mir.BasicBlock, error) {
	return fn.BlockByLabel(label)
}
