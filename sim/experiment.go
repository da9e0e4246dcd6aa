// Defines the Experiment contract shared by base simulations and the
// orchestrators that run them, plus the lifecycle state machine.

package sim

import (
	"context"
	"errors"
	"sync/atomic"
)

// State represents the lifecycle state of an experiment.
type State string

const (
	StateInitial  State = "initial"
	StateRunning  State = "running"
	StateAborted  State = "aborted"
	StateError    State = "error"
	StateFinished State = "finished"
)

// ErrAborted is returned by Execute when an experiment requested its own abort.
var ErrAborted = errors.New("experiment aborted")

// Experiment is a seedable, single-use unit of work.
//
// Clone is the explicit "fresh instance from template + seed" factory: the
// returned experiment carries the template's settings, a new seed, no run
// state and its own RNG state. Run is called at most once per instance;
// callers go through Execute, which owns the lifecycle.
type Experiment interface {
	Base() *BaseExperiment
	Run(ctx context.Context) (ResultMap, error)
	Clone(seed int64) Experiment
}

// BaseExperiment holds the identity and lifecycle shared by all experiments.
// Concrete experiments embed a *BaseExperiment created by NewBaseExperiment.
type BaseExperiment struct {
	name         string
	seed         int64
	nestingLevel int

	state          atomic.Value // State
	abortRequested atomic.Bool
}

// NewBaseExperiment creates a BaseExperiment in StateInitial.
func NewBaseExperiment(name string, seed int64) *BaseExperiment {
	b := &BaseExperiment{name: name, seed: seed}
	b.state.Store(StateInitial)
	return b
}

// Base returns the receiver; promoted so that embedding types satisfy Experiment.
func (b *BaseExperiment) Base() *BaseExperiment { return b }

func (b *BaseExperiment) Name() string        { return b.name }
func (b *BaseExperiment) SetName(name string) { b.name = name }
func (b *BaseExperiment) Seed() int64         { return b.seed }
func (b *BaseExperiment) NestingLevel() int   { return b.nestingLevel }

// SetNestingLevel records how deep in an orchestrator tree this experiment runs.
// Level 0 is the top-level experiment.
func (b *BaseExperiment) SetNestingLevel(level int) { b.nestingLevel = level }

// State returns the current lifecycle state.
func (b *BaseExperiment) State() State {
	if s, ok := b.state.Load().(State); ok {
		return s
	}
	return StateInitial
}

func (b *BaseExperiment) setState(s State) { b.state.Store(s) }

// Abort asks the experiment to stop. Long-running experiments poll Aborted.
// Safe for concurrent use.
func (b *BaseExperiment) Abort() { b.abortRequested.Store(true) }

// Aborted reports whether Abort was called.
func (b *BaseExperiment) Aborted() bool { return b.abortRequested.Load() }

// CloneBase returns a fresh BaseExperiment with the same name and nesting
// level, the given seed, and no lifecycle history. Used by Clone implementations.
func (b *BaseExperiment) CloneBase(seed int64) *BaseExperiment {
	c := NewBaseExperiment(b.name, seed)
	c.nestingLevel = b.nestingLevel
	return c
}
