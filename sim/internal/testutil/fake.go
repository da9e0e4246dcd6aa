// Package testutil provides shared test infrastructure for the experiment
// packages: a configurable fake base experiment and float assertions.
package testutil

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/inference-sim/simexp/sim"
)

// Recorder collects the name and seed of every FakeExperiment run.
// Safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	runs  []Run
	calls int
}

// Run is one recorded execution.
type Run struct {
	Name string
	Seed int64
	Mean float64
}

func (r *Recorder) record(run Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	r.calls++
}

// Runs returns a copy of the recorded runs in completion order.
func (r *Recorder) Runs() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Run(nil), r.runs...)
}

// Calls returns how many runs were recorded.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// FakeExperiment returns Mean + Noise*N(0,1) under the key "value", drawn
// from an RNG seeded with its own seed.
type FakeExperiment struct {
	*sim.BaseExperiment

	Mean    float64
	Noise   float64
	Label   string
	Fail    bool          // return an error
	Panic   bool          // panic inside Run
	AbortIt bool          // request its own abort
	Delay   time.Duration // block (cancellable) before returning
	Rec     *Recorder
}

// NewFake creates a FakeExperiment with the given mean and noise.
func NewFake(name string, mean, noise float64) *FakeExperiment {
	return &FakeExperiment{
		BaseExperiment: sim.NewBaseExperiment(name, 0),
		Mean:           mean,
		Noise:          noise,
	}
}

// Run implements sim.Experiment.
func (f *FakeExperiment) Run(ctx context.Context) (sim.ResultMap, error) {
	if f.Rec != nil {
		f.Rec.record(Run{Name: f.Name(), Seed: f.Seed(), Mean: f.Mean})
	}
	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return sim.ResultMap{"partial": true}, ctx.Err()
		case <-time.After(f.Delay):
		}
	}
	if f.Panic {
		panic("fake experiment panic")
	}
	if f.Fail {
		return nil, errors.New("fake experiment failure")
	}
	if f.AbortIt {
		f.Abort()
	}
	rng := rand.New(rand.NewSource(f.Seed()))
	res := sim.ResultMap{"value": f.Mean + f.Noise*rng.NormFloat64()}
	if f.Label != "" {
		res["label"] = f.Label
	}
	return res, nil
}

// Clone implements sim.Experiment.
func (f *FakeExperiment) Clone(seed int64) sim.Experiment {
	c := *f
	c.BaseExperiment = f.CloneBase(seed)
	return &c
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
