package design

import (
	"github.com/inference-sim/simexp/sim"
	"github.com/inference-sim/simexp/sim/multi"
)

// KeyConfigurations lists the configurations run, in task order.
const KeyConfigurations = "configurations"

// Experiment runs one clone of the template per configuration of its plan in
// a single round. Per-configuration results can be kept with KeepResults;
// kept keys carry the configuration's position, e.g. "flowtime.conf03".
type Experiment struct {
	*multi.MultiExperiment
	Builder

	confs []Configuration
}

// NewFullFactorial creates an experiment over every factor combination.
func NewFullFactorial(template sim.Experiment, setters Setters, opts multi.Options) *Experiment {
	return newExperiment(template, setters, FullPlan{}, DefaultMaxConfigurations, opts)
}

// NewFractionalFactorial creates an experiment over a balanced random sample
// of sampleSize factor combinations.
func NewFractionalFactorial(template sim.Experiment, setters Setters, sampleSize int, opts multi.Options) *Experiment {
	return newExperiment(template, setters, FractionalPlan{}, sampleSize, opts)
}

func newExperiment(template sim.Experiment, setters Setters, plan Plan, maxConfs int, opts multi.Options) *Experiment {
	e := &Experiment{Builder: Builder{
		Template:          template,
		Setters:           setters,
		Plan:              plan,
		MaxConfigurations: maxConfs,
	}}
	if opts.TaskLabel == "" || opts.TaskLabel == "task" {
		opts.TaskLabel = "conf"
	}
	e.MultiExperiment = multi.New(template.Base().Name(), template.Base().Seed(), e, opts)
	return e
}

// CreateTasks implements multi.Planner.
func (e *Experiment) CreateTasks(round int) ([]sim.Experiment, error) {
	confs, err := e.Configurations(e.Seed())
	if err != nil {
		return nil, err
	}
	exps := make([]sim.Experiment, len(confs))
	for i, c := range confs {
		if exps[i], err = e.ExperimentFor(c, e.TaskSeed()); err != nil {
			return nil, err
		}
	}
	e.confs = confs
	e.Log().Infof("running %d configurations of %d factors", len(confs), e.NumFactors())
	return exps, nil
}

// HasMoreTasks implements multi.Planner; designs run a single round.
func (e *Experiment) HasMoreTasks(int) bool { return false }

// ProduceResults implements multi.ResultProducer.
func (e *Experiment) ProduceResults(res sim.ResultMap) {
	names := make([]string, len(e.confs))
	for i, c := range e.confs {
		names[i] = c.String()
	}
	res[KeyConfigurations] = names
}

// RunConfigurations returns the configurations of the last run, in task order.
func (e *Experiment) RunConfigurations() []Configuration {
	return append([]Configuration(nil), e.confs...)
}

// Clone implements sim.Experiment.
func (e *Experiment) Clone(seed int64) sim.Experiment {
	c := &Experiment{Builder: e.Builder}
	c.Factors = e.Factors.Clone()
	c.MultiExperiment = e.CloneMulti(seed, c)
	return c
}
