// Package replication runs independent replications of one base experiment,
// optionally extending the number of replications until confidence
// intervals of selected results are narrow enough.
package replication

import (
	"fmt"
	"math"

	"github.com/inference-sim/simexp/sim"
	"github.com/inference-sim/simexp/sim/multi"
)

const (
	DefaultErrorProb           = 0.05
	DefaultAllowancePercentage = 0.01

	estimateLo      = 2
	estimateHi      = 1_000_000
	estimateMaxIter = 64
)

// Experiment is the replication controller. Each task is a clone of Template
// with its own seed from the seed stream and a "repNN" name suffix.
//
// Without ConfIntervalMeasures it runs MaxReplications in one round. With
// measures it starts with MinReplications and adds rounds until every
// measure's confidence half-width is within AllowancePercentage of its mean,
// or MaxReplications is reached.
type Experiment struct {
	*multi.MultiExperiment

	Template             sim.Experiment
	MinReplications      int
	MaxReplications      int
	ConfIntervalMeasures []string
	ErrorProb            float64
	AllowancePercentage  float64
	// BatchSize bounds the replications added per later round; 0 means the parallelism.
	BatchSize int
}

// New creates a controller for base running maxReplications replications.
func New(base sim.Experiment, maxReplications int, opts multi.Options) *Experiment {
	e := &Experiment{
		Template:            base,
		MaxReplications:     maxReplications,
		ErrorProb:           DefaultErrorProb,
		AllowancePercentage: DefaultAllowancePercentage,
	}
	if opts.TaskLabel == "" || opts.TaskLabel == "task" {
		opts.TaskLabel = "rep"
	}
	e.MultiExperiment = multi.New(base.Base().Name(), base.Base().Seed(), e, opts)
	return e
}

// AddConfIntervalMeasure registers a result key for the dynamic stopping rule.
func (e *Experiment) AddConfIntervalMeasure(name string) {
	e.ConfIntervalMeasures = append(e.ConfIntervalMeasures, name)
}

// Dynamic reports whether the number of replications is decided at run time.
func (e *Experiment) Dynamic() bool { return len(e.ConfIntervalMeasures) > 0 }

// NumExperiments returns the number of replications for the next round.
func (e *Experiment) NumExperiments() int {
	if !e.Dynamic() {
		return e.MaxReplications
	}
	done := e.NumTasksExecuted()
	if done == 0 {
		if e.MinReplications > 0 {
			return min(e.MinReplications, e.MaxReplications)
		}
		return min(e.Parallel(), e.MaxReplications)
	}
	batch := e.BatchSize
	if batch <= 0 {
		batch = e.Parallel()
	}
	return max(0, min(e.MaxReplications-done, batch))
}

// CreateTasks implements multi.Planner.
func (e *Experiment) CreateTasks(round int) ([]sim.Experiment, error) {
	if e.Template == nil {
		return nil, fmt.Errorf("replication %s: no base experiment", e.Name())
	}
	n := e.NumExperiments()
	// numbering continues past skipped seeds so resumed runs keep unique names
	first := e.SkipSeedCount + e.NumTasksExecuted() + 1
	width := max(2, len(fmt.Sprint(e.SkipSeedCount+e.MaxReplications)))
	exps := make([]sim.Experiment, n)
	for i := range exps {
		c := e.Template.Clone(e.StreamSeed())
		c.Base().SetName(fmt.Sprintf("%s.rep%0*d", e.Template.Base().Name(), width, first+i))
		exps[i] = c
	}
	return exps, nil
}

// HasMoreTasks implements multi.Planner.
func (e *Experiment) HasMoreTasks(round int) bool {
	if !e.Dynamic() {
		return false
	}
	if e.NumTasksExecuted() >= e.MaxReplications {
		e.Log().Infof("stopping after %d replications: maximum reached", e.NumTasksExecuted())
		return false
	}
	more := false
	for _, name := range e.ConfIntervalMeasures {
		if e.needsMore(name) {
			more = true
		}
	}
	return more
}

// needsMore applies the stopping rule to one measure.
func (e *Experiment) needsMore(name string) bool {
	st := e.Current(name)
	if st == nil || st.Count() < 2 {
		e.Log().Debugf("measure %s: fewer than 2 observations", name)
		return true
	}
	hw := st.HalfWidth(e.ErrorProb)
	allowance := math.Abs(st.Mean()) * e.AllowancePercentage
	if hw <= allowance {
		return false
	}
	estimate := "unknown"
	if n, ok := EstimateReplications(st, e.ErrorProb, e.AllowancePercentage); ok {
		estimate = fmt.Sprint(n)
	}
	e.Log().Infof("measure %s: mean=%.6g half-width=%.6g > allowance=%.6g after %d replications, estimated total %s",
		name, st.Mean(), hw, allowance, st.Count(), estimate)
	return true
}

// EstimateReplications estimates the total number of replications at which
// the half-width of st drops to |mean|*allowancePercentage, by bisection over
// [2, 1e6]. It reports false when no root lies in that range.
func EstimateReplications(st *sim.SummaryStat, errorProb, allowancePercentage float64) (int, bool) {
	sd := st.Stddev()
	target := math.Abs(st.Mean()) * allowancePercentage
	if math.IsNaN(sd) || target <= 0 {
		return 0, false
	}
	f := func(n int) float64 {
		return sim.StudentT(n-1, errorProb)*sd/math.Sqrt(float64(n)) - target
	}
	lo, hi := estimateLo, estimateHi
	if f(lo) <= 0 {
		return lo, true
	}
	if f(hi) > 0 {
		return 0, false
	}
	// f(lo) > 0 >= f(hi)
	for i := 0; i < estimateMaxIter && hi-lo > 1; i++ {
		mid := lo + (hi-lo)/2
		if f(mid) > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi, true
}

// Clone implements sim.Experiment.
func (e *Experiment) Clone(seed int64) sim.Experiment {
	c := *e
	c.Template = e.Template.Clone(e.Template.Base().Seed())
	c.ConfIntervalMeasures = append([]string(nil), e.ConfIntervalMeasures...)
	c.MultiExperiment = e.CloneMulti(seed, &c)
	return &c
}
