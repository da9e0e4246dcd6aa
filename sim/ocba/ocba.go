package ocba

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simexp/sim"
	"github.com/inference-sim/simexp/sim/design"
	"github.com/inference-sim/simexp/sim/multi"
	"github.com/inference-sim/simexp/sim/replication"
)

// Published result keys.
const (
	KeyBestConfiguration = "bestConfiguration"
	KeyBestIndex         = "bestIndex"
	KeyBestPerformance   = "bestPerformance"
	KeyNumEvaluations    = "numEvaluations"
	KeyPCS               = "pcs"
	KeyAllocationVector  = "allocationVector"
	KeyMeansVector       = "meansVector"
	KeyRank              = "rank"
	KeyPCSVector         = "pcsVector"
	KeyConfigurations    = "configurations"
	KeyDropped           = "droppedConfigurations"
)

// ErrNoStoppingRule is returned when neither a budget nor a PCS level bounds the run.
var ErrNoStoppingRule = errors.New("ocba: set NumReplicationsPerConfiguration or PCSLevel")

// Allocation is the allocator's bookkeeping for one run. It is only touched
// by the control goroutine between rounds.
type Allocation struct {
	Configurations []design.Configuration
	Templates      []sim.Experiment
	Stats          []*sim.SummaryStat
	// Allocated counts replications started per configuration, i.e. seeds consumed.
	Allocated []int
	// Next holds the replications each configuration gets in the coming round.
	Next []int
	// Dropped marks configurations whose replications keep failing to report
	// the objective. They get no further budget and are left out of the
	// comparison.
	Dropped         []bool
	Best            int // -1 while no configuration can be compared
	TotalBudget     int // 0 means unbounded
	IterationBudget int

	initial  int
	taskConf []int
}

// BudgetUsed returns the replications started so far.
func (s *Allocation) BudgetUsed() int {
	used := 0
	for _, a := range s.Allocated {
		used += a
	}
	return used
}

// live returns the indices of the configurations not dropped.
func (s *Allocation) live() []int {
	var idx []int
	for i, d := range s.Dropped {
		if !d {
			idx = append(idx, i)
		}
	}
	return idx
}

// drop marks configurations that are still short of two observations after
// as many missing results as the first round started for them.
func (s *Allocation) drop(log *logrus.Entry) {
	for i, st := range s.Stats {
		missing := s.Allocated[i] - st.Count()
		if s.Dropped[i] || st.Count() >= minComparable || missing < s.initial {
			continue
		}
		s.Dropped[i] = true
		log.Warnf("configuration [%s] dropped: %d of %d replications reported no objective",
			s.Configurations[i], missing, s.Allocated[i])
	}
}

func (s *Allocation) vectors() (means, variances []float64, counts []int) {
	means = make([]float64, len(s.Stats))
	variances = make([]float64, len(s.Stats))
	counts = make([]int, len(s.Stats))
	for i, st := range s.Stats {
		means[i] = st.Mean()
		variances[i] = st.Variance()
		counts[i] = st.Count()
	}
	return means, variances, counts
}

// liveVectors returns the moments of the configurations in idx, in that order.
func (s *Allocation) liveVectors(idx []int) (means, variances []float64, counts []int) {
	m, v, c := s.vectors()
	return pick(m, idx), pick(v, idx), pick(c, idx)
}

// Experiment runs a full factorial design (or another Plan) and allocates
// replications among its configurations round by round with OCBA until the
// budget is spent or the probability of correct selection exceeds PCSLevel.
type Experiment struct {
	*multi.MultiExperiment
	design.Builder

	// Objective is the result key compared across configurations.
	Objective   string
	ProblemType ProblemType
	// PCSLevel stops the run once PCS exceeds it; 0 disables the check.
	PCSLevel float64
	// MinReplicationsPerConfiguration sets the first round's replications
	// and floors the per-round budget.
	MinReplicationsPerConfiguration int
	// NumReplicationsPerConfiguration bounds the total budget at
	// configurations times this value; 0 means unbounded.
	NumReplicationsPerConfiguration int
	// DetailedResults publishes every configuration's objective aggregate.
	DetailedResults bool

	alloc *Allocation
}

// New creates an OCBA experiment comparing configurations of template on objective.
func New(template sim.Experiment, setters design.Setters, objective string, pt ProblemType, opts multi.Options) *Experiment {
	e := &Experiment{
		Builder: design.Builder{
			Template: template,
			Setters:  setters,
			Plan:     design.FullPlan{},
		},
		Objective:   objective,
		ProblemType: pt,
	}
	if opts.TaskLabel == "" || opts.TaskLabel == "task" {
		opts.TaskLabel = "conf"
	}
	e.MultiExperiment = multi.New(template.Base().Name(), template.Base().Seed(), e, opts)
	return e
}

// Allocation returns the allocation state of the current or last run.
func (e *Experiment) Allocation() *Allocation { return e.alloc }

// CreateTasks implements multi.Planner.
func (e *Experiment) CreateTasks(round int) ([]sim.Experiment, error) {
	if round == 0 {
		if err := e.init(); err != nil {
			return nil, err
		}
	}
	st := e.alloc
	st.taskConf = st.taskConf[:0]
	var exps []sim.Experiment
	for i, n := range st.Next {
		if n <= 0 {
			continue
		}
		exps = append(exps, e.replications(i, n))
		st.taskConf = append(st.taskConf, i)
		st.Allocated[i] += n
	}
	e.Log().Debugf("round %d: %d configurations, allocation %v", round, len(exps), st.Next)
	return exps, nil
}

func (e *Experiment) init() error {
	if e.Objective == "" {
		return fmt.Errorf("ocba: no objective")
	}
	if e.NumReplicationsPerConfiguration <= 0 && e.PCSLevel <= 0 {
		return ErrNoStoppingRule
	}
	confs, err := e.Configurations(e.Seed())
	if err != nil {
		return err
	}
	nc := len(confs)
	st := &Allocation{
		Configurations: confs,
		Templates:      make([]sim.Experiment, nc),
		Stats:          make([]*sim.SummaryStat, nc),
		Allocated:      make([]int, nc),
		Next:           make([]int, nc),
		Dropped:        make([]bool, nc),
		Best:           -1,
		TotalBudget:    nc * max(0, e.NumReplicationsPerConfiguration),
		IterationBudget: max(
			int(math.Round(0.1*float64(nc))),
			e.MinReplicationsPerConfiguration,
			e.Parallel(),
		),
	}
	initial := e.MinReplicationsPerConfiguration
	if initial <= 0 {
		initial = max(3, e.Parallel())
	}
	if st.TotalBudget > 0 {
		initial = min(initial, e.NumReplicationsPerConfiguration)
	}
	st.initial = initial
	for i, c := range confs {
		if st.Templates[i], err = e.ExperimentFor(c, e.TaskSeed()); err != nil {
			return err
		}
		st.Stats[i] = &sim.SummaryStat{}
		st.Next[i] = initial
	}
	e.alloc = st
	e.Log().Infof("comparing %d configurations on %s (%s), total budget %d, per round %d",
		nc, e.Objective, e.ProblemType, st.TotalBudget, st.IterationBudget)
	return nil
}

// replications wraps n further replications of configuration i. Seeds
// continue the configuration's own stream.
func (e *Experiment) replications(i, n int) sim.Experiment {
	opts := multi.Options{
		CommonRandomNumbers: e.CommonRandomNumbers,
		SkipSeedCount:       e.alloc.Allocated[i],
		Sequential:          e.Sequential,
		Parallelism:         e.Parallelism,
		Metrics:             e.Metrics,
	}
	return replication.New(e.alloc.Templates[i], n, opts)
}

// ObserveResult implements multi.ResultObserver.
func (e *Experiment) ObserveResult(task multi.Task, res sim.ResultMap) {
	st := e.alloc
	if task.Index >= len(st.taskConf) {
		return
	}
	i := st.taskConf[task.Index]
	switch v := objectiveValue(res, e.Objective).(type) {
	case *sim.SummaryStat:
		st.Stats[i].Combine(v)
	case nil:
		e.Log().Warnf("configuration %d: no %q in results", i, e.Objective)
	default:
		if x, ok := sim.ToFloat(v); ok {
			st.Stats[i].Value(x)
		}
	}
}

func objectiveValue(res sim.ResultMap, key string) any {
	if v, ok := res[key]; ok {
		return v
	}
	return res[key+".mean"]
}

// HasMoreTasks implements multi.Planner.
func (e *Experiment) HasMoreTasks(round int) bool {
	st := e.alloc
	if len(st.Stats) == 0 {
		return false
	}
	st.drop(e.Log())
	idx := st.live()
	if len(idx) == 0 {
		e.Log().Warnf("no configuration reports %q, stopping", e.Objective)
		st.Best = -1
		return false
	}
	allMeans, _, _ := st.vectors()
	means, variances, counts := st.liveVectors(idx)
	st.Best = idx[Best(means, e.ProblemType)]
	used := st.BudgetUsed()

	if st.TotalBudget > 0 && used >= st.TotalBudget {
		e.Log().Infof("budget of %d replications used", st.TotalBudget)
		return false
	}
	pcs := PCS(means, variances, counts, e.ProblemType)
	if e.PCSLevel > 0 && pcs > e.PCSLevel {
		e.Log().Infof("PCS %.4f above %.4f after %d replications", pcs, e.PCSLevel, used)
		return false
	}

	add := st.IterationBudget
	if st.TotalBudget > 0 {
		add = min(add, st.TotalBudget-used)
	}
	next := Allocate(means, variances, counts, add, e.ProblemType)
	st.Next = make([]int, len(st.Stats))
	total := 0
	for k, i := range idx {
		st.Next[i] = next[k]
		total += next[k]
	}
	e.Log().Infof("round %d: best %d (%.6g), PCS %.4f, next allocation %v", round, st.Best, allMeans[st.Best], pcs, st.Next)
	return total > 0
}

// ProduceResults implements multi.ResultProducer.
func (e *Experiment) ProduceResults(res sim.ResultMap) {
	st := e.alloc
	if st == nil || len(st.Stats) == 0 {
		return
	}
	means, _, _ := st.vectors()
	names := make([]string, len(st.Configurations))
	for i, c := range st.Configurations {
		names[i] = c.String()
	}

	idx := st.live()
	pcsVector := make([]float64, len(means))
	for i := range pcsVector {
		pcsVector[i] = math.NaN()
	}
	rank := make([]int, 0, len(means))
	dropped := []int{}
	if len(idx) > 0 {
		lm, lv, lc := st.liveVectors(idx)
		best := idx[Best(lm, e.ProblemType)]
		res[KeyBestConfiguration] = names[best]
		res[KeyBestIndex] = best
		res[KeyBestPerformance] = means[best]
		res[KeyPCS] = PCS(lm, lv, lc, e.ProblemType)
		for k, p := range PCSPerConfiguration(lm, lv, lc, e.ProblemType) {
			pcsVector[idx[k]] = p
		}
		for _, k := range Rank(lm, lv, lc, e.ProblemType) {
			rank = append(rank, idx[k])
		}
	} else {
		res[KeyBestConfiguration] = ""
		res[KeyBestIndex] = -1
		res[KeyBestPerformance] = math.NaN()
		res[KeyPCS] = math.NaN()
	}
	for i, d := range st.Dropped {
		if d {
			rank = append(rank, i)
			dropped = append(dropped, i)
		}
	}
	res[KeyNumEvaluations] = st.BudgetUsed()
	res[KeyAllocationVector] = append([]int(nil), st.Allocated...)
	res[KeyMeansVector] = means
	res[KeyRank] = rank
	res[KeyPCSVector] = pcsVector
	res[KeyConfigurations] = names
	res[KeyDropped] = dropped
	if e.DetailedResults {
		w := len(fmt.Sprint(len(st.Stats)))
		for i, s := range st.Stats {
			res[fmt.Sprintf("%s.%s%0*d", e.Objective, e.TaskLabel, max(2, w), i+1)] = s.Clone()
		}
	}
}

// Clone implements sim.Experiment.
func (e *Experiment) Clone(seed int64) sim.Experiment {
	c := *e
	c.Factors = e.Factors.Clone()
	c.alloc = nil
	c.MultiExperiment = e.CloneMulti(seed, &c)
	return &c
}
