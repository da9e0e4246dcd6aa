package multi

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simexp/sim"
)

// Planner decides what an orchestrator runs. CreateTasks is called once per
// round and returns the experiments of that round; HasMoreTasks is called
// after all results of the round were collected.
type Planner interface {
	CreateTasks(round int) ([]sim.Experiment, error)
	HasMoreTasks(round int) bool
}

// ResultObserver is implemented by planners that need each task's raw
// result map, e.g. to attribute it to a configuration. Called on the
// orchestrator's control goroutine in submission order.
type ResultObserver interface {
	ObserveResult(task Task, res sim.ResultMap)
}

// ResultProducer is implemented by planners that publish extra keys at the end of a run.
type ResultProducer interface {
	ProduceResults(res sim.ResultMap)
}

// Options configures a MultiExperiment.
type Options struct {
	// AbortUponBaseExperimentAbort stops the round at the first aborted task
	// and aborts the orchestrator itself after that round.
	AbortUponBaseExperimentAbort bool
	// CommonRandomNumbers gives every task the orchestrator's own seed.
	CommonRandomNumbers bool
	// SkipSeedCount discards seeds at the start of the seed stream.
	SkipSeedCount int
	// Sequential runs tasks one at a time on the control goroutine.
	Sequential bool
	// Parallelism overrides AvailableParallelism() in round sizing decisions.
	Parallelism int
	// KeepResults names result keys (or key prefixes) whose raw per-task values are kept.
	KeepResults []string
	// TaskLabel prefixes the task number in kept result keys.
	TaskLabel string
	// Executor overrides the per-nesting-level pool.
	Executor Executor
	// Metrics receives orchestrator counters; nil disables them.
	Metrics *Metrics
}

// DefaultOptions returns the defaults: common random numbers on, parallel execution.
func DefaultOptions() Options {
	return Options{
		CommonRandomNumbers: true,
		TaskLabel:           "task",
	}
}

// MultiExperiment runs the rounds a Planner asks for and aggregates the
// results of all tasks. Concrete orchestrators embed *MultiExperiment and
// pass themselves as the Planner.
type MultiExperiment struct {
	*sim.BaseExperiment
	Options

	planner Planner

	// run state, reset by Run
	runID            string
	seeds            *sim.SeedStream
	agg              *aggregator
	numTasksExecuted int
	numAborted       int
	round            int
}

// New creates a MultiExperiment driven by planner.
func New(name string, seed int64, planner Planner, opts Options) *MultiExperiment {
	if opts.TaskLabel == "" {
		opts.TaskLabel = "task"
	}
	return &MultiExperiment{
		BaseExperiment: sim.NewBaseExperiment(name, seed),
		Options:        opts,
		planner:        planner,
	}
}

// CloneMulti returns a fresh MultiExperiment with the same options, the new
// seed and the given planner. Used by the Clone methods of orchestrators.
func (m *MultiExperiment) CloneMulti(seed int64, planner Planner) *MultiExperiment {
	opts := m.Options
	opts.KeepResults = append([]string(nil), m.KeepResults...)
	return &MultiExperiment{
		BaseExperiment: m.CloneBase(seed),
		Options:        opts,
		planner:        planner,
	}
}

// NumTasksExecuted returns the number of task results collected so far.
func (m *MultiExperiment) NumTasksExecuted() int { return m.numTasksExecuted }

// NumAborted returns the number of collected tasks that aborted.
func (m *MultiExperiment) NumAborted() int { return m.numAborted }

// Round returns the index of the round being planned or executed.
func (m *MultiExperiment) Round() int { return m.round }

// Parallel returns the parallelism used for round sizing.
func (m *MultiExperiment) Parallel() int {
	if m.Parallelism > 0 {
		return m.Parallelism
	}
	return AvailableParallelism()
}

// TaskSeed returns the seed for the next task: the orchestrator's own seed
// under common random numbers, the next stream seed otherwise.
func (m *MultiExperiment) TaskSeed() int64 {
	if m.CommonRandomNumbers {
		return m.Seed()
	}
	return m.StreamSeed()
}

// StreamSeed always draws the next seed from the seed stream.
func (m *MultiExperiment) StreamSeed() int64 {
	if m.seeds == nil {
		m.seeds = sim.NewSeedStream(m.Seed(), m.SkipSeedCount)
	}
	return m.seeds.Next()
}

// Current returns the running aggregate of a result key over all tasks collected so far.
func (m *MultiExperiment) Current(key string) *sim.SummaryStat {
	if m.agg == nil {
		return nil
	}
	return m.agg.current(key)
}

// Log returns a logger carrying the run's identity.
func (m *MultiExperiment) Log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"experiment": m.Name(),
		"run":        m.runID,
		"nesting":    m.NestingLevel(),
	})
}

// Run executes rounds until the planner has no more tasks, the orchestrator
// aborts, or ctx is cancelled. An error from CreateTasks ends the run
// before any task of that round starts.
func (m *MultiExperiment) Run(ctx context.Context) (sim.ResultMap, error) {
	m.init()
	log := m.Log()
	log.Debugf("starting multi-experiment")

	for m.round = 0; ; m.round++ {
		exps, err := m.planner.CreateTasks(m.round)
		if err != nil {
			return nil, fmt.Errorf("creating tasks of round %d: %w", m.round, err)
		}
		tasks := m.prepare(exps)
		log.Debugf("round %d: %d tasks", m.round, len(tasks))

		aborted := m.execute(ctx, tasks)
		m.Metrics.roundDone(m.NestingLevel())

		if aborted && m.AbortUponBaseExperimentAbort {
			log.Warnf("round %d: base experiment aborted, aborting", m.round)
			m.Abort()
			break
		}
		if ctx.Err() != nil {
			break
		}
		if !m.planner.HasMoreTasks(m.round) {
			break
		}
	}

	res := make(sim.ResultMap)
	m.produceResults(res)
	return res, nil
}

func (m *MultiExperiment) init() {
	m.runID = uuid.NewString()[:12]
	m.seeds = nil
	m.agg = newAggregator(m.KeepResults, m.TaskLabel)
	m.numTasksExecuted = 0
	m.numAborted = 0
	m.round = 0
}

// prepare wraps the round's experiments into tasks one nesting level below.
func (m *MultiExperiment) prepare(exps []sim.Experiment) []Task {
	tasks := make([]Task, 0, len(exps))
	for _, e := range exps {
		if e == nil {
			continue
		}
		e.Base().SetNestingLevel(m.NestingLevel() + 1)
		tasks = append(tasks, Task{
			Experiment: e,
			Round:      m.round,
			Index:      len(tasks),
			Seq:        m.numTasksExecuted + len(tasks) + 1,
		})
	}
	return tasks
}

// execute runs one round and reports whether any collected task aborted.
func (m *MultiExperiment) execute(ctx context.Context, tasks []Task) bool {
	if len(tasks) == 0 {
		return false
	}
	width := padWidth(m.numTasksExecuted + len(tasks))
	if m.Sequential {
		return m.executeSequential(ctx, tasks, width)
	}
	return m.executeParallel(ctx, tasks, width)
}

func (m *MultiExperiment) executeSequential(ctx context.Context, tasks []Task, width int) bool {
	anyAborted := false
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		m.Metrics.taskSubmitted(m.NestingLevel())
		res, _ := sim.Execute(ctx, t.Experiment)
		if m.collect(t, res, width) {
			anyAborted = true
			if m.AbortUponBaseExperimentAbort {
				break
			}
		}
	}
	return anyAborted
}

func (m *MultiExperiment) executeParallel(ctx context.Context, tasks []Task, width int) bool {
	exec := m.Executor
	if exec == nil {
		exec = ExecutorFor(m.NestingLevel() + 1)
	}

	handles := make([]*Handle, len(tasks))
	for i, t := range tasks {
		m.Metrics.taskSubmitted(m.NestingLevel())
		handles[i] = exec.Submit(ctx, t)
	}

	anyAborted := false
	for i, h := range handles {
		if m.collect(h.Task(), h.Await(), width) {
			anyAborted = true
			if m.AbortUponBaseExperimentAbort {
				for _, pending := range handles[i+1:] {
					pending.Cancel()
					m.Metrics.taskDropped(m.NestingLevel())
				}
				m.Log().Debugf("cancelled %d pending tasks", len(handles)-i-1)
				break
			}
		}
	}
	return anyAborted
}

// collect stores one task's results and reports whether the task aborted.
func (m *MultiExperiment) collect(t Task, res sim.ResultMap, width int) bool {
	if res == nil {
		res = sim.CancelledResult(t.Experiment, nil)
	}
	aborted := res.IsAborted()
	m.numTasksExecuted++
	if aborted {
		m.numAborted++
		m.Log().Debugf("task %s aborted: %v", t.Experiment.Base().Name(), res[sim.KeyException])
	}
	m.agg.add(t.Seq, width, res)
	if obs, ok := m.planner.(ResultObserver); ok {
		obs.ObserveResult(t, res)
	}
	m.Metrics.taskCollected(m.NestingLevel(), aborted)
	return aborted
}

// produceResults publishes the aggregates of all rounds into res.
func (m *MultiExperiment) produceResults(res sim.ResultMap) {
	res[sim.KeyNumTasks] = m.numTasksExecuted
	m.agg.publish(res)
	if p, ok := m.planner.(ResultProducer); ok {
		p.ProduceResults(res)
	}
	m.Log().Infof("finished after %d rounds, %d tasks (%d aborted)", m.round+1, m.numTasksExecuted, m.numAborted)
}
