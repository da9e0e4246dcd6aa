package multi

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/inference-sim/simexp/sim"
)

// Task is one experiment instance submitted in a round. Index is the
// position within the round and Seq the 1-based number across all rounds of
// the orchestrator; results are matched back by this identity, never by
// arrival order.
type Task struct {
	Experiment sim.Experiment
	Round      int
	Index      int
	Seq        int
}

// Executor runs tasks asynchronously.
type Executor interface {
	Submit(ctx context.Context, task Task) *Handle
}

// Handle is the caller's view of a submitted task.
type Handle struct {
	task   Task
	cancel context.CancelFunc
	done   chan struct{}
	res    sim.ResultMap
}

func newHandle(task Task, cancel context.CancelFunc) *Handle {
	return &Handle{task: task, cancel: cancel, done: make(chan struct{})}
}

// Task returns the submitted task.
func (h *Handle) Task() Task { return h.task }

// Await blocks until the task delivered its result map.
func (h *Handle) Await() sim.ResultMap {
	<-h.done
	return h.res
}

// Cancel interrupts the task. Cancellation is cooperative: a running
// experiment notices it through its context and may still deliver a
// partial result.
func (h *Handle) Cancel() { h.cancel() }

// Done reports whether the result is available.
func (h *Handle) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle) complete(res sim.ResultMap) {
	h.res = res
	h.cancel()
	close(h.done)
}

// PoolExecutor runs at most Workers tasks at a time, each on its own goroutine.
type PoolExecutor struct {
	workers int
	sem     *semaphore.Weighted
}

// NewPoolExecutor creates a pool; workers < 1 means AvailableParallelism().
func NewPoolExecutor(workers int) *PoolExecutor {
	if workers < 1 {
		workers = AvailableParallelism()
	}
	return &PoolExecutor{workers: workers, sem: semaphore.NewWeighted(int64(workers))}
}

// Workers returns the pool's capacity.
func (p *PoolExecutor) Workers() int { return p.workers }

// Submit starts the task once a worker slot is free. A task cancelled while
// waiting for a slot completes with a placeholder aborted result.
func (p *PoolExecutor) Submit(ctx context.Context, task Task) *Handle {
	taskCtx, cancel := context.WithCancel(ctx)
	h := newHandle(task, cancel)
	go func() {
		if err := p.sem.Acquire(taskCtx, 1); err != nil {
			h.complete(sim.CancelledResult(task.Experiment, err))
			return
		}
		defer p.sem.Release(1)
		res, _ := sim.Execute(taskCtx, task.Experiment)
		h.complete(res)
	}()
	return h
}

// AvailableParallelism returns the number of tasks that can truly run at once.
func AvailableParallelism() int {
	return runtime.GOMAXPROCS(0)
}

// === Per-nesting-level pools ===

// NewExecutorFunc creates the executor used for tasks at a nesting level.
// Replace it before running experiments to plug in a different pool.
var NewExecutorFunc = func(level int) Executor {
	return NewPoolExecutor(0)
}

var (
	executorsMu sync.Mutex
	executors   = make(map[int]Executor)
)

// ExecutorFor returns the shared executor for tasks at the given nesting
// level. Each level has its own pool so that an orchestrator waiting on its
// children never holds the slots those children need.
func ExecutorFor(level int) Executor {
	executorsMu.Lock()
	defer executorsMu.Unlock()
	if e, ok := executors[level]; ok {
		return e
	}
	e := NewExecutorFunc(level)
	executors[level] = e
	return e
}

// ResetExecutors drops all cached per-level executors.
func ResetExecutors() {
	executorsMu.Lock()
	defer executorsMu.Unlock()
	executors = make(map[int]Executor)
}
