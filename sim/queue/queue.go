// Package queue provides a multi-server FIFO queue with exponential
// interarrival and service times. It is the base experiment the command
// line tool runs when a plan does not name another one.
package queue

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simexp/sim"
	"github.com/inference-sim/simexp/sim/design"
)

// Result keys.
const (
	KeyFlowtime    = "flowtime"
	KeyWaitingTime = "waitingTime"
	KeyUtilization = "utilization"
	KeyCost        = "cost"
	KeyNumJobs     = "numJobs"
)

const cancelCheckInterval = 1024

// Experiment simulates NumJobs jobs through NumServers identical servers.
// The first WarmUpJobs jobs are simulated but not measured.
type Experiment struct {
	*sim.BaseExperiment

	ArrivalRate float64 // jobs per time unit
	ServiceRate float64 // jobs per time unit and server
	NumServers  int
	NumJobs     int
	WarmUpJobs  int
	HoldingCost float64 // per job and time unit in the system
	ServerCost  float64 // per server and time unit
}

// New returns an M/M/1 queue at 90% load.
func New(name string, seed int64) *Experiment {
	return &Experiment{
		BaseExperiment: sim.NewBaseExperiment(name, seed),
		ArrivalRate:    0.9,
		ServiceRate:    1,
		NumServers:     1,
		NumJobs:        10_000,
		WarmUpJobs:     1_000,
		HoldingCost:    1,
		ServerCost:     1,
	}
}

// Setters returns the properties a design can vary.
func Setters() design.Setters {
	return design.Setters{
		"arrivalRate": design.Property(func(q *Experiment, v float64) { q.ArrivalRate = v }),
		"serviceRate": design.Property(func(q *Experiment, v float64) { q.ServiceRate = v }),
		"numServers":  design.Property(func(q *Experiment, v int) { q.NumServers = v }),
		"numJobs":     design.Property(func(q *Experiment, v int) { q.NumJobs = v }),
		"warmUpJobs":  design.Property(func(q *Experiment, v int) { q.WarmUpJobs = v }),
		"holdingCost": design.Property(func(q *Experiment, v float64) { q.HoldingCost = v }),
		"serverCost":  design.Property(func(q *Experiment, v float64) { q.ServerCost = v }),
	}
}

// Validate checks the parameters.
func (q *Experiment) Validate() error {
	switch {
	case q.ArrivalRate <= 0:
		return fmt.Errorf("arrivalRate must be positive, got %g", q.ArrivalRate)
	case q.ServiceRate <= 0:
		return fmt.Errorf("serviceRate must be positive, got %g", q.ServiceRate)
	case q.NumServers < 1:
		return fmt.Errorf("numServers must be at least 1, got %d", q.NumServers)
	case q.WarmUpJobs < 0:
		return fmt.Errorf("warmUpJobs must not be negative, got %d", q.WarmUpJobs)
	case q.NumJobs <= q.WarmUpJobs:
		return fmt.Errorf("numJobs (%d) must exceed warmUpJobs (%d)", q.NumJobs, q.WarmUpJobs)
	}
	return nil
}

// Run implements sim.Experiment.
func (q *Experiment) Run(ctx context.Context) (sim.ResultMap, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	arrivals := sim.NewRand(q.Seed(), "arrivals")
	service := sim.NewRand(q.Seed(), "service")

	free := make(serverHeap, q.NumServers)
	heap.Init(&free)

	flow := &sim.SummaryStat{}
	wait := &sim.SummaryStat{}
	var now, busy, measureStart, lastDeparture float64
	for i := 0; i < q.NumJobs; i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if q.Aborted() {
				return nil, sim.ErrAborted
			}
		}
		now += arrivals.ExpFloat64() / q.ArrivalRate
		start := max(now, heap.Pop(&free).(float64))
		svc := service.ExpFloat64() / q.ServiceRate
		end := start + svc
		heap.Push(&free, end)

		if i < q.WarmUpJobs {
			continue
		}
		if i == q.WarmUpJobs {
			measureStart = now
		}
		flow.Value(end - now)
		wait.Value(start - now)
		busy += svc
		lastDeparture = max(lastDeparture, end)
	}

	span := lastDeparture - measureStart
	utilization := 0.0
	if span > 0 {
		utilization = busy / (float64(q.NumServers) * span)
	}
	// Little's law: mean number in system = arrival rate * mean flowtime.
	cost := q.HoldingCost*q.ArrivalRate*flow.Mean() + q.ServerCost*float64(q.NumServers)
	logrus.Debugf("queue %s: %d jobs, flowtime %.4g, utilization %.3f", q.Name(), flow.Count(), flow.Mean(), utilization)

	return sim.ResultMap{
		KeyFlowtime:    flow,
		KeyWaitingTime: wait,
		KeyUtilization: utilization,
		KeyCost:        cost,
		KeyNumJobs:     flow.Count(),
	}, nil
}

// Clone implements sim.Experiment.
func (q *Experiment) Clone(seed int64) sim.Experiment {
	c := *q
	c.BaseExperiment = q.CloneBase(seed)
	return &c
}

// serverHeap holds the times at which servers become free, earliest first.
type serverHeap []float64

func (h serverHeap) Len() int           { return len(h) }
func (h serverHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h serverHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *serverHeap) Push(x any) {
	*h = append(*h, x.(float64))
}

func (h *serverHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}
