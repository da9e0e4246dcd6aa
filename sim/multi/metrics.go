package multi

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts orchestrator activity, labelled by nesting level.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Tasks         *prometheus.CounterVec
	TasksAborted  *prometheus.CounterVec
	Rounds        *prometheus.CounterVec
	TasksInflight *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Tasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simexp_tasks_total",
			Help: "Experiment tasks whose results were collected.",
		}, []string{"level"}),
		TasksAborted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simexp_tasks_aborted_total",
			Help: "Collected tasks that aborted or were cancelled.",
		}, []string{"level"}),
		Rounds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simexp_rounds_total",
			Help: "Completed orchestrator rounds.",
		}, []string{"level"}),
		TasksInflight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "simexp_tasks_inflight",
			Help: "Tasks submitted but not yet collected.",
		}, []string{"level"}),
	}
}

func (m *Metrics) taskSubmitted(level int) {
	if m == nil {
		return
	}
	m.TasksInflight.WithLabelValues(strconv.Itoa(level)).Inc()
}

func (m *Metrics) taskCollected(level int, aborted bool) {
	if m == nil {
		return
	}
	l := strconv.Itoa(level)
	m.TasksInflight.WithLabelValues(l).Dec()
	m.Tasks.WithLabelValues(l).Inc()
	if aborted {
		m.TasksAborted.WithLabelValues(l).Inc()
	}
}

// taskDropped accounts for a cancelled task whose result is never collected.
func (m *Metrics) taskDropped(level int) {
	if m == nil {
		return
	}
	m.TasksInflight.WithLabelValues(strconv.Itoa(level)).Dec()
}

func (m *Metrics) roundDone(level int) {
	if m == nil {
		return
	}
	m.Rounds.WithLabelValues(strconv.Itoa(level)).Inc()
}
