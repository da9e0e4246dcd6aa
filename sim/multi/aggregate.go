package multi

import (
	"fmt"
	"strings"

	"github.com/inference-sim/simexp/sim"
)

// BaseExperimentPrefix prefixes the republished special keys of the tasks.
const BaseExperimentPrefix = "baseExperiment."

// OtherSuffix disambiguates a value list whose key is already taken by an aggregate.
const OtherSuffix = "@Other"

// specialKeys are republished verbatim under BaseExperimentPrefix.
var specialKeys = map[string]bool{
	sim.KeyRunTime:  true,
	sim.KeyNumTasks: true,
	sim.KeyAborted:  true,
}

// aggregator folds task result maps into per-key aggregates and value lists.
// Owned by the orchestrator's control goroutine.
type aggregator struct {
	keep  map[string]bool
	label string

	stats     map[string]*sim.SummaryStat
	statOrder []string
	fromStat  map[string]bool // key's source values were aggregates
	lists     map[string][]any
	listOrder []string
	kept      map[string]any
}

func newAggregator(keep []string, label string) *aggregator {
	a := &aggregator{
		keep:     make(map[string]bool, len(keep)),
		label:    label,
		stats:    make(map[string]*sim.SummaryStat),
		fromStat: make(map[string]bool),
		lists:    make(map[string][]any),
		kept:     make(map[string]any),
	}
	for _, k := range keep {
		a.keep[k] = true
	}
	return a
}

// add folds the result map of task number seq (1-based) out of width digits.
func (a *aggregator) add(seq, width int, res sim.ResultMap) {
	for _, key := range res.Keys() {
		val := res[key]

		if a.shouldKeep(key) {
			a.kept[fmt.Sprintf("%s.%s%0*d", key, a.label, width, seq)] = val
		}

		if st, ok := val.(*sim.SummaryStat); ok {
			a.fromStat[key] = true
			if st.Count() > 0 {
				a.stat(key).Value(st.Mean())
			}
			continue
		}
		if x, ok := sim.ToFloat(val); ok {
			a.stat(key).Value(x)
			continue
		}
		if _, ok := a.lists[key]; !ok {
			a.listOrder = append(a.listOrder, key)
		}
		a.lists[key] = append(a.lists[key], val)
	}
}

func (a *aggregator) shouldKeep(key string) bool {
	if len(a.keep) == 0 {
		return false
	}
	if a.keep[key] {
		return true
	}
	if i := strings.LastIndex(key, "."); i > 0 {
		return a.keep[key[:i]]
	}
	return false
}

func (a *aggregator) stat(key string) *sim.SummaryStat {
	s, ok := a.stats[key]
	if !ok {
		s = &sim.SummaryStat{}
		a.stats[key] = s
		a.statOrder = append(a.statOrder, key)
	}
	return s
}

// current returns the running aggregate for key, or nil.
func (a *aggregator) current(key string) *sim.SummaryStat {
	return a.stats[key]
}

// publish writes all aggregates, value lists and kept raw values into res.
func (a *aggregator) publish(res sim.ResultMap) {
	for _, key := range a.statOrder {
		name := key
		switch {
		case specialKeys[key]:
			name = BaseExperimentPrefix + key
		case a.fromStat[key]:
			name = key + ".mean"
		}
		res[name] = a.stats[key]
	}
	for _, key := range a.listOrder {
		vals := a.lists[key]
		arr := make([]any, len(vals))
		copy(arr, vals)
		name := key
		if _, taken := res[name]; taken {
			name = key + OtherSuffix
		}
		res[name] = arr
	}
	for key, val := range a.kept {
		res[key] = val
	}
}

// padWidth returns the zero-padding width for task numbers up to n.
func padWidth(n int) int {
	w := len(fmt.Sprint(n))
	if w < 2 {
		w = 2
	}
	return w
}
