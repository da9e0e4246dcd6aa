// Package ocba implements Optimal Computing Budget Allocation (Chen et al.
// 2000): replications are spread over the configurations of a design so as
// to maximize the probability of correctly selecting the best one.
package ocba

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// ProblemType states whether smaller or larger objective values are better.
type ProblemType int

const (
	Minimize ProblemType = iota
	Maximize
)

func (p ProblemType) String() string {
	if p == Maximize {
		return "maximize"
	}
	return "minimize"
}

// ParseProblemType accepts "min", "minimize", "max" and "maximize".
func ParseProblemType(s string) (ProblemType, error) {
	switch strings.ToLower(s) {
	case "", "min", "minimize":
		return Minimize, nil
	case "max", "maximize":
		return Maximize, nil
	}
	return Minimize, fmt.Errorf("unknown problem type %q", s)
}

// epsilon floors variances and mean differences.
const epsilon = 1e-12

// minComparable is the number of observations a configuration needs before
// its mean and variance are used.
const minComparable = 2

// Allocate returns how many additional replications each configuration
// should get out of addBudget, given the current means, variances and
// observation counts. Results are non-negative.
//
// Shares are computed on the total budget (observed plus addBudget).
// Configurations whose share falls below their observed count are frozen at
// that count and the rest is redistributed until nothing else freezes.
// Shares are truncated to integers and the rounding residual goes to the
// current best.
//
// Configurations with fewer than two observations cannot be compared yet.
// Each first gets the replications it lacks to reach two; the remaining
// budget is split among the comparable ones as above.
func Allocate(means, variances []float64, counts []int, addBudget int, pt ProblemType) []int {
	nd := len(means)
	deltas := make([]int, nd)
	if nd == 0 || addBudget <= 0 {
		return deltas
	}
	if nd == 1 {
		deltas[0] = addBudget
		return deltas
	}

	var young, ready []int
	for i := range means {
		if counts[i] < minComparable || math.IsNaN(means[i]) || math.IsNaN(variances[i]) {
			young = append(young, i)
		} else {
			ready = append(ready, i)
		}
	}
	for _, i := range young {
		d := min(max(1, minComparable-counts[i]), addBudget)
		deltas[i] += d
		addBudget -= d
	}
	switch {
	case addBudget == 0:
		return deltas
	case len(ready) == 0:
		for k := 0; k < addBudget; k++ {
			deltas[young[k%len(young)]]++
		}
		return deltas
	case len(young) > 0:
		sub := chen(pick(means, ready), pick(variances, ready), pick(counts, ready), addBudget, pt)
		for k, i := range ready {
			deltas[i] += sub[k]
		}
		return deltas
	}
	return chen(means, variances, counts, addBudget, pt)
}

// chen allocates addBudget among configurations that all have at least two
// observations.
func chen(means, variances []float64, counts []int, addBudget int, pt ProblemType) []int {
	nd := len(means)
	deltas := make([]int, nd)
	if nd == 1 {
		deltas[0] = addBudget
		return deltas
	}

	m := normalized(means, pt)
	vars := make([]float64, nd)
	for i, v := range variances {
		vars[i] = math.Max(v, epsilon)
	}
	b, s := bestTwo(m)

	ratio := make([]float64, nd)
	ratio[s] = 1
	num := floorDiff(m[b] - m[s])
	for i := range ratio {
		if i == b || i == s {
			continue
		}
		r := num / floorDiff(m[b]-m[i])
		ratio[i] = r * r * vars[i] / vars[s]
	}
	sum := 0.0
	for i := range ratio {
		if i != b {
			sum += ratio[i] * ratio[i] / vars[i]
		}
	}
	ratio[b] = math.Sqrt(vars[b] * sum)

	tBudget := addBudget
	for _, n := range counts {
		tBudget += n
	}
	an := make([]int, nd)
	active := make([]bool, nd)
	for i := range active {
		active[i] = true
	}
	t1Budget := tBudget
	for {
		frozen := false
		ratioSum := 0.0
		for i, r := range ratio {
			if active[i] {
				ratioSum += r
			}
		}
		for i := range an {
			if !active[i] {
				continue
			}
			an[i] = int(float64(t1Budget) / ratioSum * ratio[i])
			if an[i] < counts[i] {
				an[i] = counts[i]
				active[i] = false
				frozen = true
			}
		}
		if !frozen {
			break
		}
		t1Budget = tBudget
		for i := range an {
			if !active[i] {
				t1Budget -= an[i]
			}
		}
	}

	allocated := 0
	for _, a := range an {
		allocated += a
	}
	an[b] += tBudget - allocated
	for i := range an {
		deltas[i] = max(0, an[i]-counts[i])
	}
	return deltas
}

// PCSPerConfiguration returns, for every configuration, the approximate
// probability that the current best is better than it. The best itself gets
// 1. Pairs involving a configuration with fewer than two observations get 0.5.
func PCSPerConfiguration(means, variances []float64, counts []int, pt ProblemType) []float64 {
	p := make([]float64, len(means))
	if len(means) == 0 {
		return p
	}
	m := normalized(means, pt)
	b := argmin(m)
	for i := range p {
		if i == b {
			p[i] = 1
			continue
		}
		if counts[i] < minComparable || counts[b] < minComparable || math.IsNaN(means[i]) || math.IsNaN(means[b]) {
			p[i] = 0.5
			continue
		}
		sd := math.Sqrt(math.Max(variances[b], 0)/float64(counts[b]) + math.Max(variances[i], 0)/float64(counts[i]))
		if sd < epsilon {
			sd = epsilon
		}
		// P(mean_b < mean_i) for normalized means.
		p[i] = distuv.UnitNormal.CDF((m[i] - m[b]) / sd)
	}
	return p
}

// PCS is the product of PCSPerConfiguration over all non-best
// configurations; 1 for a single configuration.
func PCS(means, variances []float64, counts []int, pt ProblemType) float64 {
	pcs := 1.0
	for _, p := range PCSPerConfiguration(means, variances, counts, pt) {
		pcs *= p
	}
	return pcs
}

// Best returns the index of the best mean, or -1 if there is none.
func Best(means []float64, pt ProblemType) int {
	if len(means) == 0 {
		return -1
	}
	return argmin(normalized(means, pt))
}

// Rank orders configurations best first, then by ascending probability of
// being beaten by the best, i.e. the closest competitors first.
func Rank(means, variances []float64, counts []int, pt ProblemType) []int {
	p := PCSPerConfiguration(means, variances, counts, pt)
	b := Best(means, pt)
	idx := make([]int, len(means))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(x, y int) bool {
		i, j := idx[x], idx[y]
		if i == b || j == b {
			return i == b && j != b
		}
		return p[i] < p[j]
	})
	return idx
}

// normalized returns the means with the sign chosen so smaller is better.
// NaN means sort last.
func normalized(means []float64, pt ProblemType) []float64 {
	m := make([]float64, len(means))
	for i, v := range means {
		switch {
		case math.IsNaN(v):
			m[i] = math.Inf(1)
		case pt == Maximize:
			m[i] = -v
		default:
			m[i] = v
		}
	}
	return m
}

func pick[T any](vals []T, idx []int) []T {
	out := make([]T, len(idx))
	for k, i := range idx {
		out[k] = vals[i]
	}
	return out
}

func argmin(m []float64) int {
	b := 0
	for i, v := range m {
		if v < m[b] {
			b = i
		}
	}
	return b
}

// bestTwo returns the smallest and second smallest index.
func bestTwo(m []float64) (b, s int) {
	b = argmin(m)
	s = -1
	for i, v := range m {
		if i != b && (s < 0 || v < m[s]) {
			s = i
		}
	}
	return b, s
}

// floorDiff keeps a difference of normalized means (best minus other, so
// never positive) away from zero.
func floorDiff(d float64) float64 {
	if d > -epsilon {
		return -epsilon
	}
	return d
}
