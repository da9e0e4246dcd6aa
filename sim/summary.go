package sim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// SummaryStat accumulates count, mean and variance of a stream of
// observations incrementally (Welford), plus min/max/sum.
//
// Variance, Stddev and HalfWidth need at least two observations and return
// NaN otherwise. The zero value is an empty aggregate ready for use.
type SummaryStat struct {
	count int
	mean  float64
	m2    float64 // sum of squared deviations from the mean
	min   float64
	max   float64
	sum   float64
}

// NewSummaryStat returns an aggregate with the given observations folded in.
func NewSummaryStat(values ...float64) *SummaryStat {
	s := &SummaryStat{}
	for _, v := range values {
		s.Value(v)
	}
	return s
}

// Value folds one observation into the aggregate.
func (s *SummaryStat) Value(x float64) *SummaryStat {
	s.count++
	if s.count == 1 {
		s.min, s.max = x, x
	} else {
		s.min = math.Min(s.min, x)
		s.max = math.Max(s.max, x)
	}
	s.sum += x
	delta := x - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (x - s.mean)
	return s
}

// Combine merges other into s (Chan et al. parallel variance). Merging an
// empty aggregate leaves s unchanged.
func (s *SummaryStat) Combine(other *SummaryStat) *SummaryStat {
	if other == nil || other.count == 0 {
		return s
	}
	if s.count == 0 {
		*s = *other
		return s
	}
	n := float64(s.count + other.count)
	delta := other.mean - s.mean
	s.m2 += other.m2 + delta*delta*float64(s.count)*float64(other.count)/n
	s.mean += delta * float64(other.count) / n
	s.count += other.count
	s.sum += other.sum
	s.min = math.Min(s.min, other.min)
	s.max = math.Max(s.max, other.max)
	return s
}

// Clone returns an independent copy.
func (s *SummaryStat) Clone() *SummaryStat {
	c := *s
	return &c
}

func (s *SummaryStat) Count() int    { return s.count }
func (s *SummaryStat) Sum() float64  { return s.sum }
func (s *SummaryStat) Min() float64  { return s.nanIfEmpty(s.min) }
func (s *SummaryStat) Max() float64  { return s.nanIfEmpty(s.max) }
func (s *SummaryStat) Mean() float64 { return s.nanIfEmpty(s.mean) }

// Variance returns the sample variance (n-1 denominator).
func (s *SummaryStat) Variance() float64 {
	if s.count < 2 {
		return math.NaN()
	}
	return math.Max(0, s.m2/float64(s.count-1))
}

func (s *SummaryStat) Stddev() float64 { return math.Sqrt(s.Variance()) }

// HalfWidth returns the two-sided confidence interval half-width
// |t_{n-1, errorProb/2}| * sqrt(variance/n).
func (s *SummaryStat) HalfWidth(errorProb float64) float64 {
	if s.count < 2 {
		return math.NaN()
	}
	return StudentT(s.count-1, errorProb) * math.Sqrt(s.Variance()/float64(s.count))
}

// StudentT returns |t| at upper tail probability errorProb/2 for dof degrees of freedom.
func StudentT(dof int, errorProb float64) float64 {
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dof)}
	return math.Abs(t.Quantile(1 - errorProb/2))
}

func (s *SummaryStat) nanIfEmpty(v float64) float64 {
	if s.count == 0 {
		return math.NaN()
	}
	return v
}

// String returns a human-readable summary.
func (s *SummaryStat) String() string {
	return fmt.Sprintf("mean=%.6g stddev=%.6g n=%d min=%.6g max=%.6g",
		s.Mean(), s.Stddev(), s.count, s.Min(), s.Max())
}
