package ocba

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inference-sim/simexp/sim/internal/testutil"
)

func TestAllocate_TwoConfigurationsResidualToBest(t *testing.T) {
	// GIVEN means {10, 20}, equal variances and the worse one already well sampled
	tests := []struct {
		name   string
		counts []int
	}{
		{"share equals observed", []int{5, 15}},
		{"share below observed freezes", []int{5, 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// WHEN 10 more replications are allocated
			got := Allocate([]float64{10, 20}, []float64{4, 4}, tt.counts, 10, Minimize)

			// THEN the whole budget lands on the best configuration
			assert.Equal(t, []int{10, 0}, got)
		})
	}
}

func TestAllocate_EqualSharesWhenUnsampledEvenly(t *testing.T) {
	got := Allocate([]float64{10, 20}, []float64{4, 4}, []int{5, 5}, 10, Minimize)
	assert.Equal(t, []int{5, 5}, got)
}

func TestAllocate_MaximizeMirrorsMinimize(t *testing.T) {
	means := []float64{3, 7, 4, 9}
	neg := make([]float64, len(means))
	for i, m := range means {
		neg[i] = -m
	}
	vars := []float64{1, 2, 1.5, 0.5}
	counts := []int{5, 5, 5, 5}

	assert.Equal(t,
		Allocate(means, vars, counts, 20, Minimize),
		Allocate(neg, vars, counts, 20, Maximize))
}

func TestAllocate_NonNegativeAndConserving(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 200; iter++ {
		nd := 2 + rng.Intn(8)
		means := make([]float64, nd)
		vars := make([]float64, nd)
		counts := make([]int, nd)
		for i := range means {
			means[i] = rng.Float64() * 100
			vars[i] = 0.1 + rng.Float64()*50
			counts[i] = 2 + rng.Intn(30)
		}
		add := 1 + rng.Intn(50)

		got := Allocate(means, vars, counts, add, ProblemType(iter%2))

		sum := 0
		for i, d := range got {
			if d < 0 {
				t.Fatalf("iteration %d: negative allocation %d for configuration %d", iter, d, i)
			}
			sum += d
		}
		if sum != add {
			t.Errorf("iteration %d: allocated %d, want %d (means %v counts %v got %v)", iter, sum, add, means, counts, got)
		}
	}
}

func TestAllocate_YoungConfigurationGetsOnlyItsDeficit(t *testing.T) {
	// GIVEN two comparable configurations and one without observations
	means := []float64{1, math.NaN(), 2}
	vars := []float64{1, math.NaN(), 1}
	counts := []int{5, 0, 5}

	// WHEN 10 replications are allocated
	got := Allocate(means, vars, counts, 10, Minimize)

	// THEN the young one gets the two it needs and the rest is split among the others
	assert.Equal(t, []int{4, 2, 4}, got)
}

func TestAllocate_FrozenConfigurationsGetNothing(t *testing.T) {
	// GIVEN a clearly bad configuration that is already heavily sampled
	means := []float64{1, 1.5, 50}
	vars := []float64{1, 1, 1}
	counts := []int{4, 4, 500}

	got := Allocate(means, vars, counts, 12, Minimize)

	assert.Equal(t, 0, got[2])
	assert.Equal(t, 12, got[0]+got[1])
}

func TestAllocate_Degenerate(t *testing.T) {
	tests := []struct {
		name   string
		means  []float64
		vars   []float64
		counts []int
		add    int
		want   []int
	}{
		{"single configuration", []float64{4}, []float64{1}, []int{3}, 7, []int{7}},
		{"no budget", []float64{1, 2}, []float64{1, 1}, []int{3, 3}, 0, []int{0, 0}},
		{"unsampled get their deficit first", []float64{1, math.NaN(), 3}, []float64{1, math.NaN(), 1}, []int{5, 0, 1}, 5, []int{2, 2, 1}},
		{"budget below deficits", []float64{math.NaN(), 3, math.NaN()}, []float64{math.NaN(), 1, math.NaN()}, []int{0, 4, 0}, 3, []int{2, 0, 1}},
		{"nothing comparable", []float64{math.NaN(), math.NaN()}, []float64{math.NaN(), math.NaN()}, []int{0, 0}, 7, []int{4, 3}},
		{"zero variance", []float64{1, 2}, []float64{0, 0}, []int{3, 3}, 4, nil},
		{"tied means", []float64{2, 2, 2}, []float64{1, 1, 1}, []int{3, 3, 3}, 6, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Allocate(tt.means, tt.vars, tt.counts, tt.add, Minimize)
			sum := 0
			for _, d := range got {
				assert.GreaterOrEqual(t, d, 0)
				sum += d
			}
			assert.Equal(t, tt.add, sum)
			if tt.want != nil {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestPCS(t *testing.T) {
	tests := []struct {
		name   string
		means  []float64
		vars   []float64
		counts []int
		pt     ProblemType
		want   float64
	}{
		{"single configuration", []float64{3}, []float64{1}, []int{5}, Minimize, 1},
		{"two configurations", []float64{10, 12}, []float64{4, 4}, []int{4, 4}, Minimize, 0.9213503964748575},
		{"maximize", []float64{10, 12}, []float64{4, 4}, []int{4, 4}, Maximize, 0.9213503964748575},
		{"not yet comparable", []float64{10, 12}, []float64{4, 4}, []int{1, 4}, Minimize, 0.5},
		{"identical", []float64{5, 5}, []float64{1, 1}, []int{9, 9}, Minimize, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PCS(tt.means, tt.vars, tt.counts, tt.pt)
			testutil.AssertFloat64Equal(t, "PCS", tt.want, got, 1e-9)
		})
	}
}

func TestPCSPerConfiguration_BestIsOne(t *testing.T) {
	p := PCSPerConfiguration([]float64{3, 1, 2}, []float64{1, 1, 1}, []int{5, 5, 5}, Minimize)
	assert.Equal(t, 1.0, p[1])
	assert.Less(t, p[2], p[0], "closer competitor is less clearly beaten")
}

func TestRank(t *testing.T) {
	got := Rank([]float64{5, 1, 3, 2}, []float64{1, 1, 1, 1}, []int{10, 10, 10, 10}, Minimize)
	assert.Equal(t, []int{1, 3, 2, 0}, got)

	got = Rank([]float64{5, 1, 3, 2}, []float64{1, 1, 1, 1}, []int{10, 10, 10, 10}, Maximize)
	assert.Equal(t, []int{0, 2, 3, 1}, got)
}

func TestParseProblemType(t *testing.T) {
	for in, want := range map[string]ProblemType{"min": Minimize, "MAXIMIZE": Maximize, "": Minimize, "max": Maximize} {
		got, err := ParseProblemType(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseProblemType("best")
	assert.Error(t, err)
}
