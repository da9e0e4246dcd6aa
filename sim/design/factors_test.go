package design

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/simexp/sim"
)

func TestFactors_DuplicateValuesIgnored(t *testing.T) {
	var f Factors
	f.AddFactor("A", 1, 2, 1)
	f.AddFactorValue("A", 2)
	f.AddFactorValue("A", 3)

	assert.Equal(t, []any{1, 2, 3}, f.FactorValues("A"))
}

func TestFactors_OrderAndClear(t *testing.T) {
	var f Factors
	f.AddFactorValue("B", "x")
	f.AddFactor("A", 1)
	f.AddFactorValue("B", "y")

	assert.Equal(t, []string{"B", "A"}, f.Names())
	assert.Equal(t, []int{2, 1}, f.Levels())

	f.ClearFactors()
	assert.Equal(t, 0, f.NumFactors())
	assert.Nil(t, f.FactorValues("A"))
}

func TestFactors_ComplexSettersAreNeverDuplicates(t *testing.T) {
	var f Factors
	s := ComplexSetter(func(sim.Experiment) error { return nil })
	f.AddFactor("setup", s, s)

	assert.Len(t, f.FactorValues("setup"), 2)
}

func TestFactors_Total(t *testing.T) {
	tests := []struct {
		name   string
		levels []int
		want   int
	}{
		{"no factors", nil, 1},
		{"single", []int{4}, 4},
		{"product", []int{2, 3, 5}, 30},
		{"empty factor", []int{3, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := factorsWithLevels(tt.levels...)
			got, err := f.Total()
			require.NoError(t, err)
			if got != tt.want {
				t.Errorf("Total() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFactors_TotalOverflow(t *testing.T) {
	// GIVEN enough factors that the product exceeds MaxInt
	levels := make([]int, 0)
	for p := 1.0; p < math.MaxInt64; p *= 1000 {
		levels = append(levels, 1000)
	}
	levels = append(levels, 1000)
	f := factorsWithLevels(levels...)

	_, err := f.Total()

	assert.True(t, errors.Is(err, ErrCombinationOverflow), "got %v", err)
}

func TestFactors_CloneIsIndependent(t *testing.T) {
	var f Factors
	f.AddFactor("A", 1, 2)
	c := f.Clone()
	c.AddFactorValue("A", 3)
	c.AddFactor("B", "x")

	assert.Equal(t, []any{1, 2}, f.FactorValues("A"))
	assert.Equal(t, []string{"A"}, f.Names())
	assert.Equal(t, []any{1, 2, 3}, c.FactorValues("A"))
}

func TestConfiguration_Accessors(t *testing.T) {
	c, err := NewConfiguration([]string{"A", "B"}, []any{1, "x"})
	require.NoError(t, err)

	v, ok := c.Get("B")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	_, ok = c.Get("C")
	assert.False(t, ok)
	assert.Equal(t, "A=1,B=x", c.String())
	assert.Equal(t, map[string]any{"A": 1, "B": "x"}, c.Map())

	_, err = NewConfiguration([]string{"A"}, nil)
	assert.Error(t, err)
}

func TestConfiguration_StringDistinguishesSetters(t *testing.T) {
	// GIVEN a factor of two unlabeled setters and one labeled setter
	noop := func(sim.Experiment) error { return nil }
	var f Factors
	f.AddFactor("mean", 1)
	f.AddFactor("scenario", ComplexSetter(noop), ComplexSetter(noop), Labeled("broken", noop))

	// WHEN each level is rendered
	got := []string{
		f.Configuration([]int{0, 0}).String(),
		f.Configuration([]int{0, 1}).String(),
		f.Configuration([]int{0, 2}).String(),
	}

	// THEN every configuration has its own string
	assert.Equal(t, []string{"mean=1,scenario=<setter 1>", "mean=1,scenario=<setter 2>", "mean=1,scenario=broken"}, got)

	c, err := NewConfiguration([]string{"scenario"}, []any{ComplexSetter(noop)})
	require.NoError(t, err)
	assert.Equal(t, "scenario=<setter>", c.String())
}

// factorsWithLevels builds factors A0, B0, ... with integer values 0..n-1.
func factorsWithLevels(levels ...int) *Factors {
	f := &Factors{}
	for i, n := range levels {
		name := string(rune('A'+i%26)) + string(rune('0'+i/26))
		f.AddFactor(name)
		for v := 0; v < n; v++ {
			f.AddFactorValue(name, v)
		}
	}
	return f
}
