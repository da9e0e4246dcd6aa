// Package design describes experimental factors and turns them into
// configurations: every combination (full factorial) or a balanced random
// sample of them (fractional factorial).
package design

import (
	"errors"
	"fmt"
	"math"
	"reflect"
)

var (
	// ErrCombinationOverflow is returned when the number of factor
	// combinations does not fit in an int.
	ErrCombinationOverflow = errors.New("number of factor combinations overflows")
	// ErrTooManyConfigurations is returned when a full factorial design
	// exceeds its configured maximum.
	ErrTooManyConfigurations = errors.New("too many configurations")
)

// Factor is a named experimental variable with its candidate values.
type Factor struct {
	Name   string
	Values []any
}

// Factors is an ordered set of factors. Registration order is the order in
// which configurations list their values; the last factor varies fastest.
// The zero value is empty and ready to use.
type Factors struct {
	factors []Factor
	index   map[string]int
}

// AddFactorValue appends value to the named factor, creating the factor if
// needed. Values already present are ignored.
func (f *Factors) AddFactorValue(name string, value any) {
	i := f.factor(name)
	for _, v := range f.factors[i].Values {
		if sameValue(v, value) {
			return
		}
	}
	f.factors[i].Values = append(f.factors[i].Values, value)
}

// AddFactor registers name with the given values.
func (f *Factors) AddFactor(name string, values ...any) {
	f.factor(name)
	for _, v := range values {
		f.AddFactorValue(name, v)
	}
}

// ClearFactors removes all factors.
func (f *Factors) ClearFactors() {
	f.factors = nil
	f.index = nil
}

// FactorValues returns the values of the named factor, or nil.
func (f *Factors) FactorValues(name string) []any {
	i, ok := f.index[name]
	if !ok {
		return nil
	}
	return append([]any(nil), f.factors[i].Values...)
}

// Names returns factor names in registration order.
func (f *Factors) Names() []string {
	names := make([]string, len(f.factors))
	for i, fac := range f.factors {
		names[i] = fac.Name
	}
	return names
}

// NumFactors returns the number of registered factors.
func (f *Factors) NumFactors() int { return len(f.factors) }

// Levels returns the number of values per factor.
func (f *Factors) Levels() []int {
	levels := make([]int, len(f.factors))
	for i, fac := range f.factors {
		levels[i] = len(fac.Values)
	}
	return levels
}

// Total returns the number of combinations, the product of all level counts.
func (f *Factors) Total() (int, error) {
	total := 1
	for _, fac := range f.factors {
		n := len(fac.Values)
		if n > 0 && total > math.MaxInt/n {
			return 0, fmt.Errorf("%w: factor %q", ErrCombinationOverflow, fac.Name)
		}
		total *= n
	}
	return total, nil
}

// Configuration builds the configuration for one level-index vector.
func (f *Factors) Configuration(levels []int) Configuration {
	c := Configuration{
		names:  make([]string, len(f.factors)),
		values: make([]any, len(f.factors)),
		levels: append([]int(nil), levels...),
	}
	for i, fac := range f.factors {
		c.names[i] = fac.Name
		c.values[i] = fac.Values[levels[i]]
	}
	return c
}

// decode turns a mixed-radix index (last factor least significant) into a
// level-index vector.
func (f *Factors) decode(idx int) []int {
	levels := make([]int, len(f.factors))
	for i := len(f.factors) - 1; i >= 0; i-- {
		n := len(f.factors[i].Values)
		levels[i] = idx % n
		idx /= n
	}
	return levels
}

// Clone returns an independent copy.
func (f *Factors) Clone() Factors {
	var c Factors
	for _, fac := range f.factors {
		c.AddFactor(fac.Name)
		i := c.index[fac.Name]
		c.factors[i].Values = append([]any(nil), fac.Values...)
	}
	return c
}

func (f *Factors) factor(name string) int {
	if i, ok := f.index[name]; ok {
		return i
	}
	if f.index == nil {
		f.index = make(map[string]int)
	}
	f.factors = append(f.factors, Factor{Name: name})
	f.index[name] = len(f.factors) - 1
	return len(f.factors) - 1
}

// sameValue compares factor values without panicking on functions.
func sameValue(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() {
		return !va.IsValid() && !vb.IsValid()
	}
	if !va.Comparable() || !vb.Comparable() {
		return false
	}
	return a == b
}
