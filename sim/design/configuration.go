package design

import (
	"fmt"
	"strings"

	"github.com/inference-sim/simexp/sim"
)

// ComplexSetter is a factor value that configures the experiment itself
// instead of setting a named property.
type ComplexSetter func(exp sim.Experiment) error

// LabeledSetter is a ComplexSetter with a name for configuration strings.
type LabeledSetter struct {
	Label string
	Set   ComplexSetter
}

// Labeled wraps set so configurations print it as label.
func Labeled(label string, set ComplexSetter) LabeledSetter {
	return LabeledSetter{Label: label, Set: set}
}

// Configuration is one assignment of values to all factors, in factor order.
// It is immutable once built.
type Configuration struct {
	names  []string
	values []any
	levels []int // value positions within their factors; nil if built by hand
}

// NewConfiguration builds a configuration from parallel name and value lists.
func NewConfiguration(names []string, values []any) (Configuration, error) {
	if len(names) != len(values) {
		return Configuration{}, fmt.Errorf("configuration: %d names for %d values", len(names), len(values))
	}
	return Configuration{
		names:  append([]string(nil), names...),
		values: append([]any(nil), values...),
	}, nil
}

// Len returns the number of (name, value) pairs.
func (c Configuration) Len() int { return len(c.names) }

// At returns the i-th pair.
func (c Configuration) At(i int) (string, any) { return c.names[i], c.values[i] }

// Get returns the value assigned to name.
func (c Configuration) Get(name string) (any, bool) {
	for i, n := range c.names {
		if n == name {
			return c.values[i], true
		}
	}
	return nil, false
}

// Names returns the factor names in order.
func (c Configuration) Names() []string { return append([]string(nil), c.names...) }

// Map returns the configuration as a map.
func (c Configuration) Map() map[string]any {
	m := make(map[string]any, len(c.names))
	for i, n := range c.names {
		m[n] = c.values[i]
	}
	return m
}

// String renders "name=value" pairs, e.g. "servers=2,rate=0.5". Labeled
// setters print their label; other setters print their level within the
// factor, e.g. "<setter 2>", or "<setter>" when the level is unknown.
func (c Configuration) String() string {
	var sb strings.Builder
	for i, n := range c.names {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(n)
		sb.WriteByte('=')
		switch v := c.values[i].(type) {
		case LabeledSetter:
			sb.WriteString(v.Label)
		case ComplexSetter, func(sim.Experiment) error:
			if c.levels != nil {
				fmt.Fprintf(&sb, "<setter %d>", c.levels[i]+1)
			} else {
				sb.WriteString("<setter>")
			}
		default:
			fmt.Fprint(&sb, v)
		}
	}
	return sb.String()
}
