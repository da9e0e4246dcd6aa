package design

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cast"

	"github.com/inference-sim/simexp/sim"
)

// ErrUnknownProperty is returned when a factor names a property the
// experiment type has no setter for.
var ErrUnknownProperty = errors.New("unknown property")

// Setter applies one property value to an experiment.
type Setter func(exp sim.Experiment, value any) error

// Setters maps property names to setters for one experiment type.
type Setters map[string]Setter

// Property adapts a typed setter. The value is coerced to V (numbers from
// strings, ints to floats and so on) before set is called.
func Property[E sim.Experiment, V any](set func(E, V)) Setter {
	return func(exp sim.Experiment, value any) error {
		e, ok := exp.(E)
		if !ok {
			var want E
			return fmt.Errorf("experiment is %T, setter expects %T", exp, want)
		}
		v, err := coerce[V](value)
		if err != nil {
			return err
		}
		set(e, v)
		return nil
	}
}

// Names returns the registered property names, sorted.
func (s Setters) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every factor holding plain values has a setter.
// Factors whose values are all complex setters need none.
func (s Setters) Validate(f *Factors) error {
	for _, fac := range f.factors {
		if _, ok := s[fac.Name]; ok {
			continue
		}
		for _, v := range fac.Values {
			if !isComplex(v) {
				return fmt.Errorf("factor %q: %w (known: %v)", fac.Name, ErrUnknownProperty, s.Names())
			}
		}
	}
	return nil
}

// Apply sets every value of conf on exp. Complex setters are invoked on exp
// directly.
func (s Setters) Apply(exp sim.Experiment, conf Configuration) error {
	for i, name := range conf.names {
		v := conf.values[i]
		switch fn := v.(type) {
		case ComplexSetter:
			if err := fn(exp); err != nil {
				return fmt.Errorf("setter for %q: %w", name, err)
			}
			continue
		case func(sim.Experiment) error:
			if err := fn(exp); err != nil {
				return fmt.Errorf("setter for %q: %w", name, err)
			}
			continue
		case LabeledSetter:
			if err := fn.Set(exp); err != nil {
				return fmt.Errorf("setter %s for %q: %w", fn.Label, name, err)
			}
			continue
		}
		set, ok := s[name]
		if !ok {
			return fmt.Errorf("%w %q", ErrUnknownProperty, name)
		}
		if err := set(exp, v); err != nil {
			return fmt.Errorf("property %q = %v: %w", name, v, err)
		}
	}
	return nil
}

func isComplex(v any) bool {
	switch v.(type) {
	case ComplexSetter, func(sim.Experiment) error, LabeledSetter:
		return true
	}
	return false
}

func coerce[V any](value any) (V, error) {
	var zero V
	if v, ok := value.(V); ok {
		return v, nil
	}
	var out any
	var err error
	switch any(zero).(type) {
	case float64:
		out, err = cast.ToFloat64E(value)
	case float32:
		out, err = cast.ToFloat32E(value)
	case int:
		out, err = cast.ToIntE(value)
	case int64:
		out, err = cast.ToInt64E(value)
	case int32:
		out, err = cast.ToInt32E(value)
	case uint:
		out, err = cast.ToUintE(value)
	case uint64:
		out, err = cast.ToUint64E(value)
	case bool:
		out, err = cast.ToBoolE(value)
	case string:
		out, err = cast.ToStringE(value)
	case time.Duration:
		out, err = cast.ToDurationE(value)
	default:
		return zero, fmt.Errorf("cannot use %T as %T", value, zero)
	}
	if err != nil {
		return zero, err
	}
	return out.(V), nil
}
