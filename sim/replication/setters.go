package replication

import (
	"fmt"

	"github.com/inference-sim/simexp/sim"
	"github.com/inference-sim/simexp/sim/design"
)

// ForwardSetters lets a design vary the template of replication controllers:
// every setter of inner is applied to the controller's Template.
func ForwardSetters(inner design.Setters) design.Setters {
	out := make(design.Setters, len(inner))
	for name, set := range inner {
		set := set // per-iteration copy: go.mod targets go1.21, which predates per-iteration loop variables
		out[name] = func(exp sim.Experiment, value any) error {
			r, ok := exp.(*Experiment)
			if !ok {
				return fmt.Errorf("experiment is %T, want *replication.Experiment", exp)
			}
			return set(r.Template, value)
		}
	}
	return out
}
