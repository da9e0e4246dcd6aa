package design

import (
	"fmt"

	"github.com/inference-sim/simexp/sim"
)

// Builder turns factors into configured clones of a template experiment.
// It is embedded by the experiments that run designs.
type Builder struct {
	Factors

	Template sim.Experiment
	Setters  Setters
	Plan     Plan
	// MaxConfigurations is the full factorial limit or the fractional sample
	// size; 0 means DefaultMaxConfigurations.
	MaxConfigurations int
	// Filter rejects invalid combinations; rejected ones are skipped silently.
	Filter func(Configuration) bool
}

// Configurations returns the configurations the plan selects, after
// filtering. Sizing errors and unknown properties are reported before any
// configuration is produced.
func (b *Builder) Configurations(seed int64) ([]Configuration, error) {
	if err := b.Setters.Validate(&b.Factors); err != nil {
		return nil, err
	}
	plan := b.Plan
	if plan == nil {
		plan = FullPlan{}
	}
	limit := b.MaxConfigurations
	if limit == 0 {
		limit = DefaultMaxConfigurations
	}
	levels, err := plan.Levels(&b.Factors, limit, seed)
	if err != nil {
		return nil, err
	}
	confs := make([]Configuration, 0, len(levels))
	for _, l := range levels {
		c := b.Factors.Configuration(l)
		if b.Filter != nil && !b.Filter(c) {
			continue
		}
		confs = append(confs, c)
	}
	return confs, nil
}

// ExperimentFor clones the template with seed and applies conf to the clone.
// The clone is named after the template and the configuration.
func (b *Builder) ExperimentFor(conf Configuration, seed int64) (sim.Experiment, error) {
	if b.Template == nil {
		return nil, fmt.Errorf("design: no template experiment")
	}
	exp := b.Template.Clone(seed)
	if err := b.Setters.Apply(exp, conf); err != nil {
		return nil, fmt.Errorf("configuration [%s]: %w", conf, err)
	}
	exp.Base().SetName(fmt.Sprintf("%s[%s]", b.Template.Base().Name(), conf))
	return exp, nil
}
