package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/simexp/sim"
	"github.com/inference-sim/simexp/sim/design"
	"github.com/inference-sim/simexp/sim/multi"
	"github.com/inference-sim/simexp/sim/ocba"
	"github.com/inference-sim/simexp/sim/queue"
	"github.com/inference-sim/simexp/sim/replication"
)

// Experiment modes a plan can select.
const (
	ModeSingle      = "single"
	ModeReplicate   = "replicate"
	ModeFull        = "full-factorial"
	ModeFractional  = "fractional-factorial"
	ModeOCBA        = "ocba"
	defaultPlanName = "queue"
)

// Plan is an experiment plan file. All sections must be listed to satisfy
// strict parsing; unknown keys are errors.
type Plan struct {
	Name  string    `yaml:"name" toml:"name" validate:"required"`
	Seed  int64     `yaml:"seed" toml:"seed"`
	Mode  string    `yaml:"mode" toml:"mode" validate:"oneof=single replicate full-factorial fractional-factorial ocba"`
	Queue QueueSpec `yaml:"queue" toml:"queue"`

	Parallelism                  int      `yaml:"parallelism" toml:"parallelism" validate:"gte=0"`
	Sequential                   bool     `yaml:"sequential" toml:"sequential"`
	CommonRandomNumbers          *bool    `yaml:"common_random_numbers" toml:"common_random_numbers"`
	SkipSeedCount                int      `yaml:"skip_seed_count" toml:"skip_seed_count" validate:"gte=0"`
	AbortUponBaseExperimentAbort bool     `yaml:"abort_upon_base_experiment_abort" toml:"abort_upon_base_experiment_abort"`
	KeepResults                  []string `yaml:"keep_results" toml:"keep_results"`

	Factors           []FactorSpec    `yaml:"factors" toml:"factors" validate:"dive"`
	MaxConfigurations int             `yaml:"max_configurations" toml:"max_configurations" validate:"gte=0"`
	Replication       ReplicationSpec `yaml:"replication" toml:"replication"`
	OCBA              OCBASpec        `yaml:"ocba" toml:"ocba"`
}

// QueueSpec holds the base experiment's parameters.
type QueueSpec struct {
	ArrivalRate float64 `yaml:"arrival_rate" toml:"arrival_rate" validate:"gt=0"`
	ServiceRate float64 `yaml:"service_rate" toml:"service_rate" validate:"gt=0"`
	NumServers  int     `yaml:"num_servers" toml:"num_servers" validate:"gte=1"`
	NumJobs     int     `yaml:"num_jobs" toml:"num_jobs" validate:"gte=1"`
	WarmUpJobs  int     `yaml:"warm_up_jobs" toml:"warm_up_jobs" validate:"gte=0"`
	HoldingCost float64 `yaml:"holding_cost" toml:"holding_cost" validate:"gte=0"`
	ServerCost  float64 `yaml:"server_cost" toml:"server_cost" validate:"gte=0"`
}

// FactorSpec is one factor of a design; Name is a queue property.
type FactorSpec struct {
	Name   string `yaml:"name" toml:"name" validate:"required"`
	Values []any  `yaml:"values" toml:"values" validate:"min=1"`
}

// ReplicationSpec configures replications of the base experiment. In design
// modes each configuration is replicated when Max is above 1.
type ReplicationSpec struct {
	Min                 int      `yaml:"min" toml:"min" validate:"gte=0"`
	Max                 int      `yaml:"max" toml:"max" validate:"gte=0"`
	Measures            []string `yaml:"measures" toml:"measures"`
	ErrorProb           float64  `yaml:"error_prob" toml:"error_prob" validate:"gt=0,lt=1"`
	AllowancePercentage float64  `yaml:"allowance_percentage" toml:"allowance_percentage" validate:"gt=0"`
	BatchSize           int      `yaml:"batch_size" toml:"batch_size" validate:"gte=0"`
}

// OCBASpec configures the OCBA mode.
type OCBASpec struct {
	Objective                       string  `yaml:"objective" toml:"objective"`
	ProblemType                     string  `yaml:"problem_type" toml:"problem_type"`
	PCSLevel                        float64 `yaml:"pcs_level" toml:"pcs_level" validate:"gte=0,lt=1"`
	MinReplicationsPerConfiguration int     `yaml:"min_replications_per_configuration" toml:"min_replications_per_configuration" validate:"gte=0"`
	NumReplicationsPerConfiguration int     `yaml:"num_replications_per_configuration" toml:"num_replications_per_configuration" validate:"gte=0"`
	DetailedResults                 bool    `yaml:"detailed_results" toml:"detailed_results"`
}

var planValidate = validator.New()

// DefaultPlan returns a plan with default values: ten replications of an
// M/M/1 queue at 90% load.
func DefaultPlan() Plan {
	q := queue.New(defaultPlanName, 0)
	return Plan{
		Name: defaultPlanName,
		Seed: 42,
		Mode: ModeReplicate,
		Queue: QueueSpec{
			ArrivalRate: q.ArrivalRate,
			ServiceRate: q.ServiceRate,
			NumServers:  q.NumServers,
			NumJobs:     q.NumJobs,
			WarmUpJobs:  q.WarmUpJobs,
			HoldingCost: q.HoldingCost,
			ServerCost:  q.ServerCost,
		},
		Replication: ReplicationSpec{
			Max:                 10,
			ErrorProb:           replication.DefaultErrorProb,
			AllowancePercentage: replication.DefaultAllowancePercentage,
		},
		OCBA: OCBASpec{
			Objective:   queue.KeyCost,
			ProblemType: "min",
		},
	}
}

// LoadPlan reads a YAML (.yaml, .yml) or TOML (.toml) plan over DefaultPlan
// and validates it.
func LoadPlan(path string) (Plan, error) {
	p := DefaultPlan()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading plan: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return p, fmt.Errorf("parsing plan %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &p)
		if err != nil {
			return p, fmt.Errorf("parsing plan %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return p, fmt.Errorf("parsing plan %s: unknown keys %v", path, undecoded)
		}
	default:
		return p, fmt.Errorf("plan %s: unsupported extension %q (want .yaml, .yml or .toml)", path, ext)
	}
	return p, p.Validate()
}

// Validate checks field constraints and their combinations.
func (p Plan) Validate() error {
	if err := planValidate.Struct(p); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}
	if p.Queue.NumJobs <= p.Queue.WarmUpJobs {
		return fmt.Errorf("invalid plan: queue.num_jobs (%d) must exceed queue.warm_up_jobs (%d)", p.Queue.NumJobs, p.Queue.WarmUpJobs)
	}
	switch p.Mode {
	case ModeReplicate:
		if p.Replication.Max < 1 {
			return fmt.Errorf("invalid plan: replication.max must be at least 1 in mode %s", p.Mode)
		}
	case ModeFull, ModeFractional, ModeOCBA:
		if len(p.Factors) == 0 {
			return fmt.Errorf("invalid plan: mode %s needs factors", p.Mode)
		}
		setters := queue.Setters()
		for _, f := range p.Factors {
			if _, ok := setters[f.Name]; !ok {
				return fmt.Errorf("invalid plan: factor %q: %w (known: %v)", f.Name, design.ErrUnknownProperty, setters.Names())
			}
		}
	}
	if p.Mode == ModeFractional && p.MaxConfigurations == 0 {
		return fmt.Errorf("invalid plan: mode %s needs max_configurations as sample size", p.Mode)
	}
	if p.Mode == ModeOCBA {
		if p.OCBA.Objective == "" {
			return fmt.Errorf("invalid plan: ocba.objective is required")
		}
		if _, err := ocba.ParseProblemType(p.OCBA.ProblemType); err != nil {
			return fmt.Errorf("invalid plan: %w", err)
		}
		if p.OCBA.NumReplicationsPerConfiguration == 0 && p.OCBA.PCSLevel == 0 {
			return fmt.Errorf("invalid plan: %w", ocba.ErrNoStoppingRule)
		}
	}
	return nil
}

// Options returns the orchestrator options of the plan.
func (p Plan) Options(metrics *multi.Metrics) multi.Options {
	opts := multi.DefaultOptions()
	if p.CommonRandomNumbers != nil {
		opts.CommonRandomNumbers = *p.CommonRandomNumbers
	}
	opts.SkipSeedCount = p.SkipSeedCount
	opts.Sequential = p.Sequential
	opts.Parallelism = p.Parallelism
	opts.AbortUponBaseExperimentAbort = p.AbortUponBaseExperimentAbort
	opts.KeepResults = p.KeepResults
	opts.Metrics = metrics
	return opts
}

// Build creates the experiment the plan describes.
func (p Plan) Build(metrics *multi.Metrics) (sim.Experiment, error) {
	q := queue.New(p.Name, p.Seed)
	q.ArrivalRate = p.Queue.ArrivalRate
	q.ServiceRate = p.Queue.ServiceRate
	q.NumServers = p.Queue.NumServers
	q.NumJobs = p.Queue.NumJobs
	q.WarmUpJobs = p.Queue.WarmUpJobs
	q.HoldingCost = p.Queue.HoldingCost
	q.ServerCost = p.Queue.ServerCost
	opts := p.Options(metrics)

	switch p.Mode {
	case ModeSingle:
		return q, nil
	case ModeReplicate:
		return p.replicate(q, opts), nil
	case ModeFull, ModeFractional:
		var tpl sim.Experiment = q
		setters := queue.Setters()
		if p.Replication.Max > 1 {
			tpl = p.replicate(q, opts)
			setters = replication.ForwardSetters(setters)
		}
		var d *design.Experiment
		if p.Mode == ModeFull {
			d = design.NewFullFactorial(tpl, setters, opts)
			if p.MaxConfigurations > 0 {
				d.MaxConfigurations = p.MaxConfigurations
			}
		} else {
			d = design.NewFractionalFactorial(tpl, setters, p.MaxConfigurations, opts)
		}
		p.addFactors(&d.Factors)
		return d, nil
	case ModeOCBA:
		pt, err := ocba.ParseProblemType(p.OCBA.ProblemType)
		if err != nil {
			return nil, err
		}
		o := ocba.New(q, queue.Setters(), p.OCBA.Objective, pt, opts)
		o.PCSLevel = p.OCBA.PCSLevel
		o.MinReplicationsPerConfiguration = p.OCBA.MinReplicationsPerConfiguration
		o.NumReplicationsPerConfiguration = p.OCBA.NumReplicationsPerConfiguration
		o.DetailedResults = p.OCBA.DetailedResults
		if p.MaxConfigurations > 0 {
			o.MaxConfigurations = p.MaxConfigurations
		}
		p.addFactors(&o.Factors)
		return o, nil
	}
	return nil, fmt.Errorf("unknown mode %q", p.Mode)
}

func (p Plan) replicate(q *queue.Experiment, opts multi.Options) *replication.Experiment {
	r := replication.New(q, p.Replication.Max, opts)
	r.MinReplications = p.Replication.Min
	r.ErrorProb = p.Replication.ErrorProb
	r.AllowancePercentage = p.Replication.AllowancePercentage
	r.BatchSize = p.Replication.BatchSize
	for _, m := range p.Replication.Measures {
		r.AddConfIntervalMeasure(m)
	}
	return r
}

func (p Plan) addFactors(f *design.Factors) {
	for _, spec := range p.Factors {
		f.AddFactor(spec.Name, spec.Values...)
	}
}
