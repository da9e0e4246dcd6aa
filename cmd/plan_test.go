package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/simexp/sim"
	"github.com/inference-sim/simexp/sim/design"
	"github.com/inference-sim/simexp/sim/ocba"
	"github.com/inference-sim/simexp/sim/queue"
	"github.com/inference-sim/simexp/sim/replication"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

func writePlan(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const factorialYAML = `
name: mmc
seed: 7
mode: full-factorial
parallelism: 2
queue:
  arrival_rate: 1.5
  service_rate: 1
  num_servers: 2
  num_jobs: 2000
  warm_up_jobs: 200
  holding_cost: 1
  server_cost: 1
factors:
  - name: numServers
    values: [2, 3]
  - name: serviceRate
    values: [1, 1.5]
replication:
  max: 3
  error_prob: 0.05
  allowance_percentage: 0.01
`

func TestLoadPlan_YAML(t *testing.T) {
	// GIVEN a YAML factorial plan
	path := writePlan(t, "plan.yaml", factorialYAML)

	// WHEN loaded
	p, err := LoadPlan(path)

	// THEN every section is decoded
	require.NoError(t, err)
	assert.Equal(t, "mmc", p.Name)
	assert.Equal(t, int64(7), p.Seed)
	assert.Equal(t, ModeFull, p.Mode)
	assert.Equal(t, 2, p.Queue.NumServers)
	require.Len(t, p.Factors, 2)
	assert.Equal(t, []any{2, 3}, p.Factors[0].Values)
	assert.Equal(t, 3, p.Replication.Max)
	assert.Nil(t, p.CommonRandomNumbers)
}

func TestLoadPlan_TOMLKeepsDefaults(t *testing.T) {
	// GIVEN a TOML plan that only names a few keys
	path := writePlan(t, "plan.toml", `
name = "ocba-servers"
mode = "ocba"
common_random_numbers = false

[[factors]]
name = "numServers"
values = [1, 2, 3]

[ocba]
objective = "cost"
problem_type = "min"
num_replications_per_configuration = 12
`)

	p, err := LoadPlan(path)

	// THEN the named keys are decoded and the rest keeps its defaults
	require.NoError(t, err)
	assert.Equal(t, ModeOCBA, p.Mode)
	require.NotNil(t, p.CommonRandomNumbers)
	assert.False(t, *p.CommonRandomNumbers)
	assert.Equal(t, 12, p.OCBA.NumReplicationsPerConfiguration)
	assert.Equal(t, DefaultPlan().Queue, p.Queue)
	assert.Equal(t, replication.DefaultErrorProb, p.Replication.ErrorProb)
}

func TestLoadPlan_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown yaml key", "p.yaml", "name: x\nmod: single\n"},
		{"unknown toml key", "p.toml", "name = \"x\"\nmod = \"single\"\n"},
		{"unknown extension", "p.json", "{}"},
		{"bad mode", "p.yaml", "mode: sweep\n"},
		{"negative rate", "p.yaml", "queue:\n  arrival_rate: -1\n  service_rate: 1\n  num_servers: 1\n  num_jobs: 10\n"},
		{"warm-up exceeds jobs", "p.yaml", "queue:\n  arrival_rate: 1\n  service_rate: 1\n  num_servers: 1\n  num_jobs: 10\n  warm_up_jobs: 10\n"},
		{"factorial without factors", "p.yaml", "mode: full-factorial\n"},
		{"unknown factor", "p.yaml", "mode: full-factorial\nfactors:\n  - name: speed\n    values: [1]\n"},
		{"factor without values", "p.yaml", "mode: full-factorial\nfactors:\n  - name: numServers\n    values: []\n"},
		{"fractional without size", "p.yaml", "mode: fractional-factorial\nfactors:\n  - name: numServers\n    values: [1, 2]\n"},
		{"ocba bad problem type", "p.yaml", "mode: ocba\nfactors:\n  - name: numServers\n    values: [1, 2]\nocba:\n  objective: cost\n  problem_type: best\n  pcs_level: 0.9\n"},
		{"error prob out of range", "p.yaml", "replication:\n  max: 3\n  error_prob: 1.5\n  allowance_percentage: 0.01\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPlan(writePlan(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestValidate_OCBANeedsStoppingRule(t *testing.T) {
	p := DefaultPlan()
	p.Mode = ModeOCBA
	p.Factors = []FactorSpec{{Name: "numServers", Values: []any{1, 2}}}

	err := p.Validate()

	assert.True(t, errors.Is(err, ocba.ErrNoStoppingRule), "got %v", err)
}

func TestValidate_UnknownFactorNamesProperty(t *testing.T) {
	p := DefaultPlan()
	p.Mode = ModeFull
	p.Factors = []FactorSpec{{Name: "speed", Values: []any{1}}}

	err := p.Validate()

	assert.True(t, errors.Is(err, design.ErrUnknownProperty), "got %v", err)
}

func TestBuild_Modes(t *testing.T) {
	servers := []FactorSpec{{Name: "numServers", Values: []any{1, 2}}}
	tests := []struct {
		name  string
		setup func(*Plan)
		check func(*testing.T, sim.Experiment)
	}{
		{"single", func(p *Plan) { p.Mode = ModeSingle }, func(t *testing.T, e sim.Experiment) {
			assert.IsType(t, &queue.Experiment{}, e)
		}},
		{"replicate", func(p *Plan) { p.Mode = ModeReplicate; p.Replication.Min = 4 }, func(t *testing.T, e sim.Experiment) {
			r := e.(*replication.Experiment)
			assert.Equal(t, 10, r.MaxReplications)
			assert.Equal(t, 4, r.MinReplications)
			assert.IsType(t, &queue.Experiment{}, r.Template)
		}},
		{"full factorial replicated", func(p *Plan) { p.Mode = ModeFull; p.Factors = servers }, func(t *testing.T, e sim.Experiment) {
			d := e.(*design.Experiment)
			assert.IsType(t, &replication.Experiment{}, d.Template)
			assert.Equal(t, []any{1, 2}, d.FactorValues("numServers"))
		}},
		{"full factorial plain", func(p *Plan) { p.Mode = ModeFull; p.Factors = servers; p.Replication.Max = 1 }, func(t *testing.T, e sim.Experiment) {
			assert.IsType(t, &queue.Experiment{}, e.(*design.Experiment).Template)
		}},
		{"fractional", func(p *Plan) { p.Mode = ModeFractional; p.Factors = servers; p.MaxConfigurations = 1 }, func(t *testing.T, e sim.Experiment) {
			assert.Equal(t, 1, e.(*design.Experiment).MaxConfigurations)
		}},
		{"ocba", func(p *Plan) {
			p.Mode = ModeOCBA
			p.Factors = servers
			p.OCBA.ProblemType = "max"
			p.OCBA.PCSLevel = 0.9
		}, func(t *testing.T, e sim.Experiment) {
			o := e.(*ocba.Experiment)
			assert.Equal(t, ocba.Maximize, o.ProblemType)
			assert.Equal(t, 0.9, o.PCSLevel)
			assert.Equal(t, queue.KeyCost, o.Objective)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPlan()
			tt.setup(&p)
			require.NoError(t, p.Validate())

			exp, err := p.Build(nil)

			require.NoError(t, err)
			assert.Equal(t, p.Seed, exp.Base().Seed())
			tt.check(t, exp)
		})
	}
}

func TestBuild_OptionsFollowPlan(t *testing.T) {
	crn := false
	p := DefaultPlan()
	p.CommonRandomNumbers = &crn
	p.SkipSeedCount = 3
	p.Sequential = true
	p.KeepResults = []string{queue.KeyCost}

	opts := p.Options(nil)

	assert.False(t, opts.CommonRandomNumbers)
	assert.Equal(t, 3, opts.SkipSeedCount)
	assert.True(t, opts.Sequential)
	assert.Equal(t, []string{queue.KeyCost}, opts.KeepResults)
	assert.True(t, DefaultPlan().Options(nil).CommonRandomNumbers)
}

func TestBuild_FactorialRunsEveryConfiguration(t *testing.T) {
	// GIVEN a small replicated 2x2 design over a short queue
	path := writePlan(t, "plan.yaml", factorialYAML)
	p, err := LoadPlan(path)
	require.NoError(t, err)
	exp, err := p.Build(nil)
	require.NoError(t, err)

	// WHEN run
	res, err := sim.Execute(context.Background(), exp)

	// THEN each configuration ran its replications once
	require.NoError(t, err)
	assert.Equal(t, 4, res[sim.KeyNumTasks])
	assert.Len(t, res[design.KeyConfigurations], 4)
	st, ok := res[queue.KeyCost+".mean"].(*sim.SummaryStat)
	require.True(t, ok, "keys: %v", res.Keys())
	assert.Equal(t, 4, st.Count())
}

func TestPrintResults_SortedKeys(t *testing.T) {
	res := sim.ResultMap{
		"b":     2.5,
		"a":     sim.NewSummaryStat(1, 3),
		"c":     nil,
		"names": []string{"x"},
	}
	var buf bytes.Buffer

	require.NoError(t, PrintResults(&buf, res))

	out := buf.String()
	assert.Contains(t, out, "mean=2")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("\na ")), bytes.Index(buf.Bytes(), []byte("\nb ")))
	assert.Contains(t, out, "-")
}

func TestMarshalResults_NaNBecomesNull(t *testing.T) {
	res := sim.ResultMap{
		"empty": &sim.SummaryStat{},
		"inf":   math.Inf(1),
		"vec":   []float64{1, math.NaN()},
		"n":     3,
	}

	data, err := MarshalResults(res)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Nil(t, got["inf"])
	assert.Equal(t, []any{1.0, nil}, got["vec"])
	assert.Equal(t, map[string]any{"count": 0.0, "mean": nil, "stddev": nil, "min": nil, "max": nil}, got["empty"])
	assert.Equal(t, 3.0, got["n"])
}
