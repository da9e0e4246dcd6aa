package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/simexp/sim"
	"github.com/inference-sim/simexp/sim/multi"
)

var (
	planPath    string // Path to the YAML or TOML plan
	seed        int64  // Master seed, overrides the plan's when set
	logLevel    string // Log verbosity level
	parallelism int    // Round sizing parallelism, overrides the plan's when set
	metricsAddr string // Address serving Prometheus metrics during the run
	resultsPath string // File receiving the results as JSON
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "simexp",
	Short: "Runs replicated, factorial and OCBA simulation experiments",
}

// runCmd executes the experiment described by a plan
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an experiment plan",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		plan := DefaultPlan()
		if planPath != "" {
			plan, err = LoadPlan(planPath)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
		}
		if cmd.Flags().Changed("seed") {
			plan.Seed = seed
		}
		if cmd.Flags().Changed("parallelism") {
			plan.Parallelism = parallelism
		}

		var metrics *multi.Metrics
		if metricsAddr != "" {
			metrics = serveMetrics(metricsAddr)
		}

		exp, err := plan.Build(metrics)
		if err != nil {
			logrus.Fatalf("Building experiment: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logrus.Infof("Starting %s experiment %q with seed %d", plan.Mode, plan.Name, plan.Seed)
		startTime := time.Now()
		res, err := sim.Execute(ctx, exp)
		if err != nil {
			logrus.Errorf("Experiment %s ended with error: %v", plan.Name, err)
		}
		if err := PrintResults(os.Stdout, res); err != nil {
			logrus.Fatalf("Printing results: %v", err)
		}
		if resultsPath != "" {
			if err := WriteResultsJSON(resultsPath, res); err != nil {
				logrus.Fatalf("%v", err)
			}
		}
		logrus.Infof("Experiment complete in %s.", time.Since(startTime).Round(time.Millisecond))
		if err != nil {
			os.Exit(1)
		}
	},
}

// planCmd prints the default plan as YAML, a starting point for new plans
var planCmd = &cobra.Command{
	Use:   "default-plan",
	Short: "Print the default experiment plan as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(DefaultPlan())
	},
}

// serveMetrics registers the orchestrator metrics on a fresh registry and
// serves it on addr until the process exits.
func serveMetrics(addr string) *multi.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := multi.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics server: %v", err)
		}
	}()
	logrus.Infof("Serving metrics on %s/metrics", addr)
	return metrics
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&planPath, "plan", "", "Experiment plan file (.yaml, .yml or .toml); built-in default when empty")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Master seed, overrides the plan's seed")
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().IntVar(&parallelism, "parallelism", 0, "Parallelism used to size rounds, overrides the plan's (0: available CPUs)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	runCmd.Flags().StringVar(&resultsPath, "results", "", "Also write results as JSON to this file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
}
