// Package sim provides the primitives of the simulation-experiment engine.
//
// # Reading Guide
//
//   - experiment.go: the Experiment contract and its lifecycle states
//   - result.go: ResultMap, the well-known result keys and Execute, the task boundary
//   - summary.go: SummaryStat, the incremental mean/variance aggregate
//   - rng.go: seed streams and named seed derivation
//
// # Architecture
//
// Orchestration lives in sub-packages:
//   - sim/multi/: the multi-round orchestrator, executor pools and result aggregation
//   - sim/replication/: independent replications with a confidence-interval stopping rule
//   - sim/design/: factors, configurations and factorial experimental designs
//   - sim/ocba/: Optimal Computing Budget Allocation over a factorial design
//   - sim/queue/: a multi-server queue used as the base experiment by the CLI
//
// A base experiment is any type that embeds *BaseExperiment and implements Run
// and Clone. Orchestrators are experiments too, so they nest: an OCBA run drives
// replication controllers, which drive clones of the base experiment.
package sim
