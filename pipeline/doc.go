// Package pipeline defines the building blocks of the orchestration engine:
// stages, stage results, the immutable per-run context snapshot, and named
// pipeline definitions (DAGs of stages).
//
// A pipeline is declared with a Builder and validated once at build time:
//
//	def, err := pipeline.NewBuilder("chat").
//		Stage("guard", pipeline.KindGuard, guardStage).
//		Stage("enrich", pipeline.KindEnrich, enrichStage, "guard").
//		Stage("model", pipeline.KindTransform, modelStage, "guard", "enrich").
//		Stage("persist", pipeline.KindWork, persistStage, "model").
//		Build()
//
// The resulting Definition is immutable and safe to share across concurrent
// runs. Validation rejects duplicate stage names, unknown or self
// dependencies, cycles, and empty pipelines before any run can start.
//
// Each stage receives an Input view combining the genesis ContextSnapshot
// with the terminal results of exactly its declared dependencies. A stage
// cannot observe the output of a stage it does not depend on.
package pipeline
