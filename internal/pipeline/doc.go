// Package pipeline sequences the decision stages for one loan request.
//
// A request first resolves the client identity. Unknown clients end the run
// immediately with an error-status decision and no stage is called. Known
// clients run the stage graph, where extraction, credit_score and
// debt_ratio have no dependencies:
//
//	property_evaluation  <- extraction
//	decision             <- credit_score, debt_ratio
//	explanation          <- credit_score
//	approval             <- extraction, property_evaluation, decision
//
// Each node waits for its dependencies, then calls its stage through
// stage.Invoke. A stage that fails contributes its default value and is
// listed in FinalDecision.DegradedStages; the run always completes.
//
// # Modes
//
// In sequential mode nodes run one at a time in topological order. In
// concurrent mode (the default) every node starts as soon as its
// dependencies are done. Both modes produce the same decision.
package pipeline
