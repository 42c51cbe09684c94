// Package engine provides the configuration-space model and trial machinery
// for the streamtune autotuner.
//
// # Overview
//
// streamtune searches the configuration space of a streaming program's
// compiler and runtime. Each trial flows through the same phases:
//
//  1. Propose - A Technique (or an external driver) produces a candidate Store
//  2. Admit - An optional Admission policy may reject the candidate
//  3. Materialize - Every Parameter copies its value out of the Store
//  4. Normalize - The AllocationNormalizer collapses relabeling-equivalent
//     allocations using a grouping answer from the harness
//  5. Encode - The Configuration tree is written as a tagged JSON document
//  6. Deliver - A Transport runs the harness and returns its output
//  7. Classify - The output becomes an OK, ERROR or TIMEOUT Result
//
// # Parameters
//
// Parameters form a closed sum type behind the Parameter interface:
//
//   - IntegerParameter: integer in [min, max]
//   - FloatParameter: real in [min, max]
//   - SwitchParameter: index into an ordered universe of labels
//   - PermutationParameter: an ordering of a fixed universe
//   - CompositionParameter: non-negative shares that sum to one once normalized
//
// A parameter never holds the authoritative value of a candidate. Values live
// in a Store keyed by parameter name; Materialize copies the Store's value
// into the parameter so that the Configuration can be encoded.
//
// # Wire Format
//
// Every record carries reserved __class__ and __module__ fields naming the
// constructor that rebuilds it:
//
//	{"__module__": "sjparameters", "__class__": "sjIntegerParameter",
//	 "class": "...", "name": "multiplier", "min": 1, "max": 64, "value": 8}
//
// Decode walks the document bottom-up through a closed dispatch table. Unknown
// tags are a DeserializationError.
//
// # Error Classification
//
// Errors are classified so callers can decide what a failure means for the
// trial:
//
//   - Domain: a value outside a parameter's bounds
//   - Deserialization: an unknown tag or malformed document
//   - NormalizationOracle: the grouping request failed
//   - ExecutionTimeout: the harness exceeded its budget
//   - Execution: any other harness failure
//   - StructuralMoveUnavailable: addCore/removeCore precondition violated
//
// Use the helper predicates to inspect errors:
//
//	if IsStructuralMoveUnavailable(err) {
//	    // pick another move
//	}
//
// # Example Usage
//
//	adapter, err := NewSearchAdapter(cfg, AdapterConfig{Transport: transport})
//	candidate := adapter.DefaultCandidate()
//	result, err := adapter.Evaluate(ctx, candidate)
//	if result.Outcome == OutcomeOK {
//	    fmt.Println(result.Time)
//	}
//
// # Thread Safety
//
// A SearchAdapter owns its Configuration and evaluates one candidate at a
// time. Parameters and Configurations are not safe for concurrent use.
package engine
