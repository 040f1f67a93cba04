// Package dispatch executes skill chains against the external tool server.
//
// One Run call owns one job end to end: steps execute strictly in order,
// external tool failures soft-fail the step without aborting the chain, step
// outputs persist as per-job artifacts, and the suggest_next action puts the
// rule-based follow-up list to the operator through the approval gate.
// Nothing thrown inside a step escapes the worker; every job ends in exactly
// one terminal status with exactly one terminal notification.
package dispatch
