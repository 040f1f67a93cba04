// Package approval suspends a workflow step until an operator decides.
//
// A producer registers a request under a unique ID and blocks; the operator
// transport's callback handler resolves it with approve, deny, or a named
// choice. A deadline and a per-job cancellation path bound every wait. Each
// ID resolves at most once; late button presses are dropped.
package approval
