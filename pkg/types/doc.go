// Package types defines the shared vocabulary of the orchestrator: jobs and
// their status lifecycle, skills and steps, findings with their severity
// scale, threat alerts, approval outcomes, and next-step suggestions.
//
// # Job Lifecycle
//
// Jobs move pending → running → done | failed | cancelled. The only
// backward edge is running → pending, taken by the crash-resume sweep at
// startup. CanTransition encodes the full relation; stores must refuse
// anything else so a cancelled job can never be revived.
//
// # Severity
//
// Severity is an ordered string scale: critical > high > medium > low >
// info. SeverityRank maps it to a sortable integer (unknown strings rank
// below info) and SeverityAtLeast implements threshold gates such as the
// monitor's minimum-severity filter.
//
// # Approval Outcomes
//
// Outcome is the closed result set of an operator approval round trip:
// approve, deny, choice (with the chosen option), timeout, or cancel.
// Exactly one outcome is produced per request.
package types
