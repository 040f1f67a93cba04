package types

import (
	"time"
)

// Job is one unit of queued work: a skill applied to a target.
type Job struct {
	ID         string
	SkillName  string
	Params     map[string]any
	Target     string // denormalized from Params for quick filtering
	Status     JobStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Result     map[string]any
	Error      string
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from s to next.
// Legal sequences are subsequences of pending -> running -> terminal.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		// A job must pass through running before done or failed; only an
		// operator cancel may end it while still queued.
		return next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusRunning:
		return next.Terminal() || next == JobStatusPending // pending only via crash resume
	default:
		return false
	}
}

// Skill is a static workflow definition loaded from a YAML file.
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Step is one entry in a skill chain. Tool resolves to either an external
// endpoint or an internal action; unknown tools are skipped with a warning.
type Step struct {
	Tool    string         `yaml:"tool"`
	Input   string         `yaml:"input,omitempty"`  // prior step's artifact name
	Output  string         `yaml:"output,omitempty"` // artifact name to produce
	Action  string         `yaml:"action,omitempty"` // store_findings | suggest_next
	Params  map[string]any `yaml:"params,omitempty"`
	Timeout int            `yaml:"timeout,omitempty"` // seconds, approval gates only
}

// Internal step actions understood by the dispatcher.
const (
	ActionStoreFindings = "store_findings"
	ActionSuggestNext   = "suggest_next"
)

// Finding is a normalized vulnerability or asset record.
type Finding struct {
	Tool     string `json:"tool"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
}

// Severity levels, most severe first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// SeverityRank maps a severity to its sort rank; lower sorts first.
// Unknown severities rank below info.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	}
	return 5
}

// SeverityAtLeast reports whether severity is at or above min.
func SeverityAtLeast(severity, min string) bool {
	return SeverityRank(severity) <= SeverityRank(min)
}

// Alert is a normalized threat-feed entry.
type Alert struct {
	Source      string
	Title       string
	URL         string
	Summary     string
	Severity    string
	Published   time.Time
	Fingerprint string
}

// OutcomeAction identifies how an approval request resolved.
type OutcomeAction string

const (
	OutcomeApprove OutcomeAction = "approve"
	OutcomeDeny    OutcomeAction = "deny"
	OutcomeChoice  OutcomeAction = "choice"
	OutcomeTimeout OutcomeAction = "timeout"
	OutcomeCancel  OutcomeAction = "cancel"
)

// Outcome is the single result written to an approval resolver.
type Outcome struct {
	Action OutcomeAction
	Choice string // set when Action == OutcomeChoice
}

// Suggestion is one rule-derived next step for a job.
type Suggestion struct {
	Action   string `json:"action"`
	Reason   string `json:"reason"`
	Priority int    `json:"priority"` // 1 (highest) .. 5
}
