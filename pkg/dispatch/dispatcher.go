package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hexclaw/hexclaw/pkg/approval"
	"github.com/hexclaw/hexclaw/pkg/artifacts"
	"github.com/hexclaw/hexclaw/pkg/channel"
	"github.com/hexclaw/hexclaw/pkg/events"
	"github.com/hexclaw/hexclaw/pkg/log"
	"github.com/hexclaw/hexclaw/pkg/metrics"
	"github.com/hexclaw/hexclaw/pkg/planner"
	"github.com/hexclaw/hexclaw/pkg/queue"
	"github.com/hexclaw/hexclaw/pkg/skills"
	"github.com/hexclaw/hexclaw/pkg/types"
)

// stepOutcome is the closed result of one step.
type stepOutcome int

const (
	stepOK stepOutcome = iota
	stepSoftFail
	stepCancelled
)

// Options wires a Dispatcher.
type Options struct {
	Queue    *queue.Queue
	Skills   *skills.Loader
	Store    *artifacts.Store
	Gate     *approval.Gate
	Cancels  *approval.Cancels
	Notifier *channel.Notifier
	Planner  *planner.Planner // used for choice follow-ups; nil disables them
	Events   *events.Broker   // optional lifecycle event fan-out

	ToolServerURL string
	ToolTimeout   time.Duration

	// DryRun skips external HTTP and synthesizes success results.
	DryRun bool
	// FollowupEnqueue enqueues a follow-up job when a suggest_next gate
	// resolves with a choice.
	FollowupEnqueue bool
	// ApprovalTimeout is the default suggest_next gate deadline, used when a
	// step does not set its own.
	ApprovalTimeout time.Duration
}

// Dispatcher executes one job's skill chain: resolve each step to an
// external tool or an internal action, persist artifacts, accumulate
// findings, and drive the approval gate. Errors never escape Run; they
// become the job's terminal state.
type Dispatcher struct {
	opts   Options
	client *http.Client
	logger zerolog.Logger
}

// New builds a dispatcher.
func New(opts Options) *Dispatcher {
	if opts.ToolTimeout == 0 {
		opts.ToolTimeout = 300 * time.Second
	}
	if opts.ApprovalTimeout == 0 {
		opts.ApprovalTimeout = 300 * time.Second
	}
	return &Dispatcher{
		opts:   opts,
		client: &http.Client{Timeout: opts.ToolTimeout},
		logger: log.WithComponent("dispatch"),
	}
}

// Run executes job to a terminal status. It must not panic outward; a bug
// surfaces as a failed job, not a dead worker.
func (d *Dispatcher) Run(ctx context.Context, job types.Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("job", job.ID).Any("panic", r).Msg("Dispatcher panicked")
			d.finishFailed(ctx, job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := d.opts.Queue.UpdateStatus(job.ID, types.JobStatusRunning, nil, ""); err != nil {
		d.logger.Error().Err(err).Str("job", job.ID).Msg("Could not mark job running")
		return
	}
	d.publish(events.EventJobStarted, job.ID, job.SkillName)
	d.opts.Notifier.JobStarted(ctx, job)

	skill, err := d.opts.Skills.Load(job.SkillName)
	if err != nil {
		d.finishFailed(ctx, job, err.Error())
		return
	}

	jc := newJobContext(job)
	total := len(skill.Steps)

	for i, step := range skill.Steps {
		if d.opts.Cancels.CheckAndClear(job.ID) {
			d.finishCancelled(ctx, job)
			return
		}

		label := step.Tool
		if label == "" {
			label = step.Action
		}
		d.opts.Notifier.Step(ctx, job.ID, i+1, total, label)
		d.publish(events.EventStepStarted, job.ID, label)

		switch d.runStep(ctx, job, jc, step) {
		case stepOK:
			metrics.StepsTotal.WithLabelValues("ok").Inc()
		case stepSoftFail:
			metrics.StepsTotal.WithLabelValues("soft_fail").Inc()
			d.publish(events.EventStepFailed, job.ID, label)
		case stepCancelled:
			metrics.StepsTotal.WithLabelValues("cancelled").Inc()
			d.finishCancelled(ctx, job)
			return
		}
	}

	d.finishDone(ctx, job, jc)
}

func (d *Dispatcher) runStep(ctx context.Context, job types.Job, jc *jobContext, step types.Step) stepOutcome {
	kind, path := resolveTool(step)

	switch kind {
	case KindInternal:
		return d.runInternal(ctx, job, jc, step)

	case KindUnknown:
		// Synthetic success keeps dry chains composable; the warning is the
		// only trace.
		d.logger.Warn().Str("job", job.ID).Str("tool", step.Tool).Msg("Unknown tool, synthesizing success")
		d.opts.Notifier.StepWarning(ctx, job.ID, step.Tool, "unknown tool")
		jc.Results[step.Tool] = map[string]any{"success": true, "data": step.Params}
		return stepOK

	default:
		result, err := d.callTool(ctx, step.Tool, path, jc, step)
		if err != nil {
			// Soft failure: one warning, chain continues.
			d.logger.Warn().Err(err).Str("job", job.ID).Str("tool", step.Tool).Msg("Tool call soft-failed")
			d.opts.Notifier.StepWarning(ctx, job.ID, step.Tool, err.Error())
			metrics.ToolCalls.WithLabelValues(step.Tool, "error").Inc()
			return stepSoftFail
		}
		metrics.ToolCalls.WithLabelValues(step.Tool, "ok").Inc()

		jc.Results[step.Tool] = result
		jc.Findings = append(jc.Findings, findingsOf(step.Tool, result)...)

		if step.Output != "" {
			records := extractRecords(step.Tool, result)
			if len(records) > 0 {
				artifactPath := d.opts.Store.Path(job.ID, step.Output)
				if _, err := d.opts.Store.StoreRecords(artifactPath, records, artifacts.Overwrite); err != nil {
					d.logger.Warn().Err(err).Str("job", job.ID).Str("artifact", step.Output).Msg("Artifact write failed")
				} else {
					jc.Artifacts[step.Output] = artifactPath
				}
			}
		}
		return stepOK
	}
}

func (d *Dispatcher) callTool(ctx context.Context, tool, path string, jc *jobContext, step types.Step) (map[string]any, error) {
	payload := buildPayload(tool, jc.Target, step)

	if d.opts.DryRun {
		return map[string]any{"success": true, "dry_run": true, "data": payload}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", tool, err)
	}

	timer := metrics.NewTimer()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.opts.ToolServerURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", tool, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", tool, err)
	}
	defer resp.Body.Close()
	timer.ObserveDurationVec(metrics.ToolLatency, tool)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d", tool, resp.StatusCode)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", tool, err)
	}
	if success, ok := result["success"].(bool); ok && !success {
		reason := stringField(result, "error", "message")
		if reason == "" {
			reason = "tool reported failure"
		}
		return nil, fmt.Errorf("%s: %s", tool, reason)
	}
	return result, nil
}

func (d *Dispatcher) runInternal(ctx context.Context, job types.Job, jc *jobContext, step types.Step) stepOutcome {
	switch step.Action {
	case types.ActionStoreFindings:
		if len(jc.Findings) > 0 {
			records := make([]map[string]any, 0, len(jc.Findings))
			for _, f := range jc.Findings {
				records = append(records, map[string]any{
					"tool": f.Tool, "severity": f.Severity, "title": f.Title, "detail": f.Detail,
				})
			}
			name := step.Output
			if name == "" {
				name = "findings"
			}
			path := d.opts.Store.Path(job.ID, name)
			if _, err := d.opts.Store.StoreRecords(path, records, artifacts.Overwrite); err != nil {
				d.logger.Warn().Err(err).Str("job", job.ID).Msg("Findings artifact write failed")
			} else {
				jc.Artifacts[name] = path
			}
		}
		d.opts.Notifier.FindingsStored(ctx, job.ID, jc.Findings)
		return stepOK

	case types.ActionSuggestNext:
		return d.runSuggestNext(ctx, job, jc, step)

	default:
		d.logger.Warn().Str("job", job.ID).Str("action", step.Action).Msg("Unknown internal action, skipping")
		d.opts.Notifier.StepWarning(ctx, job.ID, step.Action, "unknown action")
		return stepOK
	}
}

// runSuggestNext computes the rule-based suggestion list and puts the top
// actions to the operator through the approval gate. No model call is made
// here; the only inference that can follow is a job the operator approves.
func (d *Dispatcher) runSuggestNext(ctx context.Context, job types.Job, jc *jobContext, step types.Step) stepOutcome {
	sum := d.opts.Store.Aggregate(job.ID)
	suggestions := artifacts.SuggestNext(sum)
	if len(suggestions) == 0 {
		d.logger.Info().Str("job", job.ID).Msg("No next-step suggestions")
		return stepOK
	}

	choices := make([]string, 0, len(suggestions))
	var promptLines []string
	for _, s := range suggestions {
		choices = append(choices, s.Action)
		promptLines = append(promptLines, fmt.Sprintf("%d. %s — %s", s.Priority, s.Action, s.Reason))
	}

	timeout := d.opts.ApprovalTimeout
	if step.Timeout > 0 {
		timeout = time.Duration(step.Timeout) * time.Second
	}

	prompt := fmt.Sprintf("Job `%s` on `%s` suggests:\n%s\nPick a follow-up or approve to finish.",
		job.ID, jc.Target, strings.Join(promptLines, "\n"))
	outcome := d.opts.Gate.Request(ctx, approval.Request{
		ID:      "next-" + job.ID,
		JobID:   job.ID,
		Prompt:  prompt,
		Choices: choices,
		Timeout: timeout,
	})
	d.publish(events.EventApprovalClosed, job.ID, string(outcome.Action))

	switch outcome.Action {
	case types.OutcomeChoice:
		d.logger.Info().Str("job", job.ID).Str("choice", outcome.Choice).Msg("Operator chose follow-up")
		if d.opts.FollowupEnqueue && d.opts.Planner != nil {
			goal := outcome.Choice + " on " + jc.Target
			plan := d.opts.Planner.Resolve(ctx, goal)
			if followup, err := d.opts.Queue.Enqueue(plan.Skill, plan.Params); err == nil {
				d.publish(events.EventJobEnqueued, followup.ID, plan.Skill)
				d.opts.Notifier.Text(ctx, fmt.Sprintf("↪️ Queued follow-up `%s`: %s", followup.ID, goal))
			} else {
				d.logger.Warn().Err(err).Str("job", job.ID).Msg("Follow-up enqueue failed")
			}
		} else {
			d.opts.Notifier.Text(ctx, fmt.Sprintf("Follow-up `%s` noted for `%s` (auto-enqueue off)", outcome.Choice, jc.Target))
		}
		return stepOK
	case types.OutcomeCancel:
		return stepCancelled
	default:
		// approve, deny, timeout: recorded, chain continues.
		d.logger.Info().Str("job", job.ID).Str("outcome", string(outcome.Action)).Msg("Suggest-next gate resolved")
		return stepOK
	}
}

func (d *Dispatcher) finishDone(ctx context.Context, job types.Job, jc *jobContext) {
	findings := jc.Findings
	result := map[string]any{
		"findings_total": len(findings),
		"artifacts":      jc.Artifacts,
	}
	if len(findings) > 0 {
		encoded := make([]map[string]any, 0, len(findings))
		for _, f := range findings {
			encoded = append(encoded, map[string]any{
				"tool": f.Tool, "severity": f.Severity, "title": f.Title, "detail": f.Detail,
			})
		}
		result["findings"] = encoded
	}

	if err := d.opts.Queue.UpdateStatus(job.ID, types.JobStatusDone, result, ""); err != nil {
		d.logger.Error().Err(err).Str("job", job.ID).Msg("Could not mark job done")
	}
	metrics.JobsTotal.WithLabelValues(string(types.JobStatusDone)).Inc()
	d.publish(events.EventJobDone, job.ID, job.SkillName)

	suggestions := artifacts.SuggestNext(d.opts.Store.Aggregate(job.ID))
	d.opts.Notifier.Report(ctx, job, findings, suggestions)
}

func (d *Dispatcher) finishFailed(ctx context.Context, job types.Job, errMsg string) {
	if err := d.opts.Queue.UpdateStatus(job.ID, types.JobStatusFailed, nil, errMsg); err != nil {
		d.logger.Error().Err(err).Str("job", job.ID).Msg("Could not mark job failed")
	}
	metrics.JobsTotal.WithLabelValues(string(types.JobStatusFailed)).Inc()
	d.publish(events.EventJobFailed, job.ID, errMsg)
	d.opts.Notifier.JobFailed(ctx, job, errMsg)
}

func (d *Dispatcher) finishCancelled(ctx context.Context, job types.Job) {
	// A cancel that landed via the approval gate never went through the
	// between-steps poll; consume the flag so it cannot go stale.
	d.opts.Cancels.CheckAndClear(job.ID)
	if err := d.opts.Queue.UpdateStatus(job.ID, types.JobStatusCancelled, nil, ""); err != nil {
		d.logger.Error().Err(err).Str("job", job.ID).Msg("Could not mark job cancelled")
	}
	metrics.JobsTotal.WithLabelValues(string(types.JobStatusCancelled)).Inc()
	d.publish(events.EventJobCancelled, job.ID, job.SkillName)
	d.opts.Notifier.JobCancelled(ctx, job.ID)
}

func (d *Dispatcher) publish(eventType events.EventType, jobID, message string) {
	if d.opts.Events == nil {
		return
	}
	d.opts.Events.Publish(&events.Event{
		Type:      eventType,
		JobID:     jobID,
		Timestamp: time.Now(),
		Message:   message,
	})
}
