package channel

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hexclaw/hexclaw/pkg/log"
	"github.com/hexclaw/hexclaw/pkg/types"
)

// Notifier is the one-way notification facade used by the dispatcher, the
// monitor, and the daemon. A nil transport turns every notification into a
// log line (dry-run and tests). Sends are best-effort: failures are logged,
// never returned, and never retried, so a terminal state yields at most one
// message.
type Notifier struct {
	transport Transport
	logger    zerolog.Logger
}

// NewNotifier builds a notifier over transport (nil is legal).
func NewNotifier(transport Transport) *Notifier {
	return &Notifier{transport: transport, logger: log.WithComponent("notify")}
}

// Text sends a raw markdown message.
func (n *Notifier) Text(ctx context.Context, markdown string) {
	if n.transport == nil {
		n.logger.Info().Str("text", markdown).Msg("Notification (no transport)")
		return
	}
	if err := n.transport.SendText(ctx, markdown); err != nil {
		n.logger.Warn().Err(err).Msg("Notification send failed")
	}
}

// JobStarted announces a job entering running.
func (n *Notifier) JobStarted(ctx context.Context, job types.Job) {
	n.Text(ctx, fmt.Sprintf("🚀 Job `%s` started: *%s* on `%s`", job.ID, job.SkillName, job.Target))
}

// Step announces one step beginning.
func (n *Notifier) Step(ctx context.Context, jobID string, i, total int, tool string) {
	n.Text(ctx, fmt.Sprintf("⚙️ `%s` step %d/%d: %s", jobID, i, total, tool))
}

// StepWarning reports a soft-failed or skipped step. One warning per step.
func (n *Notifier) StepWarning(ctx context.Context, jobID, tool, reason string) {
	n.Text(ctx, fmt.Sprintf("⚠️ `%s` step %s skipped: %s", jobID, tool, reason))
}

// FindingsStored summarizes a store_findings action.
func (n *Notifier) FindingsStored(ctx context.Context, jobID string, findings []types.Finding) {
	counts := severityCounts(findings)
	n.Text(ctx, fmt.Sprintf("📦 `%s` stored %d finding(s)%s", jobID, len(findings), histogramSuffix(counts)))
}

// Report emits the structured terminal report: severity histogram, top-5
// findings most severe first, and suggested next steps when present.
func (n *Notifier) Report(ctx context.Context, job types.Job, findings []types.Finding, suggestions []types.Suggestion) {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Job `%s` done: *%s* on `%s`\n", job.ID, job.SkillName, job.Target)

	counts := severityCounts(findings)
	fmt.Fprintf(&b, "Findings: %d%s\n", len(findings), histogramSuffix(counts))

	top := topBySeverity(findings, 5)
	for _, f := range top {
		fmt.Fprintf(&b, "• [%s] %s", strings.ToUpper(f.Severity), f.Title)
		if f.Tool != "" {
			fmt.Fprintf(&b, " _(%s)_", f.Tool)
		}
		b.WriteString("\n")
	}

	if len(suggestions) > 0 {
		b.WriteString("Next steps:\n")
		for _, s := range suggestions {
			fmt.Fprintf(&b, "%d. %s — %s\n", s.Priority, s.Action, s.Reason)
		}
	}
	n.Text(ctx, strings.TrimRight(b.String(), "\n"))
}

// JobFailed announces a terminal failure.
func (n *Notifier) JobFailed(ctx context.Context, job types.Job, errMsg string) {
	n.Text(ctx, fmt.Sprintf("❌ Job `%s` failed: %s", job.ID, errMsg))
}

// JobCancelled announces a cancellation.
func (n *Notifier) JobCancelled(ctx context.Context, jobID string) {
	n.Text(ctx, fmt.Sprintf("🛑 Job `%s` cancelled", jobID))
}

// Alert delivers one threat-monitor alert.
func (n *Notifier) Alert(ctx context.Context, a types.Alert) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* [%s]\n", severityEmoji(a.Severity), a.Title, strings.ToUpper(a.Severity))
	if a.Summary != "" {
		b.WriteString(a.Summary + "\n")
	}
	fmt.Fprintf(&b, "%s\n_%s_", a.URL, a.Source)
	n.Text(ctx, b.String())
}

// Offline announces shutdown, best-effort.
func (n *Notifier) Offline(ctx context.Context) {
	n.Text(ctx, "💤 HexClaw going offline")
}

func severityCounts(findings []types.Finding) map[string]int {
	counts := make(map[string]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}

func histogramSuffix(counts map[string]int) string {
	var parts []string
	for _, sev := range []string{types.SeverityCritical, types.SeverityHigh, types.SeverityMedium, types.SeverityLow, types.SeverityInfo} {
		if n := counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", sev, n))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func topBySeverity(findings []types.Finding, n int) []types.Finding {
	sorted := append([]types.Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return types.SeverityRank(sorted[i].Severity) < types.SeverityRank(sorted[j].Severity)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func severityEmoji(severity string) string {
	switch severity {
	case types.SeverityCritical:
		return "🔴"
	case types.SeverityHigh:
		return "🟠"
	case types.SeverityMedium:
		return "🟡"
	default:
		return "🔵"
	}
}
