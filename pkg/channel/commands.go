package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hexclaw/hexclaw/pkg/approval"
	"github.com/hexclaw/hexclaw/pkg/artifacts"
	"github.com/hexclaw/hexclaw/pkg/cache"
	"github.com/hexclaw/hexclaw/pkg/ledger"
	"github.com/hexclaw/hexclaw/pkg/log"
	"github.com/hexclaw/hexclaw/pkg/planner"
	"github.com/hexclaw/hexclaw/pkg/queue"
	"github.com/hexclaw/hexclaw/pkg/router"
	"github.com/hexclaw/hexclaw/pkg/skills"
	"github.com/hexclaw/hexclaw/pkg/types"
)

const helpText = "*HexClaw commands*\n" +
	"`recon <target>` — queue a recon chain\n" +
	"`orchestrate <goal>` — plan a goal, then approve the plan\n" +
	"`status` — recent jobs\n" +
	"`stats` — token usage and cache hit rate\n" +
	"`data <question>` — query collected artifacts\n" +
	"`skills [query]` — list or search named skills\n" +
	"`cancel <job_id>` — cancel a job\n" +
	"`flush` — clear the inference cache\n" +
	"`help` — this text"

// Commands routes operator command lines to core entry points.
type Commands struct {
	Queue   *queue.Queue
	Ledger  *ledger.Ledger
	Cache   *cache.Cache
	Store   *artifacts.Store
	Planner *planner.Planner
	Gate    *approval.Gate
	Cancels *approval.Cancels
	Index   *skills.Index
	Router  *router.Router // nil disables the data-command model fallback

	// ApprovalTimeout bounds the orchestrate propose-plan wait.
	ApprovalTimeout time.Duration

	logger zerolog.Logger
}

// NewCommands wires the command router; the struct fields are the
// collaborators it dispatches into.
func NewCommands(c Commands) *Commands {
	c.logger = log.WithComponent("commands")
	if c.ApprovalTimeout == 0 {
		c.ApprovalTimeout = 5 * time.Minute
	}
	return &c
}

// Handle parses one command line and returns the reply text. Blocking flows
// (orchestrate) block the calling goroutine, not the transport.
func (c *Commands) Handle(ctx context.Context, line string) string {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	verb = strings.ToLower(strings.TrimPrefix(verb, "/"))
	if i := strings.Index(verb, "@"); i > 0 {
		verb = verb[:i] // strip @botname suffix Telegram appends in groups
	}
	rest = strings.TrimSpace(rest)

	c.logger.Info().Str("verb", verb).Msg("Operator command")
	switch verb {
	case "recon":
		return c.recon(rest)
	case "orchestrate":
		return c.orchestrate(ctx, rest)
	case "status":
		return c.status()
	case "stats":
		return c.stats()
	case "data":
		return c.data(ctx, rest)
	case "skills":
		return c.skillsCmd(rest)
	case "cancel":
		return c.cancel(rest)
	case "flush":
		return c.flush(ctx)
	case "help", "start":
		return helpText
	case "":
		return ""
	default:
		return "Unknown command. " + helpText
	}
}

func (c *Commands) recon(target string) string {
	if target == "" {
		return "Usage: `recon <target>`"
	}
	job, err := c.Queue.Enqueue("recon_osint", map[string]any{"target": target})
	if err != nil {
		return "Failed to queue job: " + err.Error()
	}
	return fmt.Sprintf("Queued job `%s`: recon_osint on `%s`", job.ID, job.Target)
}

func (c *Commands) orchestrate(ctx context.Context, goal string) string {
	if goal == "" {
		return "Usage: `orchestrate <goal>`"
	}

	plan := c.Planner.Resolve(ctx, goal)
	prompt := fmt.Sprintf("Proposed plan for %q:\nskill: %s\ntarget: %v\nProceed?",
		goal, plan.Skill, plan.Params["target"])

	outcome := c.Gate.Request(ctx, approval.Request{
		ID:      "plan-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Prompt:  prompt,
		Timeout: c.ApprovalTimeout,
	})

	switch outcome.Action {
	case types.OutcomeApprove:
		job, err := c.Queue.Enqueue(plan.Skill, plan.Params)
		if err != nil {
			return "Plan approved but enqueue failed: " + err.Error()
		}
		return fmt.Sprintf("Plan approved, queued job `%s`", job.ID)
	case types.OutcomeDeny:
		return "Plan denied, nothing queued."
	case types.OutcomeTimeout:
		return "Plan approval timed out, nothing queued."
	default:
		return "Plan cancelled, nothing queued."
	}
}

func (c *Commands) status() string {
	jobs, err := c.Queue.Recent(10)
	if err != nil {
		return "Failed to read queue: " + err.Error()
	}
	if len(jobs) == 0 {
		return "No jobs yet."
	}

	var b strings.Builder
	b.WriteString("*Recent jobs*\n")
	for _, j := range jobs {
		fmt.Fprintf(&b, "`%s` %s %s on `%s`", j.ID, statusEmoji(j.Status), j.SkillName, j.Target)
		if j.Error != "" {
			fmt.Fprintf(&b, " — %s", j.Error)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Commands) stats() string {
	sum, err := c.Ledger.Summary()
	if err != nil {
		return "Failed to read ledger: " + err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Usage*: %d calls, %d in / %d out tokens, $%.4f, %d cache hits\n",
		sum.Calls, sum.TokensIn, sum.TokensOut, sum.CostUSD, sum.CacheHits)
	for _, m := range sum.Models {
		fmt.Fprintf(&b, "• %s/%s: %d calls, $%.4f\n", m.Provider, m.Model, m.Calls, m.CostUSD)
	}
	if tiers, err := c.Ledger.SummaryByTier(); err == nil && len(tiers) > 0 {
		b.WriteString("*By tier*\n")
		for _, t := range tiers {
			fmt.Fprintf(&b, "• %s: %d calls, $%.4f\n", t.Tier, t.Calls, t.CostUSD)
		}
	}
	if c.Cache != nil {
		cs := c.Cache.Stats()
		fmt.Fprintf(&b, "*Cache*: %.0f%% hit rate (%d exact, %d semantic, %d misses)",
			cs.HitRate*100, cs.HitsExact, cs.HitsSemantic, cs.Misses)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Commands) data(ctx context.Context, question string) string {
	if question == "" {
		return "Usage: `data <question or SQL>`"
	}

	var gen artifacts.SQLGenerator
	if c.Router != nil && c.Router.HasProviders() {
		gen = func(ctx context.Context, q string) string {
			return c.Router.Ask(ctx, router.Request{
				Prompt: q,
				Tier:   router.TierLow,
				System: "Translate the question into one SQLite SELECT statement over a table named data. Return ONLY the SQL.",
			})
		}
	}

	rows, err := c.Store.NLQuery(ctx, question, gen)
	if err != nil {
		return "Query failed: " + err.Error()
	}
	if len(rows) == 0 {
		return "No data matched."
	}

	var b strings.Builder
	for i, row := range rows {
		if i >= 25 {
			fmt.Fprintf(&b, "… %d more rows", len(rows)-i)
			break
		}
		fmt.Fprintf(&b, "%v\n", row)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Commands) skillsCmd(query string) string {
	if c.Index == nil || c.Index.Len() == 0 {
		return "No named skills indexed."
	}

	entries := c.Index.All()
	header := "*Named skills*"
	if query != "" {
		entries = c.Index.FindRelevant(query)
		header = "*Matching skills*"
		if len(entries) == 0 {
			return "No skills match `" + query + "`."
		}
	}

	var b strings.Builder
	b.WriteString(header + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "• @%s — %s\n", e.ID, e.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Commands) cancel(jobID string) string {
	if jobID == "" {
		return "Usage: `cancel <job_id>`"
	}
	if _, err := c.Queue.Get(jobID); err != nil {
		return "Unknown job `" + jobID + "`"
	}
	c.Cancels.Set(jobID)
	c.Gate.CancelJob(jobID)
	return fmt.Sprintf("Cancellation requested for `%s`; it takes effect at the next step boundary.", jobID)
}

func (c *Commands) flush(ctx context.Context) string {
	if c.Cache == nil {
		return "No cache configured."
	}
	c.Cache.Flush(ctx)
	return "Inference cache flushed."
}

func statusEmoji(s types.JobStatus) string {
	switch s {
	case types.JobStatusPending:
		return "⏳"
	case types.JobStatusRunning:
		return "▶️"
	case types.JobStatusDone:
		return "✅"
	case types.JobStatusFailed:
		return "❌"
	case types.JobStatusCancelled:
		return "🛑"
	}
	return "❓"
}
