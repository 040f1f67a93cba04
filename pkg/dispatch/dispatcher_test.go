package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexclaw/hexclaw/pkg/approval"
	"github.com/hexclaw/hexclaw/pkg/artifacts"
	"github.com/hexclaw/hexclaw/pkg/channel"
	"github.com/hexclaw/hexclaw/pkg/planner"
	"github.com/hexclaw/hexclaw/pkg/queue"
	"github.com/hexclaw/hexclaw/pkg/skills"
	"github.com/hexclaw/hexclaw/pkg/types"
)

const reconSkill = `name: recon_osint
description: recon chain
steps:
  - tool: subfinder
    output: subs
  - tool: naabu
    output: ports
  - tool: nuclei
    output: vulns
  - action: store_findings
`

// toolResponses scripts the fake tool server per endpoint path.
type toolServer struct {
	mu        sync.Mutex
	responses map[string]func(w http.ResponseWriter)
	requests  []string
}

func newToolServer() *toolServer {
	return &toolServer{responses: map[string]func(w http.ResponseWriter){}}
}

func (ts *toolServer) set(path string, status int, body any) {
	ts.responses[path] = func(w http.ResponseWriter) {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}

func (ts *toolServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.requests = append(ts.requests, r.URL.Path)
		fn := ts.responses[r.URL.Path]
		ts.mu.Unlock()
		if fn == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fn(w)
	})
}

type fixture struct {
	dispatcher *Dispatcher
	queue      *queue.Queue
	store      *artifacts.Store
	gate       *approval.Gate
	cancels    *approval.Cancels
	transport  *captureTransport
	tools      *toolServer
}

// captureTransport records notifications for assertions.
type captureTransport struct {
	mu      sync.Mutex
	texts   []string
	buttons [][]approval.Button
}

func (c *captureTransport) SendText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *captureTransport) SendFile(context.Context, string, string) error { return nil }

func (c *captureTransport) SendButtons(_ context.Context, prompt string, buttons []approval.Button) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buttons = append(c.buttons, buttons)
	return nil
}

func (c *captureTransport) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func newFixture(t *testing.T, skillYAML string, mutate func(*Options)) *fixture {
	t.Helper()
	dir := t.TempDir()

	skillsDir := filepath.Join(dir, "skills")
	require.NoError(t, os.MkdirAll(skillsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(skillsDir, "recon_osint.yaml"), []byte(skillYAML), 0644))

	q, err := queue.Open(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	ts := newToolServer()
	srv := httptest.NewServer(ts.handler())
	t.Cleanup(srv.Close)

	transport := &captureTransport{}
	gate := approval.NewGate(transport)
	cancels := approval.NewCancels()
	store := artifacts.NewStore(filepath.Join(dir, "data"))

	opts := Options{
		Queue:           q,
		Skills:          skills.NewLoader(skillsDir),
		Store:           store,
		Gate:            gate,
		Cancels:         cancels,
		Notifier:        channel.NewNotifier(transport),
		Planner:         planner.New(nil, nil),
		ToolServerURL:   srv.URL,
		ToolTimeout:     5 * time.Second,
		FollowupEnqueue: true,
		ApprovalTimeout: 100 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &fixture{
		dispatcher: New(opts),
		queue:      q,
		store:      store,
		gate:       gate,
		cancels:    cancels,
		transport:  transport,
		tools:      ts,
	}
}

func (f *fixture) scriptHappyRecon() {
	f.tools.set("/subfinder", http.StatusOK, map[string]any{
		"success": true, "subdomains": []string{"a.example.com", "b.example.com"},
	})
	f.tools.set("/naabu", http.StatusOK, map[string]any{
		"success": true, "open_ports": []int{22, 80, 443},
	})
	f.tools.set("/nuclei", http.StatusOK, map[string]any{
		"success": true, "vulnerabilities": []map[string]any{
			{"severity": "high", "template": "T1"},
		},
	})
}

func (f *fixture) enqueueAndRun(t *testing.T) types.Job {
	t.Helper()
	job, err := f.queue.Enqueue("recon_osint", map[string]any{"target": "example.com"})
	require.NoError(t, err)
	f.dispatcher.Run(context.Background(), job)
	final, err := f.queue.Get(job.ID)
	require.NoError(t, err)
	return final
}

// TestReconChain runs the full happy-path recon chain against a scripted
// tool server and checks artifacts, aggregate, and the report.
func TestReconChain(t *testing.T) {
	f := newFixture(t, reconSkill, nil)
	f.scriptHappyRecon()

	final := f.enqueueAndRun(t)
	assert.Equal(t, types.JobStatusDone, final.Status)
	require.NotNil(t, final.FinishedAt)
	assert.Equal(t, float64(1), final.Result["findings_total"])

	subs, err := f.store.Query(f.store.Path(final.ID, "subs"), "")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
	ports, err := f.store.Query(f.store.Path(final.ID, "ports"), "")
	require.NoError(t, err)
	assert.Len(t, ports, 3)
	vulns, err := f.store.Query(f.store.Path(final.ID, "vulns"), "")
	require.NoError(t, err)
	assert.Len(t, vulns, 1)

	sum := f.store.Aggregate(final.ID)
	assert.Equal(t, 1, sum.TotalVulns)
	assert.Equal(t, 1, sum.SeverityCounts["high"])

	actions := suggestionActions(artifacts.SuggestNext(sum))
	assert.Contains(t, actions, artifacts.ActionDirFuzzing, "web port present")
	assert.Contains(t, actions, artifacts.ActionDeepScan, "high finding present")

	report := lastReport(t, f)
	assert.Contains(t, report, "[HIGH] T1")
}

// TestSoftFailureMidChain fails the port step with HTTP 500 and checks the
// chain still completes with exactly one warning.
func TestSoftFailureMidChain(t *testing.T) {
	f := newFixture(t, reconSkill, nil)
	f.scriptHappyRecon()
	f.tools.set("/naabu", http.StatusInternalServerError, map[string]any{"error": "boom"})

	final := f.enqueueAndRun(t)
	assert.Equal(t, types.JobStatusDone, final.Status)

	_, err := f.store.Query(f.store.Path(final.ID, "ports"), "")
	assert.Error(t, err, "ports artifact must be absent")

	warnings := 0
	for _, text := range f.transport.sent() {
		if strings.Contains(text, "⚠️") && strings.Contains(text, "naabu") {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings, "exactly one warning for the failed step")

	sum := f.store.Aggregate(final.ID)
	assert.Equal(t, 2, sum.Subdomains, "other artifacts still aggregated")
	assert.Equal(t, 1, sum.TotalVulns)
}

// TestSuccessFalseIsSoftFailure tests that success=false on HTTP 200 also
// soft-fails.
func TestSuccessFalseIsSoftFailure(t *testing.T) {
	f := newFixture(t, reconSkill, nil)
	f.scriptHappyRecon()
	f.tools.set("/subfinder", http.StatusOK, map[string]any{"success": false, "error": "rate limited"})

	final := f.enqueueAndRun(t)
	assert.Equal(t, types.JobStatusDone, final.Status)
	_, err := f.store.Query(f.store.Path(final.ID, "subs"), "")
	assert.Error(t, err)
}

// TestUnknownToolSynthesizesSuccess tests the dry-composability rule.
func TestUnknownToolSynthesizesSuccess(t *testing.T) {
	skill := "steps:\n  - tool: made_up_tool\n    params:\n      mode: fast\n"
	f := newFixture(t, skill, nil)

	final := f.enqueueAndRun(t)
	assert.Equal(t, types.JobStatusDone, final.Status)
	assert.Empty(t, f.tools.requests, "unknown tool must not reach the server")
}

// TestMissingSkillFailsJob tests terminal failure on a missing skill file.
func TestMissingSkillFailsJob(t *testing.T) {
	f := newFixture(t, reconSkill, nil)
	job, err := f.queue.Enqueue("no_such_skill", map[string]any{"target": "example.com"})
	require.NoError(t, err)

	f.dispatcher.Run(context.Background(), job)

	final, err := f.queue.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, final.Status)
	assert.Contains(t, final.Error, "skill not found")
}

// TestDryRunSkipsHTTP tests that dry-run never touches the tool server.
func TestDryRunSkipsHTTP(t *testing.T) {
	f := newFixture(t, reconSkill, func(o *Options) { o.DryRun = true })

	final := f.enqueueAndRun(t)
	assert.Equal(t, types.JobStatusDone, final.Status)
	assert.Empty(t, f.tools.requests)
}

const suggestSkill = `name: recon_osint
steps:
  - tool: naabu
    output: ports
  - action: suggest_next
    timeout: 2
`

// TestSuggestNextChoice tests that an operator choice at the gate enqueues a
// follow-up job.
func TestSuggestNextChoice(t *testing.T) {
	f := newFixture(t, suggestSkill, nil)
	f.tools.set("/naabu", http.StatusOK, map[string]any{"success": true, "open_ports": []int{22}})

	job, err := f.queue.Enqueue("recon_osint", map[string]any{"target": "example.com"})
	require.NoError(t, err)

	go func() {
		for f.gate.PendingCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		f.gate.Resolve("choice:next-" + job.ID + ":" + artifacts.ActionSSHAudit)
	}()
	f.dispatcher.Run(context.Background(), job)

	final, err := f.queue.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusDone, final.Status)

	recent, err := f.queue.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2, "choice must enqueue a follow-up")
	var followup types.Job
	for _, j := range recent {
		if j.ID != job.ID {
			followup = j
		}
	}
	assert.Equal(t, types.JobStatusPending, followup.Status)
	assert.Contains(t, followup.Params["goal"], artifacts.ActionSSHAudit)
	assert.Contains(t, followup.Params["goal"], "example.com")
}

// TestSuggestNextTimeout tests an unanswered gate: the job still completes
// and a late press is a no-op. The step carries no timeout so the
// dispatcher's ApprovalTimeout applies.
func TestSuggestNextTimeout(t *testing.T) {
	skillNoTimeout := strings.Replace(suggestSkill, "\n    timeout: 2", "", 1)
	f := newFixture(t, skillNoTimeout, func(o *Options) { o.ApprovalTimeout = 50 * time.Millisecond })
	f.tools.set("/naabu", http.StatusOK, map[string]any{"success": true, "open_ports": []int{22}})

	job, err := f.queue.Enqueue("recon_osint", map[string]any{"target": "example.com"})
	require.NoError(t, err)
	f.dispatcher.Run(context.Background(), job)

	final, err := f.queue.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusDone, final.Status, "timeout must not fail the job")

	assert.False(t, f.gate.Resolve("choice:next-"+job.ID+":ssh_audit"), "late press is a no-op")

	recent, err := f.queue.Recent(10)
	require.NoError(t, err)
	assert.Len(t, recent, 1, "no follow-up on timeout")
}

// TestCancelDuringApproval tests that a cancel while blocked at the gate yields
// a cancelled job and a single cancellation notification.
func TestCancelDuringApproval(t *testing.T) {
	f := newFixture(t, suggestSkill, nil)
	f.tools.set("/naabu", http.StatusOK, map[string]any{"success": true, "open_ports": []int{22}})

	job, err := f.queue.Enqueue("recon_osint", map[string]any{"target": "example.com"})
	require.NoError(t, err)

	go func() {
		for f.gate.PendingCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		f.cancels.Set(job.ID)
		f.gate.CancelJob(job.ID)
	}()
	f.dispatcher.Run(context.Background(), job)

	final, err := f.queue.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, final.Status)
	assert.False(t, f.cancels.IsSet(job.ID), "cancel flag must be consumed")

	cancellations := 0
	for _, text := range f.transport.sent() {
		if strings.Contains(text, "🛑") {
			cancellations++
		}
	}
	assert.Equal(t, 1, cancellations)
}

// TestCancelBetweenSteps tests the step-boundary cancellation check.
func TestCancelBetweenSteps(t *testing.T) {
	f := newFixture(t, reconSkill, nil)
	f.scriptHappyRecon()

	job, err := f.queue.Enqueue("recon_osint", map[string]any{"target": "example.com"})
	require.NoError(t, err)
	f.cancels.Set(job.ID)

	f.dispatcher.Run(context.Background(), job)

	final, err := f.queue.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, final.Status)
	assert.Empty(t, f.tools.requests, "cancelled before the first step ran")
	assert.False(t, f.cancels.IsSet(job.ID), "flag consumed")
}

func suggestionActions(suggestions []types.Suggestion) []string {
	out := make([]string, len(suggestions))
	for i, s := range suggestions {
		out[i] = s.Action
	}
	return out
}

func lastReport(t *testing.T, f *fixture) string {
	t.Helper()
	for _, text := range f.transport.sent() {
		if strings.Contains(text, "✅ Job") {
			return text
		}
	}
	t.Fatal("no report notification emitted")
	return ""
}
