package channel

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexclaw/hexclaw/pkg/approval"
	"github.com/hexclaw/hexclaw/pkg/artifacts"
	"github.com/hexclaw/hexclaw/pkg/cache"
	"github.com/hexclaw/hexclaw/pkg/ledger"
	"github.com/hexclaw/hexclaw/pkg/planner"
	"github.com/hexclaw/hexclaw/pkg/queue"
	"github.com/hexclaw/hexclaw/pkg/types"
)

// fakeTransport records everything sent through it.
type fakeTransport struct {
	mu      sync.Mutex
	texts   []string
	buttons [][]approval.Button
}

func (f *fakeTransport) SendText(_ context.Context, markdown string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, markdown)
	return nil
}

func (f *fakeTransport) SendFile(context.Context, string, string) error { return nil }

func (f *fakeTransport) SendButtons(_ context.Context, prompt string, buttons []approval.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buttons = append(f.buttons, buttons)
	return nil
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// TestChunk tests the 4096-rune message split.
func TestChunk(t *testing.T) {
	assert.Equal(t, []string{"short"}, chunk("short", MaxMessageRunes))

	long := strings.Repeat("х", MaxMessageRunes+10) // multi-byte rune
	parts := chunk(long, MaxMessageRunes)
	require.Len(t, parts, 2)
	assert.Len(t, []rune(parts[0]), MaxMessageRunes)
	assert.Len(t, []rune(parts[1]), 10)
}

// TestReportSeverityOrdering tests that the report lists findings most
// severe first and caps at five.
func TestReportSeverityOrdering(t *testing.T) {
	ft := &fakeTransport{}
	n := NewNotifier(ft)

	findings := []types.Finding{
		{Severity: "info", Title: "f-info"},
		{Severity: "medium", Title: "f-med"},
		{Severity: "critical", Title: "f-crit"},
		{Severity: "low", Title: "f-low"},
		{Severity: "high", Title: "f-high"},
		{Severity: "info", Title: "f-info2"},
	}
	n.Report(context.Background(), types.Job{ID: "j1", SkillName: "recon_osint", Target: "example.com"}, findings, nil)

	texts := ft.sent()
	require.Len(t, texts, 1)
	report := texts[0]

	order := regexp.MustCompile(`\[(CRITICAL|HIGH|MEDIUM|LOW|INFO)\]`).FindAllString(report, -1)
	require.Len(t, order, 5, "report caps at five findings")
	assert.Equal(t, []string{"[CRITICAL]", "[HIGH]", "[MEDIUM]", "[LOW]", "[INFO]"}, order)
	assert.Contains(t, report, "critical=1, high=1, medium=1, low=1, info=2")
}

// TestNotifierNilTransport tests that a nil transport only logs.
func TestNotifierNilTransport(t *testing.T) {
	n := NewNotifier(nil)
	// Must not panic.
	n.JobStarted(context.Background(), types.Job{ID: "j1"})
	n.Offline(context.Background())
}

func testCommands(t *testing.T) (*Commands, *fakeTransport, *queue.Queue) {
	t.Helper()
	dir := t.TempDir()

	q, err := queue.Open(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	led, err := ledger.Open(filepath.Join(dir, "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	ft := &fakeTransport{}
	cmds := NewCommands(Commands{
		Queue:           q,
		Ledger:          led,
		Store:           artifacts.NewStore(dir),
		Planner:         planner.New(nil, nil),
		Gate:            approval.NewGate(ft),
		Cancels:         approval.NewCancels(),
		ApprovalTimeout: 100 * time.Millisecond,
	})
	return cmds, ft, q
}

// TestCommandRecon tests enqueue via the recon verb.
func TestCommandRecon(t *testing.T) {
	cmds, _, q := testCommands(t)

	reply := cmds.Handle(context.Background(), "/recon example.com")
	assert.Contains(t, reply, "recon_osint")

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "example.com", pending[0].Target)
}

// TestCommandStatusAndHelp tests the read-only verbs.
func TestCommandStatusAndHelp(t *testing.T) {
	cmds, _, _ := testCommands(t)
	ctx := context.Background()

	assert.Equal(t, "No jobs yet.", cmds.Handle(ctx, "status"))
	cmds.Handle(ctx, "recon example.com")
	assert.Contains(t, cmds.Handle(ctx, "status"), "example.com")

	assert.Contains(t, cmds.Handle(ctx, "help"), "orchestrate")
	assert.Contains(t, cmds.Handle(ctx, "frobnicate"), "Unknown command")
	assert.Contains(t, cmds.Handle(ctx, "stats"), "*Usage*")
}

// TestCommandOrchestrateApprove tests the propose-then-approve flow.
func TestCommandOrchestrateApprove(t *testing.T) {
	cmds, ft, q := testCommands(t)
	cmds.ApprovalTimeout = 2 * time.Second

	done := make(chan string, 1)
	go func() {
		done <- cmds.Handle(context.Background(), "orchestrate scan example.com")
	}()
	for cmds.Gate.PendingCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	ft.mu.Lock()
	payload := ft.buttons[0][0].Payload // approve button
	ft.mu.Unlock()
	require.True(t, cmds.Gate.Resolve(payload))

	reply := <-done
	assert.Contains(t, reply, "approved")
	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "recon_osint", pending[0].SkillName)
}

// TestCommandOrchestrateTimeout tests that an unanswered plan queues nothing.
func TestCommandOrchestrateTimeout(t *testing.T) {
	cmds, _, q := testCommands(t)

	reply := cmds.Handle(context.Background(), "orchestrate scan example.com")
	assert.Contains(t, reply, "timed out")

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestCommandCancel tests the cancellation flag path.
func TestCommandCancel(t *testing.T) {
	cmds, _, q := testCommands(t)
	ctx := context.Background()

	assert.Contains(t, cmds.Handle(ctx, "cancel nope1234"), "Unknown job")

	job, err := q.Enqueue("recon_osint", map[string]any{"target": "example.com"})
	require.NoError(t, err)
	reply := cmds.Handle(ctx, "cancel "+job.ID)
	assert.Contains(t, reply, job.ID)
	assert.True(t, cmds.Cancels.IsSet(job.ID))
}

// TestCommandData tests the zero-inference data path.
func TestCommandData(t *testing.T) {
	cmds, _, _ := testCommands(t)

	_, err := cmds.Store.StoreRecords(cmds.Store.Path("job1", "subs"),
		[]map[string]any{{"subdomain": "a.example.com"}}, artifacts.Overwrite)
	require.NoError(t, err)

	reply := cmds.Handle(context.Background(), "data how many subdomains")
	assert.Contains(t, reply, "1")

	assert.Equal(t, "No data matched.", cmds.Handle(context.Background(), "data what is the meaning of life"))
}

// TestCommandFlush tests the cache flush verb.
func TestCommandFlush(t *testing.T) {
	cmds, _, _ := testCommands(t)
	assert.Equal(t, "No cache configured.", cmds.Handle(context.Background(), "flush"))

	mr := miniredis.RunT(t)
	cmds.Cache = cache.New(cache.Options{
		RedisURL:    "redis://" + mr.Addr(),
		ExactTTL:    time.Hour,
		SemanticTTL: time.Hour,
		Threshold:   0.92,
		MaxEntries:  10,
	})
	cmds.Cache.Store(context.Background(), "prompt", "response")

	assert.Equal(t, "Inference cache flushed.", cmds.Handle(context.Background(), "flush"))
	_, hit := cmds.Cache.Check(context.Background(), "prompt")
	assert.False(t, hit)
}
