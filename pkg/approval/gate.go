package approval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hexclaw/hexclaw/pkg/log"
	"github.com/hexclaw/hexclaw/pkg/metrics"
	"github.com/hexclaw/hexclaw/pkg/types"
)

// Button is one operator choice rendered under the prompt. Payload round-trips
// opaquely through the transport and comes back via Resolve.
type Button struct {
	Label   string
	Payload string
}

// Prompter emits the approval prompt to the operator. The channel package
// implements it; tests use fakes.
type Prompter interface {
	SendButtons(ctx context.Context, prompt string, buttons []Button) error
}

// Request is one approval rendezvous.
type Request struct {
	ID      string
	JobID   string // empty when the gate is not tied to a job
	Prompt  string
	Choices []string // optional; rendered after Approve/Deny
	Timeout time.Duration
}

type resolver struct {
	jobID string
	ch    chan types.Outcome
	once  sync.Once
}

func (r *resolver) resolve(o types.Outcome) bool {
	done := false
	r.once.Do(func() {
		r.ch <- o
		done = true
	})
	return done
}

// Gate is the operator approval rendezvous. A producer registers a request
// and blocks; the transport's callback handler (or a cancellation, or the
// deadline) writes exactly one outcome.
type Gate struct {
	prompter Prompter

	mu      sync.Mutex
	pending map[string]*resolver

	logger zerolog.Logger
}

// NewGate builds a gate over the given prompter. A nil prompter is legal;
// requests then resolve only by timeout or cancellation (dry-run mode).
func NewGate(prompter Prompter) *Gate {
	return &Gate{
		prompter: prompter,
		pending:  make(map[string]*resolver),
		logger:   log.WithComponent("approval"),
	}
}

// Request registers the approval, emits the prompt, and blocks until the
// operator answers, the timeout elapses, ctx is cancelled, or the job is
// cancelled. The pending entry is removed on every exit path.
func (g *Gate) Request(ctx context.Context, req Request) types.Outcome {
	res := &resolver{jobID: req.JobID, ch: make(chan types.Outcome, 1)}

	g.mu.Lock()
	if _, exists := g.pending[req.ID]; exists {
		g.mu.Unlock()
		g.logger.Warn().Str("id", req.ID).Msg("Duplicate approval ID, denying")
		return types.Outcome{Action: types.OutcomeDeny}
	}
	g.pending[req.ID] = res
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, req.ID)
		g.mu.Unlock()
	}()

	if g.prompter != nil {
		if err := g.prompter.SendButtons(ctx, req.Prompt, buttonsFor(req)); err != nil {
			g.logger.Warn().Err(err).Str("id", req.ID).Msg("Failed to send approval prompt")
		}
	}

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	var outcome types.Outcome
	select {
	case outcome = <-res.ch:
	case <-timer.C:
		// Claim the resolver so a late press is dropped, not double-written.
		res.resolve(types.Outcome{Action: types.OutcomeTimeout})
		outcome = <-res.ch
	case <-ctx.Done():
		res.resolve(types.Outcome{Action: types.OutcomeCancel})
		outcome = <-res.ch
	}

	metrics.ApprovalsTotal.WithLabelValues(string(outcome.Action)).Inc()
	g.logger.Info().Str("id", req.ID).Str("outcome", string(outcome.Action)).Msg("Approval resolved")
	return outcome
}

// Resolve parses a callback payload of the form "action:id[:choice]" and
// writes the outcome to the matching resolver. Unknown IDs and late presses
// are no-ops; the return value reports whether the press landed.
func (g *Gate) Resolve(payload string) bool {
	outcome, id, ok := parsePayload(payload)
	if !ok {
		g.logger.Debug().Str("payload", payload).Msg("Unparseable callback payload")
		return false
	}

	g.mu.Lock()
	res, found := g.pending[id]
	g.mu.Unlock()
	if !found {
		g.logger.Debug().Str("id", id).Msg("Callback for unknown or expired approval")
		return false
	}
	return res.resolve(outcome)
}

// CancelJob resolves every gate registered by jobID with cancel.
func (g *Gate) CancelJob(jobID string) {
	if jobID == "" {
		return
	}
	g.mu.Lock()
	var targets []*resolver
	for _, res := range g.pending {
		if res.jobID == jobID {
			targets = append(targets, res)
		}
	}
	g.mu.Unlock()

	for _, res := range targets {
		res.resolve(types.Outcome{Action: types.OutcomeCancel})
	}
}

// Drain resolves every pending gate with cancel. Called at shutdown so no
// producer is left blocked.
func (g *Gate) Drain() {
	g.mu.Lock()
	targets := make([]*resolver, 0, len(g.pending))
	for _, res := range g.pending {
		targets = append(targets, res)
	}
	g.mu.Unlock()

	for _, res := range targets {
		res.resolve(types.Outcome{Action: types.OutcomeCancel})
	}
}

// PendingCount reports how many requests are waiting.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func buttonsFor(req Request) []Button {
	buttons := []Button{
		{Label: "✅ Approve", Payload: "approve:" + req.ID},
		{Label: "❌ Deny", Payload: "deny:" + req.ID},
	}
	for i, choice := range req.Choices {
		buttons = append(buttons, Button{
			Label:   fmt.Sprintf("%d. %s", i+1, choice),
			Payload: "choice:" + req.ID + ":" + choice,
		})
	}
	return buttons
}

func parsePayload(payload string) (types.Outcome, string, bool) {
	parts := strings.SplitN(payload, ":", 3)
	if len(parts) < 2 || parts[1] == "" {
		return types.Outcome{}, "", false
	}
	switch parts[0] {
	case "approve":
		return types.Outcome{Action: types.OutcomeApprove}, parts[1], true
	case "deny":
		return types.Outcome{Action: types.OutcomeDeny}, parts[1], true
	case "choice":
		if len(parts) != 3 || parts[2] == "" {
			return types.Outcome{}, "", false
		}
		return types.Outcome{Action: types.OutcomeChoice, Choice: parts[2]}, parts[1], true
	}
	return types.Outcome{}, "", false
}
