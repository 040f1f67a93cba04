package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hexclaw/hexclaw/pkg/types"
)

const prioritiseSystem = `You are a penetration-test triage assistant. You receive a JSON array of
vulnerability findings and return the SAME array re-ordered by real-world
exploitability and impact, most urgent first. Return ONLY the JSON array.`

const suggestSystem = `You are a penetration-test planning assistant. Given a target and a scan
summary, return a JSON array of at most five short next-step strings, most
valuable first. Return ONLY the JSON array.`

// Unavailable reports whether text is the router's synthesized
// all-providers-exhausted response.
func Unavailable(text string) bool {
	return strings.HasPrefix(text, "[inference unavailable:")
}

// PrioritiseVulns asks the high tier to re-rank findings by exploitability.
// On any failure (no providers, malformed JSON) the input comes back
// unchanged; triage never blocks on a model.
func (r *Router) PrioritiseVulns(ctx context.Context, findings []types.Finding) []types.Finding {
	if len(findings) == 0 {
		return findings
	}
	payload, err := json.Marshal(findings)
	if err != nil {
		return findings
	}

	text := r.Ask(ctx, Request{
		Prompt:    string(payload),
		Tier:      TierHigh,
		System:    prioritiseSystem,
		MaxTokens: 2048,
	})
	if Unavailable(text) {
		return findings
	}

	var ranked []types.Finding
	if err := json.Unmarshal([]byte(extractJSONArray(text)), &ranked); err != nil || len(ranked) == 0 {
		return findings
	}
	return ranked
}

// SuggestNextSteps asks the low tier for follow-up actions against target.
// Empty list on any failure.
func (r *Router) SuggestNextSteps(ctx context.Context, target, summary string) []string {
	text := r.Ask(ctx, Request{
		Prompt:    "Target: " + target + "\n\nScan summary:\n" + summary,
		Tier:      TierLow,
		System:    suggestSystem,
		MaxTokens: 512,
	})
	if Unavailable(text) {
		return nil
	}

	var steps []string
	if err := json.Unmarshal([]byte(extractJSONArray(text)), &steps); err != nil {
		return nil
	}
	return steps
}

// extractJSONArray pulls the first [...] slice out of a model response,
// tolerating code fences and prose around the JSON.
func extractJSONArray(text string) string {
	text = strings.TrimSpace(text)
	if after, ok := strings.CutPrefix(text, "```json"); ok {
		text = after
	} else if after, ok := strings.CutPrefix(text, "```"); ok {
		text = after
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return text
	}
	return text[start : end+1]
}
