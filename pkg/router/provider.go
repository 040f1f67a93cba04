package router

import "context"

// Tier selects a cost/quality band for a request.
type Tier string

const (
	TierHigh Tier = "high"
	TierLow  Tier = "low"
	TierFree Tier = "free"
)

// Usage is what a provider reports about one completed call. CostUSD stays
// zero unless the provider itself prices the call; the ledger estimates
// otherwise.
type Usage struct {
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
}

// CompletionRequest is the provider-agnostic call shape.
type CompletionRequest struct {
	Model       string
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
}

// Provider adapts one model API. Complete returns the full response text;
// any error counts as a failed attempt and triggers retry/rotation.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, Usage, error)
}

// Descriptor names one (provider, model) pair in a rotation list.
type Descriptor struct {
	Provider string
	Model    string
}
