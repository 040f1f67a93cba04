package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hexclaw/hexclaw/pkg/ledger"
	"github.com/hexclaw/hexclaw/pkg/log"
	"github.com/hexclaw/hexclaw/pkg/metrics"
)

// ResponseCache is the slice of the inference cache the router uses.
type ResponseCache interface {
	Check(ctx context.Context, prompt string) (string, bool)
	Store(ctx context.Context, prompt, response string)
}

// UsageRecorder receives one ledger entry per Ask, hit or miss.
type UsageRecorder interface {
	Record(e ledger.Entry)
}

// Request is one inference call.
type Request struct {
	Prompt      string
	Tier        Tier
	System      string
	Temperature float64
	MaxTokens   int
	SkipCache   bool
}

// Options configures a Router. Providers are instantiated only for the keys
// that are present; a tier whose rotation ends up empty answers with the
// unavailable string.
type Options struct {
	AnthropicKey  string
	OpenAIKey     string
	OpenRouterKey string

	// Rotation overrides per tier, "provider:model" descriptors in preference
	// order. Empty slices select the built-in rotation.
	TierHigh []string
	TierLow  []string
	TierFree []string

	Cache  ResponseCache // nil disables caching
	Ledger UsageRecorder // nil disables accounting
	Retry  RetryConfig   // zero value selects DefaultRetryConfig
}

// Router selects a provider per tier, retries with backoff, rotates on
// exhaustion, and accounts every call in the ledger. Safe for concurrent use;
// it holds no per-call state.
type Router struct {
	providers map[string]Provider
	rotations map[Tier][]Descriptor
	cache     ResponseCache
	ledger    UsageRecorder
	retry     RetryConfig
	logger    zerolog.Logger
}

// Built-in rotations, most-preferred first. Filtered at construction by which
// provider keys are configured.
var builtinRotations = map[Tier][]Descriptor{
	TierHigh: {
		{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
		{Provider: "openai", Model: "gpt-4o"},
	},
	TierLow: {
		{Provider: "openai", Model: "gpt-4o-mini"},
		{Provider: "anthropic", Model: "claude-3-5-haiku-20241022"},
		{Provider: "openrouter", Model: "meta-llama/llama-3.3-70b-instruct:free"},
	},
	TierFree: {
		{Provider: "openrouter", Model: "meta-llama/llama-3.3-70b-instruct:free"},
		{Provider: "openrouter", Model: "google/gemini-2.0-flash-exp:free"},
	},
}

// New builds a router from opts.
func New(opts Options) *Router {
	r := &Router{
		providers: make(map[string]Provider),
		rotations: make(map[Tier][]Descriptor),
		cache:     opts.Cache,
		ledger:    opts.Ledger,
		retry:     opts.Retry,
		logger:    log.WithComponent("router"),
	}
	if r.retry.MaxAttempts == 0 {
		r.retry = DefaultRetryConfig()
	}

	if opts.AnthropicKey != "" {
		r.providers["anthropic"] = NewAnthropicProvider(opts.AnthropicKey)
	}
	if opts.OpenAIKey != "" {
		r.providers["openai"] = NewOpenAIProvider(opts.OpenAIKey)
	}
	if opts.OpenRouterKey != "" {
		r.providers["openrouter"] = NewOpenRouterProvider(opts.OpenRouterKey)
	}

	overrides := map[Tier][]string{
		TierHigh: opts.TierHigh,
		TierLow:  opts.TierLow,
		TierFree: opts.TierFree,
	}
	for tier, builtin := range builtinRotations {
		list := builtin
		if ov := overrides[tier]; len(ov) > 0 {
			list = parseDescriptors(ov)
		}
		r.rotations[tier] = r.filterAvailable(list)
	}
	return r
}

// RegisterProvider installs (or replaces) a provider adapter and makes it
// eligible for rotation. Used by tests and by custom deployments.
func (r *Router) RegisterProvider(p Provider) {
	r.providers[p.Name()] = p
	for tier, builtin := range builtinRotations {
		r.rotations[tier] = r.filterAvailable(builtin)
	}
}

// SetRotation replaces one tier's rotation list outright.
func (r *Router) SetRotation(tier Tier, list []Descriptor) {
	r.rotations[tier] = list
}

// Available reports whether any provider can serve the tier.
func (r *Router) Available(tier Tier) bool {
	return len(r.rotations[tier]) > 0
}

// HasProviders reports whether any provider at all is configured. The planner
// uses this to decide whether model planning is worth attempting.
func (r *Router) HasProviders() bool {
	return len(r.providers) > 0
}

// Ask runs the full pipeline: cache check, rotation with retry, cache store,
// ledger entry. It never returns an error; exhaustion yields a synthesized
// unavailable string so workflow steps can carry on.
func (r *Router) Ask(ctx context.Context, req Request) string {
	full := req.Prompt
	if req.System != "" {
		full = req.System + "\n\n" + req.Prompt
	}

	if !req.SkipCache && r.cache != nil {
		if resp, ok := r.cache.Check(ctx, full); ok {
			// A cache hit records zero tokens and zero cost.
			r.record(ledger.Entry{
				Provider: "cache",
				Model:    "cache",
				Tier:     string(req.Tier),
				CacheHit: true,
			})
			metrics.ModelCalls.WithLabelValues("cache", string(req.Tier), "hit").Inc()
			return resp
		}
	}

	var lastErr error
	for _, desc := range r.rotations[req.Tier] {
		provider, ok := r.providers[desc.Provider]
		if !ok {
			continue
		}

		var text string
		var usage Usage
		timer := metrics.NewTimer()
		err := retry(ctx, r.retry, func() error {
			var attemptErr error
			text, usage, attemptErr = provider.Complete(ctx, CompletionRequest{
				Model:       desc.Model,
				Prompt:      req.Prompt,
				System:      req.System,
				Temperature: req.Temperature,
				MaxTokens:   req.MaxTokens,
			})
			return attemptErr
		})
		timer.ObserveDurationVec(metrics.ModelLatency, provider.Name())

		if err != nil {
			lastErr = err
			r.logger.Warn().Err(err).
				Str("provider", desc.Provider).
				Str("model", desc.Model).
				Msg("Provider exhausted retries, rotating")
			metrics.ModelCalls.WithLabelValues(desc.Provider, string(req.Tier), "error").Inc()
			continue
		}

		if r.cache != nil && !req.SkipCache {
			r.cache.Store(ctx, full, text)
		}
		r.record(ledger.Entry{
			Provider:  desc.Provider,
			Model:     desc.Model,
			Tier:      string(req.Tier),
			TokensIn:  usage.TokensIn,
			TokensOut: usage.TokensOut,
			CostUSD:   usage.CostUSD,
		})
		metrics.ModelCalls.WithLabelValues(desc.Provider, string(req.Tier), "ok").Inc()
		metrics.TokensTotal.WithLabelValues(desc.Model, "in").Add(float64(usage.TokensIn))
		metrics.TokensTotal.WithLabelValues(desc.Model, "out").Add(float64(usage.TokensOut))
		return text
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no provider configured for tier %q", req.Tier)
	}
	r.logger.Error().Err(lastErr).Str("tier", string(req.Tier)).Msg("All providers exhausted")
	return "[inference unavailable: " + lastErr.Error() + "]"
}

func (r *Router) record(e ledger.Entry) {
	if r.ledger != nil {
		r.ledger.Record(e)
	}
}

func (r *Router) filterAvailable(list []Descriptor) []Descriptor {
	out := make([]Descriptor, 0, len(list))
	for _, d := range list {
		if _, ok := r.providers[d.Provider]; ok {
			out = append(out, d)
		}
	}
	return out
}

// parseDescriptors parses "provider:model" strings; the model part may itself
// contain colons (openrouter free-tier suffixes).
func parseDescriptors(raw []string) []Descriptor {
	out := make([]Descriptor, 0, len(raw))
	for _, s := range raw {
		provider, model, ok := strings.Cut(strings.TrimSpace(s), ":")
		if !ok || provider == "" || model == "" {
			continue
		}
		out = append(out, Descriptor{Provider: provider, Model: model})
	}
	return out
}
