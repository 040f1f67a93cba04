package ledger

import "strings"

// modelRate is a per-million-token USD price pair.
type modelRate struct {
	substr string
	in     float64
	out    float64
}

// rates is matched by substring against the model identifier; the longest
// matching substring wins. Models absent from the table cost 0 (free-tier
// and self-hosted models).
var rates = []modelRate{
	{"claude-opus", 15.00, 75.00},
	{"claude-sonnet", 3.00, 15.00},
	{"claude-haiku", 0.80, 4.00},
	{"claude-3-5-sonnet", 3.00, 15.00},
	{"claude-3-5-haiku", 0.80, 4.00},
	{"gpt-4o-mini", 0.15, 0.60},
	{"gpt-4o", 2.50, 10.00},
	{"gpt-4.1-mini", 0.40, 1.60},
	{"gpt-4.1-nano", 0.10, 0.40},
	{"gpt-4.1", 2.00, 8.00},
	{"o4-mini", 1.10, 4.40},
}

// EstimateCost estimates the USD cost of a call from static rates.
// Unknown models estimate to 0.
func EstimateCost(model string, tokensIn, tokensOut int64) float64 {
	model = strings.ToLower(model)

	best := -1
	for i, r := range rates {
		if !strings.Contains(model, r.substr) {
			continue
		}
		if best == -1 || len(r.substr) > len(rates[best].substr) {
			best = i
		}
	}
	if best == -1 {
		return 0
	}
	r := rates[best]
	return (float64(tokensIn)*r.in + float64(tokensOut)*r.out) / 1e6
}
