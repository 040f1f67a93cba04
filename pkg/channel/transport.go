package channel

import (
	"context"

	"github.com/hexclaw/hexclaw/pkg/approval"
)

// MaxMessageRunes is the transport's per-message size cap; longer texts are
// chunked.
const MaxMessageRunes = 4096

// Transport is the abstract operator channel. The Telegram implementation is
// the production one; tests substitute fakes. SendButtons satisfies
// approval.Prompter so a transport can back the approval gate directly.
type Transport interface {
	SendText(ctx context.Context, markdown string) error
	SendFile(ctx context.Context, path, caption string) error
	SendButtons(ctx context.Context, prompt string, buttons []approval.Button) error
}

// chunk splits text into rune-bounded pieces no longer than limit.
func chunk(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var out []string
	for len(runes) > 0 {
		n := min(limit, len(runes))
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}
