package storage

import (
	"sync"
	"time"
)

// SeenStore is the deduplication set used by the threat monitor. A
// fingerprint marked seen stays seen until its TTL lapses; marking is
// idempotent and refreshes the expiry.
type SeenStore interface {
	// Seen reports whether the fingerprint is currently marked.
	Seen(fingerprint string) (bool, error)
	// Mark records the fingerprint for ttl.
	Mark(fingerprint string, ttl time.Duration) error
	Close() error
}

// FeedStateStore persists per-feed cursor state across daemon restarts.
type FeedStateStore interface {
	// FeedCheckedAt returns the last successful poll time for a feed URL.
	FeedCheckedAt(url string) (time.Time, bool, error)
	// SetFeedCheckedAt records a successful poll.
	SetFeedCheckedAt(url string, t time.Time) error
}

// MemorySeen is the in-process fallback SeenStore, used when neither Redis
// nor the local KV file is available. State does not survive a restart.
type MemorySeen struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewMemorySeen creates an empty in-memory seen set.
func NewMemorySeen() *MemorySeen {
	return &MemorySeen{expires: make(map[string]time.Time)}
}

func (m *MemorySeen) Seen(fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expires[fingerprint]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(m.expires, fingerprint)
		return false, nil
	}
	return true, nil
}

func (m *MemorySeen) Mark(fingerprint string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[fingerprint] = time.Now().Add(ttl)
	return nil
}

func (m *MemorySeen) Close() error { return nil }
