package approval

import "sync"

// Cancels is the per-job cancellation registry. Writes are idempotent; the
// dispatcher polls it between steps, so a flag set mid-step takes effect at
// the next step boundary.
type Cancels struct {
	mu    sync.Mutex
	flags map[string]struct{}
}

// NewCancels builds an empty registry.
func NewCancels() *Cancels {
	return &Cancels{flags: make(map[string]struct{})}
}

// Set flags jobID for cancellation.
func (c *Cancels) Set(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[jobID] = struct{}{}
}

// IsSet reports whether jobID is flagged.
func (c *Cancels) IsSet(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.flags[jobID]
	return ok
}

// CheckAndClear consumes the flag for jobID, reporting whether it was set.
func (c *Cancels) CheckAndClear(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.flags[jobID]
	if ok {
		delete(c.flags, jobID)
	}
	return ok
}
