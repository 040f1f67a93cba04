package metrics

import (
	"time"

	"github.com/hexclaw/hexclaw/pkg/types"
)

// StatusCounter reports how many jobs sit in each status. The job queue
// implements it.
type StatusCounter interface {
	CountByStatus() (map[types.JobStatus]int, error)
}

// Collector periodically samples queue state into gauges.
type Collector struct {
	queue  StatusCounter
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(queue StatusCounter) *Collector {
	return &Collector{
		queue:  queue,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts, err := c.queue.CountByStatus()
	if err != nil {
		return
	}

	QueueDepth.Set(float64(counts[types.JobStatusPending]))
	JobsActive.Set(float64(counts[types.JobStatusRunning]))
}
