package metrics

import (
	"time"
)

// QueueStats is the view of the job queue the collector samples
type QueueStats interface {
	Counts() (map[string]int, error)
	PausedBy() []string
}

// Collector periodically samples queue gauges
type Collector struct {
	queue    QueueStats
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(queue QueueStats, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		queue:    queue,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
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
	counts, err := c.queue.Counts()
	if err != nil {
		UpdateComponent(ComponentQueue, false, err.Error())
		return
	}
	UpdateComponent(ComponentQueue, true, "")

	for status, count := range counts {
		QueueJobs.WithLabelValues(status).Set(float64(count))
	}

	owners := c.queue.PausedBy()
	SetQueuePaused(owners)
	if len(owners) > 0 {
		QueuePaused.Set(1)
	} else {
		QueuePaused.Set(0)
	}
}
