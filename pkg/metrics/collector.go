package metrics

import (
	"context"
	"time"
)

// Source provides the document-store aggregates the collector exports.
type Source interface {
	BenchmarkStateCounts(ctx context.Context) (map[string]int64, error)
	JobCount(ctx context.Context) (int64, error)
}

// Collector periodically exports document-store aggregates as gauges
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
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
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectBenchmarkMetrics(ctx)
	c.collectJobMetrics(ctx)
}

func (c *Collector) collectBenchmarkMetrics(ctx context.Context) {
	counts, err := c.source.BenchmarkStateCounts(ctx)
	if err != nil {
		return
	}

	for state, count := range counts {
		BenchmarksTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectJobMetrics(ctx context.Context) {
	count, err := c.source.JobCount(ctx)
	if err != nil {
		return
	}

	JobsTotal.Set(float64(count))
}
