package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/metrics"
)

// Publisher sends a batch of events. *kafka.Producer implements it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector buffers events and publishes them in batches, when a batch
// fills or the flush interval passes. Track never blocks: when the buffer
// is full the event is dropped and counted.
type Collector struct {
	publisher     Publisher
	events        chan kafka.Event
	batchSize     int
	flushInterval time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewCollector creates a Collector. m may be nil.
func NewCollector(publisher Publisher, cfg config.AnalyticsConfig, m *metrics.Metrics) *Collector {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		events:        make(chan kafka.Event, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		metrics:       m,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the publishing loop. It stops after ctx is cancelled or
// Close is called, publishing what is buffered first.
func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.events),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track queues event for publishing.
func (c *Collector) Track(event Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.drop("collector closed")
		return
	}
	select {
	case c.events <- kafka.Event{Key: string(event.Kind()), Value: event}:
	default:
		c.drop("buffer full")
	}
}

// Close stops accepting events and waits for the buffered ones to be
// published. It must only be called after Start.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	batch := make([]kafka.Event, 0, c.batchSize)

	for {
		select {
		case event, ok := <-c.events:
			if !ok {
				c.final(batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= c.batchSize {
				batch = c.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = c.flush(ctx, batch)
		case <-ctx.Done():
		drain:
			for {
				select {
				case event, ok := <-c.events:
					if !ok {
						break drain
					}
					batch = append(batch, event)
				default:
					break drain
				}
			}
			c.final(batch)
			return
		}
	}
}

// final publishes what is left with a short deadline of its own.
func (c *Collector) final(batch []kafka.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rest := c.flush(ctx, batch); len(rest) > 0 {
		c.logger.Warn("events lost on shutdown", "count", len(rest))
		if c.metrics != nil {
			c.metrics.AnalyticsDropped.Add(float64(len(rest)))
		}
	}
}

// flush publishes batch and returns the buffer to keep using. A failed
// batch is kept for the next attempt, bounded to three batches.
func (c *Collector) flush(ctx context.Context, batch []kafka.Event) []kafka.Event {
	if len(batch) == 0 {
		return batch
	}
	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("batch publish failed", "batch_size", len(batch), "error", err)
		if limit := c.batchSize * 3; len(batch) > limit {
			dropped := len(batch) - limit
			batch = append(batch[:0], batch[dropped:]...)
			c.logger.Warn("retry buffer overflow, oldest events dropped", "dropped", dropped)
			if c.metrics != nil {
				c.metrics.AnalyticsDropped.Add(float64(dropped))
			}
		}
		return batch
	}
	c.logger.Debug("batch published", "events", len(batch))
	return make([]kafka.Event, 0, c.batchSize)
}

func (c *Collector) drop(reason string) {
	if c.metrics != nil {
		c.metrics.AnalyticsDropped.Inc()
	}
	c.logger.Warn("analytics event dropped", "reason", reason)
}
