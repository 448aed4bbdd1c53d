package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/jgivc/raidnode/internal/entity"
)

const (
	serviceName = "stats"
)

// Publisher mirrors the counters to external storage. May be nil when no
// publishing is configured.
type Publisher interface {
	Publish(ctx context.Context, snap entity.StatisticsSnapshot) error
}

// Collector periodically logs and publishes the raid statistics.
type Collector struct {
	stats    *entity.Statistics
	pub      Publisher
	interval time.Duration

	log *slog.Logger
}

func NewCollector(stats *entity.Statistics, pub Publisher, interval time.Duration, log *slog.Logger) *Collector {
	return &Collector{
		stats:    stats,
		pub:      pub,
		interval: interval,
		log:      log.With(slog.String("service", serviceName)),
	}
}

// Snapshot returns the current counters.
func (c *Collector) Snapshot() entity.StatisticsSnapshot {
	return c.stats.Snapshot()
}

func (c *Collector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Leaving stats loop")

			return
		case <-time.After(c.interval):
		}

		snap := c.stats.Snapshot()
		c.log.Info("Statistics", slog.String("stats", snap.String()))

		if c.pub == nil {
			continue
		}
		if err := c.pub.Publish(ctx, snap); err != nil {
			c.log.Error("Cannot publish statistics", slog.Any("error", err))
		}
	}
}
