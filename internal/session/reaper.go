package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Reaper periodically evicts sessions that have been inactive longer than the
// configured threshold. Eviction goes through Registry.ReapInactive, so the
// channel index is cleaned up and removal hooks fire exactly as they do for a
// normal disconnect.
type Reaper struct {
	registry  *Registry
	clock     clockwork.Clock
	interval  time.Duration
	threshold time.Duration
}

func NewReaper(registry *Registry, clock clockwork.Clock, interval, threshold time.Duration) *Reaper {
	return &Reaper{
		registry:  registry,
		clock:     clock,
		interval:  interval,
		threshold: threshold,
	}
}

// Run starts the periodic eviction loop. It blocks until ctx is cancelled.
func (rp *Reaper) Run(ctx context.Context) {
	ticker := rp.clock.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if removed := rp.registry.ReapInactive(rp.clock.Now(), rp.threshold); removed > 0 {
				slog.Info("Reaper evicted inactive sessions", "count", removed, "threshold", rp.threshold)
			}
		}
	}
}
