package lock

import (
	"context"
	"time"

	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
)

// Reaper periodically releases locks whose holders stopped refreshing them.
type Reaper struct {
	m        *Manager
	interval time.Duration
}

// NewReaper sweeps m every interval. A non-positive interval defaults to half the TTL.
func NewReaper(m *Manager, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = m.ttl / 2
	}
	return &Reaper{m: m, interval: interval}
}

// Run sweeps until ctx is cancelled. It returns immediately when the manager
// has expiry disabled.
func (r *Reaper) Run(ctx context.Context) error {
	if r.m.ttl <= 0 || r.interval <= 0 {
		logger.Infof("lock expiry disabled, reaper not started")
		return nil
	}
	logger.Infof("lock reaper started ttl=%s interval=%s", r.m.ttl, r.interval)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("lock reaper stopped")
			return nil
		case <-t.C:
			if n := r.m.ReapStale(r.m.now()); n > 0 {
				logger.Infof("reaped %d stale locks", n)
			}
		}
	}
}
