package exam

import (
	"context"
	"time"

	"github.com/premiermti/shikkha/core"
)

// Sweeper periodically expires overdue in-progress attempts. It keeps no
// state between runs: each tick re-reads overdue attempts from storage, so
// any interval is correct and multiple sweepers may run concurrently.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   core.Logger
}

func NewSweeper(svc *Service, interval time.Duration, logger core.Logger) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sw.svc.SweepExpired(ctx)
			if err != nil {
				sw.logger.Error("attempt sweep failed", err)
				continue
			}
			if n > 0 {
				sw.logger.Info("expired overdue attempts", "count", n)
			}
		}
	}
}
