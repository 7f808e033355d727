package breakglass

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/masomo-breakglass/core"
)

// Sweeper periodically ends the expired break-glass sessions.
type Sweeper struct {
	svc      *Service
	logger   core.Logger
	interval time.Duration
}

func NewSweeper(conf *core.Config, svc *Service, logger core.Logger) *Sweeper {
	return &Sweeper{svc: svc, logger: logger, interval: conf.BreakGlass.SweepInterval}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single pass and returns the number of sessions ended.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cnt, err := s.svc.SweepExpired(ctx, nowFunc().UTC())
	if err != nil {
		s.logger.Error(fmt.Sprintf("sweeping expired break-glass sessions: %v", err), err)
	}
	if cnt > 0 {
		s.logger.Info(fmt.Sprintf("%d expired break-glass session(s) ended", cnt))
	}
	return cnt
}
