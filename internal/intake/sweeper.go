package intake

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper removes stale uploads once immediately and then every interval
// until ctx is done. Files left behind by a crashed process are the target;
// live requests release their own files.
func (s *Service) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}

	sweep := func() {
		removed, err := s.Sweep(maxAge)
		if err != nil {
			s.logger.Warn("upload sweep failed", zap.Error(err))
		}
		if removed > 0 {
			s.logger.Info("removed stale uploads", zap.Int("count", removed), zap.Duration("max_age", maxAge))
		}
	}

	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
