package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunJanitor deletes expired keys every interval until ctx is cancelled. Each sweep removes at most
// batch keys and gets one minute to finish.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(sweepCtx, now.UTC(), batch)
			cancel()
			switch {
			case err != nil:
				logger.Error("idempotency sweep failed", zap.Error(err))
			case removed > 0:
				logger.Info("idempotency sweep removed expired keys", zap.Int("count", removed))
			}
		}
	}
}
