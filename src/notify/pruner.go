package notify

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StartPruner trims the recent set every tick until ctx is done
func (n *RedisNotifier) StartPruner(ctx context.Context, delay time.Duration, retention time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	logger = logger.Named("pruner")
	for {
		select {
		case <-ticker.C:
			removed, err := n.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Error(err.Error())
				continue
			}
			if removed > 0 {
				logger.Debug("pruned recent contributions", zap.Int64("removed", removed))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Prune drops recent contributions committed before cutoff
func (n *RedisNotifier) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := n.recent.RemoveBelow(ctx, cutoff.UnixMilli())
	return removed, errors.Wrap(err, "failed pruning recent contributions")
}
