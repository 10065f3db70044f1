package cashier

import (
	"context"
	"time"

	"github.com/onemorebsmith/contribution-ledger/src/ledger"
	"go.uber.org/zap"
)

// StartReconciler retries errored withdrawal payouts every tick until ctx is done.
// Pending withdrawals are left for the operator, see Ledger.RetryWithdrawals.
func StartReconciler(ctx context.Context, l *ledger.Ledger, delay time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	logger = logger.Named("reconciler")
	for {
		select {
		case <-ticker.C:
			retried, err := l.RetryWithdrawals(ctx, l.Operator(), false)
			if err != nil {
				logger.Error(err.Error())
			}
			if len(retried) > 0 {
				logger.Info("retried withdrawal payouts", zap.Int("count", len(retried)))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
