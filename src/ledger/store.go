package ledger

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/onemorebsmith/contribution-ledger/src/model"
)

// Store makes ledger transitions durable. Every commit is all-or-nothing; the
// totals passed in are the ledger-wide values after the transition.
type Store interface {
	Load(ctx context.Context) (*model.Snapshot, error)
	InitTerms(ctx context.Context, terms model.Terms) error
	CommitContribution(ctx context.Context, c *model.Contribution, totals model.Totals) error
	CommitWithdrawal(ctx context.Context, w *model.Withdrawal, totals model.Totals) error
	UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	// ListWithdrawals returns withdrawals in any of statuses, oldest first
	ListWithdrawals(ctx context.Context, statuses ...model.WithdrawalStatus) ([]model.Withdrawal, error)
	Ping(ctx context.Context) error
}

// Notifier is told about every committed contribution. Failures are logged
// and never undo the contribution.
type Notifier interface {
	Contributed(ctx context.Context, c *model.Contribution) error
}

// Cashier pays custody out to the operator
type Cashier interface {
	Send(ctx context.Context, to model.Identity, amount *uint256.Int) (string, error)
}
