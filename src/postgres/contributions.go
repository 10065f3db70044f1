package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/pkg/errors"
)

// CommitContribution writes the journal row, the identity's new entry and the
// ledger totals in one transaction.
func (s *Store) CommitContribution(ctx context.Context, c *model.Contribution, totals model.Totals) error {
	return DoTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT into contributions(id, identity, payment, reward, committed)
				VALUES ($1::uuid, $2, $3::numeric, $4::numeric, $5)`,
			c.Id.String(), c.Identity.Hex(), c.Payment.Dec(), c.Reward.Dec(), c.Committed)
		if err != nil {
			return errors.Wrapf(err, "failed to insert contribution %s", c.Id)
		}
		if err := putEntry(ctx, tx, c.Entry, c.Committed); err != nil {
			return err
		}
		return putTotals(ctx, tx, totals, c.Committed)
	})
}

// GetContributionCount returns how many journal rows an identity has, used to cross check entries
func GetContributionCount(ctx context.Context, identity model.Identity) (uint64, error) {
	var count int64
	err := DoQuery(ctx, func(conn *pgx.Conn) error {
		err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM contributions WHERE identity = $1`, identity.Hex()).Scan(&count)
		return errors.Wrapf(err, "failed counting contributions for %s", identity.Hex())
	})
	return uint64(count), err
}
