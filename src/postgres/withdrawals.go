package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/pkg/errors"
)

// CommitWithdrawal records a pending withdrawal and the debited totals together
func (s *Store) CommitWithdrawal(ctx context.Context, w *model.Withdrawal, totals model.Totals) error {
	return DoTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT into withdrawals(id, operator, amount, status, tx_id, committed)
				VALUES ($1::uuid, $2, $3::numeric, $4::withdrawal_status, $5, $6)`,
			w.Id.String(), w.Operator.Hex(), w.Amount.Dec(), string(w.Status), w.TxId, w.Committed)
		if err != nil {
			return errors.Wrapf(err, "failed to insert withdrawal %s", w.Id)
		}
		return putTotals(ctx, tx, totals, w.Committed)
	})
}

func (s *Store) UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx,
			`UPDATE withdrawals SET status = $1::withdrawal_status, tx_id = $2 WHERE id = $3::uuid`,
			string(w.Status), w.TxId, w.Id.String())
		if err != nil {
			return errors.Wrapf(err, "failed to update withdrawal %s", w.Id)
		}
		if tag.RowsAffected() == 0 {
			return errors.Errorf("withdrawal %s not found", w.Id)
		}
		return nil
	})
}

// ListWithdrawals returns withdrawals in any of statuses, oldest first. Used to
// find payouts that need retrying after a cashier failure.
func (s *Store) ListWithdrawals(ctx context.Context, statuses ...model.WithdrawalStatus) ([]model.Withdrawal, error) {
	wanted := make([]string, 0, len(statuses))
	for _, st := range statuses {
		wanted = append(wanted, string(st))
	}
	var out []model.Withdrawal
	err := DoQuery(ctx, func(conn *pgx.Conn) error {
		res, err := conn.Query(ctx,
			`SELECT id::text, operator, amount::text, status::text, tx_id, committed
				FROM withdrawals WHERE status::text = ANY($1) ORDER BY committed`, wanted)
		if err != nil {
			return errors.Wrap(err, "failed to fetch withdrawals")
		}
		defer res.Close()
		for res.Next() {
			var id, operator, amount, st string
			w := model.Withdrawal{}
			if err := res.Scan(&id, &operator, &amount, &st, &w.TxId, &w.Committed); err != nil {
				return errors.Wrap(err, "failed unmarshalling withdrawal")
			}
			if w.Id, err = uuid.Parse(id); err != nil {
				return errors.Wrapf(err, "stored withdrawal id %q", id)
			}
			if w.Operator, err = model.ParseIdentity(operator); err != nil {
				return errors.Wrap(err, "stored withdrawal operator")
			}
			if w.Amount, err = model.ParseAmount(amount); err != nil {
				return err
			}
			w.Status = model.WithdrawalStatus(st)
			out = append(out, w)
		}
		return errors.Wrap(res.Err(), "failed reading withdrawals")
	})
	return out, err
}
