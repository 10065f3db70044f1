package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/pkg/errors"
)

func (s *Store) Load(ctx context.Context) (*model.Snapshot, error) {
	snapshot := &model.Snapshot{Totals: model.ZeroTotals()}
	return snapshot, DoQuery(ctx, func(conn *pgx.Conn) error {
		terms, err := getTerms(ctx, conn)
		if err != nil {
			return err
		}
		snapshot.Terms = terms

		entries, err := getEntries(ctx, conn)
		if err != nil {
			return err
		}
		snapshot.Entries = entries

		totals, err := getTotals(ctx, conn)
		if err != nil {
			return err
		}
		snapshot.Totals = totals
		return nil
	})
}

func (s *Store) InitTerms(ctx context.Context, terms model.Terms) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		supplyCap := "0"
		if terms.SupplyCap != nil {
			supplyCap = terms.SupplyCap.Dec()
		}
		tag, err := conn.Exec(ctx,
			`INSERT into ledger_terms(id, payment_amount, reward_rate, supply_cap, created)
				VALUES (1, $1::numeric, $2::numeric, $3::numeric, $4) ON CONFLICT DO NOTHING`,
			terms.PaymentAmount.Dec(), strconv.FormatUint(terms.RewardRate, 10), supplyCap, time.Now().UTC())
		if err != nil {
			return errors.Wrap(err, "failed to record ledger terms")
		}
		if tag.RowsAffected() == 0 {
			return errors.New("ledger terms already recorded")
		}
		return nil
	})
}

func getTerms(ctx context.Context, conn *pgx.Conn) (*model.Terms, error) {
	var payment, rate, supplyCap string
	err := conn.QueryRow(ctx,
		`SELECT payment_amount::text, reward_rate::text, supply_cap::text FROM ledger_terms WHERE id = 1`).
		Scan(&payment, &rate, &supplyCap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to fetch ledger terms")
	}

	terms := &model.Terms{}
	if terms.PaymentAmount, err = model.ParseAmount(payment); err != nil {
		return nil, err
	}
	if terms.RewardRate, err = strconv.ParseUint(rate, 10, 64); err != nil {
		return nil, errors.Wrapf(err, "invalid stored reward rate %q", rate)
	}
	if terms.SupplyCap, err = model.ParseAmount(supplyCap); err != nil {
		return nil, err
	}
	return terms, nil
}

func getEntries(ctx context.Context, conn *pgx.Conn) ([]model.LedgerEntry, error) {
	res, err := conn.Query(ctx,
		`SELECT identity, cumulative_payment::text, cumulative_reward::text FROM ledger_entries ORDER BY identity`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch ledger entries")
	}
	defer res.Close()

	var entries []model.LedgerEntry
	for res.Next() {
		var identity, payment, reward string
		if err := res.Scan(&identity, &payment, &reward); err != nil {
			return nil, errors.Wrap(err, "failed unmarshalling ledger entry")
		}
		id, err := model.ParseIdentity(identity)
		if err != nil {
			return nil, errors.Wrap(err, "stored ledger entry")
		}
		entry := model.LedgerEntry{Identity: id}
		if entry.CumulativePayment, err = model.ParseAmount(payment); err != nil {
			return nil, err
		}
		if entry.CumulativeReward, err = model.ParseAmount(reward); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, errors.Wrap(res.Err(), "failed reading ledger entries")
}

func getTotals(ctx context.Context, conn *pgx.Conn) (model.Totals, error) {
	var issued, custody string
	var count int64
	err := conn.QueryRow(ctx,
		`SELECT issued::text, custody::text, contributions FROM ledger_totals WHERE id = 1`).
		Scan(&issued, &custody, &count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ZeroTotals(), nil
		}
		return model.Totals{}, errors.Wrap(err, "failed to fetch ledger totals")
	}

	totals := model.Totals{Contributions: uint64(count)}
	if totals.Issued, err = model.ParseAmount(issued); err != nil {
		return model.Totals{}, err
	}
	if totals.Custody, err = model.ParseAmount(custody); err != nil {
		return model.Totals{}, err
	}
	return totals, nil
}

func putEntry(ctx context.Context, tx pgx.Tx, entry model.LedgerEntry, now time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT into ledger_entries(identity, cumulative_payment, cumulative_reward, updated)
			VALUES ($1, $2::numeric, $3::numeric, $4)
			ON CONFLICT (identity) DO UPDATE SET
				cumulative_payment = EXCLUDED.cumulative_payment,
				cumulative_reward = EXCLUDED.cumulative_reward,
				updated = EXCLUDED.updated`,
		entry.Identity.Hex(), entry.CumulativePayment.Dec(), entry.CumulativeReward.Dec(), now)
	return errors.Wrapf(err, "failed to write ledger entry for %s", entry.Identity.Hex())
}

func putTotals(ctx context.Context, tx pgx.Tx, totals model.Totals, now time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT into ledger_totals(id, issued, custody, contributions, updated)
			VALUES (1, $1::numeric, $2::numeric, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				issued = EXCLUDED.issued,
				custody = EXCLUDED.custody,
				contributions = EXCLUDED.contributions,
				updated = EXCLUDED.updated`,
		totals.Issued.Dec(), totals.Custody.Dec(), int64(totals.Contributions), now)
	return errors.Wrap(err, "failed to write ledger totals")
}
