package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/onemorebsmith/contribution-ledger/src/ledger"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/pkg/errors"
)

var _ ledger.Store = (*Store)(nil)

// Store keeps ledger state in process memory. Used by tests and `use_mock` deployments.
type Store struct {
	mu sync.RWMutex

	terms         *model.Terms
	entries       map[model.Identity]model.LedgerEntry
	totals        model.Totals
	contributions []model.Contribution
	withdrawals   map[uuid.UUID]model.Withdrawal

	// FailCommits makes every commit fail, for exercising rollback paths
	FailCommits error
}

func New() *Store {
	return &Store{
		entries:     map[model.Identity]model.LedgerEntry{},
		totals:      model.ZeroTotals(),
		withdrawals: map[uuid.UUID]model.Withdrawal{},
	}
}

func (s *Store) Load(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &model.Snapshot{Totals: s.totals.Clone()}
	if s.terms != nil {
		t := s.terms.Clone()
		snapshot.Terms = &t
	}
	for _, e := range s.entries {
		snapshot.Entries = append(snapshot.Entries, e.Clone())
	}
	sort.Slice(snapshot.Entries, func(i, j int) bool {
		return snapshot.Entries[i].Identity.Hex() < snapshot.Entries[j].Identity.Hex()
	})
	return snapshot, nil
}

func (s *Store) InitTerms(_ context.Context, terms model.Terms) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terms != nil {
		return errors.New("terms already recorded")
	}
	t := terms.Clone()
	s.terms = &t
	return nil
}

func (s *Store) CommitContribution(_ context.Context, c *model.Contribution, totals model.Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCommits != nil {
		return s.FailCommits
	}
	s.entries[c.Identity] = c.Entry.Clone()
	s.totals = totals.Clone()
	s.contributions = append(s.contributions, cloneContribution(c))
	return nil
}

func (s *Store) CommitWithdrawal(_ context.Context, w *model.Withdrawal, totals model.Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCommits != nil {
		return s.FailCommits
	}
	s.withdrawals[w.Id] = cloneWithdrawal(w)
	s.totals = totals.Clone()
	return nil
}

func (s *Store) UpdateWithdrawal(_ context.Context, w *model.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.withdrawals[w.Id]; !ok {
		return errors.Errorf("withdrawal %s not found", w.Id)
	}
	s.withdrawals[w.Id] = cloneWithdrawal(w)
	return nil
}

func (s *Store) ListWithdrawals(_ context.Context, statuses ...model.WithdrawalStatus) ([]model.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Withdrawal
	for _, w := range s.withdrawals {
		for _, status := range statuses {
			if w.Status == status {
				out = append(out, cloneWithdrawal(&w))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Committed.Before(out[j].Committed) })
	return out, nil
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

// Contributions returns the journal in commit order
func (s *Store) Contributions() []model.Contribution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Contribution, 0, len(s.contributions))
	for i := range s.contributions {
		out = append(out, cloneContribution(&s.contributions[i]))
	}
	return out
}

func (s *Store) Withdrawal(id uuid.UUID) (model.Withdrawal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return model.Withdrawal{}, false
	}
	return cloneWithdrawal(&w), true
}

func cloneContribution(c *model.Contribution) model.Contribution {
	out := *c
	out.Payment = c.Payment.Clone()
	out.Reward = c.Reward.Clone()
	out.Entry = c.Entry.Clone()
	return out
}

func cloneWithdrawal(w *model.Withdrawal) model.Withdrawal {
	out := *w
	out.Amount = w.Amount.Clone()
	if w.TxId != nil {
		tx := *w.TxId
		out.TxId = &tx
	}
	return out
}
