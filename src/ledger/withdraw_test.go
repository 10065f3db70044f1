package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/onemorebsmith/contribution-ledger/src/cashier"
	"github.com/onemorebsmith/contribution-ledger/src/ledger"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/pkg/errors"
)

func TestWithdrawCustody(t *testing.T) {
	operator := identity(1000)
	mock := cashier.NewMockCashier(cashier.CashierConfig{Mock: true})
	l, store := newLedger(t, model.Terms{PaymentAmount: amount(100), RewardRate: 1}, ledger.WithOperator(operator, mock))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Contribute(ctx, identity(i), amount(100)); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := l.Withdraw(ctx, identity(0), amount(50)); !errors.Is(err, ledger.ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
	if _, err := l.Withdraw(ctx, operator, amount(0)); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := l.Withdraw(ctx, operator, amount(301)); !errors.Is(err, ledger.ErrInsufficientCustody) {
		t.Fatalf("expected ErrInsufficientCustody, got %v", err)
	}

	w, err := l.Withdraw(ctx, operator, amount(120))
	if err != nil {
		t.Fatalf("withdraw failed: %s", err)
	}
	if w.Status != model.WithdrawalStatusSent || w.TxId == nil || *w.TxId != "mock-1" {
		t.Fatalf("unexpected withdrawal %+v", w)
	}
	stored, ok := store.Withdrawal(w.Id)
	if !ok || stored.Status != model.WithdrawalStatusSent {
		t.Fatalf("withdrawal status not persisted: %+v", stored)
	}
	if got := l.Totals().Custody.Uint64(); got != 180 {
		t.Fatalf("expected custody 180, got %d", got)
	}
	// withdrawals never touch entries or issued reward
	if got := l.Totals().Issued.Uint64(); got != 300 {
		t.Fatalf("expected issued 300, got %d", got)
	}
	if got := l.GetContribution(identity(0)).Uint64(); got != 100 {
		t.Fatalf("withdrawal changed an entry: %d", got)
	}
	if txs := mock.Transactions(); len(txs) != 1 || txs[0].To != operator || txs[0].Amount.Uint64() != 120 {
		t.Fatalf("unexpected payouts %+v", txs)
	}
}

func TestWithdrawPayoutFailureKeepsDebit(t *testing.T) {
	operator := identity(1000)
	mock := cashier.NewMockCashier(cashier.CashierConfig{Mock: true})
	mock.Fail = fmt.Errorf("node unreachable")
	l, store := newLedger(t, model.Terms{PaymentAmount: amount(100), RewardRate: 1}, ledger.WithOperator(operator, mock))
	ctx := context.Background()

	if _, err := l.Contribute(ctx, identity(0), amount(100)); err != nil {
		t.Fatal(err)
	}
	w, err := l.Withdraw(ctx, operator, amount(100))
	if err == nil {
		t.Fatalf("expected payout failure to surface")
	}
	if w == nil || w.Status != model.WithdrawalStatusError {
		t.Fatalf("expected errored withdrawal, got %+v", w)
	}
	stored, _ := store.Withdrawal(w.Id)
	if stored.Status != model.WithdrawalStatusError {
		t.Fatalf("expected persisted error status, got %s", stored.Status)
	}
	if !l.Totals().Custody.IsZero() {
		t.Fatalf("custody should stay debited, got %s", l.Totals().Custody.Dec())
	}
}

func TestWithdrawWithoutOperator(t *testing.T) {
	l, _ := newLedger(t, model.DefaultTerms())
	if _, err := l.Withdraw(context.Background(), model.Identity{}, amount(1)); !errors.Is(err, ledger.ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
}

func TestRetryWithdrawalsSendsFailedPayouts(t *testing.T) {
	operator := identity(1000)
	mock := cashier.NewMockCashier(cashier.CashierConfig{Mock: true})
	mock.Fail = fmt.Errorf("node unreachable")
	l, store := newLedger(t, model.Terms{PaymentAmount: amount(100), RewardRate: 1}, ledger.WithOperator(operator, mock))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.Contribute(ctx, identity(i), amount(100)); err != nil {
			t.Fatal(err)
		}
	}
	failed, err := l.Withdraw(ctx, operator, amount(70))
	if err == nil {
		t.Fatalf("expected payout failure")
	}

	// still down: the withdrawal stays errored
	if _, err := l.RetryWithdrawals(ctx, operator, false); err == nil {
		t.Fatalf("expected retry to report the failed payout")
	}
	if stored, _ := store.Withdrawal(failed.Id); stored.Status != model.WithdrawalStatusError {
		t.Fatalf("expected error status, got %s", stored.Status)
	}

	mock.Fail = nil
	if _, err := l.RetryWithdrawals(ctx, identity(0), false); !errors.Is(err, ledger.ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
	retried, err := l.RetryWithdrawals(ctx, operator, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(retried) != 1 || retried[0].Id != failed.Id || retried[0].Status != model.WithdrawalStatusSent {
		t.Fatalf("unexpected retry result %+v", retried)
	}
	stored, _ := store.Withdrawal(failed.Id)
	if stored.Status != model.WithdrawalStatusSent || stored.TxId == nil || *stored.TxId != "mock-1" {
		t.Fatalf("retry not persisted: %+v", stored)
	}
	// the debit happened once, at withdrawal time
	if got := l.Totals().Custody.Uint64(); got != 130 {
		t.Fatalf("expected custody 130, got %d", got)
	}

	// nothing left to retry
	if retried, err := l.RetryWithdrawals(ctx, operator, false); err != nil || len(retried) != 0 {
		t.Fatalf("expected no retries, got %+v %v", retried, err)
	}
	if txs := mock.Transactions(); len(txs) != 1 || txs[0].Amount.Uint64() != 70 {
		t.Fatalf("unexpected payouts %+v", txs)
	}
}

func TestRetryWithdrawalsPendingOnlyWhenAsked(t *testing.T) {
	operator := identity(1000)
	mock := cashier.NewMockCashier(cashier.CashierConfig{Mock: true})
	l, store := newLedger(t, model.Terms{PaymentAmount: amount(100), RewardRate: 1}, ledger.WithOperator(operator, mock))
	ctx := context.Background()

	// a debit whose payout never ran, as left by a crash
	orphan := &model.Withdrawal{
		Id:        uuid.New(),
		Operator:  operator,
		Amount:    amount(10),
		Status:    model.WithdrawalStatusPending,
		Committed: time.Now().UTC(),
	}
	if err := store.CommitWithdrawal(ctx, orphan, model.ZeroTotals()); err != nil {
		t.Fatal(err)
	}

	if retried, err := l.RetryWithdrawals(ctx, operator, false); err != nil || len(retried) != 0 {
		t.Fatalf("pending withdrawal retried without being asked: %+v %v", retried, err)
	}
	retried, err := l.RetryWithdrawals(ctx, operator, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(retried) != 1 || retried[0].Status != model.WithdrawalStatusSent {
		t.Fatalf("unexpected retry result %+v", retried)
	}
	if stored, _ := store.Withdrawal(orphan.Id); stored.Status != model.WithdrawalStatusSent {
		t.Fatalf("expected sent, got %s", stored.Status)
	}
}
