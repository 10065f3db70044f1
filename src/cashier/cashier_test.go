package cashier

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/onemorebsmith/contribution-ledger/src/ledger"
	"github.com/onemorebsmith/contribution-ledger/src/memstore"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func TestMockSelectedByConfig(t *testing.T) {
	c, err := NewCashierClient(context.Background(), CashierConfig{Mock: true}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*MockCashierClient); !ok {
		t.Fatalf("expected mock cashier, got %T", c)
	}
}

func TestInvalidCustodyKey(t *testing.T) {
	_, err := NewCashierClient(context.Background(), CashierConfig{CustodyKey: "not-a-key"}, zap.NewNop())
	if err == nil {
		t.Fatalf("expected invalid custody key to fail")
	}
}

func TestMockRecordsSends(t *testing.T) {
	mock := NewMockCashier(CashierConfig{Mock: true})
	to := model.Identity{0xaa}

	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mock.Send(context.Background(), to, uint256.NewInt(5)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	txs := mock.Transactions()
	if len(txs) != 10 {
		t.Fatalf("expected 10 sends, got %d", len(txs))
	}
	seen := map[string]bool{}
	for _, tx := range txs {
		if seen[tx.TxId] {
			t.Fatalf("duplicate tx id %s", tx.TxId)
		}
		seen[tx.TxId] = true
		if tx.To != to || tx.Amount.Uint64() != 5 {
			t.Fatalf("unexpected tx %+v", tx)
		}
	}
}

func TestReconcilerRetriesFailedPayouts(t *testing.T) {
	operator := model.Identity{0xee}
	mock := NewMockCashier(CashierConfig{Mock: true})
	mock.Fail = fmt.Errorf("node unreachable")
	store := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := ledger.New(ctx, model.Terms{PaymentAmount: uint256.NewInt(100), RewardRate: 1}, store,
		ledger.WithOperator(operator, mock))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Contribute(ctx, model.Identity{0x01}, uint256.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	w, err := l.Withdraw(ctx, operator, uint256.NewInt(100))
	if err == nil {
		t.Fatalf("expected payout failure")
	}

	mock.SetFail(nil)

	done := make(chan error, 1)
	go func() { done <- StartReconciler(ctx, l, 10*time.Millisecond, zap.NewNop()) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if stored, _ := store.Withdrawal(w.Id); stored.Status == model.WithdrawalStatusSent {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("withdrawal never retried")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected reconciler to stop on cancel, got %v", err)
	}
	if txs := mock.Transactions(); len(txs) != 1 {
		t.Fatalf("expected exactly one payout, got %d", len(txs))
	}
}
