package cashier

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/onemorebsmith/contribution-ledger/src/ledger"
	"github.com/onemorebsmith/contribution-ledger/src/model"
)

var _ ledger.Cashier = (*MockCashierClient)(nil)

type Transaction struct {
	TxId   string
	To     model.Identity
	Amount *uint256.Int
}

type MockCashierClient struct {
	config CashierConfig

	mu           sync.Mutex
	transactions []*Transaction
	// Fail makes every Send return it
	Fail error
}

func NewMockCashier(cfg CashierConfig) *MockCashierClient {
	return &MockCashierClient{
		config: cfg,
	}
}

func (cc *MockCashierClient) Send(ctx context.Context, to model.Identity, amount *uint256.Int) (string, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.Fail != nil {
		return "", cc.Fail
	}
	tx := &Transaction{
		TxId:   fmt.Sprintf("mock-%d", len(cc.transactions)+1),
		To:     to,
		Amount: amount.Clone(),
	}
	cc.transactions = append(cc.transactions, tx)
	return tx.TxId, nil
}

// SetFail changes Fail while sends may be running
func (cc *MockCashierClient) SetFail(err error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.Fail = err
}

func (cc *MockCashierClient) Transactions() []*Transaction {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return append([]*Transaction(nil), cc.transactions...)
}
