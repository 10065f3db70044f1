package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/onemorebsmith/contribution-ledger/src/metrics"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Ledger is the single writer of every LedgerEntry. Writes are serialized on
// writeLock; entries and totals are published as immutable values so reads
// never wait on a writer and never see a half-applied transition.
type Ledger struct {
	terms    model.Terms
	operator model.Identity
	store    Store
	notifier Notifier
	cashier  Cashier
	logger   *zap.Logger

	writeLock sync.Mutex
	entries   sync.Map // model.Identity -> *model.LedgerEntry
	totals    atomic.Pointer[model.Totals]

	// held from a withdrawal's debit until its payout is recorded
	payoutLock sync.Mutex
}

type Option func(*Ledger)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithNotifier(n Notifier) Option {
	return func(l *Ledger) {
		l.notifier = n
	}
}

// WithOperator sets the identity allowed to withdraw custody, and the cashier used to pay it out
func WithOperator(operator model.Identity, cashier Cashier) Option {
	return func(l *Ledger) {
		l.operator = operator
		l.cashier = cashier
	}
}

func ValidateTerms(terms model.Terms) error {
	if terms.PaymentAmount == nil || terms.PaymentAmount.IsZero() {
		return errors.Wrap(ErrInvalidTerms, "payment amount must be greater than zero")
	}
	if terms.RewardRate == 0 {
		return errors.Wrap(ErrInvalidTerms, "reward rate must be greater than zero")
	}
	reward, overflow := terms.Reward(terms.PaymentAmount)
	if overflow {
		return errors.Wrap(ErrInvalidTerms, "reward for a single payment overflows")
	}
	if terms.Capped() && reward.Gt(terms.SupplyCap) {
		return errors.Wrapf(ErrInvalidTerms, "supply cap %s is below a single reward %s", terms.SupplyCap.Dec(), reward.Dec())
	}
	return nil
}

// New instantiates the ledger over a store. The first start records the terms;
// later starts must be configured with the same terms.
func New(ctx context.Context, terms model.Terms, store Store, opts ...Option) (*Ledger, error) {
	if err := ValidateTerms(terms); err != nil {
		return nil, err
	}
	l := &Ledger{
		terms:  terms.Clone(),
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("ledger")

	snapshot, err := store.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed loading ledger state")
	}
	if snapshot.Terms == nil {
		if len(snapshot.Entries) > 0 {
			return nil, errors.Wrap(ErrCorruptState, "entries recorded without terms")
		}
		if err := store.InitTerms(ctx, l.terms); err != nil {
			return nil, errors.Wrap(err, "failed recording ledger terms")
		}
		l.logger.Info("recorded ledger terms", zap.Stringer("terms", l.terms))
	} else if !snapshot.Terms.Equal(l.terms) {
		return nil, errors.Wrapf(ErrTermsMismatch, "recorded %s, configured %s", snapshot.Terms, l.terms)
	}

	if err := l.replay(snapshot); err != nil {
		return nil, err
	}
	totals := l.Totals()
	metrics.SetTotals(totals.Issued, totals.Custody)
	l.logger.Info("ledger loaded",
		zap.Int("entries", len(snapshot.Entries)),
		zap.String("issued", totals.Issued.Dec()),
		zap.String("custody", totals.Custody.Dec()))
	return l, nil
}

func (l *Ledger) replay(snapshot *model.Snapshot) error {
	issued := new(uint256.Int)
	paid := new(uint256.Int)
	for _, e := range snapshot.Entries {
		entry := e.Clone()
		expected, overflow := l.terms.Reward(entry.CumulativePayment)
		if overflow || !expected.Eq(entry.CumulativeReward) {
			return errors.Wrapf(ErrCorruptState, "entry %s: reward %s does not match payment %s",
				entry.Identity.Hex(), entry.CumulativeReward.Dec(), entry.CumulativePayment.Dec())
		}
		if _, overflow := issued.AddOverflow(issued, entry.CumulativeReward); overflow {
			return errors.Wrap(ErrCorruptState, "issued total overflows")
		}
		if _, overflow := paid.AddOverflow(paid, entry.CumulativePayment); overflow {
			return errors.Wrap(ErrCorruptState, "payment total overflows")
		}
		l.entries.Store(entry.Identity, &entry)
	}

	totals := snapshot.Totals.Clone()
	if !issued.Eq(totals.Issued) {
		return errors.Wrapf(ErrCorruptState, "recorded issued %s, entries sum to %s", totals.Issued.Dec(), issued.Dec())
	}
	if totals.Custody.Gt(paid) {
		return errors.Wrapf(ErrCorruptState, "custody %s exceeds total payments %s", totals.Custody.Dec(), paid.Dec())
	}
	if l.terms.Capped() && issued.Gt(l.terms.SupplyCap) {
		return errors.Wrapf(ErrCorruptState, "issued %s exceeds supply cap %s", issued.Dec(), l.terms.SupplyCap.Dec())
	}
	l.totals.Store(&totals)
	return nil
}

func (l *Ledger) Terms() model.Terms {
	return l.terms.Clone()
}

func (l *Ledger) Operator() model.Identity {
	return l.operator
}

// Entry returns the identity's counters; identities that never paid read as zero
func (l *Ledger) Entry(id model.Identity) model.LedgerEntry {
	if v, ok := l.entries.Load(id); ok {
		return v.(*model.LedgerEntry).Clone()
	}
	return model.NewLedgerEntry(id)
}

func (l *Ledger) GetContribution(id model.Identity) *uint256.Int {
	return l.Entry(id).CumulativePayment
}

func (l *Ledger) GetTokenBalance(id model.Identity) *uint256.Int {
	return l.Entry(id).CumulativeReward
}

func (l *Ledger) Totals() model.Totals {
	return l.totals.Load().Clone()
}

// Contribute accepts the fixed payment from caller and credits f(payment).
// On any error nothing is recorded and the payment is not retained.
func (l *Ledger) Contribute(ctx context.Context, caller model.Identity, payment *uint256.Int) (model.LedgerEntry, error) {
	contribution, err := l.commitContribution(ctx, caller, payment)
	if err != nil {
		metrics.RecordRejection("contribute", Code(err))
		return model.LedgerEntry{}, err
	}
	metrics.RecordContribution()
	l.logger.Info("contribution committed",
		zap.String("identity", caller.Hex()),
		zap.String("payment", contribution.Payment.Dec()),
		zap.String("reward", contribution.Reward.Dec()),
		zap.Stringer("id", contribution.Id))

	if l.notifier != nil {
		if err := l.notifier.Contributed(ctx, contribution); err != nil {
			metrics.RecordNotifyError()
			l.logger.Warn("failed publishing contribution", zap.Stringer("id", contribution.Id), zap.Error(err))
		}
	}
	return contribution.Entry.Clone(), nil
}

func (l *Ledger) commitContribution(ctx context.Context, caller model.Identity, payment *uint256.Int) (*model.Contribution, error) {
	if caller == (model.Identity{}) {
		return nil, errors.Wrap(ErrIdentityUnresolved, "zero address caller")
	}
	if payment == nil || !payment.Eq(l.terms.PaymentAmount) {
		got := "none"
		if payment != nil {
			got = payment.Dec()
		}
		return nil, errors.Wrapf(ErrWrongPaymentAmount, "expected %s, got %s", l.terms.PaymentAmount.Dec(), got)
	}
	reward, overflow := l.terms.Reward(payment)
	if overflow {
		return nil, errors.Wrap(ErrAmountOverflow, "reward")
	}

	l.writeLock.Lock()
	defer l.writeLock.Unlock()

	current := l.Entry(caller)
	totals := l.Totals()

	issued, overflow := new(uint256.Int).AddOverflow(totals.Issued, reward)
	if overflow {
		return nil, errors.Wrap(ErrAmountOverflow, "issued total")
	}
	if l.terms.Capped() && issued.Gt(l.terms.SupplyCap) {
		return nil, errors.Wrapf(ErrSupplyExceeded, "issuing %s would bring total to %s, cap is %s",
			reward.Dec(), issued.Dec(), l.terms.SupplyCap.Dec())
	}
	next := model.LedgerEntry{Identity: caller}
	var paymentOverflow, rewardOverflow, custodyOverflow bool
	next.CumulativePayment, paymentOverflow = new(uint256.Int).AddOverflow(current.CumulativePayment, payment)
	next.CumulativeReward, rewardOverflow = new(uint256.Int).AddOverflow(current.CumulativeReward, reward)
	custody, custodyOverflow := new(uint256.Int).AddOverflow(totals.Custody, payment)
	if paymentOverflow || rewardOverflow || custodyOverflow {
		return nil, errors.Wrapf(ErrAmountOverflow, "entry %s", caller.Hex())
	}

	nextTotals := model.Totals{
		Issued:        issued,
		Custody:       custody,
		Contributions: totals.Contributions + 1,
	}
	contribution := &model.Contribution{
		Id:        uuid.New(),
		Identity:  caller,
		Payment:   payment.Clone(),
		Reward:    reward,
		Committed: time.Now().UTC(),
		Entry:     next,
	}
	if err := l.store.CommitContribution(ctx, contribution, nextTotals); err != nil {
		return nil, errors.Wrapf(err, "failed committing contribution for %s", caller.Hex())
	}

	published := next.Clone()
	l.entries.Store(caller, &published)
	l.totals.Store(&nextTotals)
	metrics.SetTotals(nextTotals.Issued, nextTotals.Custody)
	return contribution, nil
}

// Withdraw debits custody for the operator and pays it out through the cashier.
// The debit is committed before the payout; a failed payout leaves the
// withdrawal recorded with status error until RetryWithdrawals sends it.
func (l *Ledger) Withdraw(ctx context.Context, caller model.Identity, amount *uint256.Int) (*model.Withdrawal, error) {
	l.payoutLock.Lock()
	defer l.payoutLock.Unlock()

	w, err := l.commitWithdrawal(ctx, caller, amount)
	if err != nil {
		metrics.RecordRejection("withdraw", Code(err))
		return nil, err
	}
	l.logger.Info("withdrawal committed", zap.Stringer("id", w.Id), zap.String("amount", w.Amount.Dec()))

	if l.cashier == nil {
		metrics.RecordWithdrawal(string(w.Status))
		return w, nil
	}
	if err := l.payout(ctx, w); err != nil {
		return w, errors.Wrap(err, "custody debited but payout failed")
	}
	return w, nil
}

// RetryWithdrawals sends every withdrawal whose payout failed. Pending
// withdrawals are only left behind by a crash between the debit and the
// payout, and the transfer may already be on chain, so they are included
// only when the operator asks for it after checking.
func (l *Ledger) RetryWithdrawals(ctx context.Context, caller model.Identity, includePending bool) ([]*model.Withdrawal, error) {
	if l.operator == (model.Identity{}) || caller != l.operator {
		metrics.RecordRejection("retry_withdrawals", Code(ErrNotOperator))
		return nil, errors.Wrapf(ErrNotOperator, "%s", caller.Hex())
	}
	if l.cashier == nil {
		return nil, errors.New("no cashier configured")
	}

	// payouts in flight hold payoutLock, so anything pending seen here is orphaned
	l.payoutLock.Lock()
	defer l.payoutLock.Unlock()

	statuses := []model.WithdrawalStatus{model.WithdrawalStatusError}
	if includePending {
		statuses = append(statuses, model.WithdrawalStatusPending)
	}
	stuck, err := l.store.ListWithdrawals(ctx, statuses...)
	if err != nil {
		return nil, errors.Wrap(err, "failed fetching unpaid withdrawals")
	}

	retried := make([]*model.Withdrawal, 0, len(stuck))
	failed := 0
	for i := range stuck {
		w := &stuck[i]
		if err := l.payout(ctx, w); err != nil {
			failed++
		}
		retried = append(retried, w)
	}
	if failed > 0 {
		return retried, errors.Errorf("%d of %d withdrawal payouts failed again", failed, len(retried))
	}
	return retried, nil
}

// payout sends w through the cashier and records the outcome. Callers hold payoutLock.
func (l *Ledger) payout(ctx context.Context, w *model.Withdrawal) error {
	logger := l.logger.With(zap.Stringer("id", w.Id), zap.String("amount", w.Amount.Dec()))
	txId, sendErr := l.cashier.Send(ctx, w.Operator, w.Amount)
	if sendErr != nil {
		w.Status = model.WithdrawalStatusError
		logger.Error("failed paying out withdrawal", zap.Error(sendErr))
	} else {
		w.Status = model.WithdrawalStatusSent
		w.TxId = &txId
		logger.Info("withdrawal paid out", zap.String("tx", txId))
	}
	metrics.RecordWithdrawal(string(w.Status))
	if err := l.store.UpdateWithdrawal(ctx, w); err != nil {
		logger.Error("failed updating withdrawal status", zap.Error(err))
	}
	return sendErr
}

func (l *Ledger) commitWithdrawal(ctx context.Context, caller model.Identity, amount *uint256.Int) (*model.Withdrawal, error) {
	if l.operator == (model.Identity{}) || caller != l.operator {
		return nil, errors.Wrapf(ErrNotOperator, "%s", caller.Hex())
	}
	if amount == nil || amount.IsZero() {
		return nil, errors.Wrap(ErrInvalidAmount, "withdrawal amount must be greater than zero")
	}

	l.writeLock.Lock()
	defer l.writeLock.Unlock()

	totals := l.Totals()
	if amount.Gt(totals.Custody) {
		return nil, errors.Wrapf(ErrInsufficientCustody, "requested %s, custody holds %s", amount.Dec(), totals.Custody.Dec())
	}
	nextTotals := model.Totals{
		Issued:        totals.Issued,
		Custody:       new(uint256.Int).Sub(totals.Custody, amount),
		Contributions: totals.Contributions,
	}
	w := &model.Withdrawal{
		Id:        uuid.New(),
		Operator:  caller,
		Amount:    amount.Clone(),
		Status:    model.WithdrawalStatusPending,
		Committed: time.Now().UTC(),
	}
	if err := l.store.CommitWithdrawal(ctx, w, nextTotals); err != nil {
		return nil, errors.Wrap(err, "failed committing withdrawal")
	}
	l.totals.Store(&nextTotals)
	metrics.SetTotals(nextTotals.Issued, nextTotals.Custody)
	return w, nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.store.Ping(ctx); err != nil {
		return errors.Wrap(err, "ledger store unavailable")
	}
	return nil
}

func (l *Ledger) String() string {
	t := l.Totals()
	return fmt.Sprintf("ledger{%s issued=%s custody=%s contributions=%d}", l.terms, t.Issued.Dec(), t.Custody.Dec(), t.Contributions)
}
