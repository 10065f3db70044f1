package model

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Identity is the address a participant signs with. The ledger treats it as an opaque key.
type Identity = common.Address

const WeiPerEther = 1000000000000000000 // multiplier from ether to wei, the unit used everywhere in the ledger

type WithdrawalStatus string

const ( // needs to match `withdrawal_status` in pg
	WithdrawalStatusPending WithdrawalStatus = "pending"
	WithdrawalStatusSent    WithdrawalStatus = "sent"
	WithdrawalStatusError   WithdrawalStatus = "error"
)

type LedgerEntry struct {
	Identity          Identity
	CumulativePayment *uint256.Int
	CumulativeReward  *uint256.Int
}

// NewLedgerEntry - the implicit all-zero entry of an identity that never paid
func NewLedgerEntry(id Identity) LedgerEntry {
	return LedgerEntry{
		Identity:          id,
		CumulativePayment: new(uint256.Int),
		CumulativeReward:  new(uint256.Int),
	}
}

func (e LedgerEntry) Clone() LedgerEntry {
	return LedgerEntry{
		Identity:          e.Identity,
		CumulativePayment: cloneOrZero(e.CumulativePayment),
		CumulativeReward:  cloneOrZero(e.CumulativeReward),
	}
}

// Contribution - a single committed payment and the reward credited for it
type Contribution struct {
	Id        uuid.UUID
	Identity  Identity
	Payment   *uint256.Int
	Reward    *uint256.Int
	Committed time.Time
	Entry     LedgerEntry // entry totals after this contribution
}

// Withdrawal - custody paid out to the operator
type Withdrawal struct {
	Id        uuid.UUID
	Operator  Identity
	Amount    *uint256.Int
	Status    WithdrawalStatus
	Committed time.Time
	TxId      *string
}

type Totals struct {
	Issued        *uint256.Int // sum of every entry's cumulative reward
	Custody       *uint256.Int // payments retained minus withdrawals
	Contributions uint64
}

func ZeroTotals() Totals {
	return Totals{Issued: new(uint256.Int), Custody: new(uint256.Int)}
}

func (t Totals) Clone() Totals {
	return Totals{
		Issued:        cloneOrZero(t.Issued),
		Custody:       cloneOrZero(t.Custody),
		Contributions: t.Contributions,
	}
}

// Snapshot is everything a store persists, as loaded on startup
type Snapshot struct {
	Terms   *Terms // nil until the first start records them
	Entries []LedgerEntry
	Totals  Totals
}

func ParseIdentity(raw string) (Identity, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return Identity{}, errors.Errorf("invalid identity %q", raw)
	}
	id := common.HexToAddress(trimmed)
	if id == (Identity{}) {
		return Identity{}, errors.New("zero address is not a valid identity")
	}
	return id, nil
}

// ParseAmount parses a decimal wei string
func ParseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("empty amount")
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid amount %q", raw)
	}
	return amount, nil
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
