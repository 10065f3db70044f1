package model

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Terms are fixed when a ledger is instantiated and never change afterwards.
// The exchange rate is f(x) = x * RewardRate, which is additive over successive
// payments so crediting per payment always agrees with f(total).
type Terms struct {
	PaymentAmount *uint256.Int
	RewardRate    uint64
	SupplyCap     *uint256.Int // nil or zero disables the cap
}

// DefaultTerms - 0.1 ether per contribution, rewarded 1:1, uncapped
func DefaultTerms() Terms {
	return Terms{
		PaymentAmount: uint256.NewInt(WeiPerEther / 10),
		RewardRate:    1,
	}
}

// Reward applies the exchange rate. The bool reports a 256 bit overflow.
func (t Terms) Reward(payment *uint256.Int) (*uint256.Int, bool) {
	return new(uint256.Int).MulOverflow(payment, uint256.NewInt(t.RewardRate))
}

func (t Terms) Capped() bool {
	return t.SupplyCap != nil && !t.SupplyCap.IsZero()
}

func (t Terms) Equal(other Terms) bool {
	if t.RewardRate != other.RewardRate {
		return false
	}
	if !cloneOrZero(t.PaymentAmount).Eq(cloneOrZero(other.PaymentAmount)) {
		return false
	}
	return cloneOrZero(t.SupplyCap).Eq(cloneOrZero(other.SupplyCap))
}

func (t Terms) Clone() Terms {
	return Terms{
		PaymentAmount: cloneOrZero(t.PaymentAmount),
		RewardRate:    t.RewardRate,
		SupplyCap:     cloneOrZero(t.SupplyCap),
	}
}

func (t Terms) String() string {
	return fmt.Sprintf("payment=%s rate=%d cap=%s",
		cloneOrZero(t.PaymentAmount).Dec(), t.RewardRate, cloneOrZero(t.SupplyCap).Dec())
}
