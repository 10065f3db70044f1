package model

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestRewardIsAdditive(t *testing.T) {
	terms := Terms{PaymentAmount: uint256.NewInt(WeiPerEther / 10), RewardRate: 7}
	total := new(uint256.Int)
	summed := new(uint256.Int)
	for i := 0; i < 500; i++ {
		total.Add(total, terms.PaymentAmount)
		r, overflow := terms.Reward(terms.PaymentAmount)
		if overflow {
			t.Fatal("unexpected overflow")
		}
		summed.Add(summed, r)
	}
	whole, _ := terms.Reward(total)
	if !whole.Eq(summed) {
		t.Fatalf("f(sum)=%s but sum(f)=%s", whole.Dec(), summed.Dec())
	}

	ceiling := new(uint256.Int).SetAllOne()
	if _, overflow := terms.Reward(ceiling); !overflow {
		t.Fatalf("expected overflow for max amount")
	}
}

func TestTermsEqualTreatsNilCapAsZero(t *testing.T) {
	a := DefaultTerms()
	b := DefaultTerms()
	b.SupplyCap = new(uint256.Int)
	if !a.Equal(b) || a.Capped() || b.Capped() {
		t.Fatalf("nil and zero caps should both mean uncapped")
	}
	b.SupplyCap = uint256.NewInt(1)
	if a.Equal(b) || !b.Capped() {
		t.Fatalf("cap of 1 should differ")
	}
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity(" 0x00000000000000000000000000000000000000Ab ")
	if err != nil {
		t.Fatal(err)
	}
	if id.Big().Uint64() != 0xab {
		t.Fatalf("unexpected identity %s", id.Hex())
	}
	for _, bad := range []string{"", "0x", "0xzz00000000000000000000000000000000000000", "0x0000000000000000000000000000000000000000", "0x01"} {
		if _, err := ParseIdentity(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount("100000000000000000")
	if err != nil || a.Uint64() != WeiPerEther/10 {
		t.Fatalf("unexpected %v %v", a, err)
	}
	for _, bad := range []string{"", "-1", "1.5", "0x10", "abc"} {
		if _, err := ParseAmount(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	e := NewLedgerEntry(Identity{1})
	c := e.Clone()
	c.CumulativePayment.AddUint64(c.CumulativePayment, 5)
	if !e.CumulativePayment.IsZero() {
		t.Fatalf("clone shares storage with original")
	}
}
