package common

import (
	"github.com/holiman/uint256"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/pkg/errors"
)

type LedgerConfig struct {
	Listen         string `yaml:"listen"`
	PromPort       string `yaml:"prom_port"`
	PostgresConfig string `yaml:"postgres"`
	RedisConfig    string `yaml:"redis"`
	Mock           bool   `yaml:"use_mock"`
	LogLevel       string `yaml:"log_level"`

	// terms, fixed on the first start
	PaymentAmount string `yaml:"payment_amount"` // wei, default 0.1 ether
	RewardRate    uint64 `yaml:"reward_rate"`
	SupplyCap     string `yaml:"supply_cap"` // wei of reward, empty or 0 for uncapped
	Operator      string `yaml:"operator"`

	// session
	TrustIdentityHeader bool   `yaml:"trust_identity_header"`
	MaxSkewSeconds      uint64 `yaml:"max_skew_seconds"`
	NonceCapacity       int    `yaml:"nonce_capacity"` // in-memory replay window when redis is not configured

	// errored payouts are retried on this interval, 0 disables
	PayoutRetryMinutes uint64 `yaml:"payout_retry_minutes"`

	// recent contributions kept in redis
	RecentRetentionHours uint64 `yaml:"recent_retention_hours"`
}

// Terms builds ledger terms from config, falling back to the defaults for unset values
func (c LedgerConfig) Terms() (model.Terms, error) {
	terms := model.DefaultTerms()
	if c.PaymentAmount != "" {
		amount, err := model.ParseAmount(c.PaymentAmount)
		if err != nil {
			return model.Terms{}, errors.Wrap(err, "payment_amount")
		}
		terms.PaymentAmount = amount
	}
	if c.RewardRate != 0 {
		terms.RewardRate = c.RewardRate
	}
	terms.SupplyCap = new(uint256.Int)
	if c.SupplyCap != "" {
		supplyCap, err := model.ParseAmount(c.SupplyCap)
		if err != nil {
			return model.Terms{}, errors.Wrap(err, "supply_cap")
		}
		terms.SupplyCap = supplyCap
	}
	return terms, nil
}

// OperatorIdentity returns the configured operator, or the zero identity when withdrawals are disabled
func (c LedgerConfig) OperatorIdentity() (model.Identity, error) {
	if c.Operator == "" {
		return model.Identity{}, nil
	}
	id, err := model.ParseIdentity(c.Operator)
	return id, errors.Wrap(err, "operator")
}
