package ledger

import "github.com/pkg/errors"

var (
	// ErrWrongPaymentAmount - the attached payment is not the fixed contribution amount
	ErrWrongPaymentAmount = errors.New("ledger: wrong payment amount")
	// ErrSupplyExceeded - crediting the reward would issue more than the supply cap
	ErrSupplyExceeded = errors.New("ledger: supply exceeded")
	// ErrIdentityUnresolved - the caller could not be established
	ErrIdentityUnresolved = errors.New("ledger: identity unresolved")

	ErrInvalidTerms        = errors.New("ledger: invalid terms")
	ErrTermsMismatch       = errors.New("ledger: configured terms differ from recorded terms")
	ErrCorruptState        = errors.New("ledger: persisted state violates ledger invariants")
	ErrAmountOverflow      = errors.New("ledger: amount overflow")
	ErrNotOperator         = errors.New("ledger: caller is not the operator")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrInsufficientCustody = errors.New("ledger: insufficient custody")
)

// Code is the stable name of an error kind, used on the wire
func Code(err error) string {
	switch {
	case errors.Is(err, ErrWrongPaymentAmount):
		return "WrongPaymentAmount"
	case errors.Is(err, ErrSupplyExceeded):
		return "SupplyExceeded"
	case errors.Is(err, ErrIdentityUnresolved):
		return "IdentityUnresolved"
	case errors.Is(err, ErrAmountOverflow):
		return "AmountOverflow"
	case errors.Is(err, ErrNotOperator):
		return "NotOperator"
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrInsufficientCustody):
		return "InsufficientCustody"
	default:
		return "Internal"
	}
}
