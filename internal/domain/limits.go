package domain

import "github.com/shopspring/decimal"

// Per-transaction UPI limits. Process-wide constants, not configurable at
// call time.
const (
	MinTransferAmount = "1"
	MaxTransferAmount = "100000"
)

var (
	minTransferAmount = decimal.RequireFromString(MinTransferAmount)
	maxTransferAmount = decimal.RequireFromString(MaxTransferAmount)
)

// ValidateTransferAmount checks amount against structural rules and the
// per-transaction limits. Order matters: structural failures (negative, zero,
// bad precision) are reported before limit failures, and the limits are
// boundary-inclusive.
func ValidateTransferAmount(amount decimal.Decimal) error {
	if err := validateOperationAmount(amount); err != nil {
		return err
	}

	if !amount.Equal(amount.Truncate(2)) {
		return NewInvalidAmountError(amount, AmountBadPrecision)
	}

	if amount.LessThan(minTransferAmount) {
		return NewLimitExceededError(amount, minTransferAmount, LimitPerTxnMin)
	}

	if amount.GreaterThan(maxTransferAmount) {
		return NewLimitExceededError(amount, maxTransferAmount, LimitPerTxnMax)
	}

	return nil
}
