package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a balance-holding entity identified by an immutable account ID.
// The balance is exact decimal and never goes negative through Debit/Credit.
type Account struct {
	ID         string
	HolderName string
	Balance    decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewAccount creates an account with an opening balance.
func NewAccount(id, holderName string, openingBalance decimal.Decimal) *Account {
	now := time.Now().UTC()

	return &Account{
		ID:         id,
		HolderName: holderName,
		Balance:    openingBalance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Debit reduces the balance by amount. The amount is validated before the
// balance is checked, so an invalid amount never reports insufficient funds.
func (a *Account) Debit(amount decimal.Decimal) error {
	if err := validateOperationAmount(amount); err != nil {
		return err
	}

	if amount.GreaterThan(a.Balance) {
		return NewInsufficientBalanceError(a.ID, a.Balance, amount)
	}

	a.Balance = a.Balance.Sub(amount)

	return nil
}

// Credit increases the balance by amount.
func (a *Account) Credit(amount decimal.Decimal) error {
	if err := validateOperationAmount(amount); err != nil {
		return err
	}

	a.Balance = a.Balance.Add(amount)

	return nil
}

// Clone returns an independent copy. Stores hand out clones so that an
// in-flight transfer never mutates the canonical record before it commits.
func (a *Account) Clone() *Account {
	c := *a
	return &c
}

func validateOperationAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return NewInvalidAmountError(amount, AmountNegative)
	}

	if amount.IsZero() {
		return NewInvalidAmountError(amount, AmountZero)
	}

	return nil
}
