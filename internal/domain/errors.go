package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrorKind identifies one of the closed set of transfer failure kinds.
type ErrorKind string

const (
	KindInvalidAmount       ErrorKind = "INVALID_AMOUNT"
	KindLimitExceeded       ErrorKind = "TRANSACTION_LIMIT_EXCEEDED"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindAccountNotFound     ErrorKind = "ACCOUNT_NOT_FOUND"
	KindSameAccount         ErrorKind = "SAME_ACCOUNT_TRANSFER"
	KindInternal            ErrorKind = "INTERNAL"
)

// Stable external codes per kind. Automated callers branch on these instead
// of parsing message text.
var errorCodes = map[ErrorKind]string{
	KindInvalidAmount:       "UPI001",
	KindLimitExceeded:       "UPI002",
	KindInsufficientBalance: "UPI003",
	KindAccountNotFound:     "UPI004",
	KindSameAccount:         "UPI005",
	KindInternal:            "UPI999",
}

// Error is implemented by every transfer failure kind.
type Error interface {
	error
	Kind() ErrorKind
	Code() string
	LogString() string
}

func logLine(e Error) string {
	return fmt.Sprintf("%s %s [%s] %s",
		time.Now().UTC().Format(time.RFC3339), e.Code(), e.Kind(), e.Error())
}

// AmountReason is the structural reason an amount was rejected.
type AmountReason string

const (
	AmountNegative     AmountReason = "negative"
	AmountZero         AmountReason = "zero"
	AmountBelowMinimum AmountReason = "below_minimum"
	AmountAboveMaximum AmountReason = "above_maximum"
	AmountBadPrecision AmountReason = "bad_precision"
)

// LimitType is the policy boundary a LimitExceededError references.
type LimitType string

const (
	LimitPerTxnMin      LimitType = "per_transaction_min"
	LimitPerTxnMax      LimitType = "per_transaction_max"
	LimitDaily          LimitType = "daily"
	LimitMonthly        LimitType = "monthly"
	LimitPerBeneficiary LimitType = "per_beneficiary"
)

// InvalidAmountError reports an amount that fails structural validation.
type InvalidAmountError struct {
	Amount decimal.Decimal
	Reason AmountReason
}

// NewInvalidAmountError creates an InvalidAmountError.
func NewInvalidAmountError(amount decimal.Decimal, reason AmountReason) *InvalidAmountError {
	return &InvalidAmountError{Amount: amount, Reason: reason}
}

func (e *InvalidAmountError) Error() string {
	switch e.Reason {
	case AmountNegative:
		return fmt.Sprintf("invalid amount %s: amount cannot be negative", e.Amount)
	case AmountZero:
		return "invalid amount: amount must be greater than zero"
	case AmountBadPrecision:
		return fmt.Sprintf("invalid amount %s: at most 2 decimal places allowed", e.Amount)
	case AmountBelowMinimum:
		return fmt.Sprintf("invalid amount %s: below minimum transferable amount", e.Amount)
	case AmountAboveMaximum:
		return fmt.Sprintf("invalid amount %s: above maximum transferable amount", e.Amount)
	default:
		return fmt.Sprintf("invalid amount %s", e.Amount)
	}
}

func (e *InvalidAmountError) Kind() ErrorKind { return KindInvalidAmount }

func (e *InvalidAmountError) Code() string { return errorCodes[KindInvalidAmount] }

func (e *InvalidAmountError) LogString() string { return logLine(e) }

// LimitExceededError reports an amount that violates a policy limit.
type LimitExceededError struct {
	Requested decimal.Decimal
	Limit     decimal.Decimal
	LimitType LimitType
}

// NewLimitExceededError creates a LimitExceededError.
func NewLimitExceededError(requested, limit decimal.Decimal, limitType LimitType) *LimitExceededError {
	return &LimitExceededError{Requested: requested, Limit: limit, LimitType: limitType}
}

func (e *LimitExceededError) Error() string {
	if e.LimitType == LimitPerTxnMin {
		return fmt.Sprintf("amount %s is below the %s limit of %s", e.Requested, e.LimitType, e.Limit)
	}

	return fmt.Sprintf("amount %s exceeds the %s limit of %s", e.Requested, e.LimitType, e.Limit)
}

func (e *LimitExceededError) Kind() ErrorKind { return KindLimitExceeded }

func (e *LimitExceededError) Code() string { return errorCodes[KindLimitExceeded] }

func (e *LimitExceededError) LogString() string { return logLine(e) }

// InsufficientBalanceError reports a debit that would drive the balance
// negative.
type InsufficientBalanceError struct {
	AccountID string
	Available decimal.Decimal
	Requested decimal.Decimal
}

// NewInsufficientBalanceError creates an InsufficientBalanceError.
func NewInsufficientBalanceError(accountID string, available, requested decimal.Decimal) *InsufficientBalanceError {
	return &InsufficientBalanceError{AccountID: accountID, Available: available, Requested: requested}
}

// Shortfall is the amount by which the request exceeds the available balance.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance in account %s: available %s, requested %s (short by %s)",
		e.AccountID, e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Kind() ErrorKind { return KindInsufficientBalance }

func (e *InsufficientBalanceError) Code() string { return errorCodes[KindInsufficientBalance] }

func (e *InsufficientBalanceError) LogString() string { return logLine(e) }

// AccountNotFoundError reports a store lookup miss, by ID or by alias.
type AccountNotFoundError struct {
	ID      string
	ByAlias bool
}

// NewAccountNotFoundError creates an AccountNotFoundError for an ID lookup.
func NewAccountNotFoundError(id string) *AccountNotFoundError {
	return &AccountNotFoundError{ID: id}
}

// NewAliasNotFoundError creates an AccountNotFoundError for an alias lookup.
func NewAliasNotFoundError(alias string) *AccountNotFoundError {
	return &AccountNotFoundError{ID: alias, ByAlias: true}
}

func (e *AccountNotFoundError) Error() string {
	if e.ByAlias {
		return fmt.Sprintf("no account found for alias %q", e.ID)
	}

	return fmt.Sprintf("account %s not found", e.ID)
}

func (e *AccountNotFoundError) Kind() ErrorKind { return KindAccountNotFound }

func (e *AccountNotFoundError) Code() string { return errorCodes[KindAccountNotFound] }

func (e *AccountNotFoundError) LogString() string { return logLine(e) }

// SameAccountError reports a transfer where sender and receiver resolve to
// the same account.
type SameAccountError struct {
	AccountID string
	Alias     string
}

// NewSameAccountError creates a SameAccountError. Alias is empty unless the
// transfer was addressed by alias.
func NewSameAccountError(accountID, alias string) *SameAccountError {
	return &SameAccountError{AccountID: accountID, Alias: alias}
}

func (e *SameAccountError) Error() string {
	if e.Alias != "" {
		return fmt.Sprintf("cannot transfer to the same account %s (alias %q)", e.AccountID, e.Alias)
	}

	return fmt.Sprintf("cannot transfer to the same account %s", e.AccountID)
}

func (e *SameAccountError) Kind() ErrorKind { return KindSameAccount }

func (e *SameAccountError) Code() string { return errorCodes[KindSameAccount] }

func (e *SameAccountError) LogString() string { return logLine(e) }

// InternalError wraps an unexpected lower-level fault, e.g. the store being
// unavailable. It is distinct from the five domain kinds.
type InternalError struct {
	Op  string
	Err error
}

// NewInternalError wraps err as an InternalError.
func NewInternalError(op string, err error) *InternalError {
	return &InternalError{Op: op, Err: err}
}

func (e *InternalError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) Kind() ErrorKind { return KindInternal }

func (e *InternalError) Code() string { return errorCodes[KindInternal] }

func (e *InternalError) LogString() string { return logLine(e) }
