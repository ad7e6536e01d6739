package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferResult captures the outcome of one successful transfer, including
// both parties' balances before and after. It is immutable once constructed
// and is never persisted by the engine.
type TransferResult struct {
	TransferID            string          `json:"transfer_id"`
	FromAccountID         string          `json:"from_account_id"`
	ToAccountID           string          `json:"to_account_id"`
	Amount                decimal.Decimal `json:"amount"`
	SenderBalanceBefore   decimal.Decimal `json:"sender_balance_before"`
	SenderBalanceAfter    decimal.Decimal `json:"sender_balance_after"`
	ReceiverBalanceBefore decimal.Decimal `json:"receiver_balance_before"`
	ReceiverBalanceAfter  decimal.Decimal `json:"receiver_balance_after"`
	CreatedAt             time.Time       `json:"created_at"`
}
