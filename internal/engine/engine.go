package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/upistack/upiflow/internal/domain"
	"github.com/upistack/upiflow/internal/infrastructure/metrics"
)

// Engine executes fund transfers against an account store. Each transfer is a
// single logical unit of work: validation, account loading, debit and credit
// on store-owned copies, then persistence of both sides. Nothing is persisted
// if any step fails.
type Engine struct {
	store   AccountStore
	idGen   IDGenerator
	locks   *accountLocks
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a transfer engine bound to store. m may be nil to disable
// metrics.
func New(store AccountStore, idGen IDGenerator, logger zerolog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   store,
		idGen:   idGen,
		locks:   newAccountLocks(),
		logger:  logger,
		metrics: m,
	}
}

// Transfer moves amount from fromID to toID. On success both accounts are
// persisted and the result reports before/after balances for both parties.
// Every failure is terminal for the attempt; the engine never retries.
func (e *Engine) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) (*domain.TransferResult, error) {
	start := time.Now()

	result, err := e.transfer(ctx, fromID, toID, amount)
	e.observe(fromID, toID, amount, start, err)

	return result, err
}

// TransferByAlias resolves both payment addresses to account IDs and then
// executes the transfer. Two aliases resolving to the same account fail the
// same way a direct same-account transfer does.
func (e *Engine) TransferByAlias(ctx context.Context, fromAlias, toAlias string, amount decimal.Decimal) (*domain.TransferResult, error) {
	// Amount is validated before the store is queried for alias resolution.
	if err := domain.ValidateTransferAmount(amount); err != nil {
		e.observe(fromAlias, toAlias, amount, time.Now(), err)
		return nil, err
	}

	fromID, err := e.resolveAlias(ctx, fromAlias)
	if err != nil {
		e.observe(fromAlias, toAlias, amount, time.Now(), err)
		return nil, err
	}

	toID, err := e.resolveAlias(ctx, toAlias)
	if err != nil {
		e.observe(fromAlias, toAlias, amount, time.Now(), err)
		return nil, err
	}

	if fromID == toID {
		err := domain.NewSameAccountError(fromID, fromAlias)
		e.observe(fromAlias, toAlias, amount, time.Now(), err)

		return nil, err
	}

	return e.Transfer(ctx, fromID, toID, amount)
}

func (e *Engine) transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) (*domain.TransferResult, error) {
	// 1. Amount validation happens before any store access.
	if err := domain.ValidateTransferAmount(amount); err != nil {
		return nil, err
	}

	// 2. Same-account rejection, also before any store access.
	if fromID == toID {
		return nil, domain.NewSameAccountError(fromID, "")
	}

	// Steps 3-8 hold both account locks, acquired in sorted order, so that
	// transfers sharing an account never interleave their debit/credit pairs.
	unlock := e.locks.lockPair(fromID, toID)
	defer unlock()

	from, err := e.loadAccount(ctx, fromID)
	if err != nil {
		return nil, err
	}

	to, err := e.loadAccount(ctx, toID)
	if err != nil {
		return nil, err
	}

	senderBefore := from.Balance
	receiverBefore := to.Balance

	// Pre-debit snapshot, used to restore the sender if only the first of the
	// two saves below makes it to the store.
	fromSnapshot := from.Clone()

	// Debit and credit mutate the store-owned copies only; the canonical
	// records stay untouched until both saves below.
	if err := from.Debit(amount); err != nil {
		return nil, err
	}

	if err := to.Credit(amount); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	from.UpdatedAt = now
	to.UpdatedAt = now

	if err := e.saveBoth(ctx, from, to, fromSnapshot); err != nil {
		return nil, err
	}

	return &domain.TransferResult{
		TransferID:            e.idGen.Generate(),
		FromAccountID:         fromID,
		ToAccountID:           toID,
		Amount:                amount,
		SenderBalanceBefore:   senderBefore,
		SenderBalanceAfter:    from.Balance,
		ReceiverBalanceBefore: receiverBefore,
		ReceiverBalanceAfter:  to.Balance,
		CreatedAt:             now,
	}, nil
}

// saveBoth persists both sides of the transfer. Stores that support atomic
// pair saves get one call; otherwise the sides are saved in order and a
// failure of the second save restores the sender from its pre-debit snapshot,
// so a partially persisted transfer never destroys money.
func (e *Engine) saveBoth(ctx context.Context, from, to, fromSnapshot *domain.Account) error {
	if ps, ok := e.store.(PairSaver); ok {
		if err := ps.SavePair(ctx, from, to); err != nil {
			return domain.NewInternalError("save transfer accounts", err)
		}

		return nil
	}

	if err := e.store.Save(ctx, from); err != nil {
		return domain.NewInternalError("save sender account", err)
	}

	if err := e.store.Save(ctx, to); err != nil {
		if rerr := e.store.Save(ctx, fromSnapshot); rerr != nil {
			e.logger.Error().
				Str("account_id", fromSnapshot.ID).
				Err(rerr).
				Msg("failed to restore sender after partial save")
		}

		return domain.NewInternalError("save receiver account", err)
	}

	return nil
}

func (e *Engine) loadAccount(ctx context.Context, id string) (*domain.Account, error) {
	account, err := e.store.LoadByID(ctx, id)
	if err != nil {
		return nil, asDomainError("load account", err)
	}

	return account, nil
}

func (e *Engine) resolveAlias(ctx context.Context, alias string) (string, error) {
	id, err := e.store.ResolveAlias(ctx, alias)
	if err != nil {
		return "", asDomainError("resolve alias", err)
	}

	return id, nil
}

// asDomainError passes typed domain errors through unchanged and wraps
// everything else as an internal fault.
func asDomainError(op string, err error) error {
	var derr domain.Error
	if errors.As(err, &derr) {
		return err
	}

	return domain.NewInternalError(op, err)
}

func (e *Engine) observe(from, to string, amount decimal.Decimal, start time.Time, err error) {
	if err != nil {
		kind := domain.KindInternal
		code := "UPI999"

		var derr domain.Error
		if errors.As(err, &derr) {
			kind = derr.Kind()
			code = derr.Code()
		}

		if e.metrics != nil {
			e.metrics.TransferErrors.WithLabelValues(code).Inc()
		}

		e.logger.Warn().
			Str("from", from).
			Str("to", to).
			Str("amount", amount.String()).
			Str("kind", string(kind)).
			Err(err).
			Msg("transfer failed")

		return
	}

	if e.metrics != nil {
		e.metrics.TransfersTotal.Inc()
		e.metrics.TransferAmount.Observe(amount.InexactFloat64())
		e.metrics.TransferDuration.Observe(time.Since(start).Seconds())
	}

	e.logger.Info().
		Str("from", from).
		Str("to", to).
		Str("amount", amount.String()).
		Dur("took", time.Since(start)).
		Msg("transfer completed")
}
