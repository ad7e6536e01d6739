package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/upistack/upiflow/internal/domain"
)

// ErrTransferInFlight is returned when another transfer with the same
// idempotency key has started but not yet finished.
var ErrTransferInFlight = errors.New("transfer with this idempotency key is in flight")

const processingMarker = "processing"

// IdempotentEngine wraps an Engine so that retried transfers carrying the
// same idempotency key replay the original result instead of moving money
// twice. Only successful results are recorded; a failed attempt releases the
// key so the caller may retry it.
type IdempotentEngine struct {
	engine  *Engine
	records IdempotencyStore
	ttl     time.Duration
}

// NewIdempotent creates an IdempotentEngine. Records older than ttl may be
// evicted, after which the key executes fresh again.
func NewIdempotent(engine *Engine, records IdempotencyStore, ttl time.Duration) *IdempotentEngine {
	return &IdempotentEngine{
		engine:  engine,
		records: records,
		ttl:     ttl,
	}
}

// Transfer executes the transfer under the given idempotency key. The boolean
// reports whether the result was replayed from a previous attempt.
func (ie *IdempotentEngine) Transfer(ctx context.Context, key, fromID, toID string, amount decimal.Decimal) (*domain.TransferResult, bool, error) {
	exists, cached, err := ie.records.CheckAndSet(ctx, key, nil, ie.ttl)
	if err != nil {
		return nil, false, domain.NewInternalError("idempotency check", err)
	}

	if exists {
		if len(cached) == 0 || string(cached) == processingMarker {
			return nil, false, ErrTransferInFlight
		}

		var result domain.TransferResult
		if err := json.Unmarshal(cached, &result); err != nil {
			return nil, false, domain.NewInternalError("decode idempotency record", err)
		}

		if ie.engine.metrics != nil {
			ie.engine.metrics.IdempotentReplays.Inc()
		}

		ie.engine.logger.Info().
			Str("key", key).
			Str("transfer_id", result.TransferID).
			Msg("transfer replayed from idempotency record")

		return &result, true, nil
	}

	result, terr := ie.engine.Transfer(ctx, fromID, toID, amount)
	if terr != nil {
		// Release the key so the same attempt can be retried.
		if derr := ie.records.Delete(ctx, key); derr != nil {
			ie.engine.logger.Error().Str("key", key).Err(derr).
				Msg("failed to release idempotency key")
		}

		return nil, false, terr
	}

	data, err := json.Marshal(result)
	if err != nil {
		return result, false, domain.NewInternalError("encode idempotency record", err)
	}

	if err := ie.records.Update(ctx, key, data, ie.ttl); err != nil {
		// The transfer is already durable; losing the record only costs
		// replay protection for this key.
		ie.engine.logger.Error().Str("key", key).Err(err).
			Msg("failed to record idempotency result")
	}

	return result, false, nil
}
