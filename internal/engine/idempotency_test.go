package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"

	"github.com/upistack/upiflow/internal/domain"
	"github.com/upistack/upiflow/internal/engine"
	"github.com/upistack/upiflow/internal/engine/mocks"
)

const recordTTL = time.Hour

func newIdempotentEngine(t *testing.T, records engine.IdempotencyStore) (*engine.IdempotentEngine, *mocks.MockAccountStore) {
	t.Helper()

	store := mocks.NewMockAccountStore()
	store.Put(domain.NewAccount("A001", "Asha", decimal.NewFromInt(50000)))
	store.Put(domain.NewAccount("A002", "Binod", decimal.NewFromInt(75000)))

	eng := engine.New(store, mocks.NewMockIDGenerator(), zerolog.Nop(), nil)

	return engine.NewIdempotent(eng, records, recordTTL), store
}

func TestIdempotentEngine_FreshKeyExecutesAndRecords(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	records := mocks.NewMockIdempotencyStore(ctrl)
	records.EXPECT().CheckAndSet(gomock.Any(), "key-1", nil, recordTTL).Return(false, nil, nil)
	records.EXPECT().Update(gomock.Any(), "key-1", gomock.Any(), recordTTL).Return(nil)

	ie, store := newIdempotentEngine(t, records)

	result, replayed, err := ie.Transfer(context.Background(), "key-1", "A001", "A002", decimal.NewFromInt(5000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed {
		t.Error("fresh key reported as replay")
	}
	if !store.Balance("A001").Balance.Equal(decimal.NewFromInt(45000)) {
		t.Errorf("sender not debited: %s", store.Balance("A001").Balance)
	}
	if result.TransferID != "transfer-001" {
		t.Errorf("expected transfer-001, got %s", result.TransferID)
	}
}

func TestIdempotentEngine_SeenKeyReplaysWithoutMovingMoney(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	recorded := &domain.TransferResult{
		TransferID:            "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		FromAccountID:         "A001",
		ToAccountID:           "A002",
		Amount:                decimal.NewFromInt(5000),
		SenderBalanceBefore:   decimal.NewFromInt(50000),
		SenderBalanceAfter:    decimal.NewFromInt(45000),
		ReceiverBalanceBefore: decimal.NewFromInt(75000),
		ReceiverBalanceAfter:  decimal.NewFromInt(80000),
	}
	data, err := json.Marshal(recorded)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	records := mocks.NewMockIdempotencyStore(ctrl)
	records.EXPECT().CheckAndSet(gomock.Any(), "key-1", nil, recordTTL).Return(true, data, nil)

	ie, store := newIdempotentEngine(t, records)

	result, replayed, err := ie.Transfer(context.Background(), "key-1", "A001", "A002", decimal.NewFromInt(5000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !replayed {
		t.Error("expected replay")
	}
	if result.TransferID != recorded.TransferID {
		t.Errorf("expected recorded transfer ID, got %s", result.TransferID)
	}
	if store.SaveCalls != 0 {
		t.Errorf("replay moved money: %d saves", store.SaveCalls)
	}
}

func TestIdempotentEngine_InFlightKeyRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	records := mocks.NewMockIdempotencyStore(ctrl)
	records.EXPECT().CheckAndSet(gomock.Any(), "key-1", nil, recordTTL).
		Return(true, []byte("processing"), nil)

	ie, _ := newIdempotentEngine(t, records)

	_, _, err := ie.Transfer(context.Background(), "key-1", "A001", "A002", decimal.NewFromInt(5000))
	if !errors.Is(err, engine.ErrTransferInFlight) {
		t.Fatalf("expected ErrTransferInFlight, got %v", err)
	}
}

func TestIdempotentEngine_FailedAttemptReleasesKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	records := mocks.NewMockIdempotencyStore(ctrl)
	records.EXPECT().CheckAndSet(gomock.Any(), "key-1", nil, recordTTL).Return(false, nil, nil)
	records.EXPECT().Delete(gomock.Any(), "key-1").Return(nil)

	ie, _ := newIdempotentEngine(t, records)

	// Amount exceeds the sender balance, so the transfer itself fails.
	_, _, err := ie.Transfer(context.Background(), "key-1", "A001", "A002", decimal.NewFromInt(99999))

	var insufficient *domain.InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
}

func TestIdempotentEngine_RecordStoreFaultWrappedAsInternal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	records := mocks.NewMockIdempotencyStore(ctrl)
	records.EXPECT().CheckAndSet(gomock.Any(), "key-1", nil, recordTTL).
		Return(false, nil, errors.New("redis down"))

	ie, _ := newIdempotentEngine(t, records)

	_, _, err := ie.Transfer(context.Background(), "key-1", "A001", "A002", decimal.NewFromInt(10))

	var internal *domain.InternalError
	if !errors.As(err, &internal) {
		t.Fatalf("expected InternalError, got %v", err)
	}
}
