package engine

import (
	"context"
	"time"

	"github.com/upistack/upiflow/internal/domain"
)

// AccountStore is the engine's only outward dependency. Implementations must
// return an owned, independent Account per LoadByID call and must make a Save
// visible to a subsequent LoadByID within the same logical session.
type AccountStore interface {
	// LoadByID returns the account or a domain.AccountNotFoundError.
	LoadByID(ctx context.Context, id string) (*domain.Account, error)
	// Save upserts the account by ID.
	Save(ctx context.Context, account *domain.Account) error
	// Exists reports whether an account with the given ID exists.
	Exists(ctx context.Context, id string) (bool, error)
	// ResolveAlias maps a payment address to an account ID, case-insensitively.
	// A miss is a domain.AccountNotFoundError with the alias flag set.
	ResolveAlias(ctx context.Context, alias string) (string, error)
}

// PairSaver is an optional AccountStore extension. Stores that can persist
// both sides of a transfer atomically implement it; the engine prefers it
// over two sequential Save calls.
type PairSaver interface {
	SavePair(ctx context.Context, from, to *domain.Account) error
}

// IDGenerator generates unique transfer IDs.
type IDGenerator interface {
	Generate() string
}

// IdempotencyStore handles idempotency record storage for transfers.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, locking it with a
	// placeholder if not. Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update replaces the record under key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Delete removes the record so the key becomes usable again.
	Delete(ctx context.Context, key string) error
}
