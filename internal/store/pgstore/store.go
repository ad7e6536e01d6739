// Package pgstore provides the PostgreSQL-backed AccountStore.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/upistack/upiflow/internal/domain"
	"github.com/upistack/upiflow/internal/infrastructure/metrics"
)

// Store implements engine.AccountStore on top of a pgx connection pool.
// Every load scans into a fresh Account value, so callers always receive an
// owned copy.
type Store struct {
	pool    *pgxpool.Pool
	retrier *Retrier
	metrics *metrics.Metrics
}

// New creates a Store. m may be nil to disable metrics.
func New(pool *pgxpool.Pool, logger zerolog.Logger, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		retrier: NewRetrier(logger),
		metrics: m,
	}
}

// observe counts the operation and, when err is a store fault rather than a
// domain miss, the failure.
func (s *Store) observe(op string, err error) {
	if s.metrics == nil {
		return
	}

	s.metrics.StoreOperations.WithLabelValues(op).Inc()

	var derr domain.Error
	if err != nil && !errors.As(err, &derr) {
		s.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}

// LoadByID returns the account or a domain.AccountNotFoundError.
func (s *Store) LoadByID(ctx context.Context, id string) (account *domain.Account, err error) {
	defer func() { s.observe("load", err) }()

	const query = `
		SELECT account_id, holder_name, balance, created_at, updated_at
		FROM accounts
		WHERE account_id = $1
	`

	account = &domain.Account{}
	var balance pgtype.Numeric
	err = s.pool.QueryRow(ctx, query, id).Scan(
		&account.ID,
		&account.HolderName,
		&balance,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewAccountNotFoundError(id)
		}
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}

	account.Balance, err = numericToDecimal(balance)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}

	return account, nil
}

const upsertAccountQuery = `
	INSERT INTO accounts (account_id, holder_name, balance, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (account_id) DO UPDATE
	SET holder_name = EXCLUDED.holder_name,
	    balance     = EXCLUDED.balance,
	    updated_at  = EXCLUDED.updated_at
`

// Save upserts the account by ID, retrying on transient serialization
// failures.
func (s *Store) Save(ctx context.Context, account *domain.Account) (err error) {
	defer func() { s.observe("save", err) }()

	balance, err := decimalToNumeric(account.Balance)
	if err != nil {
		return fmt.Errorf("save account %s: %w", account.ID, err)
	}

	return s.retrier.Retry(ctx, func() error {
		_, err := s.pool.Exec(ctx, upsertAccountQuery,
			account.ID,
			account.HolderName,
			balance,
			account.CreatedAt,
			account.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("save account %s: %w", account.ID, err)
		}
		return nil
	})
}

// SavePair upserts both sides of a transfer in a single transaction, so a
// fault between the two writes never leaves a half-persisted transfer.
func (s *Store) SavePair(ctx context.Context, from, to *domain.Account) (err error) {
	defer func() { s.observe("save_pair", err) }()

	return s.retrier.Retry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transfer save: %w", err)
		}
		defer tx.Rollback(ctx)

		for _, account := range []*domain.Account{from, to} {
			balance, err := decimalToNumeric(account.Balance)
			if err != nil {
				return fmt.Errorf("save account %s: %w", account.ID, err)
			}

			_, err = tx.Exec(ctx, upsertAccountQuery,
				account.ID,
				account.HolderName,
				balance,
				account.CreatedAt,
				account.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("save account %s: %w", account.ID, err)
			}
		}

		return tx.Commit(ctx)
	})
}

// Exists reports whether an account with the given ID exists.
func (s *Store) Exists(ctx context.Context, id string) (exists bool, err error) {
	defer func() { s.observe("exists", err) }()

	const query = `SELECT EXISTS (SELECT 1 FROM accounts WHERE account_id = $1)`

	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check account %s: %w", id, err)
	}

	return exists, nil
}

// ResolveAlias maps a payment address to an account ID. Aliases are stored
// lowercased, so the lookup is case-insensitive.
func (s *Store) ResolveAlias(ctx context.Context, alias string) (id string, err error) {
	defer func() { s.observe("resolve_alias", err) }()

	const query = `SELECT account_id FROM account_aliases WHERE alias = lower($1)`

	err = s.pool.QueryRow(ctx, query, alias).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.NewAliasNotFoundError(alias)
		}
		return "", fmt.Errorf("resolve alias %q: %w", alias, err)
	}

	return id, nil
}

// CreateAccount inserts a new account. Used by seeding.
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	return s.Save(ctx, account)
}

// RegisterAlias binds a payment address to an existing account.
func (s *Store) RegisterAlias(ctx context.Context, alias, accountID string) error {
	exists, err := s.Exists(ctx, accountID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.NewAccountNotFoundError(accountID)
	}

	const query = `
		INSERT INTO account_aliases (alias, account_id)
		VALUES (lower($1), $2)
		ON CONFLICT (alias) DO UPDATE SET account_id = EXCLUDED.account_id
	`

	if _, err := s.pool.Exec(ctx, query, alias, accountID); err != nil {
		return fmt.Errorf("register alias %q: %w", alias, err)
	}

	return nil
}

func decimalToNumeric(d decimal.Decimal) (pgtype.Numeric, error) {
	var n pgtype.Numeric

	if err := n.Scan(d.String()); err != nil {
		return n, fmt.Errorf("convert %s to numeric: %w", d, err)
	}

	return n, nil
}

func numericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, errors.New("numeric value is null")
	}

	d, err := decimal.NewFromString(n.Int.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("convert numeric %s to decimal: %w", n.Int, err)
	}

	if n.Exp != 0 {
		d = d.Shift(n.Exp)
	}

	return d, nil
}
