// Package memstore provides an in-memory AccountStore. It backs the CLI's
// default mode and test fixtures; the copy-on-load/save semantics match what
// the engine expects from any production store.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/upistack/upiflow/internal/domain"
)

// Store is a mutex-guarded, map-backed account store. Loads and saves copy
// the account so callers never share memory with the canonical records.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	aliases  map[string]string // lowercased alias -> account ID
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*domain.Account),
		aliases:  make(map[string]string),
	}
}

// LoadByID returns an owned copy of the account.
func (s *Store) LoadByID(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, domain.NewAccountNotFoundError(id)
	}

	return account.Clone(), nil
}

// Save upserts the account by ID.
func (s *Store) Save(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[account.ID] = account.Clone()

	return nil
}

// Exists reports whether an account with the given ID exists.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.accounts[id]

	return ok, nil
}

// ResolveAlias maps a payment address to an account ID, case-insensitively.
func (s *Store) ResolveAlias(ctx context.Context, alias string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.aliases[strings.ToLower(alias)]
	if !ok {
		return "", domain.NewAliasNotFoundError(alias)
	}

	return id, nil
}

// CreateAccount stores a new account. Seeding goes through here explicitly;
// there is no ambient fixture data.
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	return s.Save(ctx, account)
}

// RegisterAlias binds a payment address to an existing account.
func (s *Store) RegisterAlias(ctx context.Context, alias, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return domain.NewAccountNotFoundError(accountID)
	}

	s.aliases[strings.ToLower(alias)] = accountID

	return nil
}

// Accounts returns owned copies of every account in the store.
func (s *Store) Accounts() []*domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]*domain.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account.Clone())
	}

	return accounts
}

// Aliases returns a copy of the alias table (lowercased alias -> account ID).
func (s *Store) Aliases() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	aliases := make(map[string]string, len(s.aliases))
	for alias, id := range s.aliases {
		aliases[alias] = id
	}

	return aliases
}
