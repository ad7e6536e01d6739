package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/upistack/upiflow/internal/domain"
)

// MockAccountStore is a map-backed mock implementation of engine.AccountStore.
// Every method can be overridden through its Func field; the default behavior
// clones on load and save, matching the store contract.
type MockAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	aliases  map[string]string

	LoadByIDFunc     func(ctx context.Context, id string) (*domain.Account, error)
	SaveFunc         func(ctx context.Context, account *domain.Account) error
	ExistsFunc       func(ctx context.Context, id string) (bool, error)
	ResolveAliasFunc func(ctx context.Context, alias string) (string, error)

	LoadCalls int
	SaveCalls int
}

func NewMockAccountStore() *MockAccountStore {
	return &MockAccountStore{
		accounts: make(map[string]*domain.Account),
		aliases:  make(map[string]string),
	}
}

// Put seeds an account directly into the backing map.
func (m *MockAccountStore) Put(account *domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account.Clone()
}

// PutAlias registers an alias for an account ID.
func (m *MockAccountStore) PutAlias(alias, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[strings.ToLower(alias)] = id
}

// Balance returns the persisted balance for assertions.
func (m *MockAccountStore) Balance(id string) *domain.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if acc, ok := m.accounts[id]; ok {
		return acc.Clone()
	}
	return nil
}

func (m *MockAccountStore) LoadByID(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	m.LoadCalls++
	m.mu.Unlock()

	if m.LoadByIDFunc != nil {
		return m.LoadByIDFunc(ctx, id)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if acc, ok := m.accounts[id]; ok {
		return acc.Clone(), nil
	}
	return nil, domain.NewAccountNotFoundError(id)
}

func (m *MockAccountStore) Save(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	m.SaveCalls++
	m.mu.Unlock()

	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, account)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account.Clone()
	return nil
}

func (m *MockAccountStore) Exists(ctx context.Context, id string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, id)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[id]
	return ok, nil
}

func (m *MockAccountStore) ResolveAlias(ctx context.Context, alias string) (string, error) {
	if m.ResolveAliasFunc != nil {
		return m.ResolveAliasFunc(ctx, alias)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.aliases[strings.ToLower(alias)]; ok {
		return id, nil
	}
	return "", domain.NewAliasNotFoundError(alias)
}

// StoreTouched reports whether any load or save reached the store.
func (m *MockAccountStore) StoreTouched() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LoadCalls > 0 || m.SaveCalls > 0
}

// MockIDGenerator is a deterministic mock implementation of engine.IDGenerator.
type MockIDGenerator struct {
	mu      sync.Mutex
	counter int

	GenerateFunc func() string
}

func NewMockIDGenerator() *MockIDGenerator {
	return &MockIDGenerator{}
}

func (m *MockIDGenerator) Generate() string {
	if m.GenerateFunc != nil {
		return m.GenerateFunc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return fmt.Sprintf("transfer-%03d", m.counter)
}
