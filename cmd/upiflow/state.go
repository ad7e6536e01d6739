package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/upistack/upiflow/internal/domain"
	"github.com/upistack/upiflow/internal/store/memstore"
)

// stateFile is the on-disk snapshot used by the memory backend so that
// consecutive CLI invocations see each other's writes.
type stateFile struct {
	Accounts []stateAccount    `json:"accounts"`
	Aliases  map[string]string `json:"aliases,omitempty"`
}

type stateAccount struct {
	ID         string    `json:"account_id"`
	HolderName string    `json:"holder_name"`
	Balance    string    `json:"balance"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

func loadState(ctx context.Context, path string, store accountAdmin) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse state file %s: %w", path, err)
	}

	for _, sa := range state.Accounts {
		balance, err := decimal.NewFromString(sa.Balance)
		if err != nil {
			return fmt.Errorf("account %s: bad balance %q: %w", sa.ID, sa.Balance, err)
		}

		account := &domain.Account{
			ID:         sa.ID,
			HolderName: sa.HolderName,
			Balance:    balance,
			CreatedAt:  sa.CreatedAt,
			UpdatedAt:  sa.UpdatedAt,
		}
		if err := store.CreateAccount(ctx, account); err != nil {
			return err
		}
	}

	for alias, accountID := range state.Aliases {
		if err := store.RegisterAlias(ctx, alias, accountID); err != nil {
			return fmt.Errorf("alias %s: %w", alias, err)
		}
	}

	return nil
}

func saveState(path string, store *memstore.Store) error {
	accounts := store.Accounts()
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	state := stateFile{
		Accounts: make([]stateAccount, 0, len(accounts)),
		Aliases:  store.Aliases(),
	}
	for _, account := range accounts {
		state.Accounts = append(state.Accounts, stateAccount{
			ID:         account.ID,
			HolderName: account.HolderName,
			Balance:    account.Balance.String(),
			CreatedAt:  account.CreatedAt,
			UpdatedAt:  account.UpdatedAt,
		})
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}
