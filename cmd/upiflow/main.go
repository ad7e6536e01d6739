package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/upistack/upiflow/internal/domain"
	"github.com/upistack/upiflow/internal/engine"
	"github.com/upistack/upiflow/internal/infrastructure/config"
	"github.com/upistack/upiflow/internal/infrastructure/logger"
	"github.com/upistack/upiflow/internal/infrastructure/metrics"
	"github.com/upistack/upiflow/internal/infrastructure/postgres"
	infraredis "github.com/upistack/upiflow/internal/infrastructure/redis"
	"github.com/upistack/upiflow/internal/store/memstore"
	"github.com/upistack/upiflow/internal/store/pgstore"
	"github.com/upistack/upiflow/internal/store/rediscache"
)

// accountAdmin extends the engine's store contract with the management
// operations the CLI needs. Both backends satisfy it.
type accountAdmin interface {
	engine.AccountStore
	CreateAccount(ctx context.Context, account *domain.Account) error
	RegisterAlias(ctx context.Context, alias, accountID string) error
}

// app holds everything a command needs after setup.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	admin accountAdmin
	eng   *engine.Engine
	idem  *engine.IdempotentEngine
	mem   *memstore.Store // non-nil for the memory backend

	cleanup []func()
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

// persist flushes memory-backend state back to the seed file after a write.
func (a *app) persist() error {
	if a.mem == nil || a.cfg.SeedFile == "" {
		return nil
	}

	return saveState(a.cfg.SeedFile, a.mem)
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	m := metrics.New(prometheus.NewRegistry())

	a := &app{cfg: cfg, log: log}

	var store engine.AccountStore

	switch cfg.StoreBackend {
	case "memory":
		mem := memstore.New()
		if cfg.SeedFile != "" {
			// First invocation has no state file yet; that is not an error.
			if err := loadState(ctx, cfg.SeedFile, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
		a.mem = mem
		a.admin = mem
		store = mem

	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.cleanup = append(a.cleanup, pool.Close)

		if err := postgres.RunMigrations(log, cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			a.close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}

		pg := pgstore.New(pool, log, m)
		a.admin = pg
		store = pg

	default:
		return nil, fmt.Errorf("unknown store backend %q (want memory or postgres)", cfg.StoreBackend)
	}

	idGen := engine.NewULIDGenerator()

	if cfg.RedisURL != "" {
		client, err := infraredis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.cleanup = append(a.cleanup, func() { _ = client.Close() })

		store = rediscache.NewAliasCache(store, client, cfg.AliasCacheTTL, m)
		a.eng = engine.New(store, idGen, log, m)
		a.idem = engine.NewIdempotent(a.eng, rediscache.NewIdempotencyStore(client), cfg.IdempotencyTTL)
	} else {
		a.eng = engine.New(store, idGen, log, m)
	}

	return a, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))

	return nil
}

// exitError prints a transfer failure the way operators expect: the stable
// error code when the failure came from the domain, the bare message otherwise.
func exitError(err error) error {
	var domainErr domain.Error
	if errors.As(err, &domainErr) {
		return fmt.Errorf("%s: %s", domainErr.Code(), domainErr.Error())
	}

	return err
}

func main() {
	ctx := context.Background()

	rootCmd := &cobra.Command{
		Use:           "upiflow",
		Short:         "UPI fund transfer engine",
		Long:          "Command line interface for the upiflow transfer engine: manage accounts and payment addresses, and move money between accounts.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(accountCmd(ctx))
	rootCmd.AddCommand(aliasCmd(ctx))
	rootCmd.AddCommand(balanceCmd(ctx))
	rootCmd.AddCommand(transferCmd(ctx))
	rootCmd.AddCommand(seedCmd(ctx))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func accountCmd(ctx context.Context) *cobra.Command {
	var (
		holder  string
		balance string
	)

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Account operations",
	}

	createCmd := &cobra.Command{
		Use:   "create <account-id>",
		Short: "Create an account with an opening balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opening, err := decimal.NewFromString(balance)
			if err != nil {
				return fmt.Errorf("bad opening balance %q: %w", balance, err)
			}
			if opening.IsNegative() {
				return fmt.Errorf("opening balance must not be negative")
			}

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			account := domain.NewAccount(args[0], holder, opening)
			if err := a.admin.CreateAccount(ctx, account); err != nil {
				return exitError(err)
			}
			if err := a.persist(); err != nil {
				return err
			}

			a.log.Info().Str("account_id", account.ID).Msg("account created")

			return printJSON(account)
		},
	}
	createCmd.Flags().StringVar(&holder, "holder", "", "Account holder name")
	createCmd.Flags().StringVar(&balance, "balance", "0", "Opening balance")

	cmd.AddCommand(createCmd)

	return cmd
}

func aliasCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Payment address operations",
	}

	registerCmd := &cobra.Command{
		Use:   "register <alias> <account-id>",
		Short: "Bind a payment address to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.admin.RegisterAlias(ctx, args[0], args[1]); err != nil {
				return exitError(err)
			}
			if err := a.persist(); err != nil {
				return err
			}

			fmt.Printf("registered %s -> %s\n", args[0], args[1])

			return nil
		},
	}

	cmd.AddCommand(registerCmd)

	return cmd
}

func balanceCmd(ctx context.Context) *cobra.Command {
	var byAlias bool

	cmd := &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show an account balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			id := args[0]
			if byAlias {
				id, err = a.admin.ResolveAlias(ctx, args[0])
				if err != nil {
					return exitError(err)
				}
			}

			account, err := a.admin.LoadByID(ctx, id)
			if err != nil {
				return exitError(err)
			}

			return printJSON(account)
		},
	}
	cmd.Flags().BoolVar(&byAlias, "by-alias", false, "Treat the argument as a payment address")

	return cmd
}

func transferCmd(ctx context.Context) *cobra.Command {
	var (
		byAlias        bool
		idempotencyKey string
	)

	cmd := &cobra.Command{
		Use:   "transfer <from> <to> <amount>",
		Short: "Transfer money between two accounts",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("bad amount %q: %w", args[2], err)
			}

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			var result *domain.TransferResult

			switch {
			case byAlias:
				result, err = a.eng.TransferByAlias(ctx, args[0], args[1], amount)

			case a.idem != nil:
				key := idempotencyKey
				if key == "" {
					key = uuid.New().String()
				}
				var replayed bool
				result, replayed, err = a.idem.Transfer(ctx, key, args[0], args[1], amount)
				if replayed {
					a.log.Info().Str("idempotency_key", key).Msg("returning recorded result")
				}

			default:
				result, err = a.eng.Transfer(ctx, args[0], args[1], amount)
			}

			if err != nil {
				return exitError(err)
			}
			if err := a.persist(); err != nil {
				return err
			}

			return printJSON(result)
		},
	}
	cmd.Flags().BoolVar(&byAlias, "by-alias", false, "Resolve both endpoints as payment addresses")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key (requires redis; generated when empty)")

	return cmd
}

func seedCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load accounts and payment addresses from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := loadState(ctx, args[0], a.admin); err != nil {
				return err
			}
			if err := a.persist(); err != nil {
				return err
			}

			a.log.Info().Str("file", args[0]).Msg("seed data loaded")

			return nil
		},
	}
}
