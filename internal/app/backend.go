// Package app assembles storage, use cases and transports into a running
// settlement service.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iho/gosettle/internal/adapter/http/handler"
	"github.com/iho/gosettle/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/gosettle/internal/adapter/repository/postgres"
	"github.com/iho/gosettle/internal/infrastructure/config"
	"github.com/iho/gosettle/internal/infrastructure/postgres"
	"github.com/iho/gosettle/internal/usecase"
)

// Backend is one storage implementation of every repository.
type Backend struct {
	Name        string
	TxManager   usecase.TransactionManager
	Retrier     usecase.Retrier
	Accounts    usecase.AccountRepository
	Ledger      usecase.LedgerRepository
	Requests    usecase.PaymentRequestRepository
	Idempotency usecase.IdempotencyRepository
	Outbox      usecase.OutboxRepository
	IDGen       usecase.IDGenerator
	Checks      map[string]handler.HealthCheck

	close func()
}

// Close releases the backend's connections.
func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// NewMemoryBackend returns a process-local backend for development and tests.
// It enforces the same row locks and unique keys as PostgreSQL but loses
// everything on exit.
func NewMemoryBackend() *Backend {
	store := memory.NewStore()
	return &Backend{
		Name:        config.StorageMemory,
		TxManager:   memory.NewTxManager(store),
		Accounts:    memory.NewAccountRepository(store),
		Ledger:      memory.NewLedgerRepository(store),
		Requests:    memory.NewPaymentRequestRepository(store),
		Idempotency: memory.NewIdempotencyRepository(store),
		Outbox:      memory.NewOutboxRepository(store),
		IDGen:       postgresRepo.NewULIDGenerator(),
		Checks:      map[string]handler.HealthCheck{},
	}
}

// NewPostgresBackend connects, migrates and returns the PostgreSQL backend.
func NewPostgresBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Backend, error) {
	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxConns:       cfg.DatabaseMaxConns,
		MinConns:       cfg.DatabaseMinConns,
		ConnectTimeout: cfg.DatabaseTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := postgres.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		pool.Close()
		return nil, err
	}

	return &Backend{
		Name:        config.StoragePostgres,
		TxManager:   postgresRepo.NewTxManager(pool),
		Retrier:     postgresRepo.NewRetrier(logger),
		Accounts:    postgresRepo.NewAccountRepository(pool),
		Ledger:      postgresRepo.NewLedgerRepository(pool),
		Requests:    postgresRepo.NewPaymentRequestRepository(pool),
		Idempotency: postgresRepo.NewIdempotencyRepository(pool),
		Outbox:      postgresRepo.NewOutboxRepository(pool),
		IDGen:       postgresRepo.NewULIDGenerator(),
		Checks: map[string]handler.HealthCheck{
			"postgres": pool.Ping,
		},
		close: pool.Close,
	}, nil
}

// NewBackend selects the backend named by cfg.StorageDriver.
func NewBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Backend, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Warn().Msg("using in-memory storage; all data is lost on exit")
		return NewMemoryBackend(), nil
	case config.StoragePostgres:
		return NewPostgresBackend(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
