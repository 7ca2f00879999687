package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anaparv/anaparv-pep-project/internal/metrics"
	"github.com/anaparv/anaparv-pep-project/pkg/store"
)

const (
	StorageBackendPostgres = "postgres"
	StorageBackendMemory   = "memory"
)

// Config holds runtime configuration for the core application.
type Config struct {
	StorageBackend string
	DatabaseURL    string
	MaxOpenConns   int
	Store          store.Store
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Clock          func() time.Time
}

// App wires the account and message services to one store.
type App struct {
	store    store.Store
	metrics  *metrics.Metrics
	Accounts *AccountService
	Messages *MessageService
}

// New constructs the application, opening the configured store unless one is supplied.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		var err error
		dataStore, err = openStore(cfg)
		if err != nil {
			return nil, err
		}
	}

	opts := []Option{WithLogger(cfg.Logger), WithMetrics(cfg.Metrics)}
	if cfg.Clock != nil {
		opts = append(opts, WithClock(cfg.Clock))
	}
	accounts := NewAccountService(dataStore, opts...)
	return &App{
		store:    dataStore,
		metrics:  cfg.Metrics,
		Accounts: accounts,
		Messages: NewMessageService(dataStore, accounts, opts...),
	}, nil
}

func openStore(cfg Config) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case StorageBackendMemory:
		return store.NewMemoryStore(), nil
	case "", StorageBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		gormStore, err := store.NewGormStore(cfg.DatabaseURL, store.WithMaxOpenConns(cfg.MaxOpenConns))
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return gormStore, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// Metrics returns the registry the services record into, nil when none was configured.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Close releases the underlying store.
func (a *App) Close() error {
	return a.store.Close()
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the store backend when it supports it.
func (a *App) Ping(ctx context.Context) error {
	if p, ok := a.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
