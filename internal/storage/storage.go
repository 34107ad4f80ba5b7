// Package storage opens the configured machine store and read cache.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/machine-allocator/internal/infrastructure/config"
	"github.com/nerrad567/machine-allocator/internal/infrastructure/database"
	"github.com/nerrad567/machine-allocator/internal/machine"
	"github.com/nerrad567/machine-allocator/migrations"
)

// ErrUnknownBackend is returned for a store or cache backend name that
// config validation should have rejected.
var ErrUnknownBackend = errors.New("storage: unknown backend")

// Store is an open authoritative machine store.
type Store struct {
	machine.Repository

	backend string
	health  func(context.Context) error
	close   func() error
}

// Open opens the store selected by cfg.Backend. For SQLite the embedded
// migrations are applied unless skipMigrations is set.
func Open(ctx context.Context, cfg config.StoreConfig, skipMigrations bool) (*Store, error) {
	switch cfg.Backend {
	case config.StoreBackendSQLite:
		db, err := database.Open(ctx, database.Config{
			Path:        cfg.SQLite.Path,
			WALMode:     cfg.SQLite.WALMode,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		if !skipMigrations {
			if err := db.Migrate(ctx, migrations.FS); err != nil {
				db.Close() //nolint:errcheck // already failing
				return nil, fmt.Errorf("migrating sqlite store: %w", err)
			}
		}
		return &Store{
			Repository: machine.NewSQLiteRepository(db.DB),
			backend:    cfg.Backend,
			health:     db.HealthCheck,
			close:      db.Close,
		}, nil

	case config.StoreBackendBadger:
		repo, err := machine.OpenBadgerRepository(machine.BadgerOptions{
			Dir:      cfg.Badger.Dir,
			InMemory: cfg.Badger.InMemory,
		})
		if err != nil {
			return nil, fmt.Errorf("opening badger store: %w", err)
		}
		return &Store{
			Repository: repo,
			backend:    cfg.Backend,
			health:     repo.HealthCheck,
			close:      repo.Close,
		}, nil

	default:
		return nil, fmt.Errorf("%w: store %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Backend returns the configured backend name.
func (s *Store) Backend() string {
	return s.backend
}

// HealthCheck verifies the store is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.health(ctx)
}

// Close releases the store.
func (s *Store) Close() error {
	return s.close()
}

// OpenCache creates the read cache selected by cfg.Backend. The returned
// close function is never nil.
func OpenCache(cfg config.CacheConfig) (machine.Cache, func(), error) {
	switch cfg.Backend {
	case config.CacheBackendMemory:
		return machine.NewMemoryCache(), func() {}, nil
	case config.CacheBackendRistretto:
		c, err := machine.NewRistrettoCache(cfg.MaxEntries)
		if err != nil {
			return nil, nil, fmt.Errorf("creating ristretto cache: %w", err)
		}
		return c, c.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: cache %q", ErrUnknownBackend, cfg.Backend)
	}
}
