// Package backfill turns configured jobs into reconciler runs: it opens the
// store, builds lookups and row sources for each job type, and runs jobs in
// dependency order under advisory locks.
package backfill

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/database"
	"github.com/dbsmedya/gobackfill/internal/logger"
	"github.com/dbsmedya/gobackfill/internal/sqlutil"
	"github.com/dbsmedya/gobackfill/internal/store"
	"github.com/dbsmedya/gobackfill/internal/store/postgrest"
	"github.com/dbsmedya/gobackfill/internal/store/sqlstore"
)

// Backend is an opened store. DB is set only for SQL backends.
type Backend struct {
	Name    string
	Store   store.Store
	DB      *sql.DB
	Dialect sqlutil.Dialect

	manager *database.Manager
}

// Open connects to the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg *config.StoreConfig, log *logger.Logger) (*Backend, error) {
	switch cfg.Backend {
	case config.BackendPostgREST:
		client, err := postgrest.New(cfg.PostgREST, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgrest client: %w", err)
		}
		return &Backend{Name: cfg.Backend, Store: client}, nil
	case config.BackendMySQL, config.BackendPostgres, config.BackendSQLite:
		mgr := database.NewManager(cfg)
		if err := mgr.Connect(ctx); err != nil {
			return nil, err
		}
		return NewSQLBackend(cfg.Backend, mgr), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// NewSQLBackend wraps a connected manager.
func NewSQLBackend(name string, mgr *database.Manager) *Backend {
	return &Backend{
		Name:    name,
		Store:   sqlstore.New(mgr.DB, mgr.Dialect()),
		DB:      mgr.DB,
		Dialect: mgr.Dialect(),
		manager: mgr,
	}
}

// NewStoreBackend wraps a store that has no SQL connection, such as the
// in-memory store.
func NewStoreBackend(name string, st store.Store) *Backend {
	return &Backend{Name: name, Store: st}
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	if b.manager != nil {
		return b.manager.Close()
	}
	if c, ok := b.Store.(store.Closer); ok {
		return c.Close()
	}
	return nil
}
