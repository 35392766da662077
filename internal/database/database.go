// Package database provides SQL connection management for the database/sql store backends.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver, registered as "pgx"
	_ "modernc.org/sqlite"             // SQLite driver, registered as "sqlite"

	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/sqlutil"
)

// OpenFunc opens a database handle. sql.Open by default.
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

// Manager owns the connection pool of a SQL store backend.
type Manager struct {
	DB *sql.DB

	backend    string
	cfg        config.DatabaseConfig
	open       OpenFunc
	maxRetries int
	backoff    time.Duration
}

// NewManager creates a manager for a mysql, postgres or sqlite store.
func NewManager(cfg *config.StoreConfig) *Manager {
	return &Manager{
		backend:    cfg.Backend,
		cfg:        cfg.Database,
		open:       sql.Open,
		maxRetries: 3,
		backoff:    time.Second,
	}
}

// WithOpener replaces the function used to open connections.
func (m *Manager) WithOpener(open OpenFunc) *Manager {
	m.open = open
	return m
}

// Dialect returns the SQL dialect of the configured backend.
func (m *Manager) Dialect() sqlutil.Dialect {
	switch m.backend {
	case config.BackendPostgres:
		return sqlutil.Postgres
	case config.BackendSQLite:
		return sqlutil.SQLite
	default:
		return sqlutil.MySQL
	}
}

// DriverName returns the database/sql driver registered for the backend.
func DriverName(backend string) (string, error) {
	switch backend {
	case config.BackendMySQL:
		return "mysql", nil
	case config.BackendPostgres:
		return "pgx", nil
	case config.BackendSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("backend %q is not a SQL backend", backend)
	}
}

// Connect establishes the connection pool.
func (m *Manager) Connect(ctx context.Context) error {
	db, err := m.connectWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to %s database: %w", m.backend, err)
	}
	m.DB = db
	return nil
}

// connectWithRetry attempts to connect with exponential backoff.
func (m *Manager) connectWithRetry(ctx context.Context) (*sql.DB, error) {
	var err error
	backoff := m.backoff

	for i := 0; i < m.maxRetries; i++ {
		var db *sql.DB
		db, err = m.connect()
		if err == nil {
			pingErr := db.PingContext(ctx)
			if pingErr == nil {
				return db, nil
			}
			db.Close()
			err = pingErr
		}

		if i < m.maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", m.maxRetries, err)
}

func (m *Manager) connect() (*sql.DB, error) {
	driver, err := DriverName(m.backend)
	if err != nil {
		return nil, err
	}
	dsn, err := BuildDSN(m.backend, &m.cfg)
	if err != nil {
		return nil, err
	}

	db, err := m.open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if m.backend == config.BackendSQLite {
		// modernc sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		if m.cfg.MaxConnections > 0 {
			db.SetMaxOpenConns(m.cfg.MaxConnections)
		}
		if m.cfg.MaxIdleConnections > 0 {
			db.SetMaxIdleConns(m.cfg.MaxIdleConnections)
		}
	}
	db.SetConnMaxLifetime(10 * time.Minute)

	return db, nil
}

// BuildDSN constructs the driver DSN for a backend. An explicit DSN wins.
func BuildDSN(backend string, cfg *config.DatabaseConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	switch backend {
	case config.BackendMySQL:
		return buildMySQLDSN(cfg), nil
	case config.BackendPostgres:
		return buildPostgresDSN(cfg), nil
	case config.BackendSQLite:
		if cfg.Database == "" {
			return "", fmt.Errorf("sqlite database path is required")
		}
		return cfg.Database, nil
	default:
		return "", fmt.Errorf("backend %q is not a SQL backend", backend)
	}
}

// buildMySQLDSN formats user:password@tcp(host:port)/database?params.
func buildMySQLDSN(cfg *config.DatabaseConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", cfg.User, cfg.Password, cfg.Host, port, cfg.Database)

	params := "?parseTime=true&clientFoundRows=true"
	switch cfg.TLS {
	case "disable":
		params += "&tls=false"
	case "required":
		params += "&tls=true"
	case "preferred", "":
		params += "&tls=preferred"
	}
	return dsn + params
}

// buildPostgresDSN formats a postgres:// URL understood by pgx.
func buildPostgresDSN(cfg *config.DatabaseConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   cfg.Host + ":" + strconv.Itoa(port),
		Path:   "/" + cfg.Database,
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else if cfg.User != "" {
		u.User = url.User(cfg.User)
	}

	q := url.Values{}
	switch cfg.TLS {
	case "disable":
		q.Set("sslmode", "disable")
	case "required":
		q.Set("sslmode", "require")
	default:
		q.Set("sslmode", "prefer")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Close closes the connection pool.
func (m *Manager) Close() error {
	if m.DB == nil {
		return nil
	}
	if err := m.DB.Close(); err != nil {
		return fmt.Errorf("%s close: %w", m.backend, err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (m *Manager) Ping(ctx context.Context) error {
	if m.DB == nil {
		return fmt.Errorf("%s database is not connected", m.backend)
	}
	if err := m.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", m.backend, err)
	}
	return nil
}
