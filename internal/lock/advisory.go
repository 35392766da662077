// Package lock provides advisory locks that keep two instances from running the
// same backfill job against one database.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dbsmedya/gobackfill/internal/sqlutil"
)

// ErrLockTimeout is returned when another instance holds the lock.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// ErrUnsupported is returned for dialects without advisory locks.
var ErrUnsupported = errors.New("advisory locks are not supported")

// DefaultTimeout is how long WithJobLock waits for a job lock, in seconds.
const DefaultTimeout = 1

// pollInterval spaces PostgreSQL try-lock attempts while waiting.
var pollInterval = 200 * time.Millisecond

// Supported reports whether the dialect has session-level advisory locks.
func Supported(d sqlutil.Dialect) bool {
	return d == sqlutil.MySQL || d == sqlutil.Postgres
}

// AdvisoryLock is a named session lock. MySQL uses GET_LOCK/RELEASE_LOCK and
// PostgreSQL pg_try_advisory_lock/pg_advisory_unlock on hashtext(name). The
// lock lives on a dedicated connection taken from the pool on acquire and
// returned on release, since both databases bind it to the session.
type AdvisoryLock struct {
	db       *sql.DB
	dialect  sqlutil.Dialect
	lockName string
	conn     *sql.Conn
	held     bool
}

// NewAdvisoryLock creates a lock. It is not acquired until AcquireLock.
func NewAdvisoryLock(db *sql.DB, dialect sqlutil.Dialect, lockName string) *AdvisoryLock {
	return &AdvisoryLock{db: db, dialect: dialect, lockName: lockName}
}

// AcquireLock waits up to timeoutSeconds for the lock. It returns false when
// another session holds it.
func (a *AdvisoryLock) AcquireLock(ctx context.Context, timeoutSeconds int) (bool, error) {
	if a.held {
		return true, nil
	}
	if !Supported(a.dialect) {
		return false, fmt.Errorf("%w for %s", ErrUnsupported, a.dialect)
	}

	if a.conn == nil {
		conn, err := a.db.Conn(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to reserve lock connection: %w", err)
		}
		a.conn = conn
	}

	var (
		acquired bool
		err      error
	)
	if a.dialect == sqlutil.MySQL {
		acquired, err = a.getLock(ctx, timeoutSeconds)
	} else {
		acquired, err = a.pgTryLock(ctx, timeoutSeconds)
	}
	if err != nil || !acquired {
		a.closeConn()
		return false, err
	}
	a.held = true
	return true, nil
}

// getLock runs GET_LOCK, which returns 1 on success, 0 on timeout and NULL on error.
func (a *AdvisoryLock) getLock(ctx context.Context, timeoutSeconds int) (bool, error) {
	var result sql.NullInt64
	if err := a.conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", a.lockName, timeoutSeconds).Scan(&result); err != nil {
		return false, fmt.Errorf("failed to execute GET_LOCK: %w", err)
	}
	if !result.Valid {
		return false, fmt.Errorf("GET_LOCK returned NULL for lock %q (possible database error)", a.lockName)
	}
	switch result.Int64 {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected GET_LOCK return value: %d", result.Int64)
	}
}

// pgTryLock polls pg_try_advisory_lock until it succeeds or the timeout passes.
func (a *AdvisoryLock) pgTryLock(ctx context.Context, timeoutSeconds int) (bool, error) {
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	for {
		var ok bool
		if err := a.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", a.lockName).Scan(&ok); err != nil {
			return false, fmt.Errorf("failed to execute pg_try_advisory_lock: %w", err)
		}
		if ok {
			return true, nil
		}
		if !time.Now().Add(pollInterval).Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// ReleaseLock releases the lock and returns its connection to the pool.
// It returns false when the lock was not held by this session.
func (a *AdvisoryLock) ReleaseLock(ctx context.Context) (bool, error) {
	if !a.held {
		return false, nil
	}
	defer a.closeConn()
	a.held = false

	if a.dialect == sqlutil.MySQL {
		var result sql.NullInt64
		if err := a.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", a.lockName).Scan(&result); err != nil {
			return false, fmt.Errorf("failed to execute RELEASE_LOCK: %w", err)
		}
		if !result.Valid {
			return false, fmt.Errorf("RELEASE_LOCK returned NULL for lock %q (lock did not exist)", a.lockName)
		}
		return result.Int64 == 1, nil
	}

	var ok bool
	if err := a.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", a.lockName).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to execute pg_advisory_unlock: %w", err)
	}
	return ok, nil
}

func (a *AdvisoryLock) closeConn() {
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
}

// GenerateJobLockName returns "gobackfill:{jobName}" with unsafe characters
// replaced by underscores.
func GenerateJobLockName(jobName string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, jobName)
	return "gobackfill:" + sanitized
}

// NewJobLock creates the lock guarding one job.
func NewJobLock(db *sql.DB, dialect sqlutil.Dialect, jobName string) *AdvisoryLock {
	return NewAdvisoryLock(db, dialect, GenerateJobLockName(jobName))
}

// WithLock runs fn while holding the lock and releases it afterwards, even on panic.
func (a *AdvisoryLock) WithLock(ctx context.Context, timeoutSeconds int, fn func() error) (err error) {
	acquired, err := a.AcquireLock(ctx, timeoutSeconds)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%w: lock %q is held by another instance", ErrLockTimeout, a.lockName)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, releaseErr := a.ReleaseLock(releaseCtx); releaseErr != nil && err == nil {
			err = fmt.Errorf("failed to release lock: %w", releaseErr)
		}
	}()

	return fn()
}

// WithJobLock runs fn while holding the job's lock.
func WithJobLock(ctx context.Context, db *sql.DB, dialect sqlutil.Dialect, jobName string, fn func() error) error {
	return NewJobLock(db, dialect, jobName).WithLock(ctx, DefaultTimeout, fn)
}
