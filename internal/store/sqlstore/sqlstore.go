// Package sqlstore implements store.Store over database/sql for MySQL,
// PostgreSQL and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dbsmedya/gobackfill/internal/sqlutil"
	"github.com/dbsmedya/gobackfill/internal/store"
)

// Store runs parameterised statements built for one dialect.
type Store struct {
	db      *sql.DB
	dialect sqlutil.Dialect
}

var _ store.Store = (*Store)(nil)

// New wraps an open connection pool.
func New(db *sql.DB, dialect sqlutil.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the dialect statements are built for.
func (s *Store) Dialect() sqlutil.Dialect {
	return s.dialect
}

func (s *Store) Select(ctx context.Context, table string, q store.Query) ([]store.Record, error) {
	query, args, err := s.buildSelect(table, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read %s columns: %w", table, err)
	}

	var out []store.Record
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		rec := make(store.Record, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
				continue
			}
			rec[col] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, err)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, table string, rec store.Record) error {
	if len(rec) == 0 {
		return fmt.Errorf("insert into %s: no fields", table)
	}
	qTable, err := s.dialect.QuoteIdentifierSafe(table)
	if err != nil {
		return err
	}

	columns := sortedKeys(rec)
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		if quoted[i], err = s.dialect.QuoteIdentifierSafe(col); err != nil {
			return err
		}
		marks[i] = s.dialect.Placeholder(i + 1)
		args[i] = rec[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qTable, strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, table string, fields store.Record, where store.Eq) (int64, error) {
	if len(fields) == 0 {
		return 0, fmt.Errorf("update %s: no fields", table)
	}
	qTable, err := s.dialect.QuoteIdentifierSafe(table)
	if err != nil {
		return 0, err
	}
	qWhere, err := s.dialect.QuoteIdentifierSafe(where.Column)
	if err != nil {
		return 0, err
	}

	columns := sortedKeys(fields)
	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns)+1)
	for i, col := range columns {
		qCol, err := s.dialect.QuoteIdentifierSafe(col)
		if err != nil {
			return 0, err
		}
		sets[i] = qCol + " = " + s.dialect.Placeholder(i+1)
		args = append(args, fields[col])
	}
	args = append(args, where.Value)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		qTable, strings.Join(sets, ", "), qWhere, s.dialect.Placeholder(len(columns)+1))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update %s rows affected: %w", table, err)
	}
	if affected == 0 {
		return 0, store.ErrNoRowsAffected
	}
	return affected, nil
}

func (s *Store) buildSelect(table string, q store.Query) (string, []any, error) {
	qTable, err := s.dialect.QuoteIdentifierSafe(table)
	if err != nil {
		return "", nil, err
	}

	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			if quoted[i], err = s.dialect.QuoteIdentifierSafe(c); err != nil {
				return "", nil, err
			}
		}
		cols = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, qTable)

	args := make([]any, 0, len(q.Where))
	for i, eq := range q.Where {
		qCol, err := s.dialect.QuoteIdentifierSafe(eq.Column)
		if err != nil {
			return "", nil, err
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(qCol + " = " + s.dialect.Placeholder(i+1))
		args = append(args, eq.Value)
	}
	for i, col := range q.NotNull {
		qCol, err := s.dialect.QuoteIdentifierSafe(col)
		if err != nil {
			return "", nil, err
		}
		if i == 0 && len(q.Where) == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(qCol + " IS NOT NULL")
	}

	if q.OrderBy != "" {
		qOrder, err := s.dialect.QuoteIdentifierSafe(q.OrderBy)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" ORDER BY " + qOrder + " ASC")
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return b.String(), args, nil
}

func sortedKeys(rec store.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
