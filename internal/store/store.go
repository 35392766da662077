// Package store defines the minimal table API the backfill jobs need and the
// value helpers shared by its backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNoRowsAffected is returned by Update when the filter matched nothing.
var ErrNoRowsAffected = errors.New("no rows affected")

// Record is one table row keyed by column name.
type Record map[string]any

// Eq is an equality filter on one column.
type Eq struct {
	Column string
	Value  any
}

// Query describes a select. Zero Limit means no limit. OrderBy sorts ascending.
// NotNull drops rows where any of the listed columns is NULL.
type Query struct {
	Columns []string
	Where   []Eq
	NotNull []string
	OrderBy string
	Limit   int
}

// Store is the table API implemented by every backend.
type Store interface {
	Select(ctx context.Context, table string, q Query) ([]Record, error)
	Insert(ctx context.Context, table string, rec Record) error
	Update(ctx context.Context, table string, fields Record, where Eq) (int64, error)
}

// Closer is implemented by stores holding connections.
type Closer interface {
	Close() error
}

// IsEmpty reports whether v counts as an unset value: nil, blank strings and
// empty byte slices.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return len(strings.TrimSpace(string(t))) == 0
	case *string:
		return t == nil || strings.TrimSpace(*t) == ""
	default:
		return false
	}
}

// String renders v as the string a legacy key or canonical id is compared by.
// Floats without a fractional part are printed as integers so that JSON numbers
// round-trip to the same key a CSV export would carry.
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Get returns the string form of rec[field] and whether it is non-empty.
func (r Record) Get(field string) (string, bool) {
	v, ok := r[field]
	if !ok || IsEmpty(v) {
		return "", false
	}
	return String(v), true
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
