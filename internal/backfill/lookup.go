package backfill

import (
	"context"
	"fmt"

	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/reconcile"
	"github.com/dbsmedya/gobackfill/internal/store"
)

// ReferenceLookup builds the lookup for ref: a preloaded map when ref.Preload
// is set, otherwise one select per key, shared through reconcile.Cached when
// ref.Cache is set.
func ReferenceLookup(ctx context.Context, st store.Store, ref *config.ReferenceConfig) (reconcile.LookupFunc, error) {
	if ref.Preload {
		return PreloadLookup(ctx, st, ref)
	}
	lookup := SelectLookup(st, ref)
	if ref.Cache {
		lookup = reconcile.Cached(lookup)
	}
	return lookup, nil
}

// SelectLookup resolves each key with "select value from table where key = ?
// and value is not null order by order_by limit 1". Strict references fetch
// two rows and reject a key that matches both. Rows with a blank value never
// take part in the tie-break; a key with only blank values counts as not found.
func SelectLookup(st store.Store, ref *config.ReferenceConfig) reconcile.LookupFunc {
	limit := 1
	if ref.Strict() {
		limit = 2
	}
	q := store.Query{
		Columns: []string{ref.Value},
		NotNull: []string{ref.Value},
		OrderBy: ref.OrderColumn(),
		Limit:   limit,
	}

	return func(ctx context.Context, key string) (string, bool, error) {
		q := q
		q.Where = []store.Eq{{Column: ref.Key, Value: key}}
		rows, err := st.Select(ctx, ref.Table, q)
		if err != nil {
			return "", false, err
		}
		var values []string
		for _, row := range rows {
			if v, ok := row.Get(ref.Value); ok {
				values = append(values, v)
			}
		}
		switch len(values) {
		case 0:
			return "", false, nil
		case 1:
			return values[0], true, nil
		default:
			return "", false, ambiguous(ref, key)
		}
	}
}

// PreloadLookup reads the whole reference table once, ordered by the order
// column, and keeps the first row with a value for every key.
func PreloadLookup(ctx context.Context, st store.Store, ref *config.ReferenceConfig) (reconcile.LookupFunc, error) {
	columns := []string{ref.Key, ref.Value}
	if order := ref.OrderColumn(); order != ref.Key && order != ref.Value {
		columns = append(columns, order)
	}
	rows, err := st.Select(ctx, ref.Table, store.Query{
		Columns: columns,
		NotNull: []string{ref.Value},
		OrderBy: ref.OrderColumn(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to preload %s: %w", ref.Table, err)
	}

	values := make(map[string]string, len(rows))
	seen := make(map[string]bool, len(rows))
	duplicates := make(map[string]bool)
	for _, row := range rows {
		key, ok := row.Get(ref.Key)
		if !ok {
			continue
		}
		value, ok := row.Get(ref.Value)
		if !ok {
			continue
		}
		if seen[key] {
			duplicates[key] = true
			continue
		}
		seen[key] = true
		values[key] = value
	}

	lookup := reconcile.Preloaded(values)
	if !ref.Strict() || len(duplicates) == 0 {
		return lookup, nil
	}
	return func(ctx context.Context, key string) (string, bool, error) {
		if duplicates[key] {
			return "", false, ambiguous(ref, key)
		}
		return lookup(ctx, key)
	}, nil
}

func ambiguous(ref *config.ReferenceConfig, key string) error {
	return fmt.Errorf("%w: %s = %q matches more than one row of %s", reconcile.ErrAmbiguousReference, ref.Key, key, ref.Table)
}
