package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// ConstraintFunc rejects a record about to be inserted into or updated in a table.
type ConstraintFunc func(table string, rec Record) error

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	tables     map[string][]Record
	constraint ConstraintFunc

	// Calls counts operations by kind ("select", "insert", "update").
	calls map[string]int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string][]Record),
		calls:  make(map[string]int),
	}
}

// Seed appends rows to table, creating it if needed. Rows are copied.
func (m *Memory) Seed(table string, rows ...Record) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = []Record{}
	}
	for _, r := range rows {
		m.tables[table] = append(m.tables[table], r.Clone())
	}
	return m
}

// SetConstraint installs a check run before every insert and update.
func (m *Memory) SetConstraint(fn ConstraintFunc) {
	m.mu.Lock()
	m.constraint = fn
	m.mu.Unlock()
}

// Rows returns a copy of every row in table.
func (m *Memory) Rows(table string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.tables[table]))
	for i, r := range m.tables[table] {
		out[i] = r.Clone()
	}
	return out
}

// Calls returns how many operations of kind have been served.
func (m *Memory) Calls(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[kind]
}

func (m *Memory) Select(ctx context.Context, table string, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["select"]++

	rows, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", table)
	}

	var out []Record
	for _, r := range rows {
		if matchesAll(r, q.Where) && notNull(r, q.NotNull) {
			out = append(out, r)
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return less(out[i][q.OrderBy], out[j][q.OrderBy])
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	result := make([]Record, len(out))
	for i, r := range out {
		result[i] = project(r, q.Columns)
	}
	return result, nil
}

func (m *Memory) Insert(ctx context.Context, table string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["insert"]++

	if m.constraint != nil {
		if err := m.constraint(table, rec); err != nil {
			return err
		}
	}
	m.tables[table] = append(m.tables[table], rec.Clone())
	return nil
}

func (m *Memory) Update(ctx context.Context, table string, fields Record, where Eq) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["update"]++

	if m.constraint != nil {
		if err := m.constraint(table, fields); err != nil {
			return 0, err
		}
	}

	var affected int64
	for _, r := range m.tables[table] {
		if !matches(r, where) {
			continue
		}
		for k, v := range fields {
			r[k] = v
		}
		affected++
	}
	if affected == 0 {
		return 0, ErrNoRowsAffected
	}
	return affected, nil
}

func matches(r Record, eq Eq) bool {
	v, ok := r[eq.Column]
	if !ok || v == nil {
		return eq.Value == nil
	}
	return String(v) == String(eq.Value)
}

func matchesAll(r Record, where []Eq) bool {
	for _, eq := range where {
		if !matches(r, eq) {
			return false
		}
	}
	return true
}

func project(r Record, columns []string) Record {
	if len(columns) == 0 {
		return r.Clone()
	}
	out := make(Record, len(columns))
	for _, c := range columns {
		if v, ok := r[c]; ok {
			out[c] = v
		}
	}
	return out
}

// less orders nil first, then numerically when both sides parse as numbers,
// then by string form.
func notNull(r Record, columns []string) bool {
	for _, c := range columns {
		if r[c] == nil {
			return false
		}
	}
	return true
}

func less(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b != nil
	}
	as, bs := String(a), String(b)
	af, aerr := strconv.ParseFloat(as, 64)
	bf, berr := strconv.ParseFloat(bs, 64)
	if aerr == nil && berr == nil {
		return af < bf
	}
	return as < bs
}
