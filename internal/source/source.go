// Package source reads the rows a backfill job iterates over.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/dbsmedya/gobackfill/internal/store"
)

// DefaultDelimiter is the separator used by the legacy CSV exports.
const DefaultDelimiter = ';'

const bom = "\ufeff"

// Source yields every row of one job input.
type Source interface {
	Rows(ctx context.Context) ([]store.Record, error)
	Describe() string
}

// CSV reads a delimited file with a header row.
type CSV struct {
	Path      string
	Delimiter rune
}

// NewCSV creates a CSV source. An empty delimiter selects DefaultDelimiter.
func NewCSV(path, delimiter string) (*CSV, error) {
	d := DefaultDelimiter
	if delimiter != "" {
		r, size := utf8.DecodeRuneInString(delimiter)
		if size != len(delimiter) || r == utf8.RuneError {
			return nil, fmt.Errorf("delimiter %q must be a single character", delimiter)
		}
		d = r
	}
	return &CSV{Path: path, Delimiter: d}, nil
}

func (c *CSV) Describe() string { return "csv " + c.Path }

func (c *CSV) Rows(ctx context.Context) ([]store.Record, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(ctx, f, c.Delimiter)
}

// ReadCSV parses r. Header names and values are trimmed, a leading BOM is
// dropped, and empty values are left out of the row.
func ReadCSV(ctx context.Context, r io.Reader, delimiter rune) ([]store.Record, error) {
	cr := csv.NewReader(r)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, bom)
		}
		header[i] = strings.TrimSpace(h)
	}

	var rows []store.Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", len(rows)+2, err)
		}

		rec := make(store.Record, len(header))
		for i, v := range line {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if v = strings.TrimSpace(v); v != "" {
				rec[header[i]] = v
			}
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// Table scans a table through the store.
type Table struct {
	Store   store.Store
	Name    string
	Columns []string
	OrderBy string
}

func (t *Table) Describe() string { return "table " + t.Name }

func (t *Table) Rows(ctx context.Context) ([]store.Record, error) {
	rows, err := t.Store.Select(ctx, t.Name, store.Query{Columns: t.Columns, OrderBy: t.OrderBy})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.Name, err)
	}
	return rows, nil
}
