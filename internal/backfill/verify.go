package backfill

import (
	"context"
	"fmt"

	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/store"
)

// VerifyResult counts the target rows of a job still missing their value.
type VerifyResult struct {
	Job     string
	Table   string
	Column  string
	Scanned int
	Empty   int
	// Samples holds the match column of up to limit empty rows.
	Samples []string
}

// Complete reports whether every target row has a value.
func (r *VerifyResult) Complete() bool {
	return r.Empty == 0
}

// Verifier checks the result of link and generate jobs.
type Verifier struct {
	st store.Store
}

// NewVerifier creates a verifier over st.
func NewVerifier(st store.Store) *Verifier {
	return &Verifier{st: st}
}

// Verify scans the target table of job name and counts rows whose target
// column is empty, keeping up to limit of their match values.
func (v *Verifier) Verify(ctx context.Context, name string, jc *config.JobConfig, limit int) (*VerifyResult, error) {
	if jc.Type != config.JobTypeLink && jc.Type != config.JobTypeGenerate {
		return nil, fmt.Errorf("job %s: verify supports link and generate jobs, not %q", name, jc.Type)
	}

	table, column, match := jc.TargetTable(), jc.Target.Column, jc.MatchColumn()
	rows, err := v.st.Select(ctx, table, store.Query{
		Columns: dedupe([]string{match, column}),
		OrderBy: match,
	})
	if err != nil {
		return nil, fmt.Errorf("job %s: failed to scan %s: %w", name, table, err)
	}

	result := &VerifyResult{Job: name, Table: table, Column: column, Scanned: len(rows)}
	for _, row := range rows {
		if _, ok := row.Get(column); ok {
			continue
		}
		result.Empty++
		if len(result.Samples) < limit {
			id, _ := row.Get(match)
			result.Samples = append(result.Samples, id)
		}
	}
	return result, nil
}
