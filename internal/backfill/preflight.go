package backfill

import (
	"context"
	"fmt"
	"os"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/store"
)

// ProbeResult is the outcome of probing one table or file a job touches.
type ProbeResult struct {
	Job     string
	Table   string
	File    string
	Columns []string
	Err     error
}

// OK reports whether the probe succeeded.
func (p ProbeResult) OK() bool {
	return p.Err == nil
}

func (p ProbeResult) String() string {
	target := p.Table
	if p.File != "" {
		target = "csv " + p.File
	}
	if p.Err != nil {
		return fmt.Sprintf("%s: %s: %v", p.Job, target, p.Err)
	}
	return fmt.Sprintf("%s: %s ok", p.Job, target)
}

// PreflightChecker probes every table and column a job reads or writes by
// selecting at most one row with all of them.
type PreflightChecker struct {
	st store.Store
}

// NewPreflightChecker creates a checker over st.
func NewPreflightChecker(st store.Store) *PreflightChecker {
	return &PreflightChecker{st: st}
}

// CheckJob probes the source, references and target of one job.
func (p *PreflightChecker) CheckJob(ctx context.Context, name string, jc *config.JobConfig) []ProbeResult {
	var results []ProbeResult

	if jc.Source.CSV != "" {
		r := ProbeResult{Job: name, File: jc.Source.CSV}
		if _, err := os.Stat(jc.Source.CSV); err != nil {
			r.Err = err
		}
		results = append(results, r)
	}

	for el := TableColumns(jc).Front(); el != nil; el = el.Next() {
		r := ProbeResult{Job: name, Table: el.Key, Columns: el.Value}
		if _, err := p.st.Select(ctx, el.Key, store.Query{Columns: el.Value, Limit: 1}); err != nil {
			r.Err = err
		}
		results = append(results, r)
	}
	return results
}

// CheckAll probes every job of cfg in name order.
func (p *PreflightChecker) CheckAll(ctx context.Context, cfg *config.Config) []ProbeResult {
	var results []ProbeResult
	for _, name := range cfg.ListJobs() {
		job := cfg.Jobs[name]
		results = append(results, p.CheckJob(ctx, name, &job)...)
	}
	return results
}

// TableColumns returns the columns a job touches, grouped by table in the
// order the job first uses them.
func TableColumns(jc *config.JobConfig) *orderedmap.OrderedMap[string, []string] {
	tables := orderedmap.NewOrderedMap[string, []string]()
	add := func(table string, cols ...string) {
		if table == "" {
			return
		}
		existing, _ := tables.Get(table)
		tables.Set(table, dedupe(append(existing, cols...)))
	}

	if jc.Source.CSV == "" {
		add(jc.Source.Table, SourceColumns(jc)...)
	}
	for _, ref := range []*config.ReferenceConfig{jc.RecordReference, jc.Reference} {
		if ref != nil {
			add(ref.Table, ref.Key, ref.Value, ref.OrderColumn())
		}
	}

	switch jc.Type {
	case config.JobTypeImport:
		cols := []string{jc.MatchColumn()}
		for _, f := range jc.Fields {
			cols = append(cols, f.Column)
		}
		add(jc.Target.Table, cols...)
	default:
		add(jc.TargetTable(), jc.MatchColumn(), jc.Target.Column)
	}
	return tables
}
