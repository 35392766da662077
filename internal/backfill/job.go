package backfill

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/reconcile"
	"github.com/dbsmedya/gobackfill/internal/source"
	"github.com/dbsmedya/gobackfill/internal/store"
)

// Job is a configured job ready to run: its row source plus either a
// reconciler job (link, generate, join) or an importer (import).
type Job struct {
	Name   string
	Config config.JobConfig
	Source source.Source

	recon *reconcile.Job
	imp   *importer
}

// Build constructs the job name from its configuration. Preloaded references
// are read here, so Build talks to the store.
func Build(ctx context.Context, st store.Store, name string, jc config.JobConfig) (*Job, error) {
	src, err := NewSource(st, &jc)
	if err != nil {
		return nil, &reconcile.SetupError{Job: name, Op: "open source", Err: err}
	}
	j := &Job{Name: name, Config: jc, Source: src}

	switch jc.Type {
	case config.JobTypeLink:
		j.recon, err = buildLink(ctx, st, name, &jc)
	case config.JobTypeGenerate:
		j.recon = buildGenerate(st, name, &jc)
	case config.JobTypeJoin:
		j.recon, err = buildJoin(ctx, st, name, &jc)
	case config.JobTypeImport:
		j.imp = newImporter(st, name, &jc)
	default:
		err = fmt.Errorf("unknown job type %q", jc.Type)
	}
	if err != nil {
		return nil, &reconcile.SetupError{Job: name, Op: "build job", Err: err}
	}
	return j, nil
}

// Run reads the job's rows and processes them.
func (j *Job) Run(ctx context.Context, opts reconcile.Options) (*reconcile.Report, error) {
	rows, err := j.Source.Rows(ctx)
	if err != nil {
		return nil, &reconcile.SetupError{Job: j.Name, Op: "read " + j.Source.Describe(), Err: err}
	}
	if j.imp != nil {
		return j.imp.run(ctx, rows, opts)
	}
	return reconcile.New(opts).Run(ctx, j.recon, rows)
}

// NewSource returns the CSV or table source of a job. Table scans select only
// the columns the job reads, ordered by the record field.
func NewSource(st store.Store, jc *config.JobConfig) (source.Source, error) {
	if jc.Source.CSV != "" {
		return source.NewCSV(jc.Source.CSV, jc.Source.Delimiter)
	}
	if jc.Source.Table == "" {
		return nil, fmt.Errorf("source.table or source.csv is required")
	}
	return &source.Table{
		Store:   st,
		Name:    jc.Source.Table,
		Columns: SourceColumns(jc),
		OrderBy: jc.RecordField(),
	}, nil
}

// SourceColumns lists the columns a table source reads.
func SourceColumns(jc *config.JobConfig) []string {
	cols := []string{jc.RecordField(), jc.Key}
	if targetInRow(jc) {
		cols = append(cols, jc.Target.Column)
	}
	cols = append(cols, jc.Source.Columns...)
	return dedupe(cols)
}

// targetInRow reports whether the current target value is read straight from
// the scanned row, which holds when the job updates the table it scans by the
// record field.
func targetInRow(jc *config.JobConfig) bool {
	return jc.Source.CSV == "" &&
		jc.Target.Column != "" &&
		jc.TargetTable() == jc.Source.Table &&
		jc.MatchColumn() == jc.RecordField()
}

func buildLink(ctx context.Context, st store.Store, name string, jc *config.JobConfig) (*reconcile.Job, error) {
	if jc.Reference == nil {
		return nil, fmt.Errorf("reference is required")
	}
	lookup, err := ReferenceLookup(ctx, st, jc.Reference)
	if err != nil {
		return nil, err
	}

	job := &reconcile.Job{
		Name:        name,
		KeyField:    jc.Key,
		Split:       jc.Split,
		RecordField: jc.RecordField(),
		Lookup:      lookup,
		Overwrite:   jc.Overwrite,
		WriteBack:   updateTarget(st, jc),
	}
	if targetInRow(jc) {
		job.TargetField = jc.Target.Column
	} else {
		job.Current = selectTarget(st, jc)
	}
	return job, nil
}

func buildGenerate(st store.Store, name string, jc *config.JobConfig) *reconcile.Job {
	job := &reconcile.Job{
		Name:        name,
		KeyField:    jc.Key,
		RecordField: jc.RecordField(),
		Lookup: func(context.Context, string) (string, bool, error) {
			return uuid.NewString(), true, nil
		},
		Overwrite: jc.Overwrite,
		WriteBack: updateTarget(st, jc),
	}
	if targetInRow(jc) {
		job.TargetField = jc.Target.Column
	} else {
		job.Current = selectTarget(st, jc)
	}
	return job
}

// buildJoin resolves the record through record_reference and each member of
// the key list through reference, inserting one join row per member. A join
// row that already exists counts as already set.
func buildJoin(ctx context.Context, st store.Store, name string, jc *config.JobConfig) (*reconcile.Job, error) {
	if jc.Reference == nil || jc.RecordReference == nil {
		return nil, fmt.Errorf("reference and record_reference are required")
	}
	lookup, err := ReferenceLookup(ctx, st, jc.Reference)
	if err != nil {
		return nil, err
	}
	recordLookup, err := ReferenceLookup(ctx, st, jc.RecordReference)
	if err != nil {
		return nil, err
	}
	if !jc.RecordReference.Preload && !jc.RecordReference.Cache {
		// Many members share one record.
		recordLookup = reconcile.Cached(recordLookup)
	}

	table, column, match := jc.Target.Table, jc.Target.Column, jc.Target.MatchColumn
	return &reconcile.Job{
		Name:         name,
		KeyField:     jc.Key,
		Split:        jc.Split,
		RecordField:  jc.RecordField(),
		RecordLookup: recordLookup,
		Lookup:       lookup,
		Overwrite:    jc.Overwrite,
		Current: func(ctx context.Context, it reconcile.Item) (string, error) {
			rows, err := st.Select(ctx, table, store.Query{
				Columns: []string{column},
				Where:   []store.Eq{{Column: match, Value: it.Record}, {Column: column, Value: it.Canonical}},
				Limit:   1,
			})
			if err != nil || len(rows) == 0 {
				return "", err
			}
			return it.Canonical, nil
		},
		WriteBack: func(ctx context.Context, record, canonical string) error {
			return st.Insert(ctx, table, store.Record{match: record, column: canonical})
		},
	}, nil
}

// updateTarget writes canonical into target.column of the row whose
// match column equals the record id.
func updateTarget(st store.Store, jc *config.JobConfig) reconcile.WriteBackFunc {
	table, column, match := jc.TargetTable(), jc.Target.Column, jc.MatchColumn()
	return func(ctx context.Context, record, canonical string) error {
		_, err := st.Update(ctx, table, store.Record{column: canonical}, store.Eq{Column: match, Value: record})
		return err
	}
}

// selectTarget reads the current target value of a record. A record that does
// not exist yields an empty value and fails later at the write.
func selectTarget(st store.Store, jc *config.JobConfig) reconcile.CurrentFunc {
	table, column, match := jc.TargetTable(), jc.Target.Column, jc.MatchColumn()
	return func(ctx context.Context, it reconcile.Item) (string, error) {
		rows, err := st.Select(ctx, table, store.Query{
			Columns: []string{column},
			Where:   []store.Eq{{Column: match, Value: it.Record}},
			Limit:   1,
		})
		if err != nil || len(rows) == 0 {
			return "", err
		}
		v, _ := rows[0].Get(column)
		return v, nil
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0:0]
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
