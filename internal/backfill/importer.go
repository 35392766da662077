package backfill

import (
	"context"
	"time"

	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/logger"
	"github.com/dbsmedya/gobackfill/internal/parse"
	"github.com/dbsmedya/gobackfill/internal/reconcile"
	"github.com/dbsmedya/gobackfill/internal/store"
)

// isoLayout matches the timestamps the legacy import wrote.
const isoLayout = "2006-01-02T15:04:05"

// importer inserts one mapped record per CSV row.
type importer struct {
	st           store.Store
	name         string
	table        string
	keyField     string
	matchColumn  string
	skipExisting bool
	fields       []config.FieldMapping
}

func newImporter(st store.Store, name string, jc *config.JobConfig) *importer {
	return &importer{
		st:           st,
		name:         name,
		table:        jc.Target.Table,
		keyField:     jc.Key,
		matchColumn:  jc.MatchColumn(),
		skipExisting: jc.SkipExisting,
		fields:       jc.Fields,
	}
}

func (im *importer) run(ctx context.Context, rows []reconcile.Row, opts reconcile.Options) (*reconcile.Report, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithJob(im.name).WithTable(im.table)
	start := time.Now()

	log.Infow("importing", "rows", len(rows), "concurrency", opts.Concurrency, "dry_run", opts.DryRun)

	outcomes := make([]reconcile.Outcome, len(rows))
	runErr := reconcile.Each(ctx, len(rows), opts.Concurrency, func(ctx context.Context, i int) {
		outcomes[i] = im.process(ctx, i, rows[i], opts)
		logImport(log.WithRow(i), outcomes[i])
	})

	report := reconcile.NewReport(im.name)
	report.DryRun = opts.DryRun
	for _, o := range outcomes {
		report.Add(o)
	}
	report.Duration = time.Since(start)

	log.Infow("imported",
		"total", report.Total,
		"inserted", report.Resolved,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.Duration)

	return report, runErr
}

func (im *importer) process(ctx context.Context, i int, row reconcile.Row, opts reconcile.Options) reconcile.Outcome {
	out := reconcile.Outcome{Index: i, Row: i}
	if err := ctx.Err(); err != nil {
		out.Status = reconcile.StatusFailed
		out.Err = err
		return out
	}

	key, ok := row.Get(im.keyField)
	if !ok {
		out.Status, out.Reason = reconcile.StatusSkipped, reconcile.ReasonMissingField
		return out
	}
	out.Key, out.Record = key, key

	if im.skipExisting {
		exists, err := im.exists(ctx, key, opts.CallTimeout)
		if err != nil {
			out.Status = reconcile.StatusFailed
			out.Err = &reconcile.RowError{Stage: reconcile.StageCurrent, Err: err}
			return out
		}
		if exists {
			out.Status, out.Reason = reconcile.StatusSkipped, reconcile.ReasonAlreadySet
			return out
		}
	}

	rec := MapFields(row, im.fields)
	if opts.DryRun {
		out.Status, out.DryRun = reconcile.StatusResolved, true
		return out
	}

	callCtx, cancel := withCallTimeout(ctx, opts.CallTimeout)
	defer cancel()
	if err := im.st.Insert(callCtx, im.table, rec); err != nil {
		out.Status = reconcile.StatusFailed
		out.Err = &reconcile.RowError{Stage: reconcile.StageWrite, Err: err}
		return out
	}
	out.Status = reconcile.StatusResolved
	return out
}

func (im *importer) exists(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	callCtx, cancel := withCallTimeout(ctx, timeout)
	defer cancel()
	rows, err := im.st.Select(callCtx, im.table, store.Query{
		Columns: []string{im.matchColumn},
		Where:   []store.Eq{{Column: im.matchColumn, Value: key}},
		Limit:   1,
	})
	return len(rows) > 0, err
}

// MapFields builds the record inserted for row. Values that are empty after
// conversion are left out, except booleans which default to false.
func MapFields(row reconcile.Row, fields []config.FieldMapping) store.Record {
	rec := make(store.Record, len(fields))
	for _, f := range fields {
		raw := f.Value
		if raw == "" {
			from := f.From
			if from == "" {
				from = f.Column
			}
			raw, _ = row.Get(from)
		}

		switch f.Type {
		case "bool":
			rec[f.Column] = parse.Bool(raw)
		case "lower":
			if v := parse.Lower(raw); v != "" {
				rec[f.Column] = v
			}
		case "digits":
			if v := parse.Digits(raw); v != "" {
				rec[f.Column] = v
			}
		case "date":
			if t, ok := parse.Date(raw); ok {
				rec[f.Column] = t.Format(isoLayout)
			}
		case "int":
			if n, ok := parse.Int(raw); ok {
				rec[f.Column] = n
			}
		default:
			if raw != "" {
				rec[f.Column] = raw
			}
		}
	}
	return rec
}

func withCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func logImport(log *logger.Logger, o reconcile.Outcome) {
	switch o.Status {
	case reconcile.StatusResolved:
		if o.DryRun {
			log.Infow("dry run: would insert", "legacy_key", o.Key)
			return
		}
		log.Infow("inserted", "legacy_key", o.Key)
	case reconcile.StatusSkipped:
		log.Infow("skipped", "reason", o.Reason, "legacy_key", o.Key)
	default:
		log.Errorw("failed", "stage", o.Stage(), "legacy_key", o.Key, "error", o.Err)
	}
}
