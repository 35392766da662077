// Package reconcile derives and persists canonical foreign keys for rows that
// carry a legacy identifier, classifying every row as resolved, skipped or failed.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/dbsmedya/gobackfill/internal/logger"
	"github.com/dbsmedya/gobackfill/internal/parse"
	"github.com/dbsmedya/gobackfill/internal/store"
)

// Row is one source row, from a CSV line or a fetched record.
type Row = store.Record

// LookupFunc resolves a legacy key. found is false when nothing matches.
type LookupFunc func(ctx context.Context, legacyKey string) (canonical string, found bool, err error)

// CurrentFunc returns the value currently stored for an item, empty when unset.
type CurrentFunc func(ctx context.Context, it Item) (string, error)

// WriteBackFunc persists canonical for the record.
type WriteBackFunc func(ctx context.Context, record, canonical string) error

// Job describes how to reconcile one kind of row.
type Job struct {
	Name string

	// KeyField holds the legacy key. With Split set it holds a list of keys
	// and every element is reconciled as its own item.
	KeyField string
	Split    string

	// RecordField identifies the record to write back to.
	RecordField string

	// RecordLookup, when set, resolves the record identity as a legacy key too.
	RecordLookup LookupFunc

	Lookup LookupFunc

	// TargetField is read from the row for the already-set check. Current is
	// used instead when the target lives outside the row.
	TargetField string
	Current     CurrentFunc
	Overwrite   bool

	WriteBack WriteBackFunc
}

// Item is one unit of work after list expansion.
type Item struct {
	Index     int
	Row       int
	Key       string
	Record    string
	Canonical string
	Fields    Row
}

// Options configures a Reconciler.
type Options struct {
	Concurrency int
	CallTimeout time.Duration
	DryRun      bool
	Logger      *logger.Logger
}

// Reconciler runs jobs over rows.
type Reconciler struct {
	opts Options
	log  *logger.Logger
}

// New creates a Reconciler. A zero Concurrency runs rows sequentially.
func New(opts Options) *Reconciler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Reconciler{opts: opts, log: log}
}

func (j *Job) validate() error {
	switch {
	case j.KeyField == "":
		return errors.New("key field is required")
	case j.RecordField == "":
		return errors.New("record field is required")
	case j.Lookup == nil:
		return errors.New("lookup is required")
	case j.WriteBack == nil:
		return errors.New("write-back is required")
	}
	return nil
}

// Expand turns rows into items, one per legacy key.
func (j *Job) Expand(rows []Row) []Item {
	items := make([]Item, 0, len(rows))
	for i, row := range rows {
		record, _ := row.Get(j.RecordField)
		raw, ok := row.Get(j.KeyField)

		if j.Split == "" {
			items = append(items, Item{Index: len(items), Row: i, Key: raw, Record: record, Fields: row})
			continue
		}

		keys := parse.List(raw, j.Split)
		if !ok || len(keys) == 0 {
			items = append(items, Item{Index: len(items), Row: i, Record: record, Fields: row})
			continue
		}
		for _, k := range keys {
			items = append(items, Item{Index: len(items), Row: i, Key: k, Record: record, Fields: row})
		}
	}
	return items
}

// Run reconciles rows. Row-level problems never abort the run: only an invalid
// job yields a SetupError. On cancellation the rows not yet processed are
// recorded as failed and the report is returned with the context error.
func (r *Reconciler) Run(ctx context.Context, job *Job, rows []Row) (*Report, error) {
	if err := job.validate(); err != nil {
		return nil, &SetupError{Job: job.Name, Op: "validate job", Err: err}
	}

	start := time.Now()
	log := r.log.WithJob(job.Name)
	items := job.Expand(rows)
	outcomes := make([]Outcome, len(items))

	log.Infow("reconciling", "rows", len(rows), "items", len(items),
		"concurrency", r.opts.Concurrency, "dry_run", r.opts.DryRun)

	runErr := Each(ctx, len(items), r.opts.Concurrency, func(ctx context.Context, i int) {
		outcomes[i] = r.process(ctx, job, items[i])
		r.logOutcome(log.WithRow(outcomes[i].Row), outcomes[i])
	})

	report := NewReport(job.Name)
	report.DryRun = r.opts.DryRun
	for _, o := range outcomes {
		report.Add(o)
	}
	report.Duration = time.Since(start)

	log.Infow("reconciled",
		"total", report.Total,
		"resolved", report.Resolved,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.Duration)

	return report, runErr
}

func (r *Reconciler) process(ctx context.Context, job *Job, it Item) Outcome {
	out := Outcome{Index: it.Index, Row: it.Row, Key: it.Key, Record: it.Record}

	if err := ctx.Err(); err != nil {
		out.Status = StatusFailed
		out.Err = err
		return out
	}

	if it.Key == "" || it.Record == "" {
		return skip(out, ReasonMissingField)
	}

	canonical, found, err := r.call(ctx, func(ctx context.Context) (string, bool, error) {
		return job.Lookup(ctx, it.Key)
	})
	if err != nil {
		return fail(out, StageLookup, err)
	}
	if !found {
		return skip(out, ReasonUnresolvedReference)
	}
	out.Canonical = canonical
	it.Canonical = canonical

	if job.RecordLookup != nil {
		resolved, found, err := r.call(ctx, func(ctx context.Context) (string, bool, error) {
			return job.RecordLookup(ctx, it.Record)
		})
		if err != nil {
			return fail(out, StageRecordLookup, err)
		}
		if !found {
			return skip(out, ReasonUnresolvedReference)
		}
		out.Record = resolved
		it.Record = resolved
	}

	if !job.Overwrite {
		current, err := r.current(ctx, job, it)
		if err != nil {
			return fail(out, StageCurrent, err)
		}
		if !store.IsEmpty(current) {
			return skip(out, ReasonAlreadySet)
		}
	}

	if r.opts.DryRun {
		out.Status = StatusResolved
		out.DryRun = true
		return out
	}

	if _, _, err := r.call(ctx, func(ctx context.Context) (string, bool, error) {
		return "", true, job.WriteBack(ctx, it.Record, canonical)
	}); err != nil {
		return fail(out, StageWrite, err)
	}
	out.Status = StatusResolved
	return out
}

func (r *Reconciler) current(ctx context.Context, job *Job, it Item) (string, error) {
	if job.Current != nil {
		v, _, err := r.call(ctx, func(ctx context.Context) (string, bool, error) {
			v, err := job.Current(ctx, it)
			return v, true, err
		})
		return v, err
	}
	if job.TargetField != "" {
		v, _ := it.Fields.Get(job.TargetField)
		return v, nil
	}
	return "", nil
}

// call bounds one store round-trip by the configured timeout.
func (r *Reconciler) call(ctx context.Context, fn func(context.Context) (string, bool, error)) (string, bool, error) {
	if r.opts.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

func skip(out Outcome, reason Reason) Outcome {
	out.Status = StatusSkipped
	out.Reason = reason
	return out
}

func fail(out Outcome, stage Stage, err error) Outcome {
	out.Status = StatusFailed
	out.Err = &RowError{Stage: stage, Err: err}
	return out
}

func (r *Reconciler) logOutcome(log *logger.Logger, o Outcome) {
	switch o.Status {
	case StatusResolved:
		if o.DryRun {
			log.Infow("dry run: would write", "legacy_key", o.Key, "record", o.Record, "canonical", o.Canonical)
			return
		}
		log.Infow("resolved", "legacy_key", o.Key, "record", o.Record, "canonical", o.Canonical)
	case StatusSkipped:
		if o.Reason == ReasonUnresolvedReference {
			log.Warnw("skipped", "reason", o.Reason, "legacy_key", o.Key, "record", o.Record)
			return
		}
		log.Infow("skipped", "reason", o.Reason, "legacy_key", o.Key, "record", o.Record)
	default:
		log.Errorw("failed", "stage", o.Stage(), "legacy_key", o.Key, "record", o.Record, "error", o.Err)
	}
}
