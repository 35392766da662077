package reconcile

import (
	"time"

	"github.com/elliotchance/orderedmap/v2"
)

// Status is the final classification of one processed item.
type Status string

const (
	StatusResolved Status = "resolved"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Reason explains a skip.
type Reason string

const (
	ReasonMissingField        Reason = "missing-field"
	ReasonUnresolvedReference Reason = "unresolved-reference"
	ReasonAlreadySet          Reason = "already-set"
)

// Exit codes returned by Report.ExitCode.
const (
	ExitOK         = 0
	ExitSetup      = 1
	ExitUnresolved = 3
	ExitFailed     = 4
)

// Outcome is the result for one item, in input order.
type Outcome struct {
	Index     int    `json:"index" yaml:"index"`
	Row       int    `json:"row" yaml:"row"`
	Key       string `json:"key,omitempty" yaml:"key,omitempty"`
	Record    string `json:"record,omitempty" yaml:"record,omitempty"`
	Canonical string `json:"canonical,omitempty" yaml:"canonical,omitempty"`
	Status    Status `json:"status" yaml:"status"`
	Reason    Reason `json:"reason,omitempty" yaml:"reason,omitempty"`
	Err       error  `json:"-" yaml:"-"`
	DryRun    bool   `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// Stage returns the failing stage of a failed outcome, if known.
func (o Outcome) Stage() Stage {
	if re, ok := o.Err.(*RowError); ok {
		return re.Stage
	}
	return ""
}

// Report summarizes one run. Resolved + Skipped + Failed always equals Total.
type Report struct {
	Job      string
	Total    int
	Resolved int
	Skipped  int
	Failed   int
	DryRun   bool
	Duration time.Duration

	// SkipReasons counts skips per reason in first-seen order.
	SkipReasons *orderedmap.OrderedMap[Reason, int]
	Outcomes    []Outcome
}

// NewReport creates an empty report for job.
func NewReport(job string) *Report {
	return &Report{
		Job:         job,
		SkipReasons: orderedmap.NewOrderedMap[Reason, int](),
	}
}

// Add folds one outcome into the totals.
func (r *Report) Add(o Outcome) {
	r.Total++
	switch o.Status {
	case StatusResolved:
		r.Resolved++
	case StatusSkipped:
		r.Skipped++
		n, _ := r.SkipReasons.Get(o.Reason)
		r.SkipReasons.Set(o.Reason, n+1)
	default:
		r.Failed++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Skips returns the skip count for reason.
func (r *Report) Skips(reason Reason) int {
	n, _ := r.SkipReasons.Get(reason)
	return n
}

// Failures returns the failed outcomes.
func (r *Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// ExitCode maps the report to a process exit code: 0 when every row was
// resolved or benignly skipped, 3 when some keys were unresolved, 4 when any
// row failed.
func (r *Report) ExitCode() int {
	switch {
	case r.Failed > 0:
		return ExitFailed
	case r.Skips(ReasonUnresolvedReference) > 0:
		return ExitUnresolved
	default:
		return ExitOK
	}
}
