package reconcile

import (
	"errors"
	"fmt"
)

// ErrAmbiguousReference is returned by strict lookups when a legacy key matches
// more than one reference row.
var ErrAmbiguousReference = errors.New("ambiguous reference")

// Stage identifies the step of row processing that failed.
type Stage string

const (
	StageLookup       Stage = "lookup"
	StageRecordLookup Stage = "record-lookup"
	StageCurrent      Stage = "current"
	StageWrite        Stage = "write"
)

// RowError is a per-row failure. It never aborts the run.
type RowError struct {
	Stage Stage
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// SetupError aborts a run before any row is processed: an unreadable source,
// an unreachable store or an invalid job definition.
type SetupError struct {
	Job string
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	if e.Job == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("job %s: %s: %v", e.Job, e.Op, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// IsSetupError reports whether err is or wraps a SetupError.
func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}
