package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/graph"
	"github.com/dbsmedya/gobackfill/internal/lock"
	"github.com/dbsmedya/gobackfill/internal/logger"
	"github.com/dbsmedya/gobackfill/internal/reconcile"
)

// RunOptions are the run-time switches of the run command. Zero Concurrency
// and CallTimeoutSeconds keep the configured values.
type RunOptions struct {
	DryRun             bool
	Force              bool
	Concurrency        int
	CallTimeoutSeconds int
}

// Orchestrator runs configured jobs against one backend.
type Orchestrator struct {
	cfg     *config.Config
	backend *Backend
	logger  *logger.Logger
	opts    RunOptions
}

// NewOrchestrator creates an orchestrator. log may be nil.
func NewOrchestrator(cfg *config.Config, backend *Backend, log *logger.Logger, opts RunOptions) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if backend == nil || backend.Store == nil {
		return nil, fmt.Errorf("backend is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Orchestrator{cfg: cfg, backend: backend, logger: log, opts: opts}, nil
}

// RunJob builds and runs one job, holding its advisory lock when the backend
// supports one and Force is not set.
func (o *Orchestrator) RunJob(ctx context.Context, name string) (*reconcile.Report, error) {
	jc, err := o.cfg.GetJob(name)
	if err != nil {
		return nil, &reconcile.SetupError{Op: "find job", Err: err}
	}
	proc := o.cfg.ApplyJobOverrides(name, o.opts.Concurrency, o.opts.CallTimeoutSeconds)
	log := o.logger.WithJob(name)

	job, err := Build(ctx, o.backend.Store, name, *jc)
	if err != nil {
		return nil, err
	}

	opts := reconcile.Options{
		Concurrency: proc.Concurrency,
		CallTimeout: time.Duration(proc.CallTimeoutSeconds) * time.Second,
		DryRun:      o.opts.DryRun,
		Logger:      o.logger,
	}

	var report *reconcile.Report
	run := func() error {
		var runErr error
		report, runErr = job.Run(ctx, opts)
		return runErr
	}

	switch {
	case o.opts.Force:
		log.Warnw("running without advisory lock", "reason", "--force")
		err = run()
	case o.backend.DB == nil || !lock.Supported(o.backend.Dialect):
		log.Infow("running without advisory lock", "reason", "backend has no advisory locks", "backend", o.backend.Name)
		err = run()
	default:
		log.Debugw("acquiring advisory lock", "lock", lock.GenerateJobLockName(name))
		err = lock.WithJobLock(ctx, o.backend.DB, o.backend.Dialect, name, run)
		if err != nil && report == nil && !reconcile.IsSetupError(err) {
			err = &reconcile.SetupError{Job: name, Op: "acquire lock", Err: err}
		}
	}
	return report, err
}

// RunAll runs every job in dependency order. A job whose dependency reported
// failed rows still runs, with a warning. Setup errors and cancellation stop
// the run; the reports gathered so far are returned with the error.
func (o *Orchestrator) RunAll(ctx context.Context) ([]*reconcile.Report, error) {
	order, err := graph.RunOrder(o.cfg)
	if err != nil {
		return nil, &reconcile.SetupError{Op: "order jobs", Err: err}
	}
	o.logger.Infow("running jobs", "order", order, "dry_run", o.opts.DryRun)

	failed := make(map[string]bool)
	var reports []*reconcile.Report
	for _, name := range order {
		jc := o.cfg.Jobs[name]
		for _, dep := range jc.DependsOn {
			if failed[dep] {
				o.logger.WithJob(name).Warnw("dependency reported failures", "dependency", dep)
			}
		}

		report, err := o.RunJob(ctx, name)
		if report != nil {
			reports = append(reports, report)
			if report.Failed > 0 {
				failed[name] = true
			}
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// ExitCode returns the highest exit code of the reports, or ExitSetup when err
// is a setup error. Cancellation keeps the report codes, whose rows are
// already marked failed.
func ExitCode(reports []*reconcile.Report, err error) int {
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return reconcile.ExitSetup
	}
	code := reconcile.ExitOK
	for _, r := range reports {
		if c := r.ExitCode(); c > code {
			code = c
		}
	}
	if err != nil && code == reconcile.ExitOK {
		code = reconcile.ExitFailed
	}
	return code
}
