package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/dbsmedya/gobackfill/internal/backfill"
	"github.com/dbsmedya/gobackfill/internal/database"
	"github.com/dbsmedya/gobackfill/internal/logger"
	"github.com/dbsmedya/gobackfill/internal/reconcile"
)

var (
	runJob          string
	runAll          bool
	runDryRun       bool
	runForce        bool
	runReportFormat string
	runOutcomes     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one backfill job or all of them",
	Long: `Run reads the rows of a job, resolves every legacy key through the job's
reference table and writes the result back.

Every row ends up resolved, skipped (missing-field, unresolved-reference,
already-set) or failed. A summary is printed at the end of the run.

Exit codes:
  0  every row resolved or skipped as missing or already set
  1  configuration or setup error
  3  some legacy keys could not be resolved
  4  at least one row failed

Examples:
  gobackfill run --config backfill.yaml --job lesson_modules
  gobackfill run --all --dry-run
  gobackfill run --all --report-format json > report.json`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runJob, "job", "j", "",
		"Job name from configuration file")
	runCmd.Flags().BoolVar(&runAll, "all", false,
		"Run every job in dependency order")
	runCmd.MarkFlagsMutuallyExclusive("job", "all")
	runCmd.MarkFlagsOneRequired("job", "all")

	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false,
		"Resolve keys and report without writing anything")
	runCmd.Flags().BoolVar(&runForce, "force", false,
		"Run even without acquiring the job's advisory lock (use with caution)")
	runCmd.Flags().StringVar(&runReportFormat, "report-format", reconcile.FormatText,
		"Report format (text, json, yaml)")
	runCmd.Flags().BoolVar(&runOutcomes, "outcomes", false,
		"Include every row outcome in json and yaml reports")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	switch runReportFormat {
	case reconcile.FormatText, reconcile.FormatJSON, reconcile.FormatYAML:
	default:
		return fmt.Errorf("unknown report format %q (expected text, json or yaml)", runReportFormat)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runJob != "" {
		if _, err := cfg.GetJob(runJob); err != nil {
			return err
		}
	}

	if runReportFormat != reconcile.FormatText {
		logger.ReserveStdout(&cfg.Logging)
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := database.SetupSignalHandler(contextOf(cmd), func(sig os.Signal) {
		log.Warnw("Received shutdown signal - finishing in-flight rows", "signal", sig.String())
	})
	defer cancel()

	backend, err := backfill.Open(ctx, &cfg.Store, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer backend.Close()

	overrides := GetCLIOverrides()
	orch, err := backfill.NewOrchestrator(cfg, backend, log, backfill.RunOptions{
		DryRun:             runDryRun,
		Force:              runForce,
		Concurrency:        overrides.Concurrency,
		CallTimeoutSeconds: overrides.CallTimeoutSeconds,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	log.Infow("Starting backfill", "config", GetConfigFile(), "job", runJob, "all", runAll, "backend", backend.Name)

	var reports []*reconcile.Report
	if runAll {
		reports, err = orch.RunAll(ctx)
	} else {
		var report *reconcile.Report
		report, err = orch.RunJob(ctx, runJob)
		if report != nil {
			reports = append(reports, report)
		}
	}

	if len(reports) > 0 {
		out := cmd.OutOrStdout()
		opts := reconcile.RenderOptions{Format: runReportFormat, Color: isTerminal(out), Outcomes: runOutcomes}
		if renderErr := reconcile.Render(out, reports, opts); renderErr != nil {
			return fmt.Errorf("failed to render report: %w", renderErr)
		}
	}

	code := backfill.ExitCode(reports, err)
	if code == reconcile.ExitSetup {
		return err
	}
	if err != nil {
		log.Warnw("Backfill cancelled", "error", err)
	}
	if code != reconcile.ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// isTerminal reports whether w is an interactive terminal, which enables colors.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
