package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gobackfill/internal/backfill"
	"github.com/dbsmedya/gobackfill/internal/graph"
	"github.com/dbsmedya/gobackfill/internal/logger"
)

var (
	validateJob     string
	validateOffline bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and run preflight checks",
	Long: `Validate checks the configuration file and probes the store to ensure
every job can run.

Checks performed:
  - Configuration syntax, required fields and identifiers
  - Job dependency graph (unknown jobs, cycles)
  - Store connectivity
  - Every CSV file exists
  - Every table and column a job reads or writes can be selected

Example:
  gobackfill validate --config backfill.yaml`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateJob, "job", "j", "",
		"Probe only this job")
	validateCmd.Flags().BoolVar(&validateOffline, "offline", false,
		"Check configuration only, without connecting to the store")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n=== Configuration Validation ===\n")
	fmt.Fprintf(out, "Config file: %s\n", GetConfigFile())
	fmt.Fprintf(out, "Backend: %s\n", cfg.Store.Backend)
	fmt.Fprintf(out, "Jobs found: %d\n\n", len(cfg.Jobs))

	if _, err := graph.RunOrder(cfg); err != nil {
		fmt.Fprintf(out, "❌ Dependency graph invalid: %v\n", err)
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintln(out, "✅ Configuration valid")

	if validateOffline {
		return nil
	}

	jobs, err := jobsOrAll(cfg, validateJob)
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	ctx := contextOf(cmd)

	backend, err := backfill.Open(ctx, &cfg.Store, log)
	if err != nil {
		fmt.Fprintf(out, "❌ Store unreachable: %v\n", err)
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer backend.Close()
	fmt.Fprintf(out, "✅ Store reachable\n\n")

	checker := backfill.NewPreflightChecker(backend.Store)
	hasErrors := false
	for _, name := range jobs {
		job := cfg.Jobs[name]
		fmt.Fprintf(out, "--- Job: %s (%s) ---\n", name, job.Type)
		for _, r := range checker.CheckJob(ctx, name, &job) {
			if r.OK() {
				fmt.Fprintf(out, "✅ %s\n", r)
				continue
			}
			hasErrors = true
			fmt.Fprintf(out, "❌ %s\n", r)
		}
		fmt.Fprintln(out)
	}

	if hasErrors {
		return fmt.Errorf("preflight checks failed for one or more jobs")
	}

	fmt.Fprintln(out, "=== Validation Complete ===")
	fmt.Fprintln(out, "✅ All jobs validated successfully")
	return nil
}
