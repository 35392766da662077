package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gobackfill/internal/backfill"
	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/logger"
	"github.com/dbsmedya/gobackfill/internal/reconcile"
)

var (
	verifyJob   string
	verifyLimit int
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Count target rows still missing their value",
	Long: `Verify scans the target table of a link or generate job and counts the
rows whose target column is still empty, listing some of them.

Without --job every link and generate job is verified. The command exits with
code 3 when any row is still empty.

Example:
  gobackfill verify --job lesson_modules --limit 20`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyJob, "job", "j", "",
		"Job name from configuration file")
	verifyCmd.Flags().IntVar(&verifyLimit, "limit", 10,
		"Maximum number of empty rows to list")

	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	jobs, err := jobsOrAll(cfg, verifyJob)
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
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer backend.Close()

	out := cmd.OutOrStdout()
	verifier := backfill.NewVerifier(backend.Store)
	incomplete := false
	for _, name := range jobs {
		job := cfg.Jobs[name]
		if verifyJob == "" && job.Type != config.JobTypeLink && job.Type != config.JobTypeGenerate {
			continue
		}

		result, err := verifier.Verify(ctx, name, &job, verifyLimit)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s: %s.%s %d/%d row(s) empty\n",
			name, result.Table, result.Column, result.Empty, result.Scanned)
		for _, id := range result.Samples {
			fmt.Fprintf(out, "  - %s = %s\n", job.MatchColumn(), id)
		}
		if more := result.Empty - len(result.Samples); more > 0 {
			fmt.Fprintf(out, "  ... and %d more\n", more)
		}
		if !result.Complete() {
			incomplete = true
		}
	}

	if incomplete {
		return &ExitError{Code: reconcile.ExitUnresolved}
	}
	return nil
}
