package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gobackfill/internal/config"
)

var listJobsCmd = &cobra.Command{
	Use:   "list-jobs",
	Short: "List all jobs defined in configuration",
	Long: `List-jobs displays all backfill jobs defined in the configuration file
along with their source, reference and target.

Example:
  gobackfill list-jobs --config backfill.yaml`,
	RunE: runListJobs,
}

func init() {
	rootCmd.AddCommand(listJobsCmd)
}

func runListJobs(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	// Listing does not validate, so broken configs can still be inspected.
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	jobNames := cfg.ListJobs()
	out := cmd.OutOrStdout()

	if len(jobNames) == 0 {
		fmt.Fprintf(out, "No jobs defined in %s\n", configFile)
		return nil
	}

	fmt.Fprintf(out, "Jobs defined in %s:\n\n", configFile)

	for i, jobName := range jobNames {
		job := cfg.Jobs[jobName]

		fmt.Fprintf(out, "%d. %s (%s)\n", i+1, jobName, job.Type)
		if job.Description != "" {
			fmt.Fprintf(out, "   Description:   %s\n", job.Description)
		}
		fmt.Fprintf(out, "   Source:        %s\n", describeSource(&job))
		fmt.Fprintf(out, "   Key:           %s", job.Key)
		if job.Split != "" {
			fmt.Fprintf(out, " (list split on %q)", job.Split)
		}
		fmt.Fprintln(out)

		if job.RecordReference != nil {
			fmt.Fprintf(out, "   Record Ref:    %s\n", describeReference(job.RecordReference))
		}
		if job.Reference != nil {
			fmt.Fprintf(out, "   Reference:     %s\n", describeReference(job.Reference))
		}
		fmt.Fprintf(out, "   Target:        %s\n", describeTarget(&job))

		if len(job.DependsOn) > 0 {
			fmt.Fprintf(out, "   Depends On:    %s\n", strings.Join(job.DependsOn, ", "))
		}
		if job.Overwrite {
			fmt.Fprintf(out, "   Overwrite:     yes\n")
		}

		if job.Processing != nil {
			fmt.Fprintf(out, "   Processing:    Custom (concurrency=%d, call_timeout_seconds=%d)\n",
				job.Processing.Concurrency, job.Processing.CallTimeoutSeconds)
		}

		if i < len(jobNames)-1 {
			fmt.Fprintln(out)
		}
	}

	fmt.Fprintf(out, "\nTotal: %d job(s)\n", len(jobNames))
	return nil
}

func describeSource(job *config.JobConfig) string {
	if job.Source.CSV != "" {
		return "csv " + job.Source.CSV
	}
	return "table " + job.Source.Table
}

func describeReference(ref *config.ReferenceConfig) string {
	s := fmt.Sprintf("%s.%s -> %s", ref.Table, ref.Key, ref.Value)
	var opts []string
	if ref.Preload {
		opts = append(opts, "preload")
	}
	if ref.Cache {
		opts = append(opts, "cache")
	}
	if ref.Strict() {
		opts = append(opts, "strict")
	}
	if len(opts) > 0 {
		s += " [" + strings.Join(opts, ", ") + "]"
	}
	return s
}

func describeTarget(job *config.JobConfig) string {
	switch job.Type {
	case config.JobTypeImport:
		return fmt.Sprintf("insert into %s (%d field(s))", job.Target.Table, len(job.Fields))
	case config.JobTypeJoin:
		return fmt.Sprintf("insert into %s (%s, %s)", job.Target.Table, job.Target.MatchColumn, job.Target.Column)
	default:
		return fmt.Sprintf("%s.%s where %s = %s", job.TargetTable(), job.Target.Column, job.MatchColumn(), job.RecordField())
	}
}
