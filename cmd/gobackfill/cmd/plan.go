package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/graph"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the order jobs run in",
	Long: `Plan builds the job dependency graph from depends_on and displays the
order "run --all" executes jobs in. Independent jobs run alphabetically.

Example:
  gobackfill plan --config backfill.yaml`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	g, err := graph.BuildFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to build dependency graph: %w", err)
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return fmt.Errorf("failed to order jobs: %w", err)
	}

	out := cmd.OutOrStdout()
	printHeader(out, "Execution Plan: %s", GetConfigFile())

	fmt.Fprintln(out)
	printSection(out, "Run Order")
	for i, name := range order {
		printOrderItem(out, i+1, g.GetNode(name), g.Dependencies(name))
	}

	fmt.Fprintln(out)
	printSection(out, "Processing")
	for _, name := range order {
		job := cfg.Jobs[name]
		p := job.GetJobProcessing(cfg.Processing)
		fmt.Fprintf(out, "  %s: concurrency=%d call_timeout=%ds", name, p.Concurrency, p.CallTimeoutSeconds)
		if job.Processing != nil {
			fmt.Fprint(out, " (job-specific)")
		}
		fmt.Fprintln(out)
	}
	return nil
}

// printHeader prints a formatted header
func printHeader(w io.Writer, format string, args ...interface{}) {
	title := fmt.Sprintf(format, args...)
	width := len(title) + 4
	fmt.Fprintln(w, strings.Repeat("=", width))
	fmt.Fprintf(w, "  %s\n", title)
	fmt.Fprintln(w, strings.Repeat("=", width))
}

// printSection prints a section header
func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "[%s]\n", title)
	fmt.Fprintln(w, strings.Repeat("-", len(title)+2))
}

// printOrderItem prints one job of the run order
func printOrderItem(w io.Writer, num int, node *graph.Node, deps []string) {
	fmt.Fprintf(w, "  [%d] %s (%s)", num, node.Name, node.Type)
	if len(deps) > 0 {
		fmt.Fprintf(w, " <- %s", strings.Join(deps, ", "))
	}
	fmt.Fprintln(w)
	if node.Description != "" {
		fmt.Fprintf(w, "      %s\n", node.Description)
	}
}

// jobsOrAll returns the named job or, when name is empty, every job.
func jobsOrAll(cfg *config.Config, name string) ([]string, error) {
	if name == "" {
		return cfg.ListJobs(), nil
	}
	if _, err := cfg.GetJob(name); err != nil {
		return nil, err
	}
	return []string{name}, nil
}
