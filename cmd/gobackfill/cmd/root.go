package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/reconcile"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile     string
	logLevel    string
	logFormat   string
	concurrency int
	callTimeout int
)

var rootCmd = &cobra.Command{
	Use:   "gobackfill",
	Short: "Legacy id cross-reference backfill",
	Long: `A CLI of one-shot migration jobs that reconcile records exported from a
legacy platform with a relational backend.

Each job reads a CSV export or a table, resolves legacy identifiers through a
cross-reference table and writes the derived foreign key back, reporting every
row it could not resolve.

Features:
  - link, generate, join and import jobs
  - PostgREST (Supabase), MySQL, PostgreSQL and SQLite stores
  - Bounded concurrency with per-call timeouts
  - Job dependency ordering using Kahn's algorithm
  - Advisory locks against concurrent runs of the same job`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError carries the process exit code of a run that completed with
// unresolved or failed rows.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	switch e.Code {
	case reconcile.ExitUnresolved:
		return "some legacy keys could not be resolved"
	case reconcile.ExitFailed:
		return "some rows failed"
	default:
		return fmt.Sprintf("exit code %d", e.Code)
	}
}

// Execute runs the root command
func Execute() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil {
		return reconcile.ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	return reconcile.ExitSetup
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "backfill.yaml",
		"Path to configuration file")

	// Logging overrides
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")

	// Processing overrides
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0,
		"Override worker pool size (1 processes rows sequentially)")
	rootCmd.PersistentFlags().IntVar(&callTimeout, "call-timeout", 0,
		"Override per store call timeout in seconds")
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// CLIOverrides contains flag values that override config file settings
type CLIOverrides struct {
	LogLevel           string
	LogFormat          string
	Concurrency        int
	CallTimeoutSeconds int
}

// GetCLIOverrides returns the CLI flag override values
func GetCLIOverrides() CLIOverrides {
	return CLIOverrides{
		LogLevel:           logLevel,
		LogFormat:          logFormat,
		Concurrency:        concurrency,
		CallTimeoutSeconds: callTimeout,
	}
}

// loadConfig loads the config file, applies the global overrides and validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	overrides := GetCLIOverrides()
	cfg.ApplyOverrides(overrides.LogLevel, overrides.LogFormat,
		overrides.Concurrency, overrides.CallTimeoutSeconds)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
