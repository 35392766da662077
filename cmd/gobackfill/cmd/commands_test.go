package cmd

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipelineYAML = `store:
  backend: postgrest
  postgrest:
    url: https://example.supabase.co
    api_key: secret

jobs:
  module_ids:
    type: generate
    description: Assign canonical module ids
    key: id_bubble_modulo
    generator: uuid
    source:
      table: modulos
    target:
      column: id_modulo

  lesson_modules:
    type: link
    description: Link lessons to their module
    key: id_bubble_modulo
    depends_on: [module_ids]
    source:
      csv: aulas.csv
    reference:
      table: modulos
      key: id_bubble_modulo
      value: id_modulo
      preload: true
      on_duplicate: strict
    target:
      table: aulas
      column: id_modulo
    processing:
      concurrency: 2
      call_timeout_seconds: 5
`

func TestCommandStructure(t *testing.T) {
	tests := []struct {
		use     string
		hasRunE bool
	}{
		{use: "list-jobs", hasRunE: true},
		{use: "plan", hasRunE: true},
		{use: "validate", hasRunE: true},
		{use: "verify", hasRunE: true},
		{use: "version", hasRunE: false},
	}

	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			c, _, err := rootCmd.Find([]string{tt.use})
			require.NoError(t, err)
			assert.Equal(t, tt.use, c.Use)
			assert.NotEmpty(t, c.Short)
			assert.NotEmpty(t, c.Long)
			if tt.hasRunE {
				assert.NotNil(t, c.RunE)
			} else {
				assert.NotNil(t, c.Run)
			}
		})
	}
}

func TestRunListJobs(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "backfill.yaml", pipelineYAML)

	code, out := execute(t, "list-jobs", "-c", cfgPath)
	require.Equal(t, 0, code, out)

	assert.Contains(t, out, "1. lesson_modules (link)")
	assert.Contains(t, out, "2. module_ids (generate)")
	assert.Contains(t, out, "csv aulas.csv")
	assert.Contains(t, out, "modulos.id_bubble_modulo -> id_modulo [preload, strict]")
	assert.Contains(t, out, "aulas.id_modulo where id = id")
	assert.Contains(t, out, "Depends On:    module_ids")
	assert.Contains(t, out, "concurrency=2, call_timeout_seconds=5")
	assert.Contains(t, out, "Total: 2 job(s)")

	code, out = execute(t, "list-jobs", "-c", "nonexistent-config.yaml")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "failed to load config")
}

func TestRunListJobsEmpty(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "backfill.yaml", "store:\n  backend: sqlite\n")

	code, out := execute(t, "list-jobs", "-c", cfgPath)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "No jobs defined")
}

func TestRunPlan(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "backfill.yaml", pipelineYAML)

	code, out := execute(t, "plan", "-c", cfgPath)
	require.Equal(t, 0, code, out)

	assert.Contains(t, out, "Execution Plan: "+cfgPath)
	first := strings.Index(out, "[1] module_ids (generate)")
	second := strings.Index(out, "[2] lesson_modules (link) <- module_ids")
	require.NotEqual(t, -1, first, out)
	require.NotEqual(t, -1, second, out)
	assert.Less(t, first, second)

	assert.Contains(t, out, "lesson_modules: concurrency=2 call_timeout=5s (job-specific)")
	assert.Contains(t, out, "module_ids: concurrency=")
}

func TestRunPlanInvalidConfig(t *testing.T) {
	cycle := strings.Replace(pipelineYAML,
		"    generator: uuid\n", "    generator: uuid\n    depends_on: [lesson_modules]\n", 1)
	cfgPath := writeFile(t, t.TempDir(), "backfill.yaml", cycle)

	code, out := execute(t, "plan", "-c", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Error:")
}

func TestRunValidateOffline(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "backfill.yaml", pipelineYAML)

	code, out := execute(t, "validate", "-c", cfgPath, "--offline")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Backend: postgrest")
	assert.Contains(t, out, "Jobs found: 2")
	assert.Contains(t, out, "✅ Configuration valid")
	assert.NotContains(t, out, "Store reachable")
}

func TestRunValidateInvalid(t *testing.T) {
	broken := strings.Replace(pipelineYAML, "    generator: uuid\n", "    generator: serial\n", 1)
	cfgPath := writeFile(t, t.TempDir(), "backfill.yaml", broken)

	code, out := execute(t, "validate", "-c", cfgPath, "--offline")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "generator")
}

func TestRunValidateStore(t *testing.T) {
	dbPath := lessonsDB(t)
	cfgPath := lessonsConfig(t, dbPath)

	code, out := execute(t, "validate", "-c", cfgPath)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "✅ Store reachable")
	assert.Contains(t, out, "--- Job: lesson_modules (link) ---")
	assert.Contains(t, out, "✅ All jobs validated successfully")

	db := openSQLite(t, dbPath)
	_, err := db.Exec(`DROP TABLE modulos`)
	require.NoError(t, err)

	code, out = execute(t, "validate", "-c", cfgPath, "--job", "lesson_modules")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "❌ lesson_modules: modulos")
	assert.Contains(t, out, "preflight checks failed")
}

func TestRunVerify(t *testing.T) {
	dbPath := lessonsDB(t)
	cfgPath := lessonsConfig(t, dbPath)

	code, out := execute(t, "verify", "-c", cfgPath, "--limit", "1")
	assert.Equal(t, 3, code, out)
	assert.Contains(t, out, "lesson_modules: aulas.id_modulo 3/3 row(s) empty")
	assert.Contains(t, out, "  - id = A1")
	assert.Contains(t, out, "... and 2 more")

	db := openSQLite(t, dbPath)
	_, err := db.Exec(`UPDATE aulas SET id_modulo = 'M-1'`)
	require.NoError(t, err)

	code, out = execute(t, "verify", "-c", cfgPath, "--job", "lesson_modules")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "0/3 row(s) empty")
}

func TestRunVersion(t *testing.T) {
	originalVersion := Version
	originalCommit := Commit
	defer func() {
		Version = originalVersion
		Commit = originalCommit
	}()

	Version = "1.0.0"
	Commit = "abc123def456"

	code, out := execute(t, "version")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "gobackfill version 1.0.0")
	assert.Contains(t, out, "Commit: abc123def456")
	assert.Contains(t, out, "Go version: "+runtime.Version())
	assert.Contains(t, out, "OS/Arch: "+runtime.GOOS+"/"+runtime.GOARCH)
}
