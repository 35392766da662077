package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Store.PostgREST.URL = "https://example.supabase.co"
	cfg.Store.PostgREST.APIKey = "anon"
	cfg.Jobs = map[string]JobConfig{
		"lesson_modules": {
			Type:      JobTypeLink,
			Key:       "id_bubble_modulo",
			Source:    SourceConfig{Table: "aulas"},
			Reference: &ReferenceConfig{Table: "modulos", Key: "id_bubble_modulo", Value: "id_modulo"},
			Target:    TargetConfig{Column: "id_modulo"},
		},
	}
	return cfg
}

func TestValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected no validation errors, got: %v", err)
	}
}

func TestValidationCases(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		field  string
	}{
		{
			name:   "missing postgrest url",
			mutate: func(cfg *Config) { cfg.Store.PostgREST.URL = "" },
			field:  "store.postgrest.url",
		},
		{
			name:   "unknown backend",
			mutate: func(cfg *Config) { cfg.Store.Backend = "oracle" },
			field:  "store.backend",
		},
		{
			name: "mysql without host",
			mutate: func(cfg *Config) {
				cfg.Store.Backend = BackendMySQL
				cfg.Store.Database = DatabaseConfig{User: "root", Database: "app"}
			},
			field: "store.database.host",
		},
		{
			name: "sqlite without path",
			mutate: func(cfg *Config) {
				cfg.Store.Backend = BackendSQLite
			},
			field: "store.database.dsn",
		},
		{
			name:   "no jobs",
			mutate: func(cfg *Config) { cfg.Jobs = nil },
			field:  "jobs",
		},
		{
			name: "unknown job type",
			mutate: func(cfg *Config) {
				job := cfg.Jobs["lesson_modules"]
				job.Type = "merge"
				cfg.Jobs["lesson_modules"] = job
			},
			field: "jobs.lesson_modules.type",
		},
		{
			name: "missing reference",
			mutate: func(cfg *Config) {
				job := cfg.Jobs["lesson_modules"]
				job.Reference = nil
				cfg.Jobs["lesson_modules"] = job
			},
			field: "jobs.lesson_modules.reference",
		},
		{
			name: "invalid reference identifier",
			mutate: func(cfg *Config) {
				job := cfg.Jobs["lesson_modules"]
				job.Reference = &ReferenceConfig{Table: "modulos; drop", Key: "k", Value: "v"}
				cfg.Jobs["lesson_modules"] = job
			},
			field: "jobs.lesson_modules.reference.table",
		},
		{
			name: "invalid duplicate policy",
			mutate: func(cfg *Config) {
				job := cfg.Jobs["lesson_modules"]
				job.Reference.OnDuplicate = "random"
				cfg.Jobs["lesson_modules"] = job
			},
			field: "jobs.lesson_modules.reference.on_duplicate",
		},
		{
			name: "unknown dependency",
			mutate: func(cfg *Config) {
				job := cfg.Jobs["lesson_modules"]
				job.DependsOn = []string{"ghost"}
				cfg.Jobs["lesson_modules"] = job
			},
			field: "jobs.lesson_modules.depends_on",
		},
		{
			name: "self dependency",
			mutate: func(cfg *Config) {
				job := cfg.Jobs["lesson_modules"]
				job.DependsOn = []string{"lesson_modules"}
				cfg.Jobs["lesson_modules"] = job
			},
			field: "jobs.lesson_modules.depends_on",
		},
		{
			name: "link from csv without target table",
			mutate: func(cfg *Config) {
				job := cfg.Jobs["lesson_modules"]
				job.Source = SourceConfig{CSV: "aulas.csv"}
				cfg.Jobs["lesson_modules"] = job
			},
			field: "jobs.lesson_modules.target.table",
		},
		{
			name: "generate with unknown generator",
			mutate: func(cfg *Config) {
				cfg.Jobs["module_ids"] = JobConfig{
					Type:      JobTypeGenerate,
					Key:       "id_bubble_modulo",
					Source:    SourceConfig{Table: "modulos"},
					Target:    TargetConfig{Column: "id_modulo"},
					Generator: "serial",
				}
			},
			field: "jobs.module_ids.generator",
		},
		{
			name: "join without record reference",
			mutate: func(cfg *Config) {
				cfg.Jobs["watched"] = JobConfig{
					Type:      JobTypeJoin,
					Key:       "usuarios",
					Split:     ",",
					RecordID:  "id_aula_bubble",
					Source:    SourceConfig{CSV: "aulas_assistidas.csv"},
					Reference: &ReferenceConfig{Table: "usuarios", Key: "id_bubble_usuario", Value: "id_usuario"},
					Target:    TargetConfig{Table: "aulas_assistidas", Column: "id_usuario", MatchColumn: "id_aula"},
				}
			},
			field: "jobs.watched.record_reference",
		},
		{
			name: "import with bad field type",
			mutate: func(cfg *Config) {
				cfg.Jobs["users"] = JobConfig{
					Type:   JobTypeImport,
					Key:    "id_bubble_user",
					Source: SourceConfig{CSV: "users.csv"},
					Target: TargetConfig{Table: "users"},
					Fields: []FieldMapping{{Column: "ativo", Type: "boolean"}},
				}
			},
			field: "jobs.users.fields[0].type",
		},
		{
			name: "multi-character delimiter",
			mutate: func(cfg *Config) {
				job := cfg.Jobs["lesson_modules"]
				job.Source.Delimiter = ";;"
				cfg.Jobs["lesson_modules"] = job
			},
			field: "jobs.lesson_modules.source.delimiter",
		},
		{
			name:   "zero concurrency",
			mutate: func(cfg *Config) { cfg.Processing.Concurrency = 0 },
			field:  "processing.concurrency",
		},
		{
			name:   "bad log level",
			mutate: func(cfg *Config) { cfg.Logging.Level = "verbose" },
			field:  "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error mentioning %q", tt.field)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error to mention %q, got: %v", tt.field, err)
			}
		})
	}
}

func TestValidationErrorsCollected(t *testing.T) {
	cfg := validConfig()
	cfg.Store.PostgREST.URL = ""
	cfg.Store.PostgREST.APIKey = ""
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) != 3 {
		t.Errorf("expected 3 validation errors, got %d: %v", len(verrs), verrs)
	}
	if !strings.HasPrefix(err.Error(), "validation failed:") {
		t.Errorf("unexpected error format: %s", err.Error())
	}
}

func TestDSNSkipsFieldChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Backend = BackendPostgres
	cfg.Store.Database = DatabaseConfig{DSN: "postgres://app@localhost/app"}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected DSN-only database config to be valid, got %v", err)
	}
}
