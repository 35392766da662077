package config

import (
	"fmt"
	"strings"

	"github.com/dbsmedya/gobackfill/internal/sqlutil"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateStore()...)

	if len(c.Jobs) == 0 {
		errors = append(errors, ValidationError{
			Field:   "jobs",
			Message: "at least one job must be defined",
		})
	}
	// Iterate in sorted order so error output is stable.
	for _, name := range c.ListJobs() {
		job := c.Jobs[name]
		errors = append(errors, c.validateJob(name, &job)...)
	}

	errors = append(errors, c.validateProcessing("processing", &c.Processing)...)
	errors = append(errors, c.validateLogging()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateStore() ValidationErrors {
	var errors ValidationErrors

	switch c.Store.Backend {
	case BackendPostgREST:
		if c.Store.PostgREST.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "store.postgrest.url",
				Message: "url is required for the postgrest backend",
			})
		}
		if c.Store.PostgREST.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "store.postgrest.api_key",
				Message: "api_key is required for the postgrest backend",
			})
		}
		if c.Store.PostgREST.RetryMax < 0 {
			errors = append(errors, ValidationError{
				Field:   "store.postgrest.retry_max",
				Message: "retry_max cannot be negative",
			})
		}
	case BackendMySQL, BackendPostgres:
		errors = append(errors, validateDatabase("store.database", &c.Store.Database)...)
	case BackendSQLite:
		if c.Store.Database.DSN == "" && c.Store.Database.Database == "" {
			errors = append(errors, ValidationError{
				Field:   "store.database.dsn",
				Message: "dsn or database (file path) is required for the sqlite backend",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "store.backend",
			Message: "backend must be 'postgrest', 'mysql', 'postgres', or 'sqlite'",
		})
	}

	return errors
}

func validateDatabase(prefix string, db *DatabaseConfig) ValidationErrors {
	var errors ValidationErrors

	// A DSN carries everything the driver needs.
	if db.DSN == "" {
		if db.Host == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".host",
				Message: "host is required",
			})
		}

		if db.Port < 0 || db.Port > 65535 {
			errors = append(errors, ValidationError{
				Field:   prefix + ".port",
				Message: "port must be between 1 and 65535",
			})
		}

		if db.User == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".user",
				Message: "user is required",
			})
		}

		if db.Database == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".database",
				Message: "database name is required",
			})
		}
	}

	validTLS := map[string]bool{"disable": true, "preferred": true, "required": true, "": true}
	if !validTLS[db.TLS] {
		errors = append(errors, ValidationError{
			Field:   prefix + ".tls",
			Message: "tls must be 'disable', 'preferred', or 'required'",
		})
	}

	if db.MaxConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".max_connections",
			Message: "max_connections cannot be negative",
		})
	}

	if db.MaxIdleConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".max_idle_connections",
			Message: "max_idle_connections cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateJob(name string, job *JobConfig) ValidationErrors {
	var errors ValidationErrors
	prefix := fmt.Sprintf("jobs.%s", name)

	required := func(field, value string) {
		if value == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + "." + field,
				Message: field + " is required",
			})
		}
	}
	identifier := func(field, value string) {
		if value != "" && !sqlutil.IsValidIdentifier(value) {
			errors = append(errors, ValidationError{
				Field:   prefix + "." + field,
				Message: fmt.Sprintf("%q is not a valid identifier", value),
			})
		}
	}

	required("key", job.Key)

	for _, dep := range job.DependsOn {
		if dep == name {
			errors = append(errors, ValidationError{
				Field:   prefix + ".depends_on",
				Message: "job cannot depend on itself",
			})
			continue
		}
		if _, ok := c.Jobs[dep]; !ok {
			errors = append(errors, ValidationError{
				Field:   prefix + ".depends_on",
				Message: fmt.Sprintf("unknown job %q", dep),
			})
		}
	}

	if job.Source.Delimiter != "" && len([]rune(job.Source.Delimiter)) != 1 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".source.delimiter",
			Message: "delimiter must be a single character",
		})
	}

	switch job.Type {
	case JobTypeLink:
		if job.Source.Table == "" && job.Source.CSV == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".source",
				Message: "source.table or source.csv is required",
			})
		}
		if job.Source.CSV != "" {
			required("target.table", job.Target.Table)
		}
		required("target.column", job.Target.Column)
		errors = append(errors, validateReference(prefix+".reference", job.Reference)...)
	case JobTypeGenerate:
		required("source.table", job.Source.Table)
		required("target.column", job.Target.Column)
		if job.Generator != "uuid" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".generator",
				Message: "generator must be 'uuid'",
			})
		}
	case JobTypeJoin:
		required("source.csv", job.Source.CSV)
		required("record_id", job.RecordID)
		required("target.table", job.Target.Table)
		required("target.column", job.Target.Column)
		required("target.match_column", job.Target.MatchColumn)
		errors = append(errors, validateReference(prefix+".reference", job.Reference)...)
		errors = append(errors, validateReference(prefix+".record_reference", job.RecordReference)...)
	case JobTypeImport:
		required("source.csv", job.Source.CSV)
		required("target.table", job.Target.Table)
		if len(job.Fields) == 0 {
			errors = append(errors, ValidationError{
				Field:   prefix + ".fields",
				Message: "at least one field mapping is required",
			})
		}
		validTypes := map[string]bool{"": true, "string": true, "lower": true, "digits": true, "bool": true, "date": true, "int": true}
		for i, f := range job.Fields {
			fieldPrefix := fmt.Sprintf("%s.fields[%d]", prefix, i)
			if f.Column == "" {
				errors = append(errors, ValidationError{
					Field:   fieldPrefix + ".column",
					Message: "column is required",
				})
			} else if !sqlutil.IsValidIdentifier(f.Column) {
				errors = append(errors, ValidationError{
					Field:   fieldPrefix + ".column",
					Message: fmt.Sprintf("%q is not a valid identifier", f.Column),
				})
			}
			if !validTypes[f.Type] {
				errors = append(errors, ValidationError{
					Field:   fieldPrefix + ".type",
					Message: "type must be 'string', 'lower', 'digits', 'bool', 'date', or 'int'",
				})
			}
		}
	default:
		errors = append(errors, ValidationError{
			Field:   prefix + ".type",
			Message: "type must be 'link', 'generate', 'join', or 'import'",
		})
	}

	identifier("source.table", job.Source.Table)
	for _, col := range job.Source.Columns {
		identifier("source.columns", col)
	}
	identifier("target.table", job.Target.Table)
	identifier("target.column", job.Target.Column)
	identifier("target.match_column", job.Target.MatchColumn)

	if job.Processing != nil {
		if job.Processing.Concurrency < 0 {
			errors = append(errors, ValidationError{
				Field:   prefix + ".processing.concurrency",
				Message: "concurrency cannot be negative",
			})
		}
		if job.Processing.CallTimeoutSeconds < 0 {
			errors = append(errors, ValidationError{
				Field:   prefix + ".processing.call_timeout_seconds",
				Message: "call_timeout_seconds cannot be negative",
			})
		}
	}

	return errors
}

func validateReference(prefix string, ref *ReferenceConfig) ValidationErrors {
	var errors ValidationErrors

	if ref == nil {
		return ValidationErrors{{Field: prefix, Message: "reference is required"}}
	}

	fields := []struct{ name, value string }{
		{"table", ref.Table},
		{"key", ref.Key},
		{"value", ref.Value},
	}
	for _, f := range fields {
		field, value := f.name, f.value
		if value == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + "." + field,
				Message: field + " is required",
			})
		} else if !sqlutil.IsValidIdentifier(value) {
			errors = append(errors, ValidationError{
				Field:   prefix + "." + field,
				Message: fmt.Sprintf("%q is not a valid identifier", value),
			})
		}
	}

	if ref.OrderBy != "" && !sqlutil.IsValidIdentifier(ref.OrderBy) {
		errors = append(errors, ValidationError{
			Field:   prefix + ".order_by",
			Message: fmt.Sprintf("%q is not a valid identifier", ref.OrderBy),
		})
	}

	validPolicies := map[string]bool{"": true, "first": true, "strict": true}
	if !validPolicies[ref.OnDuplicate] {
		errors = append(errors, ValidationError{
			Field:   prefix + ".on_duplicate",
			Message: "on_duplicate must be 'first' or 'strict'",
		})
	}

	return errors
}

func (c *Config) validateProcessing(prefix string, p *ProcessingConfig) ValidationErrors {
	var errors ValidationErrors

	if p.Concurrency <= 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".concurrency",
			Message: "concurrency must be positive",
		})
	}

	if p.CallTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".call_timeout_seconds",
			Message: "call_timeout_seconds cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[c.Logging.Format] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'text'",
		})
	}

	return errors
}
