// Package config provides configuration structures and loading for GoBackfill.
package config

// Store backends.
const (
	BackendPostgREST = "postgrest"
	BackendMySQL     = "mysql"
	BackendPostgres  = "postgres"
	BackendSQLite    = "sqlite"
)

// Job types.
const (
	JobTypeLink     = "link"
	JobTypeGenerate = "generate"
	JobTypeJoin     = "join"
	JobTypeImport   = "import"
)

// Config represents the complete application configuration.
type Config struct {
	Store      StoreConfig          `yaml:"store" mapstructure:"store"`
	Jobs       map[string]JobConfig `yaml:"jobs" mapstructure:"jobs"`
	Processing ProcessingConfig     `yaml:"processing" mapstructure:"processing"`
	Logging    LoggingConfig        `yaml:"logging" mapstructure:"logging"`
}

// StoreConfig selects and configures the backend that rows are read from and written to.
type StoreConfig struct {
	Backend   string          `yaml:"backend" mapstructure:"backend"`
	PostgREST PostgRESTConfig `yaml:"postgrest" mapstructure:"postgrest"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
}

// PostgRESTConfig configures access to a Supabase/PostgREST table API.
type PostgRESTConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	APIKey         string `yaml:"api_key" mapstructure:"api_key"`
	Schema         string `yaml:"schema" mapstructure:"schema"`
	RetryMax       int    `yaml:"retry_max" mapstructure:"retry_max"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// DatabaseConfig represents a SQL database connection configuration.
type DatabaseConfig struct {
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	Database           string `yaml:"database" mapstructure:"database"`
	TLS                string `yaml:"tls" mapstructure:"tls"` // disable, preferred, required
	DSN                string `yaml:"dsn" mapstructure:"dsn"` // overrides the fields above; file path for sqlite
	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`
}

// JobConfig represents a single backfill job.
type JobConfig struct {
	Type        string   `yaml:"type" mapstructure:"type"`
	Description string   `yaml:"description" mapstructure:"description"`
	DependsOn   []string `yaml:"depends_on" mapstructure:"depends_on"`

	// Key is the row field holding the legacy identifier.
	Key string `yaml:"key" mapstructure:"key"`
	// Split turns Key into a list field; each element becomes its own row.
	Split string `yaml:"split" mapstructure:"split"`
	// RecordID is the row field identifying the record to write back to.
	RecordID string `yaml:"record_id" mapstructure:"record_id"`

	Source          SourceConfig     `yaml:"source" mapstructure:"source"`
	Reference       *ReferenceConfig `yaml:"reference,omitempty" mapstructure:"reference"`
	RecordReference *ReferenceConfig `yaml:"record_reference,omitempty" mapstructure:"record_reference"`
	Target          TargetConfig     `yaml:"target" mapstructure:"target"`

	Overwrite    bool           `yaml:"overwrite" mapstructure:"overwrite"`
	Generator    string         `yaml:"generator" mapstructure:"generator"`
	Fields       []FieldMapping `yaml:"fields" mapstructure:"fields"`
	SkipExisting bool           `yaml:"skip_existing" mapstructure:"skip_existing"`

	Processing *ProcessingConfig `yaml:"processing,omitempty" mapstructure:"processing"`
}

// SourceConfig describes where a job reads its rows from: a CSV file or a table.
type SourceConfig struct {
	CSV       string   `yaml:"csv" mapstructure:"csv"`
	Delimiter string   `yaml:"delimiter" mapstructure:"delimiter"`
	Table     string   `yaml:"table" mapstructure:"table"`
	Columns   []string `yaml:"columns" mapstructure:"columns"`
}

// ReferenceConfig describes a legacy key -> canonical key cross-reference.
type ReferenceConfig struct {
	Table       string `yaml:"table" mapstructure:"table"`
	Key         string `yaml:"key" mapstructure:"key"`
	Value       string `yaml:"value" mapstructure:"value"`
	OrderBy     string `yaml:"order_by" mapstructure:"order_by"`
	Preload     bool   `yaml:"preload" mapstructure:"preload"`
	Cache       bool   `yaml:"cache" mapstructure:"cache"`
	OnDuplicate string `yaml:"on_duplicate" mapstructure:"on_duplicate"` // first or strict
}

// TargetConfig describes the table and column a job writes.
type TargetConfig struct {
	Table       string `yaml:"table" mapstructure:"table"`
	Column      string `yaml:"column" mapstructure:"column"`
	MatchColumn string `yaml:"match_column" mapstructure:"match_column"`
}

// FieldMapping maps one CSV field into one inserted column for import jobs.
type FieldMapping struct {
	Column string `yaml:"column" mapstructure:"column"`
	From   string `yaml:"from" mapstructure:"from"`
	Type   string `yaml:"type" mapstructure:"type"` // string, lower, digits, bool, date, int
	Value  string `yaml:"value" mapstructure:"value"`
}

// ProcessingConfig represents worker pool settings.
type ProcessingConfig struct {
	Concurrency        int `yaml:"concurrency" mapstructure:"concurrency"`
	CallTimeoutSeconds int `yaml:"call_timeout_seconds" mapstructure:"call_timeout_seconds"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: BackendPostgREST,
			PostgREST: PostgRESTConfig{
				Schema:         "public",
				RetryMax:       2,
				TimeoutSeconds: 60,
			},
			Database: DatabaseConfig{
				TLS:                "preferred",
				MaxConnections:     10,
				MaxIdleConnections: 5,
			},
		},
		Processing: ProcessingConfig{
			Concurrency:        4,
			CallTimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// GetJobProcessing returns the processing config for a job by name, falling back to global if not set.
func (c *Config) GetJobProcessing(jobName string) ProcessingConfig {
	job, err := c.GetJob(jobName)
	if err != nil {
		return c.Processing
	}
	return job.GetJobProcessing(c.Processing)
}

// GetJobProcessing returns the processing config for a job, falling back to global if not set.
func (jc *JobConfig) GetJobProcessing(global ProcessingConfig) ProcessingConfig {
	if jc.Processing == nil {
		return global
	}

	result := global
	if jc.Processing.Concurrency > 0 {
		result.Concurrency = jc.Processing.Concurrency
	}
	if jc.Processing.CallTimeoutSeconds > 0 {
		result.CallTimeoutSeconds = jc.Processing.CallTimeoutSeconds
	}
	return result
}

// TargetTable returns the table a job writes to, defaulting to the source table.
func (jc *JobConfig) TargetTable() string {
	if jc.Target.Table != "" {
		return jc.Target.Table
	}
	return jc.Source.Table
}

// RecordField returns the row field identifying the record, defaulting to "id".
func (jc *JobConfig) RecordField() string {
	if jc.RecordID != "" {
		return jc.RecordID
	}
	if jc.Type == JobTypeImport || jc.Type == JobTypeGenerate {
		return jc.Key
	}
	return "id"
}

// MatchColumn returns the target column matched against the record id.
func (jc *JobConfig) MatchColumn() string {
	if jc.Target.MatchColumn != "" {
		return jc.Target.MatchColumn
	}
	return jc.RecordField()
}

// OrderColumn returns the column reference lookups are ordered by.
func (rc *ReferenceConfig) OrderColumn() string {
	if rc.OrderBy != "" {
		return rc.OrderBy
	}
	return rc.Value
}

// Strict reports whether ambiguous legacy keys are rejected instead of taking the first match.
func (rc *ReferenceConfig) Strict() bool {
	return rc.OnDuplicate == "strict"
}
