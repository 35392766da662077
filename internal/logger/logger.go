// Package logger builds the zap loggers gobackfill reports progress through.
//
// Logs go to stderr unless configured otherwise, leaving stdout to the run
// report so that "--report-format json > report.json" stays parseable.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dbsmedya/gobackfill/internal/config"
)

// Outputs accepted by New besides a file path.
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
)

// Logger wraps zap.SugaredLogger with context methods.
type Logger struct {
	*zap.SugaredLogger
	base *zap.Logger
}

// New creates a Logger from configuration. A file output receives every entry
// at the configured level and echoes warnings and errors to stderr.
func New(cfg *config.LoggingConfig) (*Logger, error) {
	core, err := buildCore(cfg)
	if err != nil {
		return nil, err
	}
	return FromZap(zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))), nil
}

// NewDefault creates an info level text Logger on stderr.
func NewDefault() *Logger {
	logger, _ := New(&config.LoggingConfig{Level: "info", Format: "text", Output: OutputStderr})
	return logger
}

// NewNop creates a Logger that discards everything.
func NewNop() *Logger {
	return FromZap(zap.NewNop())
}

// FromZap wraps an existing zap logger.
func FromZap(base *zap.Logger) *Logger {
	return &Logger{
		SugaredLogger: base.Sugar(),
		base:          base,
	}
}

// ReserveStdout moves stdout logging to stderr. Used when stdout carries a
// machine-readable report.
func ReserveStdout(cfg *config.LoggingConfig) {
	if cfg.Output == OutputStdout {
		cfg.Output = OutputStderr
	}
}

// parseLevel falls back to info for anything zap does not recognise.
func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func buildCore(cfg *config.LoggingConfig) (zapcore.Core, error) {
	level := parseLevel(cfg.Level)

	switch cfg.Output {
	case OutputStdout:
		return zapcore.NewCore(buildEncoder(cfg.Format, true), zapcore.Lock(os.Stdout), level), nil
	case OutputStderr, "":
		return zapcore.NewCore(buildEncoder(cfg.Format, true), zapcore.Lock(os.Stderr), level), nil
	}

	file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
	}
	warnings := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.WarnLevel && level.Enabled(l)
	})
	return zapcore.NewTee(
		zapcore.NewCore(buildEncoder(cfg.Format, false), zapcore.AddSync(file), level),
		zapcore.NewCore(buildEncoder(cfg.Format, true), zapcore.Lock(os.Stderr), warnings),
	), nil
}

// buildEncoder returns a JSON encoder for "json" and a console encoder
// otherwise; colored levels only make sense on a console.
func buildEncoder(format string, colored bool) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	if colored {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(ec)
}

// WithJob returns a Logger with job context.
func (l *Logger) WithJob(jobName string) *Logger {
	return l.with("job", jobName)
}

// WithRow returns a Logger with source row context.
func (l *Logger) WithRow(index int) *Logger {
	return l.with("row", index)
}

// WithTable returns a Logger with table context.
func (l *Logger) WithTable(tableName string) *Logger {
	return l.with("table", tableName)
}

func (l *Logger) with(key string, value interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(key, value),
		base:          l.base,
	}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}
