package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configures the service logger.
type Config struct {
	Level       string
	Environment string
	ServiceName string
	Version     string
	// Output defaults to os.Stdout.
	Output io.Writer
}

// Logger wraps zerolog so services can share one configured instance.
type Logger struct {
	zerolog.Logger
}

// New builds a logger. Development environments get a human readable console
// writer, everything else logs JSON.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Environment == "development" || cfg.Environment == "local" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Logger()

	return &Logger{Logger: zl}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// With returns a child logger carrying an extra component field.
func (l *Logger) With(component string) *Logger {
	return &Logger{Logger: l.Logger.With().Str("component", component).Logger()}
}
