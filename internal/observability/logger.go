package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type LogConfig struct {
	Level       string    `yaml:"level" toml:"level"`
	Format      string    `yaml:"format" toml:"format"` // json or console
	ServiceName string    `yaml:"-" toml:"-"`
	Output      io.Writer `yaml:"-" toml:"-"`
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(cfg LogConfig) zerolog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	service := cfg.ServiceName
	if service == "" {
		service = "winescan"
	}
	return zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
