package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/exhibit-core/internal/infrastructure/config"
)

// ServiceName is attached to every record.
const ServiceName = "exhibit-core"

// Logger is a slog.Logger with exhibit-core's default fields. It satisfies
// the small Logger interfaces the other packages declare.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from cfg. Output is stdout, stderr or a file path
// opened for append; a file that cannot be opened falls back to stderr
// with a warning.
func New(cfg config.LoggingConfig, version string) *Logger {
	w, err := openOutput(cfg.Output)
	if err != nil {
		l := NewWithWriter(cfg, version, os.Stderr)
		l.Warn("log output unavailable, using stderr", "output", cfg.Output, "error", err)
		return l
	}
	return NewWithWriter(cfg, version, w)
}

// NewWithWriter builds a Logger on w. Format "text" selects logfmt-style
// output; anything else is JSON.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h).With("service", ServiceName, "version", version)}
}

func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	return os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // operator-chosen path
}

// parseLevel accepts slog's names in any case plus "warning". Anything
// unrecognised is info.
func parseLevel(name string) slog.Level {
	if strings.EqualFold(name, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// With returns a child Logger carrying args.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags a child logger with component=name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is a JSON info logger on stdout for use before config is loaded.
func Default() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", os.Stdout)
}
