package logging

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Config holds logging settings.
type Config struct {
	Level    string `yaml:"level"`     // debug, info, warn, error
	Format   string `yaml:"format"`    // json, text
	Output   string `yaml:"output"`    // stdout, stderr, file
	FilePath string `yaml:"file_path"` // if output=file
}

// Logger wraps slog.Logger with a runtime-adjustable level.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New creates a new logger from configuration
func New(cfg *Config) (*Logger, error) {
	var output io.Writer
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		output = f
	default:
		output = os.Stdout
	}

	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
	}, nil
}

// NewDefault creates a logger with sensible defaults (info level, text format, stdout)
func NewDefault() *Logger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return &Logger{
		Logger: slog.New(handler),
		level:  level,
	}
}

// SetLevel adjusts the minimum level at runtime. Used by the config watcher.
func (l *Logger) SetLevel(level string) {
	l.level.Set(ParseLevel(level))
}

// WithField creates a new logger with an additional field
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{
		Logger: l.Logger.With(key, value),
		level:  l.level,
	}
}

// ParseLevel converts a string level to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var global atomic.Pointer[Logger]

func init() {
	global.Store(NewDefault())
}

// SetGlobal sets the global logger
func SetGlobal(logger *Logger) {
	global.Store(logger)
	slog.SetDefault(logger.Logger)
}

// Global returns the global logger
func Global() *Logger {
	return global.Load()
}
