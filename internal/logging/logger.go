// Package logging provides structured logging for the ktxgo reservation engine.
// It wraps log/slog with a level filter, component scoping and redaction of
// payment and session secrets so that card data never reaches a log sink.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel represents the severity of log messages
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

// String returns the string representation of the log level
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// slog maps the level onto slog. Anything above ErrorLevel silences the logger.
func (l LogLevel) slog() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelError + 4
	}
}

// ParseLevel converts a level name such as "debug" into a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// Config represents logging configuration
type Config struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    string // "stdout", "stderr", or file path
	Component string
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:     InfoLevel,
		Format:    "text",
		Output:    "stderr",
		Component: "ktxgo",
	}
}

// Logger is a component-scoped structured logger. Loggers derived with
// WithComponent or WithField share the level of their parent.
type Logger struct {
	logger    *slog.Logger
	level     *slog.LevelVar
	component string
}

// Card numbers keep their last four digits; the other secrets are dropped.
var (
	maskedKeys   = []string{"card_number", "card_no"}
	redactedKeys = []string{"token", "password", "birthday", "card_expire", "chat_id", "cookie"}
)

func matchesAny(key string, names []string) bool {
	lower := strings.ToLower(key)
	for _, n := range names {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// MaskCardNumber hides all but the last four digits of a card number.
func MaskCardNumber(number string) string {
	var digits []rune
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}

func redact(_ []string, a slog.Attr) slog.Attr {
	switch {
	case matchesAny(a.Key, maskedKeys):
		return slog.String(a.Key, MaskCardNumber(a.Value.String()))
	case matchesAny(a.Key, redactedKeys):
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	var output io.Writer
	switch config.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		output = file
	}
	return NewLoggerWithWriter(config, output), nil
}

// NewLoggerWithWriter creates a logger that writes to w. Output in config is ignored.
func NewLoggerWithWriter(config Config, w io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(config.Level.slog())
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{logger: slog.New(handler), level: level, component: config.Component}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return NewLoggerWithWriter(Config{Level: ErrorLevel + 1}, io.Discard)
}

func (l *Logger) derive(logger *slog.Logger, component string) *Logger {
	return &Logger{logger: logger, level: l.level, component: component}
}

// WithComponent creates a new logger for a specific component
func (l *Logger) WithComponent(component string) *Logger {
	return l.derive(l.logger.With(slog.String("component", component)), component)
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(l.logger.With(slog.Any(key, value)), l.component)
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.derive(l.logger.With(args...), l.component)
}

// SetLevel changes the level of this logger and every logger derived from
// the same root.
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(level.slog())
}

// Enabled reports whether records at level are written. Callers use it to
// skip building per-train records nobody will see.
func (l *Logger) Enabled(level LogLevel) bool {
	return l.logger.Enabled(context.Background(), level.slog())
}

// Component returns the component name the logger is scoped to.
func (l *Logger) Component() string {
	return l.component
}

// Debug logs a debug level message
func (l *Logger) Debug(msg string, args ...interface{}) { l.logger.Debug(msg, args...) }

// Info logs an info level message
func (l *Logger) Info(msg string, args ...interface{}) { l.logger.Info(msg, args...) }

// Warn logs a warning level message
func (l *Logger) Warn(msg string, args ...interface{}) { l.logger.Warn(msg, args...) }

// Error logs an error level message
func (l *Logger) Error(msg string, args ...interface{}) { l.logger.Error(msg, args...) }

// LogVendorCall logs a vendor endpoint round trip. Parameters are never logged.
func (l *Logger) LogVendorCall(endpoint string, duration time.Duration, err error) {
	attrs := []interface{}{
		slog.String("endpoint", endpoint),
		slog.Duration("duration", duration),
	}
	if err != nil {
		l.Debug("Vendor call failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	l.Debug("Vendor call completed", attrs...)
}

// LogConfigLoad logs which profile was loaded from where
func (l *Logger) LogConfigLoad(configPath string, profileName string) {
	l.Debug("Loading configuration",
		slog.String("config_path", configPath),
		slog.String("profile", profileName))
}

// LogConfigError logs configuration-related errors
func (l *Logger) LogConfigError(operation string, err error) {
	l.Error("Configuration error",
		slog.String("operation", operation),
		slog.String("error", err.Error()))
}

// LogSessionChange logs an authentication state transition
func (l *Logger) LogSessionChange(from, to bool, reason string) {
	l.Info("Session state change",
		slog.Bool("from", from),
		slog.Bool("to", to),
		slog.String("reason", reason))
}

var globalLogger *Logger

// InitGlobalLogger initializes the global logger with the specified configuration
func InitGlobalLogger(config Config) error {
	logger, err := NewLogger(config)
	if err != nil {
		return fmt.Errorf("failed to initialize global logger: %w", err)
	}
	globalLogger = logger
	return nil
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		globalLogger, _ = NewLogger(DefaultConfig())
	}
	return globalLogger
}

// Component loggers used when a caller passes no logger.
func GetSessionLogger() *Logger { return GetGlobalLogger().WithComponent("session") }
func GetPollerLogger() *Logger  { return GetGlobalLogger().WithComponent("poller") }
func GetReserveLogger() *Logger { return GetGlobalLogger().WithComponent("reserve") }
func GetPaymentLogger() *Logger { return GetGlobalLogger().WithComponent("payment") }
func GetBrowserLogger() *Logger { return GetGlobalLogger().WithComponent("browser") }
func GetNotifyLogger() *Logger  { return GetGlobalLogger().WithComponent("notify") }
func GetConfigLogger() *Logger  { return GetGlobalLogger().WithComponent("config") }
func GetAuthLogger() *Logger    { return GetGlobalLogger().WithComponent("auth") }
func GetJournalLogger() *Logger { return GetGlobalLogger().WithComponent("journal") }
