package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity levels
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel converts a string to a Level
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Logger is a structured logger backed by zerolog. component and traceID are
// written per event, never into zl, so each appears once per line.
type Logger struct {
	zl        zerolog.Logger
	component string
	traceID   string
}

// Config holds logger configuration
type Config struct {
	Level       string `json:"level" mapstructure:"level"`
	Output      string `json:"output" mapstructure:"output"` // "stdout", "stderr", or file path
	Component   string `json:"component" mapstructure:"component"`
	IncludeFile bool   `json:"include_file" mapstructure:"include_file"`
	JSONFormat  bool   `json:"json_format" mapstructure:"json_format"`
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// New creates a new logger with the given configuration
func New(cfg *Config) *Logger {
	var output io.Writer = os.Stdout

	if cfg.Output == "stderr" {
		output = os.Stderr
	} else if cfg.Output != "" && cfg.Output != "stdout" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			output = file
		}
	}

	return NewWithWriter(output, cfg)
}

// NewWithWriter builds a logger writing to w; the Output field of cfg is ignored.
func NewWithWriter(w io.Writer, cfg *Config) *Logger {
	if !cfg.JSONFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Level(ParseLevel(cfg.Level).zerolog()).With().Timestamp()
	if cfg.IncludeFile {
		ctx = ctx.CallerWithSkipFrameCount(4)
	}

	return &Logger{zl: ctx.Logger(), component: cfg.Component}
}

// Default returns the default logger instance
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(&Config{Level: "INFO", Output: "stdout", Component: "app", JSONFormat: true})
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Component returns the component name attached to the logger
func (l *Logger) Component() string {
	return l.component
}

// WithComponent returns a new logger with the specified component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zl: l.zl, component: component, traceID: l.traceID}
}

// WithTraceID returns a new logger with the specified trace ID
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{zl: l.zl, component: l.component, traceID: traceID}
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(l.zl.With().Interface(key, value))
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.derive(l.zl.With().Fields(fields))
}

// WithError returns a new logger with an error field
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.derive(l.zl.With().Err(err))
}

// WithDuration returns a new logger with duration field
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.derive(l.zl.With().Str("duration", d.String()))
}

func (l *Logger) derive(ctx zerolog.Context) *Logger {
	return &Logger{zl: ctx.Logger(), component: l.component, traceID: l.traceID}
}

// log accepts either alternating key/value pairs or printf arguments.
func (l *Logger) log(ev *zerolog.Event, msg string, args ...interface{}) {
	if ev == nil {
		return
	}
	if l.component != "" {
		ev = ev.Str("component", l.component)
	}
	if l.traceID != "" {
		ev = ev.Str("trace_id", l.traceID)
	}
	if len(args) == 0 {
		ev.Msg(msg)
		return
	}
	if len(args)%2 == 0 {
		if _, ok := args[0].(string); ok && countVerbs(msg) != len(args) {
			for i := 0; i < len(args); i += 2 {
				key, ok := args[i].(string)
				if !ok {
					key = fmt.Sprint(args[i])
				}
				if err, isErr := args[i+1].(error); isErr {
					ev = ev.AnErr(key, err)
					continue
				}
				ev = ev.Interface(key, args[i+1])
			}
			ev.Msg(msg)
			return
		}
	}
	ev.Msg(fmt.Sprintf(msg, args...))
}

// countVerbs counts printf verbs in msg, ignoring "%%" and a '%' followed by a space or the end
func countVerbs(msg string) int {
	n := 0
	for i := 0; i < len(msg)-1; i++ {
		if msg[i] != '%' {
			continue
		}
		next := msg[i+1]
		if next == '%' {
			i++
			continue
		}
		if next != ' ' {
			n++
		}
	}
	return n
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(l.zl.Debug(), msg, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(l.zl.Info(), msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(l.zl.Warn(), msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(l.zl.Error(), msg, args...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log(l.zl.WithLevel(zerolog.FatalLevel), msg, args...)
	os.Exit(1)
}

// Package-level functions for default logger

// Debug logs a debug message using the default logger
func Debug(msg string, args ...interface{}) {
	Default().Debug(msg, args...)
}

// Info logs an info message using the default logger
func Info(msg string, args ...interface{}) {
	Default().Info(msg, args...)
}

// Warn logs a warning message using the default logger
func Warn(msg string, args ...interface{}) {
	Default().Warn(msg, args...)
}

// Error logs an error message using the default logger
func Error(msg string, args ...interface{}) {
	Default().Error(msg, args...)
}

// WithComponent returns a new logger with the specified component
func WithComponent(component string) *Logger {
	return Default().WithComponent(component)
}
