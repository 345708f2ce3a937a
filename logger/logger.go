// Package logger provides the structured logging interface used by every
// component of the lobby server, backed by zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair for structured log output.
type Field struct {
	Key   string
	Value any
}

// Err returns the conventional field for an error value.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger is an interface for structured logging. Loggers may be derived with
// With to attach component- or connection-scoped fields.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	Error(msg string, fields ...Field)

	// With returns a new Logger that includes the given fields in all
	// subsequent log entries. The original Logger is unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// Close releases resources held by the logger (e.g. file handles).
	// Derived loggers never close the shared resources. It is safe to call
	// multiple times.
	Close() error
}

// Format selects how entries are rendered.
type Format string

const (
	// FormatConsole renders colorized human-readable lines.
	FormatConsole Format = "console"

	// FormatJSON renders one JSON object per line.
	FormatJSON Format = "json"
)

// Options configures New.
type Options struct {
	// Service is attached to every entry and names the log files.
	Service string

	// Level is the minimum level logged: debug, info, warn or error.
	Level string

	// Format is FormatConsole or FormatJSON. Empty means console.
	Format Format

	// Dir, when non-empty, additionally tees JSON entries into daily-rotated
	// files named {Service}_{date}.log inside Dir.
	Dir string

	// Output replaces stdout as the primary destination. Used by tests.
	Output io.Writer
}

type zerologLogger struct {
	logger     zerolog.Logger
	fileWriter *DailyFileWriter
}

// New builds a Logger from opts.
//
// Parameters:
//   - opts: Output, level and rotation settings
//
// Returns:
//   - The Logger
//   - An error if the level or format is unknown or the log directory cannot
//     be prepared
func New(opts Options) (Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	switch opts.Format {
	case "", FormatConsole:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000"}
	case FormatJSON:
	default:
		return nil, fmt.Errorf("logger: unknown format %q", opts.Format)
	}

	z := &zerologLogger{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("logger: create log directory: %w", err)
		}

		z.fileWriter, err = NewDailyFileWriter(opts.Service, opts.Dir)
		if err != nil {
			return nil, err
		}

		out = io.MultiWriter(out, z.fileWriter)
	}

	z.logger = zerolog.New(out).With().Str("service", opts.Service).Timestamp().Logger().Level(level)
	return z, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

// ParseLevel maps a level name to its zerolog level. Empty means info.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("logger: unknown level %q", name)
	}
}

func (z *zerologLogger) Debug(msg string, fields ...Field) {
	emit(z.logger.Debug(), msg, fields)
}

func (z *zerologLogger) Info(msg string, fields ...Field) {
	emit(z.logger.Info(), msg, fields)
}

func (z *zerologLogger) Warn(msg string, fields ...Field) {
	emit(z.logger.Warn(), msg, fields)
}

func (z *zerologLogger) Error(msg string, fields ...Field) {
	emit(z.logger.Error(), msg, fields)
}

func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{logger: z.logger.With().Fields(pairs(fields)).Logger()}
}

func (z *zerologLogger) Close() error {
	if z.fileWriter == nil {
		return nil
	}
	return z.fileWriter.Close()
}

// emit writes fields in call order. Disabled levels return a nil event,
// so nothing is built for them.
func emit(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	if len(fields) > 0 {
		ev = ev.Fields(pairs(fields))
	}
	ev.Msg(msg)
}

// pairs flattens fields into zerolog's alternating key/value form.
func pairs(fields []Field) []any {
	kv := make([]any, 0, 2*len(fields))
	for _, f := range fields {
		kv = append(kv, f.Key, f.Value)
	}
	return kv
}
