package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the zerolog-backed logger.
type Options struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level" toml:"level" env:"LEVEL"`

	// Format is "console" or "json". Defaults to console.
	Format string `yaml:"format" toml:"format" env:"FORMAT"`

	// File, when set, receives log output through a rotating writer
	// instead of stderr.
	File string `yaml:"file" toml:"file" env:"FILE"`

	// MaxSizeMB is the rotation threshold for File.
	MaxSizeMB int `yaml:"max_size_mb" toml:"max_size_mb" env:"MAX_SIZE_MB"`

	// MaxBackups is how many rotated files are kept.
	MaxBackups int `yaml:"max_backups" toml:"max_backups" env:"MAX_BACKUPS"`

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int `yaml:"max_age_days" toml:"max_age_days" env:"MAX_AGE_DAYS"`
}

// ZerologLogger implements Logger on top of zerolog.
type ZerologLogger struct {
	logger zerolog.Logger
	closer io.Closer
}

// New builds a zerolog logger from opts.
func New(opts Options) (*ZerologLogger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("logging: invalid level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var out io.Writer = os.Stderr
	var closer io.Closer
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		out = rotator
		closer = rotator
	}

	if opts.Format != "json" && opts.File == "" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &ZerologLogger{logger: logger, closer: closer}, nil
}

// NewWithLogger wraps an existing zerolog.Logger.
func NewWithLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

// Info logs at info level.
func (z *ZerologLogger) Info(msg string, args ...any) {
	withFields(z.logger.Info(), args).Msg(msg)
}

// Error logs at error level.
func (z *ZerologLogger) Error(msg string, args ...any) {
	withFields(z.logger.Error(), args).Msg(msg)
}

// Warn logs at warn level.
func (z *ZerologLogger) Warn(msg string, args ...any) {
	withFields(z.logger.Warn(), args).Msg(msg)
}

// Debug logs at debug level.
func (z *ZerologLogger) Debug(msg string, args ...any) {
	withFields(z.logger.Debug(), args).Msg(msg)
}

// Close releases the rotating file writer, if any.
func (z *ZerologLogger) Close() error {
	if z.closer == nil {
		return nil
	}
	return z.closer.Close()
}

// Zerolog returns the underlying zerolog.Logger.
func (z *ZerologLogger) Zerolog() zerolog.Logger {
	return z.logger
}

// withFields turns key-value pairs into typed zerolog fields.
// A trailing key without a value is logged under "!BADKEY".
func withFields(event *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			event = event.Interface("!BADKEY", key)
			break
		}
		switch v := args[i+1].(type) {
		case string:
			event = event.Str(key, v)
		case int:
			event = event.Int(key, v)
		case int64:
			event = event.Int64(key, v)
		case uint64:
			event = event.Uint64(key, v)
		case float64:
			event = event.Float64(key, v)
		case bool:
			event = event.Bool(key, v)
		case time.Duration:
			event = event.Dur(key, v)
		case time.Time:
			event = event.Time(key, v)
		case error:
			event = event.AnErr(key, v)
		case fmt.Stringer:
			event = event.Stringer(key, v)
		default:
			event = event.Interface(key, v)
		}
	}
	return event
}
