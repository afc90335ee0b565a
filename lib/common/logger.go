package common

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/rs/zerolog"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dMemLogger implements the ILogger interface on top of a zerolog logger
type dMemLogger struct {
	name   string
	level  logger.LogLevel
	logger zerolog.Logger
}

func (l *dMemLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *dMemLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.logger.Debug().Msgf(format, args...)
	}
}

func (l *dMemLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.logger.Info().Msgf(format, args...)
	}
}

func (l *dMemLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.logger.Warn().Msgf(format, args...)
	}
}

func (l *dMemLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.logger.Error().Msgf(format, args...)
	}
}

func (l *dMemLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		l.logger.Error().Msgf(format, args...)
	}
	panic(fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// sink is the root zerolog logger all package loggers are derived from
var sink = zerolog.New(os.Stdout).With().Timestamp().Logger()

// CreateLogger implements dragonboat's logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	return &dMemLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: sink.With().Str("pkg", pkgName).Logger(),
	}
}

// newSink creates the root logger for the given output format (json or console)
func newSink(w io.Writer, format string) (zerolog.Logger, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return zerolog.New(w).With().Timestamp().Logger(), nil
	case "console":
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
		return zerolog.New(cw).With().Timestamp().Logger(), nil
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log format: %s. must be one of json, console", format)
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// dragonboatLoggers are the internal loggers of dragonboat, they are noisy and
// are never set below the warning level unless debug logging is requested
var dragonboatLoggers = []string{"raft", "raftdb", "rsm", "transport", "dragonboat", "grpc", "util", "logdb", "config"}

// Loggers of dMem itself
var dMemLoggers = []string{"journal", "membership", "sharding", "cmd"}

// InitLoggers installs the zerolog backed logger factory and applies the level
func InitLoggers(level, format string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	s, err := newSink(os.Stdout, format)
	if err != nil {
		return err
	}
	sink = s

	logger.SetLoggerFactory(CreateLogger)

	internal := lvl
	if internal > logger.WARNING {
		internal = logger.WARNING
	}
	if lvl == logger.DEBUG {
		internal = logger.DEBUG
	}
	for _, name := range dragonboatLoggers {
		logger.GetLogger(name).SetLevel(internal)
	}
	for _, name := range dMemLoggers {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
