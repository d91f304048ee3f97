// Package logging provides structured logging for resolvd.
//
// Loggers wrap Zap with a JSON or console encoder on stdout and an
// optional OpenTelemetry log bridge, so the same call sites feed both
// local output and a collector when one is configured.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TraceLevel is a custom level below Debug for ultra-verbose logging.
// Value: -2 (Debug is -1, Info is 0).
const TraceLevel = zapcore.Level(-2)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level emitted.
	Level zapcore.Level

	// Format is "json" or "console".
	Format string

	// Stdout enables the stdout core. On by default.
	Stdout bool

	// Stderr routes the stdout core to stderr instead. Used by the CLI
	// so log lines never interleave with command output.
	Stderr bool

	// OTEL enables the OpenTelemetry bridge core when a provider is
	// supplied to New.
	OTEL bool

	// Fields are constant fields attached to every entry.
	Fields map[string]string
}

// NewDefaultConfig returns production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Stdout: true,
		Fields: map[string]string{"service": "resolvd"},
	}
}

// LevelFromString parses a level name, supporting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// New creates a *zap.Logger from config. otelProvider may be nil to
// disable OTEL output regardless of config.
func New(cfg *Config, otelProvider log.LoggerProvider) (*zap.Logger, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	cores := make([]zapcore.Core, 0, 2)

	if cfg.Stdout {
		out := os.Stdout
		if cfg.Stderr {
			out = os.Stderr
		}
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(out), cfg.Level))
	}

	if cfg.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore("resolvd",
			otelzap.WithLoggerProvider(otelProvider),
		))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one log output must be enabled")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		logger = logger.With(fields...)
	}

	return logger, nil
}

// newEncoder creates a JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// NewTestLogger returns a logger that records entries in memory, for
// asserting on log output in tests.
func NewTestLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// Sync flushes buffered entries, ignoring the harmless EINVAL/ENOTTY
// that syncing stdout returns on Linux.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
