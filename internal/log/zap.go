package log

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nexasecurity/nexasec/pkg/types"
)

// zapLogger is a struct that implements the Logger interface.
type zapLogger struct {
	logger *zap.Logger
}

// contextKey is the key used to store the logger in the context.
type contextKey string

// loggerKey is the key used to store the logger in the context.
const loggerKey contextKey = "logger"

var (
	defaultOnce   sync.Once
	defaultLogger types.Logger
)

// New builds a logger for the given level (debug, info, warn, error) and
// format (json or console).
func New(level, format string) (types.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &zapLogger{logger: logger}, nil
}

// FromZap wraps an existing zap logger.
func FromZap(logger *zap.Logger) types.Logger {
	return &zapLogger{logger: logger}
}

// NewLogger returns the logger stored in ctx, or a shared production logger.
// This func will panic if the context is nil or if it cannot create a new logger.
func NewLogger(ctx context.Context) types.Logger {
	if ctx == nil {
		panic("ctx cannot be nil")
	}
	if logger, ok := ctx.Value(loggerKey).(types.Logger); ok {
		return logger
	}
	defaultOnce.Do(func() {
		zapLoggerInstance, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		defaultLogger = &zapLogger{logger: zapLoggerInstance}
	})
	return defaultLogger
}

// WithLogger returns a new context with the logger set.
// This func will panic if the context is nil.
func WithLogger(ctx context.Context, logger types.Logger) context.Context {
	if ctx == nil {
		panic("ctx cannot be nil")
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Zap returns the underlying zap logger, or a no-op logger for other implementations.
func Zap(logger types.Logger) *zap.Logger {
	if zl, ok := logger.(*zapLogger); ok {
		return zl.logger
	}
	return zap.NewNop()
}

func zapFields(fields []interface{}) []zap.Field {
	var zf []zap.Field
	for _, field := range fields {
		if f, ok := field.(zap.Field); ok {
			zf = append(zf, f)
		}
	}
	return zf
}

// Debug logs a debug message with the given fields.
func (l *zapLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debug(msg, zapFields(fields)...)
}

// Info logs an info message with the given fields.
func (l *zapLogger) Info(msg string, fields ...interface{}) {
	l.logger.Info(msg, zapFields(fields)...)
}

// Warn logs a warn message with the given fields.
func (l *zapLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warn(msg, zapFields(fields)...)
}

// Error logs an error message with the given fields.
func (l *zapLogger) Error(msg string, fields ...interface{}) {
	l.logger.Error(msg, zapFields(fields)...)
}

// Fatalf logs a fatal message with the given fields.
func (l *zapLogger) Fatalf(msg string, fields ...interface{}) {
	l.logger.Fatal(msg, zapFields(fields)...)
}
