package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process logger. It discards everything until Init runs.
var Log = zap.NewNop()

// Config holds logger configuration
type Config struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
	Service  string
}

// Init replaces the process logger. Unknown levels fall back to info.
func Init(cfg *Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	if cfg.Output == "file" && cfg.FilePath != "" {
		zapConfig.OutputPaths = []string{cfg.FilePath}
		zapConfig.ErrorOutputPaths = []string{cfg.FilePath}
	}

	built, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return err
	}
	if cfg.Service != "" {
		built = built.With(zap.String("service", cfg.Service))
	}
	Log = built
	return nil
}

type contextKey int

const (
	requestIDKey contextKey = iota
	userIDKey
	pairIDKey
)

// WithRequestID tags ctx with the inbound request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithUserID tags ctx with the authenticated user
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// WithPairID tags ctx with the conversation a request acts on
func WithPairID(ctx context.Context, pairID string) context.Context {
	return context.WithValue(ctx, pairIDKey, pairID)
}

// FromContext returns the process logger carrying whichever of request_id,
// user_id and pair_id ctx holds
func FromContext(ctx context.Context) *zap.Logger {
	var fields []zap.Field
	for _, k := range []struct {
		key  contextKey
		name string
	}{
		{requestIDKey, "request_id"},
		{userIDKey, "user_id"},
		{pairIDKey, "pair_id"},
	} {
		if v, ok := ctx.Value(k.key).(string); ok && v != "" {
			fields = append(fields, zap.String(k.name, v))
		}
	}
	if len(fields) == 0 {
		return Log
	}
	return Log.With(fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }

// Info logs an info message
func Info(msg string, fields ...zap.Field) { Log.Info(msg, fields...) }

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) { Log.Warn(msg, fields...) }

// Error logs an error message
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) { Log.Fatal(msg, fields...) }

// With creates a child logger with additional fields
func With(fields ...zap.Field) *zap.Logger { return Log.With(fields...) }

// Sync flushes any buffered log entries
func Sync() error { return Log.Sync() }
