// internal/logger/logger.go
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.SugaredLogger with service context
type Logger struct {
	service string
	sugar   *zap.SugaredLogger
}

// New creates a new logger instance for a service at info level
func New(service string) *Logger {
	return NewWithLevel(service, "info")
}

// NewWithLevel creates a logger for a service at the given level
// (debug, info, warn, error). Unknown levels fall back to info.
func NewWithLevel(service, level string) *Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	zapLogger, err := config.Build()
	if err != nil {
		zapLogger = zap.NewExample()
	}

	return &Logger{
		service: service,
		sugar:   zapLogger.Sugar().With("service", service),
	}
}

// NewNop returns a logger that discards everything, for tests
func NewNop() *Logger {
	return &Logger{service: "nop", sugar: zap.NewNop().Sugar()}
}

// FromZap wraps an existing zap logger
func FromZap(service string, z *zap.Logger) *Logger {
	return &Logger{service: service, sugar: z.Sugar().With("service", service)}
}

// With returns a child logger carrying the given key-value pairs
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{service: l.service, sugar: l.sugar.With(keyvals...)}
}

// Info logs an info message
func (l *Logger) Info(message string, keyvals ...interface{}) {
	l.sugar.Infow(message, keyvals...)
}

// Error logs an error message
func (l *Logger) Error(message string, keyvals ...interface{}) {
	l.sugar.Errorw(message, keyvals...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, keyvals ...interface{}) {
	l.sugar.Warnw(message, keyvals...)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, keyvals ...interface{}) {
	l.sugar.Debugw(message, keyvals...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, keyvals ...interface{}) {
	l.sugar.Fatalw(message, keyvals...)
}

// Sync flushes buffered log entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
