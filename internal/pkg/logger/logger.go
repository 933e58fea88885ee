// Package logger provides structured logging for metapub.
//
// Uses zap with AtomicLevel. JSON format for CI, console for interactive use.
// Entries go to stderr: stdout is reserved for the build step's streamed output
// and for rendered HTML in dry-run mode.
//
// Import Path: metapub.io/metapub/internal/pkg/logger
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// global is the package-level logger instance.
	global      *zap.Logger
	atomicLevel = zap.NewAtomicLevel()
	once        sync.Once
	mu          sync.RWMutex
)

// Init initializes the global logger writing to stderr.
// level: debug, info, warn, error
// format: json or console
func Init(level, format string) error {
	return InitWriter(level, format, os.Stderr)
}

// InitWriter initializes the global logger writing to w.
func InitWriter(level, format string, w io.Writer) error {
	var initErr error
	once.Do(func() {
		if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
			initErr = fmt.Errorf("parse log level %q: %w", level, err)
			return
		}

		var encCfg zapcore.EncoderConfig
		var enc zapcore.Encoder
		switch format {
		case "console":
			encCfg = zap.NewDevelopmentEncoderConfig()
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
			enc = zapcore.NewConsoleEncoder(encCfg)
		case "json", "":
			encCfg = zap.NewProductionEncoderConfig()
			encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
			enc = zapcore.NewJSONEncoder(encCfg)
		default:
			initErr = fmt.Errorf("unknown log format %q (want json or console)", format)
			return
		}

		core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), atomicLevel)
		set(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
	})
	return initErr
}

// Replace swaps the global logger and returns a function restoring the previous one.
// Tests use it with zaptest/observer to assert on emitted entries.
func Replace(l *zap.Logger) (restore func()) {
	mu.Lock()
	prev := global
	global = l
	mu.Unlock()
	return func() { set(prev) }
}

func set(l *zap.Logger) {
	mu.Lock()
	global = l
	mu.Unlock()
}

// SetLevel dynamically changes the log level.
func SetLevel(level string) error {
	return atomicLevel.UnmarshalText([]byte(level))
}

// GetLevel returns the current log level.
func GetLevel() zapcore.Level {
	return atomicLevel.Level()
}

// L returns the global logger. Before Init it returns a no-op logger so that
// library packages stay usable from tests that never configure logging.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Debug logs a message at DebugLevel.
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info logs a message at InfoLevel.
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn logs a message at WarnLevel.
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error logs a message at ErrorLevel.
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// Sync flushes any buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return nil
	}
	return global.Sync()
}
