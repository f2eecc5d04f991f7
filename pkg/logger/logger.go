// Package logger provides the process-wide log sink used by every component.
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
	globalLogger = zap.NewNop().Sugar()
	logFile      *os.File
	level        = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	mu           sync.RWMutex
)

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //#nosec G304 -- user-provided log path
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	globalLogger = newLogger(zapcore.AddSync(f))
	return nil
}

// InitWriter routes log output to w. Used by the CLI when no log file is set.
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = newLogger(zapcore.AddSync(w))
}

func newLogger(ws zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, level)
	return zap.New(core).Sugar()
}

// SetVerbose toggles debug output.
func SetVerbose(verbose bool) {
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	_ = globalLogger.Sync()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = zap.NewNop().Sugar()
}

// Named returns a child logger tagged with the component name.
func Named(component string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger.With("component", component)
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	globalLogger.Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	globalLogger.Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	globalLogger.Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	globalLogger.Warnf(format, v...)
}

// GetWriter returns the underlying writer for use by drivers.
func GetWriter() io.Writer {
	mu.RLock()
	defer mu.RUnlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
