// Package telemetry is the engine's ambient stack: structured logging and
// Prometheus metrics. Every other package logs through here instead of
// calling log.Printf directly, so log shape stays consistent across the
// whole engine; the one exception is cmd/scalper, which reports config
// errors with log.Printf before a Logger exists.
package telemetry

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level tags a log entry by severity/category.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelDebug    Level = "DEBUG"
	LevelTrade    Level = "TRADE"
	LevelSignal   Level = "SIGNAL"
	LevelExchange Level = "EXCHANGE"
	LevelExit     Level = "EXIT"
)

// Logger is a mutex-guarded file+stdout logger keyed by a run identifier
// (typically the trading pair, e.g. "BTC-USDT-SWAP").
type Logger struct {
	runID     string
	logFile   *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logDir    string
	debugMode bool
}

// New opens (creating if needed) a daily log file under logDir for runID
// and returns a Logger writing to it.
func New(logDir, runID string, debugMode bool) (*Logger, error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: create log dir: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.log", runID, time.Now().Format("2006-01-02"))
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open log file: %w", err)
	}

	l := &Logger{
		runID:     runID,
		logFile:   file,
		logger:    log.New(io.MultiWriter(file, os.Stdout), "", 0),
		logDir:    logDir,
		debugMode: debugMode,
	}
	l.writeSessionHeader()
	return l, nil
}

func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("==== session start: %s at %s ====", l.runID, time.Now().Format(time.RFC3339))
}

// Log writes a single structured line: timestamp, level, run id, message.
func (l *Logger) Log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] [%s] %s", time.Now().Format("2006-01-02 15:04:05.000"), level, l.runID, msg)
}

func (l *Logger) Info(format string, args ...interface{})  { l.Log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.Log(LevelWarn, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.debugMode {
		l.Log(LevelDebug, format, args...)
	}
}
func (l *Logger) Trade(format string, args ...interface{})    { l.Log(LevelTrade, format, args...) }
func (l *Logger) Signal(format string, args ...interface{})   { l.Log(LevelSignal, format, args...) }
func (l *Logger) Exchange(format string, args ...interface{}) { l.Log(LevelExchange, format, args...) }
func (l *Logger) Exit(format string, args ...interface{})     { l.Log(LevelExit, format, args...) }

// Error logs an error with a short context label. The error's text is
// logged as-is with no scrubbing, so callers pass errors whose text carries
// no secrets.
func (l *Logger) Error(context string, err error) {
	l.Log(LevelError, "%s: %v", context, err)
}

// WithFields renders a map as "key=value key2=value2" for structured-ish
// one-liners without pulling in a full structured logging library — the
// teacher's own logger favors plain formatted strings over field encoders.
func WithFields(fields map[string]interface{}) string {
	s := ""
	for k, v := range fields {
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("%s=%v", k, v)
	}
	return s
}

// SetDebugMode toggles debug-level output at runtime.
func (l *Logger) SetDebugMode(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugMode = enabled
}

// Close flushes and closes the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return nil
	}
	l.logger.Printf("==== session end: %s at %s ====", l.runID, time.Now().Format(time.RFC3339))
	return l.logFile.Close()
}
