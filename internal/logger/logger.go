package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Level is the logging level.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = map[Level]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

// Logger is a leveled wrapper over the standard log package.
type Logger struct {
	level   Level
	logger  *log.Logger
	enabled bool
}

var global = &Logger{enabled: true, level: Info, logger: log.New(os.Stdout, "", 0)}

// Init configures the global logger. With enabled false all output is
// dropped. A log file and console output can be combined.
func Init(enabled bool, levelStr, logFile string, console bool) error {
	if !enabled {
		global = &Logger{enabled: false}
		return nil
	}

	var writers []io.Writer
	if logFile != "" {
		if dir := filepath.Dir(logFile); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
	}
	if console || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	global = &Logger{
		level:   ParseLevel(levelStr),
		logger:  log.New(io.MultiWriter(writers...), "", 0),
		enabled: true,
	}
	return nil
}

// ParseLevel maps a config string to a Level, defaulting to Info.
func ParseLevel(levelStr string) Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if l == nil || !l.enabled || l.level > level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	l.logger.Printf("[%s] [%s] %s", ts, levelNames[level], fmt.Sprintf(format, args...))
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	global.logf(Debug, format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	global.logf(Info, format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) {
	global.logf(Warn, format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	global.logf(Error, format, args...)
}

// Fatalf logs an error message and exits.
func Fatalf(format string, args ...interface{}) {
	global.logf(Error, format, args...)
	os.Exit(1)
}
