// Package logger configures the daemon's structured logging, adapted from
// a thread-safe logrus wrapper: New sets up the output file (or stderr)
// and the level in one place, and Entry() hands out the logrus.FieldLogger
// the rest of the daemon depends on.
package logger

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// SafeLogger is a thread-safe logger wrapping a configured *logrus.Logger.
type SafeLogger struct {
	logger *logrus.Logger
	mu     sync.Mutex
}

// New builds a SafeLogger at the given level, writing to filename if
// non-empty, or to stderr otherwise (the daemon's default when run in the
// foreground, e.g. under systemd).
func New(filename string, level logrus.Level) (*SafeLogger, error) {
	out := os.Stderr

	if filename != "" {
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		out = f
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return &SafeLogger{logger: l}, nil
}

// Entry returns the underlying *logrus.Logger as a logrus.FieldLogger, for
// handing to components that only need to log, not reconfigure.
func (sl *SafeLogger) Entry() logrus.FieldLogger {
	return sl.logger
}

// Log logs msg at level with fields, serialized behind SafeLogger's mutex
// so concurrent callers of Log never interleave a single log line.
// Loggers obtained through Entry() do not go through this mutex.
func (sl *SafeLogger) Log(level logrus.Level, msg string, fields logrus.Fields) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	entry := sl.logger.WithFields(fields)
	switch level {
	case logrus.DebugLevel:
		entry.Debug(msg)
	case logrus.InfoLevel:
		entry.Info(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	case logrus.ErrorLevel:
		entry.Error(msg)
	case logrus.FatalLevel:
		entry.Fatal(msg)
	case logrus.PanicLevel:
		entry.Panic(msg)
	}
}

func (sl *SafeLogger) Debug(msg string, fields logrus.Fields) { sl.Log(logrus.DebugLevel, msg, fields) }
func (sl *SafeLogger) Info(msg string, fields logrus.Fields)  { sl.Log(logrus.InfoLevel, msg, fields) }
func (sl *SafeLogger) Warn(msg string, fields logrus.Fields)  { sl.Log(logrus.WarnLevel, msg, fields) }
func (sl *SafeLogger) Error(msg string, fields logrus.Fields) { sl.Log(logrus.ErrorLevel, msg, fields) }

// ParseLevel is a thin wrapper over logrus.ParseLevel for config loading,
// defaulting to Info on an empty string.
func ParseLevel(s string) (logrus.Level, error) {
	if s == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(s)
}
