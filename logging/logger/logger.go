package logger

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/syncbridge/syncbridge/config"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with syncbridge conventions.
type Logger struct {
	*logrus.Logger
	logFile *os.File
}

var (
	standardLogger *Logger
	once           sync.Once
)

// StandardLogger returns the singleton logger instance
func StandardLogger() *Logger {
	once.Do(func() {
		standardLogger = &Logger{
			Logger: logrus.New(),
		}
		standardLogger.SetFormatter(&logrus.JSONFormatter{})
	})
	return standardLogger
}

// Init initializes the logger with the given configuration
func (l *Logger) Init(c *config.Logger) (func(), error) {
	l.SetLevel(logrus.Level(c.Level))

	switch c.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{})
	}

	switch c.Output {
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		if c.OutputFile == "" {
			return nil, fmt.Errorf("logger output is file but output_file is empty")
		}
		f, err := os.OpenFile(c.OutputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.logFile = f
		l.SetOutput(f)
	default:
		l.SetOutput(os.Stdout)
	}

	cleanup := func() {
		if l.logFile != nil {
			_ = l.logFile.Close()
		}
	}
	return cleanup, nil
}

// WithCtx returns an entry carrying the trace id from the context.
func (l *Logger) WithCtx(ctx context.Context) *logrus.Entry {
	if id := GetTraceID(ctx); id != "" {
		return l.WithField(TraceIDKey, id)
	}
	return logrus.NewEntry(l.Logger)
}

// WithFields returns an entry with the given fields attached.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return StandardLogger().Logger.WithFields(fields)
}
