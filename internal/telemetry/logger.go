package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

var (
	logger   *logrus.Logger
	loggerMu sync.Mutex
	logFile  *os.File
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// InitLogger configures the process logger. It may be called again, which
// tests do; a previously opened log file is closed first.
func InitLogger(cfg *Config) error {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(newFormatter(cfg.LogFormat))

	l.AddHook(&fieldsHook{fields: logrus.Fields{
		"service":  cfg.ServiceName,
		"version":  cfg.ServiceVersion,
		"instance":  cfg.InstanceID,
	}})

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		l.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	logger = l
	return nil
}

func newFormatter(format string) logrus.Formatter {
	if format == "text" {
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "@timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	}
}

// fieldsHook stamps every entry with the process fields unless the entry
// already carries them
type fieldsHook struct {
	fields logrus.Fields
}

func (h *fieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fieldsHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}

// L returns the global logger instance
func L() *logrus.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		return logrus.StandardLogger()
	}
	return logger
}

// WithContext adds trace information to the logger
func WithContext(ctx context.Context) *logrus.Entry {
	entry := L().WithContext(ctx)

	// Add trace information if available
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		entry = entry.WithFields(logrus.Fields{
			"trace.id": span.SpanContext().TraceID().String(),
			"span.id":  span.SpanContext().SpanID().String(),
		})
	}

	return entry
}

// Component returns an entry tagged with a component name, suitable for
// sdk.Config.WithLogger and sdk.WithStreamLogger
func Component(name string) *logrus.Entry {
	return L().WithField("component", name)
}

// CloseLogger closes the log file, if any
func CloseLogger() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	if logger != nil {
		logger.SetOutput(os.Stderr)
	}
	return err
}
