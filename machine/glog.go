package machine

import (
	"context"
	"io"
	"os"

	"github.com/goliatone/go-logger/glog"
)

// GlogLogger adapts a go-logger logger to the machine Logger contract.
type GlogLogger struct {
	logger glog.Logger
}

// NewGlogLogger wraps base. A nil base yields the text fallback.
func NewGlogLogger(base glog.Logger) Logger {
	if base == nil {
		return fallbackLogger()
	}
	return GlogLogger{logger: base}
}

// NewJSONLogger builds a JSON go-logger writing to out at the given level.
func NewJSONLogger(out io.Writer, level string) Logger {
	if out == nil {
		out = os.Stdout
	}
	if level == "" {
		level = "info"
	}
	return NewGlogLogger(glog.NewLogger(
		glog.WithWriter(out),
		glog.WithLoggerTypeJSON(),
		glog.WithLevel(level),
	))
}

func (l GlogLogger) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l GlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l GlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l GlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l GlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l GlogLogger) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l GlogLogger) WithContext(ctx context.Context) Logger {
	if l.logger == nil {
		return fallbackLogger().WithContext(ctx)
	}
	return GlogLogger{logger: l.logger.WithContext(ctx)}
}

func (l GlogLogger) WithFields(fields map[string]any) Logger {
	if l.logger == nil {
		return fallbackLogger().WithFields(fields)
	}
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return GlogLogger{logger: fl.WithFields(fields)}
	}
	return l
}
