package machine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger receives machine, action and collaborator logs. Messages use
// printf verbs.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
	WithContext(ctx context.Context) Logger
}

// FieldsLogger is implemented by loggers that can carry the machine name
// and event correlation fields.
type FieldsLogger interface {
	WithFields(map[string]any) Logger
}

type level int

const (
	levelTrace level = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelFatal
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func parseLevel(name string) level {
	for i, n := range levelNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return level(i)
		}
	}
	return levelInfo
}

// correlationKeys lead every line so one transition can be followed across
// the reducer, its actions and the coordinator.
var correlationKeys = []string{"machine", "component", "event", "event_id"}

// TextLogger writes one plain line per entry. It is the logger used when
// none is configured. Copies made by WithFields share the writer lock.
type TextLogger struct {
	mu     *sync.Mutex
	out    io.Writer
	min    level
	fields map[string]any
}

// NewTextLogger writes to out, or stderr when out is nil, dropping entries
// below minLevel. An unknown level means info.
func NewTextLogger(out io.Writer, minLevel string) *TextLogger {
	if out == nil {
		out = os.Stderr
	}
	return &TextLogger{mu: &sync.Mutex{}, out: out, min: parseLevel(minLevel)}
}

func (l *TextLogger) Trace(msg string, args ...any) { l.log(levelTrace, msg, args...) }
func (l *TextLogger) Debug(msg string, args ...any) { l.log(levelDebug, msg, args...) }
func (l *TextLogger) Info(msg string, args ...any)  { l.log(levelInfo, msg, args...) }
func (l *TextLogger) Warn(msg string, args ...any)  { l.log(levelWarn, msg, args...) }
func (l *TextLogger) Error(msg string, args ...any) { l.log(levelError, msg, args...) }
func (l *TextLogger) Fatal(msg string, args ...any) { l.log(levelFatal, msg, args...) }

// WithContext returns l. Lines carry no request scoped values.
func (l *TextLogger) WithContext(context.Context) Logger {
	if l == nil {
		return fallbackLogger()
	}
	return l
}

func (l *TextLogger) WithFields(fields map[string]any) Logger {
	if l == nil {
		return fallbackLogger().WithFields(fields)
	}
	cp := *l
	cp.fields = mergeFields(l.fields, fields)
	return &cp
}

func (l *TextLogger) log(lvl level, msg string, args ...any) {
	if l == nil {
		l = fallbackLogger()
	}
	if lvl < l.min {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	line := fmt.Sprintf("%s %-5s %s", time.Now().UTC().Format(time.RFC3339Nano), levelNames[lvl], strings.TrimSpace(msg))
	if fields := formatFields(l.fields); fields != "" {
		line += " " + fields
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, line)
}

func fallbackLogger() *TextLogger {
	return NewTextLogger(nil, "info")
}

// NopLogger discards everything. Tests use it to keep output quiet.
type NopLogger struct{}

func (NopLogger) Trace(string, ...any)                 {}
func (NopLogger) Debug(string, ...any)                 {}
func (NopLogger) Info(string, ...any)                  {}
func (NopLogger) Warn(string, ...any)                  {}
func (NopLogger) Error(string, ...any)                 {}
func (NopLogger) Fatal(string, ...any)                 {}
func (n NopLogger) WithContext(context.Context) Logger { return n }

// NormalizeLogger returns logger, or a stderr TextLogger at info when
// logger is nil.
func NormalizeLogger(logger Logger) Logger {
	if logger == nil {
		return fallbackLogger()
	}
	return logger
}

// WithLoggerFields attaches fields when the logger supports them and
// returns logger unchanged otherwise.
func WithLoggerFields(logger Logger, fields map[string]any) Logger {
	if fl, ok := NormalizeLogger(logger).(FieldsLogger); ok {
		return fl.WithFields(fields)
	}
	return logger
}

func mergeFields(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(correlationKeys))
	for _, k := range correlationKeys {
		if v, ok := fields[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(fields))
	for k := range fields {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}
