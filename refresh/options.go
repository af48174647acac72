package refresh

import (
	"time"

	"github.com/goliatone/go-authstate/config"
	"github.com/goliatone/go-authstate/machine"
)

// Parser selects the cron expression dialect.
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSchedule sets the cron expression, e.g. "@every 1m".
func WithSchedule(expr string) Option {
	return func(s *Scheduler) {
		if expr != "" {
			s.schedule = expr
		}
	}
}

// WithWindow refreshes sessions expiring within d.
func WithWindow(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithTimeout bounds a single refresh run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger machine.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithLocation sets the timezone used to evaluate schedules.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// WithParser sets the cron expression parser.
func WithParser(p Parser) Option {
	return func(s *Scheduler) {
		s.parser = p
	}
}

// WithClock overrides the clock used to measure remaining lifetime.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithErrorHandler receives every failed refresh.
func WithErrorHandler(handler func(error)) Option {
	return func(s *Scheduler) {
		s.errorHandler = handler
	}
}

// FromConfig maps the refresh section onto options.
func FromConfig(cfg config.RefreshConfig) []Option {
	return []Option{
		WithSchedule(cfg.Schedule),
		WithWindow(cfg.Window),
	}
}

// loggerAdapter adapts machine.Logger to robfig/cron's logger.
type loggerAdapter struct {
	logger machine.Logger
}

func (l loggerAdapter) Info(msg string, args ...any) {
	l.logger.Debug("%s %v", msg, args)
}

func (l loggerAdapter) Error(err error, msg string, args ...any) {
	l.logger.Error("%s %v: %v", msg, args, err)
}
