// Package refresh keeps an established session fresh by refreshing it on a
// cron schedule shortly before it expires.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-authstate/auth"
	"github.com/goliatone/go-authstate/coordinator"
	"github.com/goliatone/go-authstate/machine"
	apperrors "github.com/goliatone/go-errors"
	rcron "github.com/robfig/cron/v3"
)

const ErrCodeScheduler = "REFRESH_SCHEDULER"

var ErrScheduler = apperrors.New("refresh scheduler failure", apperrors.CategoryHandler).
	WithTextCode(ErrCodeScheduler)

// SessionSource is the part of the coordinator the scheduler needs.
type SessionSource interface {
	Session(ctx context.Context) (auth.Session, error)
	FetchAuthSession(ctx context.Context, opts coordinator.FetchSessionOptions) (auth.Session, error)
}

// Outcome describes one refresh run.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeFailed    Outcome = "failed"
)

// Status reports the scheduler lifecycle.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Run is the record of the last refresh run.
type Run struct {
	At        time.Time
	Outcome   Outcome
	ExpiresAt time.Time
	Err       error
}

// Scheduler refreshes the session when it is about to expire.
type Scheduler struct {
	source       SessionSource
	schedule     string
	window       time.Duration
	timeout      time.Duration
	location     *time.Location
	parser       Parser
	logger       machine.Logger
	errorHandler func(error)
	now          func() time.Time

	mu      sync.Mutex
	cron    *rcron.Cron
	entryID rcron.EntryID
	status  Status
	last    Run
}

// NewScheduler builds a scheduler over source. It does nothing until
// Start is called.
func NewScheduler(source SessionSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		schedule: "@every 1m",
		window:   5 * time.Minute,
		timeout:  30 * time.Second,
		location: time.Local,
		now:      time.Now,
		status:   StatusIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = machine.WithLoggerFields(machine.NormalizeLogger(s.logger), map[string]any{"component": "refresh"})
	if s.errorHandler == nil {
		s.errorHandler = func(err error) {
			s.logger.Warn("session refresh failed: %v", err)
		}
	}
	s.cron = rcron.New(s.build()...)
	return s
}

// build converts options to rcron options.
func (s *Scheduler) build() []rcron.Option {
	cronLogger := loggerAdapter{logger: s.logger}
	opts := []rcron.Option{
		rcron.WithLogger(cronLogger),
		rcron.WithChain(rcron.Recover(cronLogger), rcron.SkipIfStillRunning(cronLogger)),
	}
	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}
	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}
	return opts
}

// Start registers the refresh job and starts the cron runner.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		return nil
	}
	id, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	})
	if err != nil {
		return machine.CloneError(ErrScheduler, "invalid refresh schedule "+s.schedule, err, map[string]any{"schedule": s.schedule})
	}
	s.entryID = id
	s.status = StatusRunning
	s.cron.Start()
	s.logger.Debug("refresh scheduled %s window=%s", s.schedule, s.window)
	return nil
}

// Stop removes the job and waits for a running refresh to finish or ctx
// to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.status = StatusStopped
		s.mu.Unlock()
		return nil
	}
	s.cron.Remove(s.entryID)
	s.status = StatusStopped
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the scheduler status.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastRun returns the most recent refresh run.
func (s *Scheduler) LastRun() Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Next returns when the job runs next, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// RunOnce refreshes the session if it expires within the window. Runs
// with no established session are skipped.
func (s *Scheduler) RunOnce(ctx context.Context) (Run, error) {
	run := Run{At: s.now()}
	session, err := s.source.Session(ctx)
	switch {
	case err == nil:
		run.ExpiresAt = session.ExpiresAt()
		if run.ExpiresAt.IsZero() || run.ExpiresAt.Sub(run.At) > s.window {
			run.Outcome = OutcomeSkipped
			return s.record(run), nil
		}
	case auth.ErrorCode(err) == auth.ErrCodeSessionExpired:
		// already expired, refresh below
	default:
		run.Outcome = OutcomeSkipped
		return s.record(run), nil
	}

	refreshed, err := s.source.FetchAuthSession(ctx, coordinator.FetchSessionOptions{ForceRefresh: true})
	if err != nil {
		run.Outcome = OutcomeFailed
		run.Err = err
		s.errorHandler(err)
		return s.record(run), err
	}
	run.Outcome = OutcomeRefreshed
	run.ExpiresAt = refreshed.ExpiresAt()
	s.logger.Debug("session refreshed, expires %s", run.ExpiresAt.Format(time.RFC3339))
	return s.record(run), nil
}

func (s *Scheduler) record(run Run) Run {
	s.mu.Lock()
	s.last = run
	s.mu.Unlock()
	return run
}
