package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-authstate/auth"
	"github.com/goliatone/go-authstate/config"
	"github.com/goliatone/go-authstate/coordinator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu         sync.Mutex
	session    auth.Session
	sessionErr error
	fetchErr   error
	fetched    auth.Session
	fetches    []coordinator.FetchSessionOptions
}

func (f *fakeSource) Session(context.Context) (auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.sessionErr
}

func (f *fakeSource) FetchAuthSession(_ context.Context, opts coordinator.FetchSessionOptions) (auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, opts)
	if f.fetchErr != nil {
		return auth.Session{}, f.fetchErr
	}
	return f.fetched, nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func sessionExpiring(at time.Time) auth.Session {
	return auth.Session{
		IdentityID: "us-east-1:abc",
		AWS:        &auth.AWSCredentials{AccessKeyID: "AK", Expiration: at},
	}
}

func newTestScheduler(source SessionSource, opts ...Option) *Scheduler {
	opts = append([]Option{WithClock(func() time.Time { return now }), WithWindow(5 * time.Minute)}, opts...)
	return NewScheduler(source, opts...)
}

func TestRunOnceSkipsFreshSession(t *testing.T) {
	source := &fakeSource{session: sessionExpiring(now.Add(time.Hour))}
	s := newTestScheduler(source)

	run, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, run.Outcome)
	assert.Equal(t, now.Add(time.Hour), run.ExpiresAt)
	assert.Equal(t, 0, source.fetchCount())
	assert.Equal(t, run, s.LastRun())
}

func TestRunOnceRefreshesInsideWindow(t *testing.T) {
	source := &fakeSource{
		session: sessionExpiring(now.Add(2 * time.Minute)),
		fetched: sessionExpiring(now.Add(time.Hour)),
	}
	s := newTestScheduler(source)

	run, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, run.Outcome)
	assert.Equal(t, now.Add(time.Hour), run.ExpiresAt)
	require.Equal(t, 1, source.fetchCount())
	assert.True(t, source.fetches[0].ForceRefresh)
}

func TestRunOnceRefreshesExpiredSession(t *testing.T) {
	source := &fakeSource{
		sessionErr: auth.NewError(auth.ErrSessionExpired, "session", "", nil),
		fetched:    sessionExpiring(now.Add(time.Hour)),
	}
	s := newTestScheduler(source)

	run, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, run.Outcome)
}

func TestRunOnceSkipsWithoutSession(t *testing.T) {
	source := &fakeSource{sessionErr: auth.NewError(auth.ErrSignedOut, "session", "", nil)}
	s := newTestScheduler(source)

	run, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, run.Outcome)
	assert.Equal(t, 0, source.fetchCount())
}

func TestRunOnceReportsFailure(t *testing.T) {
	failure := auth.NewError(auth.ErrSessionExpired, "refresh", "refresh token was rejected", nil)
	source := &fakeSource{
		session:  sessionExpiring(now.Add(time.Minute)),
		fetchErr: failure,
	}
	var handled []error
	s := newTestScheduler(source, WithErrorHandler(func(err error) { handled = append(handled, err) }))

	run, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, run.Outcome)
	assert.Equal(t, []error{failure}, handled)
	assert.Equal(t, OutcomeFailed, s.LastRun().Outcome)
}

func TestSchedulerRunsOnSchedule(t *testing.T) {
	source := &fakeSource{
		session: sessionExpiring(now.Add(time.Minute)),
		fetched: sessionExpiring(now.Add(time.Minute)),
	}
	s := newTestScheduler(source, WithSchedule("@every 1s"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StatusRunning, s.Status())
	assert.False(t, s.Next().IsZero())

	assert.Eventually(t, func() bool { return source.fetchCount() >= 1 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, StatusStopped, s.Status())
	assert.True(t, s.Next().IsZero())
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	s := newTestScheduler(&fakeSource{}, WithSchedule("not a schedule"))
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrCodeScheduler, auth.ErrorCode(err))
	assert.Equal(t, StatusIdle, s.Status())
}

func TestFromConfig(t *testing.T) {
	cfg := config.Defaults().Refresh
	cfg.Window = 10 * time.Minute
	s := NewScheduler(&fakeSource{}, FromConfig(cfg)...)
	assert.Equal(t, "@every 1m", s.schedule)
	assert.Equal(t, 10*time.Minute, s.window)
}
