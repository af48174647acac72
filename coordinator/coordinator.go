// Package coordinator exposes blocking, context-aware calls on top of the
// auth state machine. Each call either reads the current state or
// dispatches one event and waits for the state that answers it.
package coordinator

import (
	"context"
	"time"

	"github.com/goliatone/go-authstate/auth"
	"github.com/goliatone/go-authstate/machine"
	"golang.org/x/sync/singleflight"
)

// Machine is the auth state machine the coordinator drives.
type Machine = machine.Machine[auth.AuthState, *auth.Environment]

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger overrides the logger taken from the machine environment.
func WithLogger(logger machine.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFetchTimeout bounds a shared session fetch. Callers that give up
// earlier do not cancel the fetch for the others.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithDevicePageSize sets the page size used by FetchDevices.
func WithDevicePageSize(n int32) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// Coordinator bridges imperative calls to the auth machine.
type Coordinator struct {
	machine      *Machine
	env          *auth.Environment
	logger       machine.Logger
	fetchTimeout time.Duration
	pageSize     int32
	fetches      singleflight.Group
}

// New wraps m.
func New(m *Machine, opts ...Option) *Coordinator {
	env := m.Environment()
	c := &Coordinator{
		machine:      m,
		env:          env,
		fetchTimeout: time.Minute,
		pageSize:     60,
	}
	if env != nil {
		c.logger = env.Logger
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = machine.WithLoggerFields(machine.NormalizeLogger(c.logger), map[string]any{"component": "coordinator"})
	return c
}

// State returns the current auth state.
func (c *Coordinator) State() auth.AuthState {
	return c.machine.Current()
}

// AwaitConfigured blocks until auth is configured. It fails fast when
// configuration failed.
func (c *Coordinator) AwaitConfigured(ctx context.Context) (auth.AuthConfigured, error) {
	state, err := c.machine.WaitFor(ctx, func(s auth.AuthState) bool {
		switch s.(type) {
		case auth.AuthConfigured, auth.AuthFailed:
			return true
		}
		return false
	})
	if err != nil {
		return auth.AuthConfigured{}, c.waitError("configure", err)
	}
	switch s := state.(type) {
	case auth.AuthConfigured:
		return s, nil
	case auth.AuthFailed:
		if s.Err != nil {
			return auth.AuthConfigured{}, s.Err
		}
	}
	return auth.AuthConfigured{}, auth.NewError(auth.ErrConfiguration, "configure", "auth failed to configure", nil)
}

// Session returns the established session without starting a fetch.
func (c *Coordinator) Session(ctx context.Context) (auth.Session, error) {
	configured, err := c.AwaitConfigured(ctx)
	if err != nil {
		return auth.Session{}, err
	}
	return c.establishedSession(configured)
}

// AccessToken returns the signed-in user's access token.
func (c *Coordinator) AccessToken(ctx context.Context) (string, error) {
	session, err := c.Session(ctx)
	if err != nil {
		return "", err
	}
	if session.User == nil {
		return "", auth.NewError(auth.ErrSignedOut, "access_token", "", nil)
	}
	if session.User.Federated() {
		return "", auth.NewError(auth.ErrInvalidState, "access_token", "federated sessions carry no user pool tokens", nil)
	}
	if session.User.Tokens.Expired(c.env.Now(), c.env.ExpiryBuffer()) {
		return "", auth.NewError(auth.ErrSessionExpired, "access_token", "", nil)
	}
	return session.User.Tokens.AccessToken, nil
}

// Credentials returns the session's AWS credentials.
func (c *Coordinator) Credentials(ctx context.Context) (auth.AWSCredentials, error) {
	session, err := c.Session(ctx)
	if err != nil {
		return auth.AWSCredentials{}, err
	}
	if session.AWS == nil {
		return auth.AWSCredentials{}, auth.NewError(auth.ErrSessionUnavailable, "credentials", "session has no AWS credentials", nil)
	}
	return *session.AWS, nil
}

func (c *Coordinator) establishedSession(configured auth.AuthConfigured) (auth.Session, error) {
	switch authz := configured.Authorization.(type) {
	case auth.AuthZSessionEstablished:
		if !authz.Session.Valid(c.env.Now(), c.env.ExpiryBuffer()) {
			return authz.Session, auth.NewError(auth.ErrSessionExpired, "session", "", nil)
		}
		return authz.Session, nil
	case auth.AuthZFailed:
		return auth.Session{}, auth.NewError(auth.ErrSessionUnavailable, "session", "", authz.Err)
	}
	if _, out := configured.Authentication.(auth.SignedOut); out {
		return auth.Session{}, auth.NewError(auth.ErrSignedOut, "session", "", nil)
	}
	return auth.Session{}, auth.NewError(auth.ErrSessionUnavailable, "session", "", nil)
}

// FetchSessionOptions controls FetchAuthSession.
type FetchSessionOptions struct {
	ForceRefresh bool
}

// FetchAuthSession returns a valid session, fetching one when needed.
// Concurrent callers share one fetch.
func (c *Coordinator) FetchAuthSession(ctx context.Context, opts FetchSessionOptions) (auth.Session, error) {
	configured, err := c.AwaitConfigured(ctx)
	if err != nil {
		return auth.Session{}, err
	}
	if !opts.ForceRefresh {
		if est, ok := configured.Authorization.(auth.AuthZSessionEstablished); ok && est.Session.Valid(c.env.Now(), c.env.ExpiryBuffer()) {
			return est.Session, nil
		}
	}

	key := "fetch"
	if opts.ForceRefresh {
		key = "fetch:force"
	}
	ch := c.fetches.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.fetch(fetchCtx, opts.ForceRefresh)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return auth.Session{}, res.Err
		}
		return res.Val.(auth.Session), nil
	case <-ctx.Done():
		return auth.Session{}, auth.NewError(auth.ErrCanceled, "fetch_session", "", ctx.Err())
	}
}

func (c *Coordinator) fetch(ctx context.Context, force bool) (auth.Session, error) {
	configured, ok := c.machine.Current().(auth.AuthConfigured)
	if !ok {
		return auth.Session{}, auth.NewError(auth.ErrInvalidState, "fetch_session", "auth is not configured", nil)
	}

	input := auth.SessionInput{ForceRefresh: force}
	if signedIn, ok := configured.Authentication.(auth.SignedIn); ok {
		data := signedIn.Data
		input.User = &data
		if data.Federated() {
			input.IdentityID = data.Federation.IdentityID
		}
	}
	if est, ok := configured.Authorization.(auth.AuthZSessionEstablished); ok && input.IdentityID == "" && sameOwner(est.Session.User, input.User) {
		input.IdentityID = est.Session.IdentityID
	}
	c.logger.Debug("fetching session user=%t force=%t", input.User != nil, force)

	state, err := c.machine.DispatchAndWait(ctx, auth.FetchSessionRequested{Input: input}, fetchSettled)
	if machine.HasCode(err, machine.ErrCodeEventIgnored) {
		// a fetch for the same user is already running
		state, err = c.machine.WaitFor(ctx, fetchSettled)
	}
	if err != nil {
		return auth.Session{}, c.waitError("fetch_session", err)
	}
	return sessionFrom(state)
}

func sameOwner(a, b *auth.SignedInData) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Username == b.Username && a.Method == b.Method
}

func fetchSettled(s auth.AuthState) bool {
	configured, ok := s.(auth.AuthConfigured)
	if !ok {
		return true
	}
	switch configured.Authorization.(type) {
	case auth.AuthZSessionEstablished, auth.AuthZFailed, auth.AuthZConfigured:
		return true
	}
	return auth.FetchError(configured.Authorization) != nil
}

func sessionFrom(state auth.AuthState) (auth.Session, error) {
	configured, ok := state.(auth.AuthConfigured)
	if !ok {
		return auth.Session{}, auth.NewError(auth.ErrInvalidState, "fetch_session", "auth left the configured state", nil)
	}
	if est, ok := configured.Authorization.(auth.AuthZSessionEstablished); ok {
		return est.Session, nil
	}
	if err := auth.FetchError(configured.Authorization); err != nil {
		return auth.Session{}, err
	}
	return auth.Session{}, auth.NewError(auth.ErrSessionUnavailable, "fetch_session", "session was cleared", nil)
}

// waitError maps machine wait failures onto auth errors.
func (c *Coordinator) waitError(flow string, err error) error {
	if machine.HasCode(err, machine.ErrCodeWaitCanceled) {
		return auth.NewError(auth.ErrCanceled, flow, "", err)
	}
	return err
}
