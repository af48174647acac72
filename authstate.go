// Package authstate wires the auth state machine, its collaborators and the
// task coordinator into a single client.
package authstate

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goliatone/go-authstate/auth"
	"github.com/goliatone/go-authstate/cognito"
	"github.com/goliatone/go-authstate/config"
	"github.com/goliatone/go-authstate/coordinator"
	"github.com/goliatone/go-authstate/credstore"
	"github.com/goliatone/go-authstate/machine"
	"github.com/goliatone/go-authstate/refresh"
	"github.com/goliatone/go-authstate/runner"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	userPool cognito.UserPoolClient
	identity cognito.IdentityClient
	store    auth.CredentialStore
	logger   machine.Logger
	out      io.Writer
	clock    func() time.Time
	retry    *runner.Policy
	fetch    time.Duration
}

// WithUserPoolClient replaces the SDK backed user pool client.
func WithUserPoolClient(client cognito.UserPoolClient) Option {
	return func(o *options) {
		o.userPool = client
	}
}

// WithIdentityClient replaces the SDK backed identity client.
func WithIdentityClient(client cognito.IdentityClient) Option {
	return func(o *options) {
		o.identity = client
	}
}

// WithCredentialStore replaces the store selected by configuration. The
// caller keeps ownership and Close does not close it.
func WithCredentialStore(store auth.CredentialStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger machine.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogOutput sets where the configured logger writes. Ignored when
// WithLogger is used.
func WithLogOutput(out io.Writer) Option {
	return func(o *options) {
		o.out = out
	}
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithRetryPolicy overrides the retry section of the configuration.
func WithRetryPolicy(policy runner.Policy) Option {
	return func(o *options) {
		o.retry = &policy
	}
}

// WithFetchTimeout bounds a shared session fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fetch = d
	}
}

// Client owns the auth machine and everything hanging off it.
type Client struct {
	config      config.Config
	env         *auth.Environment
	machine     *coordinator.Machine
	coordinator *coordinator.Coordinator
	scheduler   *refresh.Scheduler
	logger      machine.Logger
	ownedStore  credstore.Closer

	configureOnce sync.Once
	startOnce     sync.Once
	closeOnce     sync.Once
	closeErr      error
}

// New validates cfg, builds the collaborators it names and starts the auth
// machine in its uninitialized state. Call Configure before using it.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = newLogger(cfg.Log, o.out)
	}

	c := &Client{config: cfg, logger: logger}

	userPool, identity := o.userPool, o.identity
	if userPool == nil || (identity == nil && cfg.HasIdentityPool()) {
		up, id, err := cognito.NewAWSClients(ctx, cognito.AWSOptions{
			Region:         cfg.Region,
			ClientID:       cfg.UserPool.AppClientID,
			ClientSecret:   cfg.UserPool.ClientSecret,
			IdentityPoolID: cfg.IdentityPool.PoolID,
			Endpoint:       cfg.UserPool.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		if userPool == nil {
			userPool = up
		}
		if identity == nil {
			identity = id
		}
	}

	store := o.store
	if store == nil {
		opened, err := credstore.Open(cfg)
		if err != nil {
			return nil, err
		}
		store = opened
		if closer, ok := opened.(credstore.Closer); ok {
			c.ownedStore = closer
		}
	}

	policy := auth.RetryPolicyFromConfig(cfg.Retry)
	if o.retry != nil {
		policy = *o.retry
	}

	c.env = &auth.Environment{
		Config:   cfg,
		UserPool: userPool,
		Identity: identity,
		Store:    store,
		Logger:   logger,
		Retry:    policy,
		Clock:    o.clock,
	}
	if err := c.env.Validate(); err != nil {
		c.closeStore()
		return nil, err
	}

	machineOpts := []machine.Option{machine.WithName("auth"), machine.WithLogger(logger)}
	if o.clock != nil {
		machineOpts = append(machineOpts, machine.WithClock(o.clock))
	}
	c.machine = auth.NewMachine(c.env, machineOpts...)

	coordOpts := []coordinator.Option{coordinator.WithLogger(logger)}
	if o.fetch > 0 {
		coordOpts = append(coordOpts, coordinator.WithFetchTimeout(o.fetch))
	}
	c.coordinator = coordinator.New(c.machine, coordOpts...)

	if cfg.Refresh.Enabled {
		refreshOpts := append(refresh.FromConfig(cfg.Refresh), refresh.WithLogger(logger))
		if o.clock != nil {
			refreshOpts = append(refreshOpts, refresh.WithClock(o.clock))
		}
		c.scheduler = refresh.NewScheduler(c.coordinator, refreshOpts...)
	}

	return c, nil
}

func newLogger(cfg config.LogConfig, out io.Writer) machine.Logger {
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "" || cfg.Format == "json" {
		return machine.NewJSONLogger(out, cfg.Level)
	}
	return machine.NewGlogLogger(glog.NewLogger(
		glog.WithWriter(out),
		glog.WithLevel(cfg.Level),
	))
}

// Configure loads persisted credentials and waits until the machine is
// configured. The refresh scheduler, when enabled, starts afterwards.
func (c *Client) Configure(ctx context.Context) (auth.AuthConfigured, error) {
	c.configureOnce.Do(func() {
		c.machine.Dispatch(auth.ConfigureAuth{})
	})
	configured, err := c.coordinator.AwaitConfigured(ctx)
	if err != nil {
		return configured, err
	}
	if c.scheduler != nil {
		var startErr error
		c.startOnce.Do(func() {
			startErr = c.scheduler.Start(ctx)
		})
		if startErr != nil {
			return configured, startErr
		}
	}
	return configured, nil
}

// Coordinator returns the task coordinator.
func (c *Client) Coordinator() *coordinator.Coordinator { return c.coordinator }

// Scheduler returns the refresh scheduler, or nil when refresh is disabled.
func (c *Client) Scheduler() *refresh.Scheduler { return c.scheduler }

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config { return c.config }

// State returns the current auth state.
func (c *Client) State() auth.AuthState { return c.machine.Current() }

// Listen registers listener for every transition.
func (c *Client) Listen(listener machine.Listener[auth.AuthState]) machine.Subscription {
	return c.machine.Listen(listener)
}

// Close stops the scheduler, lets pending machine work finish, stops the
// machine and closes the credential store if the client opened it. Later
// calls return the first result.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var errs error
		if c.scheduler != nil {
			if err := c.scheduler.Stop(ctx); err != nil {
				errs = errors.Join(errs, err)
			}
		}
		if err := c.machine.Drain(ctx); err != nil {
			errs = errors.Join(errs, err)
		}
		if err := c.machine.Stop(ctx); err != nil {
			errs = errors.Join(errs, err)
		}
		if err := c.closeStore(); err != nil {
			errs = errors.Join(errs, err)
		}
		c.closeErr = errs
	})
	return c.closeErr
}

func (c *Client) closeStore() error {
	if c.ownedStore == nil {
		return nil
	}
	err := c.ownedStore.Close()
	c.ownedStore = nil
	if err != nil {
		c.logger.Warn("closing credential store: %v", err)
	}
	return err
}
