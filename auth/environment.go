package auth

import (
	"context"
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/goliatone/go-authstate/cognito"
	"github.com/goliatone/go-authstate/config"
	"github.com/goliatone/go-authstate/machine"
	"github.com/goliatone/go-authstate/runner"
)

// CredentialStore persists credentials between process runs.
type CredentialStore interface {
	Load(ctx context.Context) (*CognitoCredentials, error)
	Save(ctx context.Context, creds CognitoCredentials) error
	Clear(ctx context.Context) error
}

// Environment is the set of collaborators actions run against. Resolvers
// never see it.
type Environment struct {
	Config   config.Config
	UserPool cognito.UserPoolClient
	Identity cognito.IdentityClient
	Store    CredentialStore
	Logger   machine.Logger
	Retry    runner.Policy
	Clock    func() time.Time
	Random   io.Reader

	writes storeWriter
}

// storeWriter serializes credential store writes. A write scheduled before
// the last applied one is stale and skipped.
type storeWriter struct {
	mu      sync.Mutex
	applied uint64
}

// Validate checks that the collaborators required by Config are present.
func (e *Environment) Validate() error {
	if e == nil {
		return NewError(ErrConfiguration, "configure", "environment is nil", nil)
	}
	if err := e.Config.Validate(); err != nil {
		return NewError(ErrConfiguration, "configure", "", err)
	}
	if e.UserPool == nil {
		return NewError(ErrConfiguration, "configure", "user pool client is required", nil)
	}
	if e.Config.HasIdentityPool() && e.Identity == nil {
		return NewError(ErrConfiguration, "configure", "identity client is required when an identity pool is configured", nil)
	}
	if e.Store == nil {
		return NewError(ErrConfiguration, "configure", "credential store is required", nil)
	}
	return nil
}

// Now returns the environment clock.
func (e *Environment) Now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// ExpiryBuffer is the margin applied before token and credential expiry.
func (e *Environment) ExpiryBuffer() time.Duration {
	return e.Config.Session.ExpiryBuffer
}

// HasIdentityPool reports whether the identity phases run.
func (e *Environment) HasIdentityPool() bool {
	return e.Config.HasIdentityPool()
}

// writeStore runs write under the store writer. Writes made by machine
// actions carry their scheduling sequence and apply in that order.
func (e *Environment) writeStore(ctx context.Context, op string, write func(context.Context) error) error {
	seq, scheduled := machine.ActionSequence(ctx)
	e.writes.mu.Lock()
	defer e.writes.mu.Unlock()
	if scheduled {
		if seq < e.writes.applied {
			e.log().Debug("skipping stale credential %s seq=%d applied=%d", op, seq, e.writes.applied)
			return nil
		}
		e.writes.applied = seq
	}
	return write(ctx)
}

func (e *Environment) log() machine.Logger {
	return machine.NormalizeLogger(e.Logger)
}

func (e *Environment) random() io.Reader {
	if e.Random != nil {
		return e.Random
	}
	return rand.Reader
}

func (e *Environment) secretHash(username string) string {
	return cognito.SecretHash(username, e.Config.UserPool.AppClientID, e.Config.UserPool.ClientSecret)
}

// withSecretHash adds SECRET_HASH when the app client has a secret.
func (e *Environment) withSecretHash(params map[string]string, username string) map[string]string {
	if hash := e.secretHash(username); hash != "" {
		params[cognito.ParamSecretHash] = hash
	}
	return params
}

// logins builds the identity pool logins map for user. A nil user yields
// an unauthenticated (guest) request.
func (e *Environment) logins(user *SignedInData) map[string]string {
	if user == nil {
		return nil
	}
	if user.Federation != nil {
		return map[string]string{user.Federation.Provider: user.Federation.Token}
	}
	return map[string]string{e.Config.ProviderName(): user.Tokens.IDToken}
}

// Call runs one collaborator call under the retry policy. Only errors the
// service marks retryable are retried.
func (e *Environment) Call(ctx context.Context, operation string, fn func(context.Context) error) error {
	retryIf := cognito.IsRetryable
	if extra := e.Retry.RetryIf; extra != nil {
		retryIf = func(err error) bool { return cognito.IsRetryable(err) && extra(err) }
	}
	handler := e.Retry.Handler(
		runner.WithRetryIf(retryIf),
		runner.WithOperation(operation),
		runner.WithLogger(e.log()),
	)
	return handler.Run(ctx, fn)
}

// RetryPolicyFromConfig converts the retry section into a policy.
func RetryPolicyFromConfig(cfg config.RetryConfig) runner.Policy {
	policy := runner.Policy{MaxRetries: cfg.MaxRetries, Timeout: cfg.Timeout}
	if cfg.MaxRetries > 0 && cfg.Base > 0 {
		policy.Strategy = runner.ExponentialBackoffStrategy{Base: cfg.Base, Factor: cfg.Factor, Max: cfg.Max}
	}
	return policy
}
