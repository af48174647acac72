package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/awnumar/memguard"
	"github.com/goliatone/go-authstate/cognito"
	"github.com/goliatone/go-authstate/cognito/cognitotest"
	"github.com/goliatone/go-authstate/config"
	"github.com/goliatone/go-authstate/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	creds   *CognitoCredentials
	loadErr error
	saves   int
	clears  int
}

func (s *memStore) Load(context.Context) (*CognitoCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.creds == nil {
		return nil, nil
	}
	c := *s.creds
	return &c, nil
}

func (s *memStore) Save(_ context.Context, creds CognitoCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.creds = &creds
	return nil
}

func (s *memStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.creds = nil
	s.loadErr = nil
	return nil
}

// hookedStore runs callbacks around memStore writes.
type hookedStore struct {
	memStore
	beforeSave func()
	afterClear func()
}

func (s *hookedStore) Save(ctx context.Context, creds CognitoCredentials) error {
	if s.beforeSave != nil {
		s.beforeSave()
	}
	return s.memStore.Save(ctx, creds)
}

func (s *hookedStore) Clear(ctx context.Context) error {
	err := s.memStore.Clear(ctx)
	if s.afterClear != nil {
		s.afterClear()
	}
	return err
}

func (s *memStore) snapshot() (*CognitoCredentials, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.saves, s.clears
}

type harness struct {
	env      *Environment
	userPool *cognitotest.UserPool
	identity *cognitotest.Identity
	store    *memStore
	machine  *machine.Machine[AuthState, *Environment]
}

func testConfig(withIdentityPool bool) config.Config {
	cfg := config.Defaults()
	cfg.Region = "us-east-1"
	cfg.UserPool.PoolID = "us-east-1_TestPool"
	cfg.UserPool.AppClientID = "client-id"
	if withIdentityPool {
		cfg.IdentityPool.PoolID = "us-east-1:11111111-2222-3333-4444-555555555555"
	}
	return cfg
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	h := &harness{
		userPool: &cognitotest.UserPool{},
		identity: &cognitotest.Identity{},
		store:    &memStore{},
	}
	h.env = &Environment{
		Config:   cfg,
		UserPool: h.userPool,
		Identity: h.identity,
		Store:    h.store,
		Logger:   machine.NopLogger{},
	}
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.machine = NewMachine(h.env, machine.WithName("auth-test"))
	t.Cleanup(func() { _ = h.machine.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := h.machine.DispatchAndWait(ctx, ConfigureAuth{}, isConfigured)
	require.NoError(t, err)
}

func (h *harness) waitFor(t *testing.T, until func(AuthState) bool) AuthState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := h.machine.WaitFor(ctx, until)
	require.NoError(t, err, "last state: %v", h.machine.Current())
	return state
}

func isConfigured(s AuthState) bool {
	_, ok := s.(AuthConfigured)
	return ok
}

func authorization(s AuthState) AuthorizationState {
	if c, ok := s.(AuthConfigured); ok {
		return c.Authorization
	}
	return nil
}

func authentication(s AuthState) AuthenticationState {
	if c, ok := s.(AuthConfigured); ok {
		return c.Authentication
	}
	return nil
}

func hasSession(s AuthState) bool {
	_, ok := authorization(s).(AuthZSessionEstablished)
	return ok
}

func hasFetchError(s AuthState) bool {
	return FetchError(authorization(s)) != nil
}

func password(pw string) *memguard.Enclave {
	return memguard.NewEnclave([]byte(pw))
}

func TestSRPSignInEstablishesSession(t *testing.T) {
	h := newHarness(t, testConfig(true))
	exp := time.Now().Add(time.Hour)
	h.userPool.InitiateAuthFn = func(_ context.Context, in cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
		if in.Flow != cognito.AuthFlowUserSRP || in.Parameters[cognito.ParamSRPA] == "" {
			return nil, cognitotest.APIError("InitiateAuth", cognito.CodeInvalidParameter)
		}
		return cognitotest.PasswordVerifier("alice"), nil
	}
	h.userPool.RespondFn = func(_ context.Context, in cognito.RespondInput) (*cognito.AuthOutput, error) {
		if in.Challenge != cognito.ChallengePasswordVerifier || in.Responses[cognito.ParamClaimSignature] == "" {
			return nil, cognitotest.APIError("RespondToAuthChallenge", cognito.CodeNotAuthorized)
		}
		return cognitotest.Tokens("sub-alice", "alice", exp), nil
	}
	h.start(t)

	h.machine.Dispatch(SignInRequested{Request: SignInRequest{Username: "alice", Password: password("pw"), Method: MethodSRP}})
	state := h.waitFor(t, hasSession)

	signedIn, ok := authentication(state).(SignedIn)
	require.True(t, ok)
	assert.Equal(t, "alice", signedIn.Data.Username)
	assert.Equal(t, "sub-alice", signedIn.Data.UserID)

	session := authorization(state).(AuthZSessionEstablished).Session
	require.NotNil(t, session.AWS)
	assert.Equal(t, "us-east-1:00000000-0000-0000-0000-000000000001", session.IdentityID)
	assert.Equal(t, 1, h.identity.Calls("GetId"))
	assert.Equal(t, 1, h.identity.Calls("GetCredentialsForIdentity"))

	logins := h.identity.Logins()[0]
	assert.Contains(t, logins, h.env.Config.ProviderName())

	responded := h.userPool.Responded()
	require.Len(t, responded, 1)
	assert.Equal(t, "srp-session", responded[0].Session)
	assert.Equal(t, "alice", responded[0].Responses[cognito.ParamUsername])

	assert.Eventually(t, func() bool {
		creds, saves, _ := h.store.snapshot()
		return saves == 1 && creds != nil && creds.User != nil && creds.User.Username == "alice"
	}, time.Second, 10*time.Millisecond)
}

func TestUserPoolOnlySession(t *testing.T) {
	h := newHarness(t, testConfig(false))
	h.userPool.InitiateAuthFn = func(context.Context, cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
		return cognitotest.Tokens("sub-bob", "bob", time.Now().Add(time.Hour)), nil
	}
	h.start(t)

	h.machine.Dispatch(SignInRequested{Request: SignInRequest{Username: "bob", Password: password("pw"), Method: MethodUserPassword}})
	state := h.waitFor(t, hasSession)

	session := authorization(state).(AuthZSessionEstablished).Session
	assert.Nil(t, session.AWS)
	assert.Empty(t, session.IdentityID)
	require.NotNil(t, session.User)
	assert.Equal(t, MethodUserPassword, session.User.Method)
	assert.Equal(t, 0, h.identity.Calls("GetId"))

	initiated := h.userPool.Initiated()
	require.Len(t, initiated, 1)
	assert.Equal(t, "pw", initiated[0].Parameters[cognito.ParamPassword])
}

func TestCustomChallengeLoop(t *testing.T) {
	h := newHarness(t, testConfig(false))
	h.userPool.InitiateAuthFn = func(context.Context, cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
		return cognitotest.Challenge(cognito.ChallengeCustom, "carol", "c1"), nil
	}
	h.userPool.RespondFn = func(_ context.Context, in cognito.RespondInput) (*cognito.AuthOutput, error) {
		if in.Responses[cognito.ParamAnswer] != "4" {
			return cognitotest.Challenge(cognito.ChallengeCustom, "carol", "c2"), nil
		}
		return cognitotest.Tokens("sub-carol", "carol", time.Now().Add(time.Hour)), nil
	}
	h.start(t)

	awaiting := func(s AuthState) bool {
		in, ok := authentication(s).(SigningIn)
		if !ok {
			return false
		}
		custom, ok := in.Flow.(SigningInWithCustom)
		if !ok {
			return false
		}
		_, ok = custom.State.(CustomAwaitingChallengeResponse)
		return ok
	}

	h.machine.Dispatch(SignInRequested{Request: SignInRequest{Username: "carol", Method: MethodCustom}})
	h.waitFor(t, awaiting)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := h.machine.DispatchAndWait(ctx, ChallengeAnswered{Answer: "5"}, awaiting)
	require.NoError(t, err)
	challenge := authentication(state).(SigningIn).Flow.(SigningInWithCustom).State.(CustomAwaitingChallengeResponse).Challenge
	assert.Equal(t, "c2", challenge.Session)

	h.machine.Dispatch(ChallengeAnswered{Answer: "4"})
	h.waitFor(t, hasSession)
	assert.Equal(t, 2, h.userPool.Calls("RespondToAuthChallenge"))
}

func TestMFACodeMismatchIsRecoverable(t *testing.T) {
	h := newHarness(t, testConfig(false))
	h.userPool.InitiateAuthFn = func(context.Context, cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
		return cognitotest.Challenge(cognito.ChallengeSMSMFA, "dave", "mfa"), nil
	}
	h.userPool.RespondFn = func(_ context.Context, in cognito.RespondInput) (*cognito.AuthOutput, error) {
		if in.Responses[cognito.ParamSMSMFACode] != "123456" {
			return nil, cognitotest.APIError("RespondToAuthChallenge", cognito.CodeCodeMismatch)
		}
		return cognitotest.Tokens("sub-dave", "dave", time.Now().Add(time.Hour)), nil
	}
	h.start(t)

	waitingWithError := func(s AuthState) bool {
		in, ok := authentication(s).(SigningIn)
		if !ok {
			return false
		}
		rc, ok := in.Flow.(ResolvingChallenge)
		if !ok {
			return false
		}
		w, ok := rc.State.(ChallengeWaitingForAnswer)
		return ok && w.LastErr != nil
	}

	h.machine.Dispatch(SignInRequested{Request: SignInRequest{Username: "dave", Password: password("pw"), Method: MethodUserPassword}})
	h.waitFor(t, func(s AuthState) bool {
		in, ok := authentication(s).(SigningIn)
		if !ok {
			return false
		}
		_, ok = in.Flow.(ResolvingChallenge)
		return ok
	})

	h.machine.Dispatch(ChallengeAnswered{Answer: "000000"})
	state := h.waitFor(t, waitingWithError)
	w := authentication(state).(SigningIn).Flow.(ResolvingChallenge).State.(ChallengeWaitingForAnswer)
	assert.Equal(t, ErrCodeCodeMismatch, w.LastErr.TextCode)

	h.machine.Dispatch(ChallengeAnswered{Answer: "123456"})
	h.waitFor(t, hasSession)
}

func TestSignInFailureIsTyped(t *testing.T) {
	h := newHarness(t, testConfig(false))
	h.userPool.InitiateAuthFn = func(context.Context, cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
		return nil, cognitotest.APIError("InitiateAuth", cognito.CodeNotAuthorized)
	}
	h.start(t)

	h.machine.Dispatch(SignInRequested{Request: SignInRequest{Username: "eve", Password: password("bad")}})
	state := h.waitFor(t, func(s AuthState) bool {
		in, ok := authentication(s).(SigningIn)
		if !ok {
			return false
		}
		_, ok = in.Flow.(SignInFailed)
		return ok
	})
	failed := authentication(state).(SigningIn).Flow.(SignInFailed)
	assert.Equal(t, ErrCodeNotAuthorized, failed.Err.TextCode)
	assert.Equal(t, AuthorizationState(AuthZConfigured{}), authorization(state))
}

func TestExpiredTokensAreRefreshed(t *testing.T) {
	h := newHarness(t, testConfig(true))
	stale := signedInAlice()
	stale.Tokens.ExpiresAt = time.Now().Add(-time.Minute)
	h.store.creds = &CognitoCredentials{User: &stale, IdentityID: "us-east-1:cached"}

	h.userPool.InitiateAuthFn = func(_ context.Context, in cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
		if in.Flow != cognito.AuthFlowRefreshToken || in.Parameters[cognito.ParamRefreshToken] != "refresh" {
			return nil, cognitotest.APIError("InitiateAuth", cognito.CodeNotAuthorized)
		}
		out := cognitotest.Tokens("sub-alice", "alice", time.Now().Add(time.Hour))
		out.Result.RefreshToken = ""
		return out, nil
	}
	h.start(t)

	assert.Equal(t, AuthorizationState(AuthZConfigured{}), authorization(h.machine.Current()))

	h.machine.Dispatch(FetchSessionRequested{Input: SessionInput{User: &stale, IdentityID: "us-east-1:cached"}})
	state := h.waitFor(t, hasSession)

	session := authorization(state).(AuthZSessionEstablished).Session
	assert.Equal(t, "us-east-1:cached", session.IdentityID)
	assert.Equal(t, "refresh", session.User.Tokens.RefreshToken)
	assert.True(t, session.User.Tokens.ExpiresAt.After(time.Now()))
	assert.Equal(t, 0, h.identity.Calls("GetId"))

	signedIn := authentication(state).(SignedIn)
	assert.Equal(t, session.User.Tokens.AccessToken, signedIn.Data.Tokens.AccessToken)
}

func TestRefreshRejectionLeavesErrorSubState(t *testing.T) {
	h := newHarness(t, testConfig(true))
	stale := signedInAlice()
	stale.Tokens.ExpiresAt = time.Now().Add(-time.Minute)
	h.store.creds = &CognitoCredentials{User: &stale}
	h.userPool.InitiateAuthFn = func(context.Context, cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
		return nil, cognitotest.APIError("InitiateAuth", cognito.CodeNotAuthorized)
	}
	h.start(t)

	h.machine.Dispatch(FetchSessionRequested{Input: SessionInput{User: &stale}})
	state := h.waitFor(t, hasFetchError)

	assert.True(t, isConfigured(state))
	assert.Equal(t, ErrCodeSessionExpired, FetchError(authorization(state)).TextCode)
}

func TestGuestSessionRequiresIdentityPool(t *testing.T) {
	h := newHarness(t, testConfig(false))
	h.start(t)

	h.machine.Dispatch(FetchSessionRequested{Input: SessionInput{}})
	state := h.waitFor(t, hasFetchError)
	failed, ok := authorization(state).(AuthZFailed)
	require.True(t, ok, "state %v", state)
	assert.Equal(t, ErrCodeConfiguration, failed.Err.TextCode)
	_, wasFetching := failed.Previous.(AuthZFetchingSession)
	assert.True(t, wasFetching)

	g := newHarness(t, testConfig(true))
	g.start(t)
	g.machine.Dispatch(FetchSessionRequested{Input: SessionInput{}})
	state = g.waitFor(t, hasSession)
	session := authorization(state).(AuthZSessionEstablished).Session
	assert.True(t, session.Guest())
	assert.Nil(t, g.identity.Logins()[0])
}

func TestIdentityFailureIsReported(t *testing.T) {
	h := newHarness(t, testConfig(true))
	h.identity.GetIDFn = func(context.Context, map[string]string) (string, error) {
		return "", cognitotest.APIError("GetId", cognito.CodeResourceNotFound)
	}
	h.start(t)

	h.machine.Dispatch(FetchSessionRequested{Input: SessionInput{}})
	state := h.waitFor(t, hasFetchError)
	fetching := authorization(state).(AuthZFetchingSession)
	identity, ok := fetching.Fetch.(FetchingIdentity)
	require.True(t, ok)
	_, isErr := identity.State.(IdentityError)
	assert.True(t, isErr)
	assert.Equal(t, ErrCodeService, FetchError(fetching).TextCode)
}

func TestRetryPolicyRetriesThrottling(t *testing.T) {
	h := newHarness(t, testConfig(true))
	h.env.Retry = RetryPolicyFromConfig(config.RetryConfig{MaxRetries: 2})
	attempts := 0
	var mu sync.Mutex
	h.identity.GetIDFn = func(context.Context, map[string]string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return "", cognitotest.APIError("GetId", cognito.CodeTooManyRequests)
		}
		return "us-east-1:retried", nil
	}
	h.start(t)

	h.machine.Dispatch(FetchSessionRequested{Input: SessionInput{}})
	state := h.waitFor(t, hasSession)
	assert.Equal(t, "us-east-1:retried", authorization(state).(AuthZSessionEstablished).Session.IdentityID)
	assert.Equal(t, 3, h.identity.Calls("GetId"))
}

func TestNoRetryByDefault(t *testing.T) {
	h := newHarness(t, testConfig(true))
	h.identity.GetIDFn = func(context.Context, map[string]string) (string, error) {
		return "", cognitotest.APIError("GetId", cognito.CodeTooManyRequests)
	}
	h.start(t)

	h.machine.Dispatch(FetchSessionRequested{Input: SessionInput{}})
	h.waitFor(t, hasFetchError)
	assert.Equal(t, 1, h.identity.Calls("GetId"))
}

func TestSignOutRevokesAndClears(t *testing.T) {
	h := newHarness(t, testConfig(true))
	data := signedInAlice()
	h.store.creds = &CognitoCredentials{User: &data, IdentityID: "id-1", AWS: &AWSCredentials{AccessKeyID: "AK", Expiration: time.Now().Add(time.Hour)}}
	h.userPool.RevokeTokenFn = func(context.Context, string) error {
		return errors.New("network down")
	}
	h.start(t)
	require.True(t, hasSession(h.machine.Current()))

	h.machine.Dispatch(SignOutRequested{})
	state := h.waitFor(t, func(s AuthState) bool {
		_, out := authentication(s).(SignedOut)
		return out
	})
	assert.Equal(t, AuthorizationState(AuthZConfigured{}), authorization(state))
	assert.Equal(t, 1, h.userPool.Calls("RevokeToken"))
	assert.Eventually(t, func() bool {
		creds, _, clears := h.store.snapshot()
		return clears == 1 && creds == nil
	}, time.Second, 10*time.Millisecond)
}

func TestGlobalSignOutFailureKeepsUser(t *testing.T) {
	h := newHarness(t, testConfig(false))
	data := signedInAlice()
	h.store.creds = &CognitoCredentials{User: &data}
	h.userPool.GlobalSignOutFn = func(context.Context, string) error {
		return cognitotest.APIError("GlobalSignOut", cognito.CodeInternalError)
	}
	h.start(t)

	h.machine.Dispatch(SignOutRequested{Global: true})
	state := h.waitFor(t, func(s AuthState) bool {
		_, failed := authentication(s).(AuthenticationFailed)
		return failed
	})
	failed := authentication(state).(AuthenticationFailed)
	assert.Equal(t, ErrCodeService, failed.Err.TextCode)
	_, stillEstablished := authorization(state).(AuthZSessionEstablished)
	assert.True(t, stillEstablished)
}

func TestUnreadableStoreStartsSignedOut(t *testing.T) {
	h := newHarness(t, testConfig(false))
	h.store.loadErr = errors.New("corrupt")
	h.start(t)

	state := h.machine.Current()
	assert.Equal(t, AuthenticationState(SignedOut{}), authentication(state))
	_, _, clears := h.store.snapshot()
	assert.Equal(t, 1, clears)
}

func TestExpiredCachedCredentialsAreDropped(t *testing.T) {
	h := newHarness(t, testConfig(true))
	h.store.creds = &CognitoCredentials{IdentityID: "id-1", AWS: &AWSCredentials{AccessKeyID: "AK", Expiration: time.Now().Add(-time.Hour)}}
	h.start(t)

	assert.Equal(t, AuthorizationState(AuthZConfigured{}), authorization(h.machine.Current()))
}

func TestInvalidEnvironmentFailsConfiguration(t *testing.T) {
	h := newHarness(t, testConfig(true))
	h.env.Identity = nil
	h.machine = NewMachine(h.env)
	t.Cleanup(func() { _ = h.machine.Stop(context.Background()) })

	h.machine.Dispatch(ConfigureAuth{})
	state := h.waitFor(t, func(s AuthState) bool {
		_, failed := s.(AuthFailed)
		return failed
	})
	assert.Equal(t, ErrCodeConfiguration, state.(AuthFailed).Err.TextCode)
}

func TestExpiredAWSCredentialsAreRejected(t *testing.T) {
	h := newHarness(t, testConfig(true))
	h.identity.GetCredentialsFn = func(context.Context, string, map[string]string) (*cognito.Credentials, error) {
		return cognitotest.Credentials(time.Now().Add(-time.Minute)), nil
	}
	h.start(t)

	h.machine.Dispatch(FetchSessionRequested{Input: SessionInput{}})
	state := h.waitFor(t, hasFetchError)

	fetching := authorization(state).(AuthZFetchingSession)
	phase, ok := fetching.Fetch.(FetchingAWSCredentials)
	require.True(t, ok)
	failed, ok := phase.State.(AWSCredentialsError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidResponse, failed.Err.TextCode)
	creds, saves, _ := h.store.snapshot()
	assert.Nil(t, creds)
	assert.Zero(t, saves)
}

func TestSignOutClearsStoreAfterSlowSave(t *testing.T) {
	h := newHarness(t, testConfig(true))
	saving := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store := &hookedStore{beforeSave: func() {
		once.Do(func() { close(saving) })
		<-release
	}}
	h.env.Store = store
	h.start(t)

	h.machine.Dispatch(FederationRequested{Provider: "accounts.google.com", Token: "tok", At: time.Now()})
	h.waitFor(t, hasSession)
	select {
	case <-saving:
	case <-time.After(2 * time.Second):
		t.Fatal("session was never persisted")
	}

	h.machine.Dispatch(SignOutRequested{})
	h.waitFor(t, func(s AuthState) bool {
		_, out := authentication(s).(SignedOut)
		return out
	})
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.machine.Drain(ctx))

	creds, saves, clears := store.snapshot()
	assert.Nil(t, creds)
	assert.Equal(t, 1, saves)
	assert.Equal(t, 1, clears)
}

func TestSaveScheduledBeforeClearIsSkipped(t *testing.T) {
	h := newHarness(t, testConfig(true))
	cleared := make(chan struct{})
	store := &hookedStore{afterClear: func() { close(cleared) }}
	h.env.Store = store

	data := signedInAlice()
	resolver := machine.ResolverFunc[AuthState, *Environment](func(s AuthState, evt machine.Event) machine.Resolution[AuthState, *Environment] {
		if _, ok := evt.(SignOutRequested); !ok {
			return ignored(s)
		}
		late := machine.ActionFunc[*Environment]{
			ActionName: "late_persist",
			Fn: func(ctx context.Context, d machine.Dispatcher, env *Environment) {
				<-cleared
				PersistCredentials{Credentials: CognitoCredentials{User: &data}}.Execute(ctx, d, env)
			},
		}
		return resolved(s, late, ClearCredentials{})
	})
	m := machine.New[AuthState, *Environment](configured(SignedIn{Data: data}, AuthZConfigured{}), resolver, h.env)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	m.Dispatch(SignOutRequested{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Drain(ctx))

	creds, saves, clears := store.snapshot()
	assert.Nil(t, creds)
	assert.Zero(t, saves)
	assert.Equal(t, 1, clears)
}
