package authstate

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-authstate/auth"
	"github.com/goliatone/go-authstate/cognito"
	"github.com/goliatone/go-authstate/cognito/cognitotest"
	"github.com/goliatone/go-authstate/config"
	"github.com/goliatone/go-authstate/coordinator"
	"github.com/goliatone/go-authstate/credstore"
	"github.com/goliatone/go-authstate/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Region = "us-east-1"
	cfg.UserPool.PoolID = "us-east-1_TestPool"
	cfg.UserPool.AppClientID = "client-id"
	cfg.IdentityPool.PoolID = "us-east-1:11111111-2222-3333-4444-555555555555"
	cfg.AuthFlow = string(cognito.AuthFlowUserPassword)
	return cfg
}

func scriptedClients() (*cognitotest.UserPool, *cognitotest.Identity) {
	userPool := &cognitotest.UserPool{
		InitiateAuthFn: func(_ context.Context, in cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
			username := in.Parameters[cognito.ParamUsername]
			return cognitotest.Tokens("sub-"+username, username, time.Now().Add(time.Hour)), nil
		},
	}
	return userPool, &cognitotest.Identity{}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newClient(t *testing.T, cfg config.Config, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(machine.NopLogger{})}, opts...)
	client, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}

func TestClientSignsInAndEstablishesSession(t *testing.T) {
	userPool, identity := scriptedClients()
	client := newClient(t, testConfig(), WithUserPoolClient(userPool), WithIdentityClient(identity))

	configured, err := client.Configure(testContext(t))
	require.NoError(t, err)
	assert.IsType(t, auth.SignedOut{}, configured.Authentication)

	res, err := client.Coordinator().SignIn(testContext(t), coordinator.SignInInput{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	require.True(t, res.Done)
	assert.Equal(t, auth.MethodUserPassword, res.User.Method)

	session, err := client.Coordinator().FetchAuthSession(testContext(t), coordinator.FetchSessionOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, session.IdentityID)
	require.NotNil(t, session.AWS)
	assert.Equal(t, 1, identity.Calls("GetId"))

	state, ok := client.State().(auth.AuthConfigured)
	require.True(t, ok)
	assert.IsType(t, auth.AuthZSessionEstablished{}, state.Authorization)
}

func TestClientRestoresPersistedSession(t *testing.T) {
	store := credstore.NewMemoryStore()
	cfg := testConfig()

	userPool, identity := scriptedClients()
	first, err := New(context.Background(), cfg,
		WithLogger(machine.NopLogger{}),
		WithUserPoolClient(userPool),
		WithIdentityClient(identity),
		WithCredentialStore(store),
	)
	require.NoError(t, err)
	_, err = first.Configure(testContext(t))
	require.NoError(t, err)
	_, err = first.Coordinator().SignIn(testContext(t), coordinator.SignInInput{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	_, err = first.Coordinator().FetchAuthSession(testContext(t), coordinator.FetchSessionOptions{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		creds, err := store.Load(context.Background())
		return err == nil && creds != nil && creds.AWS != nil
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, first.Close(context.Background()))

	userPool2, identity2 := scriptedClients()
	second := newClient(t, cfg, WithUserPoolClient(userPool2), WithIdentityClient(identity2), WithCredentialStore(store))
	_, err = second.Configure(testContext(t))
	require.NoError(t, err)

	session, err := second.Coordinator().Session(testContext(t))
	require.NoError(t, err)
	require.NotNil(t, session.User)
	assert.Equal(t, "alice", session.User.Username)
	assert.Equal(t, 0, userPool2.Calls("InitiateAuth"))
	assert.Equal(t, 0, identity2.Calls("GetId"))
}

func TestClientListenerSeesTransitions(t *testing.T) {
	userPool, identity := scriptedClients()
	client := newClient(t, testConfig(), WithUserPoolClient(userPool), WithIdentityClient(identity))

	var mu sync.Mutex
	var seen []string
	sub := client.Listen(func(tr machine.Transition[auth.AuthState]) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr.Event.Type())
	})
	defer sub.Unsubscribe()

	_, err := client.Configure(testContext(t))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, auth.ConfigureAuth{}.Type(), seen[0])
}

func TestConfigureIsIdempotent(t *testing.T) {
	userPool, identity := scriptedClients()
	client := newClient(t, testConfig(), WithUserPoolClient(userPool), WithIdentityClient(identity))

	first, err := client.Configure(testContext(t))
	require.NoError(t, err)
	second, err := client.Configure(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClientOpensAndClosesBoltStore(t *testing.T) {
	cfg := testConfig()
	cfg.CredentialStore.Driver = config.StoreBolt
	cfg.CredentialStore.Path = filepath.Join(t.TempDir(), "auth.db")

	userPool, identity := scriptedClients()
	client, err := New(context.Background(), cfg,
		WithLogger(machine.NopLogger{}),
		WithUserPoolClient(userPool),
		WithIdentityClient(identity),
	)
	require.NoError(t, err)
	_, err = client.Configure(testContext(t))
	require.NoError(t, err)
	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))

	reopened, err := credstore.OpenBolt(cfg.CredentialStore.Path, credstore.BoltOptions{Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestClientStartsRefreshScheduler(t *testing.T) {
	cfg := testConfig()
	cfg.Refresh.Enabled = true
	cfg.Refresh.Schedule = "@every 1h"

	userPool, identity := scriptedClients()
	client := newClient(t, cfg, WithUserPoolClient(userPool), WithIdentityClient(identity))
	require.NotNil(t, client.Scheduler())

	_, err := client.Configure(testContext(t))
	require.NoError(t, err)
	assert.False(t, client.Scheduler().Next().IsZero())

	require.NoError(t, client.Close(context.Background()))
	assert.True(t, client.Scheduler().Next().IsZero())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.UserPool.PoolID = ""
	_, err := New(context.Background(), cfg, WithUserPoolClient(&cognitotest.UserPool{}))
	require.Error(t, err)
	assert.Equal(t, config.ErrCodeInvalidConfig, auth.ErrorCode(err))
}

func TestNewRejectsUnknownStoreDriver(t *testing.T) {
	cfg := testConfig()
	cfg.CredentialStore.Driver = "redis"
	userPool, identity := scriptedClients()
	_, err := New(context.Background(), cfg, WithUserPoolClient(userPool), WithIdentityClient(identity))
	require.Error(t, err)
}
