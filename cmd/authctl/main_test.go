package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	authstate "github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/auth"
	"github.com/goliatone/go-authstate/cognito"
	"github.com/goliatone/go-authstate/cognito/cognitotest"
	"github.com/goliatone/go-authstate/config"
	"github.com/goliatone/go-authstate/coordinator"
	"github.com/goliatone/go-authstate/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	configPath string
	userPool   *cognitotest.UserPool
	identity   *cognitotest.Identity
}

func newFixture(t *testing.T, authFlow cognito.AuthFlow) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
region: us-east-1
auth_flow: %s
user_pool:
  pool_id: us-east-1_TestPool
  app_client_id: client-id
identity_pool:
  pool_id: us-east-1:11111111-2222-3333-4444-555555555555
credential_store:
  driver: bolt
  path: %s
`, authFlow, filepath.Join(dir, "auth.db"))
	path := filepath.Join(dir, "authctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	return &fixture{
		configPath: path,
		userPool: &cognitotest.UserPool{
			InitiateAuthFn: func(_ context.Context, in cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
				username := in.Parameters[cognito.ParamUsername]
				return cognitotest.Tokens("sub-"+username, username, time.Now().Add(time.Hour)), nil
			},
		},
		identity: &cognitotest.Identity{},
	}
}

func (f *fixture) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := run(ctx, append([]string{"--config", f.configPath}, args...), runEnv{
		in:     strings.NewReader(stdin),
		out:    &out,
		errOut: &errOut,
		options: []authstate.Option{
			authstate.WithLogger(machine.NopLogger{}),
			authstate.WithUserPoolClient(f.userPool),
			authstate.WithIdentityClient(f.identity),
		},
	})
	return out.String(), err
}

func TestSignInPersistsSessionBetweenRuns(t *testing.T) {
	f := newFixture(t, cognito.AuthFlowUserPassword)

	out, err := f.run(t, "", "sign-in", "alice", "--password", "pw")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as alice")

	out, err = f.run(t, "", "session")
	require.NoError(t, err)

	var view sessionView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "alice", view.Username)
	assert.Equal(t, "user_password", view.Method)
	assert.NotEmpty(t, view.IdentityID)
	assert.Equal(t, "ASIAFAKEACCESSKEY", view.AccessKeyID)
	assert.Empty(t, view.SecretAccessKey)
	assert.Equal(t, 1, f.userPool.Calls("InitiateAuth"))
	assert.Equal(t, 1, f.identity.Calls("GetId"))
}

func TestSessionSecretsFlag(t *testing.T) {
	f := newFixture(t, cognito.AuthFlowUserPassword)
	_, err := f.run(t, "", "sign-in", "alice", "--password", "pw")
	require.NoError(t, err)

	out, err := f.run(t, "", "session", "--secrets")
	require.NoError(t, err)
	var view sessionView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "fake-secret", view.SecretAccessKey)
	assert.NotEmpty(t, view.AccessToken)
}

func TestSignInAnswersChallengesFromStdin(t *testing.T) {
	f := newFixture(t, cognito.AuthFlowCustom)
	f.userPool.InitiateAuthFn = func(context.Context, cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
		return cognitotest.Challenge(cognito.ChallengeCustom, "carol", "c1"), nil
	}
	f.userPool.RespondFn = func(_ context.Context, in cognito.RespondInput) (*cognito.AuthOutput, error) {
		if in.Responses[cognito.ParamAnswer] != "4" {
			return cognitotest.Challenge(cognito.ChallengeCustom, "carol", "c2"), nil
		}
		return cognitotest.Tokens("sub-carol", "carol", time.Now().Add(time.Hour)), nil
	}

	out, err := f.run(t, "5\n4\n", "sign-in", "carol")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "Answer"))
	assert.Contains(t, out, "signed in as carol")
}

func TestSignInWithoutAnswerCancels(t *testing.T) {
	f := newFixture(t, cognito.AuthFlowCustom)
	f.userPool.InitiateAuthFn = func(context.Context, cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
		return cognitotest.Challenge(cognito.ChallengeCustom, "carol", "c1"), nil
	}

	_, err := f.run(t, "", "sign-in", "carol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled")

	_, err = f.run(t, "", "session")
	require.NoError(t, err)
}

func TestDevicesAndSignOut(t *testing.T) {
	f := newFixture(t, cognito.AuthFlowUserPassword)
	f.userPool.ListDevicesFn = func(context.Context, string, int32, string) (*cognito.DevicePage, error) {
		return &cognito.DevicePage{Devices: []cognito.Device{{Key: "us-east-1_dev", Name: "laptop"}}}, nil
	}
	var forgotten []string
	f.userPool.ForgetDeviceFn = func(_ context.Context, _ string, key string) error {
		forgotten = append(forgotten, key)
		return nil
	}

	_, err := f.run(t, "", "sign-in", "alice", "--password", "pw")
	require.NoError(t, err)

	out, err := f.run(t, "", "devices", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "us-east-1_dev\tlaptop\t-")

	_, err = f.run(t, "", "devices", "forget", "us-east-1_dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1_dev"}, forgotten)

	out, err = f.run(t, "", "sign-out")
	require.NoError(t, err)
	assert.Contains(t, out, "signed out")
	assert.Equal(t, 1, f.userPool.Calls("RevokeToken"))

	_, err = f.run(t, "", "devices", "list")
	require.Error(t, err)
}

func TestMissingConfigFails(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "session"}, runEnv{
		in: strings.NewReader(""), out: &out, errOut: &out,
	})
	require.Error(t, err)
}

func TestAbandonSignInReportsCancelFailure(t *testing.T) {
	f := newFixture(t, cognito.AuthFlowCustom)
	cfg, err := config.Load(f.configPath)
	require.NoError(t, err)
	client, err := authstate.New(context.Background(), cfg,
		authstate.WithLogger(machine.NopLogger{}),
		authstate.WithUserPoolClient(f.userPool),
		authstate.WithIdentityClient(f.identity),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = client.Configure(ctx)
	require.NoError(t, err)

	// nothing is pending, so the cancel itself is rejected
	err = abandonSignIn(&app{ctx: ctx, client: client}, coordinator.StepCustomChallenge)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign-in canceled at step "+string(coordinator.StepCustomChallenge))
	assert.Contains(t, err.Error(), "cancel sign-in")
	assert.Equal(t, auth.ErrCodeInvalidState, auth.ErrorCode(err))
}
