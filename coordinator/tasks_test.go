package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-authstate/auth"
	"github.com/goliatone/go-authstate/cognito"
	"github.com/goliatone/go-authstate/cognito/cognitotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedInWithDevice(t *testing.T) *harness {
	t.Helper()
	h := newHarness(false)
	h.userPool.InitiateAuthFn = func(context.Context, cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
		out := cognitotest.Tokens("sub-alice", "alice", time.Now().Add(time.Hour))
		out.Result.NewDevice = &cognito.DeviceMetadata{DeviceKey: "us-east-1_device", DeviceGroupKey: "group"}
		return out, nil
	}
	return h
}

func TestRememberDevice(t *testing.T) {
	h := signedInWithDevice(t)
	var gotKey string
	var remembered bool
	h.userPool.UpdateDeviceStatusFn = func(_ context.Context, _ string, deviceKey string, status bool) error {
		gotKey, remembered = deviceKey, status
		return nil
	}
	h.start(t)
	h.signIn(t, "alice")

	require.NoError(t, h.coord.RememberDevice(testContext(t)))
	assert.Equal(t, "us-east-1_device", gotKey)
	assert.True(t, remembered)
}

func TestForgetDevice(t *testing.T) {
	h := signedInWithDevice(t)
	var forgotten []string
	h.userPool.ForgetDeviceFn = func(_ context.Context, accessToken, deviceKey string) error {
		if accessToken == "" {
			return cognitotest.APIError("ForgetDevice", cognito.CodeNotAuthorized)
		}
		forgotten = append(forgotten, deviceKey)
		return nil
	}
	h.start(t)
	h.signIn(t, "alice")

	require.NoError(t, h.coord.ForgetDevice(testContext(t), ""))
	require.NoError(t, h.coord.ForgetDevice(testContext(t), "other-device"))
	assert.Equal(t, []string{"us-east-1_device", "other-device"}, forgotten)
}

func TestForgetDeviceHonoursCancellation(t *testing.T) {
	h := signedInWithDevice(t)
	h.start(t)
	h.signIn(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.coord.ForgetDevice(ctx, "")
	assert.Equal(t, auth.ErrCodeCanceled, auth.ErrorCode(err))
	assert.Equal(t, 0, h.userPool.Calls("ForgetDevice"))
}

func TestFetchDevicesFollowsPages(t *testing.T) {
	h := signedInWithDevice(t)
	var limits []int32
	h.userPool.ListDevicesFn = func(_ context.Context, _ string, limit int32, pageToken string) (*cognito.DevicePage, error) {
		limits = append(limits, limit)
		switch pageToken {
		case "":
			return &cognito.DevicePage{Devices: []cognito.Device{{Key: "d1"}, {Key: "d2"}}, NextToken: "p2"}, nil
		case "p2":
			return &cognito.DevicePage{Devices: []cognito.Device{{Key: "d3"}}}, nil
		}
		return nil, cognitotest.APIError("ListDevices", cognito.CodeInvalidParameter)
	}
	h.start(t)
	h.signIn(t, "alice")

	devices, err := h.coord.FetchDevices(testContext(t))
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "d3", devices[2].Key)
	assert.Equal(t, []int32{60, 60}, limits)
}

func TestTasksRequireSignedInUser(t *testing.T) {
	h := newHarness(true)
	h.start(t)

	err := h.coord.ChangePassword(testContext(t), "old", "new")
	assert.Equal(t, auth.ErrCodeSignedOut, auth.ErrorCode(err))

	err = h.coord.ChangePassword(testContext(t), "old", "")
	assert.Equal(t, auth.ErrCodeInvalidInput, auth.ErrorCode(err))
}

func TestChangePassword(t *testing.T) {
	h := newHarness(false)
	h.scriptUserPassword("alice", time.Now().Add(time.Hour))
	var previous, proposed string
	h.userPool.ChangePasswordFn = func(_ context.Context, _ string, p, n string) error {
		previous, proposed = p, n
		return nil
	}
	h.start(t)
	h.signIn(t, "alice")

	require.NoError(t, h.coord.ChangePassword(testContext(t), "old-pw", "new-pw"))
	assert.Equal(t, "old-pw", previous)
	assert.Equal(t, "new-pw", proposed)

	h.userPool.ChangePasswordFn = func(context.Context, string, string, string) error {
		return cognitotest.APIError("ChangePassword", cognito.CodeNotAuthorized)
	}
	err := h.coord.ChangePassword(testContext(t), "wrong", "new-pw")
	assert.Equal(t, auth.ErrCodeNotAuthorized, auth.ErrorCode(err))
}
