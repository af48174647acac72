package coordinator

import (
	"context"
	"strings"

	"github.com/goliatone/go-authstate/auth"
	"github.com/goliatone/go-authstate/cognito"
)

// signedInUser fetches a session with usable user pool tokens.
func (c *Coordinator) signedInUser(ctx context.Context, task string) (*auth.SignedInData, error) {
	if err := ctx.Err(); err != nil {
		return nil, auth.NewError(auth.ErrCanceled, task, "", err)
	}
	session, err := c.FetchAuthSession(ctx, FetchSessionOptions{})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, auth.NewError(auth.ErrCanceled, task, "", err)
	}
	if session.User == nil {
		return nil, auth.NewError(auth.ErrSignedOut, task, "", nil)
	}
	if session.User.Federated() {
		return nil, auth.NewError(auth.ErrInvalidState, task, "federated sessions carry no user pool tokens", nil)
	}
	return session.User, nil
}

// RememberDevice marks the current device as remembered.
func (c *Coordinator) RememberDevice(ctx context.Context) error {
	user, err := c.signedInUser(ctx, "remember_device")
	if err != nil {
		return err
	}
	if user.DeviceKey == "" {
		return auth.NewError(auth.ErrInvalidState, "remember_device", "this device is not tracked", nil)
	}
	err = c.env.Call(ctx, "UpdateDeviceStatus", func(ctx context.Context) error {
		return c.env.UserPool.UpdateDeviceStatus(ctx, user.Tokens.AccessToken, user.DeviceKey, true)
	})
	if err != nil {
		return auth.ServiceError("remember_device", err)
	}
	return nil
}

// ForgetDevice stops tracking deviceKey, or the current device when
// deviceKey is empty.
func (c *Coordinator) ForgetDevice(ctx context.Context, deviceKey string) error {
	user, err := c.signedInUser(ctx, "forget_device")
	if err != nil {
		return err
	}
	key := strings.TrimSpace(deviceKey)
	if key == "" {
		key = user.DeviceKey
	}
	if key == "" {
		return auth.NewError(auth.ErrInvalidInput, "forget_device", "device key is required", nil)
	}
	err = c.env.Call(ctx, "ForgetDevice", func(ctx context.Context) error {
		return c.env.UserPool.ForgetDevice(ctx, user.Tokens.AccessToken, key)
	})
	if err != nil {
		return auth.ServiceError("forget_device", err)
	}
	return nil
}

// FetchDevices lists every device tracked for the user.
func (c *Coordinator) FetchDevices(ctx context.Context) ([]cognito.Device, error) {
	user, err := c.signedInUser(ctx, "fetch_devices")
	if err != nil {
		return nil, err
	}

	var devices []cognito.Device
	next := ""
	for {
		var page *cognito.DevicePage
		err := c.env.Call(ctx, "ListDevices", func(ctx context.Context) error {
			var err error
			page, err = c.env.UserPool.ListDevices(ctx, user.Tokens.AccessToken, c.pageSize, next)
			return err
		})
		if err != nil {
			return nil, auth.ServiceError("fetch_devices", err)
		}
		if page == nil {
			break
		}
		devices = append(devices, page.Devices...)
		if page.NextToken == "" || page.NextToken == next {
			break
		}
		next = page.NextToken
	}
	return devices, nil
}

// ChangePassword replaces the signed-in user's password.
func (c *Coordinator) ChangePassword(ctx context.Context, previous, proposed string) error {
	if proposed == "" {
		return auth.NewError(auth.ErrInvalidInput, "change_password", "new password is required", nil)
	}
	user, err := c.signedInUser(ctx, "change_password")
	if err != nil {
		return err
	}

	err = c.env.Call(ctx, "ChangePassword", func(ctx context.Context) error {
		return c.env.UserPool.ChangePassword(ctx, user.Tokens.AccessToken, previous, proposed)
	})
	if err != nil {
		return auth.ServiceError("change_password", err)
	}
	return nil
}
