package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-authstate/auth"
	"github.com/goliatone/go-authstate/coordinator"
	"github.com/goliatone/go-errors"
)

type signInCmd struct {
	Username string `arg:"" help:"User name or alias."`
	Password string `help:"Password, required by the SRP and user password flows." env:"AUTHCTL_PASSWORD"`
	Method   string `help:"Override the configured flow."`
}

func (c *signInCmd) Run(a *app) error {
	res, err := a.client.Coordinator().SignIn(a.ctx, coordinator.SignInInput{
		Username: c.Username,
		Password: c.Password,
		Method:   auth.SignInMethod(c.Method),
	})
	if err != nil {
		return err
	}

	answers := bufio.NewScanner(a.in)
	for !res.Done {
		fmt.Fprintf(a.out, "%s: ", prompt(res))
		if !answers.Scan() {
			if err := answers.Err(); err != nil {
				return err
			}
			return abandonSignIn(a, res.NextStep)
		}
		var confirmErr error
		res, confirmErr = a.client.Coordinator().ConfirmSignIn(a.ctx, coordinator.ConfirmSignInInput{
			Answer: strings.TrimSpace(answers.Text()),
		})
		if confirmErr != nil {
			if res.NextStep == "" {
				return confirmErr
			}
			fmt.Fprintf(a.out, "rejected: %v\n", confirmErr)
		}
	}

	fmt.Fprintf(a.out, "signed in as %s\n", res.User.Username)
	return nil
}

// abandonSignIn cancels the pending attempt. A failed cancel is reported
// together with the step the attempt stopped at.
func abandonSignIn(a *app, step coordinator.NextStep) error {
	stopped := fmt.Errorf("sign-in canceled at step %s", step)
	if err := a.client.Coordinator().CancelSignIn(a.ctx); err != nil {
		return errors.Join(stopped, fmt.Errorf("cancel sign-in: %w", err))
	}
	return stopped
}

func prompt(res coordinator.SignInResult) string {
	switch res.NextStep {
	case coordinator.StepSMSCode:
		return "SMS code"
	case coordinator.StepTOTPCode:
		return "Authenticator code"
	case coordinator.StepSelectMFAType:
		return "MFA type"
	case coordinator.StepNewPasswordRequired:
		return "New password"
	}
	if res.Challenge != nil && len(res.Challenge.Parameters) > 0 {
		keys := make([]string, 0, len(res.Challenge.Parameters))
		for k := range res.Challenge.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Sprintf("Answer (%s)", strings.Join(keys, ", "))
	}
	return "Answer"
}

type sessionCmd struct {
	Force   bool `help:"Refresh even when the current session is valid."`
	Secrets bool `help:"Include tokens and secret keys in the output."`
}

type sessionView struct {
	Username            string     `json:"username,omitempty"`
	UserID              string     `json:"user_id,omitempty"`
	Method              string     `json:"method,omitempty"`
	IdentityID          string     `json:"identity_id,omitempty"`
	TokensExpireAt      *time.Time `json:"tokens_expire_at,omitempty"`
	CredentialsExpireAt *time.Time `json:"credentials_expire_at,omitempty"`
	AccessKeyID         string     `json:"access_key_id,omitempty"`
	AccessToken         string     `json:"access_token,omitempty"`
	SecretAccessKey     string     `json:"secret_access_key,omitempty"`
	SessionToken        string     `json:"session_token,omitempty"`
	EstablishedAt       time.Time  `json:"established_at"`
}

func (c *sessionCmd) Run(a *app) error {
	session, err := a.client.Coordinator().FetchAuthSession(a.ctx, coordinator.FetchSessionOptions{ForceRefresh: c.Force})
	if err != nil {
		return err
	}

	view := sessionView{IdentityID: session.IdentityID, EstablishedAt: session.EstablishedAt}
	if u := session.User; u != nil {
		view.Username = u.Username
		view.UserID = u.UserID
		view.Method = string(u.Method)
		if !u.Tokens.ExpiresAt.IsZero() {
			exp := u.Tokens.ExpiresAt
			view.TokensExpireAt = &exp
		}
		if c.Secrets {
			view.AccessToken = u.Tokens.AccessToken
		}
	}
	if creds := session.AWS; creds != nil {
		exp := creds.Expiration
		view.CredentialsExpireAt = &exp
		view.AccessKeyID = creds.AccessKeyID
		if c.Secrets {
			view.SecretAccessKey = creds.SecretAccessKey
			view.SessionToken = creds.SessionToken
		}
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

type devicesCmd struct {
	List     devicesListCmd     `cmd:"" default:"1" help:"List devices."`
	Remember devicesRememberCmd `cmd:"" help:"Remember the current device."`
	Forget   devicesForgetCmd   `cmd:"" help:"Forget a device, the current one by default."`
}

type devicesListCmd struct{}

func (c *devicesListCmd) Run(a *app) error {
	devices, err := a.client.Coordinator().FetchDevices(a.ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(a.out, "%s\t%s\t%s\n", d.Key, name, formatTime(d.LastAuthenticatedAt))
	}
	return nil
}

type devicesRememberCmd struct{}

func (c *devicesRememberCmd) Run(a *app) error {
	return a.client.Coordinator().RememberDevice(a.ctx)
}

type devicesForgetCmd struct {
	Key string `arg:"" optional:"" help:"Device key."`
}

func (c *devicesForgetCmd) Run(a *app) error {
	return a.client.Coordinator().ForgetDevice(a.ctx, c.Key)
}

type changePasswordCmd struct {
	Previous string `required:"" help:"Current password." env:"AUTHCTL_PASSWORD"`
	Proposed string `required:"" help:"New password." env:"AUTHCTL_NEW_PASSWORD"`
}

func (c *changePasswordCmd) Run(a *app) error {
	return a.client.Coordinator().ChangePassword(a.ctx, c.Previous, c.Proposed)
}

type signOutCmd struct {
	Global bool `help:"Invalidate tokens on every device."`
}

func (c *signOutCmd) Run(a *app) error {
	if err := a.client.Coordinator().SignOut(a.ctx, coordinator.SignOutOptions{Global: c.Global}); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "signed out")
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
