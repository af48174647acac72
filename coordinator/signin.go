package coordinator

import (
	"context"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/goliatone/go-authstate/auth"
	"github.com/goliatone/go-authstate/cognito"
	"github.com/goliatone/go-authstate/machine"
	apperrors "github.com/goliatone/go-errors"
)

// NextStep tells the caller what a sign-in needs next.
type NextStep string

const (
	StepDone                NextStep = "DONE"
	StepCustomChallenge     NextStep = "CONFIRM_SIGN_IN_WITH_CUSTOM_CHALLENGE"
	StepSMSCode             NextStep = "CONFIRM_SIGN_IN_WITH_SMS_MFA_CODE"
	StepTOTPCode            NextStep = "CONFIRM_SIGN_IN_WITH_TOTP_CODE"
	StepSelectMFAType       NextStep = "CONTINUE_SIGN_IN_WITH_MFA_SELECTION"
	StepNewPasswordRequired NextStep = "CONFIRM_SIGN_IN_WITH_NEW_PASSWORD_REQUIRED"
)

// SignInInput starts a sign-in. An empty Method uses the configured flow.
type SignInInput struct {
	Username       string
	Password       string
	Method         auth.SignInMethod
	ClientMetadata map[string]string
}

// ConfirmSignInInput answers the pending challenge.
type ConfirmSignInInput struct {
	Answer         string
	ClientMetadata map[string]string
	Attributes     map[string]string
}

// SignInResult reports where a sign-in stands.
type SignInResult struct {
	Done      bool
	NextStep  NextStep
	Challenge *auth.AuthChallenge
	User      *auth.SignedInData
}

// SignIn starts a sign-in and waits until it completes, needs a challenge
// answer or fails.
func (c *Coordinator) SignIn(ctx context.Context, in SignInInput) (SignInResult, error) {
	configured, err := c.AwaitConfigured(ctx)
	if err != nil {
		return SignInResult{}, err
	}
	switch authn := configured.Authentication.(type) {
	case auth.SignedIn:
		return SignInResult{}, auth.NewError(auth.ErrInvalidState, "sign_in", "user "+authn.Data.Username+" is already signed in", nil)
	case auth.SigningIn:
		if _, failed := authn.Flow.(auth.SignInFailed); !failed {
			return SignInResult{}, auth.NewError(auth.ErrInvalidState, "sign_in", "a sign-in is already in progress", nil)
		}
	case auth.SigningOut:
		return SignInResult{}, auth.NewError(auth.ErrInvalidState, "sign_in", "a sign-out is in progress", nil)
	}

	method := in.Method
	if method == "" {
		method = auth.MethodFromFlow(c.env.Config.AuthFlow)
	}
	req := auth.SignInRequest{
		Username:       strings.TrimSpace(in.Username),
		Method:         method,
		ClientMetadata: in.ClientMetadata,
	}
	if in.Password != "" {
		req.Password = memguard.NewEnclave([]byte(in.Password))
	}

	c.logger.Debug("sign in %s method=%s", req.Username, method)
	state, err := c.machine.DispatchAndWait(ctx, auth.SignInRequested{Request: req}, signInSettled)
	if err != nil {
		return SignInResult{}, c.signInError(err)
	}
	return signInResult(state)
}

// ConfirmSignIn answers the challenge the current sign-in waits on. A
// rejected answer returns the same next step together with the error so
// the caller can try again.
func (c *Coordinator) ConfirmSignIn(ctx context.Context, in ConfirmSignInInput) (SignInResult, error) {
	configured, err := c.AwaitConfigured(ctx)
	if err != nil {
		return SignInResult{}, err
	}
	if _, waiting := pendingChallenge(configured.Authentication); !waiting {
		return SignInResult{}, auth.NewError(auth.ErrInvalidState, "confirm_sign_in", "no challenge is waiting for an answer", nil)
	}

	state, err := c.machine.DispatchAndWait(ctx, auth.ChallengeAnswered{
		Answer:         in.Answer,
		ClientMetadata: in.ClientMetadata,
		Attributes:     in.Attributes,
	}, signInSettled)
	if err != nil {
		return SignInResult{}, c.signInError(err)
	}
	return signInResult(state)
}

// CancelSignIn abandons the sign-in in progress.
func (c *Coordinator) CancelSignIn(ctx context.Context) error {
	if _, err := c.AwaitConfigured(ctx); err != nil {
		return err
	}
	_, err := c.machine.DispatchAndWait(ctx, auth.CancelSignIn{}, func(s auth.AuthState) bool {
		_, out := authentication(s).(auth.SignedOut)
		return out
	})
	if err != nil {
		return c.signInError(err)
	}
	return nil
}

// SignOutOptions controls SignOut.
type SignOutOptions struct {
	// Global invalidates every token issued to the user, not only this
	// client's refresh token.
	Global bool
}

// SignOut signs the current user out. Signing out while signed out is a
// no-op.
func (c *Coordinator) SignOut(ctx context.Context, opts SignOutOptions) error {
	configured, err := c.AwaitConfigured(ctx)
	if err != nil {
		return err
	}
	switch authn := configured.Authentication.(type) {
	case auth.SignedOut:
		return nil
	case auth.SigningIn:
		return auth.NewError(auth.ErrInvalidState, "sign_out", "cancel the sign-in in progress first", nil)
	case auth.AuthenticationFailed:
		if _, retry := authn.Previous.(auth.SigningOut); !retry {
			return auth.NewError(auth.ErrInvalidState, "sign_out", "no user is signed in", authn.Err)
		}
	}

	state, err := c.machine.DispatchAndWait(ctx, auth.SignOutRequested{Global: opts.Global}, func(s auth.AuthState) bool {
		switch authentication(s).(type) {
		case auth.SignedOut, auth.AuthenticationFailed:
			return true
		}
		return false
	})
	if err != nil {
		return c.signInError(err)
	}
	if failed, ok := authentication(state).(auth.AuthenticationFailed); ok {
		return failure(failed.Err, "sign_out")
	}
	return nil
}

// FederateInput identifies a third-party token to exchange for an
// identity pool session.
type FederateInput struct {
	Provider   string
	Token      string
	IdentityID string
}

// FederateToIdentityPool signs in with an external provider token and
// waits for the resulting AWS session.
func (c *Coordinator) FederateToIdentityPool(ctx context.Context, in FederateInput) (auth.Session, error) {
	configured, err := c.AwaitConfigured(ctx)
	if err != nil {
		return auth.Session{}, err
	}
	if !c.env.HasIdentityPool() {
		return auth.Session{}, auth.NewError(auth.ErrConfiguration, "federate", "federation requires an identity pool", nil)
	}
	if _, out := configured.Authentication.(auth.SignedOut); !out {
		return auth.Session{}, auth.NewError(auth.ErrInvalidState, "federate", "sign out before federating", nil)
	}

	state, err := c.machine.DispatchAndWait(ctx, auth.FederationRequested{
		Provider:   strings.TrimSpace(in.Provider),
		Token:      in.Token,
		IdentityID: in.IdentityID,
		At:         c.env.Now(),
	}, func(s auth.AuthState) bool {
		if _, failed := authentication(s).(auth.AuthenticationFailed); failed {
			return true
		}
		return fetchSettled(s)
	})
	if err != nil {
		return auth.Session{}, c.signInError(err)
	}
	if failed, ok := authentication(state).(auth.AuthenticationFailed); ok {
		return auth.Session{}, failure(failed.Err, "federate")
	}
	return sessionFrom(state)
}

func authentication(s auth.AuthState) auth.AuthenticationState {
	if configured, ok := s.(auth.AuthConfigured); ok {
		return configured.Authentication
	}
	return nil
}

// signInSettled is true once a sign-in needs nothing more from the
// machine: it finished, failed or waits on the caller.
func signInSettled(s auth.AuthState) bool {
	switch authn := authentication(s).(type) {
	case nil:
		return true
	case auth.SignedIn, auth.SignedOut, auth.AuthenticationFailed:
		return true
	case auth.SigningIn:
		if _, failed := authn.Flow.(auth.SignInFailed); failed {
			return true
		}
		_, waiting := pendingChallenge(authn)
		return waiting
	}
	return false
}

func signInResult(state auth.AuthState) (SignInResult, error) {
	switch authn := authentication(state).(type) {
	case auth.SignedIn:
		data := authn.Data
		return SignInResult{Done: true, NextStep: StepDone, User: &data}, nil
	case auth.SignedOut:
		return SignInResult{}, auth.NewError(auth.ErrCanceled, "sign_in", "sign-in was canceled", nil)
	case auth.AuthenticationFailed:
		return SignInResult{}, failure(authn.Err, "sign_in")
	case auth.SigningIn:
		if failed, ok := authn.Flow.(auth.SignInFailed); ok {
			return SignInResult{}, failure(failed.Err, "sign_in")
		}
		if w, ok := pendingChallenge(authn); ok {
			challenge := w.challenge
			result := SignInResult{NextStep: nextStep(challenge.Name), Challenge: &challenge}
			if w.lastErr != nil {
				return result, w.lastErr
			}
			return result, nil
		}
	}
	return SignInResult{}, auth.NewError(auth.ErrInvalidState, "sign_in", "unexpected state "+stateString(state), nil)
}

type challengeWait struct {
	challenge auth.AuthChallenge
	lastErr   *apperrors.Error
}

// pendingChallenge returns the challenge a sign-in is waiting on.
func pendingChallenge(authn auth.AuthenticationState) (challengeWait, bool) {
	signingIn, ok := authn.(auth.SigningIn)
	if !ok {
		return challengeWait{}, false
	}
	switch flow := signingIn.Flow.(type) {
	case auth.ResolvingChallenge:
		if w, ok := flow.State.(auth.ChallengeWaitingForAnswer); ok {
			return challengeWait{challenge: w.Challenge, lastErr: w.LastErr}, true
		}
	case auth.SigningInWithCustom:
		if w, ok := flow.State.(auth.CustomAwaitingChallengeResponse); ok {
			return challengeWait{challenge: w.Challenge, lastErr: w.LastErr}, true
		}
	}
	return challengeWait{}, false
}

func nextStep(name cognito.ChallengeName) NextStep {
	switch name {
	case cognito.ChallengeSMSMFA:
		return StepSMSCode
	case cognito.ChallengeSoftwareTokenMFA:
		return StepTOTPCode
	case cognito.ChallengeSelectMFAType:
		return StepSelectMFAType
	case cognito.ChallengeNewPasswordRequired:
		return StepNewPasswordRequired
	}
	return StepCustomChallenge
}

func (c *Coordinator) signInError(err error) error {
	if machine.HasCode(err, machine.ErrCodeEventIgnored) {
		return auth.NewError(auth.ErrInvalidState, "sign_in", "request not allowed in the current state", err)
	}
	return c.waitError("sign_in", err)
}

// failure turns a recorded state error into a non-nil error value.
func failure(err *apperrors.Error, flow string) error {
	if err == nil {
		return auth.NewError(auth.ErrInvalidState, flow, "", nil)
	}
	return err
}

func stateString(s auth.AuthState) string {
	if s == nil {
		return "<nil>"
	}
	return s.String()
}
