package auth

import (
	"context"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/goliatone/go-authstate/cognito"
	"github.com/goliatone/go-authstate/machine"
	"github.com/goliatone/go-authstate/srp"
	apperrors "github.com/goliatone/go-errors"
)

// signInContext is what every sign-in step needs to interpret a response.
type signInContext struct {
	Username       string
	Method         SignInMethod
	ClientMetadata map[string]string
}

// InitiateAuthSRP starts USER_SRP_AUTH with a fresh ephemeral key pair.
type InitiateAuthSRP struct {
	Request SignInRequest
}

func (InitiateAuthSRP) Name() string { return "InitiateAuthSRP" }

func (a InitiateAuthSRP) Execute(ctx context.Context, d machine.Dispatcher, env *Environment) {
	req := a.Request
	kp, err := srp.GenerateKeyPair(env.random())
	if err != nil {
		d.Dispatch(ThrowSignInError{Err: NewError(ErrService, "srp", "could not generate SRP key pair", err)})
		return
	}

	params := env.withSecretHash(map[string]string{
		cognito.ParamUsername: req.Username,
		cognito.ParamSRPA:     kp.PublicHex(),
	}, req.Username)

	out, err := initiateAuth(ctx, env, cognito.InitiateAuthInput{
		Flow:           cognito.AuthFlowUserSRP,
		Parameters:     params,
		ClientMetadata: req.ClientMetadata,
	})
	if err != nil {
		d.Dispatch(ThrowSignInError{Err: ServiceError("srp", err)})
		return
	}
	if out == nil || out.Challenge != cognito.ChallengePasswordVerifier {
		d.Dispatch(ThrowSignInError{Err: NewError(ErrInvalidResponse, "srp",
			fmt.Sprintf("expected %s challenge, got %q", cognito.ChallengePasswordVerifier, challengeOf(out)), nil)})
		return
	}

	sc := signInContext{Username: req.Username, Method: MethodSRP, ClientMetadata: req.ClientMetadata}
	d.Dispatch(ReceivedPasswordVerifierChallenge{
		Challenge: newChallenge(out, sc),
		SRP: SRPStateData{
			Username:       req.Username,
			Password:       req.Password,
			KeyPair:        kp,
			ClientMetadata: req.ClientMetadata,
		},
	})
}

// VerifyPasswordSRP answers PASSWORD_VERIFIER with the password claim.
type VerifyPasswordSRP struct {
	Challenge AuthChallenge
	SRP       SRPStateData
}

func (VerifyPasswordSRP) Name() string { return "VerifyPasswordSRP" }

func (a VerifyPasswordSRP) Execute(ctx context.Context, d machine.Dispatcher, env *Environment) {
	params := a.Challenge.Parameters
	userID := params[cognito.ParamUserIDForSRP]
	if userID == "" {
		userID = a.SRP.Username
	}

	password, err := openSecret(a.SRP.Password)
	if err != nil {
		d.Dispatch(ThrowSignInError{Err: NewError(ErrInvalidInput, "srp", "password is unavailable", err)})
		return
	}
	claim, err := srp.PasswordClaim(srp.ClaimInput{
		PoolName:    env.Config.PoolName(),
		UserID:      userID,
		Password:    password.Bytes(),
		SaltHex:     params[cognito.ParamSalt],
		ServerBHex:  params[cognito.ParamSRPB],
		SecretBlock: params[cognito.ParamSecretBlock],
		KeyPair:     a.SRP.KeyPair,
		Time:        env.Now(),
	})
	password.Destroy()
	if err != nil {
		d.Dispatch(ThrowSignInError{Err: NewError(ErrInvalidResponse, "srp", "", err)})
		return
	}

	username := a.Challenge.Username
	responses := env.withSecretHash(map[string]string{
		cognito.ParamUsername:       username,
		cognito.ParamClaimBlock:     params[cognito.ParamSecretBlock],
		cognito.ParamClaimSignature: claim.Signature,
		cognito.ParamTimestamp:      claim.Timestamp,
	}, username)

	out, err := respondToChallenge(ctx, env, cognito.RespondInput{
		Challenge:      cognito.ChallengePasswordVerifier,
		Session:        a.Challenge.Session,
		Responses:      responses,
		ClientMetadata: a.SRP.ClientMetadata,
	})
	if err != nil {
		d.Dispatch(ThrowSignInError{Err: ServiceError("srp", err)})
		return
	}
	dispatchAuthOutput(d, env, out, signInContext{
		Username:       username,
		Method:         MethodSRP,
		ClientMetadata: a.SRP.ClientMetadata,
	})
}

// InitiateCustomAuth starts CUSTOM_AUTH.
type InitiateCustomAuth struct {
	Request SignInRequest
}

func (InitiateCustomAuth) Name() string { return "InitiateCustomAuth" }

func (a InitiateCustomAuth) Execute(ctx context.Context, d machine.Dispatcher, env *Environment) {
	req := a.Request
	params := env.withSecretHash(map[string]string{cognito.ParamUsername: req.Username}, req.Username)
	out, err := initiateAuth(ctx, env, cognito.InitiateAuthInput{
		Flow:           cognito.AuthFlowCustom,
		Parameters:     params,
		ClientMetadata: req.ClientMetadata,
	})
	if err != nil {
		d.Dispatch(ThrowSignInError{Err: ServiceError("custom", err)})
		return
	}
	dispatchAuthOutput(d, env, out, signInContext{Username: req.Username, Method: MethodCustom, ClientMetadata: req.ClientMetadata})
}

// InitiateAuthUserPassword starts USER_PASSWORD_AUTH.
type InitiateAuthUserPassword struct {
	Request SignInRequest
}

func (InitiateAuthUserPassword) Name() string { return "InitiateAuthUserPassword" }

func (a InitiateAuthUserPassword) Execute(ctx context.Context, d machine.Dispatcher, env *Environment) {
	req := a.Request
	password, err := openSecret(req.Password)
	if err != nil {
		d.Dispatch(ThrowSignInError{Err: NewError(ErrInvalidInput, "user_password", "password is unavailable", err)})
		return
	}
	params := env.withSecretHash(map[string]string{
		cognito.ParamUsername: req.Username,
		cognito.ParamPassword: string(password.Bytes()),
	}, req.Username)
	password.Destroy()

	out, err := initiateAuth(ctx, env, cognito.InitiateAuthInput{
		Flow:           cognito.AuthFlowUserPassword,
		Parameters:     params,
		ClientMetadata: req.ClientMetadata,
	})
	if err != nil {
		d.Dispatch(ThrowSignInError{Err: ServiceError("user_password", err)})
		return
	}
	dispatchAuthOutput(d, env, out, signInContext{Username: req.Username, Method: MethodUserPassword, ClientMetadata: req.ClientMetadata})
}

// RespondToAuthChallenge sends the user's answer to a pending challenge.
type RespondToAuthChallenge struct {
	Challenge      AuthChallenge
	Answer         string
	ClientMetadata map[string]string
	Attributes     map[string]string
}

func (RespondToAuthChallenge) Name() string { return "RespondToAuthChallenge" }

func (a RespondToAuthChallenge) Execute(ctx context.Context, d machine.Dispatcher, env *Environment) {
	c := a.Challenge
	flow := string(c.Method)
	responses := map[string]string{cognito.ParamUsername: c.Username}
	switch c.Name {
	case cognito.ChallengeCustom, cognito.ChallengeSelectMFAType:
		responses[cognito.ParamAnswer] = a.Answer
	case cognito.ChallengeSMSMFA:
		responses[cognito.ParamSMSMFACode] = a.Answer
	case cognito.ChallengeSoftwareTokenMFA:
		responses[cognito.ParamSoftwareMFA] = a.Answer
	case cognito.ChallengeNewPasswordRequired:
		responses[cognito.ParamNewPassword] = a.Answer
		for name, value := range a.Attributes {
			responses["userAttributes."+name] = value
		}
	default:
		d.Dispatch(ThrowSignInError{Err: NewError(ErrInvalidState, flow, fmt.Sprintf("cannot answer challenge %q", c.Name), nil)})
		return
	}
	env.withSecretHash(responses, c.Username)

	metadata := mergeMetadata(c.ClientMetadata, a.ClientMetadata)
	out, err := respondToChallenge(ctx, env, cognito.RespondInput{
		Challenge:      c.Name,
		Session:        c.Session,
		Responses:      responses,
		ClientMetadata: metadata,
	})
	if err != nil {
		failure := ServiceError(flow, err)
		if failure.TextCode == ErrCodeCodeMismatch {
			d.Dispatch(ChallengeAnswerRejected{Err: failure})
			return
		}
		d.Dispatch(ThrowSignInError{Err: failure})
		return
	}
	dispatchAuthOutput(d, env, out, signInContext{Username: c.Username, Method: c.Method, ClientMetadata: metadata})
}

// SignOut revokes the refresh token or, when global, signs the user out of
// every device.
type SignOut struct {
	Data   SignedInData
	Global bool
}

func (SignOut) Name() string { return "SignOut" }

func (a SignOut) Execute(ctx context.Context, d machine.Dispatcher, env *Environment) {
	if a.Data.Federated() {
		d.Dispatch(SignOutCompleted{})
		return
	}
	tokens := a.Data.Tokens

	if a.Global {
		err := env.Call(ctx, "GlobalSignOut", func(ctx context.Context) error {
			return env.UserPool.GlobalSignOut(ctx, tokens.AccessToken)
		})
		if err != nil {
			failure := ServiceError("sign_out", err)
			if failure.TextCode != ErrCodeNotAuthorized {
				d.Dispatch(ThrowAuthenticationError{Err: failure})
				return
			}
			// the access token is already invalid, nothing left to sign out
			env.log().Debug("global sign out with invalid token: %v", err)
		}
		d.Dispatch(SignOutCompleted{})
		return
	}

	if tokens.RefreshToken == "" {
		d.Dispatch(SignOutCompleted{})
		return
	}
	err := env.Call(ctx, "RevokeToken", func(ctx context.Context) error {
		return env.UserPool.RevokeToken(ctx, tokens.RefreshToken)
	})
	if err != nil {
		failure := ServiceError("sign_out", err)
		env.log().Warn("revoke token failed, signing out locally: %v", err)
		d.Dispatch(SignOutCompleted{RevokeErr: failure})
		return
	}
	d.Dispatch(SignOutCompleted{})
}

func initiateAuth(ctx context.Context, env *Environment, in cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
	var out *cognito.AuthOutput
	err := env.Call(ctx, "InitiateAuth", func(ctx context.Context) error {
		var err error
		out, err = env.UserPool.InitiateAuth(ctx, in)
		return err
	})
	return out, err
}

func respondToChallenge(ctx context.Context, env *Environment, in cognito.RespondInput) (*cognito.AuthOutput, error) {
	var out *cognito.AuthOutput
	err := env.Call(ctx, "RespondToAuthChallenge", func(ctx context.Context) error {
		var err error
		out, err = env.UserPool.RespondToAuthChallenge(ctx, in)
		return err
	})
	return out, err
}

// dispatchAuthOutput turns a user pool response into the next sign-in
// event: tokens complete the sign-in, anything else is a challenge.
func dispatchAuthOutput(d machine.Dispatcher, env *Environment, out *cognito.AuthOutput, sc signInContext) {
	flow := string(sc.Method)
	if out == nil {
		d.Dispatch(ThrowSignInError{Err: NewError(ErrInvalidResponse, flow, "empty response", nil)})
		return
	}
	if out.Result != nil {
		data, err := signedInData(out.Result, sc, env)
		if err != nil {
			d.Dispatch(ThrowSignInError{Err: err})
			return
		}
		d.Dispatch(SignInCompleted{Data: data})
		return
	}

	switch out.Challenge {
	case cognito.ChallengeCustom:
		d.Dispatch(ReceivedCustomChallenge{Challenge: newChallenge(out, sc)})
	case cognito.ChallengeSMSMFA, cognito.ChallengeSoftwareTokenMFA,
		cognito.ChallengeSelectMFAType, cognito.ChallengeNewPasswordRequired:
		d.Dispatch(ReceivedChallenge{Challenge: newChallenge(out, sc)})
	default:
		d.Dispatch(ThrowSignInError{Err: NewError(ErrInvalidResponse, flow,
			fmt.Sprintf("unsupported challenge %q", out.Challenge), nil)})
	}
}

func signedInData(result *cognito.AuthenticationResult, sc signInContext, env *Environment) (SignedInData, *apperrors.Error) {
	flow := string(sc.Method)
	if result.IDToken == "" || result.AccessToken == "" {
		return SignedInData{}, NewError(ErrInvalidResponse, flow, "authentication result is missing tokens", nil)
	}
	now := env.Now()
	claims, err := ParseTokenClaims(result.IDToken)
	if err != nil {
		return SignedInData{}, NewError(ErrInvalidResponse, flow, "id token could not be decoded", err)
	}
	data := SignedInData{
		UserID:     claims.Subject,
		Username:   sc.Username,
		SignedInAt: now,
		Method:     sc.Method,
		Tokens:     NewUserPoolTokens(result, "", now),
	}
	if claims.Username != "" {
		data.Username = claims.Username
	}
	if result.NewDevice != nil {
		data.DeviceKey = result.NewDevice.DeviceKey
	}
	return data, nil
}

func newChallenge(out *cognito.AuthOutput, sc signInContext) AuthChallenge {
	username := sc.Username
	if v := out.ChallengeParameters[cognito.ParamUsername]; v != "" {
		username = v
	} else if v := out.ChallengeParameters[cognito.ParamUserIDForSRP]; v != "" {
		username = v
	}
	return AuthChallenge{
		Name:           out.Challenge,
		Username:       username,
		Session:        out.Session,
		Parameters:     out.ChallengeParameters,
		Method:         sc.Method,
		ClientMetadata: sc.ClientMetadata,
	}
}

func challengeOf(out *cognito.AuthOutput) cognito.ChallengeName {
	if out == nil {
		return ""
	}
	return out.Challenge
}

func openSecret(enclave *memguard.Enclave) (*memguard.LockedBuffer, error) {
	if enclave == nil {
		return nil, fmt.Errorf("no secret sealed")
	}
	return enclave.Open()
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
