// Package cognitotest provides scriptable user pool and identity pool fakes.
package cognitotest

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/aws/smithy-go"
	"github.com/goliatone/go-authstate/cognito"
	"github.com/golang-jwt/jwt/v5"
)

// UserPool is a cognito.UserPoolClient whose responses are scripted per
// operation. Unscripted auth calls fail; other calls succeed.
type UserPool struct {
	mu sync.Mutex

	InitiateAuthFn       func(ctx context.Context, in cognito.InitiateAuthInput) (*cognito.AuthOutput, error)
	RespondFn            func(ctx context.Context, in cognito.RespondInput) (*cognito.AuthOutput, error)
	ListDevicesFn        func(ctx context.Context, accessToken string, limit int32, pageToken string) (*cognito.DevicePage, error)
	ForgetDeviceFn       func(ctx context.Context, accessToken, deviceKey string) error
	UpdateDeviceStatusFn func(ctx context.Context, accessToken, deviceKey string, remembered bool) error
	ChangePasswordFn     func(ctx context.Context, accessToken, previous, proposed string) error
	RevokeTokenFn        func(ctx context.Context, refreshToken string) error
	GlobalSignOutFn      func(ctx context.Context, accessToken string) error

	calls     map[string]int
	initiated []cognito.InitiateAuthInput
	responded []cognito.RespondInput
}

var _ cognito.UserPoolClient = (*UserPool)(nil)

func (f *UserPool) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
}

// Calls returns how many times op was called.
func (f *UserPool) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Initiated returns the InitiateAuth inputs seen so far.
func (f *UserPool) Initiated() []cognito.InitiateAuthInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cognito.InitiateAuthInput(nil), f.initiated...)
}

// Responded returns the RespondToAuthChallenge inputs seen so far.
func (f *UserPool) Responded() []cognito.RespondInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cognito.RespondInput(nil), f.responded...)
}

func (f *UserPool) InitiateAuth(ctx context.Context, in cognito.InitiateAuthInput) (*cognito.AuthOutput, error) {
	f.record("InitiateAuth")
	f.mu.Lock()
	f.initiated = append(f.initiated, in)
	fn := f.InitiateAuthFn
	f.mu.Unlock()
	if fn == nil {
		return nil, APIError("InitiateAuth", "NotScripted")
	}
	return fn(ctx, in)
}

func (f *UserPool) RespondToAuthChallenge(ctx context.Context, in cognito.RespondInput) (*cognito.AuthOutput, error) {
	f.record("RespondToAuthChallenge")
	f.mu.Lock()
	f.responded = append(f.responded, in)
	fn := f.RespondFn
	f.mu.Unlock()
	if fn == nil {
		return nil, APIError("RespondToAuthChallenge", "NotScripted")
	}
	return fn(ctx, in)
}

func (f *UserPool) ListDevices(ctx context.Context, accessToken string, limit int32, pageToken string) (*cognito.DevicePage, error) {
	f.record("ListDevices")
	if f.ListDevicesFn == nil {
		return &cognito.DevicePage{}, nil
	}
	return f.ListDevicesFn(ctx, accessToken, limit, pageToken)
}

func (f *UserPool) ForgetDevice(ctx context.Context, accessToken, deviceKey string) error {
	f.record("ForgetDevice")
	if f.ForgetDeviceFn == nil {
		return nil
	}
	return f.ForgetDeviceFn(ctx, accessToken, deviceKey)
}

func (f *UserPool) UpdateDeviceStatus(ctx context.Context, accessToken, deviceKey string, remembered bool) error {
	f.record("UpdateDeviceStatus")
	if f.UpdateDeviceStatusFn == nil {
		return nil
	}
	return f.UpdateDeviceStatusFn(ctx, accessToken, deviceKey, remembered)
}

func (f *UserPool) ChangePassword(ctx context.Context, accessToken, previous, proposed string) error {
	f.record("ChangePassword")
	if f.ChangePasswordFn == nil {
		return nil
	}
	return f.ChangePasswordFn(ctx, accessToken, previous, proposed)
}

func (f *UserPool) RevokeToken(ctx context.Context, refreshToken string) error {
	f.record("RevokeToken")
	if f.RevokeTokenFn == nil {
		return nil
	}
	return f.RevokeTokenFn(ctx, refreshToken)
}

func (f *UserPool) GlobalSignOut(ctx context.Context, accessToken string) error {
	f.record("GlobalSignOut")
	if f.GlobalSignOutFn == nil {
		return nil
	}
	return f.GlobalSignOutFn(ctx, accessToken)
}

// Identity is a scriptable cognito.IdentityClient. By default it hands out
// IdentityID and credentials valid for an hour.
type Identity struct {
	mu sync.Mutex

	IdentityID       string
	GetIDFn          func(ctx context.Context, logins map[string]string) (string, error)
	GetCredentialsFn func(ctx context.Context, identityID string, logins map[string]string) (*cognito.Credentials, error)

	calls  map[string]int
	logins []map[string]string
}

var _ cognito.IdentityClient = (*Identity)(nil)

func (f *Identity) record(op string, logins map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
	f.logins = append(f.logins, logins)
}

// Calls returns how many times op was called.
func (f *Identity) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Logins returns the logins maps passed on each call.
func (f *Identity) Logins() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.logins...)
}

func (f *Identity) GetID(ctx context.Context, logins map[string]string) (string, error) {
	f.record("GetId", logins)
	if f.GetIDFn != nil {
		return f.GetIDFn(ctx, logins)
	}
	if f.IdentityID != "" {
		return f.IdentityID, nil
	}
	return "us-east-1:00000000-0000-0000-0000-000000000001", nil
}

func (f *Identity) GetCredentialsForIdentity(ctx context.Context, identityID string, logins map[string]string) (*cognito.Credentials, error) {
	f.record("GetCredentialsForIdentity", logins)
	if f.GetCredentialsFn != nil {
		return f.GetCredentialsFn(ctx, identityID, logins)
	}
	return Credentials(time.Now().Add(time.Hour)), nil
}

// Credentials returns fake AWS credentials expiring at exp.
func Credentials(exp time.Time) *cognito.Credentials {
	return &cognito.Credentials{
		AccessKeyID:     "ASIAFAKEACCESSKEY",
		SecretAccessKey: "fake-secret",
		SessionToken:    "fake-session-token",
		Expiration:      exp,
	}
}

// Token signs a JWT with the claims the auth flows read.
func Token(subject, username string, exp time.Time) string {
	claims := jwt.MapClaims{
		"sub":              subject,
		"cognito:username": username,
		"username":         username,
		"exp":              exp.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("cognitotest"))
	if err != nil {
		panic(err)
	}
	return signed
}

// Tokens returns an authentication result for username expiring at exp.
func Tokens(subject, username string, exp time.Time) *cognito.AuthOutput {
	return &cognito.AuthOutput{Result: &cognito.AuthenticationResult{
		AccessToken:  Token(subject, username, exp),
		IDToken:      Token(subject, username, exp),
		RefreshToken: "refresh-" + username,
		ExpiresIn:    time.Until(exp),
	}}
}

// PasswordVerifier returns a PASSWORD_VERIFIER challenge for userID with
// well-formed SRP parameters.
func PasswordVerifier(userID string) *cognito.AuthOutput {
	return &cognito.AuthOutput{
		Challenge: cognito.ChallengePasswordVerifier,
		ChallengeParameters: map[string]string{
			cognito.ParamUserIDForSRP: userID,
			cognito.ParamUsername:     userID,
			cognito.ParamSalt:         "5a5a5a5a5a5a5a5a",
			cognito.ParamSRPB:         "0123456789abcdef0123456789abcdef",
			cognito.ParamSecretBlock:  base64.StdEncoding.EncodeToString([]byte("secret-block")),
		},
		Session: "srp-session",
	}
}

// Challenge returns a challenge response named name.
func Challenge(name cognito.ChallengeName, username, session string) *cognito.AuthOutput {
	return &cognito.AuthOutput{
		Challenge:           name,
		ChallengeParameters: map[string]string{cognito.ParamUsername: username},
		Session:             session,
	}
}

// APIError returns the service error the SDK adapter would produce for code.
func APIError(operation, code string) error {
	fault := smithy.FaultClient
	switch code {
	case cognito.CodeTooManyRequests, cognito.CodeInternalError:
		fault = smithy.FaultServer
	}
	return cognito.NewServiceError(operation, &smithy.GenericAPIError{Code: code, Message: code, Fault: fault})
}
