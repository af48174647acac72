package auth

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/goliatone/go-authstate/cognito"
	"github.com/goliatone/go-authstate/machine"
	apperrors "github.com/goliatone/go-errors"
)

// LoadCredentials validates the environment and reads persisted
// credentials. Unreadable credentials are discarded, never fatal.
type LoadCredentials struct{}

func (LoadCredentials) Name() string { return "LoadCredentials" }

func (LoadCredentials) Execute(ctx context.Context, d machine.Dispatcher, env *Environment) {
	if err := env.Validate(); err != nil {
		d.Dispatch(ConfigurationFailed{Err: asAuthError(ErrConfiguration, "configure", err)})
		return
	}

	creds, err := env.Store.Load(ctx)
	if err != nil {
		env.log().Warn("discarding stored credentials: %v", err)
		if clearErr := env.writeStore(ctx, "clear", env.Store.Clear); clearErr != nil {
			env.log().Error("clearing credential store failed: %v", clearErr)
		}
		creds = nil
	}
	if creds != nil && creds.AWS != nil && creds.AWS.Expired(env.Now(), env.ExpiryBuffer()) {
		trimmed := *creds
		trimmed.AWS = nil
		creds = &trimmed
	}
	d.Dispatch(CachedCredentialsLoaded{Credentials: creds})
}

// InitializeFetchAuthSession picks the first fetch phase for the input.
// Missing configuration fails the whole authorization, not just the fetch.
type InitializeFetchAuthSession struct {
	FetchID string
	Input   SessionInput
}

func (InitializeFetchAuthSession) Name() string { return "InitializeFetchAuthSession" }

func (a InitializeFetchAuthSession) Execute(_ context.Context, d machine.Dispatcher, env *Environment) {
	in := a.Input
	if in.User == nil {
		if !env.HasIdentityPool() {
			d.Dispatch(ThrowAuthorizationError{FetchID: a.FetchID, Err: NewError(ErrConfiguration, "fetch_session", "guest access requires an identity pool", nil)})
			return
		}
		d.Dispatch(BeginFetchIdentity{FetchID: a.FetchID, Input: IdentityInput{CachedIdentityID: in.IdentityID}})
		return
	}

	user := *in.User
	if user.Federated() {
		if !env.HasIdentityPool() {
			d.Dispatch(ThrowAuthorizationError{FetchID: a.FetchID, Err: NewError(ErrConfiguration, "fetch_session", "federation requires an identity pool", nil)})
			return
		}
		d.Dispatch(BeginFetchIdentity{FetchID: a.FetchID, Input: IdentityInput{
			User:             &user,
			Logins:           env.logins(&user),
			CachedIdentityID: in.IdentityID,
		}})
		return
	}

	refresh := in.ForceRefresh || user.Tokens.Expired(env.Now(), env.ExpiryBuffer())
	d.Dispatch(BeginFetchUserPoolTokens{FetchID: a.FetchID, User: user, Refresh: refresh, IdentityID: in.IdentityID})
	if !refresh {
		continueAfterTokens(d, env, a.FetchID, user, in.IdentityID)
	}
}

// continueAfterTokens moves on to the identity phase, or finishes a user
// pool only session when no identity pool is configured.
func continueAfterTokens(d machine.Dispatcher, env *Environment, fetchID string, user SignedInData, identityID string) {
	if !env.HasIdentityPool() {
		d.Dispatch(FetchedAuthSession{FetchID: fetchID, Session: Session{User: &user, EstablishedAt: env.Now()}})
		return
	}
	d.Dispatch(BeginFetchIdentity{FetchID: fetchID, Input: IdentityInput{
		User:             &user,
		Logins:           env.logins(&user),
		CachedIdentityID: identityID,
	}})
}

// RefreshTokens exchanges the refresh token for new user pool tokens.
type RefreshTokens struct {
	FetchID    string
	User       SignedInData
	IdentityID string
}

func (RefreshTokens) Name() string { return "RefreshTokens" }

func (a RefreshTokens) Execute(ctx context.Context, d machine.Dispatcher, env *Environment) {
	fail := func(err *apperrors.Error) {
		d.Dispatch(UserPoolTokensFailed{FetchID: a.FetchID, Err: err})
	}

	user := a.User
	if user.Tokens.RefreshToken == "" {
		fail(NewError(ErrSessionExpired, "refresh", "no refresh token available", nil))
		return
	}

	params := map[string]string{cognito.ParamRefreshToken: user.Tokens.RefreshToken}
	if user.DeviceKey != "" {
		params[cognito.ParamDeviceKey] = user.DeviceKey
	}
	env.withSecretHash(params, user.Username)

	out, err := initiateAuth(ctx, env, cognito.InitiateAuthInput{Flow: cognito.AuthFlowRefreshToken, Parameters: params})
	if err != nil {
		failure := ServiceError("refresh", err)
		if failure.TextCode == ErrCodeNotAuthorized {
			failure = NewError(ErrSessionExpired, "refresh", "refresh token was rejected", err)
		}
		fail(failure)
		return
	}
	if out == nil || out.Result == nil || out.Result.AccessToken == "" {
		fail(NewError(ErrInvalidResponse, "refresh", "refresh returned no tokens", nil))
		return
	}

	user.Tokens = NewUserPoolTokens(out.Result, user.Tokens.RefreshToken, env.Now())
	d.Dispatch(UserPoolTokensFetched{FetchID: a.FetchID, User: user})
	continueAfterTokens(d, env, a.FetchID, user, a.IdentityID)
}

// GetIdentityID resolves the identity id, reusing a cached one.
type GetIdentityID struct {
	FetchID string
	Input   IdentityInput
}

func (GetIdentityID) Name() string { return "GetIdentityID" }

func (a GetIdentityID) Execute(ctx context.Context, d machine.Dispatcher, env *Environment) {
	id := a.Input.CachedIdentityID
	if id == "" {
		err := env.Call(ctx, "GetId", func(ctx context.Context) error {
			var err error
			id, err = env.Identity.GetID(ctx, a.Input.Logins)
			return err
		})
		if err != nil {
			d.Dispatch(IdentityIDFailed{FetchID: a.FetchID, Err: ServiceError("fetch_identity", err)})
			return
		}
		if id == "" {
			d.Dispatch(IdentityIDFailed{FetchID: a.FetchID, Err: NewError(ErrInvalidResponse, "fetch_identity", "identity id is empty", nil)})
			return
		}
	}
	d.Dispatch(IdentityIDFetched{FetchID: a.FetchID, IdentityID: id})
	d.Dispatch(BeginFetchAWSCredentials{FetchID: a.FetchID, Input: a.Input, IdentityID: id})
}

// GetAWSCredentials fetches temporary credentials for the identity.
// Credentials that are already inside the expiry buffer are rejected.
type GetAWSCredentials struct {
	FetchID    string
	Input      IdentityInput
	IdentityID string
}

func (GetAWSCredentials) Name() string { return "GetAWSCredentials" }

func (a GetAWSCredentials) Execute(ctx context.Context, d machine.Dispatcher, env *Environment) {
	var creds *cognito.Credentials
	err := env.Call(ctx, "GetCredentialsForIdentity", func(ctx context.Context) error {
		var err error
		creds, err = env.Identity.GetCredentialsForIdentity(ctx, a.IdentityID, a.Input.Logins)
		return err
	})
	if err != nil {
		d.Dispatch(AWSCredentialsFailed{FetchID: a.FetchID, Err: ServiceError("fetch_aws_credentials", err)})
		return
	}
	if creds == nil || creds.AccessKeyID == "" {
		d.Dispatch(AWSCredentialsFailed{FetchID: a.FetchID, Err: NewError(ErrInvalidResponse, "fetch_aws_credentials", "credentials are empty", nil)})
		return
	}

	aws := awsCredentialsFrom(creds)
	now := env.Now()
	if aws.Expired(now, env.ExpiryBuffer()) {
		env.log().Warn("identity pool returned credentials expiring at %s", aws.Expiration.Format(time.RFC3339))
		d.Dispatch(AWSCredentialsFailed{FetchID: a.FetchID, Err: NewError(ErrInvalidResponse, "fetch_aws_credentials", "credentials are already expired", nil)})
		return
	}

	d.Dispatch(AWSCredentialsFetched{FetchID: a.FetchID, Credentials: aws})
	d.Dispatch(FetchedAuthSession{FetchID: a.FetchID, Session: Session{
		User:          a.Input.User,
		IdentityID:    a.IdentityID,
		AWS:           &aws,
		EstablishedAt: now,
	}})
}

// PersistCredentials saves an established session.
type PersistCredentials struct {
	Credentials CognitoCredentials
}

func (PersistCredentials) Name() string { return "PersistCredentials" }

func (a PersistCredentials) Execute(ctx context.Context, d machine.Dispatcher, env *Environment) {
	err := env.writeStore(ctx, "save", func(ctx context.Context) error {
		return env.Store.Save(ctx, a.Credentials)
	})
	if err != nil {
		env.log().Error("saving credentials failed: %v", err)
		d.Dispatch(CredentialStoreFailed{Operation: "save", Err: asAuthError(ErrCredentialStore, "persist", err)})
	}
}

// ClearCredentials removes persisted credentials.
type ClearCredentials struct{}

func (ClearCredentials) Name() string { return "ClearCredentials" }

func (ClearCredentials) Execute(ctx context.Context, d machine.Dispatcher, env *Environment) {
	err := env.writeStore(ctx, "clear", env.Store.Clear)
	if err != nil {
		env.log().Error("clearing credentials failed: %v", err)
		d.Dispatch(CredentialStoreFailed{Operation: "clear", Err: asAuthError(ErrCredentialStore, "clear", err)})
	}
}

func asAuthError(base *apperrors.Error, flow string, err error) *apperrors.Error {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) && ge.TextCode != "" {
		return ge
	}
	return NewError(base, flow, "", err)
}
