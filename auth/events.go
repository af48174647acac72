package auth

import (
	"time"

	"github.com/awnumar/memguard"
	"github.com/goliatone/go-authstate/machine"
	"github.com/goliatone/go-authstate/srp"
	apperrors "github.com/goliatone/go-errors"
)

// Event layers. Each event belongs to exactly one layer; parents route by
// layer and children only see their own events.
type (
	AuthEvent interface {
		machine.Event
		authEvent()
	}
	AuthenticationEvent interface {
		machine.Event
		authenticationEvent()
	}
	SignInEvent interface {
		machine.Event
		signInEvent()
	}
	AuthorizationEvent interface {
		machine.Event
		authorizationEvent()
	}
	FetchAuthSessionEvent interface {
		machine.Event
		fetchAuthSessionEvent()
	}
	UserPoolTokensEvent interface {
		machine.Event
		userPoolTokensEvent()
	}
	IdentityEvent interface {
		machine.Event
		identityEvent()
	}
	AWSCredentialsEvent interface {
		machine.Event
		awsCredentialsEvent()
	}
)

// ErrorEvent is implemented by events that carry a failure.
type ErrorEvent interface {
	machine.Event
	Failure() *apperrors.Error
}

// SignInRequest is the input to a sign-in attempt. The password is sealed
// and opened only by the action that needs it.
type SignInRequest struct {
	Username       string
	Password       *memguard.Enclave
	Method         SignInMethod
	ClientMetadata map[string]string
}

// SRPStateData carries the ephemeral key pair between the two SRP steps.
type SRPStateData struct {
	Username       string
	Password       *memguard.Enclave
	KeyPair        srp.KeyPair
	ClientMetadata map[string]string
}

// SessionInput starts a session fetch. A nil User fetches a guest session.
type SessionInput struct {
	User         *SignedInData
	IdentityID   string
	ForceRefresh bool
}

// IdentityInput is what the identity phases exchange with the identity pool.
type IdentityInput struct {
	User             *SignedInData
	Logins           map[string]string
	CachedIdentityID string
}

// auth layer

type ConfigureAuth struct{}

type CachedCredentialsLoaded struct {
	Credentials *CognitoCredentials
}

type ConfigurationFailed struct {
	Err *apperrors.Error
}

func (ConfigureAuth) Type() string           { return "auth.configure" }
func (CachedCredentialsLoaded) Type() string { return "auth.cached_credentials_loaded" }
func (ConfigurationFailed) Type() string     { return "auth.configuration_failed" }

func (ConfigureAuth) authEvent()           {}
func (CachedCredentialsLoaded) authEvent() {}
func (ConfigurationFailed) authEvent()     {}

func (e ConfigurationFailed) Failure() *apperrors.Error { return e.Err }

// authentication layer

type SignInRequested struct {
	Request SignInRequest
}

type FederationRequested struct {
	Provider   string
	Token      string
	IdentityID string
	At         time.Time
}

type SignInCompleted struct {
	Data SignedInData
}

type CancelSignIn struct{}

type SignOutRequested struct {
	Global bool
}

type SignOutCompleted struct {
	RevokeErr *apperrors.Error
}

type ThrowAuthenticationError struct {
	Err *apperrors.Error
}

func (SignInRequested) Type() string          { return "authn.sign_in_requested" }
func (FederationRequested) Type() string      { return "authn.federation_requested" }
func (SignInCompleted) Type() string          { return "authn.sign_in_completed" }
func (CancelSignIn) Type() string             { return "authn.cancel_sign_in" }
func (SignOutRequested) Type() string         { return "authn.sign_out_requested" }
func (SignOutCompleted) Type() string         { return "authn.sign_out_completed" }
func (ThrowAuthenticationError) Type() string { return "authn.error" }

func (SignInRequested) authenticationEvent()          {}
func (FederationRequested) authenticationEvent()      {}
func (SignInCompleted) authenticationEvent()          {}
func (CancelSignIn) authenticationEvent()             {}
func (SignOutRequested) authenticationEvent()         {}
func (SignOutCompleted) authenticationEvent()         {}
func (ThrowAuthenticationError) authenticationEvent() {}

func (e ThrowAuthenticationError) Failure() *apperrors.Error { return e.Err }

// sign-in layer

type ReceivedPasswordVerifierChallenge struct {
	Challenge AuthChallenge
	SRP       SRPStateData
}

type ReceivedCustomChallenge struct {
	Challenge AuthChallenge
}

type ReceivedChallenge struct {
	Challenge AuthChallenge
}

type ChallengeAnswered struct {
	Answer         string
	ClientMetadata map[string]string
	Attributes     map[string]string
}

type ChallengeAnswerRejected struct {
	Err *apperrors.Error
}

type ThrowSignInError struct {
	Err *apperrors.Error
}

func (ReceivedPasswordVerifierChallenge) Type() string { return "signin.password_verifier_challenge" }
func (ReceivedCustomChallenge) Type() string           { return "signin.custom_challenge" }
func (ReceivedChallenge) Type() string                 { return "signin.challenge" }
func (ChallengeAnswered) Type() string                 { return "signin.challenge_answered" }
func (ChallengeAnswerRejected) Type() string           { return "signin.challenge_answer_rejected" }
func (ThrowSignInError) Type() string                  { return "signin.error" }

func (ReceivedPasswordVerifierChallenge) signInEvent() {}
func (ReceivedCustomChallenge) signInEvent()           {}
func (ReceivedChallenge) signInEvent()                 {}
func (ChallengeAnswered) signInEvent()                 {}
func (ChallengeAnswerRejected) signInEvent()           {}
func (ThrowSignInError) signInEvent()                  {}

func (e ChallengeAnswerRejected) Failure() *apperrors.Error { return e.Err }
func (e ThrowSignInError) Failure() *apperrors.Error        { return e.Err }

// authorization layer

type FetchSessionRequested struct {
	Input SessionInput
}

type SessionCleared struct{}

type CredentialStoreFailed struct {
	Operation string
	Err       *apperrors.Error
}

type ThrowAuthorizationError struct {
	FetchID string
	Err     *apperrors.Error
}

func (FetchSessionRequested) Type() string   { return "authz.fetch_session_requested" }
func (SessionCleared) Type() string          { return "authz.session_cleared" }
func (CredentialStoreFailed) Type() string   { return "authz.credential_store_failed" }
func (ThrowAuthorizationError) Type() string { return "authz.error" }

func (FetchSessionRequested) authorizationEvent()   {}
func (SessionCleared) authorizationEvent()          {}
func (CredentialStoreFailed) authorizationEvent()   {}
func (ThrowAuthorizationError) authorizationEvent() {}

func (e CredentialStoreFailed) Failure() *apperrors.Error   { return e.Err }
func (e ThrowAuthorizationError) Failure() *apperrors.Error { return e.Err }

// FetchScoped is implemented by events issued on behalf of one session
// fetch. They only apply while that fetch is the current one.
type FetchScoped interface {
	machine.Event
	FetchRef() string
}

// fetch session layer

type BeginFetchUserPoolTokens struct {
	FetchID    string
	User       SignedInData
	Refresh    bool
	IdentityID string
}

type BeginFetchIdentity struct {
	FetchID string
	Input   IdentityInput
}

type BeginFetchAWSCredentials struct {
	FetchID    string
	Input      IdentityInput
	IdentityID string
}

type FetchedAuthSession struct {
	FetchID string
	Session Session
}

type ThrowFetchSessionError struct {
	FetchID string
	Err     *apperrors.Error
}

func (BeginFetchUserPoolTokens) Type() string { return "fetch.begin_user_pool_tokens" }
func (BeginFetchIdentity) Type() string       { return "fetch.begin_identity" }
func (BeginFetchAWSCredentials) Type() string { return "fetch.begin_aws_credentials" }
func (FetchedAuthSession) Type() string       { return "fetch.fetched_auth_session" }
func (ThrowFetchSessionError) Type() string   { return "fetch.error" }

func (BeginFetchUserPoolTokens) fetchAuthSessionEvent() {}
func (BeginFetchIdentity) fetchAuthSessionEvent()       {}
func (BeginFetchAWSCredentials) fetchAuthSessionEvent() {}
func (FetchedAuthSession) fetchAuthSessionEvent()       {}
func (ThrowFetchSessionError) fetchAuthSessionEvent()   {}

func (e ThrowFetchSessionError) Failure() *apperrors.Error { return e.Err }

// fetch phases

type RefreshUserPoolTokens struct {
	FetchID    string
	User       SignedInData
	IdentityID string
}

type UserPoolTokensFetched struct {
	FetchID string
	User    SignedInData
}

type UserPoolTokensFailed struct {
	FetchID string
	Err     *apperrors.Error
}

func (RefreshUserPoolTokens) Type() string { return "fetch.user_pool_tokens.refresh" }
func (UserPoolTokensFetched) Type() string { return "fetch.user_pool_tokens.fetched" }
func (UserPoolTokensFailed) Type() string  { return "fetch.user_pool_tokens.error" }

func (RefreshUserPoolTokens) userPoolTokensEvent() {}
func (UserPoolTokensFetched) userPoolTokensEvent() {}
func (UserPoolTokensFailed) userPoolTokensEvent()  {}

func (e UserPoolTokensFailed) Failure() *apperrors.Error { return e.Err }

type FetchIdentityID struct {
	FetchID string
	Input   IdentityInput
}

type IdentityIDFetched struct {
	FetchID    string
	IdentityID string
}

type IdentityIDFailed struct {
	FetchID string
	Err     *apperrors.Error
}

func (FetchIdentityID) Type() string   { return "fetch.identity.fetch" }
func (IdentityIDFetched) Type() string { return "fetch.identity.fetched" }
func (IdentityIDFailed) Type() string  { return "fetch.identity.error" }

func (FetchIdentityID) identityEvent()   {}
func (IdentityIDFetched) identityEvent() {}
func (IdentityIDFailed) identityEvent()  {}

func (e IdentityIDFailed) Failure() *apperrors.Error { return e.Err }

type FetchAWSCredentials struct {
	FetchID    string
	Input      IdentityInput
	IdentityID string
}

type AWSCredentialsFetched struct {
	FetchID     string
	Credentials AWSCredentials
}

type AWSCredentialsFailed struct {
	FetchID string
	Err     *apperrors.Error
}

func (FetchAWSCredentials) Type() string   { return "fetch.aws_credentials.fetch" }
func (AWSCredentialsFetched) Type() string { return "fetch.aws_credentials.fetched" }
func (AWSCredentialsFailed) Type() string  { return "fetch.aws_credentials.error" }

func (FetchAWSCredentials) awsCredentialsEvent()   {}
func (AWSCredentialsFetched) awsCredentialsEvent() {}
func (AWSCredentialsFailed) awsCredentialsEvent()  {}

func (e AWSCredentialsFailed) Failure() *apperrors.Error { return e.Err }

func (e ThrowAuthorizationError) FetchRef() string  { return e.FetchID }
func (e BeginFetchUserPoolTokens) FetchRef() string { return e.FetchID }
func (e BeginFetchIdentity) FetchRef() string       { return e.FetchID }
func (e BeginFetchAWSCredentials) FetchRef() string { return e.FetchID }
func (e FetchedAuthSession) FetchRef() string       { return e.FetchID }
func (e ThrowFetchSessionError) FetchRef() string   { return e.FetchID }
func (e RefreshUserPoolTokens) FetchRef() string    { return e.FetchID }
func (e UserPoolTokensFetched) FetchRef() string    { return e.FetchID }
func (e UserPoolTokensFailed) FetchRef() string     { return e.FetchID }
func (e FetchIdentityID) FetchRef() string          { return e.FetchID }
func (e IdentityIDFetched) FetchRef() string        { return e.FetchID }
func (e IdentityIDFailed) FetchRef() string         { return e.FetchID }
func (e FetchAWSCredentials) FetchRef() string      { return e.FetchID }
func (e AWSCredentialsFetched) FetchRef() string    { return e.FetchID }
func (e AWSCredentialsFailed) FetchRef() string     { return e.FetchID }

func isAuthenticationLayer(evt machine.Event) bool {
	switch evt.(type) {
	case AuthenticationEvent, SignInEvent:
		return true
	}
	return false
}

func isAuthorizationLayer(evt machine.Event) bool {
	switch evt.(type) {
	case AuthorizationEvent, FetchAuthSessionEvent, UserPoolTokensEvent, IdentityEvent, AWSCredentialsEvent:
		return true
	}
	return false
}
