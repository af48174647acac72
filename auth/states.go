package auth

import (
	"fmt"

	"github.com/goliatone/go-authstate/cognito"
	apperrors "github.com/goliatone/go-errors"
)

// AuthState is the top-level state of the auth machine.
type AuthState interface {
	fmt.Stringer
	isAuthState()
}

type AuthUninitialized struct{}

type AuthConfiguring struct{}

// AuthConfigured holds the two independent sub-machines.
type AuthConfigured struct {
	Authentication AuthenticationState
	Authorization  AuthorizationState
}

// AuthFailed records a configuration failure and what caused it.
type AuthFailed struct {
	Err      *apperrors.Error
	Previous AuthState
	Event    string
}

func (AuthUninitialized) isAuthState() {}
func (AuthConfiguring) isAuthState()   {}
func (AuthConfigured) isAuthState()    {}
func (AuthFailed) isAuthState()        {}

func (AuthUninitialized) String() string { return "Auth.Uninitialized" }
func (AuthConfiguring) String() string   { return "Auth.Configuring" }
func (s AuthConfigured) String() string {
	return fmt.Sprintf("Auth.Configured(%s, %s)", s.Authentication, s.Authorization)
}
func (s AuthFailed) String() string { return "Auth.Failed(" + errText(s.Err) + ")" }

// AuthenticationState tracks who the user is.
type AuthenticationState interface {
	fmt.Stringer
	isAuthenticationState()
}

type SignedOut struct {
	LastKnownUser string
}

type SigningIn struct {
	Flow SignInState
}

type SignedIn struct {
	Data SignedInData
}

type SigningOut struct {
	Data   SignedInData
	Global bool
}

type AuthenticationFailed struct {
	Err      *apperrors.Error
	Previous AuthenticationState
}

func (SignedOut) isAuthenticationState()            {}
func (SigningIn) isAuthenticationState()            {}
func (SignedIn) isAuthenticationState()             {}
func (SigningOut) isAuthenticationState()           {}
func (AuthenticationFailed) isAuthenticationState() {}

func (SignedOut) String() string              { return "SignedOut" }
func (s SigningIn) String() string            { return "SigningIn(" + stateName(s.Flow) + ")" }
func (s SignedIn) String() string             { return "SignedIn(" + s.Data.Username + ")" }
func (s SigningOut) String() string           { return fmt.Sprintf("SigningOut(global=%t)", s.Global) }
func (s AuthenticationFailed) String() string { return "AuthenticationFailed(" + errText(s.Err) + ")" }

// SignInState is the progress of one sign-in attempt.
type SignInState interface {
	fmt.Stringer
	isSignInState()
}

type SigningInWithSRP struct {
	State SRPState
}

type SigningInWithCustom struct {
	State CustomAuthState
}

type SigningInWithUserPassword struct {
	Username string
}

type ResolvingChallenge struct {
	State ChallengeState
}

// SignInFailed ends an attempt. Previous is the flow state the failure
// interrupted, nil when the request was rejected before a flow started.
type SignInFailed struct {
	Method   SignInMethod
	Err      *apperrors.Error
	Previous SignInState
	Event    string
}

func (SigningInWithSRP) isSignInState()          {}
func (SigningInWithCustom) isSignInState()       {}
func (SigningInWithUserPassword) isSignInState() {}
func (ResolvingChallenge) isSignInState()        {}
func (SignInFailed) isSignInState()              {}

func (s SigningInWithSRP) String() string        { return "SRP." + stateName(s.State) }
func (s SigningInWithCustom) String() string     { return "Custom." + stateName(s.State) }
func (SigningInWithUserPassword) String() string { return "UserPassword.Initiating" }
func (s ResolvingChallenge) String() string      { return "Challenge." + stateName(s.State) }
func (s SignInFailed) String() string            { return "SignInFailed(" + errText(s.Err) + ")" }

// SRPState is the password verifier exchange.
type SRPState interface {
	fmt.Stringer
	isSRPState()
}

type SRPInitiatingAuth struct {
	Username string
}

type SRPRespondingPasswordVerifier struct {
	Username  string
	Challenge AuthChallenge
}

func (SRPInitiatingAuth) isSRPState()             {}
func (SRPRespondingPasswordVerifier) isSRPState() {}

func (SRPInitiatingAuth) String() string             { return "InitiatingAuth" }
func (SRPRespondingPasswordVerifier) String() string { return "RespondingPasswordVerifier" }

// CustomAuthState is the custom challenge loop.
type CustomAuthState interface {
	fmt.Stringer
	isCustomAuthState()
}

type CustomInitiating struct {
	Username string
}

type CustomAwaitingChallengeResponse struct {
	Challenge AuthChallenge
	LastErr   *apperrors.Error
}

type CustomRespondingToChallenge struct {
	Challenge AuthChallenge
}

func (CustomInitiating) isCustomAuthState()                {}
func (CustomAwaitingChallengeResponse) isCustomAuthState() {}
func (CustomRespondingToChallenge) isCustomAuthState()     {}

func (CustomInitiating) String() string                { return "Initiating" }
func (CustomAwaitingChallengeResponse) String() string { return "AwaitingChallengeResponse" }
func (CustomRespondingToChallenge) String() string     { return "RespondingToChallenge" }

// ChallengeState resolves a non-custom challenge such as MFA.
type ChallengeState interface {
	fmt.Stringer
	isChallengeState()
}

type ChallengeWaitingForAnswer struct {
	Challenge AuthChallenge
	LastErr   *apperrors.Error
}

type ChallengeVerifying struct {
	Challenge AuthChallenge
}

func (ChallengeWaitingForAnswer) isChallengeState() {}
func (ChallengeVerifying) isChallengeState()        {}

func (s ChallengeWaitingForAnswer) String() string { return "WaitingForAnswer(" + string(s.Challenge.Name) + ")" }
func (s ChallengeVerifying) String() string        { return "Verifying(" + string(s.Challenge.Name) + ")" }

// AuthChallenge is a pending challenge returned by the user pool.
type AuthChallenge struct {
	Name           cognito.ChallengeName
	Username       string
	Session        string
	Parameters     map[string]string
	Method         SignInMethod
	ClientMetadata map[string]string
}

// AuthorizationState tracks the session used to call AWS.
type AuthorizationState interface {
	fmt.Stringer
	isAuthorizationState()
}

type AuthZConfigured struct{}

// AuthZFetchingSession is one fetch attempt. FetchID ties phase events and
// actions to the attempt that issued them.
type AuthZFetchingSession struct {
	FetchID string
	Fetch   FetchAuthSessionState
	Input   SessionInput
}

type AuthZSessionEstablished struct {
	Session Session
}

type AuthZFailed struct {
	Err      *apperrors.Error
	Previous AuthorizationState
	Event    string
}

func (AuthZConfigured) isAuthorizationState()         {}
func (AuthZFetchingSession) isAuthorizationState()    {}
func (AuthZSessionEstablished) isAuthorizationState() {}
func (AuthZFailed) isAuthorizationState()             {}

func (AuthZConfigured) String() string           { return "AuthZ.Configured" }
func (s AuthZFetchingSession) String() string    { return "AuthZ.FetchingSession(" + stateName(s.Fetch) + ")" }
func (AuthZSessionEstablished) String() string   { return "AuthZ.SessionEstablished" }
func (s AuthZFailed) String() string             { return "AuthZ.Failed(" + errText(s.Err) + ")" }

// FetchAuthSessionState walks the fetch phases in order.
type FetchAuthSessionState interface {
	fmt.Stringer
	isFetchAuthSessionState()
}

type DeterminingUserState struct{}

type FetchingUserPoolTokens struct {
	State FetchUserPoolTokensState
}

type FetchingIdentity struct {
	State FetchIdentityState
}

type FetchingAWSCredentials struct {
	State FetchAWSCredentialsState
}

type SessionEstablished struct {
	Session Session
}

type FetchSessionFailed struct {
	Err      *apperrors.Error
	Previous FetchAuthSessionState
	Event    string
}

func (DeterminingUserState) isFetchAuthSessionState()   {}
func (FetchingUserPoolTokens) isFetchAuthSessionState() {}
func (FetchingIdentity) isFetchAuthSessionState()       {}
func (FetchingAWSCredentials) isFetchAuthSessionState() {}
func (SessionEstablished) isFetchAuthSessionState()     {}
func (FetchSessionFailed) isFetchAuthSessionState()     {}

func (DeterminingUserState) String() string     { return "DeterminingUserState" }
func (s FetchingUserPoolTokens) String() string { return "UserPoolTokens." + stateName(s.State) }
func (s FetchingIdentity) String() string       { return "Identity." + stateName(s.State) }
func (s FetchingAWSCredentials) String() string { return "AWSCredentials." + stateName(s.State) }
func (SessionEstablished) String() string       { return "SessionEstablished" }
func (s FetchSessionFailed) String() string     { return "Failed(" + errText(s.Err) + ")" }

type FetchUserPoolTokensState interface {
	fmt.Stringer
	isFetchUserPoolTokensState()
}

type UserPoolTokensConfiguring struct{}

type UserPoolTokensRefreshing struct {
	User SignedInData
}

type UserPoolTokensFetchedState struct {
	User SignedInData
}

type UserPoolTokensError struct {
	Err      *apperrors.Error
	Previous FetchUserPoolTokensState
	Event    string
}

func (UserPoolTokensConfiguring) isFetchUserPoolTokensState()  {}
func (UserPoolTokensRefreshing) isFetchUserPoolTokensState()   {}
func (UserPoolTokensFetchedState) isFetchUserPoolTokensState() {}
func (UserPoolTokensError) isFetchUserPoolTokensState()        {}

func (UserPoolTokensConfiguring) String() string  { return "Configuring" }
func (UserPoolTokensRefreshing) String() string   { return "Refreshing" }
func (UserPoolTokensFetchedState) String() string { return "Fetched" }
func (s UserPoolTokensError) String() string      { return "Error(" + errText(s.Err) + ")" }

type FetchIdentityState interface {
	fmt.Stringer
	isFetchIdentityState()
}

type IdentityConfiguring struct{}

type IdentityFetching struct{}

type IdentityFetchedState struct {
	IdentityID string
}

type IdentityError struct {
	Err      *apperrors.Error
	Previous FetchIdentityState
	Event    string
}

func (IdentityConfiguring) isFetchIdentityState()  {}
func (IdentityFetching) isFetchIdentityState()     {}
func (IdentityFetchedState) isFetchIdentityState() {}
func (IdentityError) isFetchIdentityState()        {}

func (IdentityConfiguring) String() string  { return "Configuring" }
func (IdentityFetching) String() string     { return "Fetching" }
func (IdentityFetchedState) String() string { return "Fetched" }
func (s IdentityError) String() string      { return "Error(" + errText(s.Err) + ")" }

type FetchAWSCredentialsState interface {
	fmt.Stringer
	isFetchAWSCredentialsState()
}

type AWSCredentialsConfiguring struct{}

type AWSCredentialsFetching struct {
	IdentityID string
}

type AWSCredentialsFetchedState struct {
	Credentials AWSCredentials
}

type AWSCredentialsError struct {
	Err      *apperrors.Error
	Previous FetchAWSCredentialsState
	Event    string
}

func (AWSCredentialsConfiguring) isFetchAWSCredentialsState()  {}
func (AWSCredentialsFetching) isFetchAWSCredentialsState()     {}
func (AWSCredentialsFetchedState) isFetchAWSCredentialsState() {}
func (AWSCredentialsError) isFetchAWSCredentialsState()        {}

func (AWSCredentialsConfiguring) String() string  { return "Configuring" }
func (AWSCredentialsFetching) String() string     { return "Fetching" }
func (AWSCredentialsFetchedState) String() string { return "Fetched" }
func (s AWSCredentialsError) String() string      { return "Error(" + errText(s.Err) + ")" }

func stateName(s fmt.Stringer) string {
	if s == nil {
		return "<nil>"
	}
	return s.String()
}

func errText(err *apperrors.Error) string {
	if err == nil {
		return ""
	}
	if err.TextCode != "" {
		return err.TextCode
	}
	return err.Message
}
