package auth

import (
	"time"

	"github.com/goliatone/go-authstate/cognito"
	"github.com/golang-jwt/jwt/v5"
)

// SignInMethod names how a user reached the signed-in state.
type SignInMethod string

const (
	MethodSRP          SignInMethod = "srp"
	MethodCustom       SignInMethod = "custom"
	MethodUserPassword SignInMethod = "user_password"
	MethodFederated    SignInMethod = "federated"
)

// MethodFromFlow maps a configured auth flow onto a sign-in method.
func MethodFromFlow(flow string) SignInMethod {
	switch cognito.AuthFlow(flow) {
	case cognito.AuthFlowCustom:
		return MethodCustom
	case cognito.AuthFlowUserPassword:
		return MethodUserPassword
	default:
		return MethodSRP
	}
}

// UserPoolTokens are the tokens issued by the user pool.
type UserPoolTokens struct {
	IDToken      string    `json:"id_token"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the tokens expire within buffer of now.
func (t UserPoolTokens) Expired(now time.Time, buffer time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(buffer).Before(t.ExpiresAt)
}

// Federation records an external provider token exchanged with the
// identity pool.
type Federation struct {
	Provider   string `json:"provider"`
	Token      string `json:"token"`
	IdentityID string `json:"identity_id,omitempty"`
}

// SignedInData describes the signed-in user.
type SignedInData struct {
	UserID     string         `json:"user_id"`
	Username   string         `json:"username"`
	SignedInAt time.Time      `json:"signed_in_at"`
	Method     SignInMethod   `json:"method"`
	Tokens     UserPoolTokens `json:"tokens"`
	DeviceKey  string         `json:"device_key,omitempty"`
	Federation *Federation    `json:"federation,omitempty"`
}

// Federated reports whether the user came from an external provider.
func (d SignedInData) Federated() bool {
	return d.Federation != nil
}

// AWSCredentials are temporary credentials from the identity pool.
type AWSCredentials struct {
	AccessKeyID     string    `json:"access_key_id"`
	SecretAccessKey string    `json:"secret_access_key"`
	SessionToken    string    `json:"session_token"`
	Expiration      time.Time `json:"expiration"`
}

// Expired reports whether the credentials expire within buffer of now.
// Credentials without an expiration are considered expired.
func (c AWSCredentials) Expired(now time.Time, buffer time.Duration) bool {
	if c.Expiration.IsZero() {
		return true
	}
	return !now.Add(buffer).Before(c.Expiration)
}

func awsCredentialsFrom(c *cognito.Credentials) AWSCredentials {
	return AWSCredentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Expiration:      c.Expiration,
	}
}

// Session is an established auth session. A nil User means a guest
// session; a nil AWS means the session only carries user pool tokens.
type Session struct {
	User          *SignedInData   `json:"user,omitempty"`
	IdentityID    string          `json:"identity_id,omitempty"`
	AWS           *AWSCredentials `json:"aws,omitempty"`
	EstablishedAt time.Time       `json:"established_at"`
}

// Guest reports whether the session has no signed-in user.
func (s Session) Guest() bool {
	return s.User == nil
}

// Valid reports whether every part of the session is usable at now.
func (s Session) Valid(now time.Time, buffer time.Duration) bool {
	if s.User != nil && !s.User.Federated() && s.User.Tokens.Expired(now, buffer) {
		return false
	}
	if s.AWS != nil && s.AWS.Expired(now, buffer) {
		return false
	}
	if s.User == nil && s.AWS == nil {
		return false
	}
	return true
}

// ExpiresAt returns the earliest expiry across tokens and credentials.
func (s Session) ExpiresAt() time.Time {
	var out time.Time
	if s.User != nil && !s.User.Federated() {
		out = s.User.Tokens.ExpiresAt
	}
	if s.AWS != nil && (out.IsZero() || s.AWS.Expiration.Before(out)) {
		out = s.AWS.Expiration
	}
	return out
}

// ToCredentials returns the durable form of the session.
func (s Session) ToCredentials() CognitoCredentials {
	return CognitoCredentials{User: s.User, IdentityID: s.IdentityID, AWS: s.AWS}
}

// CognitoCredentials is what the credential store persists.
type CognitoCredentials struct {
	User       *SignedInData   `json:"user,omitempty"`
	IdentityID string          `json:"identity_id,omitempty"`
	AWS        *AWSCredentials `json:"aws,omitempty"`
}

// Empty reports whether nothing worth persisting is present.
func (c CognitoCredentials) Empty() bool {
	return c.User == nil && c.IdentityID == "" && c.AWS == nil
}

// TokenClaims are the unverified claims the client reads from a token.
type TokenClaims struct {
	Subject   string
	Username  string
	ExpiresAt time.Time
}

// ParseTokenClaims decodes a JWT without verifying its signature. The
// service already validated the token when it issued it.
func ParseTokenClaims(token string) (TokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenClaims{}, err
	}
	out := TokenClaims{}
	out.Subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	for _, key := range []string{"cognito:username", "username"} {
		if name, ok := claims[key].(string); ok && name != "" {
			out.Username = name
			break
		}
	}
	return out, nil
}

// NewUserPoolTokens builds tokens from an authentication result. The
// previous refresh token is kept when the result omits one.
func NewUserPoolTokens(result *cognito.AuthenticationResult, previousRefresh string, now time.Time) UserPoolTokens {
	tokens := UserPoolTokens{
		IDToken:      result.IDToken,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = previousRefresh
	}
	if claims, err := ParseTokenClaims(result.AccessToken); err == nil && !claims.ExpiresAt.IsZero() {
		tokens.ExpiresAt = claims.ExpiresAt
	} else if result.ExpiresIn > 0 {
		tokens.ExpiresAt = now.Add(result.ExpiresIn)
	}
	return tokens
}

func sameUser(a, b *SignedInData) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Username == b.Username && a.Method == b.Method
}
