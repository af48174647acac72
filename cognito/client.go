// Package cognito defines the user pool and identity pool collaborators used
// by the auth state machine, together with AWS SDK v2 implementations.
package cognito

import (
	"context"
	"time"
)

// AuthFlow names an InitiateAuth flow.
type AuthFlow string

const (
	AuthFlowUserSRP      AuthFlow = "USER_SRP_AUTH"
	AuthFlowUserPassword AuthFlow = "USER_PASSWORD_AUTH"
	AuthFlowCustom       AuthFlow = "CUSTOM_AUTH"
	AuthFlowRefreshToken AuthFlow = "REFRESH_TOKEN_AUTH"
)

// ChallengeName names a user pool challenge.
type ChallengeName string

const (
	ChallengePasswordVerifier    ChallengeName = "PASSWORD_VERIFIER"
	ChallengeCustom              ChallengeName = "CUSTOM_CHALLENGE"
	ChallengeSMSMFA              ChallengeName = "SMS_MFA"
	ChallengeSoftwareTokenMFA    ChallengeName = "SOFTWARE_TOKEN_MFA"
	ChallengeSelectMFAType       ChallengeName = "SELECT_MFA_TYPE"
	ChallengeMFASetup            ChallengeName = "MFA_SETUP"
	ChallengeNewPasswordRequired ChallengeName = "NEW_PASSWORD_REQUIRED"
	ChallengeDeviceSRPAuth       ChallengeName = "DEVICE_SRP_AUTH"
)

// Parameter keys used in auth parameters and challenge responses.
const (
	ParamUsername       = "USERNAME"
	ParamPassword       = "PASSWORD"
	ParamSRPA           = "SRP_A"
	ParamSRPB           = "SRP_B"
	ParamSalt           = "SALT"
	ParamSecretBlock    = "SECRET_BLOCK"
	ParamUserIDForSRP   = "USER_ID_FOR_SRP"
	ParamSecretHash     = "SECRET_HASH"
	ParamRefreshToken   = "REFRESH_TOKEN"
	ParamDeviceKey      = "DEVICE_KEY"
	ParamChallengeName  = "CHALLENGE_NAME"
	ParamClaimSignature = "PASSWORD_CLAIM_SIGNATURE"
	ParamClaimBlock     = "PASSWORD_CLAIM_SECRET_BLOCK"
	ParamTimestamp      = "TIMESTAMP"
	ParamAnswer         = "ANSWER"
	ParamSMSMFACode     = "SMS_MFA_CODE"
	ParamSoftwareMFA    = "SOFTWARE_TOKEN_MFA_CODE"
	ParamNewPassword    = "NEW_PASSWORD"
	ParamMFAsCanChoose  = "MFAS_CAN_CHOOSE"
)

// InitiateAuthInput starts a user pool authentication flow.
type InitiateAuthInput struct {
	Flow           AuthFlow
	Parameters     map[string]string
	ClientMetadata map[string]string
}

// RespondInput answers a user pool challenge.
type RespondInput struct {
	Challenge      ChallengeName
	Session        string
	Responses      map[string]string
	ClientMetadata map[string]string
}

// AuthOutput is either a challenge or an authentication result.
type AuthOutput struct {
	Challenge           ChallengeName
	ChallengeParameters map[string]string
	Session             string
	Result              *AuthenticationResult
}

// AuthenticationResult carries issued user pool tokens.
type AuthenticationResult struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
	NewDevice    *DeviceMetadata
}

// DeviceMetadata identifies a newly tracked device.
type DeviceMetadata struct {
	DeviceKey      string
	DeviceGroupKey string
}

// Device is a tracked user device.
type Device struct {
	Key                 string
	Name                string
	Attributes          map[string]string
	CreatedAt           time.Time
	LastAuthenticatedAt time.Time
	LastModifiedAt      time.Time
}

// DevicePage is one page of ListDevices.
type DevicePage struct {
	Devices   []Device
	NextToken string
}

// Credentials are temporary AWS credentials issued for an identity.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// UserPoolClient talks to the user pool.
type UserPoolClient interface {
	InitiateAuth(ctx context.Context, in InitiateAuthInput) (*AuthOutput, error)
	RespondToAuthChallenge(ctx context.Context, in RespondInput) (*AuthOutput, error)
	ListDevices(ctx context.Context, accessToken string, limit int32, pageToken string) (*DevicePage, error)
	ForgetDevice(ctx context.Context, accessToken, deviceKey string) error
	UpdateDeviceStatus(ctx context.Context, accessToken, deviceKey string, remembered bool) error
	ChangePassword(ctx context.Context, accessToken, previous, proposed string) error
	RevokeToken(ctx context.Context, refreshToken string) error
	GlobalSignOut(ctx context.Context, accessToken string) error
}

// IdentityClient talks to the identity pool.
type IdentityClient interface {
	GetID(ctx context.Context, logins map[string]string) (string, error)
	GetCredentialsForIdentity(ctx context.Context, identityID string, logins map[string]string) (*Credentials, error)
}
