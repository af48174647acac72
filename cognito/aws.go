package cognito

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
)

// userPoolAPI is the subset of the SDK user pool client the adapter calls.
type userPoolAPI interface {
	InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	RespondToAuthChallenge(ctx context.Context, in *cip.RespondToAuthChallengeInput, optFns ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error)
	ListDevices(ctx context.Context, in *cip.ListDevicesInput, optFns ...func(*cip.Options)) (*cip.ListDevicesOutput, error)
	ForgetDevice(ctx context.Context, in *cip.ForgetDeviceInput, optFns ...func(*cip.Options)) (*cip.ForgetDeviceOutput, error)
	UpdateDeviceStatus(ctx context.Context, in *cip.UpdateDeviceStatusInput, optFns ...func(*cip.Options)) (*cip.UpdateDeviceStatusOutput, error)
	ChangePassword(ctx context.Context, in *cip.ChangePasswordInput, optFns ...func(*cip.Options)) (*cip.ChangePasswordOutput, error)
	RevokeToken(ctx context.Context, in *cip.RevokeTokenInput, optFns ...func(*cip.Options)) (*cip.RevokeTokenOutput, error)
	GlobalSignOut(ctx context.Context, in *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
}

// identityAPI is the subset of the SDK identity client the adapter calls.
type identityAPI interface {
	GetId(ctx context.Context, in *cognitoidentity.GetIdInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error)
	GetCredentialsForIdentity(ctx context.Context, in *cognitoidentity.GetCredentialsForIdentityInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error)
}

// AWSOptions configures the SDK backed clients.
type AWSOptions struct {
	Region         string
	ClientID       string
	ClientSecret   string
	IdentityPoolID string
	// Endpoint overrides the user pool endpoint, e.g. for local emulators.
	Endpoint string
}

// NewAWSClients builds SDK backed clients. Cognito auth APIs are called
// unsigned, so anonymous credentials are used.
func NewAWSClients(ctx context.Context, opts AWSOptions) (*UserPoolAdapter, *IdentityAdapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, nil, NewServiceError("LoadDefaultConfig", err)
	}

	userPool := cip.NewFromConfig(cfg, func(o *cip.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	identity := cognitoidentity.NewFromConfig(cfg)

	return NewUserPoolAdapter(userPool, opts.ClientID, opts.ClientSecret),
		NewIdentityAdapter(identity, opts.IdentityPoolID), nil
}

// UserPoolAdapter implements UserPoolClient over the AWS SDK.
type UserPoolAdapter struct {
	api          userPoolAPI
	clientID     string
	clientSecret string
}

var _ UserPoolClient = (*UserPoolAdapter)(nil)

func NewUserPoolAdapter(api userPoolAPI, clientID, clientSecret string) *UserPoolAdapter {
	return &UserPoolAdapter{api: api, clientID: clientID, clientSecret: clientSecret}
}

func (a *UserPoolAdapter) InitiateAuth(ctx context.Context, in InitiateAuthInput) (*AuthOutput, error) {
	out, err := a.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       ciptypes.AuthFlowType(in.Flow),
		ClientId:       aws.String(a.clientID),
		AuthParameters: in.Parameters,
		ClientMetadata: in.ClientMetadata,
	})
	if err != nil {
		return nil, NewServiceError("InitiateAuth", err)
	}
	return toAuthOutput(out.ChallengeName, out.ChallengeParameters, out.Session, out.AuthenticationResult), nil
}

func (a *UserPoolAdapter) RespondToAuthChallenge(ctx context.Context, in RespondInput) (*AuthOutput, error) {
	input := &cip.RespondToAuthChallengeInput{
		ChallengeName:      ciptypes.ChallengeNameType(in.Challenge),
		ClientId:           aws.String(a.clientID),
		ChallengeResponses: in.Responses,
		ClientMetadata:     in.ClientMetadata,
	}
	if in.Session != "" {
		input.Session = aws.String(in.Session)
	}
	out, err := a.api.RespondToAuthChallenge(ctx, input)
	if err != nil {
		return nil, NewServiceError("RespondToAuthChallenge", err)
	}
	return toAuthOutput(out.ChallengeName, out.ChallengeParameters, out.Session, out.AuthenticationResult), nil
}

func (a *UserPoolAdapter) ListDevices(ctx context.Context, accessToken string, limit int32, pageToken string) (*DevicePage, error) {
	input := &cip.ListDevicesInput{AccessToken: aws.String(accessToken)}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}
	if pageToken != "" {
		input.PaginationToken = aws.String(pageToken)
	}
	out, err := a.api.ListDevices(ctx, input)
	if err != nil {
		return nil, NewServiceError("ListDevices", err)
	}
	page := &DevicePage{NextToken: aws.ToString(out.PaginationToken)}
	for _, d := range out.Devices {
		attrs := make(map[string]string, len(d.DeviceAttributes))
		for _, attr := range d.DeviceAttributes {
			attrs[aws.ToString(attr.Name)] = aws.ToString(attr.Value)
		}
		page.Devices = append(page.Devices, Device{
			Key:                 aws.ToString(d.DeviceKey),
			Name:                attrs["device_name"],
			Attributes:          attrs,
			CreatedAt:           aws.ToTime(d.DeviceCreateDate),
			LastAuthenticatedAt: aws.ToTime(d.DeviceLastAuthenticatedDate),
			LastModifiedAt:      aws.ToTime(d.DeviceLastModifiedDate),
		})
	}
	return page, nil
}

func (a *UserPoolAdapter) ForgetDevice(ctx context.Context, accessToken, deviceKey string) error {
	_, err := a.api.ForgetDevice(ctx, &cip.ForgetDeviceInput{
		AccessToken: aws.String(accessToken),
		DeviceKey:   aws.String(deviceKey),
	})
	if err != nil {
		return NewServiceError("ForgetDevice", err)
	}
	return nil
}

func (a *UserPoolAdapter) UpdateDeviceStatus(ctx context.Context, accessToken, deviceKey string, remembered bool) error {
	status := ciptypes.DeviceRememberedStatusTypeNotRemembered
	if remembered {
		status = ciptypes.DeviceRememberedStatusTypeRemembered
	}
	_, err := a.api.UpdateDeviceStatus(ctx, &cip.UpdateDeviceStatusInput{
		AccessToken:            aws.String(accessToken),
		DeviceKey:              aws.String(deviceKey),
		DeviceRememberedStatus: status,
	})
	if err != nil {
		return NewServiceError("UpdateDeviceStatus", err)
	}
	return nil
}

func (a *UserPoolAdapter) ChangePassword(ctx context.Context, accessToken, previous, proposed string) error {
	_, err := a.api.ChangePassword(ctx, &cip.ChangePasswordInput{
		AccessToken:      aws.String(accessToken),
		PreviousPassword: aws.String(previous),
		ProposedPassword: aws.String(proposed),
	})
	if err != nil {
		return NewServiceError("ChangePassword", err)
	}
	return nil
}

func (a *UserPoolAdapter) RevokeToken(ctx context.Context, refreshToken string) error {
	input := &cip.RevokeTokenInput{
		ClientId: aws.String(a.clientID),
		Token:    aws.String(refreshToken),
	}
	if a.clientSecret != "" {
		input.ClientSecret = aws.String(a.clientSecret)
	}
	if _, err := a.api.RevokeToken(ctx, input); err != nil {
		return NewServiceError("RevokeToken", err)
	}
	return nil
}

func (a *UserPoolAdapter) GlobalSignOut(ctx context.Context, accessToken string) error {
	if _, err := a.api.GlobalSignOut(ctx, &cip.GlobalSignOutInput{AccessToken: aws.String(accessToken)}); err != nil {
		return NewServiceError("GlobalSignOut", err)
	}
	return nil
}

func toAuthOutput(challenge ciptypes.ChallengeNameType, params map[string]string, session *string, result *ciptypes.AuthenticationResultType) *AuthOutput {
	out := &AuthOutput{
		Challenge:           ChallengeName(challenge),
		ChallengeParameters: params,
		Session:             aws.ToString(session),
	}
	if result != nil {
		out.Result = &AuthenticationResult{
			AccessToken:  aws.ToString(result.AccessToken),
			IDToken:      aws.ToString(result.IdToken),
			RefreshToken: aws.ToString(result.RefreshToken),
			ExpiresIn:    time.Duration(result.ExpiresIn) * time.Second,
		}
		if md := result.NewDeviceMetadata; md != nil {
			out.Result.NewDevice = &DeviceMetadata{
				DeviceKey:      aws.ToString(md.DeviceKey),
				DeviceGroupKey: aws.ToString(md.DeviceGroupKey),
			}
		}
	}
	return out
}

// IdentityAdapter implements IdentityClient over the AWS SDK.
type IdentityAdapter struct {
	api            identityAPI
	identityPoolID string
}

var _ IdentityClient = (*IdentityAdapter)(nil)

func NewIdentityAdapter(api identityAPI, identityPoolID string) *IdentityAdapter {
	return &IdentityAdapter{api: api, identityPoolID: identityPoolID}
}

func (a *IdentityAdapter) GetID(ctx context.Context, logins map[string]string) (string, error) {
	out, err := a.api.GetId(ctx, &cognitoidentity.GetIdInput{
		IdentityPoolId: aws.String(a.identityPoolID),
		Logins:         logins,
	})
	if err != nil {
		return "", NewServiceError("GetId", err)
	}
	return aws.ToString(out.IdentityId), nil
}

func (a *IdentityAdapter) GetCredentialsForIdentity(ctx context.Context, identityID string, logins map[string]string) (*Credentials, error) {
	out, err := a.api.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: aws.String(identityID),
		Logins:     logins,
	})
	if err != nil {
		return nil, NewServiceError("GetCredentialsForIdentity", err)
	}
	if out.Credentials == nil {
		return nil, &ServiceError{Operation: "GetCredentialsForIdentity", Message: "response carried no credentials"}
	}
	return &Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expiration:      aws.ToTime(out.Credentials.Expiration),
	}, nil
}
