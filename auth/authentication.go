package auth

import (
	"strings"

	"github.com/goliatone/go-authstate/machine"
)

// AuthenticationResolver handles sign-in, federation and sign-out.
type AuthenticationResolver struct{}

func (r AuthenticationResolver) Resolve(state AuthenticationState, evt machine.Event) machine.Resolution[AuthenticationState, *Environment] {
	switch s := state.(type) {
	case SignedOut:
		switch e := evt.(type) {
		case SignInRequested:
			return startSignIn(e.Request)
		case FederationRequested:
			return federate(s, e)
		}

	case SigningIn:
		switch e := evt.(type) {
		case SignInCompleted:
			return resolved[AuthenticationState](SignedIn{Data: e.Data})
		case CancelSignIn:
			return resolved[AuthenticationState](SignedOut{LastKnownUser: signInUsername(s.Flow)})
		case SignInRequested:
			if _, failed := s.Flow.(SignInFailed); failed {
				return startSignIn(e.Request)
			}
		case SignInEvent:
			child := SignInResolver{}.Resolve(s.Flow, e)
			return lift(child, AuthenticationState(s), func(flow SignInState) AuthenticationState {
				return SigningIn{Flow: flow}
			})
		}

	case SignedIn:
		if e, ok := evt.(SignOutRequested); ok {
			return signOut(s.Data, e.Global)
		}

	case SigningOut:
		switch e := evt.(type) {
		case SignOutCompleted:
			return resolved[AuthenticationState](SignedOut{LastKnownUser: s.Data.Username})
		case ThrowAuthenticationError:
			return resolved[AuthenticationState](AuthenticationFailed{Err: e.Err, Previous: s})
		}

	case AuthenticationFailed:
		switch e := evt.(type) {
		case SignInRequested:
			return startSignIn(e.Request)
		case SignOutRequested:
			if prev, ok := s.Previous.(SigningOut); ok {
				return signOut(prev.Data, e.Global)
			}
			return resolved[AuthenticationState](SignedOut{})
		}
	}
	return ignored(state)
}

func startSignIn(req SignInRequest) machine.Resolution[AuthenticationState, *Environment] {
	username := strings.TrimSpace(req.Username)
	method := req.Method
	if method == "" {
		method = MethodSRP
	}
	if username == "" {
		return rejectSignIn(method, "username is required")
	}
	req.Username = username
	req.Method = method

	switch method {
	case MethodSRP:
		if req.Password == nil {
			return rejectSignIn(method, "password is required")
		}
		return resolved[AuthenticationState](
			SigningIn{Flow: SigningInWithSRP{State: SRPInitiatingAuth{Username: username}}},
			InitiateAuthSRP{Request: req},
		)
	case MethodCustom:
		return resolved[AuthenticationState](
			SigningIn{Flow: SigningInWithCustom{State: CustomInitiating{Username: username}}},
			InitiateCustomAuth{Request: req},
		)
	case MethodUserPassword:
		if req.Password == nil {
			return rejectSignIn(method, "password is required")
		}
		return resolved[AuthenticationState](
			SigningIn{Flow: SigningInWithUserPassword{Username: username}},
			InitiateAuthUserPassword{Request: req},
		)
	}
	return rejectSignIn(method, "unsupported sign-in method "+string(method))
}

// rejectSignIn fails a request before any flow starts.
func rejectSignIn(method SignInMethod, msg string) machine.Resolution[AuthenticationState, *Environment] {
	return resolved[AuthenticationState](SigningIn{Flow: SignInFailed{
		Method: method,
		Err:    NewError(ErrInvalidInput, "sign_in", msg, nil),
		Event:  SignInRequested{}.Type(),
	}})
}

func federate(s SignedOut, e FederationRequested) machine.Resolution[AuthenticationState, *Environment] {
	if e.Provider == "" || e.Token == "" {
		return resolved[AuthenticationState](AuthenticationFailed{
			Err:      NewError(ErrInvalidInput, "federate", "provider and token are required", nil),
			Previous: s,
		})
	}
	return resolved[AuthenticationState](SignedIn{Data: SignedInData{
		Username:   e.Provider,
		SignedInAt: e.At,
		Method:     MethodFederated,
		Federation: &Federation{Provider: e.Provider, Token: e.Token, IdentityID: e.IdentityID},
	}})
}

func signOut(data SignedInData, global bool) machine.Resolution[AuthenticationState, *Environment] {
	return resolved[AuthenticationState](
		SigningOut{Data: data, Global: global},
		SignOut{Data: data, Global: global},
	)
}

func signInUsername(flow SignInState) string {
	switch f := flow.(type) {
	case SigningInWithSRP:
		switch s := f.State.(type) {
		case SRPInitiatingAuth:
			return s.Username
		case SRPRespondingPasswordVerifier:
			return s.Username
		}
	case SigningInWithCustom:
		switch s := f.State.(type) {
		case CustomInitiating:
			return s.Username
		case CustomAwaitingChallengeResponse:
			return s.Challenge.Username
		case CustomRespondingToChallenge:
			return s.Challenge.Username
		}
	case SigningInWithUserPassword:
		return f.Username
	case ResolvingChallenge:
		switch s := f.State.(type) {
		case ChallengeWaitingForAnswer:
			return s.Challenge.Username
		case ChallengeVerifying:
			return s.Challenge.Username
		}
	}
	return ""
}

// SignInResolver drives one sign-in attempt.
type SignInResolver struct{}

func (r SignInResolver) Resolve(state SignInState, evt machine.Event) machine.Resolution[SignInState, *Environment] {
	if e, ok := evt.(ThrowSignInError); ok {
		if _, failed := state.(SignInFailed); failed {
			return ignored(state)
		}
		return resolved[SignInState](SignInFailed{
			Method:   signInMethod(state),
			Err:      e.Err,
			Previous: state,
			Event:    evt.Type(),
		})
	}

	switch s := state.(type) {
	case SigningInWithSRP:
		if e, ok := evt.(ReceivedChallenge); ok {
			return resolved[SignInState](ResolvingChallenge{State: ChallengeWaitingForAnswer{Challenge: e.Challenge}})
		}
		return lift(SRPResolver{}.Resolve(s.State, evt), state, func(c SRPState) SignInState {
			return SigningInWithSRP{State: c}
		})

	case SigningInWithCustom:
		if e, ok := evt.(ReceivedChallenge); ok {
			return resolved[SignInState](ResolvingChallenge{State: ChallengeWaitingForAnswer{Challenge: e.Challenge}})
		}
		return lift(CustomAuthResolver{}.Resolve(s.State, evt), state, func(c CustomAuthState) SignInState {
			return SigningInWithCustom{State: c}
		})

	case SigningInWithUserPassword:
		if e, ok := evt.(ReceivedChallenge); ok {
			return resolved[SignInState](ResolvingChallenge{State: ChallengeWaitingForAnswer{Challenge: e.Challenge}})
		}

	case ResolvingChallenge:
		switch e := evt.(type) {
		case ReceivedChallenge:
			if _, verifying := s.State.(ChallengeVerifying); verifying {
				return resolved[SignInState](ResolvingChallenge{State: ChallengeWaitingForAnswer{Challenge: e.Challenge}})
			}
		case ReceivedCustomChallenge:
			if _, verifying := s.State.(ChallengeVerifying); verifying {
				return resolved[SignInState](SigningInWithCustom{State: CustomAwaitingChallengeResponse{Challenge: e.Challenge}})
			}
		default:
			return lift(ChallengeResolver{}.Resolve(s.State, evt), state, func(c ChallengeState) SignInState {
				return ResolvingChallenge{State: c}
			})
		}
	}
	return ignored(state)
}

func signInMethod(state SignInState) SignInMethod {
	switch s := state.(type) {
	case SigningInWithCustom:
		return MethodCustom
	case SigningInWithUserPassword:
		return MethodUserPassword
	case ResolvingChallenge:
		switch c := s.State.(type) {
		case ChallengeWaitingForAnswer:
			return c.Challenge.Method
		case ChallengeVerifying:
			return c.Challenge.Method
		}
	case SignInFailed:
		return s.Method
	}
	return MethodSRP
}

// SRPResolver handles the password verifier exchange.
type SRPResolver struct{}

func (SRPResolver) Resolve(state SRPState, evt machine.Event) machine.Resolution[SRPState, *Environment] {
	if s, ok := state.(SRPInitiatingAuth); ok {
		if e, ok := evt.(ReceivedPasswordVerifierChallenge); ok {
			return resolved[SRPState](
				SRPRespondingPasswordVerifier{Username: s.Username, Challenge: e.Challenge},
				VerifyPasswordSRP{Challenge: e.Challenge, SRP: e.SRP},
			)
		}
	}
	return ignored(state)
}

// CustomAuthResolver runs the custom challenge loop until the service
// issues tokens.
type CustomAuthResolver struct{}

func (CustomAuthResolver) Resolve(state CustomAuthState, evt machine.Event) machine.Resolution[CustomAuthState, *Environment] {
	switch s := state.(type) {
	case CustomInitiating:
		if e, ok := evt.(ReceivedCustomChallenge); ok {
			return resolved[CustomAuthState](CustomAwaitingChallengeResponse{Challenge: e.Challenge})
		}
	case CustomAwaitingChallengeResponse:
		if e, ok := evt.(ChallengeAnswered); ok {
			return resolved[CustomAuthState](
				CustomRespondingToChallenge{Challenge: s.Challenge},
				RespondToAuthChallenge{Challenge: s.Challenge, Answer: e.Answer, ClientMetadata: e.ClientMetadata, Attributes: e.Attributes},
			)
		}
	case CustomRespondingToChallenge:
		switch e := evt.(type) {
		case ReceivedCustomChallenge:
			return resolved[CustomAuthState](CustomAwaitingChallengeResponse{Challenge: e.Challenge})
		case ChallengeAnswerRejected:
			return resolved[CustomAuthState](CustomAwaitingChallengeResponse{Challenge: s.Challenge, LastErr: e.Err})
		}
	}
	return ignored(state)
}

// ChallengeResolver answers MFA and new-password challenges.
type ChallengeResolver struct{}

func (ChallengeResolver) Resolve(state ChallengeState, evt machine.Event) machine.Resolution[ChallengeState, *Environment] {
	switch s := state.(type) {
	case ChallengeWaitingForAnswer:
		if e, ok := evt.(ChallengeAnswered); ok {
			return resolved[ChallengeState](
				ChallengeVerifying{Challenge: s.Challenge},
				RespondToAuthChallenge{Challenge: s.Challenge, Answer: e.Answer, ClientMetadata: e.ClientMetadata, Attributes: e.Attributes},
			)
		}
	case ChallengeVerifying:
		if e, ok := evt.(ChallengeAnswerRejected); ok {
			return resolved[ChallengeState](ChallengeWaitingForAnswer{Challenge: s.Challenge, LastErr: e.Err})
		}
	}
	return ignored(state)
}
