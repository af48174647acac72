package auth

import (
	"github.com/goliatone/go-authstate/machine"
)

// Action is a side effect scheduled by an auth resolver.
type Action = machine.Action[*Environment]

func resolved[S any](state S, actions ...Action) machine.Resolution[S, *Environment] {
	return machine.Resolve[S, *Environment](state, actions...)
}

func ignored[S any](state S) machine.Resolution[S, *Environment] {
	return machine.Ignore[S, *Environment](state)
}

// lift rewraps a child resolution into its parent. An ignored child leaves
// the parent untouched.
func lift[C any, P any](child machine.Resolution[C, *Environment], parent P, wrap func(C) P) machine.Resolution[P, *Environment] {
	if child.Ignored {
		return ignored(parent)
	}
	return resolved(wrap(child.State), child.Actions...)
}

// Resolver is the top-level auth resolver.
type Resolver struct{}

var _ machine.Resolver[AuthState, *Environment] = Resolver{}

// NewMachine starts an auth machine in AuthUninitialized.
func NewMachine(env *Environment, opts ...machine.Option) *machine.Machine[AuthState, *Environment] {
	return machine.New[AuthState, *Environment](AuthUninitialized{}, Resolver{}, env, opts...)
}

func (r Resolver) Resolve(state AuthState, evt machine.Event) machine.Resolution[AuthState, *Environment] {
	switch s := state.(type) {
	case AuthUninitialized:
		if _, ok := evt.(ConfigureAuth); ok {
			return resolved[AuthState](AuthConfiguring{}, LoadCredentials{})
		}
	case AuthConfiguring:
		switch e := evt.(type) {
		case CachedCredentialsLoaded:
			return resolved[AuthState](ConfiguredFromCredentials(e.Credentials))
		case ConfigurationFailed:
			return resolved[AuthState](AuthFailed{Err: e.Err, Previous: s, Event: evt.Type()})
		}
	case AuthConfigured:
		return r.resolveConfigured(s, evt)
	case AuthFailed:
		if _, ok := evt.(ConfigureAuth); ok {
			return resolved[AuthState](AuthConfiguring{}, LoadCredentials{})
		}
	}
	return ignored(state)
}

func (r Resolver) resolveConfigured(s AuthConfigured, evt machine.Event) machine.Resolution[AuthState, *Environment] {
	switch {
	case isAuthenticationLayer(evt):
		res := AuthenticationResolver{}.Resolve(s.Authentication, evt)
		if res.Ignored {
			return ignored[AuthState](s)
		}
		next := AuthConfigured{Authentication: res.State, Authorization: s.Authorization}
		actions := res.Actions
		if authz, ok := authorizationFollowing(s.Authentication, res.State, s.Authorization); ok {
			next.Authorization = authz.State
			actions = append(append([]Action{}, actions...), authz.Actions...)
		}
		return resolved[AuthState](next, actions...)

	case isAuthorizationLayer(evt):
		res := AuthorizationResolver{}.Resolve(s.Authorization, evt)
		if res.Ignored {
			return ignored[AuthState](s)
		}
		next := AuthConfigured{
			Authentication: withRefreshedUser(s.Authentication, res.State),
			Authorization:  res.State,
		}
		return resolved[AuthState](next, res.Actions...)
	}
	return ignored[AuthState](s)
}

// authorizationFollowing derives the authorization reaction to an
// authentication transition: a new sign-in starts a session fetch and a
// completed sign-out clears the session.
func authorizationFollowing(prev, next AuthenticationState, authz AuthorizationState) (machine.Resolution[AuthorizationState, *Environment], bool) {
	switch n := next.(type) {
	case SignedIn:
		if _, was := prev.(SignedIn); was {
			break
		}
		data := n.Data
		input := SessionInput{User: &data}
		if data.Federated() {
			input.IdentityID = data.Federation.IdentityID
		}
		res := AuthorizationResolver{}.Resolve(authz, FetchSessionRequested{Input: input})
		return res, !res.Ignored
	case SignedOut:
		if _, was := prev.(SigningOut); !was {
			break
		}
		res := AuthorizationResolver{}.Resolve(authz, SessionCleared{})
		return res, !res.Ignored
	}
	return machine.Resolution[AuthorizationState, *Environment]{}, false
}

// withRefreshedUser keeps SignedIn data in step with refreshed tokens.
func withRefreshedUser(authn AuthenticationState, authz AuthorizationState) AuthenticationState {
	signedIn, ok := authn.(SignedIn)
	if !ok {
		return authn
	}
	est, ok := authz.(AuthZSessionEstablished)
	if !ok || est.Session.User == nil || !sameUser(&signedIn.Data, est.Session.User) {
		return authn
	}
	return SignedIn{Data: *est.Session.User}
}

// ConfiguredFromCredentials seeds both sub-machines from persisted
// credentials.
func ConfiguredFromCredentials(creds *CognitoCredentials) AuthConfigured {
	if creds == nil || creds.Empty() {
		return AuthConfigured{Authentication: SignedOut{}, Authorization: AuthZConfigured{}}
	}

	var authn AuthenticationState = SignedOut{}
	if creds.User != nil {
		authn = SignedIn{Data: *creds.User}
	}

	hasAWS := creds.AWS != nil && creds.IdentityID != ""
	userPoolOnly := creds.User != nil && creds.IdentityID == "" && creds.AWS == nil
	if !hasAWS && !userPoolOnly {
		return AuthConfigured{Authentication: authn, Authorization: AuthZConfigured{}}
	}
	return AuthConfigured{
		Authentication: authn,
		Authorization: AuthZSessionEstablished{Session: Session{
			User:       creds.User,
			IdentityID: creds.IdentityID,
			AWS:        creds.AWS,
		}},
	}
}
