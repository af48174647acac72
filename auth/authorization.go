package auth

import (
	"github.com/goliatone/go-authstate/machine"
	apperrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// AuthorizationResolver owns the session lifecycle.
type AuthorizationResolver struct{}

func (r AuthorizationResolver) Resolve(state AuthorizationState, evt machine.Event) machine.Resolution[AuthorizationState, *Environment] {
	if scoped, ok := evt.(FetchScoped); ok && scoped.FetchRef() != currentFetch(state) {
		// issued by a fetch that has since been replaced or finished
		return ignored(state)
	}

	switch e := evt.(type) {
	case SessionCleared:
		return resolved[AuthorizationState](AuthZConfigured{}, ClearCredentials{})
	case ThrowAuthorizationError:
		return resolved[AuthorizationState](AuthZFailed{Err: e.Err, Previous: state, Event: evt.Type()})
	case CredentialStoreFailed:
		// recorded for listeners, the session itself is still usable
		return resolved(state)
	case FetchSessionRequested:
		if f, ok := state.(AuthZFetchingSession); ok && !e.Input.ForceRefresh && FetchError(f) == nil && sameUser(f.Input.User, e.Input.User) {
			return ignored(state)
		}
		id := uuid.NewString()
		return resolved[AuthorizationState](
			AuthZFetchingSession{FetchID: id, Fetch: DeterminingUserState{}, Input: e.Input},
			InitializeFetchAuthSession{FetchID: id, Input: e.Input},
		)
	}

	f, ok := state.(AuthZFetchingSession)
	if !ok {
		return ignored(state)
	}
	child := FetchAuthSessionResolver{}.Resolve(f.Fetch, evt)
	if child.Ignored {
		return ignored(state)
	}
	if est, done := child.State.(SessionEstablished); done {
		if !sameUser(f.Input.User, est.Session.User) {
			return ignored(state)
		}
		actions := append([]Action{}, child.Actions...)
		actions = append(actions, PersistCredentials{Credentials: est.Session.ToCredentials()})
		return resolved[AuthorizationState](AuthZSessionEstablished{Session: est.Session}, actions...)
	}
	return resolved[AuthorizationState](AuthZFetchingSession{FetchID: f.FetchID, Fetch: child.State, Input: f.Input}, child.Actions...)
}

// currentFetch returns the id of the fetch in progress, or "".
func currentFetch(state AuthorizationState) string {
	if f, ok := state.(AuthZFetchingSession); ok {
		return f.FetchID
	}
	return ""
}

// FetchError returns the failure recorded anywhere in an in-progress
// fetch, or nil.
func FetchError(state AuthorizationState) *apperrors.Error {
	switch s := state.(type) {
	case AuthZFailed:
		return s.Err
	case AuthZFetchingSession:
		switch f := s.Fetch.(type) {
		case FetchSessionFailed:
			return f.Err
		case FetchingUserPoolTokens:
			if c, ok := f.State.(UserPoolTokensError); ok {
				return c.Err
			}
		case FetchingIdentity:
			if c, ok := f.State.(IdentityError); ok {
				return c.Err
			}
		case FetchingAWSCredentials:
			if c, ok := f.State.(AWSCredentialsError); ok {
				return c.Err
			}
		}
	}
	return nil
}

// FetchAuthSessionResolver sequences the fetch phases: user pool tokens,
// then identity id, then AWS credentials.
type FetchAuthSessionResolver struct{}

func (r FetchAuthSessionResolver) Resolve(state FetchAuthSessionState, evt machine.Event) machine.Resolution[FetchAuthSessionState, *Environment] {
	if e, ok := evt.(ThrowFetchSessionError); ok {
		switch state.(type) {
		case SessionEstablished, FetchSessionFailed:
			return ignored(state)
		}
		return resolved[FetchAuthSessionState](FetchSessionFailed{Err: e.Err, Previous: state, Event: evt.Type()})
	}

	switch s := state.(type) {
	case DeterminingUserState:
		switch e := evt.(type) {
		case BeginFetchUserPoolTokens:
			return beginUserPoolTokens(e)
		case BeginFetchIdentity:
			return beginIdentity(e)
		}

	case FetchingUserPoolTokens:
		_, fetched := s.State.(UserPoolTokensFetchedState)
		switch e := evt.(type) {
		case BeginFetchIdentity:
			if fetched {
				return beginIdentity(e)
			}
		case FetchedAuthSession:
			// user pool only: no identity pool configured
			if fetched && e.Session.IdentityID == "" && e.Session.AWS == nil {
				return resolved[FetchAuthSessionState](SessionEstablished{Session: e.Session})
			}
		case UserPoolTokensEvent:
			return lift(FetchUserPoolTokensResolver{}.Resolve(s.State, e), state, func(c FetchUserPoolTokensState) FetchAuthSessionState {
				return FetchingUserPoolTokens{State: c}
			})
		}

	case FetchingIdentity:
		switch e := evt.(type) {
		case BeginFetchAWSCredentials:
			if _, fetched := s.State.(IdentityFetchedState); fetched {
				return beginAWSCredentials(e)
			}
		case IdentityEvent:
			return lift(FetchIdentityResolver{}.Resolve(s.State, e), state, func(c FetchIdentityState) FetchAuthSessionState {
				return FetchingIdentity{State: c}
			})
		}

	case FetchingAWSCredentials:
		switch e := evt.(type) {
		case FetchedAuthSession:
			return resolved[FetchAuthSessionState](SessionEstablished{Session: e.Session})
		case AWSCredentialsEvent:
			return lift(FetchAWSCredentialsResolver{}.Resolve(s.State, e), state, func(c FetchAWSCredentialsState) FetchAuthSessionState {
				return FetchingAWSCredentials{State: c}
			})
		}
	}
	return ignored(state)
}

func beginUserPoolTokens(e BeginFetchUserPoolTokens) machine.Resolution[FetchAuthSessionState, *Environment] {
	var childEvt machine.Event = UserPoolTokensFetched{FetchID: e.FetchID, User: e.User}
	if e.Refresh {
		childEvt = RefreshUserPoolTokens{FetchID: e.FetchID, User: e.User, IdentityID: e.IdentityID}
	}
	child := FetchUserPoolTokensResolver{}.Resolve(UserPoolTokensConfiguring{}, childEvt)
	return resolved[FetchAuthSessionState](FetchingUserPoolTokens{State: child.State}, child.Actions...)
}

func beginIdentity(e BeginFetchIdentity) machine.Resolution[FetchAuthSessionState, *Environment] {
	child := FetchIdentityResolver{}.Resolve(IdentityConfiguring{}, FetchIdentityID{FetchID: e.FetchID, Input: e.Input})
	return resolved[FetchAuthSessionState](FetchingIdentity{State: child.State}, child.Actions...)
}

func beginAWSCredentials(e BeginFetchAWSCredentials) machine.Resolution[FetchAuthSessionState, *Environment] {
	child := FetchAWSCredentialsResolver{}.Resolve(AWSCredentialsConfiguring{}, FetchAWSCredentials{FetchID: e.FetchID, Input: e.Input, IdentityID: e.IdentityID})
	return resolved[FetchAuthSessionState](FetchingAWSCredentials{State: child.State}, child.Actions...)
}

// FetchUserPoolTokensResolver refreshes user pool tokens when needed.
type FetchUserPoolTokensResolver struct{}

func (FetchUserPoolTokensResolver) Resolve(state FetchUserPoolTokensState, evt machine.Event) machine.Resolution[FetchUserPoolTokensState, *Environment] {
	switch state.(type) {
	case UserPoolTokensConfiguring, UserPoolTokensRefreshing:
		switch e := evt.(type) {
		case RefreshUserPoolTokens:
			if _, configuring := state.(UserPoolTokensConfiguring); configuring {
				return resolved[FetchUserPoolTokensState](
					UserPoolTokensRefreshing{User: e.User},
					RefreshTokens{FetchID: e.FetchID, User: e.User, IdentityID: e.IdentityID},
				)
			}
		case UserPoolTokensFetched:
			return resolved[FetchUserPoolTokensState](UserPoolTokensFetchedState{User: e.User})
		case UserPoolTokensFailed:
			return resolved[FetchUserPoolTokensState](UserPoolTokensError{Err: e.Err, Previous: state, Event: evt.Type()})
		}
	}
	return ignored(state)
}

// FetchIdentityResolver obtains the identity id.
type FetchIdentityResolver struct{}

func (FetchIdentityResolver) Resolve(state FetchIdentityState, evt machine.Event) machine.Resolution[FetchIdentityState, *Environment] {
	switch state.(type) {
	case IdentityConfiguring:
		if e, ok := evt.(FetchIdentityID); ok {
			return resolved[FetchIdentityState](IdentityFetching{}, GetIdentityID{FetchID: e.FetchID, Input: e.Input})
		}
	case IdentityFetching:
		switch e := evt.(type) {
		case IdentityIDFetched:
			return resolved[FetchIdentityState](IdentityFetchedState{IdentityID: e.IdentityID})
		case IdentityIDFailed:
			return resolved[FetchIdentityState](IdentityError{Err: e.Err, Previous: state, Event: evt.Type()})
		}
	}
	return ignored(state)
}

// FetchAWSCredentialsResolver obtains temporary AWS credentials.
type FetchAWSCredentialsResolver struct{}

func (FetchAWSCredentialsResolver) Resolve(state FetchAWSCredentialsState, evt machine.Event) machine.Resolution[FetchAWSCredentialsState, *Environment] {
	switch state.(type) {
	case AWSCredentialsConfiguring:
		if e, ok := evt.(FetchAWSCredentials); ok {
			return resolved[FetchAWSCredentialsState](
				AWSCredentialsFetching{IdentityID: e.IdentityID},
				GetAWSCredentials{FetchID: e.FetchID, Input: e.Input, IdentityID: e.IdentityID},
			)
		}
	case AWSCredentialsFetching:
		switch e := evt.(type) {
		case AWSCredentialsFetched:
			return resolved[FetchAWSCredentialsState](AWSCredentialsFetchedState{Credentials: e.Credentials})
		case AWSCredentialsFailed:
			return resolved[FetchAWSCredentialsState](AWSCredentialsError{Err: e.Err, Previous: state, Event: evt.Type()})
		}
	}
	return ignored(state)
}
