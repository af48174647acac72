package auth

import (
	"context"
	stderrors "errors"

	"github.com/goliatone/go-authstate/cognito"
	"github.com/goliatone/go-authstate/machine"
	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeConfiguration      = "AUTH_CONFIGURATION"
	ErrCodeService            = "AUTH_SERVICE"
	ErrCodeInvalidResponse    = "AUTH_INVALID_RESPONSE"
	ErrCodeNotAuthorized      = "AUTH_NOT_AUTHORIZED"
	ErrCodeCodeMismatch       = "AUTH_CODE_MISMATCH"
	ErrCodeSignedOut          = "AUTH_SIGNED_OUT"
	ErrCodeSessionExpired     = "AUTH_SESSION_EXPIRED"
	ErrCodeSessionUnavailable = "AUTH_SESSION_UNAVAILABLE"
	ErrCodeInvalidState       = "AUTH_INVALID_STATE"
	ErrCodeInvalidInput       = "AUTH_INVALID_INPUT"
	ErrCodeCanceled           = "AUTH_CANCELED"
	ErrCodeCredentialStore    = "AUTH_CREDENTIAL_STORE"
)

var (
	ErrConfiguration = apperrors.New("auth is not configured correctly", apperrors.CategoryValidation).
				WithTextCode(ErrCodeConfiguration)
	ErrService = apperrors.New("identity service call failed", apperrors.CategoryExternal).
			WithTextCode(ErrCodeService)
	ErrInvalidResponse = apperrors.New("identity service returned an unexpected response", apperrors.CategoryExternal).
				WithTextCode(ErrCodeInvalidResponse)
	ErrNotAuthorized = apperrors.New("not authorized", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeNotAuthorized)
	ErrCodeMismatch = apperrors.New("challenge answer was rejected", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeCodeMismatch)
	ErrSignedOut = apperrors.New("no user is signed in", apperrors.CategoryConflict).
			WithTextCode(ErrCodeSignedOut)
	ErrSessionExpired = apperrors.New("session has expired", apperrors.CategoryConflict).
				WithTextCode(ErrCodeSessionExpired)
	ErrSessionUnavailable = apperrors.New("session is not established", apperrors.CategoryConflict).
				WithTextCode(ErrCodeSessionUnavailable)
	ErrInvalidState = apperrors.New("operation not allowed in current state", apperrors.CategoryConflict).
			WithTextCode(ErrCodeInvalidState)
	ErrInvalidInput = apperrors.New("invalid input", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeInvalidInput)
	ErrCanceled = apperrors.New("operation canceled", apperrors.CategoryConflict).
			WithTextCode(ErrCodeCanceled)
	ErrCredentialStore = apperrors.New("credential store failure", apperrors.CategoryExternal).
				WithTextCode(ErrCodeCredentialStore)
)

// NewError clones base for one occurrence in flow.
func NewError(base *apperrors.Error, flow, message string, cause error) *apperrors.Error {
	var metadata map[string]any
	if flow != "" {
		metadata = map[string]any{"flow": flow}
	}
	return machine.CloneError(base, message, cause, metadata)
}

// ServiceError maps a failed collaborator call to a typed auth error.
func ServiceError(flow string, err error) *apperrors.Error {
	if err == nil {
		return nil
	}
	var existing *apperrors.Error
	if stderrors.As(err, &existing) && existing.TextCode != "" {
		return existing
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrCanceled, flow, "", err)
	}

	code := cognito.CodeOf(err)
	base := ErrService
	switch code {
	case cognito.CodeNotAuthorized, cognito.CodeUserNotFound, cognito.CodeTooManyFailedAttempts:
		base = ErrNotAuthorized
	case cognito.CodeCodeMismatch, cognito.CodeExpiredCode:
		base = ErrCodeMismatch
	}
	metadata := map[string]any{}
	if flow != "" {
		metadata["flow"] = flow
	}
	if code != "" {
		metadata["service_code"] = code
	}
	return machine.CloneError(base, err.Error(), err, metadata)
}

// ErrorCode returns the text code carried by err.
func ErrorCode(err error) string {
	return machine.ErrorCode(err)
}
