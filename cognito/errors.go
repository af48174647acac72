package cognito

import (
	stderrors "errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"
)

// Service error codes the auth flows branch on.
const (
	CodeNotAuthorized         = "NotAuthorizedException"
	CodeUserNotFound          = "UserNotFoundException"
	CodeUserNotConfirmed      = "UserNotConfirmedException"
	CodeCodeMismatch          = "CodeMismatchException"
	CodeExpiredCode           = "ExpiredCodeException"
	CodePasswordReset         = "PasswordResetRequiredException"
	CodeTooManyRequests       = "TooManyRequestsException"
	CodeLimitExceeded         = "LimitExceededException"
	CodeInternalError         = "InternalErrorException"
	CodeInvalidParameter      = "InvalidParameterException"
	CodeResourceNotFound      = "ResourceNotFoundException"
	CodeTooManyFailedAttempts = "TooManyFailedAttemptsException"
)

// ServiceError is a failed call to a user pool or identity pool endpoint.
type ServiceError struct {
	Operation string
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("cognito %s: %s: %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("cognito %s: %s", e.Operation, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// NewServiceError classifies err returned by operation.
func NewServiceError(operation string, err error) *ServiceError {
	if err == nil {
		return nil
	}
	var existing *ServiceError
	if stderrors.As(err, &existing) {
		return existing
	}
	se := &ServiceError{Operation: operation, Message: err.Error(), Err: err}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		se.Code = apiErr.ErrorCode()
		se.Message = apiErr.ErrorMessage()
		se.Retryable = isRetryableCode(se.Code) || apiErr.ErrorFault() == smithy.FaultServer
		return se
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		se.Retryable = true
	}
	return se
}

// CodeOf returns the service error code carried by err, if any.
func CodeOf(err error) string {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se.Code
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return false
}

func isRetryableCode(code string) bool {
	switch code {
	case CodeTooManyRequests, CodeLimitExceeded, CodeInternalError:
		return true
	default:
		return false
	}
}
