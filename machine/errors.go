package machine

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeMachineStopped = "MACHINE_STOPPED"
	ErrCodeEventIgnored   = "MACHINE_EVENT_IGNORED"
	ErrCodeWaitCanceled   = "MACHINE_WAIT_CANCELED"
)

var (
	ErrMachineStopped = apperrors.New("state machine stopped", apperrors.CategoryConflict).
				WithTextCode(ErrCodeMachineStopped)
	ErrEventIgnored = apperrors.New("event ignored in current state", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeEventIgnored)
	ErrWaitCanceled = apperrors.New("wait canceled", apperrors.CategoryConflict).
			WithTextCode(ErrCodeWaitCanceled)
)

// CloneError copies base and overrides message, source and metadata when set.
func CloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrEventIgnored
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code of the first go-errors error in the chain.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether err carries code.
func HasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}
