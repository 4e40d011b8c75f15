package hsm

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeConfiguration    = "HSM_CONFIGURATION"
	ErrCodeInvalidUsage     = "HSM_INVALID_USAGE"
	ErrCodeEventNotAccepted = "HSM_EVENT_NOT_ACCEPTED"
	ErrCodeCallbackPanic    = "HSM_CALLBACK_PANIC"
)

var (
	ErrConfiguration = apperrors.New("invalid machine configuration", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeConfiguration)
	ErrInvalidUsage = apperrors.New("invalid usage", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeInvalidUsage)
	ErrEventNotAccepted = apperrors.New("event not accepted", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeEventNotAccepted)
	ErrCallbackPanic = apperrors.New("callback panicked", apperrors.CategoryHandler).
				WithTextCode(ErrCodeCallbackPanic)
)

func cloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrInvalidUsage
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

func errorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsConfigurationError reports whether err was produced by Finalize/Compile
// rejecting the declared graph.
func IsConfigurationError(err error) bool {
	return errorCode(err) == ErrCodeConfiguration
}

// IsEventNotAccepted reports whether err signals a fired event the current
// state has no transition for.
func IsEventNotAccepted(err error) bool {
	return errorCode(err) == ErrCodeEventNotAccepted
}

// IsInvalidUsage reports whether err signals a caller contract violation.
func IsInvalidUsage(err error) bool {
	return errorCode(err) == ErrCodeInvalidUsage
}
