package pipeline

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeTransitionNotAllowed = "PIPELINE_TRANSITION_NOT_ALLOWED"
	ErrCodeConditionNotMet      = "PIPELINE_CONDITION_NOT_MET"
	ErrCodeStageNotFound        = "PIPELINE_STAGE_NOT_FOUND"
	ErrCodeEntityNotActive      = "PIPELINE_ENTITY_NOT_ACTIVE"
	ErrCodeUnknownStrategy      = "PIPELINE_UNKNOWN_STRATEGY"
	ErrCodeActionFailed         = "PIPELINE_ACTION_FAILED"
	ErrCodeVersionConflict      = "PIPELINE_VERSION_CONFLICT"
	ErrCodeBadDefinition        = "PIPELINE_BAD_DEFINITION"
)

var (
	// ErrTransitionNotAllowed rejects a transition with no configured rule.
	ErrTransitionNotAllowed = apperrors.New("transition not allowed", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeTransitionNotAllowed)
	// ErrConditionNotMet rejects a transition whose gating condition failed.
	ErrConditionNotMet = apperrors.New("condition not met", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeConditionNotMet)
	// ErrStageNotFound is a configuration error: the referenced stage does
	// not belong to the pipeline.
	ErrStageNotFound = apperrors.New("stage not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeStageNotFound)
	// ErrEntityNotActive rejects transitions on closed or cancelled entities.
	ErrEntityNotActive = apperrors.New("entity not active", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeEntityNotActive)
	// ErrUnknownStrategy is a configuration error, never a runtime fallback.
	ErrUnknownStrategy = apperrors.New("unknown assignment strategy", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeUnknownStrategy)
	// ErrActionFailed wraps a fail-fast action failure that aborted a transition.
	ErrActionFailed = apperrors.New("action failed", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeActionFailed)
	// ErrVersionConflict indicates a concurrent writer won the entity save.
	ErrVersionConflict = apperrors.New("version conflict", apperrors.CategoryConflict).
				WithTextCode(ErrCodeVersionConflict)
	// ErrBadDefinition rejects malformed pipeline configuration at load time.
	ErrBadDefinition = apperrors.New("bad pipeline definition", apperrors.CategoryValidation).
				WithTextCode(ErrCodeBadDefinition)
)

// CloneError derives a contextualized error from one of the sentinels,
// preserving its category and text code.
func CloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrBadDefinition
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

// ErrorCode extracts the text code from a pipeline error, or "".
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsCode reports whether err carries the given pipeline text code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// IsConfigError reports whether err is a configuration error rather than
// an expected business-rule rejection.
func IsConfigError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeStageNotFound, ErrCodeUnknownStrategy, ErrCodeBadDefinition:
		return true
	default:
		return false
	}
}
