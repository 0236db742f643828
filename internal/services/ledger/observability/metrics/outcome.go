package metrics

import (
	apperrors "github.com/louisbranch/brigade/internal/platform/errors"
)

// OutcomeOf maps an operation error to an outcome label.
func OutcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindConflict:
		return OutcomeConflict
	case apperrors.KindValidation, apperrors.KindInsufficientFunds:
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}
