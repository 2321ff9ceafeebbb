package rules

import "github.com/pkg/errors"

// Error kinds from spec.md §7, realized as sentinels so callers can
// errors.Is/errors.As regardless of the wrapping message.
var (
	ErrLockTimeout    = errors.New("rules: lock acquisition timed out")
	ErrPredicateError = errors.New("rules: predicate evaluation failed")
	ErrInvocationError = errors.New("rules: action invocation failed")
	ErrTimeoutFailed  = errors.New("rules: action timed out")
	ErrValidationError = errors.New("rules: rule validation failed")
	ErrNotFound       = errors.New("rules: not found")
	ErrAlreadyExists  = errors.New("rules: already exists")
)
