package ai

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable covers transport failures and provider-side errors.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrSchemaViolation marks output that does not conform to the grading schema.
	ErrSchemaViolation = errors.New("provider output violates grading schema")
	// ErrTimeout marks a provider call that exceeded its deadline.
	ErrTimeout = errors.New("provider timed out")
	// ErrNoProviders indicates the client was built without any provider.
	ErrNoProviders = errors.New("no grading providers configured")
)

// GradingError is a classified inference failure. Kind is one of the
// sentinel errors above and is matched with errors.Is.
type GradingError struct {
	Provider string
	Kind     error
	Err      error
}

func (e *GradingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *GradingError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// classify maps a raw provider error onto a GradingError.
func classify(ctx context.Context, provider string, err error) *GradingError {
	var gradingErr *GradingError
	if errors.As(err, &gradingErr) {
		return gradingErr
	}

	kind := ErrProviderUnavailable
	switch {
	case errors.Is(err, ErrSchemaViolation):
		kind = ErrSchemaViolation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = ErrTimeout
	}

	return &GradingError{Provider: provider, Kind: kind, Err: err}
}

func schemaViolation(provider string, format string, args ...interface{}) error {
	return &GradingError{Provider: provider, Kind: ErrSchemaViolation, Err: fmt.Errorf(format, args...)}
}

func kindLabel(kind error) string {
	switch {
	case errors.Is(kind, ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(kind, ErrTimeout):
		return "timeout"
	default:
		return "unavailable"
	}
}
