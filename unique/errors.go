package unique

import (
	"context"
	"errors"
	"fmt"
)

// Translation pipeline failures. These never reach the caller of a write;
// they are reported through the logger and Observer while the original
// driver error is propagated.
var (
	ErrUnrecognizedPattern = errors.New("unique: unrecognized duplicate key diagnostic")
	ErrIndexNotFound       = errors.New("unique: index not found")
	ErrRegistryFetch       = errors.New("unique: index introspection failed")
	ErrNoValues            = errors.New("unique: no duplicated values could be resolved")
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageDecompose  Stage = "decompose"
	StageLookup     Stage = "lookup"
	StageSynthesize Stage = "synthesize"
)

// TranslationError describes why a duplicate-key error could not be
// translated.
type TranslationError struct {
	Stage     Stage
	Namespace string
	Index     string
	Err       error
}

func (e *TranslationError) Error() string {
	if e.Index != "" {
		return fmt.Sprintf("unique: %s %s index %q: %v", e.Stage, e.Namespace, e.Index, e.Err)
	}
	return fmt.Sprintf("unique: %s %s: %v", e.Stage, e.Namespace, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// Reason returns a short, low-cardinality label for a translation failure.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnrecognizedPattern):
		return "unrecognized_pattern"
	case errors.Is(err, ErrIndexNotFound):
		return "index_not_found"
	case errors.Is(err, ErrRegistryFetch):
		return "registry_fetch"
	case errors.Is(err, ErrNoValues):
		return "no_values"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
