package unique

import (
	"sort"
	"strings"
)

// KindDuplicate tags field errors produced from duplicate-key violations.
const KindDuplicate = "duplicate"

// FieldError is a single field failure.
type FieldError struct {
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string { return e.Message }

// ValidationError is a set of field failures keyed by field path. It has
// the same shape whether it comes from document validation or from a
// translated duplicate-key error.
type ValidationError struct {
	Errors map[string]*FieldError `json:"errors"`

	// Cause is the driver error the validation error was built from.
	Cause error `json:"-"`
}

// Paths returns the failing field paths in sorted order.
func (e *ValidationError) Paths() []string {
	paths := make([]string, 0, len(e.Errors))
	for p := range e.Errors {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, p := range e.Paths() {
		parts = append(parts, p+": "+e.Errors[p].Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// Synthesize builds one duplicate FieldError per index field, taking each
// value from the first source that has the exact path. Fields without a
// value in any source are left out.
func Synthesize(desc IndexDescriptor, sources []Values, messages FieldMessages, template string) *ValidationError {
	out := &ValidationError{Errors: make(map[string]*FieldError, len(desc.Fields))}
	for _, path := range desc.Fields {
		value, ok := firstValue(sources, path)
		if !ok {
			continue
		}
		out.Errors[path] = &FieldError{
			Kind:    KindDuplicate,
			Path:    path,
			Value:   value,
			Message: messages.Resolve(path, value, template),
		}
	}
	return out
}

func firstValue(sources []Values, path string) (any, bool) {
	for _, src := range sources {
		if v, ok := src.Lookup(path); ok {
			return v, true
		}
	}
	return nil, false
}
