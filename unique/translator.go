package unique

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// State is the result class of one write attempt.
type State int

const (
	StateSuccess State = iota
	StateOrdinaryFailure
	StateDuplicateFailure
	StateTranslationFailed
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "success"
	case StateOrdinaryFailure:
		return "ordinary_failure"
	case StateDuplicateFailure:
		return "duplicate_failure"
	case StateTranslationFailed:
		return "translation_failed"
	default:
		return "unknown"
	}
}

// Outcome is the interceptor's view of a finished write.
type Outcome struct {
	State State

	// Err is what the caller should see: nil, the original error, or a
	// *ValidationError.
	Err error

	// Original is the error the write returned.
	Original error

	// Failure explains a StateTranslationFailed outcome.
	Failure *TranslationError
}

// Observer receives translation events, typically for metrics.
type Observer interface {
	Translated(namespace, index string, fields int)
	TranslationFailed(namespace string, err *TranslationError)
	Passthrough()
}

// Translator turns duplicate-key errors into validation errors.
type Translator struct {
	registry *Registry
	template string
	messages map[string]FieldMessages
	logger   *zap.Logger
	observer Observer
}

// Option configures a Translator.
type Option func(*Translator)

// WithDefaultMessage sets the template used for fields without a custom
// message.
func WithDefaultMessage(tmpl string) Option {
	return func(t *Translator) {
		if tmpl != "" {
			t.template = tmpl
		}
	}
}

// WithFieldMessages registers the custom messages of one namespace.
func WithFieldMessages(namespace string, msgs FieldMessages) Option {
	return func(t *Translator) { t.messages[namespace] = msgs }
}

// WithLogger sets the logger translation failures are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(t *Translator) { t.observer = o }
}

// New returns a Translator resolving indexes through registry.
func New(registry *Registry, opts ...Option) *Translator {
	t := &Translator{
		registry: registry,
		template: DefaultMessage,
		messages: make(map[string]FieldMessages),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Registry returns the index registry the translator uses.
func (t *Translator) Registry() *Registry { return t.registry }

// SetFieldMessages registers or replaces the custom messages of a
// namespace. It must not be called concurrently with writes.
func (t *Translator) SetFieldMessages(namespace string, msgs FieldMessages) {
	t.messages[namespace] = msgs
}

// Translate returns the error a caller should see for a write on namespace
// that returned err. values are the fields the write submitted; they may
// be nil.
func (t *Translator) Translate(ctx context.Context, namespace string, err error, values Values) error {
	return t.Intercept(ctx, namespace, err, values).Err
}

// ValuesFunc computes the values a failed write submitted. It is called
// only for duplicate-key errors, with the classified violation.
type ValuesFunc func(v *Violation) Values

// Intercept classifies err and, for duplicate-key errors, builds a
// *ValidationError. When translation fails the original error is kept and
// the failure is logged and reported to the Observer.
func (t *Translator) Intercept(ctx context.Context, namespace string, err error, values Values) Outcome {
	return t.InterceptWith(ctx, namespace, err, func(*Violation) Values { return values })
}

// InterceptWith is Intercept with the submitted values computed on demand,
// so ordinary failures never pay for extracting them.
func (t *Translator) InterceptWith(ctx context.Context, namespace string, err error, values ValuesFunc) Outcome {
	if err == nil {
		return Outcome{State: StateSuccess}
	}

	// Already translated; Classify would otherwise find the cause.
	if _, ok := AsValidationError(err); ok {
		return Outcome{State: StateDuplicateFailure, Err: err, Original: err}
	}

	v, ok := Classify(err)
	if !ok {
		if t.observer != nil {
			t.observer.Passthrough()
		}
		return Outcome{State: StateOrdinaryFailure, Err: err, Original: err}
	}

	var submitted Values
	if values != nil {
		submitted = values(v)
	}
	verr, terr := t.translate(ctx, namespace, v, submitted)
	if terr != nil {
		t.logger.Warn("duplicate key error not translated",
			zap.String("namespace", terr.Namespace),
			zap.String("index", terr.Index),
			zap.String("stage", string(terr.Stage)),
			zap.String("reason", Reason(terr.Err)),
			zap.Int("code", v.Code),
			zap.Error(terr.Err),
		)
		if t.observer != nil {
			t.observer.TranslationFailed(terr.Namespace, terr)
		}
		return Outcome{State: StateTranslationFailed, Err: err, Original: err, Failure: terr}
	}

	return Outcome{State: StateDuplicateFailure, Err: verr, Original: err}
}

func (t *Translator) translate(ctx context.Context, namespace string, v *Violation, values Values) (*ValidationError, *TranslationError) {
	diag, err := ParseDiagnostic(v.Message)
	if err != nil {
		return nil, &TranslationError{Stage: StageDecompose, Namespace: namespace, Err: err}
	}
	if namespace == "" {
		namespace = diag.Namespace
	}

	desc, err := t.registry.Lookup(ctx, namespace, diag.Index)
	if err != nil {
		return nil, &TranslationError{Stage: StageLookup, Namespace: namespace, Index: diag.Index, Err: err}
	}

	sources := []Values{
		values,
		v.KeyValues,
		v.Operation,
		textualValues(desc, ParseKeyValues(diag.KeyBody)),
	}
	verr := Synthesize(desc, sources, t.messages[namespace], t.template)
	if len(verr.Errors) == 0 {
		return nil, &TranslationError{Stage: StageSynthesize, Namespace: namespace, Index: diag.Index, Err: ErrNoValues}
	}
	verr.Cause = v.Err

	t.logger.Debug("duplicate key error translated",
		zap.String("namespace", namespace),
		zap.String("index", desc.Name),
		zap.Strings("paths", verr.Paths()),
	)
	if t.observer != nil {
		t.observer.Translated(namespace, desc.Name, len(verr.Errors))
	}
	return verr, nil
}

// AsValidationError reports whether err is (or wraps) a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
