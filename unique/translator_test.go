package unique

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/dalemusser/dupkey/schema"
	"go.mongodb.org/mongo-driver/mongo"
)

const usersNS = "test.users"

func testIndexes() IndexSet {
	return IndexSet{
		"_id_":             {Name: "_id_", Fields: []string{"_id"}, Unique: true},
		"address_1":        {Name: "address_1", Fields: []string{"address"}, Unique: true},
		"name_1_age_1":     {Name: "name_1_age_1", Fields: []string{"name", "age"}, Unique: true},
		"display name_1":   {Name: "display name_1", Fields: []string{"display name"}, Unique: true},
		"profile.handle_1": {Name: "profile.handle_1", Fields: []string{"profile.handle"}, Unique: true},
	}
}

type fakeObserver struct {
	mu          sync.Mutex
	translated  int
	failed      []*TranslationError
	passthrough int
}

func (o *fakeObserver) Translated(string, string, int) {
	o.mu.Lock()
	o.translated++
	o.mu.Unlock()
}

func (o *fakeObserver) TranslationFailed(_ string, err *TranslationError) {
	o.mu.Lock()
	o.failed = append(o.failed, err)
	o.mu.Unlock()
}

func (o *fakeObserver) Passthrough() {
	o.mu.Lock()
	o.passthrough++
	o.mu.Unlock()
}

func newTestTranslator(opts ...Option) *Translator {
	src := IntrospectorFunc(func(ctx context.Context, ns string) (IndexSet, error) {
		return testIndexes(), nil
	})
	return New(NewRegistry(src), opts...)
}

func dupErr(msg string) error {
	return mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: msg}}}
}

func TestTranslate_SingleFieldDefaultMessage(t *testing.T) {
	tr := newTestTranslator()
	err := dupErr(`E11000 duplicate key error collection: test.users index: address_1 dup key: { address: "123 Fake St." }`)

	got := tr.Translate(context.Background(), usersNS, err, Values{"address": "123 Fake St."})

	verr, ok := AsValidationError(got)
	if !ok {
		t.Fatalf("Translate = %v, want *ValidationError", got)
	}
	if len(verr.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", verr.Errors)
	}
	fe := verr.Errors["address"]
	if fe == nil {
		t.Fatal("no sub-error for address")
	}
	if fe.Kind != KindDuplicate || fe.Path != "address" || fe.Value != "123 Fake St." {
		t.Errorf("field error = %+v", fe)
	}
	if want := "Path `address` (123 Fake St.) is not unique."; fe.Message != want {
		t.Errorf("message = %q, want %q", fe.Message, want)
	}

	var wex mongo.WriteException
	if !errors.As(got, &wex) {
		t.Errorf("validation error should unwrap to the driver error")
	}
}

func TestTranslate_CompoundCustomMessage(t *testing.T) {
	s := &schema.Schema{Indexes: []schema.Index{
		{Fields: []string{"name", "age"}, Unique: schema.UniqueMessage("yet another custom message")},
	}}
	tr := newTestTranslator(WithFieldMessages(usersNS, NewFieldMessages(s)))
	err := dupErr(`E11000 duplicate key error collection: test.users index: name_1_age_1 dup key: { name: "John Doe", age: 42 }`)

	got := tr.Translate(context.Background(), usersNS, err, Values{"name": "John Doe", "age": 42})

	verr, ok := AsValidationError(got)
	if !ok {
		t.Fatalf("Translate = %v, want *ValidationError", got)
	}
	if paths := verr.Paths(); !reflect.DeepEqual(paths, []string{"age", "name"}) {
		t.Fatalf("paths = %v, want [age name]", paths)
	}
	for _, p := range []string{"name", "age"} {
		if msg := verr.Errors[p].Message; msg != "yet another custom message" {
			t.Errorf("%s message = %q", p, msg)
		}
	}
	if verr.Errors["age"].Value != 42 {
		t.Errorf("age value = %v, want the caller's 42", verr.Errors["age"].Value)
	}
}

func TestTranslate_PathsPreserved(t *testing.T) {
	tr := newTestTranslator()
	ctx := context.Background()

	tests := []struct {
		msg    string
		values Values
		path   string
	}{
		{
			msg:    `E11000 duplicate key error collection: test.users index: display name_1 dup key: { display name: "Al" }`,
			values: Values{"display name": "Al"},
			path:   "display name",
		},
		{
			msg:    `E11000 duplicate key error collection: test.users index: profile.handle_1 dup key: { profile.handle: "al" }`,
			values: Values{"profile.handle": "al"},
			path:   "profile.handle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			verr, ok := AsValidationError(tr.Translate(ctx, usersNS, dupErr(tt.msg), tt.values))
			if !ok {
				t.Fatal("expected validation error")
			}
			if _, ok := verr.Errors[tt.path]; !ok || len(verr.Errors) != 1 {
				t.Errorf("errors = %v, want only %q", verr.Errors, tt.path)
			}
		})
	}
}

func TestTranslate_ValueSources(t *testing.T) {
	tr := newTestTranslator()
	ctx := context.Background()
	msg := `E11000 duplicate key error collection: test.users index: address_1 dup key: { address: "from text" }`

	// No caller values: the diagnostic text supplies the value.
	verr, ok := AsValidationError(tr.Translate(ctx, usersNS, dupErr(msg), nil))
	if !ok || verr.Errors["address"].Value != "from text" {
		t.Fatalf("textual fallback failed: %v", verr)
	}

	// Caller values take precedence over the text.
	verr, _ = AsValidationError(tr.Translate(ctx, usersNS, dupErr(msg), Values{"address": "from caller"}))
	if verr.Errors["address"].Value != "from caller" {
		t.Errorf("value = %v, want from caller", verr.Errors["address"].Value)
	}
}

func TestTranslate_NamespaceFromDiagnostic(t *testing.T) {
	tr := newTestTranslator()
	err := dupErr(`E11000 duplicate key error collection: test.users index: address_1 dup key: { address: "x" }`)
	if _, ok := AsValidationError(tr.Translate(context.Background(), "", err, nil)); !ok {
		t.Error("empty namespace should fall back to the reported one")
	}
}

func TestIntercept_OrdinaryErrorPassesThrough(t *testing.T) {
	obs := &fakeObserver{}
	tr := newTestTranslator(WithObserver(obs))
	orig := errors.New("type mismatch")

	out := tr.Intercept(context.Background(), usersNS, orig, nil)
	if out.State != StateOrdinaryFailure {
		t.Errorf("State = %v", out.State)
	}
	if out.Err != orig {
		t.Errorf("Err = %v, want the identical error", out.Err)
	}
	if obs.passthrough != 1 {
		t.Errorf("passthrough = %d", obs.passthrough)
	}

	wex := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 2, Message: "bad value"}}}
	got := tr.Translate(context.Background(), usersNS, wex, nil)
	var back mongo.WriteException
	if !errors.As(got, &back) || back.WriteErrors[0].Code != 2 {
		t.Errorf("non-duplicate write error modified: %v", got)
	}
}

func TestIntercept_Success(t *testing.T) {
	out := newTestTranslator().Intercept(context.Background(), usersNS, nil, nil)
	if out.State != StateSuccess || out.Err != nil {
		t.Errorf("out = %+v", out)
	}
}

func TestIntercept_TranslationFailureKeepsOriginal(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		values Values
		stage  Stage
		reason string
	}{
		{
			name:   "unrecognized diagnostic",
			msg:    "E11000 something the parser has never seen",
			stage:  StageDecompose,
			reason: "unrecognized_pattern",
		},
		{
			name:   "unknown index",
			msg:    `E11000 duplicate key error collection: test.users index: email_1 dup key: { email: "x" }`,
			stage:  StageLookup,
			reason: "index_not_found",
		},
		{
			name:   "no values",
			msg:    `E11000 duplicate key error collection: test.users index: name_1_age_1 dup key:`,
			stage:  StageSynthesize,
			reason: "no_values",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &fakeObserver{}
			tr := newTestTranslator(WithObserver(obs))

			out := tr.Intercept(context.Background(), usersNS, dupErr(tt.msg), tt.values)
			if out.State != StateTranslationFailed {
				t.Fatalf("State = %v, want translation_failed", out.State)
			}
			if _, ok := AsValidationError(out.Err); ok {
				t.Fatal("failed translation must not produce a validation error")
			}
			if !IsDuplicateKeyError(out.Err) {
				t.Errorf("original duplicate error not propagated: %v", out.Err)
			}
			if out.Failure == nil || out.Failure.Stage != tt.stage {
				t.Errorf("Failure = %+v, want stage %s", out.Failure, tt.stage)
			}
			if r := Reason(out.Failure); r != tt.reason {
				t.Errorf("Reason = %q, want %q", r, tt.reason)
			}
			if len(obs.failed) != 1 {
				t.Errorf("observer failures = %d", len(obs.failed))
			}
		})
	}
}

func TestIntercept_RegistryFetchFailureKeepsOriginal(t *testing.T) {
	fetchErr := errors.New("listIndexes: connection refused")
	src := IntrospectorFunc(func(context.Context, string) (IndexSet, error) {
		return nil, fetchErr
	})
	obs := &fakeObserver{}
	tr := New(NewRegistry(src), WithObserver(obs))
	orig := dupErr(`E11000 duplicate key error collection: test.users index: address_1 dup key: { address: "x" }`)

	out := tr.Intercept(context.Background(), usersNS, orig, Values{"address": "x"})
	if out.State != StateTranslationFailed {
		t.Fatalf("State = %v, want translation_failed", out.State)
	}
	if !reflect.DeepEqual(out.Err, orig) {
		t.Errorf("Err = %v, want the original write error", out.Err)
	}
	if out.Failure == nil || out.Failure.Stage != StageLookup {
		t.Fatalf("Failure = %+v, want stage %s", out.Failure, StageLookup)
	}
	if r := Reason(out.Failure); r != "registry_fetch" {
		t.Errorf("Reason = %q, want registry_fetch", r)
	}
	if !errors.Is(out.Failure, fetchErr) {
		t.Errorf("Failure does not wrap the fetch error: %v", out.Failure)
	}
	if len(obs.failed) != 1 {
		t.Errorf("observer failures = %d", len(obs.failed))
	}
}

func TestIntercept_CollatedIndex(t *testing.T) {
	tr := newTestTranslator()
	err := dupErr(`E11000 duplicate key error collection: test.users index: address_1 collation: { locale: "en", strength: 2 } dup key: { address: "1 Main St" }`)

	out := tr.Intercept(context.Background(), usersNS, err, nil)
	verr, ok := AsValidationError(out.Err)
	if !ok {
		t.Fatalf("State = %v, Failure = %v, want a validation error", out.State, out.Failure)
	}
	if fe := verr.Errors["address"]; fe == nil || fe.Value != "1 Main St" {
		t.Errorf("address = %+v", fe)
	}
}

func TestInterceptWith_ValuesOnlyForDuplicates(t *testing.T) {
	tr := newTestTranslator()
	ctx := context.Background()
	calls := 0
	values := func(*Violation) Values {
		calls++
		return Values{"address": "1 Main St"}
	}

	out := tr.InterceptWith(ctx, usersNS, errors.New("network down"), values)
	if out.State != StateOrdinaryFailure || calls != 0 {
		t.Errorf("ordinary failure: State = %v, calls = %d", out.State, calls)
	}

	err := dupErr(`E11000 duplicate key error collection: test.users index: address_1 dup key: { address: "x" }`)
	out = tr.InterceptWith(ctx, usersNS, err, values)
	if calls != 1 {
		t.Errorf("values computed %d times, want 1", calls)
	}
	verr, ok := AsValidationError(out.Err)
	if !ok || verr.Errors["address"].Value != "1 Main St" {
		t.Errorf("Err = %v", out.Err)
	}
}

func TestTranslate_Idempotent(t *testing.T) {
	tr := newTestTranslator()
	ctx := context.Background()
	msg := `E11000 duplicate key error collection: test.users index: name_1_age_1 dup key: { name: "John Doe", age: 42 }`
	values := Values{"name": "John Doe", "age": 42}

	first, _ := AsValidationError(tr.Translate(ctx, usersNS, dupErr(msg), values))
	for i := 0; i < 3; i++ {
		again, _ := AsValidationError(tr.Translate(ctx, usersNS, dupErr(msg), values))
		if !reflect.DeepEqual(first.Errors, again.Errors) {
			t.Fatalf("attempt %d differs: %v vs %v", i, first.Errors, again.Errors)
		}
	}

	// Feeding a translated error back in leaves it as is.
	out := tr.Intercept(ctx, usersNS, first, nil)
	if out.Err != error(first) {
		t.Errorf("re-intercept changed the error")
	}
}

func TestTranslate_DisjointValuesSucceed(t *testing.T) {
	tr := newTestTranslator()
	if err := tr.Translate(context.Background(), usersNS, nil, Values{"address": "1 Other Rd."}); err != nil {
		t.Errorf("successful write produced %v", err)
	}
}
