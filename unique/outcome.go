package unique

import "context"

// Result carries a write's return value together with its outcome.
type Result[T any] struct {
	Value   T
	Err     error
	Outcome Outcome
}

// Run performs write and returns its value with the translated error.
func Run[T any](ctx context.Context, t *Translator, namespace string, values Values, write func(context.Context) (T, error)) (T, error) {
	v, err := write(ctx)
	return v, t.Translate(ctx, namespace, err, values)
}

// Go performs write in a new goroutine. The returned channel receives
// exactly one Result and is then closed.
func Go[T any](ctx context.Context, t *Translator, namespace string, values Values, write func(context.Context) (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := write(ctx)
		out := t.Intercept(ctx, namespace, err, values)
		ch <- Result[T]{Value: v, Err: out.Err, Outcome: out}
	}()
	return ch
}

// Callback performs write in a new goroutine and passes the value and the
// translated error to cb.
func Callback[T any](ctx context.Context, t *Translator, namespace string, values Values, write func(context.Context) (T, error), cb func(T, error)) {
	go func() {
		cb(Run(ctx, t, namespace, values, write))
	}()
}
