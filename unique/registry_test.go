package unique

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/dupkey/pantry/cache"
)

type countingSource struct {
	calls atomic.Int32
	gate  chan struct{}
	set   IndexSet
	err   error
}

func (s *countingSource) Indexes(ctx context.Context, namespace string) (IndexSet, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.set, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) IndexLookup(result string) {
	o.mu.Lock()
	o.results = append(o.results, result)
	o.mu.Unlock()
}

func (o *recordingObserver) count(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.results {
		if r == result {
			n++
		}
	}
	return n
}

func usersIndexes() IndexSet {
	return IndexSet{
		"_id_":   {Name: "_id_", Fields: []string{"_id"}, Unique: true},
		"name_1": {Name: "name_1", Fields: []string{"name"}, Unique: true},
	}
}

func TestRegistry_CachesAfterFirstLookup(t *testing.T) {
	src := &countingSource{set: usersIndexes()}
	obs := &recordingObserver{}
	r := NewRegistry(src, WithRegistryObserver(obs))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := r.Lookup(ctx, "test.users", "name_1")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if len(d.Fields) != 1 || d.Fields[0] != "name" {
			t.Fatalf("descriptor = %+v", d)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("introspection calls = %d, want 1", n)
	}
	if obs.count(LookupMiss) != 1 || obs.count(LookupHit) != 2 {
		t.Errorf("observer = %v", obs.results)
	}
}

func TestRegistry_ConcurrentLookupsShareIntrospection(t *testing.T) {
	src := &countingSource{set: usersIndexes(), gate: make(chan struct{})}
	r := NewRegistry(src)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Indexes(context.Background(), "test.users")
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Indexes: %v", err)
		}
	}
	if c := src.calls.Load(); c != 1 {
		t.Errorf("introspection calls = %d, want 1", c)
	}
}

func TestRegistry_CanceledCallerStillPopulates(t *testing.T) {
	src := &countingSource{set: usersIndexes(), gate: make(chan struct{})}
	r := NewRegistry(src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Indexes(ctx, "test.users")
		done <- err
	}()
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Indexes err = %v, want context.Canceled", err)
	}

	close(src.gate)
	set, err := r.Indexes(context.Background(), "test.users")
	if err != nil {
		t.Fatalf("Indexes after cancel: %v", err)
	}
	if _, ok := set["name_1"]; !ok {
		t.Errorf("set = %v", set)
	}
	if c := src.calls.Load(); c != 1 {
		t.Errorf("introspection calls = %d, want 1", c)
	}
}

func TestRegistry_FetchErrorNotCached(t *testing.T) {
	boom := errors.New("connection refused")
	src := &countingSource{err: boom}
	r := NewRegistry(src)
	ctx := context.Background()

	_, err := r.Indexes(ctx, "test.users")
	if !errors.Is(err, ErrRegistryFetch) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrRegistryFetch wrapping the source error", err)
	}
	_, _ = r.Indexes(ctx, "test.users")
	if c := src.calls.Load(); c != 2 {
		t.Errorf("failures must not be cached: calls = %d, want 2", c)
	}
}

func TestRegistry_UnknownIndex(t *testing.T) {
	r := NewRegistry(&countingSource{set: usersIndexes()})
	_, err := r.Lookup(context.Background(), "test.users", "email_1")
	if !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("err = %v, want ErrIndexNotFound", err)
	}
}

func TestRegistry_ForgetAndReset(t *testing.T) {
	src := &countingSource{set: usersIndexes()}
	r := NewRegistry(src)
	ctx := context.Background()

	_, _ = r.Indexes(ctx, "test.users")
	_, _ = r.Indexes(ctx, "test.orders")
	r.Forget("test.users")
	_, _ = r.Indexes(ctx, "test.users")
	_, _ = r.Indexes(ctx, "test.orders")
	if c := src.calls.Load(); c != 3 {
		t.Fatalf("calls after Forget = %d, want 3", c)
	}

	r.Reset()
	_, _ = r.Indexes(ctx, "test.orders")
	if c := src.calls.Load(); c != 4 {
		t.Errorf("calls after Reset = %d, want 4", c)
	}
}

func TestRegistry_SharedTier(t *testing.T) {
	shared := cache.NewMemory()
	ctx := context.Background()

	first := &countingSource{set: usersIndexes()}
	r1 := NewRegistry(first, WithSharedCache(shared, time.Minute))
	if _, err := r1.Indexes(ctx, "test.users"); err != nil {
		t.Fatalf("r1: %v", err)
	}

	second := &countingSource{err: errors.New("should not be called")}
	obs := &recordingObserver{}
	r2 := NewRegistry(second, WithSharedCache(shared, time.Minute), WithRegistryObserver(obs))
	d, err := r2.Lookup(ctx, "test.users", "name_1")
	if err != nil {
		t.Fatalf("r2: %v", err)
	}
	if d.Fields[0] != "name" {
		t.Errorf("descriptor = %+v", d)
	}
	if second.calls.Load() != 0 {
		t.Errorf("second registry introspected despite shared hit")
	}
	if obs.count(LookupShared) != 1 {
		t.Errorf("observer = %v", obs.results)
	}
}

func TestRegistry_InvalidateClearsSharedTier(t *testing.T) {
	shared := cache.NewMemory()
	ctx := context.Background()
	src := &countingSource{set: usersIndexes()}
	r := NewRegistry(src, WithSharedCache(shared, 0))

	_, _ = r.Indexes(ctx, "test.users")
	if shared.Len() != 1 {
		t.Fatalf("shared entries = %d, want 1", shared.Len())
	}
	if err := r.Invalidate(ctx, "test.users"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if shared.Len() != 0 {
		t.Errorf("shared entry not removed")
	}
	_, _ = r.Indexes(ctx, "test.users")
	if c := src.calls.Load(); c != 2 {
		t.Errorf("calls = %d, want 2", c)
	}
}
