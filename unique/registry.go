package unique

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dalemusser/dupkey/pantry/cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// IndexDescriptor is the key composition of one index. Fields are in key
// pattern order.
type IndexDescriptor struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Unique bool     `json:"unique"`
}

// Has reports whether field is part of the index.
func (d IndexDescriptor) Has(field string) bool {
	for _, f := range d.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// IndexSet maps index names to descriptors for one collection.
type IndexSet map[string]IndexDescriptor

// Introspector lists the indexes of a collection namespace ("db.collection").
type Introspector interface {
	Indexes(ctx context.Context, namespace string) (IndexSet, error)
}

// IntrospectorFunc adapts a function to Introspector.
type IntrospectorFunc func(ctx context.Context, namespace string) (IndexSet, error)

func (f IntrospectorFunc) Indexes(ctx context.Context, namespace string) (IndexSet, error) {
	return f(ctx, namespace)
}

// Lookup results reported to a RegistryObserver.
const (
	LookupHit    = "hit"
	LookupShared = "shared"
	LookupMiss   = "miss"
	LookupError  = "error"
)

// RegistryObserver receives one event per Indexes call that resolves.
type RegistryObserver interface {
	IndexLookup(result string)
}

const (
	defaultLookupTimeout = 10 * time.Second
	sharedKeyPrefix      = "indexes:"
)

// Registry memoizes index descriptors per namespace. Entries are loaded on
// first use and kept until Forget or Reset. Concurrent first lookups for a
// namespace share a single introspection.
type Registry struct {
	source    Introspector
	shared    cache.Cache
	sharedTTL time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	observer  RegistryObserver

	mu      sync.RWMutex
	entries map[string]IndexSet
	group   singleflight.Group
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSharedCache adds a second tier, typically Redis, so several
// processes introspect each namespace once between them.
func WithSharedCache(c cache.Cache, ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.shared = c
		r.sharedTTL = ttl
	}
}

// WithLookupTimeout bounds a single introspection. The introspection runs
// detached from the caller's cancellation, so this is its only deadline.
func WithLookupTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRegistryLogger sets the logger used for shared-tier problems.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRegistryObserver reports hit/miss/error counts.
func WithRegistryObserver(o RegistryObserver) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry returns an empty registry backed by source.
func NewRegistry(source Introspector, opts ...RegistryOption) *Registry {
	r := &Registry{
		source:  source,
		timeout: defaultLookupTimeout,
		logger:  zap.NewNop(),
		entries: make(map[string]IndexSet),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Indexes returns the index set of namespace. Cached entries return without
// I/O. If ctx ends while an introspection is pending, Indexes returns
// ctx.Err(); the introspection still completes and populates the cache.
// The returned set must not be modified.
func (r *Registry) Indexes(ctx context.Context, namespace string) (IndexSet, error) {
	if set, ok := r.cached(namespace); ok {
		r.observe(LookupHit)
		return set, nil
	}

	ch := r.group.DoChan(namespace, func() (any, error) {
		return r.load(ctx, namespace)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(IndexSet), nil
	}
}

// Lookup returns the descriptor of a single index.
func (r *Registry) Lookup(ctx context.Context, namespace, index string) (IndexDescriptor, error) {
	set, err := r.Indexes(ctx, namespace)
	if err != nil {
		return IndexDescriptor{}, err
	}
	desc, ok := set[index]
	if !ok {
		return IndexDescriptor{}, fmt.Errorf("%w: %q on %s", ErrIndexNotFound, index, namespace)
	}
	return desc, nil
}

// Forget drops the cached entry for namespace.
func (r *Registry) Forget(namespace string) {
	r.mu.Lock()
	delete(r.entries, namespace)
	r.mu.Unlock()
}

// Invalidate forgets namespace and removes it from the shared tier, so
// the next lookup introspects again. Use it after creating indexes.
func (r *Registry) Invalidate(ctx context.Context, namespace string) error {
	r.Forget(namespace)
	if r.shared == nil {
		return nil
	}
	return r.shared.Delete(ctx, sharedKeyPrefix+namespace)
}

// Reset drops every cached entry.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.entries = make(map[string]IndexSet)
	r.mu.Unlock()
}

func (r *Registry) cached(namespace string) (IndexSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.entries[namespace]
	return set, ok
}

func (r *Registry) store(namespace string, set IndexSet) {
	r.mu.Lock()
	r.entries[namespace] = set
	r.mu.Unlock()
}

func (r *Registry) load(parent context.Context, namespace string) (IndexSet, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	defer cancel()

	if set, ok := r.cached(namespace); ok {
		r.observe(LookupHit)
		return set, nil
	}

	if set, ok := r.loadShared(ctx, namespace); ok {
		r.store(namespace, set)
		r.observe(LookupShared)
		return set, nil
	}

	set, err := r.source.Indexes(ctx, namespace)
	if err != nil {
		r.observe(LookupError)
		return nil, fmt.Errorf("%w: %s: %w", ErrRegistryFetch, namespace, err)
	}
	set = cloneSet(set)
	r.store(namespace, set)
	r.observe(LookupMiss)
	r.saveShared(ctx, namespace, set)
	return set, nil
}

func (r *Registry) loadShared(ctx context.Context, namespace string) (IndexSet, bool) {
	if r.shared == nil {
		return nil, false
	}
	descs, err := cache.GetJSON[[]IndexDescriptor](ctx, r.shared, sharedKeyPrefix+namespace)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			r.logger.Warn("shared index cache read failed",
				zap.String("namespace", namespace), zap.Error(err))
		}
		return nil, false
	}
	set := make(IndexSet, len(descs))
	for _, d := range descs {
		set[d.Name] = d
	}
	return set, true
}

func (r *Registry) saveShared(ctx context.Context, namespace string, set IndexSet) {
	if r.shared == nil {
		return
	}
	descs := make([]IndexDescriptor, 0, len(set))
	for _, d := range set {
		descs = append(descs, d)
	}
	if err := cache.SetJSON(ctx, r.shared, sharedKeyPrefix+namespace, descs, r.sharedTTL); err != nil {
		r.logger.Warn("shared index cache write failed",
			zap.String("namespace", namespace), zap.Error(err))
	}
}

func (r *Registry) observe(result string) {
	if r.observer != nil {
		r.observer.IndexLookup(result)
	}
}

func cloneSet(set IndexSet) IndexSet {
	out := make(IndexSet, len(set))
	for name, d := range set {
		if d.Name == "" {
			d.Name = name
		}
		d.Fields = append([]string(nil), d.Fields...)
		out[name] = d
	}
	return out
}
