package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Lazy holds a process-wide value built on first use. The value is shared
// read-only between connections; a refresh builds a new value and swaps it
// in, it never mutates the old one.
type Lazy[T any] struct {
	name   string
	load   func(ctx context.Context) (T, error)
	maxAge time.Duration
	now    func() time.Time

	mu          sync.Mutex
	value       T
	loaded      bool
	refreshedAt time.Time
	onEvict     []func(old T)
}

// NewLazy returns a Lazy that calls load on first Get and again once the
// value is older than maxAge. A zero maxAge keeps the value until
// Invalidate.
func NewLazy[T any](name string, maxAge time.Duration, load func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{name: name, load: load, maxAge: maxAge, now: time.Now}
}

func (l *Lazy[T]) Name() string {
	return l.name
}

// Get returns the current value, loading it if absent or stale. A failed
// refresh of a stale value returns the error and keeps the old value for
// the next attempt.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded && (l.maxAge == 0 || l.now().Sub(l.refreshedAt) < l.maxAge) {
		return l.value, nil
	}

	value, err := l.load(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("load %s: %w", l.name, err)
	}

	old, hadOld := l.value, l.loaded
	l.value = value
	l.loaded = true
	l.refreshedAt = l.now()
	if hadOld {
		l.evict(old)
	}
	log.Debug().Str("singleton", l.name).Msg("loaded shared value")
	return value, nil
}

// RefreshedAt reports when the current value was loaded; zero if never.
func (l *Lazy[T]) RefreshedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshedAt
}

// Invalidate drops the value so the next Get reloads it.
func (l *Lazy[T]) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		return
	}
	old := l.value
	var zero T
	l.value = zero
	l.loaded = false
	l.refreshedAt = time.Time{}
	l.evict(old)
}

// OnEvict registers fn to run with every value that gets replaced or
// invalidated, for example to close a client once readers are done.
func (l *Lazy[T]) OnEvict(fn func(old T)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEvict = append(l.onEvict, fn)
}

func (l *Lazy[T]) evict(old T) {
	for _, fn := range l.onEvict {
		fn(old)
	}
}

// Invalidator is the part of Lazy the Registry needs.
type Invalidator interface {
	Name() string
	Invalidate()
	RefreshedAt() time.Time
}

// Registry indexes singletons by name for admin invalidation.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Invalidator
}

func New() *Registry {
	return &Registry{items: make(map[string]Invalidator)}
}

func (r *Registry) Register(item Invalidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.Name()] = item
}

// Invalidate drops the named singletons, or all of them when names is
// empty. It returns the names that were found.
func (r *Registry) Invalidate(names ...string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		for name := range r.items {
			names = append(names, name)
		}
	}

	var done []string
	for _, name := range names {
		item, ok := r.items[name]
		if !ok {
			continue
		}
		item.Invalidate()
		done = append(done, name)
	}
	sort.Strings(done)
	log.Info().Strs("singletons", done).Msg("invalidated shared values")
	return done
}

// Status describes one registered singleton.
type Status struct {
	Name        string    `json:"name"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

func (r *Registry) Status() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.items))
	for name, item := range r.items {
		out = append(out, Status{Name: name, RefreshedAt: item.RefreshedAt()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
