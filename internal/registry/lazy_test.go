package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazy(t *testing.T) {
	ctx := context.Background()

	t.Run("loads once", func(t *testing.T) {
		calls := 0
		l := NewLazy("counter", 0, func(ctx context.Context) (int, error) {
			calls++
			return calls, nil
		})

		assert.True(t, l.RefreshedAt().IsZero())
		v, err := l.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, v)

		v, err = l.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		assert.Equal(t, 1, calls)
		assert.False(t, l.RefreshedAt().IsZero())
	})

	t.Run("reloads after max age", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		calls := 0
		l := NewLazy("aged", 5*time.Minute, func(ctx context.Context) (int, error) {
			calls++
			return calls, nil
		})
		l.now = func() time.Time { return now }

		v, _ := l.Get(ctx)
		assert.Equal(t, 1, v)

		now = now.Add(4 * time.Minute)
		v, _ = l.Get(ctx)
		assert.Equal(t, 1, v)

		now = now.Add(time.Minute)
		v, _ = l.Get(ctx)
		assert.Equal(t, 2, v)
	})

	t.Run("invalidate reloads and evicts", func(t *testing.T) {
		calls := 0
		var evicted []int
		l := NewLazy("evicting", 0, func(ctx context.Context) (int, error) {
			calls++
			return calls, nil
		})
		l.OnEvict(func(old int) { evicted = append(evicted, old) })

		_, _ = l.Get(ctx)
		l.Invalidate()
		assert.True(t, l.RefreshedAt().IsZero())

		v, _ := l.Get(ctx)
		assert.Equal(t, 2, v)
		assert.Equal(t, []int{1}, evicted)
	})

	t.Run("load error is returned", func(t *testing.T) {
		l := NewLazy("broken", 0, func(ctx context.Context) (int, error) {
			return 0, errors.New("no credentials")
		})
		_, err := l.Get(ctx)
		assert.ErrorContains(t, err, "load broken")
	})
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	a := NewLazy("a", 0, func(ctx context.Context) (string, error) { return "a", nil })
	b := NewLazy("b", 0, func(ctx context.Context) (string, error) { return "b", nil })
	_, _ = a.Get(ctx)
	_, _ = b.Get(ctx)

	reg := New()
	reg.Register(a)
	reg.Register(b)

	status := reg.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "a", status[0].Name)

	assert.Equal(t, []string{"a"}, reg.Invalidate("a", "missing"))
	assert.True(t, a.RefreshedAt().IsZero())
	assert.False(t, b.RefreshedAt().IsZero())

	assert.Equal(t, []string{"a", "b"}, reg.Invalidate())
	assert.True(t, b.RefreshedAt().IsZero())
}
