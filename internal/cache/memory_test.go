package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestMemoryProviderExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewMemoryProvider(clock.Now)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	clock.now = clock.now.Add(time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Zero(t, c.Len())
}

func TestMemoryProviderSetNXAndClear(t *testing.T) {
	c := NewMemoryProvider(nil)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", []byte("a"), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", []byte("b"), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	c.Clear()
	_, err = c.Get(ctx, "lock")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestJSONHelpers(t *testing.T) {
	c := NewMemoryProvider(nil)
	ctx := context.Background()

	type payload struct{ Mean float64 }
	require.NoError(t, SetJSON(ctx, c, "stats", payload{Mean: 2.5}, 0))

	var out payload
	require.NoError(t, GetJSON(ctx, c, "stats", &out))
	assert.Equal(t, 2.5, out.Mean)

	require.NoError(t, c.Set(ctx, "broken", []byte("{"), 0))
	assert.ErrorIs(t, GetJSON(ctx, c, "broken", &out), ErrCacheMiss)
	assert.ErrorIs(t, GetJSON(ctx, NoopProvider{}, "stats", &out), ErrCacheMiss)
}
