package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetAndGet(t *testing.T) {
	mc := NewMemoryCache()
	ctx := context.Background()

	err := mc.Set(ctx, "key1", []byte("value1"), time.Hour)
	require.NoError(t, err)

	val, err := mc.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), val)
}

func TestMemoryCache_GetMiss(t *testing.T) {
	mc := NewMemoryCache()

	val, err := mc.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	mc := NewMemoryCache()
	ctx := context.Background()

	err := mc.Set(ctx, "key1", []byte("value1"), 50*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	val, err := mc.Get(ctx, "key1")
	assert.NoError(t, err)
	assert.Nil(t, val)
}

func TestMemoryCache_Delete(t *testing.T) {
	mc := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "key1", []byte("value1"), time.Hour))
	require.NoError(t, mc.Delete(ctx, "key1"))

	val, err := mc.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestDualCache_MemoryOnly(t *testing.T) {
	dc := NewDualCache(NewMemoryCache(), nil)
	ctx := context.Background()

	require.NoError(t, dc.Set(ctx, "k", []byte("v"), time.Hour))

	val, err := dc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, dc.Delete(ctx, "k"))
	val, err = dc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, val)
}
