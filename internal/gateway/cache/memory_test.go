package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendRoundTrip(t *testing.T) {
	b := NewMemoryBackend(16)
	ctx := context.Background()

	_, err := b.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, b.Set(ctx, "k1", []byte("v1"), time.Minute))

	got, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, b.Delete(ctx, "k1"))
	_, err = b.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryBackendExpiry(t *testing.T) {
	b := NewMemoryBackend(16)
	ctx := context.Background()

	now := time.Now()
	b.now = func() time.Time { return now }

	require.NoError(t, b.Set(ctx, "k1", []byte("v1"), time.Minute))

	// 未过期可读。
	_, err := b.Get(ctx, "k1")
	require.NoError(t, err)

	// 时间推进超过 TTL 后按未命中处理。
	b.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = b.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 0, b.Len())
}

func TestMemoryBackendZeroTTLNeverExpires(t *testing.T) {
	b := NewMemoryBackend(16)
	ctx := context.Background()

	now := time.Now()
	b.now = func() time.Time { return now }

	require.NoError(t, b.Set(ctx, "k1", []byte("v1"), 0))

	b.now = func() time.Time { return now.Add(24 * time.Hour) }
	_, err := b.Get(ctx, "k1")
	assert.NoError(t, err)
}

func TestMemoryBackendBounded(t *testing.T) {
	b := NewMemoryBackend(4)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, b.Set(ctx, k, []byte(k), time.Minute))
	}

	// 容量上限约束条目总数。
	assert.LessOrEqual(t, b.Len(), 4)
}

func TestMemoryBackendEvictsOldestFirst(t *testing.T) {
	b := NewMemoryBackend(3)
	ctx := context.Background()

	for _, k := range []string{"k1", "k2", "k3"} {
		require.NoError(t, b.Set(ctx, k, []byte(k), time.Hour))
	}

	// 全部未过期时淘汰写入最早的 k1。
	require.NoError(t, b.Set(ctx, "k4", []byte("k4"), time.Hour))
	_, err := b.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrMiss)
	for _, k := range []string{"k2", "k3", "k4"} {
		_, err := b.Get(ctx, k)
		assert.NoError(t, err, k)
	}

	// 继续写入依次淘汰 k2。
	require.NoError(t, b.Set(ctx, "k5", []byte("k5"), time.Hour))
	_, err = b.Get(ctx, "k2")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = b.Get(ctx, "k3")
	assert.NoError(t, err)
}

func TestMemoryBackendRewriteRefreshesEvictionOrder(t *testing.T) {
	b := NewMemoryBackend(3)
	ctx := context.Background()

	for _, k := range []string{"k1", "k2", "k3"} {
		require.NoError(t, b.Set(ctx, k, []byte(k), time.Hour))
	}

	// 重写 k1 后最旧条目变为 k2。
	require.NoError(t, b.Set(ctx, "k1", []byte("v1b"), time.Hour))
	require.NoError(t, b.Set(ctx, "k4", []byte("k4"), time.Hour))

	_, err := b.Get(ctx, "k2")
	assert.ErrorIs(t, err, ErrMiss)
	got, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1b"), got)
}

func TestMemoryBackendEvictsExpiredFirst(t *testing.T) {
	b := NewMemoryBackend(2)
	ctx := context.Background()

	now := time.Now()
	b.now = func() time.Time { return now }

	require.NoError(t, b.Set(ctx, "old", []byte("x"), time.Second))
	require.NoError(t, b.Set(ctx, "live", []byte("y"), time.Hour))

	// old 过期后，新写入应淘汰 old 而保留 live。
	b.now = func() time.Time { return now.Add(time.Minute) }
	require.NoError(t, b.Set(ctx, "new", []byte("z"), time.Hour))

	_, err := b.Get(ctx, "live")
	assert.NoError(t, err)
	_, err = b.Get(ctx, "new")
	assert.NoError(t, err)
	_, err = b.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryBackendCopiesValues(t *testing.T) {
	b := NewMemoryBackend(16)
	ctx := context.Background()

	src := []byte("original")
	require.NoError(t, b.Set(ctx, "k", src, time.Minute))
	src[0] = 'X'

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	// 读出的副本修改后不影响缓存内容。
	got[0] = 'Y'
	again, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}
