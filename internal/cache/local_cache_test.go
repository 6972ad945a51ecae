package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestCache(t *testing.T, maxSize int, ttl time.Duration) (*LocalCache, *time.Time) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLocalCache(ctx, maxSize, ttl)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestLocalCache_GetSet(t *testing.T) {
	c, _ := newTestCache(t, 0, time.Second)

	assert.True(t, c.Set("a", 1, 0))
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLocalCache_Expiry(t *testing.T) {
	c, now := newTestCache(t, 0, time.Second)

	c.Set("a", "x", 0)
	*now = now.Add(2 * time.Second)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLocalCache_MaxSize(t *testing.T) {
	c, now := newTestCache(t, 2, time.Second)

	assert.True(t, c.Set("a", 1, 0))
	assert.True(t, c.Set("b", 2, 0))
	assert.False(t, c.Set("c", 3, 0))

	// 覆盖已有键不受容量限制
	assert.True(t, c.Set("a", 10, 0))
	assert.Equal(t, 2, c.Len())

	// 过期条目会在写入时被清理
	*now = now.Add(2 * time.Second)
	assert.True(t, c.Set("c", 3, 0))
	assert.Equal(t, 1, c.Len())
}
