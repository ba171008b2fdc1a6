package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldtrace/logsync/internal/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Client.Close() })
	return c, mr
}

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Set(ctx, "lark:tenant_access_token", "t-abc", time.Minute))

	got, err := c.Get(ctx, "lark:tenant_access_token")
	require.NoError(t, err)
	assert.Equal(t, "t-abc", got)
}

func TestGet_MissingKeyIsCacheMiss(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestGet_ExpiredKeyIsCacheMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "token", "t-abc", 30*time.Second))
	mr.FastForward(31 * time.Second)

	_, err := c.Get(ctx, "token")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}
