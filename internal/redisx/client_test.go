package redisx

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptyAddrDisablesClient(t *testing.T) {
	assert.Nil(t, New(""))
}

func TestMarkOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	key := Dedup("mailer", "evt-1")

	first, err := MarkOnce(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := MarkOnce(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.False(t, again)

	ok, err := Exists(ctx, rdb, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, TTLDedup, mr.TTL(key))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "idem:order:create:c-1:k-9", IdemOrderCreate("c-1", "k-9"))
	assert.Equal(t, "order:o-1", Order("o-1"))
	assert.Equal(t, "dedup:mailer:e-1", Dedup("mailer", "e-1"))
}
