package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationStore_TouchIsStable(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewConversationStore(client, time.Hour)
	ctx := context.Background()

	first, err := store.Touch(ctx, "t1", "+919900000001")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Same tenant and phone keep the same conversation.
	second, err := store.Touch(ctx, "t1", "+919900000001")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Different phone opens a different conversation.
	other, err := store.Touch(ctx, "t1", "+919900000002")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestConversationStore_ExpiresAndReopens(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewConversationStore(client, time.Minute)
	ctx := context.Background()

	first, err := store.Touch(ctx, "t1", "+919900000001")
	require.NoError(t, err)

	s.FastForward(2 * time.Minute)

	reopened, err := store.Touch(ctx, "t1", "+919900000001")
	require.NoError(t, err)
	assert.NotEqual(t, first, reopened)
}

func TestConversationStore_TouchRefreshesTTL(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewConversationStore(client, time.Minute)
	ctx := context.Background()

	first, err := store.Touch(ctx, "t1", "+919900000001")
	require.NoError(t, err)

	// Touch again just before expiry; the conversation survives past the
	// original TTL.
	s.FastForward(50 * time.Second)
	_, err = store.Touch(ctx, "t1", "+919900000001")
	require.NoError(t, err)

	s.FastForward(50 * time.Second)
	still, err := store.Touch(ctx, "t1", "+919900000001")
	require.NoError(t, err)
	assert.Equal(t, first, still)
}
