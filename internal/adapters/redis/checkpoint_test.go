package redisad_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	redisad "hotel_sync/internal/adapters/redis"
)

func newStore(t *testing.T) (*redisad.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return redisad.NewWithClient(c, time.Hour), mr
}

func TestStore_TokenRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	tok, err := s.LoadToken(ctx, "syncer")
	require.NoError(t, err)
	require.Empty(t, tok, "missing token loads as empty")

	require.NoError(t, s.SaveToken(ctx, "syncer", "42"))
	tok, err = s.LoadToken(ctx, "syncer")
	require.NoError(t, err)
	require.Equal(t, "42", tok)

	require.NoError(t, s.SaveToken(ctx, "syncer", ""))
	tok, err = s.LoadToken(ctx, "syncer")
	require.NoError(t, err)
	require.Empty(t, tok)
}

func TestStore_FirstSeenDetectsReplay(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	first, err := s.FirstSeen(ctx, "index-sync", "7")
	require.NoError(t, err)
	require.True(t, first)

	again, err := s.FirstSeen(ctx, "index-sync", "7")
	require.NoError(t, err)
	require.False(t, again, "replayed token must be reported as seen")

	// other consumers keep their own view
	other, err := s.FirstSeen(ctx, "distribution", "7")
	require.NoError(t, err)
	require.True(t, other)

	require.NoError(t, s.Forget(ctx, "index-sync", "7"))
	first, err = s.FirstSeen(ctx, "index-sync", "7")
	require.NoError(t, err)
	require.True(t, first)

	mr.FastForward(2 * time.Hour)
	first, err = s.FirstSeen(ctx, "distribution", "7")
	require.NoError(t, err)
	require.True(t, first, "guard entries expire after the replay TTL")
}

func TestStore_FirstSeenRequiresToken(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.FirstSeen(context.Background(), "index-sync", "")
	require.Error(t, err)
}
