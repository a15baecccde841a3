package oauthstate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client, DefaultTTL), mr
}

func TestRedisStore_IssueValidateConsume(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	token, err := s.Issue(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	owner, ok, err := s.Validate(ctx, token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", owner)

	require.NoError(t, s.Consume(ctx, token))

	_, ok, err = s.Validate(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok, "replayed token must not validate")
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	token, err := s.Issue(ctx, "u1")
	require.NoError(t, err)

	mr.FastForward(DefaultTTL + time.Second)

	_, ok, err := s.Validate(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_UnknownToken(t *testing.T) {
	s, _ := newTestRedisStore(t)

	owner, ok, err := s.Validate(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, owner)
}

func TestRedisStore_SweepIsNoop(t *testing.T) {
	s, _ := newTestRedisStore(t)

	removed, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestRedisStore_Take(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	token, err := s.Issue(ctx, "u1")
	require.NoError(t, err)

	owner, ok, err := s.Take(ctx, token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", owner)
	assert.False(t, mr.Exists(redisKeyPrefix+token), "key is gone after Take")

	_, ok, err = s.Take(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok, "replayed token must not be taken twice")
}

func TestRedisStore_TakeIsSingleWinner(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	token, err := s.Issue(ctx, "u1")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := s.Take(ctx, token); err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
