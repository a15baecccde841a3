package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "oauth:state:"

// RedisStore keeps tokens in Redis/Valkey so every instance behind a load
// balancer can validate a callback that another instance issued. Redis
// expires the keys itself, which gives expiry-on-read for free.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string // host:port
	Password string // optional
	DB       int
	TTL      time.Duration
}

// NewRedisStore connects and pings before returning, so a bad address fails at startup.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("oauthstate: pinging redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisStoreFromClient(client, cfg.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Issue(ctx context.Context, ownerID string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+token, ownerID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("oauthstate: storing token: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Validate(ctx context.Context, token string) (string, bool, error) {
	ownerID, err := s.client.Get(ctx, redisKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("oauthstate: reading token: %w", err)
	}
	return ownerID, true, nil
}

func (s *RedisStore) Consume(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("oauthstate: deleting token: %w", err)
	}
	return nil
}

// Take uses GETDEL, so the read and the delete are one server-side command.
func (s *RedisStore) Take(ctx context.Context, token string) (string, bool, error) {
	ownerID, err := s.client.GetDel(ctx, redisKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("oauthstate: taking token: %w", err)
	}
	return ownerID, true, nil
}

// Sweep is a no-op: Redis evicts expired keys on its own.
func (s *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
