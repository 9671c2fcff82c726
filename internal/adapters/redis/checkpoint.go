package redisad

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hotel_sync/internal/adapters/observability"
)

const keyNamespace = "hotelsync"

// Store keeps change-feed resume tokens and the replay guard in Redis.
type Store struct {
	c         *redis.Client
	replayTTL time.Duration
}

func New(addr, pass string, db int, replayTTL time.Duration) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}), replayTTL)
}

func NewWithClient(c *redis.Client, replayTTL time.Duration) *Store {
	if replayTTL <= 0 {
		replayTTL = 24 * time.Hour
	}
	return &Store{c: c, replayTTL: replayTTL}
}

func (s *Store) Ping(ctx context.Context) error { return s.c.Ping(ctx).Err() }

func (s *Store) Close() error { return s.c.Close() }

func tokenKey(consumer string) string {
	return fmt.Sprintf("%s:changefeed:token:%s", keyNamespace, consumer)
}

func processedKey(consumer, token string) string {
	return fmt.Sprintf("%s:changefeed:processed:%s:%s", keyNamespace, consumer, token)
}

func (s *Store) LoadToken(ctx context.Context, consumer string) (string, error) {
	v, err := s.c.Get(ctx, tokenKey(consumer)).Result()
	if errors.Is(err, redis.Nil) {
		observability.ObserveRedis("load_token", "miss")
		return "", nil
	}
	if err != nil {
		observability.ObserveRedis("load_token", "error")
		return "", fmt.Errorf("load resume token: %w", err)
	}
	observability.ObserveRedis("load_token", "hit")
	return v, nil
}

// SaveToken stores the token without expiry; an empty token clears it.
func (s *Store) SaveToken(ctx context.Context, consumer, token string) error {
	var err error
	if token == "" {
		err = s.c.Del(ctx, tokenKey(consumer)).Err()
	} else {
		err = s.c.Set(ctx, tokenKey(consumer), token, 0).Err()
	}
	if err != nil {
		observability.ObserveRedis("save_token", "error")
		return fmt.Errorf("save resume token: %w", err)
	}
	observability.ObserveRedis("save_token", "ok")
	return nil
}

// FirstSeen marks token as processed and reports whether it was new.
func (s *Store) FirstSeen(ctx context.Context, consumer, token string) (bool, error) {
	if consumer == "" || token == "" {
		return false, errors.New("consumer and token are required")
	}
	set, err := s.c.SetNX(ctx, processedKey(consumer, token), "1", s.replayTTL).Result()
	if err != nil {
		observability.ObserveRedis("first_seen", "error")
		return false, fmt.Errorf("mark processed: %w", err)
	}
	if set {
		observability.ObserveRedis("first_seen", "new")
	} else {
		observability.ObserveRedis("first_seen", "replay")
	}
	return set, nil
}

func (s *Store) Forget(ctx context.Context, consumer, token string) error {
	observability.ObserveRedis("forget", "ok")
	return s.c.Del(ctx, processedKey(consumer, token)).Err()
}
