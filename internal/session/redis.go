package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares the token between processes through redis.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the token key, e.g. per device
	Prefix string
	// TTL of the stored token, zero keeps it until cleared
	TTL time.Duration
}

// NewRedisStore connects and pings, retrying a few times the way a freshly
// started redis needs.
func NewRedisStore(ctx context.Context, o RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Network:  "tcp",
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})

	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		if err = client.Ping(ctx).Err(); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * 500 * time.Millisecond):
		}
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping after %d attempts: %w", attempts, err)
	}

	return &RedisStore{client: client, key: o.Prefix + TokenKey, ttl: o.TTL}, nil
}

func (r *RedisStore) Load(ctx context.Context) (string, error) {
	v, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (r *RedisStore) Save(ctx context.Context, token string) error {
	return r.client.Set(ctx, r.key, token, r.ttl).Err()
}

func (r *RedisStore) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func (r *RedisStore) Close() error { return r.client.Close() }
