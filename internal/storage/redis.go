package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/satindergrewal/layerdaw/internal/logger"
)

// RedisStore keeps blobs as Redis strings. A zero TTL keeps them forever.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	logger.Info("Redis blob store connected", logger.String("addr", opts.Addr), logger.Int("db", opts.DB))
	return &RedisStore{client: client, ttl: opts.TTL}, nil
}

func (r *RedisStore) Save(ctx context.Context, key string, data []byte) (string, error) {
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set %s: %w", key, err)
	}
	return key, nil
}

func (r *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
