package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/funnel-metrics/internal/config"
)

// RedisDocumentStore stores each document as a plain string key
type RedisDocumentStore struct {
	client *redis.Client
	prefix string
}

// NewRedisDocumentStore connects to Redis and checks the connection
func NewRedisDocumentStore(cfg *config.RedisConfig) (*RedisDocumentStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisDocumentStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisDocumentStoreFromClient wraps an existing client
func NewRedisDocumentStoreFromClient(client *redis.Client, prefix string) *RedisDocumentStore {
	return &RedisDocumentStore{client: client, prefix: prefix}
}

func (r *RedisDocumentStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	doc, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return doc, true, nil
}

// Write stores the document without expiry
func (r *RedisDocumentStore) Write(ctx context.Context, key string, doc []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, doc, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping checks if Redis is reachable
func (r *RedisDocumentStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisDocumentStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
