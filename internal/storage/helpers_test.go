package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newMiniredisStore returns a Redis document store backed by an in-process
// server that is torn down with the test
func newMiniredisStore(t *testing.T) (*RedisDocumentStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisDocumentStoreFromClient(client, "funnel:")
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}
