package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnel-metrics/internal/config"
)

// testDocumentStoreContract checks the behavior every backend shares
func testDocumentStoreContract(t *testing.T, store DocumentStore) {
	t.Helper()
	ctx := testContext(t)

	_, ok, err := store.Read(ctx, "never-written")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Write(ctx, MetricsKey, []byte(`{"a":1}`)))
	doc, ok, err := store.Read(ctx, MetricsKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(doc))

	require.NoError(t, store.Write(ctx, MetricsKey, []byte(`{"b":2}`)))
	doc, _, err = store.Read(ctx, MetricsKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(doc), "a write replaces the whole document")

	_, ok, err = store.Read(ctx, CredentialsKey)
	require.NoError(t, err)
	assert.False(t, ok, "keys are independent")
}

func TestMemoryDocumentStore_Contract(t *testing.T) {
	testDocumentStoreContract(t, NewMemoryDocumentStore())
}

func TestMemoryDocumentStore_CopiesBuffers(t *testing.T) {
	store := NewMemoryDocumentStore()
	ctx := testContext(t)

	buf := []byte(`{"a":1}`)
	require.NoError(t, store.Write(ctx, MetricsKey, buf))
	buf[2] = 'z'

	doc, _, err := store.Read(ctx, MetricsKey)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(doc))

	doc[2] = 'y'
	again, _, _ := store.Read(ctx, MetricsKey)
	assert.Equal(t, `{"a":1}`, string(again))
}

func TestMemoryDocumentStore_ConcurrentWriters(t *testing.T) {
	store := NewMemoryDocumentStore()
	ctx := testContext(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Write(ctx, MetricsKey, []byte(`{}`))
			_, _, _ = store.Read(ctx, MetricsKey)
		}()
	}
	wg.Wait()

	_, ok, err := store.Read(ctx, MetricsKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewDocumentStore(t *testing.T) {
	store, err := NewDocumentStore(&config.StoreConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryDocumentStore{}, store)

	_, err = NewDocumentStore(&config.StoreConfig{Backend: "cassandra"})
	assert.Error(t, err)
}
