package storage

import (
	"context"
	"sync"
)

// Document keys
const (
	CredentialsKey = "platform-credentials"
	MetricsKey     = "platform-metrics"
)

// DocumentStore is a key-value store of whole JSON documents. Writes replace
// the stored document; the last writer wins.
type DocumentStore interface {
	// Read returns the document and true, or false when the key was never written
	Read(ctx context.Context, key string) ([]byte, bool, error)
	Write(ctx context.Context, key string, doc []byte) error
	Close() error
}

// MemoryDocumentStore keeps documents in process memory
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryDocumentStore creates an empty in-memory store
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string][]byte)}
}

func (m *MemoryDocumentStore) Read(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, true, nil
}

func (m *MemoryDocumentStore) Write(_ context.Context, key string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(doc))
	copy(stored, doc)
	m.docs[key] = stored
	return nil
}

// Close is a no-op
func (m *MemoryDocumentStore) Close() error {
	return nil
}
