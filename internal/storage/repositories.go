package storage

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/funnel-metrics/internal/config"
	"github.com/funnel-metrics/internal/types"
)

// NewDocumentStore opens the backend selected in configuration
func NewDocumentStore(cfg *config.StoreConfig) (DocumentStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryDocumentStore(), nil
	case "redis":
		return NewRedisDocumentStore(&cfg.Redis)
	case "postgres":
		return NewPostgresDocumentStore(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

// CredentialRepository reads and writes the platform-credentials document
type CredentialRepository struct {
	store DocumentStore
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(store DocumentStore) *CredentialRepository {
	return &CredentialRepository{store: store}
}

// Load returns the stored credentials, empty when none were ever saved
func (r *CredentialRepository) Load(ctx context.Context) (*types.StoredCredentials, error) {
	creds := &types.StoredCredentials{}
	if err := readDocument(ctx, r.store, CredentialsKey, creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// Save replaces the stored credentials
func (r *CredentialRepository) Save(ctx context.Context, creds *types.StoredCredentials) error {
	return writeDocument(ctx, r.store, CredentialsKey, creds)
}

// MetricsRepository reads and writes the platform-metrics document
type MetricsRepository struct {
	store DocumentStore
}

// NewMetricsRepository creates a new metrics repository
func NewMetricsRepository(store DocumentStore) *MetricsRepository {
	return &MetricsRepository{store: store}
}

// Load returns the cached metrics, empty when none were ever saved
func (r *MetricsRepository) Load(ctx context.Context) (*types.StoredMetrics, error) {
	metrics := &types.StoredMetrics{}
	if err := readDocument(ctx, r.store, MetricsKey, metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// Save replaces the cached metrics
func (r *MetricsRepository) Save(ctx context.Context, metrics *types.StoredMetrics) error {
	return writeDocument(ctx, r.store, MetricsKey, metrics)
}

func readDocument(ctx context.Context, store DocumentStore, key string, out interface{}) error {
	doc, ok, err := store.Read(ctx, key)
	if err != nil {
		return err
	}
	if !ok || len(doc) == 0 {
		return nil
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func writeDocument(ctx context.Context, store DocumentStore, key string, in interface{}) error {
	doc, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return store.Write(ctx, key, doc)
}
