// Package storage persists the credentials and metrics documents.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/funnel-metrics/internal/config"
)

// PostgresDocumentStore keeps documents in a JSONB table, one row per key
type PostgresDocumentStore struct {
	pool *pgxpool.Pool
}

// NewPostgresDocumentStore opens a connection pool and checks the connection.
// The documents table is created by the migrations.
func NewPostgresDocumentStore(cfg *config.PostgresConfig) (*PostgresDocumentStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = int32(cfg.MaxConnections) // #nosec G115 - MaxConnections is validated in config
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresDocumentStore{pool: pool}, nil
}

func (s *PostgresDocumentStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM documents WHERE key = $1`, key).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read document %s: %w", key, err)
	}
	return doc, true, nil
}

func (s *PostgresDocumentStore) Write(ctx context.Context, key string, doc []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (key, body, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		key, string(doc))
	if err != nil {
		return fmt.Errorf("write document %s: %w", key, err)
	}
	return nil
}

// Ping checks if the database is reachable
func (s *PostgresDocumentStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool
func (s *PostgresDocumentStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
