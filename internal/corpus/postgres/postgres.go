// Package postgres provides a PostgreSQL-backed [corpus.Cache]. Snapshots are
// stored per provider identity: one corpus_meta row and one corpus_vectors
// row per embedded corpus row, with vectors in a pgvector column.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	cache, err := postgres.NewCache(ctx, dsn, embeddings.Identity(provider))
//	if err != nil { … }
//	defer cache.Close()
//	ix, src, err := corpus.LoadOrBuild(ctx, cache, foods, provider, opts)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/foodtracker/internal/corpus"
)

// The vector column carries no fixed dimension so snapshots of different
// providers can share the table.
const ddl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS corpus_meta (
    provider_id  TEXT         PRIMARY KEY,
    version      INTEGER      NOT NULL,
    dimensions   INTEGER      NOT NULL,
    fingerprint  TEXT         NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS corpus_vectors (
    provider_id  TEXT     NOT NULL REFERENCES corpus_meta (provider_id) ON DELETE CASCADE,
    row_idx      INTEGER  NOT NULL,
    food_idx     INTEGER  NOT NULL,
    alias        TEXT     NOT NULL DEFAULT '',
    embedding    vector   NOT NULL,
    PRIMARY KEY (provider_id, row_idx)
);
`

// Migrate creates the cache tables. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Cache stores corpus snapshots for one provider identity.
// All methods are safe for concurrent use.
type Cache struct {
	pool       *pgxpool.Pool
	providerID string
}

var _ corpus.Cache = (*Cache)(nil)

// NewCache connects to dsn, registers pgvector types on every connection and
// runs [Migrate]. Snapshots are read and written under providerID.
func NewCache(ctx context.Context, dsn, providerID string) (*Cache, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("corpus cache: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("corpus cache: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("corpus cache: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("corpus cache: %w", err)
	}
	return &Cache{pool: pool, providerID: providerID}, nil
}

// Load implements [corpus.Cache].
func (c *Cache) Load(ctx context.Context) (*corpus.Snapshot, error) {
	s := &corpus.Snapshot{ProviderID: c.providerID}
	err := c.pool.QueryRow(ctx,
		`SELECT version, dimensions, fingerprint, created_at FROM corpus_meta WHERE provider_id = $1`,
		c.providerID,
	).Scan(&s.Version, &s.Dimensions, &s.Fingerprint, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no snapshot for %s", corpus.ErrCacheMiss, c.providerID)
	}
	if err != nil {
		return nil, fmt.Errorf("corpus cache: load meta: %w", err)
	}

	rows, err := c.pool.Query(ctx,
		`SELECT row_idx, food_idx, alias, embedding FROM corpus_vectors
		 WHERE provider_id = $1 ORDER BY row_idx`,
		c.providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("corpus cache: load rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idx int
			r   corpus.SnapshotRow
			vec pgvector.Vector
		)
		if err := rows.Scan(&idx, &r.Food, &r.Alias, &vec); err != nil {
			return nil, fmt.Errorf("corpus cache: scan row: %w", err)
		}
		if idx != len(s.Rows) {
			return nil, fmt.Errorf("%w: row %d missing", corpus.ErrCacheMiss, len(s.Rows))
		}
		r.Vector = vec.Slice()
		s.Rows = append(s.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("corpus cache: iterate rows: %w", err)
	}
	return s, nil
}

// Save implements [corpus.Cache]. The previous snapshot for the provider is
// replaced in a single transaction.
func (c *Cache) Save(ctx context.Context, s *corpus.Snapshot) error {
	if s.ProviderID != c.providerID {
		return fmt.Errorf("corpus cache: snapshot for %q saved to cache for %q", s.ProviderID, c.providerID)
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("corpus cache: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM corpus_meta WHERE provider_id = $1`, c.providerID); err != nil {
		return fmt.Errorf("corpus cache: clear: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO corpus_meta (provider_id, version, dimensions, fingerprint, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.providerID, s.Version, s.Dimensions, s.Fingerprint, s.CreatedAt,
	); err != nil {
		return fmt.Errorf("corpus cache: insert meta: %w", err)
	}

	batch := &pgx.Batch{}
	for i, r := range s.Rows {
		batch.Queue(
			`INSERT INTO corpus_vectors (provider_id, row_idx, food_idx, alias, embedding)
			 VALUES ($1, $2, $3, $4, $5)`,
			c.providerID, i, r.Food, r.Alias, pgvector.NewVector(r.Vector),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("corpus cache: insert rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("corpus cache: commit: %w", err)
	}
	return nil
}

// Ping checks connectivity. It is used by readiness probes.
func (c *Cache) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close releases the connection pool.
func (c *Cache) Close() {
	c.pool.Close()
}
