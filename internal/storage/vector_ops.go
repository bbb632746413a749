package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/pkg/types"
)

// Upsert stores a vector in a collection. The first vector written to a
// collection fixes its dimension.
func (s *SQLiteStorage) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error {
	if collection == "" || id == "" {
		return provider.Errorf(provider.KindInvalidInput, ProviderName, "collection and id are required")
	}
	if len(vector) == 0 {
		return provider.Errorf(provider.KindInvalidInput, ProviderName, "empty vector for %s", id)
	}

	var meta interface{}
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return provider.NewError(provider.KindInvalidInput, ProviderName, err)
		}
		meta = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureCollection(ctx, tx, collection, len(vector)); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vectors (collection, id, vector, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id)
		DO UPDATE SET
			vector = excluded.vector,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, collection, id, types.EncodeVector(vector), meta, time.Now().UTC())
	if err != nil {
		return unavailable(fmt.Errorf("failed to upsert vector %s: %w", id, err))
	}

	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

// ensureCollection creates the collection on first use and checks the
// dimension of later writes.
func ensureCollection(ctx context.Context, q querier, collection string, dim int) error {
	stored, err := collectionDimension(ctx, q, collection)
	if errors.Is(err, provider.ErrCollectionNotFound) {
		_, err = q.ExecContext(ctx,
			`INSERT INTO collections (name, dimension, created_at) VALUES (?, ?, ?)`,
			collection, dim, time.Now().UTC())
		if err != nil {
			return unavailable(fmt.Errorf("failed to create collection %s: %w", collection, err))
		}
		return nil
	}
	if err != nil {
		return err
	}
	if stored != dim {
		return provider.Errorf(provider.KindDimensionMismatch, ProviderName,
			"collection %s has dimension %d, got %d", collection, stored, dim)
	}
	return nil
}

func collectionDimension(ctx context.Context, q querier, collection string) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, collection).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, provider.Errorf(provider.KindCollectionNotFound, ProviderName, "collection %s", collection)
	}
	if err != nil {
		return 0, unavailable(err)
	}
	return dim, nil
}

// Query returns the topK vectors of a collection closest to vector by cosine
// similarity, best first.
func (s *SQLiteStorage) Query(ctx context.Context, collection string, vector []float32, topK int) ([]provider.Hit, error) {
	if len(vector) == 0 {
		return nil, provider.Errorf(provider.KindInvalidInput, ProviderName, "empty query vector")
	}
	dim, err := collectionDimension(ctx, s.db, collection)
	if err != nil {
		return nil, err
	}
	if dim != len(vector) {
		return nil, provider.Errorf(provider.KindDimensionMismatch, ProviderName,
			"collection %s has dimension %d, query has %d", collection, dim, len(vector))
	}
	if topK <= 0 {
		return []provider.Hit{}, nil
	}

	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return s.queryOptimized(ctx, collection, vector, topK)
	}
	// Fall back to Go-based computation for purego builds
	return s.queryFallback(ctx, collection, vector, topK)
}

// queryOptimized uses the sqlite-vec extension to rank inside SQLite
func (s *SQLiteStorage) queryOptimized(ctx context.Context, collection string, vector []float32, topK int) ([]provider.Hit, error) {
	blob, err := encodeQueryVector(vector)
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidInput, ProviderName, err)
	}

	// vec_distance_cosine returns distance (lower is better)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, 1.0 - vec_distance_cosine(vector, ?) AS similarity
		FROM vectors
		WHERE collection = ?
		ORDER BY similarity DESC, id ASC
		LIMIT ?
	`, blob, collection, topK)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to execute vector search: %w", err))
	}
	defer func() { _ = rows.Close() }()

	hits := make([]provider.Hit, 0, topK)
	for rows.Next() {
		var hit provider.Hit
		if err := rows.Scan(&hit.ID, &hit.Score); err != nil {
			return nil, unavailable(fmt.Errorf("failed to scan result: %w", err))
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return hits, nil
}

// queryFallback computes cosine similarity in Go over every stored vector
func (s *SQLiteStorage) queryFallback(ctx context.Context, collection string, vector []float32, topK int) ([]provider.Hit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector FROM vectors WHERE collection = ?`, collection)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to query vectors: %w", err))
	}
	defer func() { _ = rows.Close() }()

	hits := make([]provider.Hit, 0)
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, unavailable(err)
		}
		stored, err := types.DecodeVector(blob)
		if err != nil {
			return nil, provider.NewError(provider.KindInvalidResponse, ProviderName, err)
		}
		hits = append(hits, provider.Hit{ID: id, Score: types.CosineSimilarity(vector, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Delete removes a vector. Deleting a missing vector is not an error.
func (s *SQLiteStorage) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return unavailable(err)
	}
	return nil
}

// Ping checks the database connection
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// Collections lists vector collections with their sizes
func (s *SQLiteStorage) Collections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name, c.dimension, COUNT(v.id)
		FROM collections c
		LEFT JOIN vectors v ON v.collection = c.name
		GROUP BY c.name, c.dimension
		ORDER BY c.name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	collections := make([]Collection, 0)
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.Name, &c.Dimension, &c.Vectors); err != nil {
			return nil, err
		}
		collections = append(collections, c)
	}
	return collections, rows.Err()
}

// DropCollection deletes a collection and all of its vectors
func (s *SQLiteStorage) DropCollection(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	return err
}

// SortHits orders hits by score descending, ties by ID ascending.
func SortHits(hits []provider.Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

func unavailable(err error) error {
	return provider.NewError(provider.KindUnavailable, ProviderName, err)
}
