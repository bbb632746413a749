// Package storage provides SQLite-based persistence for indexed code chunks,
// their vectors and the full-text index used by lexical search.
//
// The storage layer manages:
//   - Code chunks keyed by "path:start-end"
//   - Vector collections with a fixed dimension per collection
//   - An FTS5 index over chunk content and paths, kept in sync by triggers
//   - A log of executed searches
//
// # Database Schema
//
// Tables:
//   - chunks: chunk content, location and SHA-256 hash
//   - chunks_fts: FTS5 full-text index (external content on chunks)
//   - collections: vector collection names and dimensions
//   - vectors: little-endian float32 blobs with JSON metadata
//   - search_queries: executed searches for status reporting
//
// Schema versions are tracked with semantic versions and applied in order
// by ApplyMigrations.
//
// # Vector Store
//
// SQLiteStorage satisfies provider.VectorStore under the name "sqlite":
//
//	err := db.Upsert(ctx, "code", chunk.ID, vector, map[string]string{"path": chunk.FilePath})
//	hits, err := db.Query(ctx, "code", queryVector, 20)
//
// Writing a vector of the wrong size fails with provider.ErrDimensionMismatch;
// querying an unknown collection fails with provider.ErrCollectionNotFound.
//
// # Full-Text Search
//
// Query terms are quoted and joined with OR before reaching FTS5, so user
// input is never interpreted as FTS5 syntax. Scores are negated bm25 ranks:
//
//	results, err := db.SearchText(ctx, "circuit breaker", 20, &types.SearchFilters{
//	    FilePattern: "internal/*",
//	})
//
// NewLexicalIndex adapts the store to the search engine's lexical index.
//
// # Build Tags
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Registers the sqlite-vec extension and ranks with vec_distance_cosine
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec,fts5"
//
// Pure Go Build (default or purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - Cosine similarity computed in Go
//
//     CGO_ENABLED=0 go build -tags "purego"
package storage
