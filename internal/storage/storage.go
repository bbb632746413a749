package storage

import (
	"context"
	"time"

	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/pkg/types"
)

// ProviderName identifies the SQLite vector store in the provider registry.
const ProviderName = "sqlite"

// Storage defines the interface for persisting chunks, vectors and the lexical index
type Storage interface {
	// Chunk operations
	UpsertChunk(ctx context.Context, chunk *types.Chunk) error
	GetChunk(ctx context.Context, id string) (*types.Chunk, error)
	ListChunksByFile(ctx context.Context, filePath string) ([]*types.Chunk, error)
	ListFiles(ctx context.Context) ([]string, error)
	DeleteChunk(ctx context.Context, id string) error
	DeleteChunksByFile(ctx context.Context, filePath string) ([]string, error)

	// Search operations
	SearchText(ctx context.Context, query string, limit int, filters *types.SearchFilters) ([]TextResult, error)

	// Vector operations, keyed by collection
	provider.VectorStore
	Collections(ctx context.Context) ([]Collection, error)
	DropCollection(ctx context.Context, name string) error

	// Query log
	RecordQuery(ctx context.Context, text, mode string, results int, degraded bool, duration time.Duration) error

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction over chunk writes.
type Tx interface {
	Commit() error
	Rollback() error
	UpsertChunk(ctx context.Context, chunk *types.Chunk) error
	DeleteChunk(ctx context.Context, id string) error
	DeleteChunksByFile(ctx context.Context, filePath string) ([]string, error)
}

// TextResult represents a result from full-text search.
// Score is the negated bm25 rank, so higher is better.
type TextResult struct {
	ChunkID string
	Score   float64
}

// Collection describes a vector collection.
type Collection struct {
	Name      string
	Dimension int
	Vectors   int
}

// Status contains statistics about the index
type Status struct {
	Files           int
	Chunks          int
	Vectors         int
	Queries         int
	Collections     []Collection
	IndexSizeMB     float64
	LastIndexedAt   time.Time
	SchemaVersion   string
	BuildMode       string
	VectorExtension bool
}
