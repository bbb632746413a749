package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codecontext/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func testChunk(path string, start, end int, content string) *types.Chunk {
	c := types.NewChunk(path, "go", start, end, content)
	return &c
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)

	version, err := SchemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestUpsertChunk(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	chunk := testChunk("internal/router.go", 1, 10, "func Route() {}")
	require.NoError(t, storage.UpsertChunk(ctx, chunk))

	got, err := storage.GetChunk(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, chunk.ID, got.ID)
	assert.Equal(t, "internal/router.go", got.FilePath)
	assert.Equal(t, "go", got.Language)
	assert.Equal(t, 1, got.StartLine)
	assert.Equal(t, 10, got.EndLine)
	assert.Equal(t, chunk.ContentHash, got.ContentHash)
	assert.Equal(t, types.ChunkLines, got.ChunkType)

	// Same ID replaces content
	updated := testChunk("internal/router.go", 1, 10, "func Route(ctx context.Context) {}")
	require.NoError(t, storage.UpsertChunk(ctx, updated))

	got, err = storage.GetChunk(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, "func Route(ctx context.Context) {}", got.Content)
	assert.Equal(t, updated.ContentHash, got.ContentHash)
}

func TestUpsertChunk_Invalid(t *testing.T) {
	storage := setupTestDB(t)

	err := storage.UpsertChunk(context.Background(), &types.Chunk{ID: "x", Content: "  "})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEmptyContent)
}

func TestGetChunk_NotFound(t *testing.T) {
	storage := setupTestDB(t)

	_, err := storage.GetChunk(context.Background(), "missing.go:1-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChunksByFile(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertChunk(ctx, testChunk("a.go", 21, 40, "second")))
	require.NoError(t, storage.UpsertChunk(ctx, testChunk("a.go", 1, 20, "first")))
	require.NoError(t, storage.UpsertChunk(ctx, testChunk("b.go", 1, 5, "other")))

	chunks, err := storage.ListChunksByFile(ctx, "a.go")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first", chunks[0].Content)
	assert.Equal(t, "second", chunks[1].Content)

	files, err := storage.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, files)
}

func TestDeleteChunksByFile(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	a1 := testChunk("a.go", 1, 20, "alpha")
	a2 := testChunk("a.go", 21, 40, "beta")
	b1 := testChunk("b.go", 1, 5, "gamma")
	for _, c := range []*types.Chunk{a1, a2, b1} {
		require.NoError(t, storage.UpsertChunk(ctx, c))
	}

	ids, err := storage.DeleteChunksByFile(ctx, "a.go")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a1.ID, a2.ID}, ids)

	chunks, err := storage.ListChunksByFile(ctx, "a.go")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = storage.GetChunk(ctx, b1.ID)
	assert.NoError(t, err)

	// Deleted chunks leave the FTS index too
	results, err := storage.SearchText(ctx, "alpha beta", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBeginTx_CommitRollback(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	chunk := testChunk("tx.go", 1, 3, "rolled back")

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertChunk(ctx, chunk))
	require.NoError(t, tx.Rollback())

	_, err = storage.GetChunk(ctx, chunk.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertChunk(ctx, chunk))
	require.NoError(t, tx.Commit())

	_, err = storage.GetChunk(ctx, chunk.ID)
	assert.NoError(t, err)
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertChunk(ctx, testChunk("a.go", 1, 2, "alpha")))
	require.NoError(t, storage.UpsertChunk(ctx, testChunk("a.go", 3, 4, "beta")))
	require.NoError(t, storage.UpsertChunk(ctx, testChunk("b.go", 1, 2, "gamma")))
	require.NoError(t, storage.Upsert(ctx, "code", "a.go:1-2", []float32{1, 0}, nil))
	require.NoError(t, storage.RecordQuery(ctx, "alpha", "hybrid", 1, false, 12*time.Millisecond))

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Files)
	assert.Equal(t, 3, status.Chunks)
	assert.Equal(t, 1, status.Vectors)
	assert.Equal(t, 1, status.Queries)
	assert.Equal(t, []Collection{{Name: "code", Dimension: 2, Vectors: 1}}, status.Collections)
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.Equal(t, BuildMode, status.BuildMode)
	assert.False(t, status.LastIndexedAt.IsZero())
}

func TestMigrations_Rollback(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	version, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	err = storage.RecordQuery(ctx, "q", "hybrid", 0, false, time.Millisecond)
	assert.Error(t, err)

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	version, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
	assert.NoError(t, storage.RecordQuery(ctx, "q", "hybrid", 0, false, time.Millisecond))

	// Rolling back everything leaves an empty database
	require.NoError(t, RollbackMigration(ctx, storage.db))
	require.NoError(t, RollbackMigration(ctx, storage.db))
	version, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", version)
	assert.Error(t, RollbackMigration(ctx, storage.db))
}
