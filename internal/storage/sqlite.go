package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/codecontext/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertChunk(ctx context.Context, chunk *types.Chunk) error {
	return upsertChunk(ctx, t.tx, chunk)
}

func (t *sqliteTx) DeleteChunk(ctx context.Context, id string) error {
	return deleteChunk(ctx, t.tx, id)
}

func (t *sqliteTx) DeleteChunksByFile(ctx context.Context, filePath string) ([]string, error) {
	return deleteChunksByFile(ctx, t.tx, filePath)
}

// Chunk operations

const chunkColumns = `id, file_path, language, start_line, end_line, content, content_hash, chunk_type`

// upsertChunk inserts or replaces a chunk. The FTS index follows via triggers.
func upsertChunk(ctx context.Context, q querier, chunk *types.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return fmt.Errorf("invalid chunk %s: %w", chunk.ID, err)
	}
	chunkType := chunk.ChunkType
	if chunkType == "" {
		chunkType = types.ChunkLines
	}

	query := `
		INSERT INTO chunks (
			id, file_path, language, start_line, end_line, content, content_hash, chunk_type,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id)
		DO UPDATE SET
			file_path = excluded.file_path,
			language = excluded.language,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			content = excluded.content,
			content_hash = excluded.content_hash,
			chunk_type = excluded.chunk_type,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, query,
		chunk.ID, chunk.FilePath, chunk.Language, chunk.StartLine, chunk.EndLine,
		chunk.Content, chunk.ContentHash[:], string(chunkType), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

// UpsertChunk stores a chunk, replacing any chunk with the same ID
func (s *SQLiteStorage) UpsertChunk(ctx context.Context, chunk *types.Chunk) error {
	return upsertChunk(ctx, s.db, chunk)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner) (*types.Chunk, error) {
	var (
		chunk     types.Chunk
		language  sql.NullString
		hash      []byte
		chunkType string
	)
	err := row.Scan(&chunk.ID, &chunk.FilePath, &language, &chunk.StartLine, &chunk.EndLine,
		&chunk.Content, &hash, &chunkType)
	if err != nil {
		return nil, err
	}
	chunk.Language = language.String
	chunk.ChunkType = types.ChunkType(chunkType)
	copy(chunk.ContentHash[:], hash)
	return &chunk, nil
}

// GetChunk returns the chunk with the given ID or ErrNotFound
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*types.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// ListChunksByFile returns the chunks of a file ordered by start line
func (s *SQLiteStorage) ListChunksByFile(ctx context.Context, filePath string) ([]*types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE file_path = ? ORDER BY start_line, id`, filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]*types.Chunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// ListFiles returns every indexed file path in order
func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT file_path FROM chunks ORDER BY file_path`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	files := make([]string, 0)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	return files, rows.Err()
}

func deleteChunk(ctx context.Context, q querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id)
	return err
}

// DeleteChunk deletes a single chunk by ID
func (s *SQLiteStorage) DeleteChunk(ctx context.Context, id string) error {
	return deleteChunk(ctx, s.db, id)
}

func deleteChunksByFile(ctx context.Context, q querier, filePath string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `DELETE FROM chunks WHERE file_path = ? RETURNING id`, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to delete chunks for %s: %w", filePath, err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteChunksByFile removes all chunks of a file and returns their IDs
func (s *SQLiteStorage) DeleteChunksByFile(ctx context.Context, filePath string) ([]string, error) {
	return deleteChunksByFile(ctx, s.db, filePath)
}

// Query log

// RecordQuery appends a search to the query log.
func (s *SQLiteStorage) RecordQuery(ctx context.Context, text, mode string, results int, degraded bool, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_queries (query_text, mode, result_count, degraded, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, text, mode, results, degraded, duration.Milliseconds(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}
	return nil
}

// Status operations

// GetStatus reports counts and build information for the index
func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{
		BuildMode:       BuildMode,
		VectorExtension: VectorExtensionAvailable,
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(DISTINCT file_path) FROM chunks", &status.Files},
		{"SELECT COUNT(*) FROM chunks", &status.Chunks},
		{"SELECT COUNT(*) FROM vectors", &status.Vectors},
		{"SELECT COUNT(*) FROM search_queries", &status.Queries},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("status query %q: %w", c.query, err)
		}
	}

	var last time.Time
	err := s.db.QueryRowContext(ctx, "SELECT updated_at FROM chunks ORDER BY updated_at DESC LIMIT 1").Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	status.LastIndexedAt = last

	collections, err := s.Collections(ctx)
	if err != nil {
		return nil, err
	}
	status.Collections = collections

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version

	// Calculate database size
	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

// placeholders returns "?,?,..." for n arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
