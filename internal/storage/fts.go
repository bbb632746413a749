package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/pkg/types"
)

// ftsTokenPattern matches the terms FTS5's unicode61 tokenizer would index.
var ftsTokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// sanitizeFTSQuery turns free text into an FTS5 query of quoted terms joined
// by OR, so user input can never be parsed as FTS5 syntax.
func sanitizeFTSQuery(query string) string {
	tokens := ftsTokenPattern.FindAllString(query, -1)
	if len(tokens) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(tokens))
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		key := strings.ToLower(tok)
		if seen[key] {
			continue
		}
		seen[key] = true
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// SearchText performs BM25 full-text search using FTS5. A query with no
// searchable terms returns no results.
func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit int, filters *types.SearchFilters) ([]TextResult, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" || limit <= 0 {
		return []TextResult{}, nil
	}

	sqlQuery := `
		SELECT c.id, bm25(chunks_fts) AS bm25_score
		FROM chunks_fts
		INNER JOIN chunks c ON chunks_fts.rowid = c.seq
		WHERE chunks_fts MATCH ?
	`
	args := []interface{}{sanitized}
	sqlQuery, args = applyTextFilters(sqlQuery, args, filters)

	// bm25 is lower-is-better
	sqlQuery += " ORDER BY bm25_score, c.id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]TextResult, 0)
	for rows.Next() {
		var r TextResult
		var rank float64
		if err := rows.Scan(&r.ChunkID, &rank); err != nil {
			return nil, err
		}
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// applyTextFilters adds WHERE clause filters for text search
func applyTextFilters(query string, args []interface{}, filters *types.SearchFilters) (string, []interface{}) {
	if filters.IsEmpty() {
		return query, args
	}

	if filters.FilePattern != "" {
		query += " AND c.file_path GLOB ?"
		args = append(args, filters.FilePattern)
	}
	if len(filters.Languages) > 0 {
		query += " AND c.language IN (" + placeholders(len(filters.Languages)) + ")"
		for _, lang := range filters.Languages {
			args = append(args, lang)
		}
	}
	if len(filters.ChunkTypes) > 0 {
		query += " AND c.chunk_type IN (" + placeholders(len(filters.ChunkTypes)) + ")"
		for _, typ := range filters.ChunkTypes {
			args = append(args, typ)
		}
	}
	return query, args
}

// FilterChunkIDs returns the subset of ids whose chunks satisfy filters, using
// the same predicates as SearchText. Unknown ids never match.
func (s *SQLiteStorage) FilterChunkIDs(ctx context.Context, ids []string, filters *types.SearchFilters) (map[string]bool, error) {
	matched := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return matched, nil
	}

	sqlQuery := "SELECT c.id FROM chunks c WHERE c.id IN (" + placeholders(len(ids)) + ")"
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	sqlQuery, args = applyTextFilters(sqlQuery, args, filters)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to filter chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		matched[id] = true
	}
	return matched, rows.Err()
}

// Lexical adapts SQLiteStorage to the search engine's lexical index.
type Lexical struct {
	store *SQLiteStorage
}

// NewLexicalIndex wraps the FTS5 index of a store.
func NewLexicalIndex(store *SQLiteStorage) *Lexical {
	return &Lexical{store: store}
}

// Query returns the topK chunks matching text, best first.
func (l *Lexical) Query(ctx context.Context, text string, topK int, filters *types.SearchFilters) ([]provider.Hit, error) {
	results, err := l.store.SearchText(ctx, text, topK, filters)
	if err != nil {
		return nil, err
	}
	hits := make([]provider.Hit, len(results))
	for i, r := range results {
		hits[i] = provider.Hit{ID: r.ChunkID, Score: r.Score}
	}
	return hits, nil
}

// Filter reports which of ids pass filters.
func (l *Lexical) Filter(ctx context.Context, ids []string, filters *types.SearchFilters) (map[string]bool, error) {
	return l.store.FilterChunkIDs(ctx, ids, filters)
}

// Excerpt returns the stored content of a chunk.
func (l *Lexical) Excerpt(ctx context.Context, id string) (string, error) {
	chunk, err := l.store.GetChunk(ctx, id)
	if err != nil {
		return "", err
	}
	return chunk.Content, nil
}

// Locate returns where a chunk lives in the indexed tree.
func (l *Lexical) Locate(ctx context.Context, id string) (*types.FileInfo, error) {
	chunk, err := l.store.GetChunk(ctx, id)
	if err != nil {
		return nil, err
	}
	return &types.FileInfo{
		Path:      chunk.FilePath,
		Language:  chunk.Language,
		StartLine: chunk.StartLine,
		EndLine:   chunk.EndLine,
	}, nil
}
