package types

// SearchResult is one ranked hit of a hybrid search.
type SearchResult struct {
	// Identification
	ChunkID string `json:"chunk_id"`
	Rank    int    `json:"rank"` // Position in result set (1-based)

	// Scoring, each normalized to [0, 1]
	LexicalScore   float64 `json:"lexical_score"`
	VectorScore    float64 `json:"vector_score"`
	CompositeScore float64 `json:"composite_score"`

	// Metadata, filled when the lexical store knows the chunk
	File    *FileInfo `json:"file,omitempty"`
	Excerpt string    `json:"excerpt,omitempty"`
}

// FileInfo locates a search result in the indexed tree.
type FileInfo struct {
	Path      string `json:"path"` // Relative to the indexed root
	Language  string `json:"language,omitempty"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ChunkID == "" {
		return ErrInvalidChunkID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	for _, s := range []float64{sr.LexicalScore, sr.VectorScore, sr.CompositeScore} {
		if s < 0 || s > 1 {
			return ErrInvalidRelevanceScore
		}
	}

	return nil
}

// SearchFilters narrows lexical matches.
type SearchFilters struct {
	FilePattern string   `json:"file_pattern,omitempty"` // glob, e.g. "internal/*"
	Languages   []string `json:"languages,omitempty"`
	ChunkTypes  []string `json:"chunk_types,omitempty"`
}

// IsEmpty reports whether no filter is set.
func (f *SearchFilters) IsEmpty() bool {
	return f == nil || (f.FilePattern == "" && len(f.Languages) == 0 && len(f.ChunkTypes) == 0)
}
