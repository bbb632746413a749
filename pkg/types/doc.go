// Package types provides shared type definitions for codecontext.
//
// # Chunks
//
// Chunk is the unit of indexing: a contiguous range of lines from one source
// file. Its ID is stable across re-indexing so that lexical and vector hits for
// the same range can be fused:
//
//	chunk := types.NewChunk("internal/cache/cache.go", "go", 10, 42, body)
//	// chunk.ID == "internal/cache/cache.go:10-42"
//
// # Search Results
//
// SearchResult carries the per-branch scores as well as the fused composite
// score used for ranking:
//
//	result := types.SearchResult{
//	    ChunkID:        "internal/cache/cache.go:10-42",
//	    Rank:           1,
//	    LexicalScore:   0.33,
//	    VectorScore:    1.0,
//	    CompositeScore: 0.67,
//	}
//
// Branch and composite scores are normalized to the [0, 1] range, with higher
// values indicating better matches.
//
// # Vectors
//
// EncodeVector and DecodeVector convert embeddings to and from the little
// endian float32 layout used by the SQLite store and the cache.
package types
