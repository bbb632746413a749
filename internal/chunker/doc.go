// Package chunker divides source files into overlapping line windows for
// embedding and search.
//
// # Basic Usage
//
//	c := chunker.New()
//	chunks, err := c.ChunkFile(root, "internal/routing/router.go")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, chunk := range chunks {
//	    fmt.Printf("%s: lines %d-%d\n", chunk.ID, chunk.StartLine, chunk.EndLine)
//	}
//
// # Chunking Strategy
//
// Files that fit in one window become a single chunk of type "file".
// Longer files are cut into windows of WindowLines lines, each starting
// OverlapLines before the end of the previous one, so a match spanning a
// boundary is still found whole in one chunk. A window over the token budget
// is halved until it fits. Tokens are counted with the cl100k_base encoding.
//
// Chunk IDs are "path:start-end", so unchanged windows keep their IDs across
// re-indexing and only edited regions are re-embedded.
package chunker
