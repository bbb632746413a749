// Package indexer keeps the chunk store and the vector collection in step
// with a source tree.
//
// # Basic Usage
//
//	idx := indexer.New(store, router, indexer.DefaultConfig(),
//	    indexer.WithCache(embeddingCache),
//	    indexer.OnChange(func(ctx context.Context) error {
//	        return searcher.InvalidateResults(ctx)
//	    }))
//
//	stats, err := idx.IndexPath(ctx, "/path/to/project")
//
// # Pipeline
//
//  1. Discovery: walk the tree, skip hidden and excluded directories,
//     unknown extensions, and (optionally) test files
//  2. Chunking: split each file into line windows
//  3. Change detection: compare chunk IDs and SHA-256 content hashes with
//     the stored chunks; unchanged files are skipped
//  4. Embedding: changed chunks are embedded through the router, at most
//     MaxInflightEmbeddings calls at a time across all workers
//  5. Storage: vectors are upserted, stale vectors deleted, then chunk rows
//     are replaced in one transaction
//
// Files that were indexed before but no longer exist are removed.
//
// Only one run may be active; a concurrent IndexPath returns
// ErrIndexingInProgress.
package indexer
