// Package searcher implements hybrid code search over a lexical index and a
// routed vector store.
//
// A hybrid search embeds the query (through the embedding cache when one is
// configured), then runs the lexical and vector branches concurrently under
// one deadline. Each branch's scores are normalized to [0, 1] independently
// and fused:
//
//	composite = alpha*vector + (1-alpha)*lexical
//
// A chunk missing from a branch scores 0 for it. Results are ordered by
// composite score descending with ties broken by chunk ID, so a fixed corpus
// and query always produce the same ordering.
//
// # Degradation
//
// If the vector branch fails, times out or returns nothing while lexical
// results exist, the response carries the lexical ranking with Degraded set
// and a DegradedReason. The same holds with the branches swapped. Only when
// both branches fail does Search return an error: ErrSearchTimeout when both
// missed the deadline, ErrPartialFailure otherwise.
//
// # Normalization
//
//   - minmax (default): (s-min)/(max-min); a single or constant branch maps to 1.0
//   - zscore: logistic of the z-score
//   - rrf: (k+1)/(k+rank) with k=60
//
// # Usage
//
//	s, err := searcher.NewSearcher(storage.NewLexicalIndex(db), router, searcher.DefaultConfig(),
//	    searcher.WithEmbeddingCache(embeddings),
//	    searcher.WithResultCache(results),
//	)
//	resp, err := s.Search(ctx, searcher.Query{Text: "retry with backoff", Limit: 10})
//	for _, r := range resp.Results {
//	    fmt.Printf("%d. %s (%.3f)\n", r.Rank, r.ChunkID, r.CompositeScore)
//	}
package searcher
