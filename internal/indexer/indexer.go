package indexer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/codecontext/internal/cache"
	"github.com/dshills/codecontext/internal/chunker"
	"github.com/dshills/codecontext/internal/storage"
	"github.com/dshills/codecontext/pkg/types"
)

// ErrIndexingInProgress is returned when another indexing run holds the lock.
var ErrIndexingInProgress = errors.New("indexing already in progress")

// Router embeds chunk text and writes vectors, usually a *routing.Router.
type Router interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, collection, id string) error
}

// ChangeFunc is called after a run that changed the corpus.
type ChangeFunc func(ctx context.Context) error

// Config contains configuration for the indexer
type Config struct {
	Workers               int      // Number of files indexed concurrently (default: runtime.NumCPU())
	MaxInflightEmbeddings int      // Concurrent embedding calls across all workers (default: 4)
	Collection            string   // Vector collection (default: "code")
	IncludeTests          bool     // Whether to index test files
	MaxFileBytes          int64    // Larger files are skipped (default: 1 MiB)
	ExcludeDirs           []string // Directory names never descended into
}

// DefaultConfig returns the default indexer settings.
func DefaultConfig() Config {
	return Config{
		Workers:               runtime.NumCPU(),
		MaxInflightEmbeddings: 4,
		Collection:            "code",
		IncludeTests:          true,
		MaxFileBytes:          1 << 20,
		ExcludeDirs:           []string{"vendor", "node_modules", "target", "dist", "build"},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxInflightEmbeddings <= 0 {
		c.MaxInflightEmbeddings = d.MaxInflightEmbeddings
	}
	if c.Collection == "" {
		c.Collection = d.Collection
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = d.MaxFileBytes
	}
	if c.ExcludeDirs == nil {
		c.ExcludeDirs = d.ExcludeDirs
	}
	return c
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	FilesIndexed   int           `json:"files_indexed"`
	FilesSkipped   int           `json:"files_skipped"`
	FilesFailed    int           `json:"files_failed"`
	FilesRemoved   int           `json:"files_removed"`
	ChunksEmbedded int           `json:"chunks_embedded"`
	ChunksRemoved  int           `json:"chunks_removed"`
	Duration       time.Duration `json:"duration"`
	ErrorMessages  []string      `json:"errors,omitempty"`
}

// Indexer coordinates the indexing pipeline: chunk -> embed -> store
type Indexer struct {
	store    storage.Storage
	router   Router
	chunker  *chunker.Chunker
	cache    *cache.Cache
	sem      *semaphore.Weighted
	lock     IndexLock
	cfg      Config
	logger   *zap.Logger
	onChange ChangeFunc
}

// Option customizes an Indexer.
type Option func(*Indexer)

// WithCache memoises chunk embeddings by content hash.
func WithCache(c *cache.Cache) Option {
	return func(idx *Indexer) { idx.cache = c }
}

// WithChunker replaces the default chunker.
func WithChunker(c *chunker.Chunker) Option {
	return func(idx *Indexer) {
		if c != nil {
			idx.chunker = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// OnChange registers a callback run after the corpus changes.
func OnChange(fn ChangeFunc) Option {
	return func(idx *Indexer) { idx.onChange = fn }
}

// New creates a new Indexer instance
func New(store storage.Storage, router Router, cfg Config, opts ...Option) *Indexer {
	cfg = cfg.withDefaults()
	idx := &Indexer{
		store:   store,
		router:  router,
		chunker: chunker.New(),
		sem:     semaphore.NewWeighted(int64(cfg.MaxInflightEmbeddings)),
		cfg:     cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Indexing reports whether a run is in progress.
func (idx *Indexer) Indexing() bool { return idx.lock.Held() }

// runStats collects counters from concurrent workers.
type runStats struct {
	indexed, skipped, failed, removed atomic.Int32
	embedded, chunksRemoved           atomic.Int32

	mu     sync.Mutex
	errors []string
}

func (s *runStats) fail(path string, err error) {
	s.failed.Add(1)
	s.mu.Lock()
	s.errors = append(s.errors, fmt.Sprintf("%s: %v", path, err))
	s.mu.Unlock()
}

func (s *runStats) statistics(d time.Duration) *Statistics {
	sort.Strings(s.errors)
	return &Statistics{
		FilesIndexed:   int(s.indexed.Load()),
		FilesSkipped:   int(s.skipped.Load()),
		FilesFailed:    int(s.failed.Load()),
		FilesRemoved:   int(s.removed.Load()),
		ChunksEmbedded: int(s.embedded.Load()),
		ChunksRemoved:  int(s.chunksRemoved.Load()),
		Duration:       d,
		ErrorMessages:  s.errors,
	}
}

// IndexPath indexes every eligible file under root. Files whose chunks are
// unchanged are skipped; files that disappeared are removed from the index.
// A failing file is recorded in the statistics and does not stop the run.
func (idx *Indexer) IndexPath(ctx context.Context, root string) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	files, err := idx.discoverFiles(root)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	stats := &runStats{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.cfg.Workers)
	for _, rel := range files {
		g.Go(func() error {
			if err := idx.indexFile(gctx, root, rel, stats); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				idx.logger.Warn("failed to index file", zap.String("path", rel), zap.Error(err))
				stats.fail(rel, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := idx.removeMissing(ctx, files, stats); err != nil {
		return nil, err
	}

	result := stats.statistics(time.Since(start))
	if result.ChunksEmbedded > 0 || result.ChunksRemoved > 0 {
		idx.notifyChange(ctx)
	}
	idx.logger.Info("indexing complete",
		zap.String("root", root),
		zap.Int("indexed", result.FilesIndexed),
		zap.Int("skipped", result.FilesSkipped),
		zap.Int("failed", result.FilesFailed),
		zap.Int("removed", result.FilesRemoved),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// RemoveFile drops a file's chunks and vectors from the index.
func (idx *Indexer) RemoveFile(ctx context.Context, relPath string) (int, error) {
	n, err := idx.removeFile(ctx, filepath.ToSlash(relPath))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		idx.notifyChange(ctx)
	}
	return n, nil
}

func (idx *Indexer) notifyChange(ctx context.Context) {
	if idx.onChange == nil {
		return
	}
	if err := idx.onChange(ctx); err != nil {
		idx.logger.Warn("change callback failed", zap.Error(err))
	}
}

// discoverFiles returns slash-separated paths relative to root, sorted.
func (idx *Indexer) discoverFiles(root string) ([]string, error) {
	exclude := make(map[string]bool, len(idx.cfg.ExcludeDirs))
	for _, d := range idx.cfg.ExcludeDirs {
		exclude[d] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			// Skip hidden and excluded directories
			if strings.HasPrefix(name, ".") || exclude[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(name, ".") {
			return nil
		}
		if chunker.Language(name) == "" {
			return nil
		}
		if !idx.cfg.IncludeTests && isTestFile(name) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}

func isTestFile(name string) bool {
	return strings.HasSuffix(name, "_test.go") ||
		strings.HasSuffix(name, "_test.py") ||
		strings.Contains(name, ".test.") ||
		strings.Contains(name, ".spec.")
}

// indexFile re-embeds the chunks of one file whose content changed and
// replaces the file's stored chunks. Vectors are written before the chunk
// rows so that a failed run leaves the old chunk hashes and is retried.
func (idx *Indexer) indexFile(ctx context.Context, root, rel string, stats *runStats) error {
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	if info.Size() > idx.cfg.MaxFileBytes {
		stats.skipped.Add(1)
		return nil
	}

	chunks, err := idx.chunker.ChunkFile(root, filepath.FromSlash(rel))
	if err != nil {
		return err
	}

	existing, err := idx.store.ListChunksByFile(ctx, rel)
	if err != nil {
		return fmt.Errorf("failed to load stored chunks: %w", err)
	}
	old := make(map[string]*types.Chunk, len(existing))
	for _, c := range existing {
		old[c.ID] = c
	}

	var changed []*types.Chunk
	current := make(map[string]bool, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		current[c.ID] = true
		if prev, ok := old[c.ID]; ok && prev.ContentHash == c.ContentHash && prev.ChunkType == c.ChunkType {
			continue
		}
		changed = append(changed, c)
	}
	var stale []string
	for id := range old {
		if !current[id] {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)

	if len(changed) == 0 && len(stale) == 0 {
		stats.skipped.Add(1)
		return nil
	}

	if err := idx.embedChunks(ctx, changed, old); err != nil {
		return err
	}
	for _, id := range stale {
		if err := idx.router.Delete(ctx, idx.cfg.Collection, id); err != nil {
			return fmt.Errorf("failed to delete vector %s: %w", id, err)
		}
		idx.invalidate(ctx, old[id])
	}

	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range stale {
		if err := tx.DeleteChunk(ctx, id); err != nil {
			return fmt.Errorf("failed to delete chunk %s: %w", id, err)
		}
	}
	for _, c := range changed {
		if err := tx.UpsertChunk(ctx, c); err != nil {
			return fmt.Errorf("failed to store chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	stats.indexed.Add(1)
	stats.embedded.Add(int32(len(changed)))
	stats.chunksRemoved.Add(int32(len(stale)))
	return nil
}

// embedChunks embeds and upserts chunks concurrently. The semaphore bounds
// embedding calls across every file being indexed.
func (idx *Indexer) embedChunks(ctx context.Context, chunks []*types.Chunk, old map[string]*types.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		g.Go(func() error {
			vec, err := idx.embed(gctx, c)
			if err != nil {
				return fmt.Errorf("failed to embed %s: %w", c.ID, err)
			}
			if err := idx.router.Upsert(gctx, idx.cfg.Collection, c.ID, vec, metadata(c)); err != nil {
				return fmt.Errorf("failed to store vector %s: %w", c.ID, err)
			}
			if prev, ok := old[c.ID]; ok {
				idx.invalidate(gctx, prev)
			}
			return nil
		})
	}
	return g.Wait()
}

func (idx *Indexer) embed(ctx context.Context, c *types.Chunk) ([]float32, error) {
	compute := func(ctx context.Context) ([]float32, error) {
		if err := idx.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer idx.sem.Release(1)
		return idx.router.Embed(ctx, c.Content)
	}
	if idx.cache == nil {
		return compute(ctx)
	}
	return idx.cache.GetOrComputeVector(ctx, chunkKey(c), compute)
}

// invalidate drops the cached embedding of a chunk's previous content.
func (idx *Indexer) invalidate(ctx context.Context, c *types.Chunk) {
	if idx.cache == nil || c == nil {
		return
	}
	if err := idx.cache.Invalidate(ctx, chunkKey(c)); err != nil {
		idx.logger.Debug("cache invalidation failed", zap.String("chunk_id", c.ID), zap.Error(err))
	}
}

func chunkKey(c *types.Chunk) string {
	return cache.Fingerprint("chunk-embedding", hex.EncodeToString(c.ContentHash[:]))
}

func metadata(c *types.Chunk) map[string]string {
	return map[string]string{
		"path":       c.FilePath,
		"language":   c.Language,
		"start_line": strconv.Itoa(c.StartLine),
		"end_line":   strconv.Itoa(c.EndLine),
	}
}

// removeMissing drops indexed files that were not discovered in this run.
func (idx *Indexer) removeMissing(ctx context.Context, discovered []string, stats *runStats) error {
	indexed, err := idx.store.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list indexed files: %w", err)
	}
	present := make(map[string]bool, len(discovered))
	for _, f := range discovered {
		present[f] = true
	}
	for _, f := range indexed {
		if present[f] {
			continue
		}
		n, err := idx.removeFile(ctx, f)
		if err != nil {
			stats.fail(f, err)
			continue
		}
		stats.removed.Add(1)
		stats.chunksRemoved.Add(int32(n))
	}
	return nil
}

func (idx *Indexer) removeFile(ctx context.Context, rel string) (int, error) {
	chunks, err := idx.store.ListChunksByFile(ctx, rel)
	if err != nil {
		return 0, err
	}
	for _, c := range chunks {
		if err := idx.router.Delete(ctx, idx.cfg.Collection, c.ID); err != nil {
			return 0, fmt.Errorf("failed to delete vector %s: %w", c.ID, err)
		}
		idx.invalidate(ctx, c)
	}
	ids, err := idx.store.DeleteChunksByFile(ctx, rel)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
