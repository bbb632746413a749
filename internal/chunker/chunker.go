package chunker

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/codecontext/internal/embedder"
	"github.com/dshills/codecontext/pkg/types"
)

const (
	// DefaultWindowLines is the number of lines per chunk
	DefaultWindowLines = 40

	// DefaultOverlapLines is the number of lines shared by consecutive chunks
	DefaultOverlapLines = 5

	// MaxTokensPerChunk is the target maximum token count per chunk
	MaxTokensPerChunk = 1000
)

// languages maps file extensions to language names.
var languages = map[string]string{
	".go":    "go",
	".rs":    "rust",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".sql":   "sql",
	".proto": "protobuf",
	".md":    "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".json":  "json",
}

// Language returns the language for a path, or "" when unknown.
func Language(path string) string {
	return languages[strings.ToLower(filepath.Ext(path))]
}

// Config controls chunk sizes.
type Config struct {
	WindowLines  int
	OverlapLines int
	MaxTokens    int
}

// Chunker cuts source files into overlapping line windows
type Chunker struct {
	cfg        Config
	countTokens func(string) int
}

// New creates a new Chunker with default sizes
func New() *Chunker {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a Chunker. Zero fields take defaults; an overlap that
// is not smaller than the window is reduced to window-1.
func NewWithConfig(cfg Config) *Chunker {
	if cfg.WindowLines <= 0 {
		cfg.WindowLines = DefaultWindowLines
	}
	if cfg.OverlapLines < 0 {
		cfg.OverlapLines = 0
	}
	if cfg.OverlapLines == 0 && cfg.WindowLines > DefaultOverlapLines*2 {
		cfg.OverlapLines = DefaultOverlapLines
	}
	if cfg.OverlapLines >= cfg.WindowLines {
		cfg.OverlapLines = cfg.WindowLines - 1
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = MaxTokensPerChunk
	}
	return &Chunker{cfg: cfg, countTokens: embedder.CountTokens}
}

// Config returns the effective sizes.
func (c *Chunker) Config() Config { return c.cfg }

// ChunkFile reads root/relPath and chunks it.
func (c *Chunker) ChunkFile(root, relPath string) ([]types.Chunk, error) {
	content, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return c.Chunk(relPath, content), nil
}

// Chunk splits content into line windows. Binary content and whitespace-only
// windows produce no chunks. A file that fits in one window becomes a single
// file chunk.
func (c *Chunker) Chunk(path string, content []byte) []types.Chunk {
	if IsBinary(content) {
		return nil
	}
	path = filepath.ToSlash(path)
	lang := Language(path)

	text := strings.TrimRight(string(content), "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := strings.Split(text, "\n")

	if len(lines) <= c.cfg.WindowLines && c.countTokens(text) <= c.cfg.MaxTokens {
		chunk := types.NewChunk(path, lang, 1, len(lines), text)
		chunk.ChunkType = types.ChunkFile
		return []types.Chunk{chunk}
	}

	chunks := make([]types.Chunk, 0, len(lines)/c.cfg.WindowLines+1)
	for start := 0; start < len(lines); {
		end := c.windowEnd(lines, start)
		body := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(body) != "" {
			chunks = append(chunks, types.NewChunk(path, lang, start+1, end, body))
		}
		if end >= len(lines) {
			break
		}
		next := end - c.cfg.OverlapLines
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// windowEnd returns the exclusive end of the window starting at start,
// shrinking it until it fits the token budget or is a single line.
func (c *Chunker) windowEnd(lines []string, start int) int {
	end := start + c.cfg.WindowLines
	if end > len(lines) {
		end = len(lines)
	}
	for end-start > 1 && c.countTokens(strings.Join(lines[start:end], "\n")) > c.cfg.MaxTokens {
		end = start + (end-start)/2
	}
	return end
}

// IsBinary reports whether content looks like a binary file.
func IsBinary(content []byte) bool {
	head := content
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0
}
