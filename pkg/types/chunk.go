package types

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
)

// ChunkType describes how a chunk was cut from its file.
type ChunkType string

const (
	ChunkLines ChunkType = "lines"
	ChunkFile  ChunkType = "file"
)

// Chunk is a contiguous section of a source file indexed for search.
type Chunk struct {
	ID          string
	FilePath    string // Relative to the indexed root
	Language    string
	StartLine   int
	EndLine     int
	Content     string
	ContentHash [32]byte
	ChunkType   ChunkType
}

// ChunkID returns the stable identifier for a line range of a file.
func ChunkID(path string, startLine, endLine int) string {
	return fmt.Sprintf("%s:%d-%d", path, startLine, endLine)
}

// NewChunk builds a line-range chunk with its ID and content hash filled in.
func NewChunk(path, language string, startLine, endLine int, content string) Chunk {
	c := Chunk{
		ID:        ChunkID(path, startLine, endLine),
		FilePath:  path,
		Language:  language,
		StartLine: startLine,
		EndLine:   endLine,
		Content:   content,
		ChunkType: ChunkLines,
	}
	c.ComputeContentHash()
	return c
}

// ComputeContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// Validate checks the chunk before it is stored.
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return ErrInvalidChunkID
	}
	if strings.TrimSpace(c.Content) == "" {
		return ErrEmptyContent
	}
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}
	var zeroHash [32]byte
	if c.ContentHash == zeroHash {
		return errors.New("content hash must be computed")
	}
	return nil
}

// Excerpt returns at most maxLines lines of the chunk content.
func (c *Chunk) Excerpt(maxLines int) string {
	return Excerpt(c.Content, maxLines)
}

// Excerpt trims text to at most maxLines lines.
func Excerpt(text string, maxLines int) string {
	if maxLines <= 0 {
		return text
	}
	lines := strings.SplitN(text, "\n", maxLines+1)
	if len(lines) <= maxLines {
		return text
	}
	return strings.Join(lines[:maxLines], "\n") + "\n..."
}
