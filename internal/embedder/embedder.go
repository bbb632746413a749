package embedder

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/dshills/codecontext/internal/provider"
)

// Common errors
var (
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrNoTexts           = errors.New("no texts provided")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrUnsupportedModel  = errors.New("unsupported provider")
)

// Provider names
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
)

// Default models and dimensions
const (
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"

	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// MaxBatchSize is the largest batch sent in one API request; larger
	// batches are split.
	MaxBatchSize = 100
)

// ComputeHash computes SHA-256 hash of text
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateText rejects input no provider can embed.
func ValidateText(name, text string) error {
	if strings.TrimSpace(text) == "" {
		return provider.NewError(provider.KindInvalidInput, name, ErrEmptyText)
	}
	return nil
}

// ValidateBatch validates every text of a batch.
func ValidateBatch(name string, texts []string) error {
	if len(texts) == 0 {
		return provider.NewError(provider.KindInvalidInput, name, ErrNoTexts)
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return provider.Errorf(provider.KindInvalidInput, name, "text at index %d is empty", i)
		}
	}
	return nil
}
