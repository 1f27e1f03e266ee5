package ai

import (
	"context"
	"errors"
)

// Client provides embedding and answer-generation capabilities. Query and
// document embeddings carry different intent hints and are not
// interchangeable.
type Client interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Generate(ctx context.Context, prompt string) (string, error)
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderStub   Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	ChatModel  string
	Dim        int
	Provider   Provider
}

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// inBatches groups texts into order-preserving batches of at most size
// entries, matching the provider's payload limit for document embedding.
func inBatches(texts []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var batches [][]string
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[start:end])
	}
	return batches
}

// StubClient is a deterministic in-process implementation of Client for
// tests and offline runs.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	return &StubClient{dim: dim}
}

func (s *StubClient) vector(text string) []float32 {
	v := make([]float32, s.dim)
	for i := range v {
		v[i] = float32((len(text)+i)%13) / 13
	}
	return v
}

// EmbedQuery returns a deterministic vector derived from the text length.
func (s *StubClient) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return s.vector(text), nil
}

// EmbedDocuments returns one deterministic vector per input, in input order.
func (s *StubClient) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, s.vector(t))
	}
	return out, nil
}

// Generate returns a canned answer.
func (s *StubClient) Generate(_ context.Context, _ string) (string, error) {
	return "stub answer", nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
