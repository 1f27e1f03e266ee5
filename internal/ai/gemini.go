package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/asadalpha/gitflair/internal/faults"
)

const (
	taskTypeQuery    = "RETRIEVAL_QUERY"
	taskTypeDocument = "RETRIEVAL_DOCUMENT"

	// The embedding endpoint caps the number of inputs per request.
	documentBatchSize = 100
)

// GeminiClient talks to the Gemini API for embeddings and generation.
type GeminiClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewGeminiClient creates a new client for the Google Gemini API.
func NewGeminiClient(ctx context.Context, config *ClientConfig) (*GeminiClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("gemini API key is required")
	}

	if config.EmbedModel == "" {
		config.EmbedModel = "gemini-embedding-001"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gemini-2.5-flash-lite"
	}
	if config.Dim == 0 {
		config.Dim = 3072
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{config: config, client: client}, nil
}

// embed issues one EmbedContent call for texts with the given intent hint.
func (c *GeminiClient) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.Text(t)...)
	}

	cfg := genai.EmbedContentConfig{TaskType: taskType}
	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, classify(err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		got := 0
		if res != nil {
			got = len(res.Embeddings)
		}
		return nil, &faults.Dependency{
			System: "gemini",
			Err:    fmt.Errorf("embedding count mismatch: got %d vectors for %d inputs", got, len(texts)),
		}
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e != nil {
			out[i] = e.Values
		}
	}
	return out, nil
}

// EmbedQuery embeds a single question with retrieval-query intent.
func (c *GeminiClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text}, taskTypeQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds texts with retrieval-document intent, batching the
// inputs and concatenating the results in input order.
func (c *GeminiClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range inBatches(texts, documentBatchSize) {
		vecs, err := c.embed(ctx, batch, taskTypeDocument)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Generate produces an answer for the given prompt.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.config.ChatModel, genai.Text(prompt), nil)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &faults.Dependency{System: "gemini", Err: errors.New("no answer returned")}
	}
	return strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text), nil
}

func (c *GeminiClient) Dim() int {
	return c.config.Dim
}

// classify separates the provider's rate/quota-exhaustion condition from
// other failures; retry policy is left to the caller either way.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return &faults.ProviderQuota{Provider: "gemini", Err: err}
		}
		return &faults.Dependency{System: "gemini", Err: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(strings.ToLower(msg), "quota") {
		return &faults.ProviderQuota{Provider: "gemini", Err: err}
	}
	return &faults.Dependency{System: "gemini", Err: err}
}
