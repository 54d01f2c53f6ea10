// Package embedding adapts langchaingo's embeddings.Embedder into the
// narrow Provider interface lumen's file watcher (C8) and search pipeline
// (C7) both depend on, so neither has to import langchaingo or know which
// concrete LLM backend produced the vectors.
package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider embeds text. EmbedDocuments is used for bulk ingestion (the
// watcher's chunk pipeline), EmbedQuery for a single user query (the
// search pipeline's variant generation).
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config configures an OpenAI-compatible embeddings endpoint. BaseURL lets
// this point at any OpenAI-protocol-compatible server (vLLM, llama.cpp,
// text-embeddings-inference), matching how the corpus's own embedding
// service is wired.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
}

type langchainProvider struct {
	embedder embeddings.Embedder
}

// NewProvider constructs a Provider backed by an OpenAI-protocol embeddings
// endpoint via langchaingo.
func NewProvider(cfg Config) (Provider, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("construct embeddings backend: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("construct embedder: %w", err)
	}

	return &langchainProvider{embedder: embedder}, nil
}

// NewFromEmbedder wraps an already-constructed langchaingo embedder,
// primarily for tests that substitute a fake llms.Model.
func NewFromEmbedder(e embeddings.Embedder) Provider {
	return &langchainProvider{embedder: e}
}

func (p *langchainProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embedding: texts cannot be empty")
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	return vectors, nil
}

func (p *langchainProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embedding: text cannot be empty")
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vector, nil
}
