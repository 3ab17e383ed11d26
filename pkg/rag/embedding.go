package rag

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const embeddingModel = "gemini-embedding-001"

// GenAIEmbedder produces query embeddings with the Gemini embedding model.
type GenAIEmbedder struct {
	client *genai.Client
}

// NewGenAIEmbedder creates an embedder against the Gemini API.
func NewGenAIEmbedder(ctx context.Context, apiKey string) (*GenAIEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIEmbedder{client: client}, nil
}

// Embed returns the retrieval-query embedding for text.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Models.EmbedContent(ctx, embeddingModel,
		genai.Text(text),
		&genai.EmbedContentConfig{TaskType: "RETRIEVAL_QUERY"},
	)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}
	return resp.Embeddings[0].Values, nil
}
