// Package embed wraps the black-box embedding model behind a small client.
// The model is an explicitly constructed, injected dependency; nothing in
// this package holds process-global state.
package embed

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// Client converts text to vectors through a Genkit embedder.
type Client struct {
	embedder ai.Embedder
}

// New creates an embedding client.
func New(embedder ai.Embedder) *Client {
	return &Client{embedder: embedder}
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("generating embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding for input %d", i)
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

// EmbedOne returns the vector for a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
