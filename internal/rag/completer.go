package rag

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitCompleter generates completions through a genkit model.
type GenkitCompleter struct {
	g     *genkit.Genkit
	model string
}

// NewGenkitCompleter wires the named model, e.g. "googleai/gemini-2.0-flash".
func NewGenkitCompleter(g *genkit.Genkit, model string) *GenkitCompleter {
	return &GenkitCompleter{g: g, model: model}
}

// Complete runs one completion for the prompt.
func (c *GenkitCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.model),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}
	return resp.Text(), nil
}
