// Package rag composes retrieval, context formatting and completion into
// the question-answering facade used by the CLI and HTTP surfaces.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/siftd/sift/internal/chunk"
	"github.com/siftd/sift/internal/contextfmt"
	"github.com/siftd/sift/internal/log"
)

// Searcher is the retrieval dependency.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]chunk.ContextItem, bool, error)
}

// Formatter serializes context items for the prompt.
type Formatter interface {
	Format(items []chunk.ContextItem, requested string) contextfmt.Decision
}

// Completer is the black-box completion model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options tunes the engine.
type Options struct {
	// MaxChunks is the k passed to retrieval.
	MaxChunks int

	// Style is the requested context encoding.
	Style string

	// MaxContextTokens bounds the formatted context. When exceeded, the
	// lowest-ranked items are dropped until the encoding fits. Zero
	// disables the bound.
	MaxContextTokens int
}

// Response is the outcome of one Answer or Search call.
type Response struct {
	// Answer is the completion text. Empty when no completer is
	// configured or no context was found.
	Answer string

	// Contexts are the retrieved items backing the answer.
	Contexts []chunk.ContextItem

	// Format and ContextTokens describe the encoded context.
	Format        string
	ContextTokens int

	// UsedWeb reports whether the web fallback contributed.
	UsedWeb bool

	// NoContext is set when retrieval found nothing at all. Callers must
	// surface this instead of pretending an empty prompt was answered.
	NoContext bool
}

// Engine answers queries over the indexed knowledge base.
type Engine struct {
	retriever Searcher
	formatter Formatter
	completer Completer // nil means contexts-only responses
	opts      Options
	logger    log.Logger
}

// New creates an Engine. completer may be nil, in which case Answer
// returns retrieved contexts without a completion.
func New(retriever Searcher, formatter Formatter, completer Completer, opts Options, logger log.Logger) (*Engine, error) {
	if retriever == nil || formatter == nil {
		return nil, errors.New("retriever and formatter are required")
	}
	if opts.MaxChunks < 1 {
		return nil, fmt.Errorf("max chunks must be positive, got %d", opts.MaxChunks)
	}
	return &Engine{
		retriever: retriever,
		formatter: formatter,
		completer: completer,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Search retrieves and formats context without invoking the completer.
func (e *Engine) Search(ctx context.Context, query string) (*Response, error) {
	return e.run(ctx, query, false)
}

// Answer retrieves context for the query and, when a completer is
// configured, generates an answer grounded in it.
func (e *Engine) Answer(ctx context.Context, query string) (*Response, error) {
	return e.run(ctx, query, true)
}

func (e *Engine) run(ctx context.Context, query string, complete bool) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is empty")
	}

	items, usedWeb, err := e.retriever.Search(ctx, query, e.opts.MaxChunks)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}
	if len(items) == 0 {
		return &Response{NoContext: true}, nil
	}

	decision, kept := e.encodeWithinBudget(items)
	resp := &Response{
		Contexts:      kept,
		Format:        decision.Format,
		ContextTokens: decision.Tokens,
		UsedWeb:       usedWeb,
	}

	if !complete || e.completer == nil {
		return resp, nil
	}

	answer, err := e.completer.Complete(ctx, buildPrompt(query, decision.Text))
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	resp.Answer = answer
	return resp, nil
}

// encodeWithinBudget formats the items, dropping the lowest-ranked ones
// until the encoding fits the token bound. It returns the decision and the
// items that made it into the encoding.
func (e *Engine) encodeWithinBudget(items []chunk.ContextItem) (contextfmt.Decision, []chunk.ContextItem) {
	decision := e.formatter.Format(items, e.opts.Style)
	if e.opts.MaxContextTokens <= 0 {
		return decision, items
	}
	for decision.Tokens > e.opts.MaxContextTokens && len(items) > 1 {
		items = items[:len(items)-1]
		decision = e.formatter.Format(items, e.opts.Style)
	}
	if decision.Tokens > e.opts.MaxContextTokens {
		e.logger.Warn("context exceeds token bound even with a single item",
			"tokens", decision.Tokens, "bound", e.opts.MaxContextTokens)
	}
	return decision, items
}

func buildPrompt(query, context string) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("If the context is insufficient, say so explicitly.\n\n")
	b.WriteString("Context:\n")
	b.WriteString(context)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	return b.String()
}
