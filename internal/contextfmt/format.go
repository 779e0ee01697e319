// Package contextfmt serializes retrieved context items into the prompt
// text handed to the completion model, choosing among encodings that trade
// token cost against structure, and counting the tokens of the result.
package contextfmt

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/siftd/sift/internal/chunk"
	"github.com/siftd/sift/internal/log"
)

// Supported encodings.
const (
	// FormatPlain concatenates item content with separators. Used for
	// single items and as the failure fallback.
	FormatPlain = "plain"

	// FormatStructured is indented JSON. Verbose; useful for debugging.
	FormatStructured = "structured"

	// FormatTabular is CSV with a shared header. Most token-efficient for
	// uniform multi-item inputs.
	FormatTabular = "tabular"

	// FormatMixed is CSV for the primary fields plus a compact JSON blob
	// carrying per-row provenance metadata.
	FormatMixed = "mixed"
)

// Decision is the outcome of one formatting call.
type Decision struct {
	// Format is the encoding actually used, which may differ from the
	// requested one (single item, unrecognized request, or fallback).
	Format string

	// Text is the serialized context.
	Text string

	// Tokens counts the tokens of Text.
	Tokens int
}

// Options tunes the formatter.
type Options struct {
	// MaxItemChars truncates each item's content before encoding.
	// Zero disables truncation.
	MaxItemChars int
}

// Formatter encodes context items.
type Formatter struct {
	opts    Options
	counter *TokenCounter
	logger  log.Logger
}

// New creates a Formatter sharing the given token counter.
func New(opts Options, counter *TokenCounter, logger log.Logger) *Formatter {
	return &Formatter{opts: opts, counter: counter, logger: logger}
}

// Format serializes items in the requested encoding and returns the
// decision. It never fails: a single item always renders plain,
// an unrecognized request renders mixed, and a serialization error logs
// and falls back to plain.
func (f *Formatter) Format(items []chunk.ContextItem, requested string) Decision {
	items = f.truncated(items)

	format := requested
	switch {
	case len(items) <= 1:
		format = FormatPlain
	case format != FormatPlain && format != FormatStructured && format != FormatTabular && format != FormatMixed:
		format = FormatMixed
	}

	text, err := encode(format, items)
	if err != nil {
		f.logger.Warn("context encoding failed, falling back to plain", "format", format, "error", err)
		format = FormatPlain
		text, _ = encode(FormatPlain, items)
	}

	return Decision{Format: format, Text: text, Tokens: f.counter.Count(text)}
}

// truncated returns items with content cut to MaxItemChars. The input is
// never mutated; retrieval results may be reused by the caller.
func (f *Formatter) truncated(items []chunk.ContextItem) []chunk.ContextItem {
	if f.opts.MaxItemChars <= 0 {
		return items
	}
	out := make([]chunk.ContextItem, len(items))
	copy(out, items)
	for i := range out {
		runes := []rune(out[i].Content)
		if len(runes) > f.opts.MaxItemChars {
			out[i].Content = string(runes[:f.opts.MaxItemChars])
		}
	}
	return out
}

func encode(format string, items []chunk.ContextItem) (string, error) {
	switch format {
	case FormatStructured:
		return encodeStructured(items)
	case FormatTabular:
		return encodeTabular(items)
	case FormatMixed:
		return encodeMixed(items)
	default:
		return encodePlain(items), nil
	}
}

// encodePlain renders one block per item with a short provenance header.
// It cannot fail.
func encodePlain(items []chunk.ContextItem) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s (%s, %s)\n", i+1, it.Title, it.Location, it.Source)
		b.WriteString(it.Content)
	}
	return b.String()
}

func encodeStructured(items []chunk.ContextItem) (string, error) {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding structured context: %w", err)
	}
	return string(data), nil
}

var tabularHeader = []string{"title", "location", "source", "score", "content"}

func encodeTabular(items []chunk.ContextItem) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(tabularHeader); err != nil {
		return "", fmt.Errorf("encoding tabular context: %w", err)
	}
	for _, it := range items {
		row := []string{
			it.Title,
			it.Location,
			it.Source,
			strconv.FormatFloat(float64(it.Score), 'f', 4, 32),
			it.Content,
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("encoding tabular context: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("encoding tabular context: %w", err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// encodeMixed emits the tabular encoding followed by a single-line JSON
// object mapping row numbers to their extra metadata, so provenance
// survives the flattening without paying indented-JSON cost per row.
func encodeMixed(items []chunk.ContextItem) (string, error) {
	table, err := encodeTabular(items)
	if err != nil {
		return "", err
	}

	provenance := make(map[string]map[string]string)
	for i, it := range items {
		if len(it.Extra) > 0 {
			provenance[strconv.Itoa(i+1)] = it.Extra
		}
	}
	if len(provenance) == 0 {
		return table, nil
	}

	blob, err := json.Marshal(provenance)
	if err != nil {
		return "", fmt.Errorf("encoding provenance blob: %w", err)
	}
	return table + "\n\nprovenance: " + string(blob), nil
}
