package ingest

import (
	"fmt"
	"strings"
)

// Chunker splits document content into word windows. Each chunk holds at
// most maxWords whitespace-delimited words and consecutive chunks share
// overlapWords words so context survives chunk boundaries. Word granularity
// only; no sentence awareness.
type Chunker struct {
	maxWords     int
	overlapWords int
}

// NewChunker validates the window parameters. overlapWords must be strictly
// smaller than maxWords or the window could never advance.
func NewChunker(maxWords, overlapWords int) (*Chunker, error) {
	if maxWords < 1 {
		return nil, fmt.Errorf("max words must be positive, got %d", maxWords)
	}
	if overlapWords < 0 || overlapWords >= maxWords {
		return nil, fmt.Errorf("overlap words %d must be in [0, %d)", overlapWords, maxWords)
	}
	return &Chunker{maxWords: maxWords, overlapWords: overlapWords}, nil
}

// Split returns the chunk texts for content. A document of N words yields
// ceil((N-overlap)/(maxWords-overlap)) chunks for N > maxWords and exactly
// one chunk otherwise. Empty or whitespace-only content yields nil.
func (c *Chunker) Split(content string) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= c.maxWords {
		return []string{strings.Join(words, " ")}
	}

	step := c.maxWords - c.overlapWords
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := min(start+c.maxWords, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
