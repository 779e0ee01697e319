// Package chunk defines the data model shared by ingestion, retrieval,
// web fallback and context formatting: the stored Chunk record and the
// normalized ContextItem handed to the formatter.
package chunk

import "fmt"

// Source values recorded on chunks and context items.
const (
	// SourceKB marks content retrieved from the local knowledge base.
	SourceKB = "kb"

	// SourceWeb marks content fetched through the web fallback.
	SourceWeb = "web"
)

// Chunk is one retrievable unit of content.
//
// ID is unique within a store and derived from the document: DocID plus a
// zero-based ordinal (see NewID). Score is query-time only; it is never
// populated on chunks handed to Upsert. Extra carries open provenance
// metadata (repository URL, provider name, content hash) that does not
// need uniform treatment elsewhere.
type Chunk struct {
	DocID     string
	ID        string
	Path      string
	Content   string
	Embedding []float32
	Score     float32
	Source    string
	Extra     map[string]string
}

// NewID builds the chunk identifier for the ordinal-th chunk of a document.
func NewID(docID string, ordinal int) string {
	return fmt.Sprintf("%s#%04d", docID, ordinal)
}

// ContextItem is the normalized unit consumed by the context formatter.
// A projection of a Chunk or of a web crawl result. Fields without a
// meaningful value hold their explicit zero value so item lists stay
// uniform for compact encodings.
type ContextItem struct {
	Title    string            `json:"title"`
	Location string            `json:"location"`
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Source   string            `json:"source"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// FromChunk projects a stored chunk onto a ContextItem.
func FromChunk(c Chunk) ContextItem {
	source := c.Source
	if source == "" {
		source = SourceKB
	}
	return ContextItem{
		Title:    c.DocID,
		Location: c.Path,
		Content:  c.Content,
		Score:    c.Score,
		Source:   source,
		Extra:    c.Extra,
	}
}
