package retrieval

import (
	"context"
	"errors"
)

var (
	// ErrInvalidChunking reports chunking parameters that cannot produce a
	// terminating window walk (overlap fraction >= 1, non-positive target).
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrEmbeddingFailed means both the batch call and the per-text fallback
	// against the embedding provider failed, or the provider returned vectors
	// of the wrong dimensionality.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrIndexUnavailable means the vector backend could not be reached or
	// collection setup failed. Callers may retry with backoff.
	ErrIndexUnavailable = errors.New("vector index unavailable")
)

// Page is one physical page of extracted document text. Plain-text sources
// are represented as a single synthetic page with Number 1.
type Page struct {
	Number int
	Text   string
	Order  int
}

// Chunk is a bounded slice of one page's text; it never spans two pages.
type Chunk struct {
	Text       string
	PageNumber int
}

// Point is a vector plus its payload, ready to be written into the index.
type Point struct {
	SessionID  string
	SourceID   string
	PageNumber int
	Text       string
	Vector     []float32
}

// ScoredPoint is a search hit: payload, stored vector, and the raw cosine
// similarity score in the index's native range.
type ScoredPoint struct {
	SessionID  string
	SourceID   string
	PageNumber int
	Text       string
	Vector     []float32
	Score      float64
}

// Citation is a read-only attribution record for one retrieved chunk.
type Citation struct {
	SourceID   string  `json:"source_id"`
	PageNumber int     `json:"page"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// Embedder maps text to fixed-dimension vectors. EmbedBatch is
// order-preserving and returns exactly one vector per input text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// VectorIndex stores points partitioned by session and serves filtered
// top-k cosine similarity search. Search against a session with no indexed
// content returns an empty slice, not an error.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []Point) (int, error)
	Search(ctx context.Context, vector []float32, limit int, sessionID string) ([]ScoredPoint, error)
}
