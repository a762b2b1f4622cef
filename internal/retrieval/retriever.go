package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	// NoContextSentinel is returned by AnswerContext when the session has no
	// indexed content. An empty session is a routine state, never an error.
	NoContextSentinel = "No documents have been indexed for this session yet."

	// blockSeparator joins labeled context blocks.
	blockSeparator = "\n\n---\n\n"

	// snippetMaxRunes bounds the citation snippet length.
	snippetMaxRunes = 240
)

// Config carries the retrieval tuning knobs. The defaults mirror the values
// the pipeline was tuned with; none of them derive from a measured trade-off.
// Zero is a meaningful setting for ChunkOverlapFraction (no overlap) and
// MMRLambda (pure diversity); "use the default" is expressed by a value
// outside the valid range, e.g. a negative one.
type Config struct {
	ChunkTargetTokens    int
	ChunkOverlapFraction float64
	TopK                 int
	MMRLambda            float64
	OverfetchFactor      int
}

func (c Config) withDefaults() Config {
	if c.ChunkTargetTokens <= 0 {
		c.ChunkTargetTokens = 800
	}
	if c.ChunkOverlapFraction < 0 || c.ChunkOverlapFraction >= 1 {
		c.ChunkOverlapFraction = 0.10
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MMRLambda < 0 || c.MMRLambda > 1 {
		c.MMRLambda = 0.5
	}
	if c.OverfetchFactor <= 0 {
		c.OverfetchFactor = 8
	}
	return c
}

// IngestStats reports what one ingestion call produced.
type IngestStats struct {
	Chunks int `json:"chunks"`
	Points int `json:"points"`
}

// Retriever composes the chunker, embedder, vector index and diversity
// selector into the two core operations: documents -> indexed points, and
// question -> context + citations. Dependencies are injected once at
// construction; there is no package-level shared state.
type Retriever struct {
	embedder Embedder
	index    VectorIndex
	cfg      Config
	log      *zap.Logger

	mu      sync.Mutex
	ensured bool
}

func NewRetriever(embedder Embedder, index VectorIndex, cfg Config, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// ensureCollection makes sure the backing collection exists. It is safe to
// call repeatedly; after the first success it is a no-op for the lifetime of
// the Retriever. A failure does not latch, so the caller can retry.
func (r *Retriever) ensureCollection(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ensured {
		return nil
	}
	if err := r.index.EnsureCollection(ctx, r.embedder.Dimension()); err != nil {
		return fmt.Errorf("ensure collection for session ingest: %w", err)
	}
	r.ensured = true
	return nil
}

// Ingest chunks the pages, embeds every chunk in batch and upserts the
// resulting points tagged with sessionID and sourceID. Either all chunks of
// the call are embedded and upserted, or none are.
func (r *Retriever) Ingest(ctx context.Context, sessionID, sourceID string, pages []Page) (IngestStats, error) {
	chunks, err := ChunkPages(pages, r.cfg.ChunkTargetTokens, r.cfg.ChunkOverlapFraction)
	if err != nil {
		return IngestStats{}, err
	}
	if len(chunks) == 0 {
		return IngestStats{}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return IngestStats{}, fmt.Errorf("ingest session %s source %s: %w", sessionID, sourceID, err)
	}

	// Positional alignment: the Nth chunk maps to the Nth vector.
	points := make([]Point, len(chunks))
	for i, c := range chunks {
		points[i] = Point{
			SessionID:  sessionID,
			SourceID:   sourceID,
			PageNumber: c.PageNumber,
			Text:       c.Text,
			Vector:     vectors[i],
		}
	}

	if err := r.ensureCollection(ctx); err != nil {
		return IngestStats{}, err
	}
	inserted, err := r.index.Upsert(ctx, points)
	if err != nil {
		return IngestStats{}, fmt.Errorf("ingest session %s source %s: %w", sessionID, sourceID, err)
	}

	r.log.Info("ingested document",
		zap.String("session_id", sessionID),
		zap.String("source_id", sourceID),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)),
		zap.Int("points", inserted))
	return IngestStats{Chunks: len(chunks), Points: inserted}, nil
}

// AnswerContext embeds the question, over-fetches candidates from the index
// scoped to sessionID, narrows them with MMR and renders the selected chunks
// into labeled context blocks plus a parallel citation list. topK and lambda
// fall back to the configured defaults when non-positive / out of range.
func (r *Retriever) AnswerContext(ctx context.Context, sessionID, question string, topK int, lambda float64) (string, []Citation, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	if lambda < 0 || lambda > 1 {
		lambda = r.cfg.MMRLambda
	}

	queryVec, err := r.embedder.EmbedOne(ctx, question)
	if err != nil {
		return "", nil, fmt.Errorf("answer context for session %s: %w", sessionID, err)
	}

	hits, err := r.index.Search(ctx, queryVec, topK*r.cfg.OverfetchFactor, sessionID)
	if err != nil {
		return "", nil, fmt.Errorf("answer context for session %s: %w", sessionID, err)
	}
	if len(hits) == 0 {
		return NoContextSentinel, []Citation{}, nil
	}

	candidates := make([][]float32, len(hits))
	for i, h := range hits {
		candidates[i] = h.Vector
	}
	order := SelectDiverse(queryVec, candidates, lambda, topK)

	blocks := make([]string, 0, len(order))
	citations := make([]Citation, 0, len(order))
	for _, idx := range order {
		hit := hits[idx]
		blocks = append(blocks, fmt.Sprintf("[%s (p.%d)]\n%s", hit.SourceID, hit.PageNumber, hit.Text))
		citations = append(citations, Citation{
			SourceID:   hit.SourceID,
			PageNumber: hit.PageNumber,
			Score:      hit.Score,
			Snippet:    snippet(hit.Text),
		})
	}

	r.log.Debug("selected context",
		zap.String("session_id", sessionID),
		zap.Int("candidates", len(hits)),
		zap.Int("selected", len(order)))
	return strings.Join(blocks, blockSeparator), citations, nil
}

// snippet truncates text to snippetMaxRunes runes, appending an ellipsis
// marker only when something was actually cut.
func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetMaxRunes {
		return text
	}
	return string(runes[:snippetMaxRunes]) + "…"
}
