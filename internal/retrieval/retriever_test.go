package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	dimension int
	embedFn   func(texts []string) ([][]float32, error)
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return s.embedFn(texts)
}

func (s *stubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedFn([]string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *stubEmbedder) Dimension() int { return s.dimension }

type stubIndex struct {
	ensureCalls int
	ensureErr   error
	upserted    [][]Point
	searchHits  []ScoredPoint
	lastLimit   int
	lastSession string
}

func (s *stubIndex) EnsureCollection(_ context.Context, _ int) error {
	s.ensureCalls++
	return s.ensureErr
}

func (s *stubIndex) Upsert(_ context.Context, points []Point) (int, error) {
	s.upserted = append(s.upserted, points)
	return len(points), nil
}

func (s *stubIndex) Search(_ context.Context, _ []float32, limit int, sessionID string) ([]ScoredPoint, error) {
	s.lastLimit = limit
	s.lastSession = sessionID
	return s.searchHits, nil
}

func indexedEmbedder(dimension int) *stubEmbedder {
	// Encodes each text's position into its vector so alignment failures
	// are visible in assertions.
	return &stubEmbedder{
		dimension: dimension,
		embedFn: func(texts []string) ([][]float32, error) {
			vectors := make([][]float32, len(texts))
			for i := range texts {
				v := make([]float32, dimension)
				v[0] = float32(i + 1)
				vectors[i] = v
			}
			return vectors, nil
		},
	}
}

func TestIngestAlignsChunksAndVectors(t *testing.T) {
	index := &stubIndex{}
	r := NewRetriever(indexedEmbedder(3), index, Config{ChunkTargetTokens: 10, ChunkOverlapFraction: 0.1}, nil)

	pages := []Page{
		{Number: 1, Text: strings.Repeat("a", 40)},
		{Number: 2, Text: strings.Repeat("b", 40)},
	}
	stats, err := r.Ingest(context.Background(), "sess-1", "doc.pdf::0011223344556677", pages)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Chunks)
	require.Equal(t, 2, stats.Points)

	require.Len(t, index.upserted, 1)
	points := index.upserted[0]
	require.Len(t, points, 2)

	for i, p := range points {
		require.Equal(t, "sess-1", p.SessionID)
		require.Equal(t, "doc.pdf::0011223344556677", p.SourceID)
		require.Equal(t, i+1, p.PageNumber)
		require.Equal(t, float32(i+1), p.Vector[0], "vector %d must belong to chunk %d", i, i)
	}
}

func TestIngestEmptyPages(t *testing.T) {
	index := &stubIndex{}
	r := NewRetriever(indexedEmbedder(3), index, Config{}, nil)

	stats, err := r.Ingest(context.Background(), "sess-1", "src", nil)
	require.NoError(t, err)
	require.Equal(t, IngestStats{}, stats)
	require.Zero(t, index.ensureCalls)
	require.Empty(t, index.upserted)
}

func TestIngestEmbeddingFailure(t *testing.T) {
	embedder := &stubEmbedder{
		dimension: 3,
		embedFn: func([]string) ([][]float32, error) {
			return nil, fmt.Errorf("%w: provider down", ErrEmbeddingFailed)
		},
	}
	index := &stubIndex{}
	r := NewRetriever(embedder, index, Config{}, nil)

	_, err := r.Ingest(context.Background(), "sess-1", "src", []Page{{Number: 1, Text: "hello"}})
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	require.Empty(t, index.upserted, "nothing may be written when embedding fails")
}

func TestIngestEnsuresCollectionOnce(t *testing.T) {
	index := &stubIndex{}
	r := NewRetriever(indexedEmbedder(3), index, Config{}, nil)

	pages := []Page{{Number: 1, Text: "some text"}}
	for i := 0; i < 3; i++ {
		_, err := r.Ingest(context.Background(), "sess-1", "src", pages)
		require.NoError(t, err)
	}
	require.Equal(t, 1, index.ensureCalls)
}

func TestIngestRetriesEnsureAfterFailure(t *testing.T) {
	index := &stubIndex{ensureErr: fmt.Errorf("%w: down", ErrIndexUnavailable)}
	r := NewRetriever(indexedEmbedder(3), index, Config{}, nil)

	pages := []Page{{Number: 1, Text: "some text"}}
	_, err := r.Ingest(context.Background(), "sess-1", "src", pages)
	require.ErrorIs(t, err, ErrIndexUnavailable)

	index.ensureErr = nil
	_, err = r.Ingest(context.Background(), "sess-1", "src", pages)
	require.NoError(t, err)
	require.Equal(t, 2, index.ensureCalls)
}

func TestConfigPreservesValidZeroValues(t *testing.T) {
	// Overlap 0 (no overlap) and lambda 0 (pure diversity) are legitimate
	// settings and must not be rewritten to the defaults.
	r := NewRetriever(indexedEmbedder(3), &stubIndex{}, Config{
		ChunkTargetTokens:    100,
		ChunkOverlapFraction: 0,
		TopK:                 3,
		MMRLambda:            0,
		OverfetchFactor:      2,
	}, nil)

	require.Equal(t, 0.0, r.cfg.ChunkOverlapFraction)
	require.Equal(t, 0.0, r.cfg.MMRLambda)
}

func TestConfigDefaultsForOutOfRangeValues(t *testing.T) {
	r := NewRetriever(indexedEmbedder(3), &stubIndex{}, Config{
		ChunkOverlapFraction: -1,
		MMRLambda:            -1,
	}, nil)

	require.Equal(t, 0.10, r.cfg.ChunkOverlapFraction)
	require.Equal(t, 0.5, r.cfg.MMRLambda)
	require.Equal(t, 800, r.cfg.ChunkTargetTokens)
	require.Equal(t, 5, r.cfg.TopK)
	require.Equal(t, 8, r.cfg.OverfetchFactor)
}

func TestAnswerContextEmptySession(t *testing.T) {
	index := &stubIndex{}
	r := NewRetriever(indexedEmbedder(3), index, Config{}, nil)

	contextText, citations, err := r.AnswerContext(context.Background(), "sess-1", "anything?", 0, -1)
	require.NoError(t, err)
	require.Equal(t, NoContextSentinel, contextText)
	require.NotNil(t, citations)
	require.Empty(t, citations)
}

func TestAnswerContextOverfetchAndDefaults(t *testing.T) {
	index := &stubIndex{}
	r := NewRetriever(indexedEmbedder(3), index, Config{}, nil)

	_, _, err := r.AnswerContext(context.Background(), "sess-9", "q", 0, -1)
	require.NoError(t, err)
	require.Equal(t, 40, index.lastLimit, "default top-k 5 times over-fetch factor 8")
	require.Equal(t, "sess-9", index.lastSession)

	_, _, err = r.AnswerContext(context.Background(), "sess-9", "q", 3, 0.7)
	require.NoError(t, err)
	require.Equal(t, 24, index.lastLimit)
}

func TestAnswerContextFormatsBlocksAndCitations(t *testing.T) {
	index := &stubIndex{
		searchHits: []ScoredPoint{
			{
				SessionID:  "sess-1",
				SourceID:   "report.pdf::aabbccdd00112233",
				PageNumber: 3,
				Text:       "Revenue grew 12% in Q3.",
				Vector:     []float32{1, 0, 0},
				Score:      0.91,
			},
		},
	}
	r := NewRetriever(indexedEmbedder(3), index, Config{}, nil)

	contextText, citations, err := r.AnswerContext(context.Background(), "sess-1", "revenue?", 5, 0.5)
	require.NoError(t, err)
	require.Equal(t, "[report.pdf::aabbccdd00112233 (p.3)]\nRevenue grew 12% in Q3.", contextText)

	require.Len(t, citations, 1)
	require.Equal(t, "report.pdf::aabbccdd00112233", citations[0].SourceID)
	require.Equal(t, 3, citations[0].PageNumber)
	require.Equal(t, 0.91, citations[0].Score)
	require.Equal(t, "Revenue grew 12% in Q3.", citations[0].Snippet)
}

func TestAnswerContextJoinsBlocksWithSeparator(t *testing.T) {
	index := &stubIndex{
		searchHits: []ScoredPoint{
			{SourceID: "a", PageNumber: 1, Text: "first", Vector: []float32{1, 0, 0}, Score: 0.9},
			{SourceID: "b", PageNumber: 2, Text: "second", Vector: []float32{0, 1, 0}, Score: 0.5},
		},
	}
	r := NewRetriever(indexedEmbedder(3), index, Config{}, nil)

	contextText, citations, err := r.AnswerContext(context.Background(), "s", "q", 2, 0.5)
	require.NoError(t, err)
	require.Len(t, citations, 2)
	require.Len(t, strings.Split(contextText, "\n\n---\n\n"), 2)
}

func TestCitationSnippetTruncation(t *testing.T) {
	long := strings.Repeat("s", 300)
	index := &stubIndex{
		searchHits: []ScoredPoint{
			{SourceID: "a", PageNumber: 1, Text: long, Vector: []float32{1, 0, 0}, Score: 0.8},
		},
	}
	r := NewRetriever(indexedEmbedder(3), index, Config{}, nil)

	_, citations, err := r.AnswerContext(context.Background(), "s", "q", 1, 0.5)
	require.NoError(t, err)
	require.Len(t, citations, 1)

	runes := []rune(citations[0].Snippet)
	require.Len(t, runes, 241)
	require.Equal(t, '…', runes[240])
}

func TestCitationSnippetExactLimitNotTruncated(t *testing.T) {
	exact := strings.Repeat("s", 240)
	index := &stubIndex{
		searchHits: []ScoredPoint{
			{SourceID: "a", PageNumber: 1, Text: exact, Vector: []float32{1, 0, 0}, Score: 0.8},
		},
	}
	r := NewRetriever(indexedEmbedder(3), index, Config{}, nil)

	_, citations, err := r.AnswerContext(context.Background(), "s", "q", 1, 0.5)
	require.NoError(t, err)
	require.Equal(t, exact, citations[0].Snippet)
}
