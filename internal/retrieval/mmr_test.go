package retrieval

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	require.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{1, 0}), 1e-9)
	require.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}

func TestCosineZeroVector(t *testing.T) {
	got := Cosine([]float32{0, 0}, []float32{1, 0})
	require.False(t, math.IsNaN(got))
	require.Equal(t, 0.0, got)
}

func TestSelectDiversePureRelevance(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{
		{0, 1},      // orthogonal
		{1, 0},      // identical
		{0.9, 0.1},  // close
		{-1, 0},     // opposite
	}

	order := SelectDiverse(query, candidates, 1.0, 3)
	require.Equal(t, []int{1, 2, 0}, order)
}

func TestSelectDiversePrefersDiversity(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{
		{1, 0},        // best match
		{0.99, 0.1},   // near-duplicate of the best match
		{0.5, 0.866},  // 60 degrees away, still somewhat relevant
	}

	relevant := SelectDiverse(query, candidates, 1.0, 2)
	require.Equal(t, []int{0, 1}, relevant)

	diverse := SelectDiverse(query, candidates, 0.3, 2)
	require.Equal(t, []int{0, 2}, diverse)
}

func TestSelectDiverseTieBreaksToLowestIndex(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{
		{1, 0},
		{1, 0},
		{1, 0},
	}

	order := SelectDiverse(query, candidates, 0.5, 3)
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestSelectDiverseKLargerThanCandidates(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{{1, 0}, {0, 1}}

	order := SelectDiverse(query, candidates, 0.5, 10)
	require.Len(t, order, 2)

	seen := map[int]bool{}
	for _, idx := range order {
		require.False(t, seen[idx], "index %d selected twice", idx)
		seen[idx] = true
	}
}

func TestSelectDiverseDegenerateInputs(t *testing.T) {
	require.Nil(t, SelectDiverse([]float32{1}, nil, 0.5, 3))
	require.Nil(t, SelectDiverse([]float32{1}, [][]float32{{1}}, 0.5, 0))
}

func TestSelectDiverseDeterministic(t *testing.T) {
	query := []float32{0.3, 0.7, 0.1}
	candidates := [][]float32{
		{0.2, 0.8, 0.0},
		{0.9, 0.1, 0.3},
		{0.3, 0.7, 0.1},
		{0.0, 0.0, 1.0},
		{0.5, 0.5, 0.5},
	}

	first := SelectDiverse(query, candidates, 0.5, 4)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, SelectDiverse(query, candidates, 0.5, 4))
	}
}
