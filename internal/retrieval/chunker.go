package retrieval

import (
	"fmt"
	"math"
	"strings"
)

// approxCharsPerToken is a coarse proxy, not a real tokenizer: one token is
// assumed to be about four characters. Good enough to size retrieval chunks.
const approxCharsPerToken = 4

// ChunkPages slides a fixed-size character window across each page
// independently and emits the trimmed, non-empty windows. The window advances
// by targetChars - overlapChars; the final partial window is still emitted.
// Chunks never cross a page boundary.
func ChunkPages(pages []Page, targetTokens int, overlapFraction float64) ([]Chunk, error) {
	if targetTokens <= 0 {
		return nil, fmt.Errorf("%w: target tokens must be positive, got %d", ErrInvalidChunking, targetTokens)
	}
	if overlapFraction < 0 || overlapFraction >= 1 {
		return nil, fmt.Errorf("%w: overlap fraction must be in [0, 1), got %g", ErrInvalidChunking, overlapFraction)
	}

	targetChars := targetTokens * approxCharsPerToken
	overlapChars := int(math.Round(float64(targetChars) * overlapFraction))
	step := targetChars - overlapChars
	// Rounding can eat the whole window for small targets (e.g. 4 chars with
	// overlap 0.9); a zero step means the walk never advances.
	if step < 1 {
		return nil, fmt.Errorf("%w: overlap fraction %g leaves no window advance for %d target tokens", ErrInvalidChunking, overlapFraction, targetTokens)
	}

	var chunks []Chunk
	for _, page := range pages {
		runes := []rune(page.Text)
		for start := 0; start < len(runes); start += step {
			end := start + targetChars
			if end > len(runes) {
				end = len(runes)
			}
			piece := strings.TrimSpace(string(runes[start:end]))
			if piece != "" {
				chunks = append(chunks, Chunk{Text: piece, PageNumber: page.Number})
			}
			if end == len(runes) {
				break
			}
		}
	}
	return chunks, nil
}
