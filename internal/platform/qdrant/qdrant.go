// Package qdrant is a minimal REST client for the slice of the Qdrant API
// the retrieval core needs: idempotent collection setup with cosine distance,
// point upsert, and session-filtered top-k search.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"docchat/internal/retrieval"
)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	collection string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EnsureCollection creates the collection with cosine distance and the given
// vector size if it does not exist. When the collection already exists its
// configured dimension is validated against the requested one: a silent
// mismatch would mean every stored vector is wrong, so that is a hard error
// rather than a no-op.
func (c *Client) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dimension)
	}

	var existing struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := c.getJSON(ctx, c.collectionURL(), &existing)
	if err != nil {
		return fmt.Errorf("%w: %v", retrieval.ErrIndexUnavailable, err)
	}
	if status == http.StatusOK {
		if size := existing.Result.Config.Params.Vectors.Size; size != 0 && size != dimension {
			return fmt.Errorf("collection %s has vector size %d, configured dimension is %d", c.collection, size, dimension)
		}
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("%w: get collection returned status %d", retrieval.ErrIndexUnavailable, status)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := c.putJSON(ctx, c.collectionURL(), body); err != nil {
		return fmt.Errorf("%w: create collection: %v", retrieval.ErrIndexUnavailable, err)
	}
	return nil
}

// Upsert writes all points with freshly generated UUIDs and returns the
// number written. Points are never deduplicated by content.
func (c *Client) Upsert(ctx context.Context, points []retrieval.Point) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	qpoints := make([]map[string]any, len(points))
	for i, p := range points {
		qpoints[i] = map[string]any{
			"id":     uuid.NewString(),
			"vector": p.Vector,
			"payload": map[string]any{
				"session_id": p.SessionID,
				"source_id":  p.SourceID,
				"page":       p.PageNumber,
				"text":       p.Text,
			},
		}
	}
	body := map[string]any{"points": qpoints}
	if err := c.putJSON(ctx, c.collectionURL()+"/points?wait=true", body); err != nil {
		return 0, fmt.Errorf("%w: upsert points: %v", retrieval.ErrIndexUnavailable, err)
	}
	return len(points), nil
}

// Search runs filtered top-k similarity search scoped to sessionID. A
// missing collection yields an empty result, since "nothing indexed yet" is
// a routine state.
func (c *Client) Search(ctx context.Context, vector []float32, limit int, sessionID string) ([]retrieval.ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector": vector,
		"limit":  limit,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "session_id", "match": map[string]any{"value": sessionID}},
			},
		},
		"with_payload": true,
		"with_vector":  true,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.collectionURL()+"/points/search", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build search request failed: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", retrieval.ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read search response: %v", retrieval.ErrIndexUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: search returned status %d: %s", retrieval.ErrIndexUnavailable, resp.StatusCode, string(raw))
	}

	var parsed struct {
		Result []struct {
			Score   float64        `json:"score"`
			Vector  []float32      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse search response failed: %w", err)
	}

	hits := make([]retrieval.ScoredPoint, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		hit := retrieval.ScoredPoint{Score: r.Score, Vector: r.Vector}
		if v, ok := r.Payload["session_id"].(string); ok {
			hit.SessionID = v
		}
		if v, ok := r.Payload["source_id"].(string); ok {
			hit.SourceID = v
		}
		if v, ok := r.Payload["page"].(float64); ok {
			hit.PageNumber = int(v)
		}
		if v, ok := r.Payload["text"].(string); ok {
			hit.Text = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Live reports whether the Qdrant instance is reachable.
func (c *Client) Live(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/collections", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant liveness returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request failed: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response failed: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) putJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("PUT %s returned status %d: %s", url, resp.StatusCode, string(raw))
	}
	return nil
}
