package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docchat/internal/retrieval"
)

func newTestClient(serverURL string) *Client {
	return New(Config{
		URL:        serverURL,
		Collection: "docs",
		Timeout:    5 * time.Second,
	})
}

func collectionResponse(size int) map[string]interface{} {
	return map[string]interface{}{
		"result": map[string]interface{}{
			"config": map[string]interface{}{
				"params": map[string]interface{}{
					"vectors": map[string]interface{}{
						"size":     size,
						"distance": "Cosine",
					},
				},
			},
		},
	}
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var created map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/docs":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": true})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	err := newTestClient(server.URL).EnsureCollection(context.Background(), 768)
	require.NoError(t, err)

	vectors := created["vectors"].(map[string]interface{})
	require.Equal(t, float64(768), vectors["size"])
	require.Equal(t, "Cosine", vectors["distance"])
}

func TestEnsureCollectionExistingMatchingSize(t *testing.T) {
	var putCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			putCalls++
		}
		_ = json.NewEncoder(w).Encode(collectionResponse(768))
	}))
	defer server.Close()

	err := newTestClient(server.URL).EnsureCollection(context.Background(), 768)
	require.NoError(t, err)
	require.Zero(t, putCalls, "existing collection must not be recreated")
}

func TestEnsureCollectionDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(collectionResponse(1536))
	}))
	defer server.Close()

	err := newTestClient(server.URL).EnsureCollection(context.Background(), 768)
	require.Error(t, err)
	require.Contains(t, err.Error(), "vector size 1536")
}

func TestEnsureCollectionRejectsBadDimension(t *testing.T) {
	err := newTestClient("http://unused").EnsureCollection(context.Background(), 0)
	require.Error(t, err)
}

func TestUpsertSendsPayloadAndCountsPoints(t *testing.T) {
	var body struct {
		Points []struct {
			ID      string                 `json:"id"`
			Vector  []float32              `json:"vector"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"points"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/collections/docs/points", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("wait"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": true})
	}))
	defer server.Close()

	points := []retrieval.Point{
		{SessionID: "s1", SourceID: "a.pdf::0123456789abcdef", PageNumber: 2, Text: "hello", Vector: []float32{1, 0}},
		{SessionID: "s1", SourceID: "a.pdf::0123456789abcdef", PageNumber: 3, Text: "world", Vector: []float32{0, 1}},
	}
	count, err := newTestClient(server.URL).Upsert(context.Background(), points)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.Len(t, body.Points, 2)
	require.NotEmpty(t, body.Points[0].ID)
	require.NotEqual(t, body.Points[0].ID, body.Points[1].ID)
	require.Equal(t, "s1", body.Points[0].Payload["session_id"])
	require.Equal(t, "a.pdf::0123456789abcdef", body.Points[0].Payload["source_id"])
	require.Equal(t, float64(2), body.Points[0].Payload["page"])
	require.Equal(t, "hello", body.Points[0].Payload["text"])
}

func TestUpsertEmptyInput(t *testing.T) {
	count, err := newTestClient("http://unused").Upsert(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestSearchFiltersBySession(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/docs/points/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": []map[string]interface{}{
				{
					"score":  0.87,
					"vector": []float32{1, 0},
					"payload": map[string]interface{}{
						"session_id": "s1",
						"source_id":  "a.txt::fedcba9876543210",
						"page":       1,
						"text":       "found it",
					},
				},
			},
		})
	}))
	defer server.Close()

	hits, err := newTestClient(server.URL).Search(context.Background(), []float32{1, 0}, 40, "s1")
	require.NoError(t, err)

	require.Equal(t, float64(40), body["limit"])
	require.Equal(t, true, body["with_payload"])
	require.Equal(t, true, body["with_vector"])
	filter := body["filter"].(map[string]interface{})
	must := filter["must"].([]interface{})
	require.Len(t, must, 1)
	cond := must[0].(map[string]interface{})
	require.Equal(t, "session_id", cond["key"])
	require.Equal(t, "s1", cond["match"].(map[string]interface{})["value"])

	require.Len(t, hits, 1)
	require.Equal(t, 0.87, hits[0].Score)
	require.Equal(t, "s1", hits[0].SessionID)
	require.Equal(t, "a.txt::fedcba9876543210", hits[0].SourceID)
	require.Equal(t, 1, hits[0].PageNumber)
	require.Equal(t, "found it", hits[0].Text)
	require.Equal(t, []float32{1, 0}, hits[0].Vector)
}

func TestSearchMissingCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	hits, err := newTestClient(server.URL).Search(context.Background(), []float32{1}, 10, "s1")
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestSearchNonPositiveLimit(t *testing.T) {
	hits, err := newTestClient("http://unused").Search(context.Background(), []float32{1}, 0, "s1")
	require.NoError(t, err)
	require.Nil(t, hits)
}

func TestSearchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Search(context.Background(), []float32{1}, 10, "s1")
	require.ErrorIs(t, err, retrieval.ErrIndexUnavailable)
}

func TestAPIKeyHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("api-key"))
		_ = json.NewEncoder(w).Encode(collectionResponse(8))
	}))
	defer server.Close()

	client := New(Config{URL: server.URL, APIKey: "secret", Collection: "docs"})
	require.NoError(t, client.EnsureCollection(context.Background(), 8))
}
