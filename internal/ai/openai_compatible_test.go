package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testChatConfig(serverURL string) ChatConfig {
	return ChatConfig{BaseURL: serverURL, APIKey: "key", Model: "test-model"}
}

func TestComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req struct {
			Model    string        `json:"model"`
			Messages []ChatMessage `json:"messages"`
			Stream   bool          `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req.Model)
		require.False(t, req.Stream)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hi there"}},
			},
		})
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient(5 * time.Second)
	got, err := client.Complete(context.Background(), testChatConfig(server.URL), []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "hi there", got)
}

func TestCompleteErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient(5 * time.Second)
	_, err := client.Complete(context.Background(), testChatConfig(server.URL), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestStreamComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Hel", "lo", "!"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	var chunks []string
	client := NewOpenAICompatibleClient(5 * time.Second)
	full, err := client.StreamComplete(context.Background(), testChatConfig(server.URL), nil, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "Hello!", full)
	require.Equal(t, []string{"Hel", "lo", "!"}, chunks)
}

func TestStreamCompleteCallbackAbort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	abort := errors.New("consumer gone")
	client := NewOpenAICompatibleClient(5 * time.Second)
	_, err := client.StreamComplete(context.Background(), testChatConfig(server.URL), nil, func(string) error {
		return abort
	})
	require.ErrorIs(t, err, abort)
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	client := NewOpenAICompatibleClient(5 * time.Second)
	_, err := client.Embed(context.Background(), EmbeddingConfig{BaseURL: "http://unused"}, "   ")
	require.Error(t, err)

	_, err = client.EmbedBatch(context.Background(), EmbeddingConfig{BaseURL: "http://unused"}, []string{"ok", ""})
	require.Error(t, err)
}
