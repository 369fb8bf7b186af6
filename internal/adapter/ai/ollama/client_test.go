package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/ai"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

func backendReq() ai.BackendRequest {
	return ai.BackendRequest{
		Model:       "gpt-oss",
		System:      "You are a helpful assistant.",
		User:        "How are markets today?",
		MaxTokens:   4096,
		Temperature: 0.2,
	}
}

func TestChatCompletion_Success(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Empty(t, r.Header.Get("Authorization"))

		var body struct {
			Model    string  `json:"model"`
			Stream   bool    `json:"stream"`
			MaxTok   int     `json:"max_tokens"`
			Temp     float64 `json:"temperature"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gpt-oss", body.Model)
		require.False(t, body.Stream)
		require.Equal(t, 4096, body.MaxTok)
		require.Len(t, body.Messages, 2)
		require.Equal(t, "system", body.Messages[0].Role)
		require.Equal(t, "user", body.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-oss:20b",
			"choices": []map[string]any{
				{"message": map[string]any{"content": "Markets are mixed."}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 31, "completion_tokens": 5},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "", time.Second)
	resp, err := c.ChatCompletion(context.Background(), backendReq())
	require.NoError(t, err)
	assert.Equal(t, "Markets are mixed.", resp.Content)
	assert.Equal(t, "gpt-oss:20b", resp.Model)
	assert.Equal(t, 31, resp.PromptTokens)
	assert.Equal(t, 5, resp.CompletionTokens)
}

func TestChatCompletion_SendsBearerWhenConfigured(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "secret", time.Second)
	resp, err := c.ChatCompletion(context.Background(), backendReq())
	require.NoError(t, err)
	// Server omitted its model name; the request model is echoed back.
	assert.Equal(t, "gpt-oss", resp.Model)
}

func TestChatCompletion_StatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"rate_limited", http.StatusTooManyRequests, domain.ErrUsageLimit},
		{"bad_request", http.StatusBadRequest, domain.ErrBackendMisbehaviour},
		{"server_error", http.StatusInternalServerError, domain.ErrBackendMisbehaviour},
		{"bad_gateway", http.StatusBadGateway, domain.ErrBackendMisbehaviour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer ts.Close()

			c := New(ts.URL, "", time.Second)
			_, err := c.ChatCompletion(context.Background(), backendReq())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestChatCompletion_MalformedBody(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [`))
	}))
	defer ts.Close()

	c := New(ts.URL, "", time.Second)
	_, err := c.ChatCompletion(context.Background(), backendReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendMisbehaviour)
}

func TestChatCompletion_NoChoices(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer ts.Close()

	c := New(ts.URL, "", time.Second)
	_, err := c.ChatCompletion(context.Background(), backendReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendMisbehaviour)
}

func TestChatCompletion_ConnectionRefusedIsTransient(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	c := New(url, "", time.Second)
	_, err := c.ChatCompletion(context.Background(), backendReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendTransient)
}

func TestChatCompletion_TimeoutIsTransient(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer ts.Close()

	c := New(ts.URL, "", 20*time.Millisecond)
	_, err := c.ChatCompletion(context.Background(), backendReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendTransient)
}

func TestChatCompletion_CallerCancelPassesThrough(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(ts.URL, "", time.Second)
	_, err := c.ChatCompletion(ctx, backendReq())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrBackendTransient)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModels(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "gpt-oss"},
				{"id": "llama3.2-vision:11b"},
			},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "", time.Second)
	models, err := c.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-oss", "llama3.2-vision:11b"}, models)
}

func TestNew_DefaultsBaseURL(t *testing.T) {
	t.Parallel()

	c := New("", "", 0)
	assert.Equal(t, defaultBaseURL, c.baseURL)
}
