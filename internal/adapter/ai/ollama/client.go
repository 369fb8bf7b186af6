// Package ollama is the OpenAI-compatible chat completion backend for
// a local Ollama server. Any server that speaks POST
// {base}/chat/completions works unchanged; only the default base URL
// is Ollama-specific.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/ai"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

const defaultBaseURL = "http://localhost:11434/v1"

// Client calls one model server. It performs exactly one HTTP request
// per ChatCompletion; the dispatcher owns retry policy.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New builds a client for baseURL. An empty apiKey sends no
// Authorization header, which a stock Ollama install ignores anyway.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// ChatCompletion posts a system+user exchange and returns the first
// choice. Failures are classified onto the domain taxonomy: 429 and
// quota responses are usage limits, other 4xx/5xx and undecodable
// bodies are backend misbehaviour, transport errors and timeouts are
// transient.
func (c *Client) ChatCompletion(ctx context.Context, req ai.BackendRequest) (ai.BackendResponse, error) {
	body := map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.User},
		},
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"stream":      false,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return ai.BackendResponse{}, fmt.Errorf("op=ollama.chat_completion: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return ai.BackendResponse{}, fmt.Errorf("op=ollama.chat_completion: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ai.BackendResponse{}, fmt.Errorf("op=ollama.chat_completion: %w", err)
		}
		return ai.BackendResponse{}, fmt.Errorf("op=ollama.chat_completion: %w: %w",
			domain.ErrBackendTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ai.BackendResponse{}, fmt.Errorf("op=ollama.chat_completion: read body: %w: %w",
			domain.ErrBackendTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(raw)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		slog.Warn("model server returned an error",
			slog.Int("status", resp.StatusCode),
			slog.String("model", req.Model),
			slog.String("body", snippet))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return ai.BackendResponse{}, fmt.Errorf("op=ollama.chat_completion: status 429: %w",
				domain.ErrUsageLimit)
		default:
			return ai.BackendResponse{}, fmt.Errorf("op=ollama.chat_completion: status %d: %w",
				resp.StatusCode, domain.ErrBackendMisbehaviour)
		}
	}

	var out struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return ai.BackendResponse{}, fmt.Errorf("op=ollama.chat_completion: decode: %w: %w",
			domain.ErrBackendMisbehaviour, err)
	}
	if len(out.Choices) == 0 {
		return ai.BackendResponse{}, fmt.Errorf("op=ollama.chat_completion: no choices in response: %w",
			domain.ErrBackendMisbehaviour)
	}

	model := out.Model
	if model == "" {
		model = req.Model
	}
	return ai.BackendResponse{
		Content:          out.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}

// Models lists the model ids the server advertises. The readiness
// probe uses it to confirm the configured chat model is pulled.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("op=ollama.models: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("op=ollama.models: %w: %w", domain.ErrBackendTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("op=ollama.models: status %d: %w",
			resp.StatusCode, domain.ErrBackendMisbehaviour)
	}
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=ollama.models: decode: %w: %w",
			domain.ErrBackendMisbehaviour, err)
	}
	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
