// Package stub is a deterministic offline backend for development and
// e2e runs: no model server, no GPU, stable output for a given input.
package stub

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/ai"
	"github.com/fairyhunter13/ai-inference-broker/pkg/textx"
)

// Client answers every completion locally after a short simulated
// generation delay.
type Client struct {
	delay time.Duration
}

// New returns a stub backend with a 50ms simulated generation delay.
func New() *Client {
	return &Client{delay: 50 * time.Millisecond}
}

// NewWithDelay returns a stub backend with a custom delay; zero means
// answer immediately.
func NewWithDelay(delay time.Duration) *Client {
	return &Client{delay: delay}
}

// ChatCompletion fabricates a compliant response that echoes the
// question, so downstream screening and persistence see realistic
// shapes. The reported usage is a chars/4 estimate.
func (c *Client) ChatCompletion(ctx context.Context, req ai.BackendRequest) (ai.BackendResponse, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ai.BackendResponse{}, ctx.Err()
		}
	}
	question := textx.Truncate(req.User, 120)
	content := fmt.Sprintf(
		"Thank you for reaching out. Regarding %q: this is a generated development response. "+
			"All investments carry risk and past performance does not guarantee future results. "+
			"Please consult your Baker Group advisor before acting on this information.",
		question)
	return ai.BackendResponse{
		Content:          content,
		Model:            req.Model,
		PromptTokens:     (len(req.System) + len(req.User)) / 4,
		CompletionTokens: len(content) / 4,
	}, nil
}

// Models reports the requested model as present so readiness probes
// pass offline.
func (c *Client) Models(_ context.Context) ([]string, error) {
	return []string{"stub"}, nil
}
