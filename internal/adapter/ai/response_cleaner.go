package ai

import (
	"regexp"
	"strings"
)

// Reasoning-capable models leak scaffolding into chat completions:
// chain-of-thought blocks, channel markers, or a markdown fence around
// the whole answer. The cleaner strips those before compliance
// screening so prohibited-phrase checks run on what the user will see.
var (
	thinkBlockRe  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	reasonRe      = regexp.MustCompile(`(?s)<reasoning>.*?</reasoning>`)
	danglingTagRe = regexp.MustCompile(`(?s)^.*?</think>`)
)

// ResponseCleaner normalizes raw model output into user-facing text.
type ResponseCleaner struct{}

// NewResponseCleaner creates a new response cleaner.
func NewResponseCleaner() *ResponseCleaner {
	return &ResponseCleaner{}
}

// CleanChatResponse strips reasoning blocks and an enclosing code
// fence, then trims whitespace. An empty result means the model
// produced no usable answer.
func (rc *ResponseCleaner) CleanChatResponse(raw string) string {
	s := thinkBlockRe.ReplaceAllString(raw, "")
	s = reasonRe.ReplaceAllString(s, "")
	// A truncated opening tag leaves only the closing one behind.
	if strings.Contains(s, "</think>") {
		s = danglingTagRe.ReplaceAllString(s, "")
	}
	s = stripEnclosingFence(s)
	return strings.TrimSpace(s)
}

// stripEnclosingFence removes a markdown fence only when it wraps the
// entire response; fences inside a longer answer are real content.
func stripEnclosingFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return s
	}
	body := lines[1 : len(lines)-1]
	return strings.Join(body, "\n")
}
