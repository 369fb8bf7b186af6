// Package ai implements the chat inference adapter: prompt assembly,
// token budgeting, backend invocation, and SEC compliance screening of
// the generated response. Attempt retries live in the dispatcher; this
// package classifies failures and never replays a call itself.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
	"github.com/fairyhunter13/ai-inference-broker/pkg/textx"
)

// Prompt assembly limits. Instructions and history are clipped before
// counting so a single oversized thread cannot starve the token
// budget for the actual question.
const (
	maxInputTokens      = 8192
	maxOutputTokens     = 4096
	instructionLimit    = 200
	contextMessageLimit = 100
	contextWindow       = 2

	defaultInferTimeout = 180 * time.Second

	terminalInstruction = "Please provide a helpful, accurate, and SEC-compliant response:"
)

// Backend is one chat completion call against a model server. The
// implementation maps transport and status failures onto the domain
// error taxonomy; it must not retry.
type Backend interface {
	ChatCompletion(ctx domain.Context, req BackendRequest) (BackendResponse, error)
}

// BackendRequest is a single system+user completion call.
type BackendRequest struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// BackendResponse carries the raw completion plus whatever usage the
// server reported. Zero token counts mean the server omitted usage.
type BackendResponse struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// ChatAgent implements the inference port for chat requests.
type ChatAgent struct {
	backend   Backend
	templates *Templates
	counter   *tokencount.Counter
	cleaner   *ResponseCleaner
	model     string
	timeout   time.Duration
}

// NewChatAgent wires a backend and prompt templates into an inference
// client for model. A non-positive timeout falls back to the 180s
// hard cap.
func NewChatAgent(backend Backend, templates *Templates, model string, timeout time.Duration) *ChatAgent {
	if templates == nil {
		templates = DefaultTemplates()
	}
	if timeout <= 0 {
		timeout = defaultInferTimeout
	}
	return &ChatAgent{
		backend:   backend,
		templates: templates,
		counter:   tokencount.NewCounter(),
		cleaner:   NewResponseCleaner(),
		model:     model,
		timeout:   timeout,
	}
}

// Infer runs one chat completion: resolve the desk prompt, assemble
// and budget the user prompt, call the backend under the hard timeout,
// clean the completion, and screen it for compliance.
func (a *ChatAgent) Infer(ctx domain.Context, in domain.InferenceInput) (domain.InferenceOutput, error) {
	start := time.Now()
	spec := in.CustomGPT.Specialization
	if !a.templates.Has(spec) {
		slog.Warn("unknown specialization, using general",
			slog.String("specialization", string(spec)),
			slog.String("custom_gpt_id", in.CustomGPT.ID))
		spec = domain.SpecGeneral
	}
	system := a.templates.For(spec)
	user := a.buildPrompt(in)

	inputTokens, err := a.counter.CountChatTokens(system, user, a.model)
	if err != nil {
		// Rough chars-per-token estimate keeps the budget enforceable
		// when the encoding is unavailable.
		inputTokens = (len(system) + len(user)) / 4
	}
	if inputTokens > maxInputTokens {
		a.observe(start, domain.ErrUsageLimit)
		return domain.InferenceOutput{}, fmt.Errorf("op=ai.infer: prompt is %d tokens, budget %d: %w",
			inputTokens, maxInputTokens, domain.ErrUsageLimit)
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	resp, err := a.backend.ChatCompletion(cctx, BackendRequest{
		Model:       a.model,
		System:      system,
		User:        user,
		MaxTokens:   maxOutputTokens,
		Temperature: 0.2,
	})
	if err != nil {
		a.observe(start, err)
		return domain.InferenceOutput{}, fmt.Errorf("op=ai.infer: %w", err)
	}

	content := a.cleaner.CleanChatResponse(resp.Content)
	if content == "" {
		a.observe(start, domain.ErrBackendMisbehaviour)
		return domain.InferenceOutput{}, fmt.Errorf("op=ai.infer: backend returned an empty completion: %w",
			domain.ErrBackendMisbehaviour)
	}

	verdict := assessCompliance(content, spec)
	promptTokens := resp.PromptTokens
	if promptTokens == 0 {
		promptTokens = inputTokens
	}
	completionTokens := resp.CompletionTokens
	if completionTokens == 0 {
		if n, cerr := a.counter.CountCompletionTokens(content, a.model); cerr == nil {
			completionTokens = n
		} else {
			completionTokens = len(content) / 4
		}
	}

	out := domain.InferenceOutput{
		Content:             content,
		ModelUsed:           fmt.Sprintf("%s_%s", spec, a.model),
		ProcessingTimeMS:    time.Since(start).Milliseconds(),
		InputTokens:         promptTokens,
		OutputTokens:        completionTokens,
		ConfidenceScore:     verdict.Confidence,
		SECCompliant:        verdict.SECCompliant,
		HumanReviewRequired: verdict.HumanReviewRequired,
		ComplianceFlags:     verdict.Flags,
		ToolInteractions:    []domain.ToolInteraction{},
	}

	a.observe(start, nil)
	observability.ObserveInference(out.ConfidenceScore, out.SECCompliant, out.HumanReviewRequired,
		out.InputTokens, out.OutputTokens)
	slog.Info("chat inference completed",
		slog.String("message_id", in.MessageID),
		slog.String("specialization", string(spec)),
		slog.String("model", out.ModelUsed),
		slog.Int64("processing_ms", out.ProcessingTimeMS),
		slog.Int("input_tokens", out.InputTokens),
		slog.Int("output_tokens", out.OutputTokens),
		slog.Float64("confidence", out.ConfidenceScore),
		slog.Bool("sec_compliant", out.SECCompliant),
		slog.Bool("human_review", out.HumanReviewRequired))
	return out, nil
}

// buildPrompt assembles the user-side prompt: clipped custom
// instructions, the tail of the conversation, the question, and the
// compliance instruction, joined by blank lines.
func (a *ChatAgent) buildPrompt(in domain.InferenceInput) string {
	var parts []string
	if inst := textx.SanitizeText(in.CustomGPT.SystemPrompt); inst != "" {
		parts = append(parts, "Custom Instructions: "+textx.Truncate(inst, instructionLimit))
	}
	if n := len(in.ContextMessages); n > 0 {
		parts = append(parts, "Previous conversation:")
		msgs := in.ContextMessages
		if n > contextWindow {
			msgs = msgs[n-contextWindow:]
		}
		for _, m := range msgs {
			content := textx.Truncate(textx.SanitizeText(m.Content), contextMessageLimit)
			parts = append(parts, fmt.Sprintf("%s: %s", titleRole(m.Role), content))
		}
	}
	parts = append(parts, "User: "+in.UserMessage)
	parts = append(parts, terminalInstruction)
	return strings.Join(parts, "\n\n")
}

// titleRole renders a message role as a speaker label.
func titleRole(r domain.MessageRole) string {
	s := string(r)
	if s == "" {
		return "Unknown"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// observe records call duration and outcome for the backend metrics.
func (a *ChatAgent) observe(start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	observability.InferenceDuration.WithLabelValues(a.model).Observe(elapsed)
	observability.InferenceRequestsTotal.WithLabelValues(a.model, outcomeFor(err)).Inc()
	if err == nil {
		observability.RecordInferenceLatency(a.model, elapsed)
	}
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrUsageLimit):
		return "usage_limit"
	case errors.Is(err, domain.ErrBackendTransient):
		return "transient"
	case errors.Is(err, domain.ErrBackendMisbehaviour):
		return "backend_error"
	default:
		return "error"
	}
}
