package ai

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

type backendStub struct {
	resp    BackendResponse
	err     error
	lastReq BackendRequest
	calls   int
}

func (b *backendStub) ChatCompletion(_ context.Context, req BackendRequest) (BackendResponse, error) {
	b.calls++
	b.lastReq = req
	return b.resp, b.err
}

func chatInput(spec domain.Specialization) domain.InferenceInput {
	return domain.InferenceInput{
		MessageID: "msg-1",
		ThreadID:  "thread-1",
		UserID:    "user-1",
		CustomGPT: domain.CustomGPT{
			ID:             "gpt-1",
			Specialization: spec,
			SystemPrompt:   "Focus on index funds.",
		},
		UserMessage: "Should I rebalance quarterly?",
	}
}

func TestChatAgent_Infer_Success(t *testing.T) {
	t.Parallel()

	backend := &backendStub{resp: BackendResponse{
		Content:          "Quarterly rebalancing keeps allocations near target.",
		Model:            "gpt-oss",
		PromptTokens:     42,
		CompletionTokens: 9,
	}}
	agent := NewChatAgent(backend, nil, "gpt-oss", time.Second)

	out, err := agent.Infer(context.Background(), chatInput(domain.SpecPortfolio))
	require.NoError(t, err)

	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, "gpt-oss", backend.lastReq.Model)
	assert.Equal(t, maxOutputTokens, backend.lastReq.MaxTokens)
	assert.InDelta(t, 0.2, backend.lastReq.Temperature, 1e-9)
	assert.Equal(t, DefaultTemplates().For(domain.SpecPortfolio), backend.lastReq.System)

	assert.Equal(t, "Quarterly rebalancing keeps allocations near target.", out.Content)
	assert.Equal(t, "portfolio_gpt-oss", out.ModelUsed)
	assert.Equal(t, 42, out.InputTokens)
	assert.Equal(t, 9, out.OutputTokens)
	assert.InDelta(t, 0.80, out.ConfidenceScore, 1e-9)
	assert.True(t, out.SECCompliant)
	assert.False(t, out.HumanReviewRequired)
	assert.Empty(t, out.ComplianceFlags)
	assert.NotNil(t, out.ToolInteractions)
	assert.GreaterOrEqual(t, out.ProcessingTimeMS, int64(0))
}

func TestChatAgent_Infer_PromptAssembly(t *testing.T) {
	t.Parallel()

	backend := &backendStub{resp: BackendResponse{Content: "ok"}}
	agent := NewChatAgent(backend, nil, "gpt-oss", time.Second)

	in := chatInput(domain.SpecCRM)
	in.ContextMessages = []domain.ContextMessage{
		{Role: domain.RoleUser, Content: "oldest message, should be dropped"},
		{Role: domain.RoleUser, Content: "Can you pull up the Smith account?"},
		{Role: domain.RoleAssistant, Content: "The Smith account was last reviewed in June."},
	}

	_, err := agent.Infer(context.Background(), in)
	require.NoError(t, err)

	prompt := backend.lastReq.User
	assert.Contains(t, prompt, "Custom Instructions: Focus on index funds.")
	assert.Contains(t, prompt, "Previous conversation:")
	assert.NotContains(t, prompt, "oldest message")
	assert.Contains(t, prompt, "User: Can you pull up the Smith account?")
	assert.Contains(t, prompt, "Assistant: The Smith account was last reviewed in June.")
	assert.Contains(t, prompt, "User: Should I rebalance quarterly?")
	assert.True(t, strings.HasSuffix(prompt, terminalInstruction))

	// Sections are separated by blank lines.
	assert.Contains(t, prompt, "\n\n")
}

func TestChatAgent_Infer_TruncatesInstructionsAndContext(t *testing.T) {
	t.Parallel()

	backend := &backendStub{resp: BackendResponse{Content: "ok"}}
	agent := NewChatAgent(backend, nil, "gpt-oss", time.Second)

	in := chatInput(domain.SpecGeneral)
	in.CustomGPT.SystemPrompt = strings.Repeat("a", 250)
	in.ContextMessages = []domain.ContextMessage{
		{Role: domain.RoleUser, Content: strings.Repeat("b", 160)},
	}

	_, err := agent.Infer(context.Background(), in)
	require.NoError(t, err)

	prompt := backend.lastReq.User
	assert.Contains(t, prompt, strings.Repeat("a", 200))
	assert.NotContains(t, prompt, strings.Repeat("a", 201))
	assert.Contains(t, prompt, strings.Repeat("b", 100))
	assert.NotContains(t, prompt, strings.Repeat("b", 101))
}

func TestChatAgent_Infer_UnknownSpecializationFallsBackToGeneral(t *testing.T) {
	t.Parallel()

	backend := &backendStub{resp: BackendResponse{Content: "ok"}}
	agent := NewChatAgent(backend, nil, "gpt-oss", time.Second)

	in := chatInput(domain.Specialization("astrology"))
	out, err := agent.Infer(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, DefaultTemplates().For(domain.SpecGeneral), backend.lastReq.System)
	assert.Equal(t, "general_gpt-oss", out.ModelUsed)
	assert.InDelta(t, 0.85, out.ConfidenceScore, 1e-9)
}

func TestChatAgent_Infer_OverBudgetRejectedBeforeCall(t *testing.T) {
	t.Parallel()

	backend := &backendStub{resp: BackendResponse{Content: "ok"}}
	agent := NewChatAgent(backend, nil, "gpt-oss", time.Second)

	in := chatInput(domain.SpecGeneral)
	in.UserMessage = strings.Repeat("regulatory compliance considerations ", 2000)

	_, err := agent.Infer(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUsageLimit)
	assert.Equal(t, 0, backend.calls)
}

func TestChatAgent_Infer_EmptyCompletionIsBackendMisbehaviour(t *testing.T) {
	t.Parallel()

	backend := &backendStub{resp: BackendResponse{Content: "<think>only reasoning, no answer</think>"}}
	agent := NewChatAgent(backend, nil, "gpt-oss", time.Second)

	_, err := agent.Infer(context.Background(), chatInput(domain.SpecGeneral))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendMisbehaviour)
}

func TestChatAgent_Infer_BackendErrorPassesThrough(t *testing.T) {
	t.Parallel()

	backend := &backendStub{err: fmt.Errorf("connect refused: %w", domain.ErrBackendTransient)}
	agent := NewChatAgent(backend, nil, "gpt-oss", time.Second)

	_, err := agent.Infer(context.Background(), chatInput(domain.SpecGeneral))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendTransient)
}

func TestChatAgent_Infer_ProhibitedPhraseFlagsResponse(t *testing.T) {
	t.Parallel()

	backend := &backendStub{resp: BackendResponse{
		Content: "This strategy delivers guaranteed returns.",
	}}
	agent := NewChatAgent(backend, nil, "gpt-oss", time.Second)

	out, err := agent.Infer(context.Background(), chatInput(domain.SpecGeneral))
	require.NoError(t, err)
	assert.False(t, out.SECCompliant)
	assert.Contains(t, out.ComplianceFlags, domain.FlagSECNonCompliant)
}

func TestChatAgent_Infer_ComplianceDeskRequiresReview(t *testing.T) {
	t.Parallel()

	backend := &backendStub{resp: BackendResponse{Content: "The audit trail is complete."}}
	agent := NewChatAgent(backend, nil, "gpt-oss", time.Second)

	out, err := agent.Infer(context.Background(), chatInput(domain.SpecCompliance))
	require.NoError(t, err)
	assert.True(t, out.HumanReviewRequired)
	assert.Contains(t, out.ComplianceFlags, domain.FlagHumanReviewRequired)
	assert.Equal(t, "compliance_gpt-oss", out.ModelUsed)
	assert.InDelta(t, 0.75, out.ConfidenceScore, 1e-9)
}

func TestChatAgent_Infer_CountsTokensWhenServerOmitsUsage(t *testing.T) {
	t.Parallel()

	backend := &backendStub{resp: BackendResponse{Content: "A short compliant answer."}}
	agent := NewChatAgent(backend, nil, "gpt-oss", time.Second)

	out, err := agent.Infer(context.Background(), chatInput(domain.SpecGeneral))
	require.NoError(t, err)
	assert.Greater(t, out.InputTokens, 0)
	assert.Greater(t, out.OutputTokens, 0)
}
