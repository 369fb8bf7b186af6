package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
	"github.com/fairyhunter13/ai-inference-broker/pkg/textx"
)

// SideEffectWriter materializes the conversational side effects of a
// completed inference: user, custom GPT and thread prerequisites, then
// the assistant message itself. Prerequisite failures are tolerated;
// only a failed message insert is reported, and even that never blocks
// the queue row from completing.
type SideEffectWriter struct {
	Repo  domain.SideEffectRepository
	Audit domain.AuditSink
}

// NewSideEffectWriter constructs a SideEffectWriter with its dependencies.
func NewSideEffectWriter(repo domain.SideEffectRepository, sink domain.AuditSink) SideEffectWriter {
	return SideEffectWriter{Repo: repo, Audit: sink}
}

// ResolveCustomGPT loads the custom GPT behind a chat payload. A
// missing or inactive row falls back to a synthetic general-desk GPT
// so inference and persistence can proceed.
func (w SideEffectWriter) ResolveCustomGPT(ctx domain.Context, userID, customGPTID string) domain.CustomGPT {
	gpt, err := w.Repo.GetCustomGPT(ctx, customGPTID)
	if err == nil {
		return gpt
	}
	slog.Warn("custom gpt not resolvable, using general desk",
		slog.String("custom_gpt_id", customGPTID),
		slog.Any("error", err))
	return domain.CustomGPT{
		ID:             customGPTID,
		UserID:         userID,
		Specialization: domain.SpecGeneral,
	}
}

// PersistAssistantMessage runs the idempotent chain and returns the
// inserted message id. Every created prerequisite emits an audit
// record; a message insert failure wraps ErrSideEffect.
func (w SideEffectWriter) PersistAssistantMessage(ctx domain.Context, req domain.Request, payload domain.ChatRequestPayload, gpt domain.CustomGPT, out domain.InferenceOutput) (string, error) {
	spec := gpt.Specialization
	if spec == "" {
		spec = domain.SpecGeneral
	}

	user := domain.User{
		ID:          req.UserID,
		Email:       req.UserID + "@bakergroup.com",
		DisplayName: "Auto User " + textx.FirstN(req.UserID, 8),
		Role:        "financial_advisor",
		IsActive:    true,
	}
	if existed, err := w.Repo.EnsureUser(ctx, user); err != nil {
		slog.Warn("ensure user failed, continuing",
			slog.String("user_id", req.UserID),
			slog.Any("error", err))
	} else if !existed {
		w.record(ctx, req, domain.AuditActionUserCreated, map[string]string{"email": user.Email})
	}

	autoGPT := domain.CustomGPT{
		ID:             gpt.ID,
		UserID:         req.UserID,
		Name:           fmt.Sprintf("Auto-generated %s GPT", spec),
		Description:    fmt.Sprintf("Automatically generated Custom GPT for %s tasks", spec),
		SystemPrompt:   fmt.Sprintf("You are a helpful %s assistant.", spec),
		Specialization: spec,
		ToolsEnabled:   gpt.ToolsEnabled,
		IsActive:       true,
	}
	if existed, err := w.Repo.EnsureCustomGPT(ctx, autoGPT); err != nil {
		slog.Warn("ensure custom gpt failed, continuing",
			slog.String("custom_gpt_id", gpt.ID),
			slog.Any("error", err))
	} else if !existed {
		w.record(ctx, req, domain.AuditActionCustomGPTCreated, map[string]string{
			"custom_gpt_id":  gpt.ID,
			"specialization": string(spec),
		})
	}

	thread := domain.Thread{
		ID:          payload.ThreadID,
		UserID:      req.UserID,
		CustomGPTID: gpt.ID,
		Title:       fmt.Sprintf("Chat with %s", spec),
	}
	if existed, err := w.Repo.EnsureThread(ctx, thread); err != nil {
		slog.Warn("ensure thread failed, continuing",
			slog.String("thread_id", payload.ThreadID),
			slog.Any("error", err))
	} else if !existed {
		w.record(ctx, req, domain.AuditActionThreadCreated, map[string]string{"thread_id": payload.ThreadID})
	}

	msg := domain.Message{
		ID:                  uuid.NewString(),
		ThreadID:            payload.ThreadID,
		UserID:              req.UserID,
		CustomGPTID:         gpt.ID,
		Content:             out.Content,
		Role:                domain.RoleAssistant,
		ConfidenceScore:     out.ConfidenceScore,
		ModelUsed:           out.ModelUsed,
		ProcessingTimeMS:    out.ProcessingTimeMS,
		ComplianceFlags:     out.ComplianceFlags,
		SECCompliant:        out.SECCompliant,
		HumanReviewRequired: out.HumanReviewRequired,
		CreatedAt:           time.Now().UTC(),
	}
	msgID, err := w.Repo.InsertMessage(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("op=writer.persist_message: %w: %w", domain.ErrSideEffect, err)
	}

	status := domain.ComplianceStatusFor(out.SECCompliant, out.HumanReviewRequired)
	if w.Audit != nil {
		_ = w.Audit.Record(ctx, domain.AuditRecord{
			Action:           domain.AuditActionMessagePersisted,
			UserID:           req.UserID,
			RequestID:        req.ID,
			ComplianceStatus: status,
			Details:          map[string]string{"message_id": msgID, "thread_id": payload.ThreadID},
		})
		if !out.SECCompliant {
			_ = w.Audit.Record(ctx, domain.AuditRecord{
				Action:           domain.AuditActionNonCompliantOutput,
				UserID:           req.UserID,
				RequestID:        req.ID,
				ComplianceStatus: domain.ComplianceNonCompliant,
				Details:          map[string]string{"message_id": msgID, "model_used": out.ModelUsed},
			})
		}
	}
	return msgID, nil
}

func (w SideEffectWriter) record(ctx domain.Context, req domain.Request, action string, details map[string]string) {
	if w.Audit == nil {
		return
	}
	_ = w.Audit.Record(ctx, domain.AuditRecord{
		Action:           action,
		UserID:           req.UserID,
		RequestID:        req.ID,
		ComplianceStatus: domain.ComplianceCompliant,
		Details:          details,
	})
}
