// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
	"github.com/fairyhunter13/ai-inference-broker/pkg/textx"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// ChatEnqueueInput is the payload accepted by EnqueueChat. MessageID
// may be empty; intake assigns one.
type ChatEnqueueInput struct {
	MessageID       string                  `validate:"omitempty,max=64"`
	ThreadID        string                  `validate:"required,max=64"`
	CustomGPTID     string                  `validate:"required,max=64"`
	UserMessage     string                  `validate:"required,max=32000"`
	ContextMessages []domain.ContextMessage `validate:"max=50"`
	Attachments     []domain.AttachmentMeta `validate:"max=10"`
}

// IntakeService is the only write path into the queue.
type IntakeService struct {
	Queue domain.QueueRepository
	Audit domain.AuditSink
}

// NewIntakeService constructs an IntakeService with its dependencies.
func NewIntakeService(q domain.QueueRepository, sink domain.AuditSink) IntakeService {
	return IntakeService{Queue: q, Audit: sink}
}

// EnqueueChat validates the payload, applies priority policy and
// inserts a pending chat row. A zero priority selects the default for
// the caller's role; any value is clamped into [1,10] silently.
func (s IntakeService) EnqueueChat(ctx domain.Context, in ChatEnqueueInput, priority int, userID, userRole string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id required", domain.ErrInvalidArgument)
	}
	if err := getValidator().Struct(in); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}
	if priority == 0 {
		priority = domain.PriorityForRole(userRole)
	}
	priority = domain.ClampPriority(priority)

	if in.MessageID == "" {
		in.MessageID = uuid.NewString()
	}
	req := domain.Request{
		ID:       uuid.NewString(),
		Type:     domain.RequestChat,
		Priority: priority,
		UserID:   userID,
		Payload: domain.ChatRequestPayload{
			MessageID:       in.MessageID,
			ThreadID:        in.ThreadID,
			CustomGPTID:     in.CustomGPTID,
			UserMessage:     textx.SanitizeText(in.UserMessage),
			ContextMessages: in.ContextMessages,
			Attachments:     in.Attachments,
		},
		MessageID: in.MessageID,
		Status:    domain.RequestPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Queue.Insert(ctx, req); err != nil {
		return "", err
	}

	observability.EnqueueRequest(string(domain.RequestChat))
	if s.Audit != nil {
		_ = s.Audit.Record(ctx, domain.AuditRecord{
			Action:           domain.AuditActionEnqueued,
			UserID:           userID,
			RequestID:        req.ID,
			ComplianceStatus: domain.ComplianceCompliant,
			Details: map[string]string{
				"priority":  fmt.Sprintf("%d", priority),
				"thread_id": in.ThreadID,
			},
		})
	}
	slog.Info("chat request enqueued",
		slog.String("request_id", req.ID),
		slog.String("user_id", userID),
		slog.Int("priority", priority))
	return req.ID, nil
}
