package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-inference-broker/internal/config"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
	"github.com/fairyhunter13/ai-inference-broker/internal/service/gpu"
	"github.com/fairyhunter13/ai-inference-broker/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg          config.Config
	Intake       usecase.IntakeService
	Broker       usecase.QueueService
	Arbiter      *gpu.Arbiter
	DBCheck      func(ctx context.Context) error
	RedisCheck   func(ctx context.Context) error
	BackendCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, intake usecase.IntakeService, broker usecase.QueueService, arbiter *gpu.Arbiter, dbCheck, redisCheck, backendCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Intake: intake, Broker: broker, Arbiter: arbiter, DBCheck: dbCheck, RedisCheck: redisCheck, BackendCheck: backendCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// acceptsJSON rejects requests whose Accept header excludes JSON; only
// JSON responses are supported.
func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") {
		return true
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code:    "INVALID_ARGUMENT",
		Message: "not acceptable",
		Details: map[string]any{"accept": a},
	}})
	return false
}

// EnqueueChatHandler accepts a chat inference request into the queue.
func (s *Server) EnqueueChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req struct {
			MessageID       string                  `json:"message_id" validate:"omitempty,max=64"`
			ThreadID        string                  `json:"thread_id" validate:"required,max=64"`
			CustomGPTID     string                  `json:"custom_gpt_id" validate:"required,max=64"`
			UserMessage     string                  `json:"user_message" validate:"required,max=32000"`
			ContextMessages []domain.ContextMessage `json:"context_messages" validate:"max=50"`
			Attachments     []domain.AttachmentMeta `json:"attachments" validate:"max=10"`
			Priority        int                     `json:"priority" validate:"omitempty,min=1,max=10"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}

		// Declared attachment types are checked against the mimetype
		// registry; unknown types are surfaced, never rejected.
		unknownTypes := UnknownAttachmentTypes(req.Attachments)

		user := UserFrom(r)
		ctx := r.Context()
		id, err := s.Intake.EnqueueChat(ctx, usecase.ChatEnqueueInput{
			MessageID:       req.MessageID,
			ThreadID:        req.ThreadID,
			CustomGPTID:     req.CustomGPTID,
			UserMessage:     req.UserMessage,
			ContextMessages: req.ContextMessages,
			Attachments:     req.Attachments,
		}, req.Priority, user.ID, user.Role)
		if err != nil {
			writeError(w, r, fmt.Errorf("enqueue: %w", err), nil)
			return
		}

		resp := map[string]any{"id": id, "status": string(domain.RequestPending)}
		if len(unknownTypes) > 0 {
			resp["warnings"] = map[string]any{"unknown_attachment_types": unknownTypes}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// RequestStatusHandler returns a request's status and, when terminal,
// its result or failure message.
func (s *Server) RequestStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if vr := ValidateRequestID(id); !vr.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid request id", domain.ErrInvalidArgument), vr.Errors)
			return
		}
		req, err := s.Broker.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, BuildRequestEnvelope(req))
	}
}

// QueueStatsHandler returns cached queue stats, derived health, and
// the GPU arbiter snapshot.
func (s *Server) QueueStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		stats, err := s.Broker.Stats(r.Context())
		if err != nil {
			writeError(w, r, fmt.Errorf("queue stats: %w", err), nil)
			return
		}
		resp := map[string]any{
			"queue":  stats,
			"health": string(domain.HealthFor(stats)),
		}
		if s.Arbiter != nil {
			resp["gpu"] = s.Arbiter.Stats()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ReadyzHandler probes the store, the stats cache, and the inference
// backend. Unconfigured checks are skipped.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		run := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				checks = append(checks, check{Name: name, OK: false, Details: err.Error()})
				return
			}
			checks = append(checks, check{Name: name, OK: true})
		}
		run("db", s.DBCheck)
		run("redis", s.RedisCheck)
		run("backend", s.BackendCheck)

		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// BuildRequestEnvelope shapes a queue row for the status endpoint.
func BuildRequestEnvelope(req domain.Request) map[string]any {
	m := map[string]any{
		"id":          req.ID,
		"type":        string(req.Type),
		"status":      string(req.Status),
		"priority":    req.Priority,
		"retry_count": req.RetryCount,
		"created_at":  req.CreatedAt,
	}
	if req.StartedAt != nil {
		m["started_at"] = *req.StartedAt
	}
	if req.CompletedAt != nil {
		m["completed_at"] = *req.CompletedAt
	}
	switch req.Status {
	case domain.RequestCompleted:
		resp := map[string]any{"content": req.ResponseContent}
		if req.ResponseMetadata != nil {
			resp["metadata"] = req.ResponseMetadata
		}
		m["response"] = resp
	case domain.RequestFailed:
		m["error"] = req.ErrorMessage
	}
	return m
}

// UnknownAttachmentTypes returns the declared MIME types the registry
// does not recognize, deduplicated in input order.
func UnknownAttachmentTypes(atts []domain.AttachmentMeta) []string {
	var unknown []string
	seen := map[string]bool{}
	for _, a := range atts {
		t := strings.TrimSpace(a.Type)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if mimetype.Lookup(t) == nil {
			unknown = append(unknown, t)
		}
	}
	return unknown
}

// parseQueryInt reads an integer query parameter with a default.
func parseQueryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
