package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// ResetRequestHandler moves a stuck processing row back to pending.
// This is the manual recovery path after a worker crash; the operator
// decides whether a replay is safe.
func (s *Server) ResetRequestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if vr := ValidateRequestID(id); !vr.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid request id", domain.ErrInvalidArgument), vr.Errors)
			return
		}
		ok, err := s.Broker.Reset(r.Context(), id)
		if err != nil {
			writeError(w, r, fmt.Errorf("reset: %w", err), nil)
			return
		}
		if !ok {
			writeError(w, r, fmt.Errorf("%w: request is not in processing", domain.ErrConflict),
				map[string]string{"id": id})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.RequestPending)})
	}
}

// StuckRequestsHandler lists processing rows older than a threshold.
// The age query accepts a Go duration and defaults to the configured
// stuck-processing age.
func (s *Server) StuckRequestsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		age := s.Cfg.StuckProcessingAge
		if raw := r.URL.Query().Get("age"); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed <= 0 {
				writeError(w, r, fmt.Errorf("%w: invalid age", domain.ErrInvalidArgument),
					map[string]string{"age": raw})
				return
			}
			age = parsed
		}
		offset := parseQueryInt(r, "offset", 0)
		limit := parseQueryInt(r, "limit", 100)

		reqs, err := s.Broker.ListStuck(r.Context(), age, offset, limit)
		if err != nil {
			writeError(w, r, fmt.Errorf("list stuck: %w", err), nil)
			return
		}
		items := make([]map[string]any, 0, len(reqs))
		for _, req := range reqs {
			items = append(items, BuildRequestEnvelope(req))
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "requests": items})
	}
}

// PurgeHandler deletes terminal rows older than the retention window.
// An optional body overrides the configured retention days.
func (s *Server) PurgeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := s.Cfg.RetentionDays
		if r.Body != nil && r.ContentLength != 0 {
			var body struct {
				OlderThanDays int `json:"older_than_days"`
			}
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&body); err != nil {
				writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
				return
			}
			if body.OlderThanDays < 1 {
				writeError(w, r, fmt.Errorf("%w: older_than_days must be at least 1", domain.ErrInvalidArgument), nil)
				return
			}
			days = body.OlderThanDays
		}
		purged, err := s.Broker.Purge(r.Context(), time.Duration(days)*24*time.Hour, time.Now())
		if err != nil {
			writeError(w, r, fmt.Errorf("purge: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"purged": purged, "older_than_days": days})
	}
}
