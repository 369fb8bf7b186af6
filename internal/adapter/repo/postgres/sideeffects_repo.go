package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// SideEffectRepo persists the user/custom-GPT/thread/message rows the
// writer materializes after a successful inference.
type SideEffectRepo struct{ Pool PgxPool }

// NewSideEffectRepo constructs a SideEffectRepo with the given pool.
func NewSideEffectRepo(p PgxPool) *SideEffectRepo { return &SideEffectRepo{Pool: p} }

// EnsureUser creates a user row when absent. existed=true means the
// row was already there and nothing was written.
func (r *SideEffectRepo) EnsureUser(ctx domain.Context, u domain.User) (bool, error) {
	tracer := otel.Tracer("repo.sideeffects")
	ctx, span := tracer.Start(ctx, "sideeffects.EnsureUser")
	defer span.End()
	var exists bool
	if err := r.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id=$1)`, u.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("op=sideeffects.ensure_user: %w", err)
	}
	if exists { return true, nil }
	q := `INSERT INTO users (id, external_auth_id, email, display_name, role, is_active, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,TRUE,$6,$6) ON CONFLICT (id) DO NOTHING`
	_, err := r.Pool.Exec(ctx, q, u.ID, textOrNil(u.ExternalAuthID), u.Email, u.DisplayName, u.Role, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("op=sideeffects.ensure_user: %w", err)
	}
	return false, nil
}

// EnsureCustomGPT creates a custom GPT row when absent.
func (r *SideEffectRepo) EnsureCustomGPT(ctx domain.Context, g domain.CustomGPT) (bool, error) {
	tracer := otel.Tracer("repo.sideeffects")
	ctx, span := tracer.Start(ctx, "sideeffects.EnsureCustomGPT")
	defer span.End()
	var exists bool
	if err := r.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM custom_gpts WHERE id=$1)`, g.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("op=sideeffects.ensure_custom_gpt: %w", err)
	}
	if exists { return true, nil }
	q := `INSERT INTO custom_gpts (id, user_id, name, description, system_prompt, specialization, tools_enabled, is_active, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,$8,$8) ON CONFLICT (id) DO NOTHING`
	_, err := r.Pool.Exec(ctx, q, g.ID, g.UserID, g.Name, g.Description, g.SystemPrompt, g.Specialization, encodeStrings(g.ToolsEnabled), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("op=sideeffects.ensure_custom_gpt: %w", err)
	}
	return false, nil
}

// EnsureThread creates a thread row when absent.
func (r *SideEffectRepo) EnsureThread(ctx domain.Context, t domain.Thread) (bool, error) {
	tracer := otel.Tracer("repo.sideeffects")
	ctx, span := tracer.Start(ctx, "sideeffects.EnsureThread")
	defer span.End()
	var exists bool
	if err := r.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM threads WHERE id=$1)`, t.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("op=sideeffects.ensure_thread: %w", err)
	}
	if exists { return true, nil }
	q := `INSERT INTO threads (id, user_id, custom_gpt_id, title, message_count, is_archived, tags, created_at, updated_at) VALUES ($1,$2,$3,$4,0,FALSE,$5,$6,$6) ON CONFLICT (id) DO NOTHING`
	_, err := r.Pool.Exec(ctx, q, t.ID, t.UserID, t.CustomGPTID, t.Title, encodeStrings(t.Tags), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("op=sideeffects.ensure_thread: %w", err)
	}
	return false, nil
}

// InsertMessage stores an assistant message and bumps the thread's
// message counter in one transaction. Returns the message id.
func (r *SideEffectRepo) InsertMessage(ctx domain.Context, m domain.Message) (string, error) {
	tracer := otel.Tracer("repo.sideeffects")
	ctx, span := tracer.Start(ctx, "sideeffects.InsertMessage")
	defer span.End()
	id := m.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("op=sideeffects.insert_message: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO messages (id, thread_id, user_id, custom_gpt_id, content, role, confidence_score, model_used, processing_time_ms, compliance_flags, sec_compliant, human_review_required, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err = tx.Exec(ctx, q, id, m.ThreadID, m.UserID, textOrNil(m.CustomGPTID), m.Content, m.Role,
		m.ConfidenceScore, m.ModelUsed, m.ProcessingTimeMS, encodeStrings(m.ComplianceFlags),
		m.SECCompliant, m.HumanReviewRequired, now)
	if err != nil {
		return "", fmt.Errorf("op=sideeffects.insert_message: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE threads SET message_count = message_count + 1, updated_at = $2 WHERE id = $1`, m.ThreadID, now)
	if err != nil {
		return "", fmt.Errorf("op=sideeffects.insert_message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("op=sideeffects.insert_message: %w", err)
	}
	return id, nil
}

// GetCustomGPT loads an active custom GPT by id.
func (r *SideEffectRepo) GetCustomGPT(ctx domain.Context, id string) (domain.CustomGPT, error) {
	tracer := otel.Tracer("repo.sideeffects")
	ctx, span := tracer.Start(ctx, "sideeffects.GetCustomGPT")
	defer span.End()
	q := `SELECT id, user_id, name, description, system_prompt, specialization, tools_enabled, is_active, created_at, updated_at FROM custom_gpts WHERE id=$1 AND is_active=TRUE`
	row := r.Pool.QueryRow(ctx, q, id)
	var (
		g        domain.CustomGPT
		spec     string
		rawTools []byte
	)
	err := row.Scan(&g.ID, &g.UserID, &g.Name, &g.Description, &g.SystemPrompt, &spec, &rawTools, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CustomGPT{}, fmt.Errorf("op=sideeffects.get_custom_gpt: %w", domain.ErrNotFound)
		}
		return domain.CustomGPT{}, fmt.Errorf("op=sideeffects.get_custom_gpt: %w", err)
	}
	g.Specialization = domain.Specialization(spec)
	g.ToolsEnabled = decodeStrings(rawTools)
	return g, nil
}

// textOrNil maps empty strings onto SQL NULL for nullable text columns.
func textOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
