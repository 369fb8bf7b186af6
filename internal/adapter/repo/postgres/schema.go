package postgres

import (
	"context"
	"fmt"
)

// schemaStatements create the broker's tables when they do not exist.
// Ordered so foreign keys resolve. The claim index matches the ORDER BY
// of the dequeue query exactly.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		external_auth_id TEXT UNIQUE,
		email TEXT NOT NULL,
		display_name TEXT NOT NULL,
		role TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS custom_gpts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		system_prompt TEXT NOT NULL,
		specialization TEXT NOT NULL,
		tools_enabled JSONB NOT NULL DEFAULT '[]',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		custom_gpt_id TEXT NOT NULL REFERENCES custom_gpts(id),
		title TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		is_archived BOOLEAN NOT NULL DEFAULT FALSE,
		tags JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id),
		custom_gpt_id TEXT REFERENCES custom_gpts(id),
		content TEXT NOT NULL,
		role TEXT NOT NULL,
		confidence_score REAL,
		model_used TEXT,
		processing_time_ms BIGINT,
		compliance_flags JSONB NOT NULL DEFAULT '[]',
		sec_compliant BOOLEAN NOT NULL DEFAULT TRUE,
		human_review_required BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS inference_queue (
		id TEXT PRIMARY KEY,
		request_type TEXT NOT NULL,
		input_data JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 5,
		user_id TEXT NOT NULL,
		message_id TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		response_content TEXT,
		response_metadata JSONB,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inference_queue_claim
		ON inference_queue (status, priority, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread
		ON messages (thread_id, created_at)`,
}

// EnsureSchema creates the broker schema idempotently. Safe to run on
// every startup; concurrent processes may race on CREATE IF NOT EXISTS
// without harm.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	for _, q := range schemaStatements {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("op=schema.ensure: %w", err)
		}
	}
	return nil
}
