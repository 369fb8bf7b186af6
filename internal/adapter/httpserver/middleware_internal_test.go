package httpserver

import (
	"testing"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

func Test_newReqID(t *testing.T) {
	t.Parallel()

	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newReqID()
		if id == "" {
			t.Fatal("newReqID returned empty string")
		}
		if ids[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		ids[id] = true
	}
}

func Test_newReqID_Format(t *testing.T) {
	t.Parallel()

	id := newReqID()
	// ULID is 26 characters
	if len(id) != 26 {
		// If not ULID, it should be timestamp format
		if len(id) < 20 {
			t.Fatalf("unexpected ID format: %s (len=%d)", id, len(id))
		}
	}
}

func Test_BuildRequestEnvelope(t *testing.T) {
	req := domain.Request{
		ID:              "req-1",
		Type:            domain.RequestChat,
		Status:          domain.RequestCompleted,
		Priority:        3,
		RetryCount:      1,
		ResponseContent: "All set.",
		ResponseMetadata: &domain.ResponseMetadata{
			ModelUsed:       "portfolio_gpt-oss",
			ConfidenceScore: 0.8,
			ComplianceFlags: []string{},
		},
	}
	m := BuildRequestEnvelope(req)
	if m["id"].(string) != "req-1" {
		t.Fatalf("id mismatch")
	}
	if m["status"].(string) != string(domain.RequestCompleted) {
		t.Fatalf("status mismatch")
	}
	inner := m["response"].(map[string]any)
	if inner["content"].(string) != "All set." {
		t.Fatalf("content mismatch")
	}
	if inner["metadata"].(*domain.ResponseMetadata).ModelUsed != "portfolio_gpt-oss" {
		t.Fatalf("metadata mismatch")
	}

	failed := BuildRequestEnvelope(domain.Request{ID: "req-2", Status: domain.RequestFailed, ErrorMessage: "GPU resource timeout"})
	if failed["error"].(string) != "GPU resource timeout" {
		t.Fatalf("failed envelope missing error")
	}
	if _, ok := failed["response"]; ok {
		t.Fatalf("failed envelope should not include response")
	}

	pending := BuildRequestEnvelope(domain.Request{ID: "req-3", Status: domain.RequestPending})
	if _, ok := pending["response"]; ok {
		t.Fatalf("pending envelope should not include response")
	}
	if _, ok := pending["error"]; ok {
		t.Fatalf("pending envelope should not include error")
	}
}

func Test_UnknownAttachmentTypes(t *testing.T) {
	atts := []domain.AttachmentMeta{
		{Name: "statement.pdf", Type: "application/pdf"},
		{Name: "chart.png", Type: "image/png"},
		{Name: "ledger.xyz", Type: "application/x-baker-ledger"},
		{Name: "ledger2.xyz", Type: "application/x-baker-ledger"},
		{Name: "untyped.bin", Type: ""},
	}
	unknown := UnknownAttachmentTypes(atts)
	if len(unknown) != 1 {
		t.Fatalf("unknown = %v, want exactly the ledger type", unknown)
	}
	if unknown[0] != "application/x-baker-ledger" {
		t.Fatalf("unknown[0] = %q", unknown[0])
	}

	if got := UnknownAttachmentTypes(nil); got != nil {
		t.Fatalf("nil attachments should produce nil, got %v", got)
	}
}
