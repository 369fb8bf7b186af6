package domain

import "time"

// ComplianceStatus classifies an audited action for the compliance
// trail.
type ComplianceStatus string

const (
	ComplianceCompliant      ComplianceStatus = "COMPLIANT"
	ComplianceNonCompliant   ComplianceStatus = "NON_COMPLIANT"
	ComplianceReviewRequired ComplianceStatus = "REVIEW_REQUIRED"
)

// ComplianceStatusFor derives the audit status of a completed
// inference from its compliance verdict.
func ComplianceStatusFor(secCompliant, humanReview bool) ComplianceStatus {
	switch {
	case !secCompliant:
		return ComplianceNonCompliant
	case humanReview:
		return ComplianceReviewRequired
	default:
		return ComplianceCompliant
	}
}

// AuditRecord is one entry in the compliance audit trail.
type AuditRecord struct {
	Timestamp        time.Time         `json:"timestamp"`
	Action           string            `json:"action"`
	UserID           string            `json:"user_id"`
	RequestID        string            `json:"request_id"`
	ComplianceStatus ComplianceStatus  `json:"compliance_status"`
	Details          map[string]string `json:"details,omitempty"`
}

// Audit actions emitted by the broker.
const (
	AuditActionEnqueued           = "request_enqueued"
	AuditActionStarted            = "inference_started"
	AuditActionCompleted          = "inference_completed"
	AuditActionFailed             = "inference_failed"
	AuditActionReset              = "request_reset"
	AuditActionPurged             = "requests_purged"
	AuditActionNonCompliantOutput = "non_compliant_output"
	AuditActionGPUAcquired        = "gpu_acquired"
	AuditActionGPUReleased        = "gpu_released"
	AuditActionUserCreated        = "user_created"
	AuditActionCustomGPTCreated   = "custom_gpt_created"
	AuditActionThreadCreated      = "thread_created"
	AuditActionMessagePersisted   = "message_persisted"
)

//go:generate mockery --name=AuditSink --with-expecter --filename=audit_sink_mock.go

// AuditSink receives compliance audit records. Implementations must be
// safe for concurrent use and must not block request processing beyond
// the passed context.
type AuditSink interface {
	Record(ctx Context, rec AuditRecord) error
}
