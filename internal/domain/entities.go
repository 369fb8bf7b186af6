package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrRateLimited         = errors.New("rate limited")
	ErrUsageLimit          = errors.New("usage limit exceeded")
	ErrBackendMisbehaviour = errors.New("backend misbehaviour")
	ErrBackendTransient    = errors.New("backend transient failure")
	ErrResourceTimeout     = errors.New("resource timeout")
	ErrStore               = errors.New("store failure")
	ErrSideEffect          = errors.New("side effect failure")
	ErrInternal            = errors.New("internal error")
)

// User-visible failure messages recorded on failed queue rows.
const (
	FailureMsgUsageLimit = "Response limit exceeded"
	FailureMsgBackend    = "AI model encountered an error"
	FailureMsgGPUTimeout = "GPU resource timeout"
)

// RequestType enumerates queue request types. Only chat is fully
// supported end to end; the other types are accepted at the store
// boundary so their rows survive decode.
type RequestType string

const (
	RequestChat                 RequestType = "chat"
	RequestMeetingTranscription RequestType = "meeting_transcription"
	RequestDocumentAnalysis     RequestType = "document_analysis"
	RequestComplianceCheck      RequestType = "compliance_check"
)

type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

// Terminal reports whether a status is terminal.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestFailed
}

// Request is the queue row: durable work item, claim ledger entry and
// result mailbox in one.
// Invariants: a processing row has StartedAt set and no CompletedAt;
// transitions are pending->processing->{completed|failed} only.
type Request struct {
	ID          string
	Type        RequestType
	Payload     RequestPayload
	Priority    int // 1 most urgent .. 10, default 5
	UserID      string
	MessageID   string
	Status      RequestStatus
	RetryCount  int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	ResponseContent  string
	ResponseMetadata *ResponseMetadata
	ErrorMessage     string
}

// RequestOutcome is the terminal result the dispatcher hands to the
// broker. Exactly one of (Content+Metadata) or ErrorMessage is set.
type RequestOutcome struct {
	Success      bool
	Content      string
	Metadata     *ResponseMetadata
	ErrorMessage string
}

// QueueStats are counts by status plus total.
type QueueStats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

type QueueHealth string

const (
	QueueIdle     QueueHealth = "idle"
	QueueActive   QueueHealth = "active"
	QueueWarning  QueueHealth = "warning"
	QueueCritical QueueHealth = "critical"
)

// HealthFor classifies queue load from a stats snapshot.
func HealthFor(s QueueStats) QueueHealth {
	switch {
	case s.Pending > 50:
		return QueueCritical
	case s.Pending > 20:
		return QueueWarning
	case s.Processing > 0:
		return QueueActive
	default:
		return QueueIdle
	}
}

// ClampPriority forces a priority into [1,10] silently.
func ClampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// PriorityForRole maps an advisory role to its default queue priority.
func PriorityForRole(role string) int {
	switch role {
	case "executive":
		return 1
	case "senior_partner", "compliance_officer":
		return 2
	case "financial_advisor":
		return 3
	case "support_staff":
		return 4
	case "intern":
		return 6
	default:
		return 5
	}
}

// Specialization selects a prompt template and confidence heuristic.
type Specialization string

const (
	SpecCRM        Specialization = "crm"
	SpecPortfolio  Specialization = "portfolio"
	SpecCompliance Specialization = "compliance"
	SpecGeneral    Specialization = "general"
	SpecRetirement Specialization = "retirement"
	SpecTax        Specialization = "tax"
)

// Tool flags a custom GPT may enable.
const (
	ToolRedtailCRM        = "redtail_crm"
	ToolAlbridgePortfolio = "albridge_portfolio"
	ToolBlackDiamond      = "black_diamond"
)

// Side-effect persistence targets.

type User struct {
	ID             string
	ExternalAuthID string
	Email          string
	DisplayName    string
	Role           string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CustomGPT struct {
	ID             string
	UserID         string
	Name           string
	Description    string
	SystemPrompt   string
	Specialization Specialization
	ToolsEnabled   []string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Thread struct {
	ID           string
	UserID       string
	CustomGPTID  string
	Title        string
	MessageCount int
	IsArchived   bool
	Tags         []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type Message struct {
	ID                  string
	ThreadID            string
	UserID              string
	CustomGPTID         string
	Content             string
	Role                MessageRole
	ConfidenceScore     float64
	ModelUsed           string
	ProcessingTimeMS    int64
	ComplianceFlags     []string
	SECCompliant        bool
	HumanReviewRequired bool
	CreatedAt           time.Time
}

// Repositories (ports)

//go:generate mockery --name=QueueRepository --with-expecter --filename=queue_repository_mock.go
//go:generate mockery --name=SideEffectRepository --with-expecter --filename=sideeffect_repository_mock.go
//go:generate mockery --name=InferenceClient --with-expecter --filename=inference_client_mock.go

type QueueRepository interface {
	Insert(ctx Context, req Request) error
	// ClaimOne atomically marks the highest-priority pending row
	// processing. ok=false with nil error means the queue was empty.
	ClaimOne(ctx Context, now time.Time) (req Request, ok bool, err error)
	// Complete makes a processing row terminal. transitioned=false with
	// nil error means the row was not in processing (already terminal).
	Complete(ctx Context, id string, outcome RequestOutcome, now time.Time) (transitioned bool, err error)
	Get(ctx Context, id string) (Request, error)
	Stats(ctx Context) (QueueStats, error)
	CountByStatus(ctx Context, status RequestStatus) (int64, error)
	PurgeTerminalOlderThan(ctx Context, cutoff time.Time) (int64, error)
	ListProcessingOlderThan(ctx Context, cutoff time.Time, offset, limit int) ([]Request, error)
	// ResetToPending is the manual operator recovery for rows stuck in
	// processing after a worker crash. ok=false means the row was not
	// in processing.
	ResetToPending(ctx Context, id string) (bool, error)
	IncrementRetry(ctx Context, id string) error
}

// SideEffectRepository covers the user/custom-GPT/thread/message tables
// the writer materializes after a successful inference. Ensure methods
// create only when absent and report whether a row existed after the
// call.
type SideEffectRepository interface {
	EnsureUser(ctx Context, u User) (existed bool, err error)
	EnsureCustomGPT(ctx Context, g CustomGPT) (existed bool, err error)
	EnsureThread(ctx Context, t Thread) (existed bool, err error)
	InsertMessage(ctx Context, m Message) (string, error)
	GetCustomGPT(ctx Context, id string) (CustomGPT, error)
}

// InferenceClient (port)

type InferenceClient interface {
	// Infer turns a chat inference input into an output by calling the
	// model backend. It never retries internally; failures are typed
	// via the sentinel taxonomy.
	Infer(ctx Context, in InferenceInput) (InferenceOutput, error)
}

// Context is an alias so domain signatures stay decoupled from the
// stdlib import while adapters pass context.Context straight through.
type Context = context.Context
