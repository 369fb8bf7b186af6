package domain

import (
	"encoding/json"
	"time"
)

// RequestPayload is the typed form of a queue row's input_data. One
// concrete variant exists per supported request type; rows of other
// types round-trip through RawPayload. Serialization happens at the
// store boundary only.
type RequestPayload interface {
	isRequestPayload()
}

// ChatRequestPayload is the input_data variant for chat requests.
type ChatRequestPayload struct {
	MessageID       string           `json:"message_id"`
	ThreadID        string           `json:"thread_id"`
	CustomGPTID     string           `json:"custom_gpt_id"`
	UserMessage     string           `json:"user_message"`
	ContextMessages []ContextMessage `json:"context_messages"`
	Attachments     []AttachmentMeta `json:"attachments"`
}

func (ChatRequestPayload) isRequestPayload() {}

// RawPayload carries input_data of request types this build does not
// model. It keeps store decode total without inventing semantics.
type RawPayload json.RawMessage

func (RawPayload) isRequestPayload() {}

// ContextMessage is one prior message handed to the adapter,
// chronologically ordered with the most recent last.
type ContextMessage struct {
	ID              string           `json:"id"`
	ThreadID        string           `json:"thread_id"`
	Content         string           `json:"content"`
	Role            MessageRole      `json:"role"`
	Timestamp       time.Time        `json:"timestamp"`
	Attachments     []AttachmentMeta `json:"attachments"`
	ComplianceFlags []string         `json:"compliance_flags"`
}

// AttachmentMeta is attachment metadata only; content is dereferenced
// out of band by the external storage collaborator.
type AttachmentMeta struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Size       int64     `json:"size"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// InferenceInput is what the dispatcher hands to the adapter after
// resolving the custom GPT row.
type InferenceInput struct {
	MessageID       string
	ThreadID        string
	CustomGPT       CustomGPT
	UserID          string
	UserMessage     string
	ContextMessages []ContextMessage
	Attachments     []AttachmentMeta
}

// ToolInteraction records one tool call attributed to a response.
type ToolInteraction struct {
	Tool   string `json:"tool"`
	Action string `json:"action"`
	Result string `json:"result"`
}

// InferenceOutput is the adapter's result for a chat inference.
type InferenceOutput struct {
	Content             string
	ModelUsed           string
	ProcessingTimeMS    int64
	InputTokens         int
	OutputTokens        int
	ConfidenceScore     float64
	SECCompliant        bool
	HumanReviewRequired bool
	ComplianceFlags     []string
	ToolInteractions    []ToolInteraction
}

// Compliance flags attached to responses.
const (
	FlagSECNonCompliant     = "SEC_NON_COMPLIANT"
	FlagHumanReviewRequired = "HUMAN_REVIEW_REQUIRED"
)

// ResponseMetadata is the structured half of a completed row's result,
// encoded as JSON text at the store boundary.
type ResponseMetadata struct {
	ModelUsed           string            `json:"model_used"`
	ProcessingTimeMS    int64             `json:"processing_time_ms"`
	ConfidenceScore     float64           `json:"confidence_score"`
	InputTokens         int               `json:"input_tokens"`
	OutputTokens        int               `json:"output_tokens"`
	ComplianceFlags     []string          `json:"compliance_flags"`
	SECCompliant        bool              `json:"sec_compliant"`
	HumanReviewRequired bool              `json:"human_review_required"`
	ToolInteractions    []ToolInteraction `json:"tool_interactions"`
	// SideEffectError surfaces a best-effort message persistence
	// failure; the queue row still completes.
	SideEffectError string `json:"side_effect_error,omitempty"`
}

// MetadataFor maps an adapter output onto response metadata.
func MetadataFor(out InferenceOutput) ResponseMetadata {
	flags := out.ComplianceFlags
	if flags == nil {
		flags = []string{}
	}
	tools := out.ToolInteractions
	if tools == nil {
		tools = []ToolInteraction{}
	}
	return ResponseMetadata{
		ModelUsed:           out.ModelUsed,
		ProcessingTimeMS:    out.ProcessingTimeMS,
		ConfidenceScore:     out.ConfidenceScore,
		InputTokens:         out.InputTokens,
		OutputTokens:        out.OutputTokens,
		ComplianceFlags:     flags,
		SECCompliant:        out.SECCompliant,
		HumanReviewRequired: out.HumanReviewRequired,
		ToolInteractions:    tools,
	}
}
