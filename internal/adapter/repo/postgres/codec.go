package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// Structured columns cross this boundary as JSON text. In-memory forms
// stay typed; only chat payloads have a concrete variant, everything
// else round-trips as raw bytes.

func encodePayload(p domain.RequestPayload) ([]byte, error) {
	switch v := p.(type) {
	case nil:
		return []byte(`{}`), nil
	case domain.RawPayload:
		if len(v) == 0 {
			return []byte(`{}`), nil
		}
		return []byte(v), nil
	case domain.ChatRequestPayload:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("op=queue.encode_payload: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("op=queue.encode_payload: unhandled payload %T: %w", p, domain.ErrInvalidArgument)
	}
}

// decodePayload is total: a chat row whose input_data does not parse
// comes back as RawPayload and the dispatcher fails it there, instead
// of poisoning the claim path.
func decodePayload(t domain.RequestType, raw []byte) domain.RequestPayload {
	if t != domain.RequestChat {
		return domain.RawPayload(raw)
	}
	var p domain.ChatRequestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.RawPayload(raw)
	}
	return p
}

func encodeMetadata(m *domain.ResponseMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("op=queue.encode_metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(raw []byte) *domain.ResponseMetadata {
	if len(raw) == 0 {
		return nil
	}
	var m domain.ResponseMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return &m
}

func encodeStrings(ss []string) []byte {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return b
}

func decodeStrings(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var ss []string
	if err := json.Unmarshal(raw, &ss); err != nil {
		return nil
	}
	return ss
}
