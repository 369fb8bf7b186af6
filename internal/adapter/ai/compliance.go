package ai

import (
	"strings"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// Phrases a generated response must never contain. Matching is
// case-insensitive substring; SEC marketing rules prohibit promising
// outcomes.
var prohibitedPhrases = []string{
	"guaranteed returns",
	"risk-free",
}

// reviewThreshold is the confidence floor below which a response is
// routed to a human reviewer.
const reviewThreshold = 0.7

// complianceVerdict is the post-generation screening result attached
// to a response.
type complianceVerdict struct {
	SECCompliant        bool
	HumanReviewRequired bool
	Confidence          float64
	Flags               []string
}

// assessCompliance screens generated content. Compliance-desk
// responses always require human review regardless of score.
func assessCompliance(content string, spec domain.Specialization) complianceVerdict {
	v := complianceVerdict{
		SECCompliant: !containsProhibited(content),
		Confidence:   confidenceFor(spec),
	}
	v.HumanReviewRequired = v.Confidence < reviewThreshold || spec == domain.SpecCompliance
	if !v.SECCompliant {
		v.Flags = append(v.Flags, domain.FlagSECNonCompliant)
	}
	if v.HumanReviewRequired {
		v.Flags = append(v.Flags, domain.FlagHumanReviewRequired)
	}
	return v
}

// confidenceFor returns the heuristic confidence baseline per desk.
// Compliance answers are deliberately scored lowest so they always
// carry the review flag path.
func confidenceFor(spec domain.Specialization) float64 {
	switch spec {
	case domain.SpecCompliance:
		return 0.75
	case domain.SpecCRM, domain.SpecPortfolio:
		return 0.80
	default:
		return 0.85
	}
}

func containsProhibited(content string) bool {
	lower := strings.ToLower(content)
	for _, p := range prohibitedPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
