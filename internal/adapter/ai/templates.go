package ai

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// Base system prompts per specialization. These are the Baker Group
// advisory desk personas; an operator can replace individual entries
// through a YAML prompts file without rebuilding.
var basePrompts = map[domain.Specialization]string{
	domain.SpecCRM: `You are a specialized CRM assistant for financial advisors at Baker Group.
You help manage client relationships, track communications, and ensure proper documentation for SEC compliance.
Always prioritize client confidentiality and regulatory requirements.
When recommending actions, ensure they align with SEC and FINRA regulations.`,

	domain.SpecPortfolio: `You are a specialized portfolio analysis assistant for wealth management at Baker Group.
You analyze investment portfolios, provide performance insights, and make SEC-compliant investment recommendations
based on client risk tolerance and objectives. Always consider diversification, risk management, and
regulatory compliance in your recommendations.`,

	domain.SpecCompliance: `You are a specialized compliance assistant for Baker Group financial advisory services.
You ensure all communications, recommendations, and documentation meet SEC and FINRA requirements.
You flag potential compliance issues and provide regulatory guidance.
Always err on the side of caution and require human review for sensitive matters.`,

	domain.SpecGeneral: `You are a helpful AI assistant for Baker Group financial services.
You provide general assistance while maintaining strict compliance with financial industry regulations.
Always defer to specialized advisors for specific financial recommendations and ensure all advice
is compliant with SEC requirements.`,

	domain.SpecRetirement: `You are a specialized retirement planning assistant for Baker Group.
You help clients plan for retirement by analyzing their current financial situation,
projecting future needs, and recommending appropriate savings and investment strategies.
Always consider tax implications and regulatory requirements.`,

	domain.SpecTax: `You are a specialized tax planning assistant for Baker Group financial advisors.
You provide guidance on tax-efficient investment strategies, retirement planning, and estate planning.
Always ensure recommendations comply with current tax law and SEC regulations.`,
}

// Templates resolves the system prompt for a specialization.
type Templates struct {
	prompts map[domain.Specialization]string
}

// DefaultTemplates returns the built-in Baker Group prompts.
func DefaultTemplates() *Templates {
	prompts := make(map[domain.Specialization]string, len(basePrompts))
	for k, v := range basePrompts {
		prompts[k] = v
	}
	return &Templates{prompts: prompts}
}

// LoadTemplates starts from the defaults and overrides individual
// specializations from a YAML file mapping specialization to prompt
// text. An empty path means defaults only.
func LoadTemplates(path string) (*Templates, error) {
	t := DefaultTemplates()
	if path == "" {
		return t, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=ai.load_templates: %w", err)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(b, &overrides); err != nil {
		return nil, fmt.Errorf("op=ai.load_templates: %w", err)
	}
	for k, v := range overrides {
		spec := domain.Specialization(k)
		if _, known := t.prompts[spec]; !known {
			slog.Warn("ignoring prompt override for unknown specialization",
				slog.String("specialization", k))
			continue
		}
		if v != "" {
			t.prompts[spec] = v
		}
	}
	slog.Info("prompt templates loaded",
		slog.String("path", path),
		slog.Int("overrides", len(overrides)))
	return t, nil
}

// For returns the prompt for spec, falling back to general for
// unknown specializations.
func (t *Templates) For(spec domain.Specialization) string {
	if p, ok := t.prompts[spec]; ok {
		return p
	}
	return t.prompts[domain.SpecGeneral]
}

// Has reports whether spec resolves to its own prompt.
func (t *Templates) Has(spec domain.Specialization) bool {
	_, ok := t.prompts[spec]
	return ok
}
