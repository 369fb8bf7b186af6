// Package seed loads the demo dataset: the mock advisor roster and one
// demo custom GPT per specialization. IDs are fixed, so re-running is
// safe; rows that already exist are left untouched.
package seed

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// Store is the slice of the side-effect repository the seeder needs.
type Store interface {
	EnsureUser(ctx domain.Context, u domain.User) (existed bool, err error)
	EnsureCustomGPT(ctx domain.Context, g domain.CustomGPT) (existed bool, err error)
}

// Result counts what Run wrote and what it found already in place.
type Result struct {
	UsersCreated int
	UsersExisted int
	GPTsCreated  int
	GPTsExisted  int
}

// Run inserts the demo users and custom GPTs through the store's
// ensure chain. Users go first so the GPT owner foreign keys resolve.
func Run(ctx domain.Context, store Store) (Result, error) {
	var res Result
	for _, u := range demoUsers() {
		existed, err := store.EnsureUser(ctx, u)
		if err != nil {
			return res, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		if existed {
			res.UsersExisted++
			continue
		}
		res.UsersCreated++
		slog.Info("seeded user",
			slog.String("user_id", u.ID),
			slog.String("role", u.Role))
	}
	for _, g := range demoGPTs() {
		existed, err := store.EnsureCustomGPT(ctx, g)
		if err != nil {
			return res, fmt.Errorf("seed custom gpt %s: %w", g.ID, err)
		}
		if existed {
			res.GPTsExisted++
			continue
		}
		res.GPTsCreated++
		slog.Info("seeded custom gpt",
			slog.String("custom_gpt_id", g.ID),
			slog.String("specialization", string(g.Specialization)))
	}
	return res, nil
}

// demoUsers mirrors the API's mock directory so every identity a
// bearer token can resolve to has a matching row.
func demoUsers() []domain.User {
	dir := httpserver.Directory()
	users := make([]domain.User, 0, len(dir))
	for _, au := range dir {
		local := au.Email
		if i := strings.IndexByte(local, '@'); i > 0 {
			local = local[:i]
		}
		users = append(users, domain.User{
			ID:             au.ID,
			ExternalAuthID: "auth0|" + local,
			Email:          au.Email,
			DisplayName:    au.DisplayName,
			Role:           au.Role,
		})
	}
	return users
}

// demoGPTs defines one demo custom GPT per specialization. The crm,
// portfolio, and compliance entries match the frontend's mock chat
// data; the rest follow the same register.
func demoGPTs() []domain.CustomGPT {
	return []domain.CustomGPT{
		{
			ID:             "demo-gpt-crm",
			UserID:         "user-sarah-johnson",
			Name:           "CRM Assistant",
			Description:    "Specialized in client relationship management and Redtail CRM integration",
			SystemPrompt:   "You are a specialized CRM assistant for financial advisors. You help manage client relationships, track communications, and ensure proper documentation for SEC compliance. Always prioritize client confidentiality and regulatory requirements.",
			Specialization: domain.SpecCRM,
			ToolsEnabled:   []string{domain.ToolRedtailCRM},
		},
		{
			ID:             "demo-gpt-portfolio",
			UserID:         "user-sarah-johnson",
			Name:           "Portfolio Analyzer",
			Description:    "Investment analysis and portfolio management with Albridge integration",
			SystemPrompt:   "You are a specialized portfolio analysis assistant for wealth management. You analyze investment portfolios, provide performance insights, and make SEC-compliant investment recommendations based on client risk tolerance and objectives.",
			Specialization: domain.SpecPortfolio,
			ToolsEnabled:   []string{domain.ToolAlbridgePortfolio},
		},
		{
			ID:             "demo-gpt-compliance",
			UserID:         "user-compliance-officer",
			Name:           "Compliance Monitor",
			Description:    "SEC compliance oversight and regulatory guidance",
			SystemPrompt:   "You are a specialized compliance assistant for financial advisory firms. You ensure all communications, recommendations, and documentation meet SEC and FINRA requirements. You flag potential compliance issues and provide regulatory guidance.",
			Specialization: domain.SpecCompliance,
			ToolsEnabled:   []string{domain.ToolRedtailCRM, domain.ToolAlbridgePortfolio},
		},
		{
			ID:             "demo-gpt-general",
			UserID:         "test-user-123",
			Name:           "General Assistant",
			Description:    "Everyday advisory questions and client communication drafting",
			SystemPrompt:   "You are a general-purpose assistant for financial advisors. You answer everyday questions, draft client communications, and keep every response accurate and SEC-compliant.",
			Specialization: domain.SpecGeneral,
		},
		{
			ID:             "demo-gpt-retirement",
			UserID:         "user-michael-chen",
			Name:           "Retirement Planner",
			Description:    "Retirement income and distribution planning with Black Diamond reporting",
			SystemPrompt:   "You are a specialized retirement planning assistant for financial advisors. You help model retirement income, Social Security timing, and distribution strategies while keeping every recommendation suitable and SEC-compliant.",
			Specialization: domain.SpecRetirement,
			ToolsEnabled:   []string{domain.ToolBlackDiamond},
		},
		{
			ID:             "demo-gpt-tax",
			UserID:         "user-lisa-wang",
			Name:           "Tax Strategist",
			Description:    "Tax-aware planning and year-end strategy support",
			SystemPrompt:   "You are a specialized tax planning assistant for financial advisors. You outline tax-aware strategies, loss harvesting opportunities, and filing deadlines. You flag items that need a CPA and keep every response SEC-compliant.",
			Specialization: domain.SpecTax,
		},
	}
}
