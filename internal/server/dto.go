package server

import (
	"agentworks/internal/catalog"
	"agentworks/internal/domain"
	"agentworks/internal/onboarding"
)

type CreateProjectRequest struct {
	ID   string `json:"id" example:"acme-app"`
	Name string `json:"name,omitempty"`
}

type ProjectResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, Name: p.Name, Status: p.Status, CreatedAt: p.CreatedAt}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

type ProviderResponse struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Models            []string `json:"models"`
	RequestsPerMinute int      `json:"requests_per_minute"`
	TokensPerMinute   int      `json:"tokens_per_minute"`
	CostPer1KInput    float64  `json:"cost_per_1k_input"`
	CostPer1KOutput   float64  `json:"cost_per_1k_output"`
	Enabled           bool     `json:"enabled"`
}

func providerResponse(p catalog.Provider) ProviderResponse {
	return ProviderResponse{
		ID:                p.ID,
		Name:              p.Name,
		Models:            p.Models,
		RequestsPerMinute: p.RequestsPerMinute,
		TokensPerMinute:   p.TokensPerMinute,
		CostPer1KInput:    p.CostPer1K.Input,
		CostPer1KOutput:   p.CostPer1K.Output,
		Enabled:           p.Enabled,
	}
}

type RegisterAgentRequest struct {
	Onboarding onboarding.Config `json:"onboarding"`
}

type AgentResponse struct {
	Name        string  `json:"name"`
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Lanes       []int   `json:"lanes"`
	Active      bool    `json:"active"`
}

func agentResponse(a domain.AgentConfig) AgentResponse {
	return AgentResponse{
		Name:        a.Name,
		Provider:    a.Provider,
		Model:       a.Model,
		Temperature: a.Temperature,
		MaxTokens:   a.MaxTokens,
		Lanes:       a.Lanes,
		Active:      a.Active,
	}
}

type CreateCardRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty" example:"feature"`
	Lane        int    `json:"lane,omitempty"`
}

type MoveCardRequest struct {
	Lane   int    `json:"lane" minimum:"0" maximum:"10"`
	Reason string `json:"reason,omitempty"`
}

type CardStatusRequest struct {
	Status   string         `json:"status" enum:"draft,ready,in_progress,review,completed,error,moved"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type RunAgentRequest struct {
	Agent  string `json:"agent"`
	Prompt string `json:"prompt,omitempty"`
}

type RouteRequestBody struct {
	Agent  string  `json:"agent"`
	Prompt string  `json:"prompt"`
	CardID *string `json:"card_id,omitempty"`
}

type SetDocRequest struct {
	Content string `json:"content"`
}
