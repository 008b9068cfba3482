// Package router resolves an agent's provider configuration, invokes
// the LLM, and meters every attempt.
package router

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"agentworks/internal/catalog"
	"agentworks/internal/domain"
	"agentworks/internal/llm"
	"agentworks/internal/meter"
	"agentworks/internal/repo"
)

const promptPreviewLen = 100

type ProjectNotFoundError struct {
	ProjectID string
}

func (e ProjectNotFoundError) Error() string {
	return fmt.Sprintf("project %s not found", e.ProjectID)
}

type AgentConfigNotFoundError struct {
	ProjectID string
	Agent     string
}

func (e AgentConfigNotFoundError) Error() string {
	return fmt.Sprintf("agent %s not configured for project %s", e.Agent, e.ProjectID)
}

type InactiveAgentError struct {
	Agent string
}

func (e InactiveAgentError) Error() string {
	return fmt.Sprintf("agent %s is inactive", e.Agent)
}

// RouteResult is the outcome of one routed request. Err is the failure
// detail when Success is false; the usage event has already been
// recorded either way.
type RouteResult struct {
	Success   bool        `json:"success"`
	RequestID string      `json:"request_id"`
	Content   string      `json:"content,omitempty"`
	Usage     meter.Usage `json:"usage"`
	Cost      meter.Cost  `json:"cost"`
	Err       string      `json:"error,omitempty"`
}

type Router struct {
	Repo    repo.Repo
	Catalog *catalog.Catalog
	Pricing meter.Pricing
	Meter   meter.Recorder
	LLM     llm.Client
	Now     func() time.Time
}

func (rt Router) now() time.Time {
	if rt.Now != nil {
		return rt.Now()
	}
	return time.Now()
}

// RouteRequest resolves the agent config, calls the provider, and
// records exactly one failed or successful usage event for the
// attempt. The only eventless return is an unknown project: the usage
// log keys on project id, so there is no row to charge the attempt to.
// No retries happen here.
func (rt Router) RouteRequest(ctx context.Context, projectID, agentName, prompt string, cardID *string) (RouteResult, error) {
	if _, err := rt.Repo.GetProject(ctx, projectID); err != nil {
		if err == repo.ErrNotFound {
			return RouteResult{}, ProjectNotFoundError{ProjectID: projectID}
		}
		return RouteResult{}, err
	}

	requestID := uuid.NewString()
	start := rt.now()
	ev := domain.UsageEvent{
		ID:            requestID,
		TS:            start.UTC().Format(time.RFC3339),
		Day:           start.UTC().Format("2006-01-02"),
		ProjectID:     projectID,
		CardID:        cardID,
		Agent:         agentName,
		PromptPreview: preview(prompt),
	}

	agent, err := rt.Repo.GetAgentConfig(ctx, projectID, agentName)
	if err != nil {
		if err == repo.ErrNotFound {
			cause := AgentConfigNotFoundError{ProjectID: projectID, Agent: agentName}
			if _, rerr := rt.fail(ctx, ev, start, cause); rerr != nil {
				return RouteResult{}, rerr
			}
			return RouteResult{}, cause
		}
		return RouteResult{}, err
	}
	ev.Provider = agent.Provider
	ev.Model = agent.Model
	if !agent.Active {
		cause := InactiveAgentError{Agent: agentName}
		if _, rerr := rt.fail(ctx, ev, start, cause); rerr != nil {
			return RouteResult{}, rerr
		}
		return RouteResult{}, cause
	}

	provider, err := rt.Catalog.Resolve(agent.Provider, agent.Model)
	if err != nil {
		return rt.fail(ctx, ev, start, err)
	}

	resp, err := rt.LLM.Complete(ctx, llm.Request{
		Provider:    provider,
		Model:       agent.Model,
		Prompt:      prompt,
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
	})
	if err != nil {
		return rt.fail(ctx, ev, start, err)
	}

	usage := meter.ComputeUsage(prompt, resp.Content)
	cost := rt.Pricing.Cost(usage, provider)
	ev.InputTokens = usage.InputTokens
	ev.OutputTokens = usage.OutputTokens
	ev.TotalTokens = usage.TotalTokens
	ev.ProviderCost = cost.ProviderCost
	ev.CustomerPrice = cost.CustomerPrice
	ev.Margin = cost.Margin
	ev.DurationMs = rt.now().Sub(start).Milliseconds()
	ev.Success = true
	if err := rt.Meter.Record(ctx, ev); err != nil {
		return RouteResult{}, fmt.Errorf("record usage: %w", err)
	}
	return RouteResult{Success: true, RequestID: requestID, Content: resp.Content, Usage: usage, Cost: cost}, nil
}

// fail records the failed attempt with zero usage and cost. The
// returned RouteResult carries the error; the error return is reserved for
// store failures.
func (rt Router) fail(ctx context.Context, ev domain.UsageEvent, start time.Time, cause error) (RouteResult, error) {
	ev.DurationMs = rt.now().Sub(start).Milliseconds()
	ev.Success = false
	ev.Error = cause.Error()
	if err := rt.Meter.Record(ctx, ev); err != nil {
		return RouteResult{}, fmt.Errorf("record usage after failure: %w", err)
	}
	return RouteResult{Success: false, RequestID: ev.ID, Err: cause.Error()}, nil
}

// preview keeps the first promptPreviewLen bytes of the prompt,
// backing off to the previous rune boundary so the stored preview is
// always valid UTF-8.
func preview(prompt string) string {
	if len(prompt) <= promptPreviewLen {
		return prompt
	}
	cut := promptPreviewLen
	for cut > 0 && !utf8.RuneStart(prompt[cut]) {
		cut--
	}
	return prompt[:cut]
}
