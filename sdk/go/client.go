package agentworkssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal AgentWorks HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   30 * time.Second,
	}
}

// Card represents the API card model (partial).
type Card struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Type        string            `json:"type"`
	Lane        int               `json:"lane"`
	Status      string            `json:"status"`
	Artifacts   map[string]string `json:"artifacts,omitempty"`
}

// Agent represents a registered agent.
type Agent struct {
	Name        string  `json:"name"`
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Lanes       []int   `json:"lanes"`
	Active      bool    `json:"active"`
}

// RouteResult is the outcome of a routed request.
type RouteResult struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	Content   string `json:"content,omitempty"`
	Usage     struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Cost struct {
		ProviderCost  float64 `json:"provider_cost"`
		CustomerPrice float64 `json:"customer_price"`
	} `json:"cost"`
	Err string `json:"error,omitempty"`
}

// Report is a billing report (partial).
type Report struct {
	ProjectID string `json:"project_id"`
	Summary   struct {
		TotalCalls    int     `json:"total_calls"`
		FailedCalls   int     `json:"failed_calls"`
		TotalTokens   int     `json:"total_tokens"`
		ProviderCost  float64 `json:"provider_cost"`
		CustomerPrice float64 `json:"customer_price"`
		Margin        float64 `json:"margin"`
	} `json:"summary"`
}

// RunSession represents a recorded agent run.
type RunSession struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	CardID    *string `json:"card_id,omitempty"`
	Agent     string  `json:"agent"`
	RunType   string  `json:"run_type"`
	Status    string  `json:"status"`
	Summary   string  `json:"summary,omitempty"`
	StartedAt string  `json:"started_at"`
	EndedAt   *string `json:"ended_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// ValidationIssue is one defect or warning from onboarding validation.
type ValidationIssue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the full outcome of onboarding validation.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCard creates a card in lane 0.
func (c *Client) CreateCard(ctx context.Context, title, cardType, description string) (Card, error) {
	body := map[string]any{
		"title":       title,
		"type":        cardType,
		"description": description,
	}
	var resp Card
	err := c.do(ctx, http.MethodPost, c.projectPath("cards"), body, &resp)
	return resp, err
}

// GetCard fetches a card by id.
func (c *Client) GetCard(ctx context.Context, id string) (Card, error) {
	var resp Card
	err := c.do(ctx, http.MethodGet, "v0/cards/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// MoveCard moves a card to a lane.
func (c *Client) MoveCard(ctx context.Context, id string, lane int, reason string) (Card, error) {
	body := map[string]any{"lane": lane, "reason": reason}
	var resp Card
	err := c.do(ctx, http.MethodPost, "v0/cards/"+url.PathEscape(id)+"/move", body, &resp)
	return resp, err
}

// RunAgent runs an agent against a card.
func (c *Client) RunAgent(ctx context.Context, cardID, agent, prompt string) (Card, error) {
	body := map[string]any{"agent": agent, "prompt": prompt}
	var resp Card
	err := c.do(ctx, http.MethodPost, "v0/cards/"+url.PathEscape(cardID)+"/run", body, &resp)
	return resp, err
}

// RegisterAgent validates and registers an agent from an onboarding document.
func (c *Client) RegisterAgent(ctx context.Context, name string, onboarding any) (Agent, error) {
	body := map[string]any{"onboarding": onboarding}
	var resp Agent
	endpoint := c.projectPath("agents/" + url.PathEscape(name))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// ValidateAgent runs onboarding validation without registering.
func (c *Client) ValidateAgent(ctx context.Context, onboarding any) (ValidationResult, error) {
	var resp ValidationResult
	err := c.do(ctx, http.MethodPost, "v0/agents/validate", onboarding, &resp)
	return resp, err
}

// Route sends a prompt through an agent's configured provider.
func (c *Client) Route(ctx context.Context, agent, prompt string) (RouteResult, error) {
	body := map[string]any{"agent": agent, "prompt": prompt}
	var resp RouteResult
	err := c.do(ctx, http.MethodPost, c.projectPath("route"), body, &resp)
	return resp, err
}

// UsageReport fetches a billing report for a timeframe.
func (c *Client) UsageReport(ctx context.Context, timeframe string) (Report, error) {
	endpoint := c.projectPath("usage/report")
	if timeframe != "" {
		endpoint = fmt.Sprintf("%s?timeframe=%s", endpoint, url.QueryEscape(timeframe))
	}
	var resp Report
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Runs lists run sessions for the project.
func (c *Client) Runs(ctx context.Context) ([]RunSession, error) {
	var resp []RunSession
	err := c.do(ctx, http.MethodGet, c.projectPath("runs"), nil, &resp)
	return resp, err
}

// ExportRun fetches a session log in the given format ("json" or "txt").
func (c *Client) ExportRun(ctx context.Context, sessionID, format string) (string, error) {
	endpoint := "v0/runs/" + url.PathEscape(sessionID) + "/export"
	if format != "" {
		endpoint = fmt.Sprintf("%s?format=%s", endpoint, url.QueryEscape(format))
	}
	raw, err := c.doRaw(ctx, http.MethodGet, endpoint)
	return string(raw), err
}

// Events returns recent events for the project.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events?project_id=" + url.QueryEscape(c.ProjectID)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, endpoint string) ([]byte, error) {
	resp, err := c.send(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return b, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	return c.HTTPClient.Do(req)
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
