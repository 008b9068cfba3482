package domain

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// AgentConfig is the runtime view of an agent: just enough to route a
// request. The full onboarding document it was registered from is kept
// alongside it in the store.
type AgentConfig struct {
	ProjectID   string  `json:"project_id"`
	Name        string  `json:"name"`
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Lanes       []int   `json:"lanes"`
	Active      bool    `json:"active"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Card struct {
	ID            string                 `json:"id"`
	ProjectID     string                 `json:"project_id"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description,omitempty"`
	Type          string                 `json:"type"`
	Lane          int                    `json:"lane"`
	Status        string                 `json:"status" enum:"draft,ready,in_progress,review,completed,error,moved"`
	LaneHistory   []LaneTransition       `json:"lane_history"`
	StatusHistory []StatusChange         `json:"status_history"`
	Outputs       map[string]AgentOutput `json:"outputs,omitempty"`
	Artifacts     map[string]string      `json:"artifacts,omitempty"`
	CreatedAt     string                 `json:"created_at" format:"date-time"`
	UpdatedAt     string                 `json:"updated_at" format:"date-time"`
}

type LaneTransition struct {
	From   int    `json:"from"`
	To     int    `json:"to"`
	TS     string `json:"ts" format:"date-time"`
	Reason string `json:"reason,omitempty"`
}

type StatusChange struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	TS       string         `json:"ts" format:"date-time"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type AgentOutput struct {
	Content   string `json:"content"`
	TS        string `json:"ts" format:"date-time"`
	Processed bool   `json:"processed"`
}

// UsageEvent is one immutable billing/audit record for a single agent
// invocation attempt. Exactly one is written per attempt, success or not.
type UsageEvent struct {
	ID            string  `json:"id"`
	TS            string  `json:"ts" format:"date-time"`
	Day           string  `json:"day"`
	ProjectID     string  `json:"project_id"`
	CardID        *string `json:"card_id,omitempty"`
	Agent         string  `json:"agent"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	PromptPreview string  `json:"prompt_preview,omitempty"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	TotalTokens   int     `json:"total_tokens"`
	ProviderCost  float64 `json:"provider_cost"`
	CustomerPrice float64 `json:"customer_price"`
	Margin        float64 `json:"margin"`
	DurationMs    int64   `json:"duration_ms"`
	Success       bool    `json:"success"`
	Error         string  `json:"error,omitempty"`
}

// UsageAggregate caches running totals per project. The usage_events log
// is the source of truth; the aggregate must always be reconstructible
// from it.
type UsageAggregate struct {
	ProjectID   string                 `json:"project_id"`
	TotalCalls  int                    `json:"total_calls"`
	FailedCalls int                    `json:"failed_calls"`
	TotalCost   float64                `json:"total_cost"`
	TotalPrice  float64                `json:"total_price"`
	ByAgent     map[string]UsageBucket `json:"by_agent"`
	ByProvider  map[string]UsageBucket `json:"by_provider"`
	UpdatedAt   string                 `json:"updated_at" format:"date-time"`
}

type UsageBucket struct {
	Calls int     `json:"calls"`
	Cost  float64 `json:"cost"`
	Price float64 `json:"price"`
}

type RunSession struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	CardID    *string    `json:"card_id,omitempty"`
	Agent     string     `json:"agent"`
	RunType   string     `json:"run_type" enum:"manual,auto"`
	Status    string     `json:"status" enum:"running,completed,failed"`
	Summary   string     `json:"summary,omitempty"`
	StartedAt string     `json:"started_at" format:"date-time"`
	EndedAt   *string    `json:"ended_at,omitempty" format:"date-time"`
	Entries   []LogEntry `json:"entries,omitempty"`
}

type LogEntry struct {
	TS       string         `json:"ts" format:"date-time"`
	Level    string         `json:"level"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Doc is a project context document (blueprint, prd, mvp, architecture)
// folded into synthesized agent prompts.
type Doc struct {
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind"`
	Content   string `json:"content"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
