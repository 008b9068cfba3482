// Package onboarding defines the agent onboarding document and its
// validator. Validation reports every defect in one pass so an operator
// can fix a config in a single round trip.
package onboarding

// Config is a full agent onboarding document, usually authored as YAML.
type Config struct {
	Identity       Identity      `yaml:"identity" json:"identity"`
	Role           Role          `yaml:"role" json:"role"`
	Skills         []Skill       `yaml:"skills" json:"skills,omitempty"`
	Tools          Tools         `yaml:"tools" json:"tools"`
	LLM            LLMParams     `yaml:"llm" json:"llm"`
	SystemPrompt   string        `yaml:"system_prompt" json:"system_prompt,omitempty"`
	Guardrails     Guardrails    `yaml:"guardrails" json:"guardrails"`
	ChainOfCommand []CommandLink `yaml:"chain_of_command" json:"chain_of_command,omitempty"`
	Lanes          []int         `yaml:"lanes" json:"lanes,omitempty"`
	Execution      Execution     `yaml:"execution" json:"execution"`
	Channels       []Channel     `yaml:"channels" json:"channels,omitempty"`
	SOPs           []SOP         `yaml:"sops" json:"sops,omitempty"`
}

type Identity struct {
	Name        string `yaml:"name" json:"name"`
	DisplayName string `yaml:"display_name" json:"display_name,omitempty"`
	Emoji       string `yaml:"emoji" json:"emoji,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
}

type Role struct {
	Title     string `yaml:"title" json:"title"`
	Category  string `yaml:"category" json:"category"`
	Seniority string `yaml:"seniority" json:"seniority"`
}

type Skill struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Tools       []string `yaml:"tools" json:"tools,omitempty"`
}

type Tools struct {
	Categories []string     `yaml:"categories" json:"categories,omitempty"`
	Custom     []CustomTool `yaml:"custom" json:"custom,omitempty"`
	MCPServers []MCPServer  `yaml:"mcp_servers" json:"mcp_servers,omitempty"`
}

type CustomTool struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
}

type MCPServer struct {
	Name      string   `yaml:"name" json:"name"`
	URL       string   `yaml:"url" json:"url"`
	Transport string   `yaml:"transport" json:"transport"`
	Tools     []string `yaml:"tools" json:"tools,omitempty"`
}

type LLMParams struct {
	Provider    string  `yaml:"provider" json:"provider"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

type Guardrails struct {
	CodeExecution    bool     `yaml:"code_execution" json:"code_execution"`
	FileWrite        bool     `yaml:"file_write" json:"file_write"`
	GitManagement    bool     `yaml:"git_management" json:"git_management"`
	NetworkAccess    bool     `yaml:"network_access" json:"network_access"`
	RequiresApproval bool     `yaml:"requires_approval" json:"requires_approval"`
	MaxBudgetPerRun  float64  `yaml:"max_budget_per_run" json:"max_budget_per_run"`
	Behavioral       []string `yaml:"behavioral" json:"behavioral,omitempty"`
}

type CommandLink struct {
	Agent        string `yaml:"agent" json:"agent"`
	Relationship string `yaml:"relationship" json:"relationship"`
}

type Execution struct {
	AutoRun   bool   `yaml:"auto_run" json:"auto_run"`
	RiskLevel string `yaml:"risk_level" json:"risk_level"`
}

type Channel struct {
	Type        string   `yaml:"type" json:"type"`
	Permissions []string `yaml:"permissions" json:"permissions,omitempty"`
}

type SOP struct {
	Name  string    `yaml:"name" json:"name"`
	Steps []SOPStep `yaml:"steps" json:"steps,omitempty"`
}

type SOPStep struct {
	Order              int    `yaml:"order" json:"order"`
	Action             string `yaml:"action" json:"action"`
	AcceptanceCriteria string `yaml:"acceptance_criteria" json:"acceptance_criteria,omitempty"`
}
