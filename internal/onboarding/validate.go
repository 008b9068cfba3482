package onboarding

import (
	"fmt"
	"regexp"
	"sort"

	"agentworks/internal/catalog"
	"agentworks/internal/lanes"
)

// Issue codes. Errors block activation; warnings do not.
const (
	CodeRequired        = "REQUIRED"
	CodeInvalidFormat   = "INVALID_FORMAT"
	CodeInvalidEnum     = "INVALID_ENUM"
	CodeProviderInvalid = "PROVIDER_INVALID"
	CodeModelInvalid    = "MODEL_INVALID"
	CodeOutOfRange      = "OUT_OF_RANGE"
	CodeDuplicate       = "DUPLICATE"
	CodeSelfReference   = "SELF_REFERENCE"
	CodeCommandCycle    = "COMMAND_CYCLE"
	CodeLaneInvalid     = "LANE_INVALID"

	CodeToolUnresolved    = "TOOL_UNRESOLVED"
	CodeAutoRunHighRisk   = "AUTORUN_HIGH_RISK"
	CodeApprovalSuggested = "APPROVAL_SUGGESTED"
	CodeSOPStepOrder      = "SOP_STEP_ORDER"
)

type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

var (
	nameRe = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

	roleCategories = enum("engineering", "product", "design", "qa", "data", "operations", "marketing", "support")
	seniorities    = enum("junior", "mid", "senior", "lead")
	toolCategories = enum("code_execution", "file_management", "git_management", "web_search", "database", "testing", "deployment", "communication", "project_management")
	mcpTransports  = enum("stdio", "sse", "streamable-http")
	relationships  = enum("reports_to", "supervises", "peers_with")
	riskLevels     = enum("low", "medium", "high")
	channelTypes   = enum("slack", "discord", "email", "webhook", "dashboard")
	permissions    = enum("read", "write", "react")
)

const maxNameLength = 64

// Validator checks onboarding documents against the provider catalog.
type Validator struct {
	Catalog *catalog.Catalog
}

// Validate runs every check and accumulates all findings. It never
// stops at the first defect: a config editor needs the complete set.
func (v Validator) Validate(cfg Config) Result {
	var r Result
	v.checkIdentity(cfg, &r)
	v.checkRole(cfg, &r)
	v.checkSkills(cfg, &r)
	v.checkTools(cfg, &r)
	v.checkLLM(cfg, &r)
	v.checkGuardrails(cfg, &r)
	v.checkChainOfCommand(cfg, &r)
	v.checkLanes(cfg, &r)
	v.checkExecution(cfg, &r)
	v.checkChannels(cfg, &r)
	v.checkSOPs(cfg, &r)
	r.Valid = len(r.Errors) == 0
	return r
}

func (v Validator) checkIdentity(cfg Config, r *Result) {
	name := cfg.Identity.Name
	switch {
	case name == "":
		r.addError("identity.name", CodeRequired, "agent name is required")
	case len(name) > maxNameLength:
		r.addError("identity.name", CodeOutOfRange, fmt.Sprintf("agent name exceeds %d characters", maxNameLength))
	case !nameRe.MatchString(name):
		r.addError("identity.name", CodeInvalidFormat, "agent name must be lower snake_case (e.g. qa_engineer)")
	}
	if cfg.Identity.DisplayName == "" {
		r.addError("identity.display_name", CodeRequired, "display name is required")
	}
	if cfg.Identity.Emoji == "" {
		r.addError("identity.emoji", CodeRequired, "emoji is required")
	}
	if cfg.Identity.Description == "" {
		r.addError("identity.description", CodeRequired, "description is required")
	}
}

func (v Validator) checkRole(cfg Config, r *Result) {
	if cfg.Role.Title == "" {
		r.addError("role.title", CodeRequired, "role title is required")
	}
	if !roleCategories[cfg.Role.Category] {
		r.addError("role.category", CodeInvalidEnum, fmt.Sprintf("unknown role category %q (want one of %s)", cfg.Role.Category, enumList(roleCategories)))
	}
	if !seniorities[cfg.Role.Seniority] {
		r.addError("role.seniority", CodeInvalidEnum, fmt.Sprintf("unknown seniority %q (want one of %s)", cfg.Role.Seniority, enumList(seniorities)))
	}
}

func (v Validator) checkSkills(cfg Config, r *Result) {
	seen := map[string]bool{}
	for i, s := range cfg.Skills {
		field := fmt.Sprintf("skills[%d]", i)
		if s.Name == "" {
			r.addError(field+".name", CodeRequired, "skill name is required")
		} else if seen[s.Name] {
			r.addError(field+".name", CodeDuplicate, fmt.Sprintf("duplicate skill %q", s.Name))
		}
		seen[s.Name] = true
		if s.Description == "" {
			r.addError(field+".description", CodeRequired, "skill description is required")
		}
	}
}

func (v Validator) checkTools(cfg Config, r *Result) {
	for i, c := range cfg.Tools.Categories {
		if !toolCategories[c] {
			r.addError(fmt.Sprintf("tools.categories[%d]", i), CodeInvalidEnum, fmt.Sprintf("unknown tool category %q", c))
		}
	}
	seenCustom := map[string]bool{}
	for i, c := range cfg.Tools.Custom {
		field := fmt.Sprintf("tools.custom[%d]", i)
		if c.Name == "" {
			r.addError(field+".name", CodeRequired, "custom tool name is required")
		} else if seenCustom[c.Name] {
			r.addError(field+".name", CodeDuplicate, fmt.Sprintf("duplicate custom tool %q", c.Name))
		}
		seenCustom[c.Name] = true
	}
	for i, m := range cfg.Tools.MCPServers {
		field := fmt.Sprintf("tools.mcp_servers[%d]", i)
		if m.Name == "" {
			r.addError(field+".name", CodeRequired, "mcp server name is required")
		}
		if m.URL == "" {
			r.addError(field+".url", CodeRequired, "mcp server url is required")
		}
		if !mcpTransports[m.Transport] {
			r.addError(field+".transport", CodeInvalidEnum, fmt.Sprintf("unknown transport %q (want one of %s)", m.Transport, enumList(mcpTransports)))
		}
	}

	// Cross-check: every tool a skill requires must resolve somewhere.
	// Unresolved tools degrade the agent but do not block it, so these
	// are warnings.
	resolvable := map[string]bool{}
	for _, c := range cfg.Tools.Categories {
		resolvable[c] = true
	}
	for _, c := range cfg.Tools.Custom {
		resolvable[c.Name] = true
	}
	for _, m := range cfg.Tools.MCPServers {
		for _, t := range m.Tools {
			resolvable[t] = true
		}
	}
	for i, s := range cfg.Skills {
		for j, tool := range s.Tools {
			if !resolvable[tool] {
				r.addWarning(fmt.Sprintf("skills[%d].tools[%d]", i, j), CodeToolUnresolved,
					fmt.Sprintf("skill %q requires tool %q which no category, custom tool, or mcp server provides", s.Name, tool))
			}
		}
	}
}

func (v Validator) checkLLM(cfg Config, r *Result) {
	cat := v.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	if cfg.LLM.Provider == "" {
		r.addError("llm.provider", CodeRequired, "provider is required")
	} else if provider, err := cat.Provider(cfg.LLM.Provider); err != nil {
		r.addError("llm.provider", CodeProviderInvalid, fmt.Sprintf("unknown provider %q", cfg.LLM.Provider))
	} else {
		if cfg.LLM.Model == "" {
			r.addError("llm.model", CodeRequired, "model is required")
		} else if !provider.HasModel(cfg.LLM.Model) {
			r.addError("llm.model", CodeModelInvalid, fmt.Sprintf("model %q does not belong to provider %q", cfg.LLM.Model, cfg.LLM.Provider))
		}
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		r.addError("llm.temperature", CodeOutOfRange, fmt.Sprintf("temperature %v outside [0, 2]", cfg.LLM.Temperature))
	}
	// 0 means "use the model default"
	if cfg.LLM.MaxTokens < 0 {
		r.addError("llm.max_tokens", CodeOutOfRange, "max_tokens must be >= 0")
	}
}

func (v Validator) checkGuardrails(cfg Config, r *Result) {
	g := cfg.Guardrails
	if g.MaxBudgetPerRun < 0 || g.MaxBudgetPerRun > 100 {
		r.addError("guardrails.max_budget_per_run", CodeOutOfRange, fmt.Sprintf("max_budget_per_run %v outside [0, 100]", g.MaxBudgetPerRun))
	}
	if g.CodeExecution && g.GitManagement && !g.RequiresApproval {
		r.addWarning("guardrails.requires_approval", CodeApprovalSuggested,
			"code_execution and git_management are both enabled without requires_approval")
	}
}

func (v Validator) checkChainOfCommand(cfg Config, r *Result) {
	byAgent := map[string]map[string]bool{}
	for i, link := range cfg.ChainOfCommand {
		field := fmt.Sprintf("chain_of_command[%d]", i)
		if link.Agent == "" {
			r.addError(field+".agent", CodeRequired, "agent reference is required")
			continue
		}
		if !relationships[link.Relationship] {
			r.addError(field+".relationship", CodeInvalidEnum, fmt.Sprintf("unknown relationship %q (want one of %s)", link.Relationship, enumList(relationships)))
		}
		if link.Agent == cfg.Identity.Name && cfg.Identity.Name != "" {
			r.addError(field+".agent", CodeSelfReference, "agent cannot appear in its own chain of command")
		}
		if byAgent[link.Agent] == nil {
			byAgent[link.Agent] = map[string]bool{}
		}
		byAgent[link.Agent][link.Relationship] = true
	}
	// Only direct two-node contradictions are detectable here: the
	// validator sees one agent's entries, not the full agent graph.
	var contradicted []string
	for agent, rels := range byAgent {
		if rels["reports_to"] && rels["supervises"] {
			contradicted = append(contradicted, agent)
		}
	}
	sort.Strings(contradicted)
	for _, agent := range contradicted {
		r.addError("chain_of_command", CodeCommandCycle,
			fmt.Sprintf("agent both reports to and supervises %q", agent))
	}
}

func (v Validator) checkLanes(cfg Config, r *Result) {
	if len(cfg.Lanes) == 0 {
		r.addError("lanes", CodeRequired, "at least one lane is required")
	}
	seen := map[int]bool{}
	for i, l := range cfg.Lanes {
		field := fmt.Sprintf("lanes[%d]", i)
		if !lanes.Valid(l) {
			r.addError(field, CodeLaneInvalid, fmt.Sprintf("lane %d is not a valid lane (0..%d)", l, lanes.MaxLane))
		}
		if seen[l] {
			r.addError(field, CodeDuplicate, fmt.Sprintf("lane %d listed twice", l))
		}
		seen[l] = true
	}
}

func (v Validator) checkExecution(cfg Config, r *Result) {
	if !riskLevels[cfg.Execution.RiskLevel] {
		r.addError("execution.risk_level", CodeInvalidEnum, fmt.Sprintf("unknown risk level %q (want one of %s)", cfg.Execution.RiskLevel, enumList(riskLevels)))
	}
	if cfg.Execution.AutoRun && cfg.Execution.RiskLevel == "high" {
		r.addWarning("execution.auto_run", CodeAutoRunHighRisk, "high-risk agent set to auto-run")
	}
}

func (v Validator) checkChannels(cfg Config, r *Result) {
	seen := map[string]bool{}
	for i, c := range cfg.Channels {
		field := fmt.Sprintf("channels[%d]", i)
		if !channelTypes[c.Type] {
			r.addError(field+".type", CodeInvalidEnum, fmt.Sprintf("unknown channel type %q (want one of %s)", c.Type, enumList(channelTypes)))
		} else if seen[c.Type] {
			r.addError(field+".type", CodeDuplicate, fmt.Sprintf("duplicate channel %q", c.Type))
		}
		seen[c.Type] = true
		for j, p := range c.Permissions {
			if !permissions[p] {
				r.addError(fmt.Sprintf("%s.permissions[%d]", field, j), CodeInvalidEnum, fmt.Sprintf("unknown permission %q (want one of %s)", p, enumList(permissions)))
			}
		}
	}
}

func (v Validator) checkSOPs(cfg Config, r *Result) {
	seen := map[string]bool{}
	for i, sop := range cfg.SOPs {
		field := fmt.Sprintf("sops[%d]", i)
		if sop.Name == "" {
			r.addError(field+".name", CodeRequired, "sop name is required")
		} else if seen[sop.Name] {
			r.addError(field+".name", CodeDuplicate, fmt.Sprintf("duplicate sop %q", sop.Name))
		}
		seen[sop.Name] = true
		if len(sop.Steps) == 0 {
			r.addError(field+".steps", CodeRequired, "sop must have at least one step")
		}
		sequential := true
		for j, step := range sop.Steps {
			stepField := fmt.Sprintf("%s.steps[%d]", field, j)
			if step.Action == "" {
				r.addError(stepField+".action", CodeRequired, "step action is required")
			}
			if step.AcceptanceCriteria == "" {
				r.addError(stepField+".acceptance_criteria", CodeRequired, "step acceptance criteria is required")
			}
			if step.Order != j+1 {
				sequential = false
			}
		}
		if len(sop.Steps) > 0 && !sequential {
			r.addWarning(field+".steps", CodeSOPStepOrder, fmt.Sprintf("sop %q steps are not ordered 1..%d", sop.Name, len(sop.Steps)))
		}
	}
}

func (r *Result) addError(field, code, msg string) {
	r.Errors = append(r.Errors, Issue{Field: field, Code: code, Message: msg})
}

func (r *Result) addWarning(field, code, msg string) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Code: code, Message: msg})
}

func enum(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

func enumList(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += k
	}
	return out
}
