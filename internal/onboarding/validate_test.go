package onboarding_test

import (
	"reflect"
	"testing"

	"agentworks/internal/onboarding"
)

func validConfig() onboarding.Config {
	return onboarding.Config{
		Identity: onboarding.Identity{
			Name:        "qa_engineer",
			DisplayName: "QA Engineer",
			Emoji:       "🧪",
			Description: "Runs and maintains the test suite",
		},
		Role: onboarding.Role{Title: "QA Engineer", Category: "qa", Seniority: "senior"},
		Skills: []onboarding.Skill{
			{Name: "integration_testing", Description: "End-to-end suite ownership", Tools: []string{"testing", "code_execution"}},
		},
		Tools: onboarding.Tools{
			Categories: []string{"testing", "code_execution"},
		},
		LLM: onboarding.LLMParams{Provider: "anthropic", Model: "claude-3-5-sonnet", Temperature: 0.3, MaxTokens: 4096},
		Guardrails: onboarding.Guardrails{
			CodeExecution: true, RequiresApproval: false, MaxBudgetPerRun: 10,
		},
		ChainOfCommand: []onboarding.CommandLink{
			{Agent: "builder", Relationship: "peers_with"},
			{Agent: "planner", Relationship: "reports_to"},
		},
		Lanes:     []int{5},
		Execution: onboarding.Execution{AutoRun: true, RiskLevel: "low"},
		Channels:  []onboarding.Channel{{Type: "slack", Permissions: []string{"read", "write"}}},
		SOPs: []onboarding.SOP{
			{Name: "run_suite", Steps: []onboarding.SOPStep{
				{Order: 1, Action: "run tests", AcceptanceCriteria: "all pass"},
				{Order: 2, Action: "file report", AcceptanceCriteria: "report attached"},
			}},
		},
	}
}

func codes(issues []onboarding.Issue) map[string]int {
	m := map[string]int{}
	for _, i := range issues {
		m[i.Code]++
	}
	return m
}

func findIssue(issues []onboarding.Issue, field string) (onboarding.Issue, bool) {
	for _, i := range issues {
		if i.Field == field {
			return i, true
		}
	}
	return onboarding.Issue{}, false
}

func TestValidConfigPasses(t *testing.T) {
	r := onboarding.Validator{}.Validate(validConfig())
	if !r.Valid {
		t.Fatalf("errors: %+v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("warnings: %+v", r.Warnings)
	}
}

func TestNameFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Name = "Invalid Name!"
	r := onboarding.Validator{}.Validate(cfg)
	if r.Valid {
		t.Fatal("accepted bad name")
	}
	issue, ok := findIssue(r.Errors, "identity.name")
	if !ok || issue.Code != onboarding.CodeInvalidFormat {
		t.Fatalf("issue %+v ok=%v", issue, ok)
	}

	// names here collide with the fixture's chain-of-command peers, so
	// drop the chain before renaming
	cfg.ChainOfCommand = nil
	for _, good := range []string{"a", "builder", "qa_engineer", "agent_2b"} {
		cfg.Identity.Name = good
		if r := (onboarding.Validator{}).Validate(cfg); !r.Valid {
			t.Errorf("rejected %q: %+v", good, r.Errors)
		}
	}
	for _, bad := range []string{"_leading", "trailing_", "double__under", "9starts", "UPPER"} {
		cfg.Identity.Name = bad
		if r := (onboarding.Validator{}).Validate(cfg); r.Valid {
			t.Errorf("accepted %q", bad)
		}
	}
}

func TestModelMustBelongToProvider(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Model = "gpt-4"
	r := onboarding.Validator{}.Validate(cfg)
	issue, ok := findIssue(r.Errors, "llm.model")
	if !ok || issue.Code != onboarding.CodeModelInvalid {
		t.Fatalf("issue %+v ok=%v", issue, ok)
	}

	cfg.LLM.Provider = "nonexistent"
	r = onboarding.Validator{}.Validate(cfg)
	issue, ok = findIssue(r.Errors, "llm.provider")
	if !ok || issue.Code != onboarding.CodeProviderInvalid {
		t.Fatalf("issue %+v ok=%v", issue, ok)
	}
}

func TestAccumulatesEveryDefect(t *testing.T) {
	cfg := validConfig()
	// introduce six independent defects
	cfg.Identity.Name = "Bad Name"
	cfg.Identity.Emoji = ""
	cfg.Role.Category = "wizardry"
	cfg.LLM.Temperature = 3.5
	cfg.Lanes = []int{5, 99}
	cfg.Guardrails.MaxBudgetPerRun = 500

	r := onboarding.Validator{}.Validate(cfg)
	if r.Valid {
		t.Fatal("valid with six defects")
	}
	if len(r.Errors) < 6 {
		t.Fatalf("want >= 6 errors, got %d: %+v", len(r.Errors), r.Errors)
	}
	got := codes(r.Errors)
	for _, code := range []string{
		onboarding.CodeInvalidFormat, onboarding.CodeRequired, onboarding.CodeInvalidEnum,
		onboarding.CodeOutOfRange, onboarding.CodeLaneInvalid,
	} {
		if got[code] == 0 {
			t.Errorf("missing code %s in %v", code, got)
		}
	}
}

func TestValidationIsDeterministic(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Name = ""
	cfg.ChainOfCommand = append(cfg.ChainOfCommand,
		onboarding.CommandLink{Agent: "planner", Relationship: "supervises"},
		onboarding.CommandLink{Agent: "builder", Relationship: "reports_to"},
		onboarding.CommandLink{Agent: "builder", Relationship: "supervises"},
	)
	a := onboarding.Validator{}.Validate(cfg)
	b := onboarding.Validator{}.Validate(cfg)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("non-deterministic result:\n%+v\n%+v", a, b)
	}
}

func TestChainOfCommand(t *testing.T) {
	cfg := validConfig()
	cfg.ChainOfCommand = []onboarding.CommandLink{
		{Agent: "qa_engineer", Relationship: "reports_to"}, // self
		{Agent: "builder", Relationship: "reports_to"},
		{Agent: "builder", Relationship: "supervises"}, // direct contradiction
		{Agent: "ghost", Relationship: "mentors"},      // bad enum
	}
	r := onboarding.Validator{}.Validate(cfg)
	got := codes(r.Errors)
	if got[onboarding.CodeSelfReference] != 1 {
		t.Errorf("self reference: %v", got)
	}
	if got[onboarding.CodeCommandCycle] != 1 {
		t.Errorf("command cycle: %v", got)
	}
	if got[onboarding.CodeInvalidEnum] == 0 {
		t.Errorf("relationship enum: %v", got)
	}
}

func TestToolResolutionWarnsOnly(t *testing.T) {
	cfg := validConfig()
	cfg.Skills = []onboarding.Skill{
		{Name: "deploys", Description: "ships builds", Tools: []string{"kubernetes"}},
	}
	r := onboarding.Validator{}.Validate(cfg)
	if !r.Valid {
		t.Fatalf("unresolved tool must not be an error: %+v", r.Errors)
	}
	w, ok := findIssue(r.Warnings, "skills[0].tools[0]")
	if !ok || w.Code != onboarding.CodeToolUnresolved {
		t.Fatalf("warning %+v ok=%v", w, ok)
	}

	// resolves via custom tool
	cfg.Tools.Custom = []onboarding.CustomTool{{Name: "kubernetes"}}
	if r := (onboarding.Validator{}).Validate(cfg); len(r.Warnings) != 0 {
		t.Fatalf("warnings after custom tool: %+v", r.Warnings)
	}

	// resolves via mcp-exposed tool
	cfg.Tools.Custom = nil
	cfg.Tools.MCPServers = []onboarding.MCPServer{
		{Name: "infra", URL: "http://localhost:9000", Transport: "sse", Tools: []string{"kubernetes"}},
	}
	if r := (onboarding.Validator{}).Validate(cfg); len(r.Warnings) != 0 {
		t.Fatalf("warnings after mcp tool: %+v", r.Warnings)
	}
}

func TestExecutionAndGuardrailWarnings(t *testing.T) {
	cfg := validConfig()
	cfg.Execution = onboarding.Execution{AutoRun: true, RiskLevel: "high"}
	cfg.Guardrails = onboarding.Guardrails{CodeExecution: true, GitManagement: true, RequiresApproval: false}
	r := onboarding.Validator{}.Validate(cfg)
	if !r.Valid {
		t.Fatalf("warnings must not invalidate: %+v", r.Errors)
	}
	got := codes(r.Warnings)
	if got[onboarding.CodeAutoRunHighRisk] != 1 || got[onboarding.CodeApprovalSuggested] != 1 {
		t.Fatalf("warnings %v", got)
	}
}

func TestSOPChecks(t *testing.T) {
	cfg := validConfig()
	cfg.SOPs = []onboarding.SOP{
		{Name: "a", Steps: []onboarding.SOPStep{
			{Order: 2, Action: "x", AcceptanceCriteria: "y"},
			{Order: 1, Action: "z", AcceptanceCriteria: "w"},
		}},
		{Name: "a", Steps: []onboarding.SOPStep{{Order: 1, Action: "", AcceptanceCriteria: ""}}},
		{Name: "empty"},
	}
	r := onboarding.Validator{}.Validate(cfg)
	got := codes(r.Errors)
	if got[onboarding.CodeDuplicate] == 0 {
		t.Errorf("duplicate sop: %v", got)
	}
	if got[onboarding.CodeRequired] < 3 {
		t.Errorf("required fields: %v", got)
	}
	w := codes(r.Warnings)
	if w[onboarding.CodeSOPStepOrder] != 1 {
		t.Errorf("step order warning: %v", w)
	}
}

func TestLanesRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Lanes = nil
	r := onboarding.Validator{}.Validate(cfg)
	issue, ok := findIssue(r.Errors, "lanes")
	if !ok || issue.Code != onboarding.CodeRequired {
		t.Fatalf("issue %+v ok=%v", issue, ok)
	}

	cfg.Lanes = []int{3, 3}
	r = onboarding.Validator{}.Validate(cfg)
	if got := codes(r.Errors); got[onboarding.CodeDuplicate] != 1 {
		t.Fatalf("duplicate lane: %v", got)
	}
}

func TestChannelChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Channels = []onboarding.Channel{
		{Type: "slack", Permissions: []string{"read"}},
		{Type: "slack", Permissions: []string{"admin"}},
		{Type: "carrier_pigeon"},
	}
	r := onboarding.Validator{}.Validate(cfg)
	got := codes(r.Errors)
	if got[onboarding.CodeDuplicate] != 1 {
		t.Errorf("duplicate channel: %v", got)
	}
	if got[onboarding.CodeInvalidEnum] != 2 {
		t.Errorf("enum errors: %v", got)
	}
}
