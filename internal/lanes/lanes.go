// Package lanes models the fixed 11-lane delivery pipeline and the card
// automation that moves work through it.
package lanes

import "agentworks/internal/domain"

const MaxLane = 10

// Lane is one stage of the pipeline. Agents listed in AutoTrigger run
// when a card enters the lane; Criteria are the AND-combined conditions
// for auto-advancing a card to the next lane.
type Lane struct {
	ID          int
	Name        string
	Agents      []string
	AutoTrigger []string
	Criteria    []string
	Next        *int
}

func next(n int) *int { return &n }

var pipeline = []Lane{
	{ID: 0, Name: "Vision", Agents: []string{"vision_analyst"}, AutoTrigger: []string{"vision_analyst"}, Criteria: []string{"vision_captured"}, Next: next(1)},
	{ID: 1, Name: "PRD", Agents: []string{"prd_writer", "mvp_planner"}, AutoTrigger: []string{"prd_writer"}, Criteria: []string{"prd_generated", "mvp_defined"}, Next: next(2)},
	{ID: 2, Name: "Architecture", Agents: []string{"architect"}, AutoTrigger: []string{"architect"}, Criteria: []string{"architecture_defined"}, Next: next(3)},
	{ID: 3, Name: "Planning", Agents: []string{"planner"}, AutoTrigger: []string{"planner"}, Criteria: []string{"plan_created"}, Next: next(4)},
	{ID: 4, Name: "Build", Agents: []string{"builder", "frontend_dev", "backend_dev"}, AutoTrigger: []string{"builder"}, Criteria: []string{"build_complete"}, Next: next(5)},
	{ID: 5, Name: "Test", Agents: []string{"qa_engineer"}, AutoTrigger: []string{"qa_engineer"}, Criteria: []string{"tests_passed"}, Next: next(6)},
	{ID: 6, Name: "Review", Agents: []string{"reviewer"}, AutoTrigger: []string{"reviewer"}, Criteria: []string{"review_approved"}, Next: next(7)},
	{ID: 7, Name: "Deploy", Agents: []string{"devops"}, AutoTrigger: []string{"devops"}, Criteria: []string{"deployed"}, Next: next(8)},
	{ID: 8, Name: "Docs", Agents: []string{"doc_writer"}, AutoTrigger: []string{"doc_writer"}, Criteria: []string{"docs_written"}, Next: next(9)},
	{ID: 9, Name: "Optimize", Agents: []string{"optimizer"}, AutoTrigger: []string{"optimizer"}, Criteria: []string{"optimized"}, Next: next(10)},
	{ID: 10, Name: "Done"},
}

// criterionArtifacts maps each completion criterion to the artifact key
// whose presence on a card satisfies it.
var criterionArtifacts = map[string]string{
	"vision_captured":      "vision",
	"prd_generated":        "prd",
	"mvp_defined":          "mvp",
	"architecture_defined": "architecture",
	"plan_created":         "plan",
	"build_complete":       "build",
	"tests_passed":         "test_report",
	"review_approved":      "review",
	"deployed":             "deployment",
	"docs_written":         "docs",
	"optimized":            "optimization",
}

func Valid(id int) bool {
	return id >= 0 && id <= MaxLane
}

// Get returns the lane definition. Callers must pass a valid id.
func Get(id int) Lane {
	return pipeline[id]
}

func All() []Lane {
	out := make([]Lane, len(pipeline))
	copy(out, pipeline)
	return out
}

// CriterionMet reports whether a single completion criterion holds for
// the card. Unknown criteria never hold, so a misconfigured lane can
// only under-advance, never skip ahead.
func CriterionMet(card domain.Card, criterion string) bool {
	key, ok := criterionArtifacts[criterion]
	if !ok {
		return false
	}
	_, ok = card.Artifacts[key]
	return ok
}

// Complete reports whether every completion criterion of the lane holds.
// Criteria combine with AND only. A lane with no criteria never
// auto-advances.
func Complete(card domain.Card, lane Lane) bool {
	if len(lane.Criteria) == 0 {
		return false
	}
	for _, c := range lane.Criteria {
		if !CriterionMet(card, c) {
			return false
		}
	}
	return true
}

// ArtifactKey maps an agent name to the artifact key it produces on a
// card. Agents without a fixed artifact key store under their own name.
var agentArtifacts = map[string]string{
	"vision_analyst": "vision",
	"prd_writer":     "prd",
	"mvp_planner":    "mvp",
	"architect":      "architecture",
	"planner":        "plan",
	"builder":        "build",
	"frontend_dev":   "build",
	"backend_dev":    "build",
	"qa_engineer":    "test_report",
	"reviewer":       "review",
	"devops":         "deployment",
	"doc_writer":     "docs",
	"optimizer":      "optimization",
}

func ArtifactKey(agent string) string {
	if key, ok := agentArtifacts[agent]; ok {
		return key
	}
	return agent
}
