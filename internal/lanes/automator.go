package lanes

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentworks/internal/domain"
	"agentworks/internal/events"
	"agentworks/internal/repo"
	"agentworks/internal/router"
	"agentworks/internal/session"
)

// RequestRouter is the slice of the router the automator needs.
type RequestRouter interface {
	RouteRequest(ctx context.Context, projectID, agentName, prompt string, cardID *string) (router.RouteResult, error)
}

type InvalidLaneError struct {
	Lane int
}

func (e InvalidLaneError) Error() string {
	return fmt.Sprintf("lane %d is not a valid lane (0..%d)", e.Lane, MaxLane)
}

// Automator drives cards through the pipeline: manual moves, status
// changes, auto-triggered agent runs, and completion-based advancement.
type Automator struct {
	DB       *sql.DB
	Repo     repo.Repo
	Router   RequestRouter
	Sessions *session.Recorder
	Events   events.Writer
	Now      func() time.Time
}

func (a Automator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a Automator) ts() string {
	return a.now().UTC().Format(time.RFC3339)
}

type CardCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	Type        string
	Lane        int
	ActorID     string
}

func (a Automator) CreateCard(ctx context.Context, opts CardCreateOptions) (domain.Card, error) {
	if opts.Title == "" {
		return domain.Card{}, fmt.Errorf("card title is required")
	}
	if !Valid(opts.Lane) {
		return domain.Card{}, InvalidLaneError{Lane: opts.Lane}
	}
	if opts.Type == "" {
		opts.Type = "feature"
	}
	now := a.ts()
	card := domain.Card{
		ID:          uuid.NewString(),
		ProjectID:   opts.ProjectID,
		Title:       opts.Title,
		Description: opts.Description,
		Type:        opts.Type,
		Lane:        opts.Lane,
		Status:      "draft",
		Outputs:     map[string]domain.AgentOutput{},
		Artifacts:   map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Card{}, err
	}
	defer tx.Rollback()
	if err := a.Repo.InsertCardTx(ctx, tx, card); err != nil {
		return domain.Card{}, err
	}
	if err := a.Events.Append(ctx, tx, "card.created", opts.ProjectID, "card", card.ID, opts.ActorID,
		events.EventPayload{"title": card.Title, "lane": card.Lane}); err != nil {
		return domain.Card{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Card{}, err
	}
	return card, nil
}

// MoveCard transitions a card to targetLane, appending exactly one
// lane-history entry. Moving strictly forward by one lane marks the
// card ready for its new stage; any other manual jump marks it moved.
// Auto-triggers for the target lane fire after the move commits.
func (a Automator) MoveCard(ctx context.Context, cardID string, targetLane int, reason, actorID string) (domain.Card, error) {
	if !Valid(targetLane) {
		return domain.Card{}, InvalidLaneError{Lane: targetLane}
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Card{}, err
	}
	defer tx.Rollback()

	card, err := a.Repo.GetCardTx(ctx, tx, cardID)
	if err != nil {
		return domain.Card{}, err
	}
	from := card.Lane
	status := "moved"
	if targetLane == from+1 {
		status = "ready"
	}
	card.LaneHistory = append(card.LaneHistory, domain.LaneTransition{
		From: from, To: targetLane, TS: a.ts(), Reason: reason,
	})
	card.Lane = targetLane
	card.Status = status
	card.UpdatedAt = a.ts()
	if err := a.Repo.UpdateCardTx(ctx, tx, card); err != nil {
		return domain.Card{}, err
	}
	if err := a.Events.Append(ctx, tx, "card.moved", card.ProjectID, "card", card.ID, actorID,
		events.EventPayload{"from": from, "to": targetLane, "reason": reason}); err != nil {
		return domain.Card{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Card{}, err
	}

	a.CheckAutoTriggers(ctx, card.ProjectID, card.ID, targetLane)

	// the triggers may have advanced the card further
	return a.Repo.GetCard(ctx, cardID)
}

// UpdateCardStatus appends a status-history entry. A completed status
// kicks off lane-completion evaluation.
func (a Automator) UpdateCardStatus(ctx context.Context, cardID, status string, metadata map[string]any, actorID string) (domain.Card, error) {
	switch status {
	case "draft", "ready", "in_progress", "review", "completed", "error", "moved":
	default:
		return domain.Card{}, fmt.Errorf("invalid card status %q", status)
	}
	card, err := a.setStatus(ctx, cardID, status, metadata, actorID)
	if err != nil {
		return domain.Card{}, err
	}
	if status == "completed" {
		if err := a.CheckLaneCompletion(ctx, cardID); err != nil {
			return domain.Card{}, err
		}
		return a.Repo.GetCard(ctx, cardID)
	}
	return card, nil
}

func (a Automator) setStatus(ctx context.Context, cardID, status string, metadata map[string]any, actorID string) (domain.Card, error) {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Card{}, err
	}
	defer tx.Rollback()

	card, err := a.Repo.GetCardTx(ctx, tx, cardID)
	if err != nil {
		return domain.Card{}, err
	}
	card.StatusHistory = append(card.StatusHistory, domain.StatusChange{
		From: card.Status, To: status, TS: a.ts(), Metadata: metadata,
	})
	card.Status = status
	card.UpdatedAt = a.ts()
	if err := a.Repo.UpdateCardTx(ctx, tx, card); err != nil {
		return domain.Card{}, err
	}
	if err := a.Events.Append(ctx, tx, "card.status_changed", card.ProjectID, "card", card.ID, actorID,
		events.EventPayload{"status": status}); err != nil {
		return domain.Card{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Card{}, err
	}
	return card, nil
}

// CheckAutoTriggers runs every auto-trigger agent for the lane that is
// both registered and active for the project. Agents run one at a time
// against the single-writer store; one agent's failure is logged on its
// own session and does not stop the rest.
func (a Automator) CheckAutoTriggers(ctx context.Context, projectID, cardID string, lane int) {
	if !Valid(lane) {
		return
	}
	registered, err := a.Repo.AgentsForLane(ctx, projectID, lane)
	if err != nil {
		log.Printf("auto-trigger: agents for lane %d: %v", lane, err)
		return
	}
	byName := map[string]bool{}
	for _, agent := range registered {
		byName[agent.Name] = true
	}
	for _, name := range Get(lane).AutoTrigger {
		if !byName[name] {
			continue
		}
		// failure isolation: RunAgent handles its own error recording
		_ = a.RunAgent(ctx, projectID, cardID, name, "", true)
	}
}

// CheckLaneCompletion advances the card when every completion criterion
// of its lane holds and the lane has a successor. Criteria combine with
// AND; there is no partial completion.
func (a Automator) CheckLaneCompletion(ctx context.Context, cardID string) error {
	card, err := a.Repo.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	lane := Get(card.Lane)
	if lane.Next == nil {
		return nil
	}
	if !Complete(card, lane) {
		return nil
	}
	_, err = a.MoveCard(ctx, cardID, *lane.Next, "auto_completion", "automator")
	return err
}

// RunAgent executes one agent against a card under a recorded session.
// The session always ends with a terminal status, whatever happens in
// between.
func (a Automator) RunAgent(ctx context.Context, projectID, cardID, agentName, prompt string, auto bool) error {
	runType := "manual"
	if auto {
		runType = "auto"
	}
	var cardRef *string
	if cardID != "" {
		cardRef = &cardID
	}
	sessionID, err := a.Sessions.Start(ctx, projectID, cardRef, agentName, runType)
	if err != nil {
		return err
	}
	status, summary := "failed", ""
	defer func() {
		_ = a.Sessions.End(ctx, sessionID, status, summary)
	}()

	card, err := a.Repo.GetCard(ctx, cardID)
	if err != nil {
		summary = fmt.Sprintf("load card: %v", err)
		_ = a.Sessions.Log(ctx, sessionID, "error", summary, nil)
		return err
	}

	if _, err := a.setStatus(ctx, cardID, "in_progress", map[string]any{"agent": agentName}, agentName); err != nil {
		summary = fmt.Sprintf("set in_progress: %v", err)
		_ = a.Sessions.Log(ctx, sessionID, "error", summary, nil)
		return err
	}

	if prompt == "" {
		prompt, err = a.synthesizePrompt(ctx, card, agentName)
		if err != nil {
			summary = fmt.Sprintf("build prompt: %v", err)
			_ = a.Sessions.Log(ctx, sessionID, "error", summary, nil)
			_, _ = a.setStatus(ctx, cardID, "error", map[string]any{"agent": agentName, "error": summary}, agentName)
			return err
		}
	}
	_ = a.Sessions.Log(ctx, sessionID, "info", "routing request", map[string]any{"agent": agentName, "prompt_chars": len(prompt)})

	res, err := a.Router.RouteRequest(ctx, projectID, agentName, prompt, cardRef)
	if err != nil {
		summary = fmt.Sprintf("route: %v", err)
		_ = a.Sessions.Log(ctx, sessionID, "error", summary, nil)
		_, _ = a.setStatus(ctx, cardID, "error", map[string]any{"agent": agentName, "error": err.Error()}, agentName)
		return err
	}
	if !res.Success {
		summary = res.Err
		_ = a.Sessions.Log(ctx, sessionID, "error", "agent call failed", map[string]any{"error": res.Err})
		_, _ = a.setStatus(ctx, cardID, "error", map[string]any{"agent": agentName, "error": res.Err}, agentName)
		return fmt.Errorf("agent %s failed: %s", agentName, res.Err)
	}

	if err := a.recordOutput(ctx, cardID, agentName, res.Content); err != nil {
		summary = fmt.Sprintf("persist output: %v", err)
		_ = a.Sessions.Log(ctx, sessionID, "error", summary, nil)
		return err
	}
	if _, err := a.setStatus(ctx, cardID, "review", map[string]any{"agent": agentName}, agentName); err != nil {
		summary = fmt.Sprintf("set review: %v", err)
		return err
	}
	_ = a.Sessions.Log(ctx, sessionID, "info", "agent run complete", map[string]any{
		"tokens": res.Usage.TotalTokens, "price": res.Cost.CustomerPrice,
	})
	status, summary = "completed", fmt.Sprintf("%d tokens, $%.2f", res.Usage.TotalTokens, res.Cost.CustomerPrice)
	return nil
}

// recordOutput stores the agent output on the card and the full content
// as a card artifact blob.
func (a Automator) recordOutput(ctx context.Context, cardID, agentName, content string) error {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	card, err := a.Repo.GetCardTx(ctx, tx, cardID)
	if err != nil {
		return err
	}
	now := a.ts()
	if card.Outputs == nil {
		card.Outputs = map[string]domain.AgentOutput{}
	}
	card.Outputs[agentName] = domain.AgentOutput{Content: content, TS: now}
	key := ArtifactKey(agentName)
	if card.Artifacts == nil {
		card.Artifacts = map[string]string{}
	}
	card.Artifacts[key] = fmt.Sprintf("artifact://%s/%s", cardID, agentName)
	card.UpdatedAt = now
	if err := a.Repo.UpdateCardTx(ctx, tx, card); err != nil {
		return err
	}
	if err := a.Repo.UpsertCardArtifactTx(ctx, tx, cardID, agentName, content, now); err != nil {
		return err
	}
	if err := a.Events.Append(ctx, tx, "card.artifact_written", card.ProjectID, "card", cardID, agentName,
		events.EventPayload{"artifact": key}); err != nil {
		return err
	}
	return tx.Commit()
}

// synthesizePrompt builds the default per-agent prompt from the card
// and the project's context documents.
func (a Automator) synthesizePrompt(ctx context.Context, card domain.Card, agentName string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the %s agent working on card %q (%s, lane %d: %s).\n\n",
		agentName, card.Title, card.Type, card.Lane, Get(card.Lane).Name)
	if card.Description != "" {
		fmt.Fprintf(&sb, "Card description:\n%s\n\n", card.Description)
	}
	docs, err := a.Repo.ListDocs(ctx, card.ProjectID)
	if err != nil {
		return "", err
	}
	for _, d := range docs {
		fmt.Fprintf(&sb, "--- project %s ---\n%s\n\n", d.Kind, d.Content)
	}
	agents := make([]string, 0, len(card.Outputs))
	for agent := range card.Outputs {
		if agent != agentName {
			agents = append(agents, agent)
		}
	}
	sort.Strings(agents)
	for _, agent := range agents {
		fmt.Fprintf(&sb, "--- prior output from %s ---\n%s\n\n", agent, card.Outputs[agent].Content)
	}
	fmt.Fprintf(&sb, "Produce your %s deliverable for this card.", ArtifactKey(agentName))
	return sb.String(), nil
}
