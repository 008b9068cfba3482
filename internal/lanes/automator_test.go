package lanes_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"agentworks/internal/db"
	"agentworks/internal/domain"
	"agentworks/internal/events"
	"agentworks/internal/lanes"
	"agentworks/internal/meter"
	"agentworks/internal/migrate"
	"agentworks/internal/repo"
	"agentworks/internal/router"
	"agentworks/internal/session"
)

type fakeRouter struct {
	responses map[string]string
	fail      map[string]bool
	calls     []string
}

func (f *fakeRouter) RouteRequest(ctx context.Context, projectID, agentName, prompt string, cardID *string) (router.RouteResult, error) {
	f.calls = append(f.calls, agentName)
	if f.fail[agentName] {
		return router.RouteResult{Success: false, RequestID: "req-" + agentName, Err: "provider exploded"}, nil
	}
	content := f.responses[agentName]
	if content == "" {
		content = "output from " + agentName
	}
	return router.RouteResult{
		Success: true, RequestID: "req-" + agentName, Content: content,
		Usage: meter.Usage{InputTokens: 10, OutputTokens: 10, TotalTokens: 20},
		Cost:  meter.Cost{ProviderCost: 0.01, CustomerPrice: 0.25, Margin: 0.24},
	}, nil
}

type env struct {
	Automator lanes.Automator
	Repo      repo.Repo
	Router    *fakeRouter
	DB        *sql.DB
	Ctx       context.Context
}

func newEnv(t *testing.T) env {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	now := func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }
	if err := r.InsertProject(ctx, domain.Project{ID: "proj-1", Status: "active", CreatedAt: "2024-03-15T00:00:00Z"}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	fr := &fakeRouter{responses: map[string]string{}, fail: map[string]bool{}}
	a := lanes.Automator{
		DB:       conn,
		Repo:     r,
		Router:   fr,
		Sessions: &session.Recorder{Repo: r, Now: now},
		Events:   events.Writer{DB: conn, Now: now},
		Now:      now,
	}
	return env{Automator: a, Repo: r, Router: fr, DB: conn, Ctx: ctx}
}

func registerAgent(t *testing.T, e env, name string, laneIDs ...int) {
	t.Helper()
	if err := e.Repo.UpsertAgentConfig(e.Ctx, domain.AgentConfig{
		ProjectID: "proj-1", Name: name, Provider: "anthropic", Model: "claude-3-5-sonnet",
		Lanes: laneIDs, Active: true,
		CreatedAt: "2024-03-15T00:00:00Z", UpdatedAt: "2024-03-15T00:00:00Z",
	}, ""); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func createCard(t *testing.T, e env, lane int) domain.Card {
	t.Helper()
	card, err := e.Automator.CreateCard(e.Ctx, lanes.CardCreateOptions{
		ProjectID: "proj-1", Title: "build the thing", Lane: lane, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	return card
}

func TestPipelineShape(t *testing.T) {
	all := lanes.All()
	if len(all) != 11 {
		t.Fatalf("lane count %d", len(all))
	}
	for i, l := range all {
		if l.ID != i {
			t.Fatalf("lane %d has id %d", i, l.ID)
		}
		if i < 10 {
			if l.Next == nil || *l.Next != i+1 {
				t.Fatalf("lane %d next %v", i, l.Next)
			}
		} else if l.Next != nil {
			t.Fatalf("terminal lane has next %d", *l.Next)
		}
	}
	if !lanes.Valid(0) || !lanes.Valid(10) || lanes.Valid(11) || lanes.Valid(-1) {
		t.Fatal("lane validity")
	}
}

func TestMoveCardHistoryAndStatus(t *testing.T) {
	e := newEnv(t)
	card := createCard(t, e, 0)

	moved, err := e.Automator.MoveCard(e.Ctx, card.ID, 1, "manual", "tester")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.Lane != 1 || moved.Status != "ready" {
		t.Fatalf("forward-by-one: lane=%d status=%s", moved.Lane, moved.Status)
	}
	if len(moved.LaneHistory) != 1 || moved.LaneHistory[0].From != 0 || moved.LaneHistory[0].To != 1 {
		t.Fatalf("history %+v", moved.LaneHistory)
	}

	// arbitrary jump backward marks the card moved, not ready
	moved, err = e.Automator.MoveCard(e.Ctx, card.ID, 0, "correction", "tester")
	if err != nil {
		t.Fatalf("move back: %v", err)
	}
	if moved.Status != "moved" || len(moved.LaneHistory) != 2 {
		t.Fatalf("backward move: status=%s history=%d", moved.Status, len(moved.LaneHistory))
	}

	if _, err := e.Automator.MoveCard(e.Ctx, card.ID, 11, "", "tester"); err == nil {
		t.Fatal("expected invalid lane error")
	}
}

func TestLaneCompletionRequiresAllCriteria(t *testing.T) {
	e := newEnv(t)
	card := createCard(t, e, 1)

	withArtifacts := func(keys ...string) {
		tx, err := e.DB.BeginTx(e.Ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		c, err := e.Repo.GetCardTx(e.Ctx, tx, card.ID)
		if err != nil {
			t.Fatal(err)
		}
		c.Artifacts = map[string]string{}
		for _, k := range keys {
			c.Artifacts[k] = "artifact://" + k
		}
		if err := e.Repo.UpdateCardTx(e.Ctx, tx, c); err != nil {
			t.Fatal(err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
	}

	// prd alone is not enough: criteria are AND-combined
	withArtifacts("prd")
	got, err := e.Automator.UpdateCardStatus(e.Ctx, card.ID, "completed", nil, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Lane != 1 {
		t.Fatalf("advanced with partial criteria to lane %d", got.Lane)
	}

	withArtifacts("prd", "mvp")
	got, err = e.Automator.UpdateCardStatus(e.Ctx, card.ID, "completed", nil, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Lane != 2 {
		t.Fatalf("lane %d, want 2", got.Lane)
	}
	last := got.LaneHistory[len(got.LaneHistory)-1]
	if last.From != 1 || last.To != 2 || last.Reason != "auto_completion" {
		t.Fatalf("transition %+v", last)
	}
	if len(got.LaneHistory) != 1 {
		t.Fatalf("want exactly one lane-history entry, got %d", len(got.LaneHistory))
	}
}

func TestTerminalLaneNeverAdvances(t *testing.T) {
	e := newEnv(t)
	card := createCard(t, e, 10)
	got, err := e.Automator.UpdateCardStatus(e.Ctx, card.ID, "completed", nil, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Lane != 10 {
		t.Fatalf("terminal card moved to %d", got.Lane)
	}
}

func TestAutoTriggersRunRegisteredAgents(t *testing.T) {
	e := newEnv(t)
	registerAgent(t, e, "prd_writer", 1)
	card := createCard(t, e, 0)

	if _, err := e.Automator.MoveCard(e.Ctx, card.ID, 1, "manual", "tester"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(e.Router.calls) != 1 || e.Router.calls[0] != "prd_writer" {
		t.Fatalf("calls %v", e.Router.calls)
	}

	got, err := e.Repo.GetCard(e.Ctx, card.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "review" {
		t.Fatalf("status %s after successful auto run", got.Status)
	}
	if _, ok := got.Artifacts["prd"]; !ok {
		t.Fatalf("artifacts %v", got.Artifacts)
	}
	content, err := e.Repo.GetCardArtifact(e.Ctx, card.ID, "prd_writer")
	if err != nil || content == "" {
		t.Fatalf("artifact blob: %q %v", content, err)
	}
}

func TestAutoTriggerFailureIsIsolated(t *testing.T) {
	e := newEnv(t)
	registerAgent(t, e, "builder", 4)
	registerAgent(t, e, "frontend_dev", 4)
	e.Router.fail["builder"] = true

	// only builder is an auto-trigger for lane 4; frontend_dev waits
	// for a manual run
	card := createCard(t, e, 3)
	if _, err := e.Automator.MoveCard(e.Ctx, card.ID, 4, "manual", "tester"); err != nil {
		t.Fatalf("move: %v", err)
	}

	if len(e.Router.calls) != 1 || e.Router.calls[0] != "builder" {
		t.Fatalf("calls %v", e.Router.calls)
	}
	got, err := e.Repo.GetCard(e.Ctx, card.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "error" {
		t.Fatalf("status %s after failed auto run", got.Status)
	}

	// the run session must be sealed failed, never left running
	sessions, err := e.Repo.ListRunSessions(e.Ctx, repo.SessionFilter{ProjectID: "proj-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Status != "failed" || sessions[0].EndedAt == nil {
		t.Fatalf("sessions %+v", sessions)
	}
}

func TestRunAgentSealsSessionOnSuccess(t *testing.T) {
	e := newEnv(t)
	registerAgent(t, e, "qa_engineer", 5)
	card := createCard(t, e, 5)

	if err := e.Automator.RunAgent(e.Ctx, "proj-1", card.ID, "qa_engineer", "run the tests", false); err != nil {
		t.Fatalf("run: %v", err)
	}
	sessions, err := e.Repo.ListRunSessions(e.Ctx, repo.SessionFilter{ProjectID: "proj-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions %d", len(sessions))
	}
	s := sessions[0]
	if s.Status != "completed" || s.RunType != "manual" || s.EndedAt == nil {
		t.Fatalf("session %+v", s)
	}
	logs, err := e.Repo.ListSessionLogs(e.Ctx, s.ID)
	if err != nil || len(logs) == 0 {
		t.Fatalf("logs %d err %v", len(logs), err)
	}
}

func TestRunAgentSynthesizesPromptFromDocs(t *testing.T) {
	e := newEnv(t)
	registerAgent(t, e, "architect", 2)
	if err := e.Repo.UpsertDoc(e.Ctx, domain.Doc{ProjectID: "proj-1", Kind: "prd", Content: "the product must frobnicate", UpdatedAt: "2024-03-15T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	card := createCard(t, e, 2)

	var captured string
	e.Router.responses["architect"] = "diagram"
	orig := e.Automator.Router
	e.Automator.Router = routerFunc(func(ctx context.Context, projectID, agentName, prompt string, cardID *string) (router.RouteResult, error) {
		captured = prompt
		return orig.RouteRequest(ctx, projectID, agentName, prompt, cardID)
	})
	if err := e.Automator.RunAgent(e.Ctx, "proj-1", card.ID, "architect", "", false); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"architect", "build the thing", "the product must frobnicate"} {
		if !strings.Contains(captured, want) {
			t.Fatalf("prompt missing %q:\n%s", want, captured)
		}
	}
}

type routerFunc func(ctx context.Context, projectID, agentName, prompt string, cardID *string) (router.RouteResult, error)

func (f routerFunc) RouteRequest(ctx context.Context, projectID, agentName, prompt string, cardID *string) (router.RouteResult, error) {
	return f(ctx, projectID, agentName, prompt, cardID)
}

func TestRunAgentMissingCard(t *testing.T) {
	e := newEnv(t)
	registerAgent(t, e, "builder", 4)
	err := e.Automator.RunAgent(e.Ctx, "proj-1", "no-such-card", "builder", "", false)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err %v", err)
	}
	sessions, err := e.Repo.ListRunSessions(e.Ctx, repo.SessionFilter{ProjectID: "proj-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Status != "failed" {
		t.Fatalf("sessions %+v", sessions)
	}
}

func TestCreateCardValidation(t *testing.T) {
	e := newEnv(t)
	if _, err := e.Automator.CreateCard(e.Ctx, lanes.CardCreateOptions{ProjectID: "proj-1", Lane: 0}); err == nil {
		t.Fatal("expected title error")
	}
	if _, err := e.Automator.CreateCard(e.Ctx, lanes.CardCreateOptions{ProjectID: "proj-1", Title: "x", Lane: 42}); err == nil {
		t.Fatal("expected lane error")
	}
	var laneErr lanes.InvalidLaneError
	_, err := e.Automator.CreateCard(e.Ctx, lanes.CardCreateOptions{ProjectID: "proj-1", Title: "x", Lane: -1})
	if !errors.As(err, &laneErr) {
		t.Fatalf("err %v", err)
	}
}

func TestCheckAutoTriggersReportsStoreErrors(t *testing.T) {
	e := newEnv(t)
	card := createCard(t, e, 1)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	e.DB.Close()
	e.Automator.CheckAutoTriggers(e.Ctx, "proj-1", card.ID, 1)
	if !strings.Contains(buf.String(), "auto-trigger") {
		t.Fatalf("store error not logged: %q", buf.String())
	}
}
