package router_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"agentworks/internal/catalog"
	"agentworks/internal/db"
	"agentworks/internal/domain"
	"agentworks/internal/llm"
	"agentworks/internal/meter"
	"agentworks/internal/migrate"
	"agentworks/internal/repo"
	"agentworks/internal/router"
)

type fakeLLM struct {
	content string
	err     error
	calls   int
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.calls++
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Content: f.content}, nil
}

func newTestRouter(t *testing.T, client llm.Client) (router.Router, *sql.DB, context.Context) {
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
	if err := r.InsertProject(ctx, domain.Project{ID: "proj-1", Name: "test", Status: "active", CreatedAt: "2024-03-15T00:00:00Z"}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	if err := r.UpsertAgentConfig(ctx, domain.AgentConfig{
		ProjectID: "proj-1", Name: "builder", Provider: "anthropic", Model: "claude-3-5-sonnet",
		Temperature: 0.7, Lanes: []int{4}, Active: true,
		CreatedAt: "2024-03-15T00:00:00Z", UpdatedAt: "2024-03-15T00:00:00Z",
	}, ""); err != nil {
		t.Fatalf("upsert agent: %v", err)
	}
	rt := router.Router{
		Repo:    r,
		Catalog: catalog.Default(),
		Pricing: meter.DefaultPricing(),
		Meter:   meter.Recorder{DB: conn, Repo: r, Now: now},
		LLM:     client,
		Now:     now,
	}
	return rt, conn, ctx
}

func TestRouteRequestSuccess(t *testing.T) {
	fake := &fakeLLM{content: "hi there!"}
	rt, conn, ctx := newTestRouter(t, fake)

	res, err := rt.RouteRequest(ctx, "proj-1", "builder", "hello world", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !res.Success || res.Content != "hi there!" {
		t.Fatalf("result %+v", res)
	}
	if res.Usage.InputTokens != 3 || res.Usage.OutputTokens != 3 || res.Usage.TotalTokens != 6 {
		t.Fatalf("usage %+v", res.Usage)
	}
	if res.Cost.CustomerPrice != 0.25 {
		t.Fatalf("price %v", res.Cost.CustomerPrice)
	}

	events, err := repo.Repo{DB: conn}.ListUsageEvents(ctx, repo.UsageFilter{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("want 1 usage event, got %d", len(events))
	}
	ev := events[0]
	if !ev.Success || ev.ID != res.RequestID || ev.Agent != "builder" || ev.Provider != "anthropic" {
		t.Fatalf("event %+v", ev)
	}
	if ev.PromptPreview != "hello world" {
		t.Fatalf("preview %q", ev.PromptPreview)
	}
}

func TestRouteRequestFailureStillMeters(t *testing.T) {
	fake := &fakeLLM{err: llm.TimeoutError{Provider: "anthropic", Timeout: 30 * time.Second}}
	rt, conn, ctx := newTestRouter(t, fake)

	res, err := rt.RouteRequest(ctx, "proj-1", "builder", "hello", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Success || res.Err == "" {
		t.Fatalf("result %+v", res)
	}

	events, err := repo.Repo{DB: conn}.ListUsageEvents(ctx, repo.UsageFilter{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("want 1 usage event, got %d", len(events))
	}
	ev := events[0]
	if ev.Success {
		t.Fatal("event marked success")
	}
	if ev.TotalTokens != 0 || ev.ProviderCost != 0 || ev.CustomerPrice != 0 {
		t.Fatalf("failed attempt has nonzero usage/cost: %+v", ev)
	}
	if ev.Error == "" {
		t.Fatal("missing error message")
	}

	agg, err := repo.Repo{DB: conn}.GetUsageAggregate(ctx, "proj-1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalCalls != 1 || agg.FailedCalls != 1 {
		t.Fatalf("aggregate %+v", agg)
	}
}

func TestRouteRequestUnknownModelMetersFailure(t *testing.T) {
	fake := &fakeLLM{content: "ignored"}
	rt, conn, ctx := newTestRouter(t, fake)
	r := repo.Repo{DB: conn}
	if err := r.UpsertAgentConfig(ctx, domain.AgentConfig{
		ProjectID: "proj-1", Name: "builder", Provider: "anthropic", Model: "gpt-4",
		Lanes: []int{4}, Active: true,
		CreatedAt: "2024-03-15T00:00:00Z", UpdatedAt: "2024-03-15T00:00:00Z",
	}, ""); err != nil {
		t.Fatalf("upsert agent: %v", err)
	}

	res, err := rt.RouteRequest(ctx, "proj-1", "builder", "hello", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if fake.calls != 0 {
		t.Fatalf("llm called %d times for unknown model", fake.calls)
	}
	events, err := r.ListUsageEvents(ctx, repo.UsageFilter{ProjectID: "proj-1"})
	if err != nil || len(events) != 1 {
		t.Fatalf("events %d err %v", len(events), err)
	}
	if !strings.Contains(events[0].Error, "gpt-4") {
		t.Fatalf("event error %q", events[0].Error)
	}
}

func TestRouteRequestUnknownProject(t *testing.T) {
	rt, conn, ctx := newTestRouter(t, &fakeLLM{})

	_, err := rt.RouteRequest(ctx, "no-such-project", "builder", "hello", nil)
	var pnf router.ProjectNotFoundError
	if !errors.As(err, &pnf) {
		t.Fatalf("want ProjectNotFoundError, got %v", err)
	}

	// no project row means nothing to charge the attempt to
	events, err := repo.Repo{DB: conn}.ListUsageEvents(ctx, repo.UsageFilter{ProjectID: "no-such-project"})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("unexpected usage events: %d", len(events))
	}
}

func TestRouteRequestUnknownAgentMetersFailure(t *testing.T) {
	rt, conn, ctx := newTestRouter(t, &fakeLLM{})

	_, err := rt.RouteRequest(ctx, "proj-1", "no_such_agent", "hello", nil)
	var anf router.AgentConfigNotFoundError
	if !errors.As(err, &anf) {
		t.Fatalf("want AgentConfigNotFoundError, got %v", err)
	}

	events, err := repo.Repo{DB: conn}.ListUsageEvents(ctx, repo.UsageFilter{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("want 1 usage event, got %d", len(events))
	}
	ev := events[0]
	if ev.Success || ev.Agent != "no_such_agent" || ev.Provider != "" {
		t.Fatalf("event %+v", ev)
	}
	if ev.TotalTokens != 0 || ev.CustomerPrice != 0 {
		t.Fatalf("unbilled failure has usage/cost: %+v", ev)
	}
	agg, err := repo.Repo{DB: conn}.GetUsageAggregate(ctx, "proj-1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalCalls != 1 || agg.FailedCalls != 1 {
		t.Fatalf("aggregate %+v", agg)
	}
}

func TestRouteRequestInactiveAgentMetersFailure(t *testing.T) {
	fake := &fakeLLM{content: "ignored"}
	rt, conn, ctx := newTestRouter(t, fake)
	r := repo.Repo{DB: conn}
	if err := r.UpsertAgentConfig(ctx, domain.AgentConfig{
		ProjectID: "proj-1", Name: "builder", Provider: "anthropic", Model: "claude-3-5-sonnet",
		Lanes: []int{4}, Active: false,
		CreatedAt: "2024-03-15T00:00:00Z", UpdatedAt: "2024-03-15T00:00:00Z",
	}, ""); err != nil {
		t.Fatalf("upsert agent: %v", err)
	}

	_, err := rt.RouteRequest(ctx, "proj-1", "builder", "hello", nil)
	var inactive router.InactiveAgentError
	if !errors.As(err, &inactive) {
		t.Fatalf("want InactiveAgentError, got %v", err)
	}
	if fake.calls != 0 {
		t.Fatalf("llm called %d times for inactive agent", fake.calls)
	}
	events, err := r.ListUsageEvents(ctx, repo.UsageFilter{ProjectID: "proj-1"})
	if err != nil || len(events) != 1 {
		t.Fatalf("events %d err %v", len(events), err)
	}
	if events[0].Success || events[0].Provider != "anthropic" {
		t.Fatalf("event %+v", events[0])
	}
}

func TestRouteRequestDisabledProviderMetersFailure(t *testing.T) {
	fake := &fakeLLM{content: "ignored"}
	rt, conn, ctx := newTestRouter(t, fake)

	providers := catalog.DefaultProviders()
	for i := range providers {
		if providers[i].ID == "anthropic" {
			providers[i].Enabled = false
		}
	}
	rt.Catalog = catalog.New(providers)

	res, err := rt.RouteRequest(ctx, "proj-1", "builder", "hello", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Err, "disabled") {
		t.Fatalf("result error %q", res.Err)
	}
	if fake.calls != 0 {
		t.Fatalf("llm called %d times for disabled provider", fake.calls)
	}
	events, err := repo.Repo{DB: conn}.ListUsageEvents(ctx, repo.UsageFilter{ProjectID: "proj-1"})
	if err != nil || len(events) != 1 {
		t.Fatalf("events %d err %v", len(events), err)
	}
	if !strings.Contains(events[0].Error, "disabled") {
		t.Fatalf("event error %q", events[0].Error)
	}
}

func TestPromptPreviewTruncated(t *testing.T) {
	fake := &fakeLLM{content: "ok"}
	rt, conn, ctx := newTestRouter(t, fake)

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := rt.RouteRequest(ctx, "proj-1", "builder", string(long), nil); err != nil {
		t.Fatalf("route: %v", err)
	}
	events, err := repo.Repo{DB: conn}.ListUsageEvents(ctx, repo.UsageFilter{ProjectID: "proj-1"})
	if err != nil || len(events) != 1 {
		t.Fatalf("events %d err %v", len(events), err)
	}
	if len(events[0].PromptPreview) != 100 {
		t.Fatalf("preview length %d", len(events[0].PromptPreview))
	}
}

func TestPromptPreviewKeepsRunesWhole(t *testing.T) {
	fake := &fakeLLM{content: "ok"}
	rt, conn, ctx := newTestRouter(t, fake)

	// three-byte runes, so byte 100 falls inside a rune
	long := strings.Repeat("世", 80)
	if _, err := rt.RouteRequest(ctx, "proj-1", "builder", long, nil); err != nil {
		t.Fatalf("route: %v", err)
	}
	events, err := repo.Repo{DB: conn}.ListUsageEvents(ctx, repo.UsageFilter{ProjectID: "proj-1"})
	if err != nil || len(events) != 1 {
		t.Fatalf("events %d err %v", len(events), err)
	}
	preview := events[0].PromptPreview
	if len(preview) == 0 || len(preview) > 100 {
		t.Fatalf("preview length %d", len(preview))
	}
	if !utf8.ValidString(preview) {
		t.Fatalf("preview is not valid utf-8: %q", preview)
	}
}
