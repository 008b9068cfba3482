package session_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"agentworks/internal/db"
	"agentworks/internal/migrate"
	"agentworks/internal/repo"
	"agentworks/internal/session"
)

func newRecorder(t *testing.T) (*session.Recorder, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rec := &session.Recorder{
		Repo: repo.Repo{DB: conn},
		Now:  func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) },
	}
	return rec, context.Background()
}

func TestSessionLifecycle(t *testing.T) {
	rec, ctx := newRecorder(t)
	id, err := rec.Start(ctx, "proj-1", nil, "builder", "manual")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rec.Log(ctx, id, "info", "starting", nil); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := rec.Log(ctx, id, "error", "hiccup", map[string]any{"attempt": 1.0}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := rec.End(ctx, id, "completed", "done"); err != nil {
		t.Fatalf("end: %v", err)
	}

	s, err := rec.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Status != "completed" || s.EndedAt == nil || s.Summary != "done" {
		t.Fatalf("session %+v", s)
	}
	if len(s.Entries) != 2 || s.Entries[0].Message != "starting" || s.Entries[1].Level != "error" {
		t.Fatalf("entries %+v", s.Entries)
	}

	// sealed sessions reject further writes and a second seal
	if err := rec.Log(ctx, id, "info", "late", nil); err != session.ErrSessionClosed {
		t.Fatalf("log after end: %v", err)
	}
	if err := rec.End(ctx, id, "failed", ""); err != session.ErrSessionClosed {
		t.Fatalf("double end: %v", err)
	}
}

func TestStreamReplaysThenTails(t *testing.T) {
	rec, ctx := newRecorder(t)
	id, err := rec.Start(ctx, "proj-1", nil, "builder", "auto")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rec.Log(ctx, id, "info", "one", nil); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := rec.Log(ctx, id, "info", "two", nil); err != nil {
		t.Fatalf("log: %v", err)
	}

	stream, cancel, err := rec.Stream(ctx, id)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer cancel()

	got := func() string {
		select {
		case e, ok := <-stream:
			if !ok {
				return "<closed>"
			}
			return e.Message
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for entry")
			return ""
		}
	}
	if m := got(); m != "one" {
		t.Fatalf("replay[0]=%q", m)
	}
	if m := got(); m != "two" {
		t.Fatalf("replay[1]=%q", m)
	}

	if err := rec.Log(ctx, id, "info", "three", nil); err != nil {
		t.Fatalf("log: %v", err)
	}
	if m := got(); m != "three" {
		t.Fatalf("live=%q", m)
	}

	if err := rec.End(ctx, id, "completed", ""); err != nil {
		t.Fatalf("end: %v", err)
	}
	if m := got(); m != "<closed>" {
		t.Fatalf("after end got %q", m)
	}
}

func TestStreamSealedSessionReplaysDurableLog(t *testing.T) {
	rec, ctx := newRecorder(t)
	id, err := rec.Start(ctx, "proj-1", nil, "builder", "manual")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rec.Log(ctx, id, "info", "persisted", nil); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := rec.End(ctx, id, "failed", "boom"); err != nil {
		t.Fatalf("end: %v", err)
	}

	stream, cancel, err := rec.Stream(ctx, id)
	if err != nil {
		t.Fatalf("stream sealed: %v", err)
	}
	defer cancel()
	var msgs []string
	for e := range stream {
		msgs = append(msgs, e.Message)
	}
	if len(msgs) != 1 || msgs[0] != "persisted" {
		t.Fatalf("msgs %v", msgs)
	}
}

func TestUnsubscribeDoesNotAffectOthers(t *testing.T) {
	rec, ctx := newRecorder(t)
	id, err := rec.Start(ctx, "proj-1", nil, "builder", "manual")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	a, cancelA, err := rec.Stream(ctx, id)
	if err != nil {
		t.Fatalf("stream a: %v", err)
	}
	b, cancelB, err := rec.Stream(ctx, id)
	if err != nil {
		t.Fatalf("stream b: %v", err)
	}
	defer cancelB()
	cancelA()

	if err := rec.Log(ctx, id, "info", "still flowing", nil); err != nil {
		t.Fatalf("log: %v", err)
	}
	select {
	case e := <-b:
		if e.Message != "still flowing" {
			t.Fatalf("b got %q", e.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber b starved after a unsubscribed")
	}
	// drain a until close; it must not receive the post-cancel entry
	for range a {
	}
}

func TestExportFormats(t *testing.T) {
	rec, ctx := newRecorder(t)
	id, err := rec.Start(ctx, "proj-1", nil, "qa_engineer", "auto")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rec.Log(ctx, id, "warn", "flaky test", nil); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := rec.End(ctx, id, "completed", ""); err != nil {
		t.Fatalf("end: %v", err)
	}

	out, err := rec.Export(ctx, id, "txt")
	if err != nil {
		t.Fatalf("export txt: %v", err)
	}
	if !strings.Contains(out, "[WARN] flaky test") || !strings.Contains(out, "agent=qa_engineer") {
		t.Fatalf("txt export:\n%s", out)
	}

	out, err = rec.Export(ctx, id, "json")
	if err != nil {
		t.Fatalf("export json: %v", err)
	}
	if !strings.Contains(out, `"flaky test"`) {
		t.Fatalf("json export:\n%s", out)
	}

	if _, err := rec.Export(ctx, id, "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
