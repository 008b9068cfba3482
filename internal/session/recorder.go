// Package session records per-run logs: an in-memory buffer for live
// tailing plus durable rows for replay after the run ends.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentworks/internal/domain"
	"agentworks/internal/repo"
)

var ErrSessionClosed = errors.New("session is closed")

// subscriber channels are buffered; a tail that falls this far behind
// starts losing entries rather than blocking the writer.
const subscriberBuffer = 256

type liveSession struct {
	meta    domain.RunSession
	entries []domain.LogEntry
	subs    map[int]chan domain.LogEntry
	nextSub int
}

type Recorder struct {
	Repo repo.Repo
	Now  func() time.Time

	mu     sync.Mutex
	active map[string]*liveSession
}

func (rec *Recorder) now() time.Time {
	if rec.Now != nil {
		return rec.Now()
	}
	return time.Now()
}

// Start opens a session in `running` status and returns its id.
func (rec *Recorder) Start(ctx context.Context, projectID string, cardID *string, agent, runType string) (string, error) {
	s := domain.RunSession{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		CardID:    cardID,
		Agent:     agent,
		RunType:   runType,
		Status:    "running",
		StartedAt: rec.now().UTC().Format(time.RFC3339),
	}
	if err := rec.Repo.InsertRunSession(ctx, s); err != nil {
		return "", err
	}
	rec.mu.Lock()
	if rec.active == nil {
		rec.active = map[string]*liveSession{}
	}
	rec.active[s.ID] = &liveSession{meta: s, subs: map[int]chan domain.LogEntry{}}
	rec.mu.Unlock()
	return s.ID, nil
}

// Log appends an entry to the session buffer, persists it, and fans it
// out to live subscribers. Slow subscribers drop entries; the writer
// never blocks.
func (rec *Recorder) Log(ctx context.Context, sessionID, level, message string, metadata map[string]any) error {
	entry := domain.LogEntry{
		TS:       rec.now().UTC().Format(time.RFC3339),
		Level:    level,
		Message:  message,
		Metadata: metadata,
	}

	rec.mu.Lock()
	s, ok := rec.active[sessionID]
	if !ok {
		rec.mu.Unlock()
		return ErrSessionClosed
	}
	s.entries = append(s.entries, entry)
	for _, ch := range s.subs {
		select {
		case ch <- entry:
		default:
		}
	}
	rec.mu.Unlock()

	return rec.Repo.AppendSessionLog(ctx, sessionID, entry)
}

// End seals the session with a terminal status and closes all
// subscriber channels. Ending twice is an error.
func (rec *Recorder) End(ctx context.Context, sessionID, status, summary string) error {
	if status != "completed" && status != "failed" {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	rec.mu.Lock()
	s, ok := rec.active[sessionID]
	if ok {
		for _, ch := range s.subs {
			close(ch)
		}
		delete(rec.active, sessionID)
	}
	rec.mu.Unlock()
	if !ok {
		return ErrSessionClosed
	}
	return rec.Repo.SealRunSession(ctx, sessionID, status, summary, rec.now().UTC().Format(time.RFC3339))
}

// Stream replays the session's buffered entries, then delivers live
// entries on the returned channel until the session ends or the caller
// cancels. For an already-sealed session the durable log is replayed
// and the channel closed.
func (rec *Recorder) Stream(ctx context.Context, sessionID string) (<-chan domain.LogEntry, func(), error) {
	rec.mu.Lock()
	s, ok := rec.active[sessionID]
	if !ok {
		rec.mu.Unlock()
		entries, err := rec.Repo.ListSessionLogs(ctx, sessionID)
		if err != nil {
			return nil, nil, err
		}
		ch := make(chan domain.LogEntry, len(entries))
		for _, e := range entries {
			ch <- e
		}
		close(ch)
		return ch, func() {}, nil
	}

	replay := make([]domain.LogEntry, len(s.entries))
	copy(replay, s.entries)
	live := make(chan domain.LogEntry, subscriberBuffer)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = live
	rec.mu.Unlock()

	out := make(chan domain.LogEntry, subscriberBuffer)
	cancel := func() {
		rec.mu.Lock()
		if s, ok := rec.active[sessionID]; ok {
			if ch, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		}
		rec.mu.Unlock()
	}

	go func() {
		defer close(out)
		for _, e := range replay {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
		for e := range live {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}

// Get loads a session with its full durable log.
func (rec *Recorder) Get(ctx context.Context, sessionID string) (domain.RunSession, error) {
	s, err := rec.Repo.GetRunSession(ctx, sessionID)
	if err != nil {
		return s, err
	}
	s.Entries, err = rec.Repo.ListSessionLogs(ctx, sessionID)
	return s, err
}

// Export renders a session in the given format: "json" or "txt".
func (rec *Recorder) Export(ctx context.Context, sessionID, format string) (string, error) {
	s, err := rec.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	switch format {
	case "", "json":
		b, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	case "txt":
		var sb strings.Builder
		ended := "running"
		if s.EndedAt != nil {
			ended = *s.EndedAt
		}
		fmt.Fprintf(&sb, "session %s agent=%s type=%s status=%s started=%s ended=%s\n",
			s.ID, s.Agent, s.RunType, s.Status, s.StartedAt, ended)
		for _, e := range s.Entries {
			fmt.Fprintf(&sb, "%s [%s] %s", e.TS, strings.ToUpper(e.Level), e.Message)
			if len(e.Metadata) > 0 {
				if b, err := json.Marshal(e.Metadata); err == nil {
					fmt.Fprintf(&sb, " %s", b)
				}
			}
			sb.WriteByte('\n')
		}
		return sb.String(), nil
	}
	return "", fmt.Errorf("unknown export format %q (want json or txt)", format)
}
