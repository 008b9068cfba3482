// Package events appends rows to the project event log. Every state
// change in AgentWorks (card moves, status changes, agent runs) lands
// here inside the same transaction as the change it describes.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends to the events table. Now is injectable for tests.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// EventPayload carries the event-specific detail, serialized to JSON.
type EventPayload map[string]any

// Append writes one event row on the caller's transaction, so the
// event commits or rolls back together with the state change.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if payload == nil {
		payload = EventPayload{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		w.stamp(), evtType, orNull(projectID), entityKind, orNull(entityID), actorID, string(body))
	return err
}

func (w Writer) stamp() string {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func orNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
