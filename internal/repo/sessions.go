package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"agentworks/internal/domain"
)

func (r Repo) InsertRunSession(ctx context.Context, s domain.RunSession) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO run_sessions(id,project_id,card_id,agent,run_type,status,summary,started_at,ended_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, nullableStringPtr(s.CardID), s.Agent, s.RunType, s.Status, nullable(s.Summary), s.StartedAt, nullableStringPtr(s.EndedAt))
	return err
}

// SealRunSession marks a session terminal. A sealed session accepts no
// further log entries.
func (r Repo) SealRunSession(ctx context.Context, id, status, summary, endedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE run_sessions SET status=?, summary=?, ended_at=? WHERE id=? AND ended_at IS NULL`,
		status, nullable(summary), endedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRunSession(ctx context.Context, id string) (domain.RunSession, error) {
	var s domain.RunSession
	var cardID, summary, endedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,card_id,agent,run_type,status,summary,started_at,ended_at FROM run_sessions WHERE id=?`, id).
		Scan(&s.ID, &s.ProjectID, &cardID, &s.Agent, &s.RunType, &s.Status, &summary, &s.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if cardID.Valid {
		v := cardID.String
		s.CardID = &v
	}
	s.Summary = summary.String
	if endedAt.Valid {
		v := endedAt.String
		s.EndedAt = &v
	}
	return s, nil
}

type SessionFilter struct {
	ProjectID string
	CardID    string
	Agent     string
	Status    string
	Limit     int
}

func (r Repo) ListRunSessions(ctx context.Context, f SessionFilter) ([]domain.RunSession, error) {
	query := `SELECT id,project_id,card_id,agent,run_type,status,summary,started_at,ended_at FROM run_sessions WHERE project_id=?`
	args := []any{f.ProjectID}
	if f.CardID != "" {
		query += ` AND card_id=?`
		args = append(args, f.CardID)
	}
	if f.Agent != "" {
		query += ` AND agent=?`
		args = append(args, f.Agent)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY started_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RunSession
	for rows.Next() {
		var s domain.RunSession
		var cardID, summary, endedAt sql.NullString
		if err := rows.Scan(&s.ID, &s.ProjectID, &cardID, &s.Agent, &s.RunType, &s.Status, &summary, &s.StartedAt, &endedAt); err != nil {
			return nil, err
		}
		if cardID.Valid {
			v := cardID.String
			s.CardID = &v
		}
		s.Summary = summary.String
		if endedAt.Valid {
			v := endedAt.String
			s.EndedAt = &v
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) AppendSessionLog(ctx context.Context, sessionID string, e domain.LogEntry) error {
	var meta any
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO session_logs(session_id,ts,level,message,metadata_json) VALUES (?,?,?,?,?)`,
		sessionID, e.TS, e.Level, e.Message, meta)
	return err
}

func (r Repo) ListSessionLogs(ctx context.Context, sessionID string) ([]domain.LogEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT ts,level,message,metadata_json FROM session_logs WHERE session_id=? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var meta sql.NullString
		if err := rows.Scan(&e.TS, &e.Level, &e.Message, &meta); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, err
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
