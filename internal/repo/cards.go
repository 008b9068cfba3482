package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"agentworks/internal/domain"
)

func (r Repo) InsertCardTx(ctx context.Context, tx *sql.Tx, c domain.Card) error {
	laneHist, err := marshalJSONSlice(c.LaneHistory)
	if err != nil {
		return err
	}
	statusHist, err := marshalJSONSlice(c.StatusHistory)
	if err != nil {
		return err
	}
	outputs, err := marshalJSON(c.Outputs)
	if err != nil {
		return err
	}
	artifacts, err := marshalJSON(c.Artifacts)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO cards(id,project_id,title,description,type,lane,status,lane_history_json,status_history_json,outputs_json,artifacts_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Title, nullable(c.Description), c.Type, c.Lane, c.Status, laneHist, statusHist, outputs, artifacts, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCard(ctx context.Context, id string) (domain.Card, error) {
	row := r.DB.QueryRowContext(ctx, cardSelect+` WHERE id=?`, id)
	return scanCard(row)
}

func (r Repo) GetCardTx(ctx context.Context, tx *sql.Tx, id string) (domain.Card, error) {
	row := tx.QueryRowContext(ctx, cardSelect+` WHERE id=?`, id)
	return scanCard(row)
}

// UpdateCardTx rewrites the mutable card columns. Histories only grow;
// callers append, never truncate.
func (r Repo) UpdateCardTx(ctx context.Context, tx *sql.Tx, c domain.Card) error {
	laneHist, err := marshalJSONSlice(c.LaneHistory)
	if err != nil {
		return err
	}
	statusHist, err := marshalJSONSlice(c.StatusHistory)
	if err != nil {
		return err
	}
	outputs, err := marshalJSON(c.Outputs)
	if err != nil {
		return err
	}
	artifacts, err := marshalJSON(c.Artifacts)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE cards SET title=?, description=?, lane=?, status=?, lane_history_json=?, status_history_json=?, outputs_json=?, artifacts_json=?, updated_at=? WHERE id=?`,
		c.Title, nullable(c.Description), c.Lane, c.Status, laneHist, statusHist, outputs, artifacts, c.UpdatedAt, c.ID)
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

type CardFilter struct {
	ProjectID string
	Lane      *int
	Status    string
	Type      string
}

func (r Repo) ListCards(ctx context.Context, f CardFilter) ([]domain.Card, error) {
	clauses := []string{"project_id=?"}
	args := []any{f.ProjectID}
	if f.Lane != nil {
		clauses = append(clauses, "lane=?")
		args = append(args, *f.Lane)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	query := fmt.Sprintf(`%s WHERE %s ORDER BY lane, created_at`, cardSelect, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpsertCardArtifactTx(ctx context.Context, tx *sql.Tx, cardID, agent, content, createdAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO card_artifacts(card_id,agent,content,created_at) VALUES (?,?,?,?)
ON CONFLICT(card_id,agent) DO UPDATE SET content=excluded.content, created_at=excluded.created_at`,
		cardID, agent, content, createdAt)
	return err
}

func (r Repo) GetCardArtifact(ctx context.Context, cardID, agent string) (string, error) {
	var content string
	err := r.DB.QueryRowContext(ctx, `SELECT content FROM card_artifacts WHERE card_id=? AND agent=?`, cardID, agent).Scan(&content)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return content, err
}

const cardSelect = `SELECT id,project_id,title,COALESCE(description,''),type,lane,status,lane_history_json,status_history_json,outputs_json,artifacts_json,created_at,updated_at FROM cards`

func scanCard(row rowScanner) (domain.Card, error) {
	var c domain.Card
	var laneHist, statusHist, outputs, artifacts string
	err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &c.Description, &c.Type, &c.Lane, &c.Status, &laneHist, &statusHist, &outputs, &artifacts, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(laneHist), &c.LaneHistory); err != nil {
		return c, fmt.Errorf("card %s lane history: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(statusHist), &c.StatusHistory); err != nil {
		return c, fmt.Errorf("card %s status history: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(outputs), &c.Outputs); err != nil {
		return c, fmt.Errorf("card %s outputs: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(artifacts), &c.Artifacts); err != nil {
		return c, fmt.Errorf("card %s artifacts: %w", c.ID, err)
	}
	return c, nil
}

func marshalJSONSlice[T any](v []T) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
