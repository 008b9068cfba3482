package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"agentworks/internal/domain"
)

// StoredAgent is an agent config plus the raw onboarding document it was
// registered from.
type StoredAgent struct {
	Config     domain.AgentConfig
	Onboarding string
}

func (r Repo) UpsertAgentConfig(ctx context.Context, a domain.AgentConfig, onboardingJSON string) error {
	lanes, err := json.Marshal(a.Lanes)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO agent_configs(project_id,name,provider,model,temperature,max_tokens,lanes_json,active,onboarding_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(project_id,name) DO UPDATE SET provider=excluded.provider, model=excluded.model, temperature=excluded.temperature,
max_tokens=excluded.max_tokens, lanes_json=excluded.lanes_json, active=excluded.active, onboarding_json=excluded.onboarding_json, updated_at=excluded.updated_at`,
		a.ProjectID, a.Name, a.Provider, a.Model, a.Temperature, a.MaxTokens, string(lanes), boolToInt(a.Active), nullable(onboardingJSON), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAgentConfig(ctx context.Context, projectID, name string) (domain.AgentConfig, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT project_id,name,provider,model,temperature,max_tokens,lanes_json,active,created_at,updated_at
FROM agent_configs WHERE project_id=? AND name=?`, projectID, name)
	return scanAgentConfig(row)
}

func (r Repo) GetAgentOnboarding(ctx context.Context, projectID, name string) (string, error) {
	var doc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT onboarding_json FROM agent_configs WHERE project_id=? AND name=?`, projectID, name).Scan(&doc)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return doc.String, nil
}

func (r Repo) ListAgentConfigs(ctx context.Context, projectID string) ([]domain.AgentConfig, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,name,provider,model,temperature,max_tokens,lanes_json,active,created_at,updated_at
FROM agent_configs WHERE project_id=? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgentConfig
	for rows.Next() {
		a, err := scanAgentConfig(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AgentsForLane returns active agents configured to work a lane, in name
// order so auto-trigger runs are deterministic.
func (r Repo) AgentsForLane(ctx context.Context, projectID string, lane int) ([]domain.AgentConfig, error) {
	all, err := r.ListAgentConfigs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var res []domain.AgentConfig
	for _, a := range all {
		if !a.Active {
			continue
		}
		for _, l := range a.Lanes {
			if l == lane {
				res = append(res, a)
				break
			}
		}
	}
	return res, nil
}

func (r Repo) SetAgentActive(ctx context.Context, projectID, name string, active bool, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE agent_configs SET active=?, updated_at=? WHERE project_id=? AND name=?`,
		boolToInt(active), updatedAt, projectID, name)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentConfig(row rowScanner) (domain.AgentConfig, error) {
	var a domain.AgentConfig
	var lanes string
	var active int
	err := row.Scan(&a.ProjectID, &a.Name, &a.Provider, &a.Model, &a.Temperature, &a.MaxTokens, &lanes, &active, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(lanes), &a.Lanes); err != nil {
		return a, fmt.Errorf("agent %s lanes: %w", a.Name, err)
	}
	a.Active = active != 0
	return a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
