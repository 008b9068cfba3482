package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"agentworks/internal/domain"
)

func (r Repo) InsertUsageEventTx(ctx context.Context, tx *sql.Tx, ev domain.UsageEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO usage_events(id,ts,day,project_id,card_id,agent,provider,model,prompt_preview,input_tokens,output_tokens,total_tokens,provider_cost,customer_price,margin,duration_ms,success,error)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.TS, ev.Day, ev.ProjectID, nullableStringPtr(ev.CardID), ev.Agent, ev.Provider, ev.Model, nullable(ev.PromptPreview),
		ev.InputTokens, ev.OutputTokens, ev.TotalTokens, ev.ProviderCost, ev.CustomerPrice, ev.Margin, ev.DurationMs,
		boolToInt(ev.Success), nullable(ev.Error))
	return err
}

type UsageFilter struct {
	ProjectID string
	FromDay   string // inclusive, YYYY-MM-DD
	ToDay     string // inclusive
	Agent     string
}

// ListUsageEvents replays the event log in insertion order. The day
// partition column keeps timeframe scans on the (project_id, day) index.
func (r Repo) ListUsageEvents(ctx context.Context, f UsageFilter) ([]domain.UsageEvent, error) {
	clauses := []string{"project_id=?"}
	args := []any{f.ProjectID}
	if f.FromDay != "" {
		clauses = append(clauses, "day>=?")
		args = append(args, f.FromDay)
	}
	if f.ToDay != "" {
		clauses = append(clauses, "day<=?")
		args = append(args, f.ToDay)
	}
	if f.Agent != "" {
		clauses = append(clauses, "agent=?")
		args = append(args, f.Agent)
	}
	query := fmt.Sprintf(`SELECT id,ts,day,project_id,card_id,agent,provider,model,COALESCE(prompt_preview,''),input_tokens,output_tokens,total_tokens,provider_cost,customer_price,margin,duration_ms,success,COALESCE(error,'')
FROM usage_events WHERE %s ORDER BY ts, id`, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UsageEvent
	for rows.Next() {
		var ev domain.UsageEvent
		var cardID sql.NullString
		var success int
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Day, &ev.ProjectID, &cardID, &ev.Agent, &ev.Provider, &ev.Model, &ev.PromptPreview,
			&ev.InputTokens, &ev.OutputTokens, &ev.TotalTokens, &ev.ProviderCost, &ev.CustomerPrice, &ev.Margin, &ev.DurationMs,
			&success, &ev.Error); err != nil {
			return nil, err
		}
		if cardID.Valid {
			v := cardID.String
			ev.CardID = &v
		}
		ev.Success = success != 0
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (r Repo) GetUsageAggregateTx(ctx context.Context, tx *sql.Tx, projectID string) (domain.UsageAggregate, error) {
	row := tx.QueryRowContext(ctx, `SELECT project_id,total_calls,failed_calls,total_cost,total_price,by_agent_json,by_provider_json,updated_at
FROM usage_aggregates WHERE project_id=?`, projectID)
	return scanAggregate(row)
}

func (r Repo) GetUsageAggregate(ctx context.Context, projectID string) (domain.UsageAggregate, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT project_id,total_calls,failed_calls,total_cost,total_price,by_agent_json,by_provider_json,updated_at
FROM usage_aggregates WHERE project_id=?`, projectID)
	return scanAggregate(row)
}

func (r Repo) UpsertUsageAggregateTx(ctx context.Context, tx *sql.Tx, agg domain.UsageAggregate) error {
	byAgent, err := marshalJSON(agg.ByAgent)
	if err != nil {
		return err
	}
	byProvider, err := marshalJSON(agg.ByProvider)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO usage_aggregates(project_id,total_calls,failed_calls,total_cost,total_price,by_agent_json,by_provider_json,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET total_calls=excluded.total_calls, failed_calls=excluded.failed_calls,
total_cost=excluded.total_cost, total_price=excluded.total_price, by_agent_json=excluded.by_agent_json,
by_provider_json=excluded.by_provider_json, updated_at=excluded.updated_at`,
		agg.ProjectID, agg.TotalCalls, agg.FailedCalls, agg.TotalCost, agg.TotalPrice, byAgent, byProvider, agg.UpdatedAt)
	return err
}

func scanAggregate(row rowScanner) (domain.UsageAggregate, error) {
	var agg domain.UsageAggregate
	var byAgent, byProvider string
	err := row.Scan(&agg.ProjectID, &agg.TotalCalls, &agg.FailedCalls, &agg.TotalCost, &agg.TotalPrice, &byAgent, &byProvider, &agg.UpdatedAt)
	if err == sql.ErrNoRows {
		return agg, ErrNotFound
	}
	if err != nil {
		return agg, err
	}
	if err := json.Unmarshal([]byte(byAgent), &agg.ByAgent); err != nil {
		return agg, fmt.Errorf("aggregate %s by_agent: %w", agg.ProjectID, err)
	}
	if err := json.Unmarshal([]byte(byProvider), &agg.ByProvider); err != nil {
		return agg, fmt.Errorf("aggregate %s by_provider: %w", agg.ProjectID, err)
	}
	return agg, nil
}
