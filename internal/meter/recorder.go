package meter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"agentworks/internal/domain"
	"agentworks/internal/repo"
)

// Recorder appends usage events and keeps the per-project aggregate in
// step, inside one transaction per call. The event log is the source of
// truth; the aggregate is a cache reconstructible from it.
type Recorder struct {
	DB   *sql.DB
	Repo repo.Repo
	Now  func() time.Time
}

func (rec Recorder) now() time.Time {
	if rec.Now != nil {
		return rec.Now()
	}
	return time.Now()
}

// Record persists one usage event and folds it into the aggregate.
// Failed attempts count toward total and failed calls but contribute no
// cost, price, or per-agent/provider buckets.
func (rec Recorder) Record(ctx context.Context, ev domain.UsageEvent) error {
	if ev.TS == "" {
		ev.TS = rec.now().UTC().Format(time.RFC3339)
	}
	if ev.Day == "" {
		ts, err := time.Parse(time.RFC3339, ev.TS)
		if err != nil {
			return fmt.Errorf("usage event ts: %w", err)
		}
		ev.Day = ts.UTC().Format("2006-01-02")
	}

	tx, err := rec.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := rec.Repo.InsertUsageEventTx(ctx, tx, ev); err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}

	agg, err := rec.Repo.GetUsageAggregateTx(ctx, tx, ev.ProjectID)
	if err == repo.ErrNotFound {
		agg = domain.UsageAggregate{ProjectID: ev.ProjectID}
	} else if err != nil {
		return fmt.Errorf("load aggregate: %w", err)
	}
	if agg.ByAgent == nil {
		agg.ByAgent = map[string]domain.UsageBucket{}
	}
	if agg.ByProvider == nil {
		agg.ByProvider = map[string]domain.UsageBucket{}
	}

	agg.TotalCalls++
	if ev.Success {
		agg.TotalCost += ev.ProviderCost
		agg.TotalPrice += ev.CustomerPrice
		byAgent := agg.ByAgent[ev.Agent]
		byAgent.Calls++
		byAgent.Cost += ev.ProviderCost
		byAgent.Price += ev.CustomerPrice
		agg.ByAgent[ev.Agent] = byAgent
		byProvider := agg.ByProvider[ev.Provider]
		byProvider.Calls++
		byProvider.Cost += ev.ProviderCost
		byProvider.Price += ev.CustomerPrice
		agg.ByProvider[ev.Provider] = byProvider
	} else {
		agg.FailedCalls++
	}
	agg.UpdatedAt = rec.now().UTC().Format(time.RFC3339)

	if err := rec.Repo.UpsertUsageAggregateTx(ctx, tx, agg); err != nil {
		return fmt.Errorf("update aggregate: %w", err)
	}
	return tx.Commit()
}

// Report is a billing summary for a project over a timeframe.
type Report struct {
	ProjectID  string                `json:"project_id"`
	From       string                `json:"from,omitempty"`
	To         string                `json:"to,omitempty"`
	Summary    ReportSummary         `json:"summary"`
	ByAgent    map[string]ReportLine `json:"by_agent"`
	ByProvider map[string]ReportLine `json:"by_provider"`
	Daily      map[string]ReportLine `json:"daily"`
	Events     []domain.UsageEvent   `json:"events,omitempty"`
}

type ReportSummary struct {
	TotalCalls    int     `json:"total_calls"`
	FailedCalls   int     `json:"failed_calls"`
	TotalTokens   int     `json:"total_tokens"`
	ProviderCost  float64 `json:"provider_cost"`
	CustomerPrice float64 `json:"customer_price"`
	Margin        float64 `json:"margin"`
}

type ReportLine struct {
	Calls         int     `json:"calls"`
	Tokens        int     `json:"tokens"`
	ProviderCost  float64 `json:"provider_cost"`
	CustomerPrice float64 `json:"customer_price"`
}

// BuildReport replays the usage event log for a timeframe. It never
// consults the aggregate, so a drifted cache cannot skew billing output.
// Days are inclusive, YYYY-MM-DD, empty means unbounded.
func (rec Recorder) BuildReport(ctx context.Context, projectID, fromDay, toDay string, includeEvents bool) (Report, error) {
	events, err := rec.Repo.ListUsageEvents(ctx, repo.UsageFilter{ProjectID: projectID, FromDay: fromDay, ToDay: toDay})
	if err != nil {
		return Report{}, err
	}
	rep := Report{
		ProjectID:  projectID,
		From:       fromDay,
		To:         toDay,
		ByAgent:    map[string]ReportLine{},
		ByProvider: map[string]ReportLine{},
		Daily:      map[string]ReportLine{},
	}
	addLine := func(bucket map[string]ReportLine, key string, ev domain.UsageEvent) {
		line := bucket[key]
		line.Calls++
		line.Tokens += ev.TotalTokens
		line.ProviderCost += ev.ProviderCost
		line.CustomerPrice += ev.CustomerPrice
		bucket[key] = line
	}
	for _, ev := range events {
		rep.Summary.TotalCalls++
		if !ev.Success {
			rep.Summary.FailedCalls++
			continue
		}
		rep.Summary.TotalTokens += ev.TotalTokens
		rep.Summary.ProviderCost += ev.ProviderCost
		rep.Summary.CustomerPrice += ev.CustomerPrice
		rep.Summary.Margin += ev.Margin
		addLine(rep.ByAgent, ev.Agent, ev)
		addLine(rep.ByProvider, ev.Provider, ev)
		addLine(rep.Daily, ev.Day, ev)
	}
	if includeEvents {
		rep.Events = events
	}
	return rep, nil
}

// ResolveTimeframe maps a named timeframe to an inclusive day range
// ending today. Accepts "today", "week", "month", "all" or an explicit
// "YYYY-MM-DD:YYYY-MM-DD" range.
func (rec Recorder) ResolveTimeframe(timeframe string) (from, to string, err error) {
	today := rec.now().UTC()
	switch timeframe {
	case "", "all":
		return "", "", nil
	case "today":
		d := today.Format("2006-01-02")
		return d, d, nil
	case "week":
		return today.AddDate(0, 0, -6).Format("2006-01-02"), today.Format("2006-01-02"), nil
	case "month":
		return today.AddDate(0, -1, 0).Format("2006-01-02"), today.Format("2006-01-02"), nil
	}
	if f, t, ok := strings.Cut(timeframe, ":"); ok {
		if _, err := time.Parse("2006-01-02", f); err != nil {
			return "", "", fmt.Errorf("invalid timeframe %q", timeframe)
		}
		if _, err := time.Parse("2006-01-02", t); err != nil {
			return "", "", fmt.Errorf("invalid timeframe %q", timeframe)
		}
		return f, t, nil
	}
	return "", "", fmt.Errorf("invalid timeframe %q (want today|week|month|all|YYYY-MM-DD:YYYY-MM-DD)", timeframe)
}
