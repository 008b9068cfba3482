package app

import (
	"database/sql"
	"time"

	"agentworks/internal/catalog"
	"agentworks/internal/config"
	"agentworks/internal/events"
	"agentworks/internal/lanes"
	"agentworks/internal/llm"
	"agentworks/internal/meter"
	"agentworks/internal/onboarding"
	"agentworks/internal/repo"
	"agentworks/internal/router"
	"agentworks/internal/session"
)

// Services is the wired application core shared by the CLI and the
// HTTP server.
type Services struct {
	DB        *sql.DB
	Repo      repo.Repo
	Catalog   *catalog.Catalog
	Meter     meter.Recorder
	Router    router.Router
	Sessions  *session.Recorder
	Automator lanes.Automator
	Validator onboarding.Validator
	Events    events.Writer
}

// New wires the service graph for one project config. Pass a nil LLM
// client to use the real provider HTTP client.
func New(conn *sql.DB, cfg *config.Config, client llm.Client) *Services {
	if client == nil {
		client = &llm.HTTPClient{}
	}
	r := repo.Repo{DB: conn}
	cat := cfg.Catalog()
	pricing := meter.Pricing{Markup: cfg.Pricing.Markup, Increment: cfg.Pricing.Increment}
	if pricing.Markup == 0 {
		pricing = meter.DefaultPricing()
	}
	rec := meter.Recorder{DB: conn, Repo: r, Now: time.Now}
	sessions := &session.Recorder{Repo: r, Now: time.Now}
	ew := events.Writer{DB: conn, Now: time.Now}
	rt := router.Router{
		Repo:    r,
		Catalog: cat,
		Pricing: pricing,
		Meter:   rec,
		LLM:     client,
		Now:     time.Now,
	}
	return &Services{
		DB:       conn,
		Repo:     r,
		Catalog:  cat,
		Meter:    rec,
		Router:   rt,
		Sessions: sessions,
		Automator: lanes.Automator{
			DB:       conn,
			Repo:     r,
			Router:   rt,
			Sessions: sessions,
			Events:   ew,
			Now:      time.Now,
		},
		Validator: onboarding.Validator{Catalog: cat},
		Events:    ew,
	}
}
