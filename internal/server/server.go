// Package server exposes the AgentWorks HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"agentworks/internal/app"
	"agentworks/internal/config"
	"agentworks/internal/domain"
	"agentworks/internal/lanes"
	"agentworks/internal/meter"
	"agentworks/internal/onboarding"
	"agentworks/internal/repo"
	"agentworks/internal/router"
)

// Config for the HTTP API handler.
type Config struct {
	Services *app.Services
	Project  *config.Config
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"card abc not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the AgentWorks API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	mux := chi.NewRouter()
	mux.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Services.Repo))
	hcfg := huma.DefaultConfig("AgentWorks API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(mux, hcfg)
	group := huma.NewGroup(api, basePath)

	registerSwagger(mux, basePath)
	registerHealth(group)
	registerProviders(group, cfg.Services)
	registerProjects(group, cfg.Services)
	registerProjectDocs(group, cfg.Services)
	registerAgents(group, cfg.Services)
	registerCards(group, cfg.Services)
	registerRoute(group, cfg.Services)
	registerUsage(group, cfg.Services)
	registerRuns(group, cfg.Services)
	registerEvents(group, cfg.Services)
	registerOpenAPI(mux, api, basePath)

	startWebhookDispatcher(cfg.Services, cfg.Project)

	return mux, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var pnf router.ProjectNotFoundError
	var anf router.AgentConfigNotFoundError
	var ile lanes.InvalidLaneError
	switch {
	case errors.As(err, &pnf), errors.As(err, &anf), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &ile):
		return newAPIError(http.StatusBadRequest, "invalid_lane", err.Error(), map[string]any{"lane": ile.Lane})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "inactive"):
		return newAPIError(http.StatusConflict, "agent_inactive", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerSwagger(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>AgentWorks API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProviders(api huma.API, svc *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "list-providers",
		Method:      http.MethodGet,
		Path:        "/providers",
		Summary:     "List LLM providers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProviderResponse `json:"body"`
	}, error) {
		providers := svc.Catalog.List()
		res := make([]ProviderResponse, 0, len(providers))
		for _, p := range providers {
			res = append(res, providerResponse(p))
		}
		return &struct {
			Body []ProviderResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerProjects(api huma.API, svc *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p := domain.Project{
			ID:        input.Body.ID,
			Name:      input.Body.Name,
			Status:    "active",
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := svc.Repo.InsertProject(ctx, p); err != nil {
			return nil, handleError(err)
		}
		if err := svc.Repo.UpsertProjectConfig(ctx, p.ID, config.Default(p.ID)); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := svc.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := svc.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerProjectDocs(api huma.API, svc *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "set-project-doc",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/docs/{kind}",
		Summary:     "Set a project context document",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Kind      string        `path:"kind" enum:"blueprint,prd,mvp,architecture"`
		Body      SetDocRequest `json:"body"`
	}) (*struct {
		Body domain.Doc `json:"body"`
	}, error) {
		if _, err := svc.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		d := domain.Doc{
			ProjectID: input.ProjectID,
			Kind:      input.Kind,
			Content:   input.Body.Content,
			UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := svc.Repo.UpsertDoc(ctx, d); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Doc `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-docs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/docs",
		Summary:     "List project context documents",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.Doc `json:"body"`
	}, error) {
		docs, err := svc.Repo.ListDocs(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Doc `json:"body"`
		}{Body: docs}, nil
	})
}

func registerAgents(api huma.API, svc *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-agent",
		Method:      http.MethodPost,
		Path:        "/agents/validate",
		Summary:     "Validate an agent onboarding document",
	}, func(ctx context.Context, input *struct {
		Body onboarding.Config `json:"body"`
	}) (*struct {
		Body onboarding.Result `json:"body"`
	}, error) {
		return &struct {
			Body onboarding.Result `json:"body"`
		}{Body: svc.Validator.Validate(input.Body)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "register-agent",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/agents/{name}",
		Summary:     "Register or update an agent",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Name      string               `path:"name"`
		Body      RegisterAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if _, err := svc.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		doc := input.Body.Onboarding
		if doc.Identity.Name == "" {
			doc.Identity.Name = input.Name
		}
		if doc.Identity.Name != input.Name {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "onboarding identity.name does not match path", nil)
		}
		result := svc.Validator.Validate(doc)
		if !result.Valid {
			return nil, newAPIError(http.StatusUnprocessableEntity, "onboarding_invalid", "onboarding document failed validation",
				map[string]any{"errors": result.Errors, "warnings": result.Warnings})
		}
		a, err := storeAgent(ctx, svc, input.ProjectID, doc)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []AgentResponse `json:"body"`
	}, error) {
		items, err := svc.Repo.ListAgentConfigs(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AgentResponse, 0, len(items))
		for _, a := range items {
			res = append(res, agentResponse(a))
		}
		return &struct {
			Body []AgentResponse `json:"body"`
		}{Body: res}, nil
	})
}

// storeAgent persists the runtime AgentConfig derived from a validated
// onboarding document, keeping the raw document alongside it.
func storeAgent(ctx context.Context, svc *app.Services, projectID string, doc onboarding.Config) (domain.AgentConfig, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.AgentConfig{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	a := domain.AgentConfig{
		ProjectID:   projectID,
		Name:        doc.Identity.Name,
		Provider:    doc.LLM.Provider,
		Model:       doc.LLM.Model,
		Temperature: doc.LLM.Temperature,
		MaxTokens:   doc.LLM.MaxTokens,
		Lanes:       doc.Lanes,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, err := svc.Repo.GetAgentConfig(ctx, projectID, a.Name); err == nil {
		a.CreatedAt = existing.CreatedAt
	}
	if err := svc.Repo.UpsertAgentConfig(ctx, a, string(raw)); err != nil {
		return domain.AgentConfig{}, err
	}
	return a, nil
}

func registerCards(api huma.API, svc *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-card",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/cards",
		Summary:       "Create card",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateCardRequest `json:"body"`
	}) (*struct {
		Body domain.Card `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := svc.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		card, err := svc.Automator.CreateCard(ctx, lanes.CardCreateOptions{
			ProjectID:   input.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Type:        input.Body.Type,
			Lane:        input.Body.Lane,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Card `json:"body"`
		}{Body: card}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cards",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/cards",
		Summary:     "List cards",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Lane      string `query:"lane"`
		Status    string `query:"status"`
		Type      string `query:"type"`
	}) (*struct {
		Body []domain.Card `json:"body"`
	}, error) {
		// huma rejects pointer query params, so lane arrives as a
		// string and absence means no filter
		var lane *int
		if input.Lane != "" {
			n, err := strconv.Atoi(input.Lane)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "lane must be an integer", nil)
			}
			lane = &n
		}
		cards, err := svc.Repo.ListCards(ctx, repo.CardFilter{
			ProjectID: input.ProjectID,
			Lane:      lane,
			Status:    input.Status,
			Type:      input.Type,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Card `json:"body"`
		}{Body: cards}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-card",
		Method:      http.MethodGet,
		Path:        "/cards/{card_id}",
		Summary:     "Get card",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CardID string `path:"card_id"`
	}) (*struct {
		Body domain.Card `json:"body"`
	}, error) {
		card, err := svc.Repo.GetCard(ctx, input.CardID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Card `json:"body"`
		}{Body: card}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-card",
		Method:      http.MethodPost,
		Path:        "/cards/{card_id}/move",
		Summary:     "Move card to a lane",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CardID string          `path:"card_id"`
		Body   MoveCardRequest `json:"body"`
	}) (*struct {
		Body domain.Card `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		card, err := svc.Automator.MoveCard(ctx, input.CardID, input.Body.Lane, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Card `json:"body"`
		}{Body: card}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-card-status",
		Method:      http.MethodPost,
		Path:        "/cards/{card_id}/status",
		Summary:     "Update card status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CardID string            `path:"card_id"`
		Body   CardStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Card `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		card, err := svc.Automator.UpdateCardStatus(ctx, input.CardID, input.Body.Status, input.Body.Metadata, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Card `json:"body"`
		}{Body: card}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-agent-on-card",
		Method:      http.MethodPost,
		Path:        "/cards/{card_id}/run",
		Summary:     "Run an agent against a card",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CardID string          `path:"card_id"`
		Body   RunAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Card `json:"body"`
	}, error) {
		if input.Body.Agent == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "agent is required", nil)
		}
		card, err := svc.Repo.GetCard(ctx, input.CardID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := svc.Automator.RunAgent(ctx, card.ProjectID, card.ID, input.Body.Agent, input.Body.Prompt, false); err != nil {
			return nil, handleError(err)
		}
		card, err = svc.Repo.GetCard(ctx, input.CardID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Card `json:"body"`
		}{Body: card}, nil
	})
}

func registerRoute(api huma.API, svc *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "route-request",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/route",
		Summary:     "Route a prompt to an agent's configured provider",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      RouteRequestBody `json:"body"`
	}) (*struct {
		Body router.RouteResult `json:"body"`
	}, error) {
		if input.Body.Agent == "" || input.Body.Prompt == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "agent and prompt are required", nil)
		}
		res, err := svc.Router.RouteRequest(ctx, input.ProjectID, input.Body.Agent, input.Body.Prompt, input.Body.CardID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body router.RouteResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerUsage(api huma.API, svc *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "usage-report",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/usage/report",
		Summary:     "Billing report for a timeframe",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Timeframe string `query:"timeframe" example:"week"`
		Events    bool   `query:"events"`
	}) (*struct {
		Body meter.Report `json:"body"`
	}, error) {
		if _, err := svc.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		from, to, err := svc.Meter.ResolveTimeframe(input.Timeframe)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		rep, err := svc.Meter.BuildReport(ctx, input.ProjectID, from, to, input.Events)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body meter.Report `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "usage-aggregate",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/usage",
		Summary:     "Running usage totals",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.UsageAggregate `json:"body"`
	}, error) {
		agg, err := svc.Repo.GetUsageAggregate(ctx, input.ProjectID)
		if errors.Is(err, repo.ErrNotFound) {
			agg = domain.UsageAggregate{
				ProjectID:  input.ProjectID,
				ByAgent:    map[string]domain.UsageBucket{},
				ByProvider: map[string]domain.UsageBucket{},
			}
		} else if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UsageAggregate `json:"body"`
		}{Body: agg}, nil
	})
}

func registerRuns(api huma.API, svc *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/runs",
		Summary:     "List run sessions",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		CardID    string `query:"card_id"`
		Agent     string `query:"agent"`
		Status    string `query:"status"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []domain.RunSession `json:"body"`
	}, error) {
		items, err := svc.Repo.ListRunSessions(ctx, repo.SessionFilter{
			ProjectID: input.ProjectID,
			CardID:    input.CardID,
			Agent:     input.Agent,
			Status:    input.Status,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.RunSession `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{session_id}",
		Summary:     "Get run session with its log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body domain.RunSession `json:"body"`
	}, error) {
		s, err := svc.Sessions.Get(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RunSession `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-run",
		Method:      http.MethodGet,
		Path:        "/runs/{session_id}/export",
		Summary:     "Export run session log",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Format    string `query:"format"`
	}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		out, err := svc.Sessions.Export(ctx, input.SessionID, input.Format)
		if err != nil {
			return nil, handleError(err)
		}
		contentType := "application/json"
		if input.Format == "txt" {
			contentType = "text/plain"
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: contentType, Body: []byte(out)}, nil
	})
}

func registerEvents(api huma.API, svc *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		items, err := svc.Repo.LatestEvents(ctx, limit, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
