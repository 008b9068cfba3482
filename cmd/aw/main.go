package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"agentworks/internal/app"
	"agentworks/internal/config"
	"agentworks/internal/db"
	"agentworks/internal/domain"
	"agentworks/internal/lanes"
	"agentworks/internal/migrate"
	"agentworks/internal/onboarding"
	"agentworks/internal/repo"
	"agentworks/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "aw",
	Short: "AgentWorks CLI",
	Long: `AgentWorks runs a team of LLM agents over a card pipeline.
Core concepts:
- Workspace: your .agentworks directory holding the database; project config lives in the DB.
- Providers: the LLM catalog (openai, anthropic, google) with models, limits, and per-token cost.
- Agents: onboarded workers with a validated config (identity, role, llm params, lanes, guardrails).
- Cards: work items flowing through eleven lanes from Vision (0) to Done (10); lane completion
  criteria move them forward automatically once the required artifacts exist.
- Routing: 'aw route' sends a prompt through an agent's provider and meters every billable attempt.
- Usage: the event log is the billing truth; 'aw report' replays it for any timeframe.
- Sessions: every agent run is recorded; inspect or export with 'aw session'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AGENTWORKS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides the single-project default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(lanesCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(cardCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(docsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p := domain.Project{
					ID:        id,
					Name:      name,
					Status:    "active",
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertProject(ctx, p); err != nil {
					return err
				}
				if err := r.UpsertProjectConfig(ctx, id, config.Default(id)); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				p, err := svc.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List LLM providers and their models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				providers := svc.Catalog.List()
				if viper.GetBool("json") {
					return printJSON(providers)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Models", "$/1K in", "$/1K out", "RPM", "Enabled"})
				for _, p := range providers {
					tw.AppendRow(table.Row{
						p.ID, p.Name, strings.Join(p.Models, ", "),
						p.CostPer1K.Input, p.CostPer1K.Output, p.RequestsPerMinute, p.Enabled,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func lanesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lanes",
		Short: "Show the card pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline := lanes.All()
			if viper.GetBool("json") {
				return printJSON(pipeline)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Lane", "Name", "Agents", "Auto-trigger", "Completion criteria"})
			for _, l := range pipeline {
				tw.AppendRow(table.Row{
					l.ID, l.Name,
					strings.Join(l.Agents, ", "),
					strings.Join(l.AutoTrigger, ", "),
					strings.Join(l.Criteria, " AND "),
				})
			}
			tw.Render()
			return nil
		},
	}
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
		Long:  "Agents are onboarded from a YAML document. Registration validates the full document first and reports every defect in one pass.",
	}
	agent.AddCommand(agentValidateCmd())
	agent.AddCommand(agentRegisterCmd())
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentShowCmd())
	agent.AddCommand(agentSetActiveCmd("enable", true))
	agent.AddCommand(agentSetActiveCmd("disable", false))
	return agent
}

func loadOnboarding(path string) (onboarding.Config, error) {
	var doc onboarding.Config
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse onboarding YAML: %w", err)
	}
	return doc, nil
}

func printValidation(result onboarding.Result) error {
	if viper.GetBool("json") {
		return printJSON(result)
	}
	for _, issue := range result.Errors {
		fmt.Printf("ERROR   %s [%s] %s\n", issue.Field, issue.Code, issue.Message)
	}
	for _, issue := range result.Warnings {
		fmt.Printf("WARNING %s [%s] %s\n", issue.Field, issue.Code, issue.Message)
	}
	if result.Valid {
		fmt.Println("onboarding OK")
	}
	return nil
}

func agentValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an onboarding document without registering",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadOnboarding(file)
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				result := svc.Validator.Validate(doc)
				if err := printValidation(result); err != nil {
					return err
				}
				if !result.Valid {
					return fmt.Errorf("onboarding document has %d error(s)", len(result.Errors))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to onboarding YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func agentRegisterCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Validate and register an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadOnboarding(file)
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				result := svc.Validator.Validate(doc)
				if !result.Valid {
					if err := printValidation(result); err != nil {
						return err
					}
					return fmt.Errorf("onboarding document has %d error(s); agent not registered", len(result.Errors))
				}
				raw, err := json.Marshal(doc)
				if err != nil {
					return err
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
					return err
				}
				if len(result.Warnings) > 0 && !viper.GetBool("json") {
					for _, issue := range result.Warnings {
						fmt.Printf("WARNING %s [%s] %s\n", issue.Field, issue.Code, issue.Message)
					}
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to onboarding YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func agentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				agents, err := svc.Repo.ListAgentConfigs(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Provider", "Model", "Lanes", "Active"})
				for _, a := range agents {
					tw.AppendRow(table.Row{a.Name, a.Provider, a.Model, joinInts(a.Lanes), a.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func agentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show an agent's onboarding document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				raw, err := svc.Repo.GetAgentOnboarding(ctx, projectID, name)
				if err != nil {
					return err
				}
				fmt.Println(raw)
				return nil
			})
		},
	}
	return cmd
}

func agentSetActiveCmd(use string, active bool) *cobra.Command {
	short := "Deactivate an agent"
	if active {
		short = "Reactivate an agent"
	}
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if err := svc.Repo.SetAgentActive(ctx, projectID, name, active, now); err != nil {
					return err
				}
				a, err := svc.Repo.GetAgentConfig(ctx, projectID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func cardCmd() *cobra.Command {
	card := &cobra.Command{
		Use:   "card",
		Short: "Manage cards",
		Long:  "Cards flow through the eleven-lane pipeline. Moving a card into a lane fires that lane's auto-trigger agents; completing a card advances it when every lane criterion is satisfied.",
	}
	card.AddCommand(cardCreateCmd())
	card.AddCommand(cardListCmd())
	card.AddCommand(cardGetCmd())
	card.AddCommand(cardMoveCmd())
	card.AddCommand(cardStatusCmd())
	card.AddCommand(cardRunCmd())
	card.AddCommand(cardTriggerCmd())
	return card
}

func cardCreateCmd() *cobra.Command {
	var title, description, cardType string
	var lane int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a card",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				card, err := svc.Automator.CreateCard(ctx, lanes.CardCreateOptions{
					ProjectID:   projectID,
					Title:       title,
					Description: description,
					Type:        cardType,
					Lane:        lane,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(card)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "card title")
	cmd.Flags().StringVar(&description, "description", "", "card description")
	cmd.Flags().StringVar(&cardType, "type", "feature", "card type (feature, bug, chore, spike)")
	cmd.Flags().IntVar(&lane, "lane", 0, "starting lane")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func cardListCmd() *cobra.Command {
	var lane int
	var status, cardType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cards",
		RunE: func(cmd *cobra.Command, args []string) error {
			var lanePtr *int
			if cmd.Flags().Changed("lane") {
				lanePtr = &lane
			}
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				cards, err := svc.Repo.ListCards(ctx, repo.CardFilter{
					ProjectID: projectID,
					Lane:      lanePtr,
					Status:    status,
					Type:      cardType,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cards)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Lane", "Status", "Type"})
				for _, c := range cards {
					tw.AppendRow(table.Row{c.ID, c.Title, fmt.Sprintf("%d %s", c.Lane, lanes.Get(c.Lane).Name), c.Status, c.Type})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&lane, "lane", 0, "lane filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&cardType, "type", "", "type filter")
	return cmd
}

func cardGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				card, err := svc.Repo.GetCard(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(card)
			})
		},
	}
}

func cardMoveCmd() *cobra.Command {
	var lane int
	var reason string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move card to a lane",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				card, err := svc.Automator.MoveCard(ctx, id, lane, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(card)
			})
		},
	}
	cmd.Flags().IntVar(&lane, "lane", 0, "target lane")
	cmd.Flags().StringVar(&reason, "reason", "", "move reason")
	_ = cmd.MarkFlagRequired("lane")
	return cmd
}

func cardStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Update card status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				card, err := svc.Automator.UpdateCardStatus(ctx, id, status, nil, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(card)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func cardRunCmd() *cobra.Command {
	var agent, prompt string
	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Run an agent against a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				if err := svc.Automator.RunAgent(ctx, projectID, id, agent, prompt, false); err != nil {
					return err
				}
				card, err := svc.Repo.GetCard(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(card)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent name")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt (default is synthesized from the card and project docs)")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func cardTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <id>",
		Short: "Re-run auto-trigger agents for the card's current lane",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				card, err := svc.Repo.GetCard(ctx, id)
				if err != nil {
					return err
				}
				svc.Automator.CheckAutoTriggers(ctx, card.ProjectID, card.ID, card.Lane)
				card, err = svc.Repo.GetCard(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(card)
			})
		},
	}
}

func routeCmd() *cobra.Command {
	var cardID string
	cmd := &cobra.Command{
		Use:   "route <agent> <prompt...>",
		Short: "Route a prompt through an agent's provider",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent := args[0]
			prompt := strings.Join(args[1:], " ")
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				var cardRef *string
				if cardID != "" {
					cardRef = &cardID
				}
				res, err := svc.Router.RouteRequest(ctx, projectID, agent, prompt, cardRef)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if !res.Success {
					return fmt.Errorf("request %s failed: %s", res.RequestID, res.Err)
				}
				fmt.Println(res.Content)
				fmt.Printf("\n[%s] %d tokens, provider cost $%.4f, price $%.2f\n",
					res.RequestID, res.Usage.TotalTokens, res.Cost.ProviderCost, res.Cost.CustomerPrice)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cardID, "card", "", "card id to associate with the request")
	return cmd
}

func reportCmd() *cobra.Command {
	var includeEvents bool
	cmd := &cobra.Command{
		Use:   "report [timeframe]",
		Short: "Billing report (today, week, month, all, or YYYY-MM-DD:YYYY-MM-DD)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeframe := "month"
			if len(args) == 1 {
				timeframe = args[0]
			}
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				from, to, err := svc.Meter.ResolveTimeframe(timeframe)
				if err != nil {
					return err
				}
				rep, err := svc.Meter.BuildReport(ctx, projectID, from, to, includeEvents)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("Project %s (%s)\n", projectID, timeframe)
				fmt.Printf("Calls: %d (%d failed)  Tokens: %d\n",
					rep.Summary.TotalCalls, rep.Summary.FailedCalls, rep.Summary.TotalTokens)
				fmt.Printf("Provider cost: $%.4f  Customer price: $%.2f  Margin: $%.4f\n",
					rep.Summary.ProviderCost, rep.Summary.CustomerPrice, rep.Summary.Margin)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Agent", "Calls", "Tokens", "Cost", "Price"})
				for agent, line := range rep.ByAgent {
					tw.AppendRow(table.Row{agent, line.Calls, line.Tokens,
						fmt.Sprintf("$%.4f", line.ProviderCost), fmt.Sprintf("$%.2f", line.CustomerPrice)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeEvents, "events", false, "include raw usage events")
	return cmd
}

func sessionCmd() *cobra.Command {
	sess := &cobra.Command{
		Use:   "session",
		Short: "Inspect recorded agent run sessions",
	}
	sess.AddCommand(sessionListCmd())
	sess.AddCommand(sessionShowCmd())
	sess.AddCommand(sessionExportCmd())
	return sess
}

func sessionListCmd() *cobra.Command {
	var cardID, agent, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List run sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				items, err := svc.Repo.ListRunSessions(ctx, repo.SessionFilter{
					ProjectID: projectID,
					CardID:    cardID,
					Agent:     agent,
					Status:    status,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Type", "Status", "Started", "Summary"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Agent, s.RunType, s.Status, s.StartedAt, s.Summary})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cardID, "card", "", "card filter")
	cmd.Flags().StringVar(&agent, "agent", "", "agent filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter (running, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max sessions")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session with its full log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				out, err := svc.Sessions.Export(ctx, id, "txt")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					s, err := svc.Sessions.Get(ctx, id)
					if err != nil {
						return err
					}
					return printJSON(s)
				}
				fmt.Print(out)
				return nil
			})
		},
	}
}

func sessionExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a session log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				out, err := svc.Sessions.Export(ctx, id, format)
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "export format (json, txt)")
	return cmd
}

func docsCmd() *cobra.Command {
	docs := &cobra.Command{
		Use:   "docs",
		Short: "Manage project context documents",
		Long:  "Context documents (blueprint, prd, mvp, architecture) are folded into synthesized agent prompts.",
	}
	docs.AddCommand(docsSetCmd())
	docs.AddCommand(docsShowCmd())
	docs.AddCommand(docsListCmd())
	return docs
}

func docsSetCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set <kind>",
		Short: "Set a context document from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				d := domain.Doc{
					ProjectID: projectID,
					Kind:      kind,
					Content:   string(data),
					UpdatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := svc.Repo.UpsertDoc(ctx, d); err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to document content")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func docsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <kind>",
		Short: "Show a context document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				d, err := svc.Repo.GetDoc(ctx, projectID, kind)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Print(d.Content)
				return nil
			})
		},
	}
}

func docsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List context documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				docs, err := svc.Repo.ListDocs(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "Bytes", "Updated"})
				for _, d := range docs {
					tw.AppendRow(table.Row{d.Kind, len(d.Content), d.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect project config",
		Long:  "Config holds pricing, provider overrides, and webhook endpoints. It is stored in the DB; import from agentworks.yml explicitly.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored project config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				cfg, err := svc.Repo.GetProjectConfig(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				if cfg.Project.ID == "" {
					cfg.Project.ID = projectID
				}
				if err := svc.Repo.UpsertProjectConfig(ctx, cfg.Project.ID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default agentworks.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "my-project", "project id for the template")
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, projectID string, svc *app.Services) error {
				events, err := svc.Repo.LatestEvents(ctx, n, projectID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := "awk_" + uuid.NewString()
				k := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": k.ID, "key": raw, "actor_id": k.ActorID})
				}
				fmt.Printf("API key %s created for %s.\nKey (shown once): %s\n", k.ID, k.ActorID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), viper.GetString("project"), r)
			if err != nil {
				return err
			}
			svc := app.New(conn, cfg, nil)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("AGENTWORKS_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("AGENTWORKS_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
			}
			handler, err := server.New(server.Config{
				Services: svc,
				Project:  cfg,
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving AgentWorks API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id (dev only)")
	return cmd
}

// --- helpers ---

func withServices(ctx context.Context, fn func(context.Context, string, *app.Services) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	projectID, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("project"), r)
	if err != nil {
		return err
	}
	svc := app.New(conn, cfg, nil)
	return fn(ctx, projectID, svc)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
