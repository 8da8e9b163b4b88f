package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/bootstrap"
	"salesops-backend/internal/jobs"
	"salesops-backend/internal/shared/config"
	"salesops-backend/internal/tools"
)

var (
	runEntityType string
	runEntityID   string
	runEntityName string
	runProfiles   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one analysis agent pass locally",
	Long: `Run the configured agent for one CRM record and stream its progress.

The model provider and tool backends are read from the environment
(LLM_PROVIDER, CRM_BASE_URL, SEARCH_API_URL, ...). Nothing is stored.

Examples:
  salesopsctl run --entity-type deal --entity-id 123 --entity-name "Acme renewal"`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().StringVar(&runEntityType, "entity-type", "", "entity type (contact, company, deal)")
	runCmd.Flags().StringVar(&runEntityID, "entity-id", "", "CRM record id")
	runCmd.Flags().StringVar(&runEntityName, "entity-name", "", "display name of the record")
	runCmd.Flags().StringVar(&runProfiles, "profiles", "", "agent profile YAML (defaults to AGENT_PROFILES_FILE)")
	_ = runCmd.MarkFlagRequired("entity-type")
	_ = runCmd.MarkFlagRequired("entity-id")
}

func runAgent(cmd *cobra.Command, args []string) error {
	entityType := jobs.EntityType(strings.ToLower(strings.TrimSpace(runEntityType)))
	if !entityType.Valid() {
		return fmt.Errorf("entity-type must be contact, company or deal")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg := config.Load()
	profilesFile := runProfiles
	if profilesFile == "" {
		profilesFile = cfg.AgentProfilesFile
	}

	agents, err := buildAgents(ctx, cfg, profilesFile)
	if err != nil {
		return err
	}
	plan, err := agents.For(entityType)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	input := map[string]any{
		"entityType": string(entityType),
		"entityId":   runEntityID,
		"entityName": runEntityName,
	}
	outcome := plan.Runner.Run(ctx, plan.Task, input, func(ev agent.ProgressEvent) {
		line := fmt.Sprintf("[%s] %s", ev.Type, ev.Detail)
		if ev.Tool != "" {
			line = fmt.Sprintf("[%s] %s: %s", ev.Type, ev.Tool, ev.Detail)
		}
		fmt.Fprintln(out, line)
	})

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		return err
	}
	if !outcome.Success {
		if outcome.Err != nil {
			return outcome.Err
		}
		return errors.New(outcome.Error)
	}
	return nil
}

func buildAgents(ctx context.Context, cfg config.Config, profilesFile string) (*bootstrap.Agents, error) {
	provider, err := bootstrap.NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	registry, err := tools.NewRegistry(ctx, tools.Config{
		CRMBaseURL:       cfg.CRMBaseURL,
		CRMClientID:      cfg.CRMClientID,
		CRMClientSecret:  cfg.CRMClientSecret,
		CRMTokenURL:      cfg.CRMTokenURL,
		SearchAPIURL:     cfg.SearchAPIURL,
		SearchAPIKey:     cfg.SearchAPIKey,
		KnowledgeBaseURL: cfg.KnowledgeBaseURL,
		FetchClient:      tools.NewPublicHTTPClient(0),
	})
	if err != nil {
		return nil, err
	}
	profiles, err := config.LoadProfiles(profilesFile)
	if err != nil {
		return nil, err
	}
	return bootstrap.NewAgents(provider, registry, profiles)
}
