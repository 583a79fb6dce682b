package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/reviewpilot/internal/api"
	"github.com/reviewpilot/internal/config"
	"github.com/reviewpilot/internal/coordinator"
	"github.com/reviewpilot/internal/llm"
	"github.com/reviewpilot/internal/logging"
	"github.com/reviewpilot/internal/retry"
	"github.com/reviewpilot/internal/scm"
)

// ServeCommand returns the CLI command for starting the webhook server.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the webhook server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the webhook server (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("port") {
				cfg.Server.Port = c.Int("port")
			}

			coord, err := buildCoordinator(c.Context, cfg)
			if err != nil {
				return err
			}

			server := api.NewServer(cfg.Server.Port, coord, cfg.GitHub.BotLogin)
			return server.Start()
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
	return cfg, nil
}

// buildCoordinator assembles the analysis stack from configuration.
func buildCoordinator(ctx context.Context, cfg *config.Config) (*coordinator.Coordinator, error) {
	aiClient, err := llm.New(ctx, llm.Options{
		Provider:    cfg.AI.Provider,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		BaseURL:     cfg.AI.BaseURL,
		Temperature: cfg.AI.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis provider: %w", err)
	}

	resilient := llm.NewResilientClient(aiClient, retry.AnalysisConfig(), cfg.AITimeout())
	github := scm.NewGitHubClient(cfg.GitHub.BaseURL, cfg.GitHub.Token)

	return coordinator.New(github, resilient, coordinator.Options{
		MonitoredBranches: cfg.Review.MonitoredBranches,
		MaxConcurrent:     cfg.Review.MaxConcurrent,
		DebounceDelay:     cfg.DebounceDelay(),
		CeilingWait:       cfg.CeilingWait(),
		StaleEntryAge:     cfg.StaleEntryAge(),
		ResolveWindow:     cfg.Review.ResolveWindow,
	}), nil
}
