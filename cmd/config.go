package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/reviewpilot/internal/config"
)

// ConfigCommand returns the command group for working with the
// reviewpilot.toml configuration file.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect or scaffold the configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a starter configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Where to write the file",
						Value:   "reviewpilot.toml",
					},
				},
				Action: func(c *cli.Context) error {
					path := c.String("output")
					if err := config.Init(path); err != nil {
						return fmt.Errorf("failed to initialize config: %w", err)
					}
					fmt.Printf("Wrote starter configuration to %s\n", path)
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Check that the effective configuration can run a review",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return fmt.Errorf("failed to load config: %w", err)
					}
					if err := config.Validate(cfg); err != nil {
						return fmt.Errorf("invalid configuration: %w", err)
					}
					fmt.Println("Configuration OK")
					return nil
				},
			},
		},
	}
}
