package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/reviewpilot/internal/coordinator"
)

// ReviewCommand returns the CLI command for reviewing a single pull request
// without running the server.
func ReviewCommand() *cli.Command {
	return &cli.Command{
		Name:      "review",
		Usage:     "Run one analysis pass on a pull request",
		ArgsUsage: "OWNER/REPO NUMBER",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("expected OWNER/REPO and a pull request number")
			}
			owner, repo, ok := strings.Cut(c.Args().Get(0), "/")
			if !ok || owner == "" || repo == "" {
				return fmt.Errorf("repository must be in OWNER/REPO form, got %q", c.Args().Get(0))
			}
			number, err := strconv.Atoi(c.Args().Get(1))
			if err != nil || number <= 0 {
				return fmt.Errorf("invalid pull request number %q", c.Args().Get(1))
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			coord, err := buildCoordinator(c.Context, cfg)
			if err != nil {
				return err
			}
			defer coord.Close(5 * time.Second)

			fmt.Printf("Reviewing %s/%s#%d...\n", owner, repo, number)
			err = coord.ReviewNow(c.Context, owner, repo, number)
			switch {
			case errors.Is(err, coordinator.ErrNoChanges):
				fmt.Println("Nothing to review: the pull request has no changed files")
				return nil
			case err != nil:
				return fmt.Errorf("review failed: %w", err)
			}
			fmt.Println("Review posted")
			return nil
		},
	}
}
