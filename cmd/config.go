package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/reviewchain/internal/config"
	"github.com/reviewchain/internal/database"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Write, check and inspect the scheduler configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a sample reviewchain.toml with default chain timing",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Where to write the sample configuration",
						Value:   "reviewchain.toml",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Replace an existing file",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Check chain timing, queue, auth and database settings",
				Action: runConfigValidate,
			},
			{
				Name:   "show",
				Usage:  "Print the effective chain timing and queue settings",
				Action: runConfigShow,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if c.Bool("force") {
		if err := os.Remove(outputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to replace %s: %w", outputPath, err)
		}
	}
	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := chainConfig(cfg).Validate(); err != nil {
		return fmt.Errorf("invalid chain timing: %w", err)
	}
	if _, err := database.LoadDatabaseURL(cfg.Database.URL); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Fprintln(c.App.Writer, "Configuration is valid")
	return nil
}

func runConfigShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	timing := chainConfig(cfg)

	w := c.App.Writer
	fmt.Fprintf(w, "trigger offset:  %s after the activity ends\n", timing.TriggerOffset)
	fmt.Fprintf(w, "expiry window:   %s after the trigger\n", timing.ExpiryWindow)
	fmt.Fprintf(w, "reviews close:   %s after the activity ends\n", timing.TriggerOffset+timing.ExpiryWindow)
	fmt.Fprintf(w, "job attempts:    %d (retry %s to %s)\n",
		cfg.Queue.MaxAttempts, cfg.Queue.Retry.BaseDelay, cfg.Queue.Retry.MaxDelay)
	fmt.Fprintf(w, "sweep interval:  %s\n", cfg.Queue.SweepInterval.Round(time.Second))
	if cfg.RateLimit.RPS > 0 {
		fmt.Fprintf(w, "rate limit:      %g req/s per client, burst %d\n", cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	} else {
		fmt.Fprintln(w, "rate limit:      disabled")
	}
	if cfg.Auth.JWTSecret != "" {
		fmt.Fprintln(w, "reviewer tokens: required on POST /reviews")
	} else {
		fmt.Fprintln(w, "reviewer tokens: off, reviewerId read from the body")
	}
	return nil
}
