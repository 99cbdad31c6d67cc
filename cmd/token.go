package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/reviewchain/internal/api/auth"
)

// TokenCommand issues reviewer tokens for the review endpoint
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a reviewer token signed with auth.jwt_secret",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "reviewer",
				Aliases:  []string{"r"},
				Usage:    "Reviewer (participant) id to put in the token subject",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 7 * 24 * time.Hour,
			},
		},
		Action: runToken,
	}
}

func runToken(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	ts := auth.NewTokenService(cfg.Auth.JWTSecret)
	ts.TokenDuration = c.Duration("ttl")
	token, expiresAt, err := ts.IssueReviewerToken(c.String("reviewer"))
	if err != nil {
		return err
	}

	fmt.Println(token)
	fmt.Fprintf(c.App.ErrWriter, "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
