package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/reviewchain/internal/database"
	"github.com/reviewchain/internal/jobqueue"
)

// MigrateCommand applies the application and River schemas
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply database migrations",
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dbURL, err := database.LoadDatabaseURL(cfg.Database.URL)
	if err != nil {
		return err
	}

	db, err := database.NewDB(dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := database.Migrate(c.Context, db)
	if err != nil {
		return err
	}
	log.Info().Strs("applied", applied).Msg("Application schema up to date")

	pool, err := database.NewPool(c.Context, dbURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := jobqueue.Migrate(c.Context, pool); err != nil {
		return err
	}

	fmt.Println("Migrations applied")
	return nil
}
