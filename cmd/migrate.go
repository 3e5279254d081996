package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/lexistage/internal/config"
	"github.com/lexistage/internal/database"
	"github.com/lexistage/internal/database/migrations"
)

// MigrateCommand returns the CLI command for applying database migrations
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			db, err := database.NewDB(cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			if err := migrations.MigrateUp(db); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("Database schema is up to date")
			return nil
		},
	}
}
