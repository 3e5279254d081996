package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/lexistage/internal/api"
	"github.com/lexistage/internal/changeset"
	"github.com/lexistage/internal/comments"
	"github.com/lexistage/internal/config"
	"github.com/lexistage/internal/database"
	"github.com/lexistage/internal/database/migrations"
	"github.com/lexistage/internal/entities"
	"github.com/lexistage/internal/jobqueue"
	"github.com/lexistage/internal/logger"
)

// ServeCommand returns the CLI command for starting the API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the lexistage API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Pretty)

	port := cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	entityStore := entities.NewSQLStore()
	store := changeset.NewStore(db, entityStore)
	commentStore := comments.NewStore(db)

	var queue *jobqueue.JobQueue
	if cfg.Queue.Enabled {
		queue, err = jobqueue.NewJobQueue(cfg.Database.URL, store, cfg.Queue.MaxWorkers)
		if err != nil {
			return fmt.Errorf("failed to initialize job queue: %w", err)
		}
		ctx := context.Background()
		if err := queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer func() {
			if err := queue.Stop(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to stop job queue cleanly")
			}
		}()
		log.Info().Int("max_workers", cfg.Queue.MaxWorkers).Msg("Job queue started")
	}

	log.Info().Int("port", port).Msg("Starting lexistage API server")

	server := api.NewServer(port, store, commentStore, queue)
	return server.Start()
}
