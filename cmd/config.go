package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/lexistage/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "lexistage.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration",
				Action: runConfigShow,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("server.port       = %d\n", cfg.Server.Port)
	fmt.Printf("database.url      = %s\n", cfg.Database.URL)
	fmt.Printf("queue.enabled     = %t\n", cfg.Queue.Enabled)
	fmt.Printf("queue.max_workers = %d\n", cfg.Queue.MaxWorkers)
	fmt.Printf("log.level         = %s\n", cfg.Log.Level)
	fmt.Printf("log.pretty        = %t\n", cfg.Log.Pretty)
	return nil
}
