package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/scriptorium/internal"
	pkgconfig "github.com/starford/scriptorium/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if projects := cmd.StringSlice("project"); len(projects) > 0 {
		cfg.Library.Projects = append(cfg.Library.Projects, projects...)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
}

func printTree(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.PrintTree(ctx, cmd.String("sort"), internal.WithConfig(cfg), internal.WithOutput(os.Stdout))
}

func main() {
	cmd := &cli.Command{
		Name:    "scriptorium",
		Usage:   "Markdown library service: browse, sort and manage folders of notes",
		Version: version,
		Action:  run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringSliceFlag{
				Name:    "project",
				Aliases: []string{"p"},
				Usage:   "Open a folder as a project (repeatable)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "mcp",
				Usage:  "Serve the library over MCP on stdin/stdout",
				Action: runMCP,
			},
			{
				Name:   "tree",
				Usage:  "Crawl every project once and print the sorted tree",
				Action: printTree,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "sort",
						Usage: "alphanumeric_asc, alphanumeric_desc, modified_asc or modified_desc",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
