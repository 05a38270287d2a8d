package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/kilnd/internal"
	pkgconfig "github.com/starford/kilnd/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := os.Stat(configPath); err != nil {
		if errors.Is(err, os.ErrNotExist) && !cmd.IsSet("config") {
			// No config file: run on defaults.
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("config file: %w", err)
	}
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("daemon run error: %w", err)
	}
	return nil
}

func indexOnce(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: kilnd index <kiln-path>")
	}
	return internal.RunIndex(ctx, cfg, path)
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("KILND_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:  "kilnd",
		Usage: "Indexing daemon for Markdown knowledge bases: block-level incremental indexing, full-text and semantic search",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the daemon (control socket, watchers, admin HTTP)",
				Action: serve,
				Flags:  []cli.Flag{configFlag},
			},
			{
				Name:      "index",
				Usage:     "Index one kiln and exit",
				ArgsUsage: "<kiln-path>",
				Action:    indexOnce,
				Flags:     []cli.Flag{configFlag},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
