package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/dragonden/internal"
	pkgconfig "github.com/starford/dragonden/pkg/config"
)

func loadConfig(cmd *cli.Command) ([]internal.Option, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return []internal.Option{internal.WithConfig(cfg)}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func tree(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: %s tree <id>", cmd.Root().Name)
	}
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, err := internal.Tree(cmd.Args().First(), int(cmd.Int("depth")), opts...)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func check(_ context.Context, cmd *cli.Command) error {
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	n, err := internal.Check(opts...)
	if err != nil {
		return err
	}
	fmt.Printf("lair ok: %d records\n", n)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "dragonden",
		Usage:  "Research record keeping: notebooks, projects and measurement data in plain text files",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the REST API and event stream",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdin/stdout",
				Action: serveMCP,
			},
			{
				Name:      "tree",
				Usage:     "Print the records below an entity",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "depth", Aliases: []string{"d"}, Value: 5, Usage: "Levels and children per level"},
				},
				Action: tree,
			},
			{
				Name:   "check",
				Usage:  "Load the lair and report problems",
				Action: check,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
