package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/esnunes/prospector/internal/config"
	"github.com/esnunes/prospector/internal/db"
	"github.com/esnunes/prospector/internal/logging"
	"github.com/esnunes/prospector/internal/paths"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "prospector",
		Short:         "Company research boards answered by a language model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "prospector.yaml", "Path to the YAML config file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newImportCmd(opts))
	return cmd
}

// setup loads the config and builds the logger shared by local commands.
func (o *rootOptions) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func openQueries(cfg *config.Config) (*db.Queries, func() error, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		p, err := paths.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
		dbPath = p
	}
	if err := db.EnsureDir(dbPath); err != nil {
		return nil, nil, err
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return db.NewQueries(database), database.Close, nil
}
