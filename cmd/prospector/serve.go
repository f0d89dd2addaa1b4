package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/esnunes/prospector/internal/bulkparse"
	"github.com/esnunes/prospector/internal/contacts"
	"github.com/esnunes/prospector/internal/contextver"
	"github.com/esnunes/prospector/internal/generate"
	"github.com/esnunes/prospector/internal/llm"
	"github.com/esnunes/prospector/internal/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			queries, closeDB, err := openQueries(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			ctx := cmd.Context()
			if seed {
				if err := queries.Seed(ctx); err != nil {
					return fmt.Errorf("seeding database: %w", err)
				}
			}

			provider, err := llm.New(cfg.LLM)
			if err != nil {
				return err
			}
			engine := generate.NewEngine(provider, queries, log, generate.Options{
				Timeout:         cfg.GetGenerationTimeout(),
				MaxPromptTokens: cfg.Generation.MaxPromptTokens,
			})
			parser := bulkparse.NewParser(provider, cfg.LLM.GetParseModel(), log)

			suggester := contacts.NewSuggester(provider, cfg.LLM.GetParseModel(), log)

			srv := server.New(queries, engine, contextver.NewRegistry(), parser, suggester, log, server.Options{
				HistoryLimit: cfg.Generation.HistoryLimit,
			})
			if err := srv.Listen(cfg.Server.Addr); err != nil {
				return err
			}
			log.Info("listening", zap.String("addr", srv.Addr()), zap.String("provider", provider.Name()))
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "Insert sample data into an empty database")
	return cmd
}
