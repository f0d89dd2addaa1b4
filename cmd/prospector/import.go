package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/esnunes/prospector/internal/csvimport"
)

func newImportCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load companies or tiles from CSV files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "companies <file.csv>",
		Short: "Import companies; the header must name a company column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			companies, err := csvimport.Companies(f)
			if err != nil {
				return err
			}

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

			for _, c := range companies {
				if _, err := queries.CreateCompany(cmd.Context(), c); err != nil {
					return fmt.Errorf("importing %q: %w", c.Name, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d companies\n", len(companies))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "tiles <board-id> <file.csv>",
		Short: "Append tiles to a board from title,prompt[,ex_answer] rows",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			tiles, err := csvimport.Tiles(f)
			if err != nil {
				return err
			}

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

			if _, err := queries.GetBoard(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("board %s: %w", args[0], err)
			}
			created, err := queries.CreateTiles(cmd.Context(), args[0], tiles)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d tiles\n", len(created))
			return nil
		},
	})
	return cmd
}
