package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/esnunes/prospector/internal/client"
	"github.com/esnunes/prospector/internal/config"
	"github.com/esnunes/prospector/internal/logging"
	"github.com/esnunes/prospector/internal/models"
	"github.com/esnunes/prospector/internal/tile"
)

type askOptions struct {
	serverURL string
	session   string
	boardID   string
	company   string
	tileID    string
	refine    string
	verbose   bool
}

func newAskCmd() *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer a board's tiles for a company through a running server",
		Long: `Selects a company and generates every tile on the board that is
stale for it, printing the answers once they settle. With --tile and
--refine, the tile is then regenerated with the refinement applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAsk(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.serverURL, "server", "http://127.0.0.1:8080", "Server base URL")
	f.StringVar(&opts.session, "session", "", "Session id for the server's context version")
	f.StringVar(&opts.boardID, "board", "", "Board id (default: the first board)")
	f.StringVar(&opts.company, "company", "", "Company id or name")
	f.StringVar(&opts.tileID, "tile", "", "Tile to refine")
	f.StringVar(&opts.refine, "refine", "", "Refinement instruction for --tile")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log stream activity")
	cmd.MarkFlagRequired("company")
	return cmd
}

func runAsk(cmd *cobra.Command, opts *askOptions) error {
	if opts.refine != "" && opts.tileID == "" {
		return errors.New("--refine needs --tile")
	}
	log := zap.NewNop()
	if opts.verbose {
		l, err := logging.New(config.LoggingConfig{Level: "debug", Format: "console"})
		if err != nil {
			return err
		}
		log = l
	}

	ctx := cmd.Context()
	c := client.New(opts.serverURL, nil)
	if opts.session != "" {
		c = c.WithSession(opts.session)
	}

	boardID := opts.boardID
	if boardID == "" {
		boards, err := c.ListBoards(ctx)
		if err != nil {
			return err
		}
		if len(boards) == 0 {
			return errors.New("server has no boards")
		}
		boardID = boards[0].ID
	}

	var (
		tiles     []models.Tile
		companies []models.Company
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tiles, err = c.Tiles().List(gctx, boardID)
		return err
	})
	g.Go(func() error {
		var err error
		companies, err = c.ListCompanies(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	company, ok := findCompany(companies, opts.company)
	if !ok {
		return fmt.Errorf("company %q not found", opts.company)
	}

	sess := client.NewSession(c, tile.NewBoard(tiles), log)
	defer sess.Close()
	v, _ := sess.SelectCompany(ctx, company)
	sess.Wait()

	if opts.tileID != "" {
		var refinement *string
		if opts.refine != "" {
			refinement = &opts.refine
		}
		if _, ok := sess.Generate(ctx, opts.tileID, refinement); !ok {
			return fmt.Errorf("tile %s cannot generate", opts.tileID)
		}
		sess.Wait()
	}

	printBoard(cmd.OutOrStdout(), sess.Board(), v)
	return nil
}

func findCompany(companies []models.Company, key string) (models.Company, bool) {
	for _, c := range companies {
		if c.ID == key || strings.EqualFold(c.Name, key) {
			return c, true
		}
	}
	return models.Company{}, false
}

func printBoard(w io.Writer, board *tile.Board, current int64) {
	for _, v := range board.Views(current) {
		if v.Tile.IsNotes() {
			continue
		}
		fmt.Fprintf(w, "## %s [%s]\n", v.Tile.Title, v.Tile.Status)
		if v.Display != "" {
			fmt.Fprintln(w, v.Display)
		}
		if v.UpdateAvailable {
			fmt.Fprintln(w, "(stale)")
		}
		fmt.Fprintln(w)
	}
}
