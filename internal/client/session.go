package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/esnunes/prospector/internal/contextver"
	"github.com/esnunes/prospector/internal/generate"
	"github.com/esnunes/prospector/internal/models"
	"github.com/esnunes/prospector/internal/tile"
)

const finalizeTimeout = 10 * time.Second

// Session is one user's view of a board: the selected company, the context
// version it implies, and the tiles being generated under it.
type Session struct {
	client    *Client
	consumer  *Consumer
	finalizer *tile.Finalizer
	board     *tile.Board
	versions  *contextver.Counter
	log       *zap.Logger

	// OnUpdate, when set, is called with a tile's view after every chunk and
	// once more when its generation settles.
	OnUpdate func(tile.View)

	mu      sync.Mutex
	company *models.Company
	running map[string]*Handle
	wg      sync.WaitGroup

	unsubscribe func()
	watchDone   chan struct{}
}

// NewSession starts a session over board. Its context version starts at the
// highest version stamped on the board's tiles, so the first company
// selected makes every answer from an earlier session stale. Call Close when
// done.
func NewSession(c *Client, board *tile.Board, log *zap.Logger) *Session {
	s := &Session{
		client:    c,
		consumer:  NewConsumer(c, log),
		finalizer: &tile.Finalizer{Store: c.Tiles()},
		board:     board,
		versions:  contextver.NewCounterFrom(board.LatestVersion()),
		log:       log,
		running:   make(map[string]*Handle),
		watchDone: make(chan struct{}),
	}
	versions, unsubscribe := s.versions.Subscribe()
	s.unsubscribe = unsubscribe
	go s.watch(versions)
	return s
}

// watch republishes every tile when the context version moves: staleness
// of each one may have changed.
func (s *Session) watch(versions <-chan int64) {
	defer close(s.watchDone)
	for v := range versions {
		if s.OnUpdate == nil {
			continue
		}
		for _, view := range s.board.Views(v) {
			s.OnUpdate(view)
		}
	}
}

// Close stops watching the context version. Running generations are left
// alone; use Wait for those.
func (s *Session) Close() {
	s.unsubscribe()
	<-s.watchDone
}

func (s *Session) Board() *tile.Board { return s.board }

func (s *Session) Versions() *contextver.Counter { return s.versions }

func (s *Session) Company() *models.Company {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.company == nil {
		return nil
	}
	c := *s.company
	return &c
}

// SelectCompany makes company the active context. Selecting the company
// that is already active changes nothing. Otherwise the context version is
// bumped and every stale tile starts generating. It returns the current
// version and whether it changed.
func (s *Session) SelectCompany(ctx context.Context, company models.Company) (int64, bool) {
	s.mu.Lock()
	if s.company != nil && s.company.ID == company.ID {
		s.mu.Unlock()
		return s.versions.Current(), false
	}
	s.company = &company
	s.mu.Unlock()

	v := s.versions.Bump()
	if sv, err := s.client.SelectContext(ctx, company.ID); err != nil {
		s.log.Warn("announcing company selection", zap.Error(err))
	} else {
		s.log.Debug("company selected", zap.String("company_id", company.ID), zap.Int64("context_version", v), zap.Int64("server_version", sv))
	}

	for _, t := range s.board.StaleTiles(v) {
		s.Generate(ctx, t.ID, nil)
	}
	return v, true
}

// Generate starts a generation on tileID, superseding any running one. It
// is a silent no-op, returning false, when no company is selected or the
// tile cannot generate.
func (s *Session) Generate(ctx context.Context, tileID string, refinement *string) (*Handle, bool) {
	company := s.Company()
	view, ok := s.board.View(tileID, s.versions.Current())
	if !ok || !tile.CanGenerate(view.Tile, company) {
		return nil, false
	}

	token, ok := s.board.Begin(tileID)
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	if prev, ok := s.running[tileID]; ok {
		prev.Abort()
	}
	req := generate.Request{
		TileID:         tileID,
		BasePrompt:     view.Tile.BasePrompt,
		ExAnswer:       view.Tile.ExAnswer,
		LastAnswer:     view.Tile.LastAnswer,
		UserRefinement: refinement,
		Company:        company,
		ContextVersion: s.versions.Current(),
	}
	h := s.consumer.Start(ctx, req, func(delta, _ string) {
		if _, ok := s.board.Append(tileID, token, delta); ok {
			s.notify(tileID)
		}
	})
	s.running[tileID] = h
	s.mu.Unlock()

	s.wg.Add(1)
	go s.settle(ctx, tileID, h, token)
	return h, true
}

// settle waits for h to end, applies the outcome locally if the attempt is
// still current and persists it. The newest attempt also reconciles with the
// server's copy.
func (s *Session) settle(ctx context.Context, tileID string, h *Handle, token uint64) {
	defer s.wg.Done()
	term := h.Wait()
	s.board.Finish(term, token)

	s.mu.Lock()
	current := s.running[tileID] == h
	if current {
		delete(s.running, tileID)
	}
	s.mu.Unlock()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	log := s.log.With(zap.String("tile_id", tileID), zap.String("attempt_id", term.AttemptID))
	if written, err := s.finalizer.Finalize(fctx, term); err != nil {
		log.Warn("persisting generation", zap.Error(err))
	} else if !written {
		log.Debug("generation already settled on the server", zap.Stringer("outcome", term.Outcome))
	}

	if !current {
		return
	}
	if t, err := s.client.Tiles().Get(fctx, tileID); err == nil {
		s.board.Put(*t)
	} else {
		log.Warn("refreshing tile", zap.Error(err))
	}
	s.notify(tileID)
}

// Abort stops the generation running on tileID, if any.
func (s *Session) Abort(tileID string) {
	s.board.Abort(tileID)
	s.mu.Lock()
	cur, ok := s.running[tileID]
	s.mu.Unlock()
	if ok {
		cur.Abort()
	}
}

// Wait blocks until every started generation has settled.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) notify(tileID string) {
	if s.OnUpdate == nil {
		return
	}
	if v, ok := s.board.View(tileID, s.versions.Current()); ok {
		s.OnUpdate(v)
	}
}
