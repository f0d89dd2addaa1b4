package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/esnunes/prospector/internal/bulkparse"
	"github.com/esnunes/prospector/internal/contacts"
	"github.com/esnunes/prospector/internal/contextver"
	"github.com/esnunes/prospector/internal/db"
	"github.com/esnunes/prospector/internal/generate"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
	defaultSession  = "default"
)

type Options struct {
	// HistoryLimit is how many messages the history endpoint returns when
	// the caller does not ask for a limit.
	HistoryLimit int
}

type Server struct {
	queries  *db.Queries
	engine   *generate.Engine
	versions *contextver.Registry
	parser   *bulkparse.Parser
	contacts *contacts.Suggester
	opts     Options
	log      *zap.Logger

	httpSrv *http.Server
	ln      net.Listener
	addr    string
	boardMu sync.Map // per-board mutex: board ID → *sync.Mutex
}

func New(queries *db.Queries, engine *generate.Engine, versions *contextver.Registry, parser *bulkparse.Parser, suggester *contacts.Suggester, log *zap.Logger, opts Options) *Server {
	s := &Server{
		queries:  queries,
		engine:   engine,
		versions: versions,
		parser:   parser,
		contacts: suggester,
		opts:     opts,
		log:      log,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/ai/respond", s.handleRespond)
	mux.HandleFunc("POST /api/ai/parse-prompts", s.handleParsePrompts)
	mux.HandleFunc("POST /api/ai/contacts", s.handleSuggestContacts)

	mux.HandleFunc("GET /api/context", s.handleGetContext)
	mux.HandleFunc("POST /api/context/select", s.handleSelectContext)

	mux.HandleFunc("GET /api/companies", s.handleListCompanies)
	mux.HandleFunc("POST /api/companies", s.handleCreateCompany)
	mux.HandleFunc("POST /api/companies/csv", s.handleImportCompanies)
	mux.HandleFunc("GET /api/companies/{id}", s.handleGetCompany)
	mux.HandleFunc("DELETE /api/companies/{id}", s.handleDeleteCompany)

	mux.HandleFunc("GET /api/boards", s.handleListBoards)
	mux.HandleFunc("POST /api/boards", s.handleCreateBoard)
	mux.HandleFunc("GET /api/boards/{id}/tiles", s.handleListTiles)
	mux.HandleFunc("POST /api/boards/{id}/tiles", s.handleCreateTile)
	mux.HandleFunc("POST /api/boards/{id}/tiles/bulk", s.handleBulkCreateTiles)
	mux.HandleFunc("POST /api/boards/{id}/tiles/csv", s.handleImportTiles)
	mux.HandleFunc("PUT /api/boards/{id}/order", s.handleReorderTiles)

	mux.HandleFunc("GET /api/tiles/{id}", s.handleGetTile)
	mux.HandleFunc("PATCH /api/tiles/{id}", s.handleUpdateTile)
	mux.HandleFunc("DELETE /api/tiles/{id}", s.handleDeleteTile)
	mux.HandleFunc("POST /api/tiles/{id}/abort", s.handleAbortTile)
	mux.HandleFunc("GET /api/tiles/{id}/messages", s.handleListMessages)

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Listen binds the server to addr. Call Serve to start handling requests.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	return nil
}

// Serve starts handling HTTP requests. Blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		s.log.Info("prospector running", zap.String("url", "http://"+s.addr))
		if err := s.httpSrv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	err := g.Wait()
	s.log.Info("shut down")
	return err
}

func (s *Server) Addr() string {
	return s.addr
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// lockBoard returns the mutex for a given board ID. Callers must call Unlock
// when done so tile order writes on the board do not interleave.
func (s *Server) lockBoard(boardID string) *sync.Mutex {
	v, _ := s.boardMu.LoadOrStore(boardID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}

func (s *Server) counter(r *http.Request) *contextver.Counter {
	id := r.Header.Get("X-Session-ID")
	if id == "" {
		id = defaultSession
	}
	return s.versions.For(id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	return nil
}

// internalError logs err and answers 500, or 404 when err is db.ErrNotFound.
func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	s.log.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}
