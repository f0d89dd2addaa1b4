package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/esnunes/prospector/internal/bulkparse"
	"github.com/esnunes/prospector/internal/contacts"
	"github.com/esnunes/prospector/internal/db"
	"github.com/esnunes/prospector/internal/generate"
	"github.com/esnunes/prospector/internal/llm"
	"github.com/esnunes/prospector/internal/tile"
)

// outcomeTrailer tells a reader that reached the end of the body whether the
// attempt completed or was aborted.
const outcomeTrailer = "X-Generation-Outcome"

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req generate.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TileID == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	run, err := s.engine.Start(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, generate.ErrPrecondition):
			writeError(w, http.StatusBadRequest, "Missing required fields")
		case errors.Is(err, db.ErrNotFound):
			writeError(w, http.StatusNotFound, "Tile not found")
		case errors.Is(err, llm.ErrNotConfigured):
			writeError(w, http.StatusBadRequest, "Server is not configured: model credentials are missing")
		case errors.Is(err, generate.ErrUpstream):
			writeError(w, http.StatusBadGateway, "Failed to start AI response stream")
		case generate.Classify(err) == tile.OutcomeAborted:
			// unseen when the caller is gone; otherwise the attempt was
			// aborted or superseded before it produced anything
			writeError(w, http.StatusConflict, "Generation aborted")
		default:
			s.internalError(w, "starting generation", err)
		}
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Attempt-ID", run.AttemptID)
	h.Set("X-Context-Version", strconv.FormatInt(run.ContextVersion, 10))
	h.Set("Trailer", outcomeTrailer)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	rc.Flush()

	term := run.Pipe(func(chunk string) error {
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
		return rc.Flush()
	})
	if term.Outcome == tile.OutcomeFailed {
		// break the body so the reader cannot mistake it for a full answer
		panic(http.ErrAbortHandler)
	}
	h.Set(outcomeTrailer, term.Outcome.String())
}

type contextResponse struct {
	ContextVersion int64 `json:"contextVersion"`
	Success        bool  `json:"success"`
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, contextResponse{ContextVersion: s.counter(r).Current(), Success: true})
}

func (s *Server) handleSelectContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyID string `json:"companyId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "Company ID is required")
		return
	}
	v := s.counter(r).Bump()
	s.log.Debug("context selected", zap.String("company_id", req.CompanyID), zap.Int64("context_version", v))
	writeJSON(w, http.StatusOK, contextResponse{ContextVersion: v, Success: true})
}

func (s *Server) handleParsePrompts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BulkText string `json:"bulkText"`
		MaxItems int    `json:"maxItems"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := s.parser.Parse(r.Context(), req.BulkText, req.MaxItems)
	if errors.Is(err, bulkparse.ErrEmptyInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "parsing prompts", err)
		return
	}
	if res.Prompts == nil {
		res.Prompts = []bulkparse.Prompt{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSuggestContacts(w http.ResponseWriter, r *http.Request) {
	var req contacts.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	list, err := s.contacts.Suggest(r.Context(), req)
	switch {
	case errors.Is(err, contacts.ErrMissingCompany):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, contacts.ErrModel):
		s.log.Warn("suggesting contacts", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to suggest contacts")
		return
	case err != nil:
		s.internalError(w, "suggesting contacts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]contacts.Contact{"contacts": list})
}

func (s *Server) handleAbortTile(w http.ResponseWriter, r *http.Request) {
	aborted := s.engine.Abort(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": aborted})
}
