package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/esnunes/prospector/internal/csvimport"
	"github.com/esnunes/prospector/internal/db"
	"github.com/esnunes/prospector/internal/models"
)

// Companies

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.queries.ListCompanies(r.Context())
	if err != nil {
		s.internalError(w, "listing companies", err)
		return
	}
	if companies == nil {
		companies = []models.Company{}
	}
	writeJSON(w, http.StatusOK, companies)
}

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var c models.Company
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	c.ID = ""
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		writeError(w, http.StatusBadRequest, "Company name is required")
		return
	}
	created, err := s.queries.CreateCompany(r.Context(), c)
	if err != nil {
		s.internalError(w, "creating company", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	c, err := s.queries.GetCompany(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, "getting company", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	if err := s.queries.DeleteCompany(r.Context(), r.PathValue("id")); err != nil {
		s.internalError(w, "deleting company", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImportCompanies(w http.ResponseWriter, r *http.Request) {
	body, err := csvBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Please upload a CSV file")
		return
	}
	defer body.Close()

	companies, err := csvimport.Companies(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created := make([]models.Company, 0, len(companies))
	for _, c := range companies {
		nc, err := s.queries.CreateCompany(r.Context(), c)
		if err != nil {
			s.internalError(w, "importing companies", err)
			return
		}
		created = append(created, *nc)
	}
	s.log.Info("companies imported", zap.Int("count", len(created)))
	writeJSON(w, http.StatusCreated, created)
}

// csvBody returns the uploaded file of a multipart form, or the raw body.
func csvBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		return r.Body, nil
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Boards

func (s *Server) handleListBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.queries.ListBoards(r.Context())
	if err != nil {
		s.internalError(w, "listing boards", err)
		return
	}
	if boards == nil {
		boards = []models.Board{}
	}
	writeJSON(w, http.StatusOK, boards)
}

func (s *Server) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Board name is required")
		return
	}
	b, err := s.queries.CreateBoard(r.Context(), req.UserID, strings.TrimSpace(req.Name))
	if err != nil {
		s.internalError(w, "creating board", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListTiles(w http.ResponseWriter, r *http.Request) {
	boardID := r.PathValue("id")
	if _, err := s.queries.GetBoard(r.Context(), boardID); err != nil {
		s.internalError(w, "getting board", err)
		return
	}
	tiles, err := s.queries.ListTiles(r.Context(), boardID)
	if err != nil {
		s.internalError(w, "listing tiles", err)
		return
	}
	if tiles == nil {
		tiles = []models.Tile{}
	}
	writeJSON(w, http.StatusOK, tiles)
}

// addTiles appends nts to the board in one write.
func (s *Server) addTiles(w http.ResponseWriter, r *http.Request, nts []db.NewTile) {
	boardID := r.PathValue("id")
	mu := s.lockBoard(boardID)
	defer mu.Unlock()

	if _, err := s.queries.GetBoard(r.Context(), boardID); err != nil {
		s.internalError(w, "getting board", err)
		return
	}
	tiles, err := s.queries.CreateTiles(r.Context(), boardID, nts)
	if err != nil {
		s.internalError(w, "creating tiles", err)
		return
	}
	writeJSON(w, http.StatusCreated, tiles)
}

func (s *Server) handleCreateTile(w http.ResponseWriter, r *http.Request) {
	var nt db.NewTile
	if err := decodeJSON(w, r, &nt); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(nt.Title) == "" {
		writeError(w, http.StatusBadRequest, "Tile title is required")
		return
	}
	s.addTiles(w, r, []db.NewTile{nt})
}

func (s *Server) handleBulkCreateTiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompts []db.NewTile `json:"prompts"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	var nts []db.NewTile
	for _, nt := range req.Prompts {
		if strings.TrimSpace(nt.Title) == "" || strings.TrimSpace(nt.BasePrompt) == "" {
			continue
		}
		nts = append(nts, nt)
	}
	if len(nts) == 0 {
		writeError(w, http.StatusBadRequest, "No prompts to add")
		return
	}
	s.addTiles(w, r, nts)
}

func (s *Server) handleImportTiles(w http.ResponseWriter, r *http.Request) {
	body, err := csvBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Please upload a CSV file")
		return
	}
	defer body.Close()

	nts, err := csvimport.Tiles(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.addTiles(w, r, nts)
}

func (s *Server) handleReorderTiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TileIDs []string `json:"tile_ids"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	boardID := r.PathValue("id")
	mu := s.lockBoard(boardID)
	defer mu.Unlock()

	if err := s.queries.ReorderTiles(r.Context(), boardID, req.TileIDs); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "Tile is not on this board")
			return
		}
		s.internalError(w, "reordering tiles", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Tiles

func (s *Server) handleGetTile(w http.ResponseWriter, r *http.Request) {
	t, err := s.queries.GetTile(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, "getting tile", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// tilePatchRequest is a partial update. With AttemptID set it only applies
// while that attempt is the tile's live generation.
type tilePatchRequest struct {
	models.TilePatch
	AttemptID string `json:"attempt_id,omitempty"`
}

func (s *Server) handleUpdateTile(w http.ResponseWriter, r *http.Request) {
	var req tilePatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	id := r.PathValue("id")
	if req.AttemptID != "" {
		if req.Empty() {
			writeError(w, http.StatusBadRequest, "Nothing to update")
			return
		}
		ok, err := s.queries.FinishAttempt(r.Context(), id, req.AttemptID, req.TilePatch)
		if err != nil {
			s.internalError(w, "updating tile", err)
			return
		}
		if !ok {
			writeError(w, http.StatusConflict, "Generation attempt is no longer current")
			return
		}
	} else if _, err := s.queries.UpdateTile(r.Context(), id, req.TilePatch); err != nil {
		s.internalError(w, "updating tile", err)
		return
	}

	t, err := s.queries.GetTile(r.Context(), id)
	if err != nil {
		s.internalError(w, "getting tile", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.engine.Abort(id)
	if err := s.queries.DeleteTile(r.Context(), id); err != nil {
		s.internalError(w, "deleting tile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	msgs, err := s.queries.ListMessages(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.internalError(w, "listing messages", err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
