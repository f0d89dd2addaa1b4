// Package client talks to a prospector server: plain JSON calls, the
// streaming generation endpoint and a session that keeps a board of tiles
// fresh as the selected company changes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/esnunes/prospector/internal/models"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL   string
	http      *http.Client
	sessionID string
}

// New returns a client for the server at baseURL. A nil httpClient means
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

// WithSession tags every request with id so the server keeps a separate
// context version for it.
func (c *Client) WithSession(id string) *Client {
	cp := *c
	cp.sessionID = id
	return &cp
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sessionID != "" {
		req.Header.Set("X-Session-ID", c.sessionID)
	}
	return req, nil
}

// readAPIError builds an APIError from resp, reading the {error} body if
// there is one.
func readAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) ListCompanies(ctx context.Context) ([]models.Company, error) {
	var companies []models.Company
	err := c.do(ctx, http.MethodGet, "/api/companies", nil, &companies)
	return companies, err
}

func (c *Client) CreateCompany(ctx context.Context, company models.Company) (*models.Company, error) {
	var created models.Company
	if err := c.do(ctx, http.MethodPost, "/api/companies", company, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) ListBoards(ctx context.Context) ([]models.Board, error) {
	var boards []models.Board
	err := c.do(ctx, http.MethodGet, "/api/boards", nil, &boards)
	return boards, err
}

// SelectContext tells the server the selected company changed and returns
// the server's new context version.
func (c *Client) SelectContext(ctx context.Context, companyID string) (int64, error) {
	var resp struct {
		ContextVersion int64 `json:"contextVersion"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/context/select", map[string]string{"companyId": companyID}, &resp); err != nil {
		return 0, err
	}
	return resp.ContextVersion, nil
}

func (c *Client) Tiles() *TilesAPI {
	return &TilesAPI{c: c}
}

// TilesAPI is the tile CRUD surface. It persists finalized generations
// through fenced patches.
type TilesAPI struct {
	c *Client
}

func (a *TilesAPI) Get(ctx context.Context, id string) (*models.Tile, error) {
	var t models.Tile
	if err := a.c.do(ctx, http.MethodGet, "/api/tiles/"+id, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (a *TilesAPI) List(ctx context.Context, boardID string) ([]models.Tile, error) {
	var tiles []models.Tile
	err := a.c.do(ctx, http.MethodGet, "/api/boards/"+boardID+"/tiles", nil, &tiles)
	return tiles, err
}

// FinishAttempt sends p as a patch fenced on attemptID. It reports false
// when the server refused it because the attempt is no longer live, or
// when there is no attempt to fence on.
func (a *TilesAPI) FinishAttempt(ctx context.Context, id, attemptID string, p models.TilePatch) (bool, error) {
	if attemptID == "" {
		return false, nil
	}
	body := struct {
		models.TilePatch
		AttemptID string `json:"attempt_id"`
	}{p, attemptID}

	err := a.c.do(ctx, http.MethodPatch, "/api/tiles/"+id, body, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
