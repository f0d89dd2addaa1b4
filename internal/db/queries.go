package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/esnunes/prospector/internal/models"
)

var ErrNotFound = errors.New("not found")

const messageTimeLayout = "2006-01-02 15:04:05.000"

type Queries struct {
	db *sql.DB
}

func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Companies

const companyColumns = `id, user_id, name, url, industry, product, icp, notes, created_at`

func scanCompany(row interface{ Scan(...any) error }) (*models.Company, error) {
	c := &models.Company{}
	var createdAt string
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.URL, &c.Industry, &c.Product, &c.ICP, &c.Notes, &createdAt); err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	return c, nil
}

func (q *Queries) CreateCompany(ctx context.Context, c models.Company) (*models.Company, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO companies (id, user_id, name, url, industry, product, icp, notes) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.URL, c.Industry, c.Product, c.ICP, c.Notes,
	)
	if err != nil {
		return nil, fmt.Errorf("creating company: %w", err)
	}
	return q.GetCompany(ctx, c.ID)
}

func (q *Queries) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	c, err := scanCompany(q.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("getting company: %w", notFound(err))
	}
	return c, nil
}

func (q *Queries) ListCompanies(ctx context.Context) ([]models.Company, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing companies: %w", err)
	}
	defer rows.Close()

	var results []models.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning company: %w", err)
		}
		results = append(results, *c)
	}
	return results, rows.Err()
}

func (q *Queries) DeleteCompany(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM companies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting company: %w", err)
	}
	return expectOne(res, "deleting company")
}

// Boards

func (q *Queries) CreateBoard(ctx context.Context, userID, name string) (*models.Board, error) {
	id := uuid.NewString()
	if _, err := q.db.ExecContext(ctx, `INSERT INTO boards (id, user_id, name) VALUES (?, ?, ?)`, id, userID, name); err != nil {
		return nil, fmt.Errorf("creating board: %w", err)
	}
	return q.GetBoard(ctx, id)
}

func (q *Queries) GetBoard(ctx context.Context, id string) (*models.Board, error) {
	b := &models.Board{}
	var createdAt string
	err := q.db.QueryRowContext(ctx, `SELECT id, user_id, name, created_at FROM boards WHERE id = ?`, id).
		Scan(&b.ID, &b.UserID, &b.Name, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("getting board: %w", notFound(err))
	}
	b.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	return b, nil
}

func (q *Queries) ListBoards(ctx context.Context) ([]models.Board, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, user_id, name, created_at FROM boards ORDER BY created_at ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing boards: %w", err)
	}
	defer rows.Close()

	var results []models.Board
	for rows.Next() {
		var b models.Board
		var createdAt string
		if err := rows.Scan(&b.ID, &b.UserID, &b.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning board: %w", err)
		}
		b.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		results = append(results, b)
	}
	return results, rows.Err()
}

// Tiles

const tileColumns = `id, board_id, title, base_prompt, ex_answer, "order", last_answer,
	last_run_context_version, status, attempt_id, created_at, updated_at`

func scanTile(row interface{ Scan(...any) error }) (*models.Tile, error) {
	t := &models.Tile{}
	var createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.BoardID, &t.Title, &t.BasePrompt, &t.ExAnswer, &t.Order, &t.LastAnswer,
		&t.LastRunContextVersion, &t.Status, &t.AttemptID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	t.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return t, nil
}

// NewTile describes a tile to create. Generation fields always start empty.
type NewTile struct {
	Title      string `json:"title"`
	BasePrompt string `json:"prompt"`
	ExAnswer   string `json:"ex_answer,omitempty"`
}

func (q *Queries) CreateTile(ctx context.Context, boardID string, nt NewTile) (*models.Tile, error) {
	tiles, err := q.CreateTiles(ctx, boardID, []NewTile{nt})
	if err != nil {
		return nil, err
	}
	return &tiles[0], nil
}

// CreateTiles appends tiles to the end of the board in one transaction.
func (q *Queries) CreateTiles(ctx context.Context, boardID string, nts []NewTile) ([]models.Tile, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("creating tiles: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX("order") + 1, 0) FROM tiles WHERE board_id = ?`, boardID).Scan(&next); err != nil {
		return nil, fmt.Errorf("creating tiles: %w", err)
	}

	ids := make([]string, 0, len(nts))
	for i, nt := range nts {
		id := uuid.NewString()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tiles (id, board_id, title, base_prompt, ex_answer, "order", status, last_answer, last_run_context_version)
			 VALUES (?, ?, ?, ?, ?, ?, 'idle', '', 0)`,
			id, boardID, nt.Title, nt.BasePrompt, nt.ExAnswer, next+i,
		)
		if err != nil {
			return nil, fmt.Errorf("creating tile: %w", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("creating tiles: %w", err)
	}

	results := make([]models.Tile, 0, len(ids))
	for _, id := range ids {
		t, err := q.GetTile(ctx, id)
		if err != nil {
			return nil, err
		}
		results = append(results, *t)
	}
	return results, nil
}

func (q *Queries) GetTile(ctx context.Context, id string) (*models.Tile, error) {
	t, err := scanTile(q.db.QueryRowContext(ctx, `SELECT `+tileColumns+` FROM tiles WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("getting tile: %w", notFound(err))
	}
	return t, nil
}

func (q *Queries) ListTiles(ctx context.Context, boardID string) ([]models.Tile, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+tileColumns+` FROM tiles WHERE board_id = ? ORDER BY "order" ASC, created_at ASC`, boardID)
	if err != nil {
		return nil, fmt.Errorf("listing tiles: %w", err)
	}
	defer rows.Close()

	var results []models.Tile
	for rows.Next() {
		t, err := scanTile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tile: %w", err)
		}
		results = append(results, *t)
	}
	return results, rows.Err()
}

func patchAssignments(p models.TilePatch) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.BasePrompt != nil {
		add("base_prompt", *p.BasePrompt)
	}
	if p.ExAnswer != nil {
		add("ex_answer", *p.ExAnswer)
	}
	if p.Order != nil {
		add(`"order"`, *p.Order)
	}
	if p.LastAnswer != nil {
		add("last_answer", *p.LastAnswer)
	}
	if p.LastRunContextVersion != nil {
		add("last_run_context_version", *p.LastRunContextVersion)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.AttemptID != nil {
		add("attempt_id", *p.AttemptID)
	}
	sets = append(sets, "updated_at = datetime('now')")
	return sets, args
}

// UpdateTile applies a partial update. Only fields set in p change.
func (q *Queries) UpdateTile(ctx context.Context, id string, p models.TilePatch) (*models.Tile, error) {
	if p.Empty() {
		return q.GetTile(ctx, id)
	}
	sets, args := patchAssignments(p)
	args = append(args, id)
	res, err := q.db.ExecContext(ctx, `UPDATE tiles SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("updating tile: %w", err)
	}
	if err := expectOne(res, "updating tile"); err != nil {
		return nil, err
	}
	return q.GetTile(ctx, id)
}

// FinishAttempt applies p only while attemptID is still the tile's current
// attempt and that attempt is still loading. It reports false when the
// write was fenced out, so finishing twice is a no-op.
func (q *Queries) FinishAttempt(ctx context.Context, id, attemptID string, p models.TilePatch) (bool, error) {
	sets, args := patchAssignments(p)
	args = append(args, id, attemptID)
	res, err := q.db.ExecContext(ctx, `UPDATE tiles SET `+strings.Join(sets, ", ")+` WHERE id = ? AND attempt_id = ? AND status = 'loading'`, args...)
	if err != nil {
		return false, fmt.Errorf("updating tile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating tile: %w", err)
	}
	return n == 1, nil
}

func (q *Queries) DeleteTile(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM tiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting tile: %w", err)
	}
	return expectOne(res, "deleting tile")
}

// ReorderTiles rewrites the board order so that tileIDs come first, in the
// given sequence. Tiles of the board not listed keep their relative order after them.
func (q *Queries) ReorderTiles(ctx context.Context, boardID string, tileIDs []string) error {
	current, err := q.ListTiles(ctx, boardID)
	if err != nil {
		return err
	}
	onBoard := make(map[string]bool, len(current))
	for _, t := range current {
		onBoard[t.ID] = true
	}

	seen := make(map[string]bool, len(tileIDs))
	order := make([]string, 0, len(current))
	for _, id := range tileIDs {
		if !onBoard[id] {
			return fmt.Errorf("reordering tiles: tile %s: %w", id, ErrNotFound)
		}
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	for _, t := range current {
		if !seen[t.ID] {
			order = append(order, t.ID)
		}
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reordering tiles: %w", err)
	}
	defer tx.Rollback()
	for i, id := range order {
		if _, err := tx.ExecContext(ctx, `UPDATE tiles SET "order" = ?, updated_at = datetime('now') WHERE id = ?`, i, id); err != nil {
			return fmt.Errorf("reordering tiles: %w", err)
		}
	}
	return tx.Commit()
}

// Messages

func (q *Queries) CreateMessage(ctx context.Context, tileID, role, content string) (*models.Message, error) {
	id := uuid.NewString()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO tile_messages (id, tile_id, role, content) VALUES (?, ?, ?, ?)`,
		id, tileID, role, content,
	)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	m := &models.Message{}
	var createdAt string
	err = q.db.QueryRowContext(ctx,
		`SELECT id, tile_id, role, content, created_at FROM tile_messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.TileID, &m.Role, &m.Content, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}
	m.CreatedAt, _ = time.Parse(messageTimeLayout, createdAt)
	return m, nil
}

// ListMessages returns the last limit messages of a tile, oldest first.
// A limit <= 0 returns all of them.
func (q *Queries) ListMessages(ctx context.Context, tileID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, tile_id, role, content, created_at FROM (
		    SELECT id, tile_id, role, content, created_at, rowid AS seq
		    FROM tile_messages WHERE tile_id = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`, tileID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var results []models.Message
	for rows.Next() {
		var m models.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.TileID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(messageTimeLayout, createdAt)
		results = append(results, m)
	}
	return results, rows.Err()
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
