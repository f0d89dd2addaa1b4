package models

import (
	"strings"
	"time"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusError     Status = "error"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusLoading, StatusError, StatusCompleted:
		return true
	}
	return false
}

type Company struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Industry  string    `json:"industry"`
	Product   string    `json:"product"`
	ICP       string    `json:"icp"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

type Board struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Tile struct {
	ID                    string    `json:"id"`
	BoardID               string    `json:"board_id"`
	Title                 string    `json:"title"`
	BasePrompt            string    `json:"base_prompt"`
	ExAnswer              string    `json:"ex_answer"`
	Order                 int       `json:"order"`
	LastAnswer            string    `json:"last_answer"`
	LastRunContextVersion int64     `json:"last_run_context_version"`
	Status                Status    `json:"status"`
	AttemptID             string    `json:"attempt_id"` // fencing token of the latest started generation
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// IsNotes reports whether the tile is a free-text notes tile. Notes tiles
// are marked by a leading '#' in the title and never generate.
func (t *Tile) IsNotes() bool {
	return strings.HasPrefix(t.Title, "#")
}

// Stale reports whether the stored answer predates the current context.
func (t *Tile) Stale(current int64) bool {
	return t.LastRunContextVersion < current
}

type Message struct {
	ID        string    `json:"id"`
	TileID    string    `json:"tile_id"`
	Role      string    `json:"role"` // "user", "assistant", "system"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// TilePatch is a partial tile update; nil fields are left unchanged.
type TilePatch struct {
	Title                 *string `json:"title,omitempty"`
	BasePrompt            *string `json:"base_prompt,omitempty"`
	ExAnswer              *string `json:"ex_answer,omitempty"`
	Order                 *int    `json:"order,omitempty"`
	LastAnswer            *string `json:"last_answer,omitempty"`
	LastRunContextVersion *int64  `json:"last_run_context_version,omitempty"`
	Status                *Status `json:"status,omitempty"`
	AttemptID             *string `json:"-"` // set only when a generation starts
}

func (p TilePatch) Empty() bool {
	return p == TilePatch{}
}
