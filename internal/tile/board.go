package tile

import (
	"sort"
	"strings"
	"sync"

	"github.com/esnunes/prospector/internal/models"
)

type slot struct {
	tile       models.Tile
	token      uint64
	buffer     strings.Builder
	generating bool
}

// Board is the live view of a set of tiles. Each tile carries a token that
// changes whenever a generation begins or is aborted; writes tagged with an
// older token are dropped.
type Board struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func NewBoard(tiles []models.Tile) *Board {
	b := &Board{slots: make(map[string]*slot, len(tiles))}
	for _, t := range tiles {
		b.slots[t.ID] = &slot{tile: t}
	}
	return b
}

// Put replaces the stored copy of t, keeping any generation in progress.
func (b *Board) Put(t models.Tile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[t.ID]
	if !ok {
		b.slots[t.ID] = &slot{tile: t}
		return
	}
	status := s.tile.Status
	s.tile = t
	if s.generating {
		s.tile.Status = status
	}
}

func (b *Board) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.slots[id]; ok {
		s.token++
		delete(b.slots, id)
	}
}

// Begin starts a new generation on id and returns its token. Any previous
// generation on the tile is invalidated.
func (b *Board) Begin(id string) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[id]
	if !ok {
		return 0, false
	}
	s.token++
	s.buffer.Reset()
	s.generating = true
	s.tile.Status = models.StatusLoading
	return s.token, true
}

// Append adds chunk to the streaming buffer and returns the cumulative text.
// It reports false when token is no longer current.
func (b *Board) Append(id string, token uint64, chunk string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[id]
	if !ok || s.token != token || !s.generating {
		return "", false
	}
	s.buffer.WriteString(chunk)
	return s.buffer.String(), true
}

// Finish applies the outcome of the generation tagged with token and clears
// the buffer. A stale token changes nothing.
func (b *Board) Finish(t Terminal, token uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[t.TileID]
	if !ok || s.token != token || !s.generating {
		return false
	}
	Apply(&s.tile, PatchFor(t))
	s.buffer.Reset()
	s.generating = false
	return true
}

// Abort invalidates the running generation on id, if any, and puts the tile
// back to idle. Aborting twice, or after Finish, does nothing.
func (b *Board) Abort(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[id]
	if !ok || !s.generating {
		return false
	}
	s.token++
	s.buffer.Reset()
	s.generating = false
	s.tile.Status = models.StatusIdle
	return true
}

func (b *Board) IsCurrent(id string, token uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[id]
	return ok && s.token == token && s.generating
}

// View is what a tile shows at a given context version.
type View struct {
	Tile      models.Tile
	Display   string // streaming buffer while generating, otherwise the last answer
	Streaming bool
	Stale     bool
	// UpdateAvailable is set for stale tiles that have an answer and are not
	// currently generating.
	UpdateAvailable bool
}

func (b *Board) View(id string, current int64) (View, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[id]
	if !ok {
		return View{}, false
	}
	return s.view(current), true
}

func (s *slot) view(current int64) View {
	v := View{
		Tile:      s.tile,
		Display:   s.tile.LastAnswer,
		Streaming: s.generating,
		Stale:     Stale(s.tile, current),
	}
	if s.generating {
		v.Display = s.buffer.String()
	}
	v.UpdateAvailable = v.Stale && !s.generating && s.tile.LastAnswer != ""
	return v
}

// LatestVersion returns the highest context version stamped on any tile.
func (b *Board) LatestVersion() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var v int64
	for _, s := range b.slots {
		v = max(v, s.tile.LastRunContextVersion)
	}
	return v
}

// Views returns every tile in board order.
func (b *Board) Views(current int64) []View {
	b.mu.Lock()
	defer b.mu.Unlock()
	views := make([]View, 0, len(b.slots))
	for _, s := range b.slots {
		views = append(views, s.view(current))
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Tile.Order != views[j].Tile.Order {
			return views[i].Tile.Order < views[j].Tile.Order
		}
		return views[i].Tile.ID < views[j].Tile.ID
	})
	return views
}

// StaleTiles returns the tiles that are stale under current and not already
// generating, in board order.
func (b *Board) StaleTiles(current int64) []models.Tile {
	var tiles []models.Tile
	for _, v := range b.Views(current) {
		if v.Stale && !v.Streaming {
			tiles = append(tiles, v.Tile)
		}
	}
	return tiles
}
