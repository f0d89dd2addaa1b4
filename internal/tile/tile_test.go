package tile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/prospector/internal/models"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from models.Status
		ev   Event
		want models.Status
		err  bool
	}{
		{models.StatusIdle, EventStart, models.StatusLoading, false},
		{models.StatusCompleted, EventStart, models.StatusLoading, false},
		{models.StatusError, EventStart, models.StatusLoading, false},
		{models.StatusLoading, EventStart, models.StatusLoading, false},
		{models.StatusLoading, EventComplete, models.StatusCompleted, false},
		{models.StatusLoading, EventFail, models.StatusError, false},
		{models.StatusLoading, EventAbort, models.StatusIdle, false},
		{models.StatusCompleted, EventContextChange, models.StatusCompleted, false},
		{models.StatusLoading, EventContextChange, models.StatusLoading, false},
		{models.StatusIdle, EventComplete, models.StatusIdle, true},
		{models.StatusCompleted, EventAbort, models.StatusCompleted, true},
		{models.StatusError, EventFail, models.StatusError, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.ev.String(), func(t *testing.T) {
			got, err := Transition(tt.from, tt.ev)
			if tt.err {
				assert.ErrorIs(t, err, ErrIllegalTransition)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStaleness(t *testing.T) {
	tiles := []models.Tile{
		{ID: "a", LastRunContextVersion: 0},
		{ID: "b", LastRunContextVersion: 2},
		{ID: "c", LastRunContextVersion: 3},
	}
	for current := int64(1); current <= 4; current++ {
		for _, tl := range tiles {
			assert.Equal(t, tl.LastRunContextVersion < current, Stale(tl, current), "tile %s at %d", tl.ID, current)
		}
	}
}

func TestCanGenerate(t *testing.T) {
	acme := &models.Company{Name: "Acme Corp"}
	assert.True(t, CanGenerate(models.Tile{BasePrompt: "p"}, acme))
	assert.False(t, CanGenerate(models.Tile{BasePrompt: "p"}, nil))
	assert.False(t, CanGenerate(models.Tile{BasePrompt: "p"}, &models.Company{}))
	assert.False(t, CanGenerate(models.Tile{}, acme))
	assert.False(t, CanGenerate(models.Tile{Title: "# notes", BasePrompt: "p"}, acme))
}

func TestPatchFor(t *testing.T) {
	completed := models.StatusCompleted
	failed := models.StatusError
	idle := models.StatusIdle
	answer := "Acme sells subscriptions."
	v := int64(3)

	tests := []struct {
		name string
		term Terminal
		want models.TilePatch
	}{
		{"completed", Terminal{Outcome: OutcomeCompleted, Text: answer, ContextVersion: 3},
			models.TilePatch{Status: &completed, LastAnswer: &answer, LastRunContextVersion: &v}},
		{"failed keeps answer", Terminal{Outcome: OutcomeFailed, Text: "partial", ContextVersion: 3, Err: errors.New("boom")},
			models.TilePatch{Status: &failed}},
		{"aborted keeps answer", Terminal{Outcome: OutcomeAborted, Text: "partial", ContextVersion: 3},
			models.TilePatch{Status: &idle}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, PatchFor(tt.term)); diff != "" {
				t.Errorf("PatchFor mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type fakeStore struct {
	tile   models.Tile
	writes int
}

func (f *fakeStore) FinishAttempt(_ context.Context, id, attemptID string, p models.TilePatch) (bool, error) {
	if f.tile.ID != id || f.tile.AttemptID != attemptID || f.tile.Status != models.StatusLoading {
		return false, nil
	}
	Apply(&f.tile, p)
	f.writes++
	return true, nil
}

func TestFinalizerCapturesStartVersion(t *testing.T) {
	store := &fakeStore{tile: models.Tile{ID: "t1", AttemptID: "a1", Status: models.StatusLoading, LastRunContextVersion: 3}}
	f := &Finalizer{Store: store}

	// the context moved on to 4 while the attempt streamed
	current := int64(4)
	ok, err := f.Finalize(context.Background(), Terminal{TileID: "t1", AttemptID: "a1", ContextVersion: 3, Outcome: OutcomeCompleted, Text: "done"})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(3), store.tile.LastRunContextVersion)
	assert.Equal(t, "done", store.tile.LastAnswer)
	assert.True(t, Stale(store.tile, current))
}

func TestFinalizerFencing(t *testing.T) {
	store := &fakeStore{tile: models.Tile{ID: "t1", AttemptID: "a2", Status: models.StatusLoading, LastAnswer: "prev"}}
	f := &Finalizer{Store: store}
	ctx := context.Background()

	ok, err := f.Finalize(ctx, Terminal{TileID: "t1", AttemptID: "a1", Outcome: OutcomeCompleted, Text: "superseded"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "prev", store.tile.LastAnswer)

	ok, err = f.Finalize(ctx, Terminal{TileID: "t1", AttemptID: "a2", Outcome: OutcomeCompleted, Text: "newest"})
	require.NoError(t, err)
	assert.True(t, ok)

	// aborting after natural completion changes nothing
	ok, err = f.Finalize(ctx, Terminal{TileID: "t1", AttemptID: "a2", Outcome: OutcomeAborted})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.StatusCompleted, store.tile.Status)
	assert.Equal(t, "newest", store.tile.LastAnswer)
	assert.Equal(t, 1, store.writes)
}

func TestFinalizerGuard(t *testing.T) {
	store := &fakeStore{tile: models.Tile{ID: "t1", AttemptID: "a1", Status: models.StatusLoading}}
	f := &Finalizer{Store: store, Guard: func(string, string) bool { return false }}

	ok, err := f.Finalize(context.Background(), Terminal{TileID: "t1", AttemptID: "a1", Outcome: OutcomeCompleted})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, store.writes)
}

func TestBoardSupersession(t *testing.T) {
	b := NewBoard([]models.Tile{{ID: "t1", BasePrompt: "p", Status: models.StatusIdle}})

	old, ok := b.Begin("t1")
	require.True(t, ok)
	_, ok = b.Append("t1", old, "old ")
	require.True(t, ok)

	cur, ok := b.Begin("t1")
	require.True(t, ok)
	assert.NotEqual(t, old, cur)

	_, ok = b.Append("t1", old, "late chunk")
	assert.False(t, ok, "superseded token must not write")
	assert.False(t, b.Finish(Terminal{TileID: "t1", Outcome: OutcomeCompleted, Text: "old"}, old))

	buf, ok := b.Append("t1", cur, "new")
	require.True(t, ok)
	assert.Equal(t, "new", buf)

	require.True(t, b.Finish(Terminal{TileID: "t1", Outcome: OutcomeCompleted, Text: "new", ContextVersion: 1}, cur))
	v, _ := b.View("t1", 1)
	assert.Equal(t, "new", v.Display)
	assert.Equal(t, models.StatusCompleted, v.Tile.Status)
	assert.False(t, v.Streaming)
	assert.False(t, v.Stale)
}

func TestBoardAbortIsIdempotent(t *testing.T) {
	b := NewBoard([]models.Tile{{ID: "t1", BasePrompt: "p", LastAnswer: "prev", LastRunContextVersion: 1, Status: models.StatusCompleted}})

	token, _ := b.Begin("t1")
	b.Append("t1", token, "partial")

	assert.True(t, b.Abort("t1"))
	assert.False(t, b.Abort("t1"))
	assert.False(t, b.IsCurrent("t1", token))

	v, _ := b.View("t1", 1)
	assert.Equal(t, models.StatusIdle, v.Tile.Status)
	assert.Equal(t, "prev", v.Display)

	// abort after finish does nothing
	token, _ = b.Begin("t1")
	require.True(t, b.Finish(Terminal{TileID: "t1", Outcome: OutcomeCompleted, Text: "fresh", ContextVersion: 1}, token))
	assert.False(t, b.Abort("t1"))
	v, _ = b.View("t1", 1)
	assert.Equal(t, models.StatusCompleted, v.Tile.Status)
	assert.Equal(t, "fresh", v.Display)
}

func TestBoardStaleTiles(t *testing.T) {
	b := NewBoard([]models.Tile{
		{ID: "b", Order: 1, LastRunContextVersion: 1, LastAnswer: "x"},
		{ID: "a", Order: 0, LastRunContextVersion: 0},
		{ID: "c", Order: 2, LastRunContextVersion: 2, LastAnswer: "y"},
	})

	var ids []string
	for _, tl := range b.StaleTiles(2) {
		ids = append(ids, tl.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)

	v, _ := b.View("b", 2)
	assert.True(t, v.UpdateAvailable)

	b.Begin("a")
	ids = nil
	for _, tl := range b.StaleTiles(2) {
		ids = append(ids, tl.ID)
	}
	assert.Equal(t, []string{"b"}, ids, "generating tiles are not offered again")
}

func TestBoardPutKeepsGeneration(t *testing.T) {
	b := NewBoard([]models.Tile{{ID: "a", Title: "A", BasePrompt: "p"}})
	token, ok := b.Begin("a")
	require.True(t, ok)
	b.Append("a", token, "par")

	b.Put(models.Tile{ID: "a", Title: "Renamed", BasePrompt: "p", Status: models.StatusIdle})
	v, _ := b.View("a", 1)
	assert.Equal(t, "Renamed", v.Tile.Title)
	assert.Equal(t, models.StatusLoading, v.Tile.Status)
	assert.Equal(t, "par", v.Display)
	assert.True(t, b.IsCurrent("a", token))

	b.Put(models.Tile{ID: "b", Title: "B"})
	_, ok = b.View("b", 1)
	assert.True(t, ok)
}
