package tile

import (
	"context"
	"fmt"

	"github.com/esnunes/prospector/internal/models"
)

type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeAborted:
		return "aborted"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

func (o Outcome) event() Event {
	switch o {
	case OutcomeCompleted:
		return EventComplete
	case OutcomeFailed:
		return EventFail
	}
	return EventAbort
}

// Terminal is the single event a generation attempt ends with.
type Terminal struct {
	TileID         string
	AttemptID      string
	ContextVersion int64 // captured when the attempt started
	Outcome        Outcome
	Text           string
	Err            error
}

// PatchFor returns the persisted update for a finished attempt. Only a
// completed attempt touches the answer, and it stamps the version captured
// at start rather than the one current at completion.
func PatchFor(t Terminal) models.TilePatch {
	status, _ := Transition(models.StatusLoading, t.Outcome.event())
	p := models.TilePatch{Status: &status}
	if t.Outcome == OutcomeCompleted {
		text := t.Text
		v := t.ContextVersion
		p.LastAnswer = &text
		p.LastRunContextVersion = &v
	}
	return p
}

// Apply mirrors p onto a local tile copy.
func Apply(t *models.Tile, p models.TilePatch) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.BasePrompt != nil {
		t.BasePrompt = *p.BasePrompt
	}
	if p.ExAnswer != nil {
		t.ExAnswer = *p.ExAnswer
	}
	if p.Order != nil {
		t.Order = *p.Order
	}
	if p.LastAnswer != nil {
		t.LastAnswer = *p.LastAnswer
	}
	if p.LastRunContextVersion != nil {
		t.LastRunContextVersion = *p.LastRunContextVersion
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.AttemptID != nil {
		t.AttemptID = *p.AttemptID
	}
}

// Store persists fenced tile updates. FinishAttempt must only write while
// attemptID is current and the tile is still loading.
type Store interface {
	FinishAttempt(ctx context.Context, id, attemptID string, p models.TilePatch) (bool, error)
}

// Finalizer decides what a terminal event persists. Guard, when set, is an
// additional in-memory fencing check run before the store write.
type Finalizer struct {
	Store Store
	Guard func(tileID, attemptID string) bool
}

// Finalize persists the outcome of t. It reports false, with no error, when
// the attempt was superseded or already finished and nothing was written.
func (f *Finalizer) Finalize(ctx context.Context, t Terminal) (bool, error) {
	if f.Guard != nil && !f.Guard(t.TileID, t.AttemptID) {
		return false, nil
	}
	ok, err := f.Store.FinishAttempt(ctx, t.TileID, t.AttemptID, PatchFor(t))
	if err != nil {
		return false, fmt.Errorf("finalizing tile %s: %w", t.TileID, err)
	}
	return ok, nil
}
